// Package registry collects the TaskKind blueprints a pipeline author
// registers before a run, the Go analogue of the source implementation's
// dynamic plugin discovery (yapim discovers Task subclasses by import;
// here a pipeline author calls Registry.Register explicitly, matching how
// the pack's monorepo build tool's scheduler is built up via AddTask/AddDep
// calls rather than reflection).
package registry

import (
	"fmt"
	"sort"

	"pipeflow/internal/pipeline"
)

// Registry is the set of TaskKinds known to a pipeline run.
type Registry struct {
	tasks map[string]*pipeline.TaskKind
}

// New builds an empty Registry.
func New() *Registry {
	return &Registry{tasks: make(map[string]*pipeline.TaskKind)}
}

// Register adds a TaskKind, rejecting an empty or duplicate name, a missing
// Run hook, and an Aggregate task without a Deaggregate hook. Requires and
// Depends references are not checked here (a task may name one registered
// later); Validate checks them once every task is registered.
func (r *Registry) Register(task *pipeline.TaskKind) error {
	if task.Name == "" {
		return fmt.Errorf("registry: task has no name")
	}
	if _, exists := r.tasks[task.Name]; exists {
		return fmt.Errorf("registry: task %q already registered", task.Name)
	}
	if task.Run == nil {
		return fmt.Errorf("registry: task %q has no Run hook", task.Name)
	}
	if task.Kind == pipeline.Aggregate && task.Run != nil && task.Deaggregate == nil {
		return fmt.Errorf("registry: aggregate task %q has no Deaggregate hook", task.Name)
	}
	r.tasks[task.Name] = task
	return nil
}

// MustRegister panics on a registration error; intended for package-level
// init-time registration where a failure is a programming error.
func (r *Registry) MustRegister(task *pipeline.TaskKind) {
	if err := r.Register(task); err != nil {
		panic(err)
	}
}

// Get returns the named TaskKind.
func (r *Registry) Get(name string) (*pipeline.TaskKind, bool) {
	t, ok := r.tasks[name]
	return t, ok
}

// All returns a copy of the registry's backing map, suitable for handing to
// internal/graph.New.
func (r *Registry) All() map[string]*pipeline.TaskKind {
	out := make(map[string]*pipeline.TaskKind, len(r.tasks))
	for k, v := range r.tasks {
		out[k] = v
	}
	return out
}

// Names returns every registered task name, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.tasks))
	for k := range r.tasks {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Validate checks that every Requires and Depends reference in the
// registry points at a registered task.
func (r *Registry) Validate() error {
	for name, task := range r.tasks {
		for _, req := range task.Requires {
			if _, ok := r.tasks[req]; !ok {
				return fmt.Errorf("registry: task %q requires unregistered task %q", name, req)
			}
		}
		for _, dep := range task.Depends {
			if _, ok := r.tasks[dep.Name]; !ok {
				return fmt.Errorf("registry: task %q depends on unregistered task %q", name, dep.Name)
			}
		}
	}
	return nil
}
