// Package graph builds the two-level dependency graph a pipeline run walks:
// an outer "requires" graph over pipeline tasks, and for each pipeline task,
// an inner "depends" closure that must run immediately before it. This is a
// direct translation of the source implementation's DependencyGraph/Node
// sort_graph() algorithm onto github.com/pyr-sh/dag, the graph library the
// pack's monorepo build tool uses for its own task graph.
package graph

import (
	"fmt"
	"sort"

	"github.com/pyr-sh/dag"

	"pipeflow/internal/pipeline"
	"pipeflow/internal/util"
)

// rootVertex is the synthetic source vertex for tasks with no Requires.
const rootVertex = "root"

// Segment is one unit of scheduling: an ordered depends-closure ending in
// PipelineTask, the task named in the outer requires graph. Tasks[:len-1]
// are the depends-chain that must complete, in order, before PipelineTask
// itself runs.
type Segment struct {
	Tasks        []string
	PipelineTask string
	Kind         pipeline.Kind
}

// DependencyGraph is the compiled, validated view of a task registry ready
// to be walked into segments.
type DependencyGraph struct {
	registry map[string]*pipeline.TaskKind
	requires *dag.AcyclicGraph
}

// New builds a DependencyGraph from a task registry, validating that both
// the Requires graph and every task's Depends closure are acyclic.
func New(registry map[string]*pipeline.TaskKind) (*DependencyGraph, error) {
	g := &DependencyGraph{
		registry: registry,
		requires: &dag.AcyclicGraph{},
	}

	g.requires.Add(rootVertex)
	for name := range registry {
		g.requires.Add(name)
	}

	for name, task := range registry {
		if len(task.Requires) == 0 {
			g.requires.Connect(dag.BasicEdge(rootVertex, name))
			continue
		}
		for _, req := range task.Requires {
			if _, ok := registry[req]; !ok {
				return nil, fmt.Errorf("task %q requires unknown task %q", name, req)
			}
			g.requires.Connect(dag.BasicEdge(req, name))
		}
	}

	if err := g.requires.Validate(); err != nil {
		return nil, fmt.Errorf("requires graph has a cycle: %w", err)
	}

	for name := range registry {
		if _, err := g.dependsClosure(name, make(util.Set)); err != nil {
			return nil, err
		}
	}

	return g, nil
}

// dependsClosure returns the topological order of name's Depends chain,
// ending with name itself, failing on a cycle.
func (g *DependencyGraph) dependsClosure(name string, visiting util.Set) ([]string, error) {
	if visiting.Includes(name) {
		return nil, fmt.Errorf("depends cycle detected at task %q", name)
	}
	visiting.Add(name)
	defer visiting.Delete(name)

	task, ok := g.registry[name]
	if !ok {
		return nil, fmt.Errorf("unknown task %q in depends chain", name)
	}

	order := make([]string, 0, len(task.Depends)+1)
	seen := make(util.Set)
	for _, dep := range task.Depends {
		if seen.Includes(dep.Name) {
			continue
		}
		seen.Add(dep.Name)

		depTask, ok := g.registry[dep.Name]
		if !ok {
			return nil, fmt.Errorf("unknown task %q in depends chain", dep.Name)
		}
		if depTask.Kind != task.Kind {
			return nil, fmt.Errorf("task %q (%s) depends on %q (%s): depends kind mismatch", name, task.Kind, dep.Name, depTask.Kind)
		}

		sub, err := g.dependsClosure(dep.Name, visiting)
		if err != nil {
			return nil, err
		}
		for _, s := range sub {
			if !seen.Includes(s) || s == sub[len(sub)-1] {
				order = appendUnique(order, s)
			}
		}
	}
	order = appendUnique(order, name)
	return order, nil
}

func appendUnique(list []string, v string) []string {
	for _, existing := range list {
		if existing == v {
			return list
		}
	}
	return append(list, v)
}

// Segments returns the full run plan: one Segment per pipeline task, in an
// order satisfying the outer Requires graph, each carrying its own ordered
// Depends closure. Ties in the outer graph are broken alphabetically by
// task name so plans are deterministic across runs. A task named in some
// other task's Depends and in no task's Requires is a dependency task: it
// runs only inside the closures that name it and gets no Segment of its own.
func (g *DependencyGraph) Segments() ([]*Segment, error) {
	order, err := g.topologicalOrder()
	if err != nil {
		return nil, err
	}

	dependencyOnly := make(util.Set)
	for _, task := range g.registry {
		for _, dep := range task.Depends {
			dependencyOnly.Add(dep.Name)
		}
	}
	for _, task := range g.registry {
		for _, req := range task.Requires {
			dependencyOnly.Delete(req)
		}
	}

	segments := make([]*Segment, 0, len(order))
	for _, name := range order {
		if dependencyOnly.Includes(name) {
			continue
		}
		closure, err := g.dependsClosure(name, make(util.Set))
		if err != nil {
			return nil, err
		}
		segments = append(segments, &Segment{
			Tasks:        closure,
			PipelineTask: name,
			Kind:         g.registry[name].Kind,
		})
	}
	return segments, nil
}

// topologicalOrder performs a deterministic Kahn sort of the requires
// graph's task vertices (rootVertex excluded from the result).
func (g *DependencyGraph) topologicalOrder() ([]string, error) {
	indegree := make(map[string]int, len(g.registry))
	dependents := make(map[string][]string, len(g.registry))

	for name := range g.registry {
		indegree[name] = 0
	}
	for name, task := range g.registry {
		reqs := task.Requires
		if len(reqs) == 0 {
			continue
		}
		indegree[name] = len(reqs)
		for _, req := range reqs {
			dependents[req] = append(dependents[req], name)
		}
	}

	var ready []string
	for name, deg := range indegree {
		if deg == 0 {
			ready = append(ready, name)
		}
	}
	sort.Strings(ready)

	order := make([]string, 0, len(g.registry))
	for len(ready) > 0 {
		next := ready[0]
		ready = ready[1:]
		order = append(order, next)

		children := append([]string(nil), dependents[next]...)
		sort.Strings(children)
		for _, child := range children {
			indegree[child]--
			if indegree[child] == 0 {
				ready = insertSorted(ready, child)
			}
		}
	}

	if len(order) != len(g.registry) {
		return nil, fmt.Errorf("requires graph has a cycle among: %v", remaining(indegree, order))
	}
	return order, nil
}

func insertSorted(sorted []string, v string) []string {
	i := sort.SearchStrings(sorted, v)
	sorted = append(sorted, "")
	copy(sorted[i+1:], sorted[i:])
	sorted[i] = v
	return sorted
}

func remaining(indegree map[string]int, done []string) []string {
	seen := util.SetFromStrings(done)
	var left []string
	for name := range indegree {
		if !seen.Includes(name) {
			left = append(left, name)
		}
	}
	sort.Strings(left)
	return left
}

// Dot renders the requires graph in Graphviz format, for diagnostics.
func (g *DependencyGraph) Dot() string {
	return string(g.requires.Dot(&dag.DotOpts{}))
}
