// Package runner drives one Segment (a depends-closure chain ending in a
// pipeline task) to completion: resolving each chain task's input,
// executing it, finalizing its outputs, and — for Aggregate segments —
// applying the resulting deaggregate remap/update to the RecordStore. It
// is the Go counterpart of yapim/tasks/task_chain_distributor.py's
// TaskChainDistributor, split out of the resource-gating concern (which
// lives in internal/resource) and the filesystem concern (internal/finalize).
package runner

import (
	"fmt"
	"path/filepath"

	hclog "github.com/hashicorp/go-hclog"

	"pipeflow/internal/config"
	"pipeflow/internal/executor"
	"pipeflow/internal/finalize"
	"pipeflow/internal/graph"
	"pipeflow/internal/pipeline"
	"pipeflow/internal/registry"
	"pipeflow/internal/store"
	"pipeflow/internal/util"
)

// Runner executes segments against a shared registry, config document,
// record store, executor, and finalizer.
type Runner struct {
	Registry  *registry.Registry
	Config    *config.Document
	Store     *store.RecordStore
	Executor  *executor.Executor
	Finalizer *finalize.Finalizer
	BaseDir   string
	Logger    hclog.Logger
}

// RunPerRecordSegment executes every task in seg.Tasks for one record, in
// order. The terminal (pipeline) task always runs against rootInput
// unchanged; every other task in its depends-chain gets its input built
// from the terminal task's own DependencySpec.CollectBy rules, matching
// TaskChainDistributor._update_distributed_input being driven solely by
// the top-level node's depends() declarations.
func (r *Runner) RunPerRecordSegment(recordID string, seg *graph.Segment, rootInput map[string]pipeline.OutputValue) error {
	terminal, ok := r.Registry.Get(seg.PipelineTask)
	if !ok {
		return fmt.Errorf("runner: unregistered pipeline task %q", seg.PipelineTask)
	}

	for i, taskName := range seg.Tasks {
		task, ok := r.Registry.Get(taskName)
		if !ok {
			return fmt.Errorf("runner: unregistered task %q in segment for %q", taskName, seg.PipelineTask)
		}

		scope := config.RootScope
		if i < len(seg.Tasks)-1 {
			scope = seg.PipelineTask
		}

		var input map[string]pipeline.OutputValue
		var err error
		if taskName == seg.PipelineTask {
			input = rootInput
		} else {
			input, err = r.resolveInput(recordID, terminal, taskName, rootInput)
			if err != nil {
				return err
			}
		}

		cfg, err := r.Config.Resolve(config.Address{Scope: scope, Name: taskName})
		if err != nil {
			return err
		}

		wdir := r.workDir(recordID, scope, taskName)
		ctx := &pipeline.RunContext{
			RecordID: recordID,
			Scope:    scope,
			WorkDir:  wdir,
			Input:    input,
		}

		result, err := r.Executor.Run(ctx, task, executor.Gate{Skip: cfg.Skip, Threads: cfg.Threads, Memory: cfg.Memory, Program: cfg.Program})
		if err != nil {
			return err
		}
		r.Store.Put(result)

		if err := r.finalizeResult(result); err != nil {
			return err
		}
	}
	return nil
}

// RunAggregate executes the single pipeline task of an Aggregate segment
// once over the entire current record set, then applies its Deaggregate
// hook's remap or update instructions to the RecordStore.
func (r *Runner) RunAggregate(seg *graph.Segment) error {
	task, ok := r.Registry.Get(seg.PipelineTask)
	if !ok {
		return fmt.Errorf("runner: unregistered aggregate task %q", seg.PipelineTask)
	}

	cfg, err := r.Config.Resolve(config.Address{Scope: config.RootScope, Name: seg.PipelineTask})
	if err != nil {
		return err
	}

	ctx := &pipeline.RunContext{
		Scope:      config.RootScope,
		WorkDir:    r.workDir("", config.RootScope, seg.PipelineTask),
		AllResults: r.Store.Snapshot(),
	}

	if _, err := r.Executor.Run(ctx, task, executor.Gate{Skip: cfg.Skip, Threads: cfg.Threads, Memory: cfg.Memory, Program: cfg.Program}); err != nil {
		return err
	}

	if task.Deaggregate == nil {
		return nil
	}
	dres, err := task.Deaggregate(ctx)
	if err != nil {
		return fmt.Errorf("runner: deaggregate for %q: %w", seg.PipelineTask, err)
	}
	return r.applyDeaggregate(seg.PipelineTask, task, dres)
}

func (r *Runner) applyDeaggregate(taskName string, task *pipeline.TaskKind, dres pipeline.DeaggregateResult) error {
	if dres.Remap {
		newResults := make(map[string]map[string]pipeline.TaskResult, len(dres.Results))
		for recordID, outputs := range dres.Results {
			newResults[recordID] = map[string]pipeline.TaskResult{
				taskName: {RecordID: recordID, TaskName: taskName, Outputs: outputs, Final: task.Final},
			}
		}
		r.Store.Remap(newResults)
	} else {
		for recordID, outputs := range dres.Results {
			r.Store.EnsureRecord(recordID)
			r.Store.Put(pipeline.TaskResult{RecordID: recordID, TaskName: taskName, Outputs: outputs, Final: task.Final})
		}
	}

	for recordID := range dres.Results {
		result, _ := r.Store.Get(recordID, taskName)
		if err := r.finalizeResult(result); err != nil {
			return err
		}
	}
	return nil
}

func (r *Runner) finalizeResult(result pipeline.TaskResult) error {
	finalOut, err := r.Finalizer.Finalize(result)
	if err != nil {
		return err
	}
	for label, val := range finalOut {
		r.Store.PutFinal(result.RecordID, label, val)
	}
	return nil
}

// resolveInput builds the input map for one non-terminal task (taskName)
// in terminal's depends-chain, for one record. The rules come from
// whichever of terminal.Depends names taskName: a missing entry, or one
// with a nil CollectBy, inherits the record's current root input
// unchanged; otherwise the input is built by collecting named labels
// (renamed or verbatim) out of the listed sources' already-stored results.
// This matches TaskChainDistributor._update_distributed_input, which is
// driven only by the chain's top-level (terminal) node's own depends()
// declarations, never by a dependency node's own depends().
func (r *Runner) resolveInput(recordID string, terminal *pipeline.TaskKind, taskName string, rootInput map[string]pipeline.OutputValue) (map[string]pipeline.OutputValue, error) {
	var spec *pipeline.DependencySpec
	for i := range terminal.Depends {
		if terminal.Depends[i].Name == taskName {
			spec = &terminal.Depends[i]
			break
		}
	}
	if spec == nil || spec.CollectBy == nil {
		return rootInput, nil
	}

	out := make(map[string]pipeline.OutputValue)
	for source, rename := range spec.CollectBy {
		var src map[string]pipeline.OutputValue
		if source == pipeline.RootSource {
			src = rootInput
		} else {
			result, ok := r.Store.Get(recordID, source)
			if !ok {
				return nil, fmt.Errorf("runner: task %q depends on %q, which has no result yet for record %q", taskName, source, recordID)
			}
			src = result.Outputs
		}
		for _, label := range rename.Verbatim {
			v, ok := src[label]
			if !ok {
				return nil, fmt.Errorf("runner: task %q: source %q has no output %q", taskName, source, label)
			}
			out[label] = v
		}
		for from, to := range rename.FieldMap {
			v, ok := src[from]
			if !ok {
				return nil, fmt.Errorf("runner: task %q: source %q has no output %q", taskName, source, from)
			}
			out[to] = v
		}
	}
	return out, nil
}

// workDir computes a task's working directory from its scope-qualified
// identifier (see internal/util.TaskID): <BaseDir>/<recordID>/<scope#name>,
// or <BaseDir>/<scope#name> for aggregate tasks that have no record ID.
func (r *Runner) workDir(recordID, scope, taskName string) string {
	id := util.TaskID(scope, taskName)
	if recordID == "" {
		return filepath.Join(r.BaseDir, id)
	}
	return filepath.Join(r.BaseDir, recordID, id)
}
