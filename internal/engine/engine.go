// Package engine is the top-level driver of a pipeline run: it seeds the
// record store from the loader's input, compiles the task registry into a
// dependency graph, slices that graph's segments at Aggregate boundaries,
// and walks the resulting groups — bounded-concurrency per-record fan-out
// for PerRecord groups, a single synchronous call for each Aggregate
// barrier. Concurrency bounding follows the source implementation's
// Executor.run()/_get_max_resources_in_batch formula, implemented here
// with golang.org/x/sync/errgroup (the same bounded worker-pool primitive
// the pack's monorepo build tool uses for package-level work), rather than
// plain goroutines over an unbounded channel.
package engine

import (
	"fmt"

	hclog "github.com/hashicorp/go-hclog"
	"golang.org/x/sync/errgroup"

	"pipeflow/internal/catalog"
	"pipeflow/internal/config"
	"pipeflow/internal/graph"
	"pipeflow/internal/pipeline"
	"pipeflow/internal/registry"
	"pipeflow/internal/resource"
	"pipeflow/internal/runner"
	"pipeflow/internal/store"
)

// hardWorkerCap bounds the worker pool regardless of how generous the
// configured resource ceilings are, mirroring Executor._get_max_resources_in_batch's
// literal 64 ceiling.
const hardWorkerCap = 64

// Engine drives a complete pipeline run.
type Engine struct {
	Registry     *registry.Registry
	Config       *config.Document
	Store        *store.RecordStore
	Runner       *runner.Runner
	Governor     *resource.Governor
	Logger       hclog.Logger
	PipelineName string
	CatalogPath  string

	rootInputs map[string]map[string]pipeline.OutputValue
}

// New builds an Engine from its collaborators.
func New(reg *registry.Registry, cfg *config.Document, st *store.RecordStore, run *runner.Runner, gov *resource.Governor, logger hclog.Logger) *Engine {
	return &Engine{
		Registry: reg,
		Config:   cfg,
		Store:    st,
		Runner:   run,
		Governor: gov,
		Logger:   logger,
	}
}

// group is a contiguous run of segments sharing a kind: either every
// PerRecord segment between two barriers, or a single Aggregate segment.
type group struct {
	kind     pipeline.Kind
	segments []*graph.Segment
}

// Run seeds the store from the loaded input, then walks the compiled
// segment plan to completion, writing the run's catalog at the end.
func (e *Engine) Run(input map[string]map[string]pipeline.OutputValue) error {
	e.rootInputs = input
	for recordID, outputs := range input {
		e.Store.EnsureRecord(recordID)
		e.Store.Put(pipeline.TaskResult{RecordID: recordID, TaskName: pipeline.RootSource, Outputs: outputs})
	}

	if err := e.Registry.Validate(); err != nil {
		return err
	}
	g, err := graph.New(e.Registry.All())
	if err != nil {
		return fmt.Errorf("engine: compiling dependency graph: %w", err)
	}
	segments, err := g.Segments()
	if err != nil {
		return fmt.Errorf("engine: resolving segments: %w", err)
	}

	for _, grp := range groupSegments(segments) {
		if grp.kind == pipeline.Aggregate {
			seg := grp.segments[0]
			if e.Logger != nil {
				e.Logger.Info("running aggregate barrier", "task", seg.PipelineTask)
			}
			if err := e.Runner.RunAggregate(seg); err != nil {
				return err
			}
			continue
		}
		if err := e.runPerRecordGroup(grp.segments); err != nil {
			return err
		}
	}

	if e.CatalogPath == "" {
		return nil
	}
	return e.writeCatalog()
}

func (e *Engine) runPerRecordGroup(segments []*graph.Segment) error {
	workers := resource.MaxWorkers(
		e.Config.Global.MaxThreads, e.Config.Global.MaxMemory,
		e.minFootprint(segments), e.minMemoryFootprint(segments),
		hardWorkerCap,
	)

	var eg errgroup.Group
	eg.SetLimit(workers)

	for _, recordID := range e.Store.RecordIDs() {
		recordID := recordID
		rootInput := e.rootInputs[recordID]
		eg.Go(func() error {
			for _, seg := range segments {
				if err := e.Runner.RunPerRecordSegment(recordID, seg, rootInput); err != nil {
					return fmt.Errorf("engine: record %q: %w", recordID, err)
				}
			}
			return nil
		})
	}
	return eg.Wait()
}

// minFootprint returns the smallest single-task thread/memory requirement
// across a group's tasks, the denominator in Executor._get_max_resources_in_batch's
// worker-count formula (the pool must never admit more concurrent records
// than the tightest task in the group could support).
func (e *Engine) minFootprint(segments []*graph.Segment) int {
	min := 0
	for _, seg := range segments {
		for i, taskName := range seg.Tasks {
			addr := config.Address{Scope: config.RootScope, Name: taskName}
			if i < len(seg.Tasks)-1 {
				addr = config.Address{Scope: seg.PipelineTask, Name: taskName}
			}
			cfg, err := e.Config.Resolve(addr)
			if err != nil {
				continue
			}
			if cfg.Threads > 0 && (min == 0 || cfg.Threads < min) {
				min = cfg.Threads
			}
		}
	}
	if min == 0 {
		min = 1
	}
	return min
}

// minMemoryFootprint is minFootprint's memory-denominator counterpart: the
// smallest single-task memory requirement across a group's tasks, used as
// Executor._get_max_resources_in_batch's memory-side denominator instead of
// reusing the thread-side minimum.
func (e *Engine) minMemoryFootprint(segments []*graph.Segment) int {
	min := 0
	for _, seg := range segments {
		for i, taskName := range seg.Tasks {
			addr := config.Address{Scope: config.RootScope, Name: taskName}
			if i < len(seg.Tasks)-1 {
				addr = config.Address{Scope: seg.PipelineTask, Name: taskName}
			}
			cfg, err := e.Config.Resolve(addr)
			if err != nil {
				continue
			}
			if cfg.Memory > 0 && (min == 0 || cfg.Memory < min) {
				min = cfg.Memory
			}
		}
	}
	if min == 0 {
		min = 1
	}
	return min
}

func (e *Engine) writeCatalog() error {
	cat := catalog.Catalog{}
	for _, recordID := range e.Store.RecordIDs() {
		cat[recordID] = e.Store.Finalized(recordID)
	}
	if err := catalog.Write(e.CatalogPath, cat); err != nil {
		return fmt.Errorf("engine: writing catalog: %w", err)
	}
	return nil
}

// groupSegments slices an ordered segment plan into contiguous PerRecord
// runs separated by single-segment Aggregate barriers.
func groupSegments(segments []*graph.Segment) []group {
	var groups []group
	var current []*graph.Segment

	flush := func() {
		if len(current) > 0 {
			groups = append(groups, group{kind: pipeline.PerRecord, segments: current})
			current = nil
		}
	}

	for _, seg := range segments {
		if seg.Kind == pipeline.Aggregate {
			flush()
			groups = append(groups, group{kind: pipeline.Aggregate, segments: []*graph.Segment{seg}})
			continue
		}
		current = append(current, seg)
	}
	flush()
	return groups
}
