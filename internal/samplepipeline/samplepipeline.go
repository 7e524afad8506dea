// Package samplepipeline registers a small, runnable pipeline exercising
// every scheduling shape the engine supports: a dependency-chain task
// ("index") feeding a per-record pipeline task ("align") via CollectBy, a
// condition-gated task ("annotate") that only runs for records whose input
// matches a predicate, and an Aggregate barrier ("summarize") that folds
// every record's results into one combined report. It stands in for the
// pipeline authors' own task definitions (yapim pipelines like
// EukMetaSanity ship dozens of these against real bioinformatics tools);
// this one uses only file I/O plus sh and tr (run by "align") so the
// binary is runnable with nothing beyond coreutils installed.
package samplepipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"pipeflow/internal/pipeline"
	"pipeflow/internal/registry"
	"pipeflow/internal/submit"
)

// Name identifies this pipeline in results directories and catalog paths.
const Name = "sample"

// Version is reported by the CLI's --version flag.
const Version = "0.1.0"

// Registry builds the task registry for this pipeline.
func Registry() *registry.Registry {
	reg := registry.New()
	reg.MustRegister(indexTask())
	reg.MustRegister(alignTask())
	reg.MustRegister(annotateTask())
	reg.MustRegister(summarizeTask())
	return reg
}

func indexTask() *pipeline.TaskKind {
	return &pipeline.TaskKind{
		Name: "index",
		Kind: pipeline.PerRecord,
		DeclaredOutputs: func(ctx *pipeline.RunContext) (pipeline.Outputs, error) {
			return pipeline.Outputs{"index": pipeline.Path(filepath.Join(ctx.WorkDir, "index.txt"))}, nil
		},
		Run: func(ctx *pipeline.RunContext) (pipeline.Outputs, error) {
			input, ok := ctx.Input["input"]
			if !ok {
				return nil, fmt.Errorf("index: no input file provided")
			}
			if err := os.MkdirAll(ctx.WorkDir, 0o755); err != nil {
				return nil, err
			}
			indexPath := filepath.Join(ctx.WorkDir, "index.txt")
			size, err := fileSize(input.Path)
			if err != nil {
				return nil, err
			}
			if err := os.WriteFile(indexPath, []byte(fmt.Sprintf("%s\t%d\n", input.Path, size)), 0o644); err != nil {
				return nil, err
			}
			return pipeline.Outputs{"index": pipeline.Path(indexPath)}, nil
		},
	}
}

func alignTask() *pipeline.TaskKind {
	return &pipeline.TaskKind{
		Name:     "align",
		Kind:     pipeline.PerRecord,
		Requires: nil,
		// This declares how to build the "index" dependency task's own
		// input (just the root "input" label, verbatim) — align itself,
		// as the chain's terminal task, always runs against the segment's
		// raw root input regardless of this declaration.
		Depends: []pipeline.DependencySpec{
			{Name: "index", CollectBy: map[string]pipeline.Rename{
				pipeline.RootSource: pipeline.RenameVerbatim("input"),
			}},
		},
		Final: []string{"alignment"},
		DeclaredOutputs: func(ctx *pipeline.RunContext) (pipeline.Outputs, error) {
			return pipeline.Outputs{"alignment": pipeline.Path(filepath.Join(ctx.WorkDir, "alignment.txt"))}, nil
		},
		Run: func(ctx *pipeline.RunContext) (pipeline.Outputs, error) {
			input, ok := ctx.Input["input"]
			if !ok {
				return nil, fmt.Errorf("align: no input file provided")
			}
			if err := os.MkdirAll(ctx.WorkDir, 0o755); err != nil {
				return nil, err
			}
			alignPath := filepath.Join(ctx.WorkDir, "alignment.txt")
			// A real pipeline task shells out to an external aligner here;
			// "tr" stands in so the sample pipeline runs with nothing
			// beyond coreutils installed. submit.LocalRunner owns process
			// spawning and combined stdout/stderr capture either way.
			runner := &submit.LocalRunner{}
			job := submit.Job{
				Command: []string{"sh", "-c", fmt.Sprintf("tr a-z A-Z < %q > %q", input.Path, alignPath)},
				WorkDir: ctx.WorkDir,
				LogFile: filepath.Join(ctx.WorkDir, "align.log"),
			}
			if err := runner.Run(context.Background(), job); err != nil {
				return nil, fmt.Errorf("align: %w", err)
			}
			return pipeline.Outputs{"alignment": pipeline.Path(alignPath)}, nil
		},
	}
}

func annotateTask() *pipeline.TaskKind {
	return &pipeline.TaskKind{
		Name:     "annotate",
		Kind:     pipeline.PerRecord,
		Requires: []string{"align"},
		Final:    []string{"annotation"},
		Condition: func(ctx *pipeline.RunContext) (bool, error) {
			input, ok := ctx.Input["input"]
			return ok && strings.HasSuffix(input.Path, ".fa"), nil
		},
		DeclaredOutputs: func(ctx *pipeline.RunContext) (pipeline.Outputs, error) {
			return pipeline.Outputs{"annotation": pipeline.Path(filepath.Join(ctx.WorkDir, "annotation.txt"))}, nil
		},
		Run: func(ctx *pipeline.RunContext) (pipeline.Outputs, error) {
			if err := os.MkdirAll(ctx.WorkDir, 0o755); err != nil {
				return nil, err
			}
			annotationPath := filepath.Join(ctx.WorkDir, "annotation.txt")
			if err := os.WriteFile(annotationPath, []byte("annotated\n"), 0o644); err != nil {
				return nil, err
			}
			return pipeline.Outputs{"annotation": pipeline.Path(annotationPath)}, nil
		},
	}
}

func summarizeTask() *pipeline.TaskKind {
	return &pipeline.TaskKind{
		Name:     "summarize",
		Kind:     pipeline.Aggregate,
		Requires: []string{"annotate"},
		Run: func(ctx *pipeline.RunContext) (pipeline.Outputs, error) {
			if err := os.MkdirAll(ctx.WorkDir, 0o755); err != nil {
				return nil, err
			}
			reportPath := filepath.Join(ctx.WorkDir, "summary.txt")
			ids := make([]string, 0, len(ctx.AllResults))
			for id := range ctx.AllResults {
				ids = append(ids, id)
			}
			sort.Strings(ids)
			if err := os.WriteFile(reportPath, []byte(strings.Join(ids, "\n")+"\n"), 0o644); err != nil {
				return nil, err
			}
			return pipeline.Outputs{"report": pipeline.Path(reportPath)}, nil
		},
		Deaggregate: func(ctx *pipeline.RunContext) (pipeline.DeaggregateResult, error) {
			results := make(map[string]map[string]pipeline.OutputValue, len(ctx.AllResults))
			for recordID, tasks := range ctx.AllResults {
				if align, ok := tasks["align"]; ok {
					results[recordID] = map[string]pipeline.OutputValue{
						"alignment": align.Outputs["alignment"],
					}
				}
			}
			return pipeline.DeaggregateResult{Remap: false, Results: results}, nil
		},
	}
}

func fileSize(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}
