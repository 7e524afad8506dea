package runner

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pipeflow/internal/config"
	"pipeflow/internal/executor"
	"pipeflow/internal/finalize"
	"pipeflow/internal/graph"
	"pipeflow/internal/pipeline"
	"pipeflow/internal/registry"
	"pipeflow/internal/resource"
	"pipeflow/internal/store"
)

func newTestRunner(t *testing.T) (*Runner, *registry.Registry) {
	t.Helper()
	reg := registry.New()
	return &Runner{
		Registry:  reg,
		Config:    &config.Document{Tasks: map[string]config.TaskConfig{}},
		Store:     store.New(),
		Executor:  executor.New(resource.NewGovernor(4, 8), nil),
		Finalizer: &finalize.Finalizer{ResultsDir: t.TempDir(), PipelineName: "test"},
		BaseDir:   t.TempDir(),
	}, reg
}

func TestRunPerRecordSegmentFeedsRootInputWithNoDepends(t *testing.T) {
	r, reg := newTestRunner(t)
	var seenInput map[string]pipeline.OutputValue
	reg.MustRegister(&pipeline.TaskKind{
		Name: "align",
		Run: func(ctx *pipeline.RunContext) (pipeline.Outputs, error) {
			seenInput = ctx.Input
			return pipeline.Outputs{}, nil
		},
	})
	r.Config.Tasks["align"] = config.TaskConfig{Threads: 1, Memory: 1, Time: "00:01:00"}

	seg := &graph.Segment{Tasks: []string{"align"}, PipelineTask: "align", Kind: pipeline.PerRecord}
	root := map[string]pipeline.OutputValue{"input": pipeline.Path("/tmp/r1.fa")}

	require.NoError(t, r.RunPerRecordSegment("r1", seg, root))
	assert.Equal(t, root["input"], seenInput["input"])
}

// TestRunPerRecordSegmentAppliesTerminalCollectByToDependencyNode is
// scenario S3: a terminal task T requires U (an earlier segment's result,
// already in the store) and depends on D, declaring how to build D's own
// input from U's output. D's input must be built from T's CollectBy
// declaration, not D's own (D has none); T itself must still see the raw
// root input, unaffected by the declaration it made about D.
func TestRunPerRecordSegmentAppliesTerminalCollectByToDependencyNode(t *testing.T) {
	r, reg := newTestRunner(t)
	r.Store.Put(pipeline.TaskResult{
		RecordID: "r1", TaskName: "U",
		Outputs: pipeline.Outputs{"out": pipeline.Path("/tmp/u.txt")},
	})

	var dInput, tInput map[string]pipeline.OutputValue
	reg.MustRegister(&pipeline.TaskKind{
		Name: "D",
		Run: func(ctx *pipeline.RunContext) (pipeline.Outputs, error) {
			dInput = ctx.Input
			return pipeline.Outputs{}, nil
		},
	})
	reg.MustRegister(&pipeline.TaskKind{
		Name:     "T",
		Requires: []string{"U"},
		Depends: []pipeline.DependencySpec{{
			Name:      "D",
			CollectBy: map[string]pipeline.Rename{"U": pipeline.RenameFields(map[string]string{"out": "in"})},
		}},
		Run: func(ctx *pipeline.RunContext) (pipeline.Outputs, error) {
			tInput = ctx.Input
			return pipeline.Outputs{}, nil
		},
	})
	r.Config.Tasks["T"] = config.TaskConfig{
		Threads: 1, Memory: 1, Time: "00:01:00",
		Dependencies: map[string]config.TaskConfig{"D": {Threads: 1, Memory: 1, Time: "00:01:00"}},
	}

	seg := &graph.Segment{Tasks: []string{"D", "T"}, PipelineTask: "T", Kind: pipeline.PerRecord}
	root := map[string]pipeline.OutputValue{"input": pipeline.Path("/tmp/r1.fa")}
	require.NoError(t, r.RunPerRecordSegment("r1", seg, root))

	require.NotNil(t, dInput)
	assert.Equal(t, pipeline.Path("/tmp/u.txt"), dInput["in"])
	_, hasOut := dInput["out"]
	assert.False(t, hasOut)

	require.NotNil(t, tInput)
	assert.Equal(t, root["input"], tInput["input"])
}

func TestRunPerRecordSegmentErrorsWhenDependencyResultMissing(t *testing.T) {
	r, reg := newTestRunner(t)
	reg.MustRegister(&pipeline.TaskKind{
		Name: "index",
		Run:  func(ctx *pipeline.RunContext) (pipeline.Outputs, error) { return pipeline.Outputs{}, nil },
	})
	reg.MustRegister(&pipeline.TaskKind{
		Name: "align",
		Depends: []pipeline.DependencySpec{{
			Name:      "index",
			CollectBy: map[string]pipeline.Rename{"upstream": pipeline.RenameVerbatim("idx")},
		}},
		Run: func(ctx *pipeline.RunContext) (pipeline.Outputs, error) { return pipeline.Outputs{}, nil },
	})
	r.Config.Tasks["align"] = config.TaskConfig{
		Threads: 1, Memory: 1, Time: "00:01:00",
		Dependencies: map[string]config.TaskConfig{"index": {Threads: 1, Memory: 1, Time: "00:01:00"}},
	}

	seg := &graph.Segment{Tasks: []string{"index", "align"}, PipelineTask: "align", Kind: pipeline.PerRecord}
	err := r.RunPerRecordSegment("r1", seg, nil)
	assert.Error(t, err)
}

func TestRunPerRecordSegmentFinalizesDeclaredOutputs(t *testing.T) {
	r, reg := newTestRunner(t)
	srcDir := t.TempDir()
	srcPath := filepath.Join(srcDir, "out.txt")
	require.NoError(t, os.WriteFile(srcPath, []byte("hi"), 0o644))

	reg.MustRegister(&pipeline.TaskKind{
		Name:  "align",
		Final: []string{"alignment"},
		Run: func(ctx *pipeline.RunContext) (pipeline.Outputs, error) {
			return pipeline.Outputs{"alignment": pipeline.Path(srcPath)}, nil
		},
	})
	r.Config.Tasks["align"] = config.TaskConfig{Threads: 1, Memory: 1, Time: "00:01:00"}

	seg := &graph.Segment{Tasks: []string{"align"}, PipelineTask: "align", Kind: pipeline.PerRecord}
	require.NoError(t, r.RunPerRecordSegment("r1", seg, nil))

	final := r.Store.Finalized("r1")
	require.Contains(t, final, "alignment")
	assert.True(t, final["alignment"].IsPath())
}

func TestRunAggregateRemapReplacesRecordSet(t *testing.T) {
	r, reg := newTestRunner(t)
	r.Store.Put(pipeline.TaskResult{RecordID: "stale", TaskName: "align", Outputs: pipeline.Outputs{}})

	reg.MustRegister(&pipeline.TaskKind{
		Name: "merge",
		Kind: pipeline.Aggregate,
		Run: func(ctx *pipeline.RunContext) (pipeline.Outputs, error) {
			return pipeline.Outputs{}, nil
		},
		Deaggregate: func(ctx *pipeline.RunContext) (pipeline.DeaggregateResult, error) {
			return pipeline.DeaggregateResult{
				Remap: true,
				Results: map[string]map[string]pipeline.OutputValue{
					"merged": {"summary": pipeline.Inline("done")},
				},
			}, nil
		},
	})
	r.Config.Tasks["merge"] = config.TaskConfig{Threads: 1, Memory: 1, Time: "00:01:00"}

	seg := &graph.Segment{Tasks: []string{"merge"}, PipelineTask: "merge", Kind: pipeline.Aggregate}
	require.NoError(t, r.RunAggregate(seg))

	_, staleStillPresent := r.Store.Get("stale", "align")
	assert.False(t, staleStillPresent)
	result, ok := r.Store.Get("merged", "merge")
	require.True(t, ok)
	assert.Equal(t, pipeline.Inline("done"), result.Outputs["summary"])
}
