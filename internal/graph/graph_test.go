package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pipeflow/internal/pipeline"
)

func noopRun(ctx *pipeline.RunContext) (pipeline.Outputs, error) { return pipeline.Outputs{}, nil }

func TestSegmentsOrdersByRequiresAndCarriesDependsClosure(t *testing.T) {
	registry := map[string]*pipeline.TaskKind{
		"index": {Name: "index", Kind: pipeline.PerRecord, Run: noopRun},
		"align": {
			Name: "align", Kind: pipeline.PerRecord,
			Depends: []pipeline.DependencySpec{{Name: "index"}},
			Run:     noopRun,
		},
		"annotate": {
			Name: "annotate", Kind: pipeline.PerRecord,
			Requires: []string{"align"},
			Run:      noopRun,
		},
	}

	g, err := New(registry)
	require.NoError(t, err)

	segments, err := g.Segments()
	require.NoError(t, err)
	require.Len(t, segments, 2)

	names := []string{segments[0].PipelineTask, segments[1].PipelineTask}
	assert.Equal(t, []string{"align", "annotate"}, names)

	assert.Equal(t, []string{"index", "align"}, segments[0].Tasks)
	assert.Equal(t, []string{"annotate"}, segments[1].Tasks)
}

func TestSegmentsDeterministicTieBreak(t *testing.T) {
	registry := map[string]*pipeline.TaskKind{
		"b": {Name: "b", Kind: pipeline.PerRecord, Run: noopRun},
		"a": {Name: "a", Kind: pipeline.PerRecord, Run: noopRun},
		"c": {Name: "c", Kind: pipeline.PerRecord, Run: noopRun},
	}
	g, err := New(registry)
	require.NoError(t, err)

	segments, err := g.Segments()
	require.NoError(t, err)
	require.Len(t, segments, 3)

	var order []string
	for _, s := range segments {
		order = append(order, s.PipelineTask)
	}
	assert.Equal(t, []string{"a", "b", "c"}, order)
}

func TestNewRejectsUnknownRequires(t *testing.T) {
	registry := map[string]*pipeline.TaskKind{
		"align": {Name: "align", Kind: pipeline.PerRecord, Requires: []string{"ghost"}, Run: noopRun},
	}
	_, err := New(registry)
	assert.Error(t, err)
}

func TestNewRejectsRequiresCycle(t *testing.T) {
	registry := map[string]*pipeline.TaskKind{
		"a": {Name: "a", Kind: pipeline.PerRecord, Requires: []string{"b"}, Run: noopRun},
		"b": {Name: "b", Kind: pipeline.PerRecord, Requires: []string{"a"}, Run: noopRun},
	}
	_, err := New(registry)
	assert.Error(t, err)
}

func TestNewRejectsDependsCycle(t *testing.T) {
	registry := map[string]*pipeline.TaskKind{
		"a": {Name: "a", Kind: pipeline.PerRecord, Depends: []pipeline.DependencySpec{{Name: "b"}}, Run: noopRun},
		"b": {Name: "b", Kind: pipeline.PerRecord, Depends: []pipeline.DependencySpec{{Name: "a"}}, Run: noopRun},
	}
	_, err := New(registry)
	assert.Error(t, err)
}

func TestNewRejectsDependsKindMismatch(t *testing.T) {
	registry := map[string]*pipeline.TaskKind{
		"merge": {
			Name: "merge", Kind: pipeline.Aggregate,
			Depends: []pipeline.DependencySpec{{Name: "index"}},
			Run:     noopRun,
			Deaggregate: func(ctx *pipeline.RunContext) (pipeline.DeaggregateResult, error) {
				return pipeline.DeaggregateResult{}, nil
			},
		},
		"index": {Name: "index", Kind: pipeline.PerRecord, Run: noopRun},
	}
	_, err := New(registry)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "kind mismatch")
}

func TestDotRendersVertices(t *testing.T) {
	registry := map[string]*pipeline.TaskKind{
		"a": {Name: "a", Kind: pipeline.PerRecord, Run: noopRun},
	}
	g, err := New(registry)
	require.NoError(t, err)
	assert.Contains(t, g.Dot(), "a")
}
