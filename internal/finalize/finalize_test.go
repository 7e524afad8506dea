package finalize

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pipeflow/internal/pipeline"
)

func TestFinalizeCopiesPathOutputsUnderSlugifiedRecordDir(t *testing.T) {
	srcDir := t.TempDir()
	resultsDir := t.TempDir()

	srcPath := filepath.Join(srcDir, "contigs.fa")
	require.NoError(t, os.WriteFile(srcPath, []byte(">seq\nAAAA"), 0o644))

	f := &Finalizer{ResultsDir: resultsDir, PipelineName: "assemble"}
	result := pipeline.TaskResult{
		RecordID: "Sample 01!",
		TaskName: "assembly",
		Outputs:  pipeline.Outputs{"contigs": pipeline.Path(srcPath)},
		Final:    []string{"contigs"},
	}

	out, err := f.Finalize(result)
	require.NoError(t, err)

	got, ok := out["contigs"]
	require.True(t, ok)
	require.True(t, got.IsPath())
	assert.FileExists(t, got.Path)
	assert.Contains(t, got.Path, filepath.Join(resultsDir, "assemble", "sample-01"))
	assert.Equal(t, "contigs.assembly.fa", filepath.Base(got.Path))
}

func TestFinalizePassesThroughInlineValues(t *testing.T) {
	f := &Finalizer{ResultsDir: t.TempDir(), PipelineName: "assemble"}
	result := pipeline.TaskResult{
		RecordID: "r1",
		TaskName: "stats",
		Outputs:  pipeline.Outputs{"n50": pipeline.Inline(1234)},
		Final:    []string{"n50"},
	}

	out, err := f.Finalize(result)
	require.NoError(t, err)
	assert.Equal(t, pipeline.Inline(1234), out["n50"])
}

func TestFinalizeReturnsEmptyMapWhenNoFinalLabels(t *testing.T) {
	f := &Finalizer{ResultsDir: t.TempDir(), PipelineName: "assemble"}
	out, err := f.Finalize(pipeline.TaskResult{RecordID: "r1", TaskName: "t"})
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestFinalizeErrorsWhenDeclaredLabelMissing(t *testing.T) {
	f := &Finalizer{ResultsDir: t.TempDir(), PipelineName: "assemble"}
	result := pipeline.TaskResult{
		RecordID: "r1",
		TaskName: "t",
		Outputs:  pipeline.Outputs{},
		Final:    []string{"missing"},
	}
	_, err := f.Finalize(result)
	assert.Error(t, err)
}
