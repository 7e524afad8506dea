package executor

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pipeflow/internal/pipeline"
	"pipeflow/internal/resource"
)

func TestRunSkipsWhenGated(t *testing.T) {
	e := New(resource.NewGovernor(1, 1), nil)
	task := &pipeline.TaskKind{Name: "noop", Run: func(ctx *pipeline.RunContext) (pipeline.Outputs, error) {
		t.Fatal("skipped task must not run")
		return nil, nil
	}}
	result, err := e.Run(&pipeline.RunContext{RecordID: "r1"}, task, Gate{Skip: true})
	require.NoError(t, err)
	assert.Empty(t, result.Outputs)
}

func TestRunHonorsFalseCondition(t *testing.T) {
	e := New(resource.NewGovernor(1, 1), nil)
	ran := false
	task := &pipeline.TaskKind{
		Name:      "conditional",
		Condition: func(ctx *pipeline.RunContext) (bool, error) { return false, nil },
		Run: func(ctx *pipeline.RunContext) (pipeline.Outputs, error) {
			ran = true
			return pipeline.Outputs{}, nil
		},
	}
	_, err := e.Run(&pipeline.RunContext{RecordID: "r1"}, task, Gate{})
	require.NoError(t, err)
	assert.False(t, ran)
}

func TestRunValidatesPathOutputsExist(t *testing.T) {
	dir := t.TempDir()
	e := New(resource.NewGovernor(1, 1), nil)
	task := &pipeline.TaskKind{
		Name: "writes-nothing",
		Run: func(ctx *pipeline.RunContext) (pipeline.Outputs, error) {
			return pipeline.Outputs{"out": pipeline.Path(filepath.Join(dir, "never-written.txt"))}, nil
		},
	}
	_, err := e.Run(&pipeline.RunContext{RecordID: "r1", WorkDir: dir}, task, Gate{})
	require.Error(t, err)
	var setupErr *TaskSetupError
	assert.True(t, errors.As(err, &setupErr))
}

func TestRunSucceedsAndCarriesFinalLabels(t *testing.T) {
	dir := t.TempDir()
	outPath := filepath.Join(dir, "out.txt")
	require.NoError(t, os.WriteFile(outPath, []byte("x"), 0o644))

	e := New(resource.NewGovernor(1, 1), nil)
	task := &pipeline.TaskKind{
		Name:  "writer",
		Final: []string{"out"},
		Run: func(ctx *pipeline.RunContext) (pipeline.Outputs, error) {
			return pipeline.Outputs{"out": pipeline.Path(outPath)}, nil
		},
	}
	result, err := e.Run(&pipeline.RunContext{RecordID: "r1", WorkDir: dir}, task, Gate{})
	require.NoError(t, err)
	assert.Equal(t, []string{"out"}, result.Final)
	assert.Equal(t, pipeline.Path(outPath), result.Outputs["out"])
}

func TestRunSkipsActualRunWhenDeclaredOutputsAlreadyExist(t *testing.T) {
	dir := t.TempDir()
	outPath := filepath.Join(dir, "out.txt")
	require.NoError(t, os.WriteFile(outPath, []byte("cached"), 0o644))

	e := New(resource.NewGovernor(1, 1), nil)
	task := &pipeline.TaskKind{
		Name:  "cacheable",
		Final: []string{"out"},
		DeclaredOutputs: func(ctx *pipeline.RunContext) (pipeline.Outputs, error) {
			return pipeline.Outputs{"out": pipeline.Path(outPath)}, nil
		},
		Run: func(ctx *pipeline.RunContext) (pipeline.Outputs, error) {
			t.Fatal("cached task must not invoke Run")
			return nil, nil
		},
	}
	result, err := e.Run(&pipeline.RunContext{RecordID: "r1", WorkDir: dir}, task, Gate{})
	require.NoError(t, err)
	assert.Equal(t, pipeline.Path(outPath), result.Outputs["out"])
	assert.Equal(t, []string{"out"}, result.Final)
}

func TestRunInvokesRunWhenDeclaredOutputsAreMissing(t *testing.T) {
	dir := t.TempDir()
	outPath := filepath.Join(dir, "out.txt")

	e := New(resource.NewGovernor(1, 1), nil)
	ran := false
	task := &pipeline.TaskKind{
		Name: "not-yet-cached",
		DeclaredOutputs: func(ctx *pipeline.RunContext) (pipeline.Outputs, error) {
			return pipeline.Outputs{"out": pipeline.Path(outPath)}, nil
		},
		Run: func(ctx *pipeline.RunContext) (pipeline.Outputs, error) {
			ran = true
			require.NoError(t, os.WriteFile(outPath, []byte("fresh"), 0o644))
			return pipeline.Outputs{"out": pipeline.Path(outPath)}, nil
		},
	}
	_, err := e.Run(&pipeline.RunContext{RecordID: "r1", WorkDir: dir}, task, Gate{})
	require.NoError(t, err)
	assert.True(t, ran)
}

func TestRunSecondInvocationIsNoOpOnceOutputsExist(t *testing.T) {
	dir := t.TempDir()
	outPath := filepath.Join(dir, "out.txt")

	e := New(resource.NewGovernor(1, 1), nil)
	runs := 0
	task := &pipeline.TaskKind{
		Name: "idempotent",
		DeclaredOutputs: func(ctx *pipeline.RunContext) (pipeline.Outputs, error) {
			return pipeline.Outputs{"out": pipeline.Path(outPath)}, nil
		},
		Run: func(ctx *pipeline.RunContext) (pipeline.Outputs, error) {
			runs++
			return pipeline.Outputs{"out": pipeline.Path(outPath)}, os.WriteFile(outPath, []byte("x"), 0o644)
		},
	}
	runCtx := &pipeline.RunContext{RecordID: "r1", WorkDir: dir}
	_, err := e.Run(runCtx, task, Gate{})
	require.NoError(t, err)
	_, err = e.Run(runCtx, task, Gate{})
	require.NoError(t, err)
	assert.Equal(t, 1, runs)
}

func TestRunReturnsTypedVersionNotAvailableError(t *testing.T) {
	e := New(resource.NewGovernor(1, 1), nil)
	task := &pipeline.TaskKind{Name: "versioned", Probe: "version", Versions: []string{"99.99.99-does-not-exist"}}
	_, err := e.Run(&pipeline.RunContext{RecordID: "r1"}, task, Gate{Program: "go"})
	require.Error(t, err)
	var versionErr *VersionNotAvailableError
	assert.True(t, errors.As(err, &versionErr))
}

func TestRunWrapsTaskExecutionError(t *testing.T) {
	e := New(resource.NewGovernor(1, 1), nil)
	task := &pipeline.TaskKind{
		Name: "fails",
		Run: func(ctx *pipeline.RunContext) (pipeline.Outputs, error) {
			return nil, errors.New("boom")
		},
	}
	_, err := e.Run(&pipeline.RunContext{RecordID: "r1"}, task, Gate{})
	require.Error(t, err)
	var execErr *TaskExecutionError
	require.True(t, errors.As(err, &execErr))
	assert.Equal(t, "fails", execErr.Task)
}

func TestCheckVersionMatchesSubstring(t *testing.T) {
	task := &pipeline.TaskKind{Name: "t", Probe: "version", Versions: []string{"1.2"}}
	ok, out, err := CheckVersion("go", task)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NotEmpty(t, out)
}

func TestCheckVersionSkippedWhenNoVersionsDeclared(t *testing.T) {
	task := &pipeline.TaskKind{Name: "t"}
	ok, _, err := CheckVersion("definitely-not-a-real-program", task)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestCheckVersionRejectsUnlistedVersion(t *testing.T) {
	task := &pipeline.TaskKind{Name: "t", Probe: "version", Versions: []string{"99.99.99-does-not-exist"}}
	ok, _, err := CheckVersion("go", task)
	require.NoError(t, err)
	assert.False(t, ok)
}
