// Package executor runs a single TaskKind against a single record: gates
// it on skip/condition/version checks, acquires its projected resources
// from a resource.Governor, invokes its Run hook, and validates the
// resulting path outputs actually exist on disk. It is a line-by-line
// translation of yapim/tasks/task.py's run_task()/try_run() and
// yapim/tasks/task_chain_distributor.py's _run_task() resource-gating
// block into a single Go function, since Go has no class hierarchy to
// spread that logic across.
package executor

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	hclog "github.com/hashicorp/go-hclog"
	"github.com/pkg/errors"

	"pipeflow/internal/pipeline"
	"pipeflow/internal/resource"
)

// TaskSetupError wraps a problem with how a task was declared or
// configured, the Go analogue of yapim's TaskSetupError.
type TaskSetupError struct{ msg string }

func (e *TaskSetupError) Error() string { return e.msg }

// TaskExecutionError wraps a failure while a task's Run hook executed, the
// Go analogue of yapim's TaskExecutionError.
type TaskExecutionError struct {
	Task     string
	RecordID string
	Cause    error
}

func (e *TaskExecutionError) Error() string {
	return fmt.Sprintf("task %q (record %q): %v", e.Task, e.RecordID, e.Cause)
}

func (e *TaskExecutionError) Unwrap() error { return e.Cause }

// VersionNotAvailableError reports that a task declared acceptable Versions
// but the configured program's probed version matched none of them. Kept
// distinct from TaskSetupError so callers can tell "wrong program version"
// (an admission failure) apart from a malformed task/config (a setup
// failure) — yapim's run_task() folds both into one AttributeError subclass;
// this module splits them.
type VersionNotAvailableError struct {
	Task    string
	Program string
	Seen    string
	Want    []string
}

func (e *VersionNotAvailableError) Error() string {
	return fmt.Sprintf("task %q: program %q reported version %q, want one of %v",
		e.Task, e.Program, strings.TrimSpace(e.Seen), e.Want)
}

// Gate carries the per-record admission parameters derived from config:
// whether the task is configured to be skipped outright, and its
// projected thread/memory footprint.
type Gate struct {
	Skip    bool
	Threads int
	Memory  int
	// Program is the external binary configured for this task, checked
	// against task.Versions before the task is allowed to run.
	Program string
}

// Executor runs TaskKinds against a shared resource.Governor.
type Executor struct {
	Governor *resource.Governor
	Logger   hclog.Logger
}

// New builds an Executor.
func New(gov *resource.Governor, logger hclog.Logger) *Executor {
	return &Executor{Governor: gov, Logger: logger}
}

// Run gates, executes, and validates one task invocation for one record.
// Gates apply in order: skip config, condition hook, program version, then
// the declared-output existence check (CACHED) — only once all four pass
// does Run acquire resources and invoke task.Run.
func (e *Executor) Run(ctx *pipeline.RunContext, task *pipeline.TaskKind, gate Gate) (pipeline.TaskResult, error) {
	if gate.Skip {
		return pipeline.EmptyResult(ctx.RecordID, task.Name), nil
	}

	if task.HasCondition() {
		ok, err := task.Condition(ctx)
		if err != nil {
			return pipeline.TaskResult{}, &TaskExecutionError{Task: task.Name, RecordID: ctx.RecordID, Cause: errors.Wrap(err, "condition")}
		}
		if !ok {
			return pipeline.EmptyResult(ctx.RecordID, task.Name), nil
		}
	}

	if task.HasVersions() {
		ok, seen, err := CheckVersion(gate.Program, task)
		if err != nil {
			return pipeline.TaskResult{}, &TaskSetupError{msg: err.Error()}
		}
		if !ok {
			return pipeline.TaskResult{}, &VersionNotAvailableError{Task: task.Name, Program: gate.Program, Seen: seen, Want: task.Versions}
		}
	}

	if task.DeclaredOutputs != nil {
		declared, err := task.DeclaredOutputs(ctx)
		if err != nil {
			return pipeline.TaskResult{}, &TaskSetupError{msg: fmt.Sprintf("task %q: declared outputs: %v", task.Name, err)}
		}
		if allDeclaredOutputsExist(declared) {
			if e.Logger != nil {
				e.Logger.Info("task cached", "task", task.Name, "record", ctx.RecordID)
			}
			return pipeline.TaskResult{RecordID: ctx.RecordID, TaskName: task.Name, Outputs: declared, Final: task.Final}, nil
		}
	}

	e.Governor.Acquire(gate.Threads, gate.Memory)
	defer e.Governor.Release(gate.Threads, gate.Memory)

	if e.Logger != nil {
		e.Logger.Info("running task", "task", task.Name, "record", ctx.RecordID)
	}
	start := time.Now()

	outputs, runErr := task.Run(ctx)
	if runErr != nil {
		e.logFailure(ctx.WorkDir, runErr)
		return pipeline.TaskResult{}, &TaskExecutionError{Task: task.Name, RecordID: ctx.RecordID, Cause: runErr}
	}

	if e.Logger != nil {
		e.Logger.Info("task complete", "task", task.Name, "record", ctx.RecordID, "elapsed", time.Since(start))
	}

	if err := validateOutputs(task.Name, outputs); err != nil {
		return pipeline.TaskResult{}, err
	}

	return pipeline.TaskResult{
		RecordID: ctx.RecordID,
		TaskName: task.Name,
		Outputs:  outputs,
		Final:    task.Final,
	}, nil
}

// logFailure appends the error to task.err in the task's working
// directory, mirroring try_run()'s append-traceback-to-task.err behavior.
func (e *Executor) logFailure(workDir string, runErr error) {
	if workDir == "" {
		return
	}
	f, err := os.OpenFile(filepath.Join(workDir, "task.err"), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		if e.Logger != nil {
			e.Logger.Warn("could not open task.err", "error", err)
		}
		return
	}
	defer f.Close()
	fmt.Fprintln(f, runErr.Error())
}

// validateOutputs confirms every path-valued output actually exists,
// mirroring run_task()'s post-run completeness check.
func validateOutputs(taskName string, outputs pipeline.Outputs) error {
	for label, value := range outputs {
		if !value.IsPath() {
			continue
		}
		if _, err := os.Stat(value.Path); err != nil {
			return &TaskSetupError{msg: fmt.Sprintf("task %q: output %q path %q does not exist after run", taskName, label, value.Path)}
		}
	}
	return nil
}

// allDeclaredOutputsExist reports whether every path-valued entry in a
// task's declared output set already exists on disk, mirroring
// Task.set_is_complete(): at least one path-typed output must be present,
// and every one of them must exist, for the task to be considered already
// complete (an all-inline declared map, or an empty one, is never cached).
func allDeclaredOutputsExist(outputs pipeline.Outputs) bool {
	sawPath := false
	for _, value := range outputs {
		if !value.IsPath() {
			continue
		}
		sawPath = true
		if _, err := os.Stat(value.Path); err != nil {
			return false
		}
	}
	return sawPath
}

// CheckVersion invokes program with the task's configured probe flag and
// reports whether the output matches one of the acceptable versions.
// Matching is substring-based since version probes rarely print a bare
// version number (e.g. "samtools 1.15 (using htslib 1.15)").
func CheckVersion(program string, task *pipeline.TaskKind) (bool, string, error) {
	if !task.HasVersions() {
		return true, "", nil
	}
	probe := task.Probe
	if probe == "" {
		probe = "--version"
	}
	out, err := exec.Command(program, probe).CombinedOutput()
	if err != nil {
		return false, "", fmt.Errorf("executor: probing version of %q: %w", program, err)
	}
	text := string(out)
	for _, want := range task.Versions {
		if strings.Contains(text, want) {
			return true, text, nil
		}
	}
	return false, text, nil
}
