// Package submit implements where a task's program actually runs: as a
// local subprocess, or submitted to a SLURM cluster and polled until it
// finishes. The local path's stdout/stderr capture follows the pack's
// monorepo build tool's per-task process handling in internal/run/run.go
// (StdoutPipe/StderrPipe merged into a line scanner); the cluster path is
// grounded on yapim/tasks/utils/slurm_caller.py's script-writing and
// polling loop.
package submit

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"math/rand"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"time"

	hclog "github.com/hashicorp/go-hclog"

	"pipeflow/internal/config"
)

// Job describes one program invocation a Runner must carry out.
type Job struct {
	// Command is the full argv, Command[0] the program to run.
	Command []string
	WorkDir string
	LogFile string
}

// Runner executes a Job to completion, either in-process or by submission
// to an external scheduler.
type Runner interface {
	Run(ctx context.Context, job Job) error
}

// LocalRunner runs a Job as a direct child process, merging stdout/stderr
// into a single log file line by line.
type LocalRunner struct {
	Logger hclog.Logger
}

// Run starts job.Command, streaming its combined output to job.LogFile.
func (r *LocalRunner) Run(ctx context.Context, job Job) error {
	if len(job.Command) == 0 {
		return fmt.Errorf("submit: job has no command")
	}

	cmd := exec.CommandContext(ctx, job.Command[0], job.Command[1:]...)
	cmd.Dir = job.WorkDir

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("submit: stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("submit: stderr pipe: %w", err)
	}

	if job.LogFile != "" {
		if err := os.MkdirAll(filepath.Dir(job.LogFile), 0o755); err != nil {
			return fmt.Errorf("submit: creating log dir: %w", err)
		}
	}
	logFile, err := os.Create(job.LogFile)
	if err != nil {
		return fmt.Errorf("submit: creating log file: %w", err)
	}
	defer logFile.Close()
	writer := bufio.NewWriter(logFile)
	defer writer.Flush()

	merged := io.MultiReader(stdout, stderr)
	scanner := bufio.NewScanner(merged)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("submit: starting %v: %w", job.Command, err)
	}

	for scanner.Scan() {
		fmt.Fprintln(writer, scanner.Text())
	}
	writer.Flush()

	if err := cmd.Wait(); err != nil {
		if r.Logger != nil {
			r.Logger.Error("task process failed", "command", job.Command, "error", err)
		}
		return fmt.Errorf("submit: %v: %w", job.Command, err)
	}
	return nil
}

// SlurmRunner submits a Job as a SLURM batch script and polls squeue-style
// status until the job finishes, matching SLURMCaller's launch-then-poll
// loop.
type SlurmRunner struct {
	Config     config.SlurmConfig
	NodeName   string
	Task       string
	Nodes      string
	Tasks      string
	Threads    int
	MemoryGB   int
	Time       string
	PollStatus func(jobID string) (bool, error) // reports whether jobID is still running
	Submit     func(scriptPath string) (jobID string, err error)

	statusCache    map[string]bool
	statusCachedAt time.Time
}

const scriptName = "slurm-runner.sh"

// Run writes a SLURM script for job.Command, submits it, and blocks until
// the scheduler reports it has finished.
func (r *SlurmRunner) Run(ctx context.Context, job Job) error {
	script := filepath.Join(job.WorkDir, scriptName)
	if err := r.writeScript(script, job); err != nil {
		return err
	}

	jobID, err := r.Submit(script)
	if err != nil {
		return fmt.Errorf("submit: sbatch %s: %w", script, err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		running, err := r.pollCached(jobID)
		if err != nil {
			return fmt.Errorf("submit: polling job %s: %w", jobID, err)
		}
		if !running {
			return nil
		}

		jitter := 47 + rand.Intn(11)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(jitter) * time.Second):
		}
	}
}

// pollCached reuses a status snapshot across calls within a 60-second
// window so a large batch of tasks waiting on the same cluster doesn't
// hammer the scheduler's status command once per task per poll tick.
func (r *SlurmRunner) pollCached(jobID string) (bool, error) {
	if r.statusCache != nil && time.Since(r.statusCachedAt) < 60*time.Second {
		if running, ok := r.statusCache[jobID]; ok {
			return running, nil
		}
	}
	running, err := r.PollStatus(jobID)
	if err != nil {
		return false, err
	}
	if r.statusCache == nil || time.Since(r.statusCachedAt) >= 60*time.Second {
		r.statusCache = make(map[string]bool)
		r.statusCachedAt = time.Now()
	}
	r.statusCache[jobID] = running
	return running, nil
}

func (r *SlurmRunner) writeScript(path string, job Job) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("submit: creating script %s: %w", path, err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	defer w.Flush()

	fmt.Fprintln(w, "#!/bin/bash")
	fmt.Fprintln(w)

	nodes := r.Nodes
	if nodes == "" {
		nodes = "1"
	}
	tasks := r.Tasks
	if tasks == "" {
		tasks = "1"
	}
	header(w, "--nodes", nodes)
	header(w, "--tasks", tasks)
	header(w, "--cpus-per-task", fmt.Sprintf("%d", r.Threads))
	header(w, "--mem", fmt.Sprintf("%dGB", r.MemoryGB))
	header(w, "--time", r.Time)

	flagKeys := make([]string, 0, len(r.Config.Flags))
	ignore := map[string]bool{"nodes": true, "ntasks": true, "mem": true, "user-id": true}
	for k := range r.Config.Flags {
		if !ignore[k] {
			flagKeys = append(flagKeys, k)
		}
	}
	sort.Strings(flagKeys)
	for _, k := range flagKeys {
		header(w, "--"+k, r.Config.Flags[k])
	}
	fmt.Fprintln(w)

	if r.Config.Header != "" {
		fmt.Fprintln(w, r.Config.Header)
		fmt.Fprintln(w)
	}

	fmt.Fprintln(w, shellJoin(job.Command))
	return w.Flush()
}

func header(w *bufio.Writer, param, value string) {
	fmt.Fprintf(w, "#SBATCH %s=%s\n", param, value)
}

func shellJoin(argv []string) string {
	out := ""
	for i, a := range argv {
		if i > 0 {
			out += " "
		}
		out += a
	}
	return out
}
