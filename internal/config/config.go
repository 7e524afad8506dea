// Package config models the logical shape of a pipeline configuration
// document: global resource ceilings, input protocol settings, SLURM
// submission defaults, and one TaskConfig per pipeline task (with nested
// dependency-task configs). It knows nothing about YAML; parsing a file
// into a Document lives in internal/configdoc, matching SPEC_FULL.md's
// split between the config's logical shape and its on-disk format.
//
// The field names and validation rules are grounded directly on the source
// implementation's ConfigManager (see yapim/utils/config_manager.py):
// required GLOBAL/INPUT/SLURM sections, per-task threads/memory/time
// requirements, and the "skip" escape hatch that exempts a task from
// resource validation entirely.
package config

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"

	"github.com/hashicorp/go-multierror"
)

// RootScope is the config address for top-level pipeline tasks, mirroring
// ConfigManager.ROOT.
const RootScope = "root"

// GlobalConfig holds the pipeline-wide resource ceilings every task's
// projected usage is checked against.
type GlobalConfig struct {
	MaxThreads int
	MaxMemory  int
}

// InputConfig holds the settings the record loader uses to discover and
// group input files into records.
type InputConfig struct {
	Root      string
	Extension string
	Recursive bool
	// Protocol names the input-resolution strategy: "catalog" re-imports
	// collaborator catalogs, any other value scans Root as a directory;
	// see internal/loader.
	Protocol string
	// Sources configures a "catalog" protocol run: one entry per
	// collaborator pipeline whose finalized output this run re-imports.
	Sources []CatalogSource
}

// CatalogSource describes one collaborator pipeline's catalog to re-import,
// mirroring the INPUT section formats yapim's ExistingInputLoader accepts.
// CatalogPath may be a local filesystem path or an http(s) URL; see
// internal/loader.CatalogLoader.
type CatalogSource struct {
	PipelineName string
	CatalogPath  string
	All          bool
	Labels       []string
	Rename       map[string]string // toLabel -> fromLabel
}

// SlurmConfig holds cluster submission defaults shared by every task that
// opts into cluster execution.
type SlurmConfig struct {
	UserID string
	Header string
	// Flags are passed through to sbatch verbatim, key without the
	// leading "--".
	Flags map[string]string
}

// TaskConfig is one task's (or dependency task's) configuration section.
type TaskConfig struct {
	Threads      int
	Memory       int
	Time         string
	Program      string
	Flags        string
	Data         string
	Skip         bool
	UseCluster   bool
	Dependencies map[string]TaskConfig
}

// DataPaths splits the Data field into individual whitespace-delimited
// tokens, the same convention ConfigManager.flags_to_list applies to
// FLAGS and DATA sections.
func (t TaskConfig) DataPaths() []string {
	return splitFlags(t.Data)
}

// FlagList splits the Flags field into an argv-style slice.
func (t TaskConfig) FlagList() []string {
	return splitFlags(t.Flags)
}

func splitFlags(s string) []string {
	if s == "" {
		return nil
	}
	fields := strings.Fields(s)
	out := make([]string, 0, len(fields))
	out = append(out, fields...)
	return out
}

// Document is a fully parsed configuration file.
type Document struct {
	Global GlobalConfig
	Input  InputConfig
	Slurm  SlurmConfig
	Tasks  map[string]TaskConfig
}

// Address identifies a task's config section: either a top-level task
// (Scope == RootScope) or a dependency task nested under another task's
// Dependencies map (Scope == the parent task's name).
type Address struct {
	Scope string
	Name  string
}

// Resolve returns the TaskConfig at addr, with Threads, Memory, Time, and
// Data inherited from the parent scope when left unset — the Go equivalent of
// ConfigManager.find()'s walk up to parent_info() when a key is absent
// from the task's own section.
func (d *Document) Resolve(addr Address) (TaskConfig, error) {
	if addr.Scope == RootScope {
		cfg, ok := d.Tasks[addr.Name]
		if !ok {
			return TaskConfig{}, fmt.Errorf("config: no section for task %q", addr.Name)
		}
		return cfg, nil
	}

	parent, ok := d.Tasks[addr.Scope]
	if !ok {
		return TaskConfig{}, fmt.Errorf("config: no section for task %q", addr.Scope)
	}
	cfg, ok := parent.Dependencies[addr.Name]
	if !ok {
		return TaskConfig{}, fmt.Errorf("config: task %q has no dependency section %q", addr.Scope, addr.Name)
	}
	if cfg.Threads == 0 {
		cfg.Threads = parent.Threads
	}
	if cfg.Memory == 0 {
		cfg.Memory = parent.Memory
	}
	if cfg.Time == "" {
		cfg.Time = parent.Time
	}
	if cfg.Data == "" {
		cfg.Data = parent.Data
	}
	return cfg, nil
}

// SBATCHArgs returns the configured SLURM flags as sorted key/value pairs,
// excluding the handful of fields the submitter computes itself rather
// than taking from the document (mirrors
// ConfigManager.get_sbatch_flagged_arguments's ignore list).
func (d *Document) SBATCHArgs() []string {
	ignore := map[string]bool{"nodes": true, "ntasks": true, "mem": true, "user-id": true}
	keys := make([]string, 0, len(d.Slurm.Flags))
	for k := range d.Slurm.Flags {
		if ignore[k] {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	args := make([]string, 0, len(keys))
	for _, k := range keys {
		args = append(args, "--"+k+"="+d.Slurm.Flags[k])
	}
	return args
}

// Validate checks global ceilings are present and positive, then
// recursively validates every task section (and its nested dependency
// sections), accumulating every problem found rather than stopping at the
// first.
func (d *Document) Validate() error {
	var result *multierror.Error

	if d.Global.MaxThreads <= 0 {
		result = multierror.Append(result, fmt.Errorf("GLOBAL.MaxThreads must be a positive integer"))
	}
	if d.Global.MaxMemory <= 0 {
		result = multierror.Append(result, fmt.Errorf("GLOBAL.MaxMemory must be a positive integer"))
	}
	if maxErr := result.ErrorOrNil(); maxErr != nil {
		return maxErr
	}

	for name, task := range d.Tasks {
		if err := validateTask(name, task, d.Global.MaxThreads, d.Global.MaxMemory); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

func validateTask(name string, task TaskConfig, maxThreads, maxMemory int) error {
	var result *multierror.Error

	if !task.Skip {
		if task.Threads <= 0 {
			result = multierror.Append(result, fmt.Errorf("task %q: threads must be a positive integer", name))
		} else if task.Threads > maxThreads {
			result = multierror.Append(result, fmt.Errorf("task %q: requests %d threads but MaxThreads is %d", name, task.Threads, maxThreads))
		}
		if task.Memory <= 0 {
			result = multierror.Append(result, fmt.Errorf("task %q: memory must be a positive integer", name))
		} else if task.Memory > maxMemory {
			result = multierror.Append(result, fmt.Errorf("task %q: requests %d memory but MaxMemory is %d", name, task.Memory, maxMemory))
		}
		if task.Time == "" {
			result = multierror.Append(result, fmt.Errorf("task %q: missing required 'time' setting", name))
		}

		for _, p := range task.DataPaths() {
			p = stripHostPrefix(p)
			if _, err := os.Stat(filepath.Clean(p)); err != nil {
				result = multierror.Append(result, fmt.Errorf("task %q: data path %q does not exist", name, p))
			}
		}
		if task.Program != "" {
			if _, err := exec.LookPath(task.Program); err != nil {
				if _, statErr := os.Stat(task.Program); statErr != nil {
					result = multierror.Append(result, fmt.Errorf("task %q: program %q not found on PATH", name, task.Program))
				}
			}
		}
	}

	for depName, dep := range task.Dependencies {
		if err := validateTask(depName, dep, maxThreads, maxMemory); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

// stripHostPrefix drops a "host:" prefix some data entries use to scope a
// path to a particular remote host, matching ConfigManager._validate's
// handling of ":" in DATA values.
func stripHostPrefix(p string) string {
	if i := strings.Index(p, ":"); i >= 0 {
		return p[i+1:]
	}
	return p
}
