// Package pipeline holds the data model a pipeline author programs against:
// TaskKind blueprints, dependency specs, and the typed outputs a task hands
// back to the engine. It has no dependency on how the engine schedules or
// executes tasks.
package pipeline

import "fmt"

// Kind distinguishes a TaskKind that runs once per record from one that
// runs once over the whole record set. This replaces the source
// implementation's Task/AggregateTask class hierarchy with a single tagged
// struct, per the redesign notes.
type Kind int

const (
	// PerRecord tasks run independently, once per record.
	PerRecord Kind = iota
	// Aggregate tasks run once, observing every record's current results.
	Aggregate
)

func (k Kind) String() string {
	if k == Aggregate {
		return "Aggregate"
	}
	return "PerRecord"
}

// OutputKind tags an OutputValue as either a filesystem path or an inline
// value, replacing the source's untyped "could be anything, might be a
// path" output convention.
type OutputKind int

const (
	// PathValue outputs are interpreted as filesystem paths by the
	// finalizer and by post-run output validation.
	PathValue OutputKind = iota
	// InlineValue outputs are opaque to the engine and passed through
	// verbatim.
	InlineValue
)

// OutputValue is a single labeled value in a task's output map.
type OutputValue struct {
	Kind   OutputKind
	Path   string
	Inline interface{}
}

// Path builds a path-typed OutputValue.
func Path(p string) OutputValue { return OutputValue{Kind: PathValue, Path: p} }

// Inline builds an inline-typed OutputValue.
func Inline(v interface{}) OutputValue { return OutputValue{Kind: InlineValue, Inline: v} }

// IsPath reports whether this value is a path reference.
func (v OutputValue) IsPath() bool { return v.Kind == PathValue }

func (v OutputValue) String() string {
	if v.Kind == PathValue {
		return v.Path
	}
	return fmt.Sprintf("%v", v.Inline)
}

// Outputs is the homogeneous label->value map a task's Run hook returns.
type Outputs map[string]OutputValue

// TaskResult is the immutable triple the engine threads between tasks and
// the finalizer. Final is lifted out of Outputs onto its own field so
// Outputs carries no magic "final" key (source used a reserved output
// label for this; see SPEC_FULL.md §3 OutputValue).
type TaskResult struct {
	RecordID string
	TaskName string
	Outputs  Outputs
	// Final lists labels in Outputs that should be persisted to the
	// results directory and the catalog.
	Final []string
}

// EmptyResult builds the TaskResult returned by skip/condition gates: no
// outputs, nothing finalized.
func EmptyResult(recordID, taskName string) TaskResult {
	return TaskResult{RecordID: recordID, TaskName: taskName, Outputs: Outputs{}}
}

// Rename describes how DependencySpec.CollectBy remaps one source task's
// output labels into a dependency's input.
type Rename struct {
	// FieldMap renames labels: fromLabel -> toLabel.
	FieldMap map[string]string
	// Verbatim copies labels under their existing name.
	Verbatim []string
}

// RenameFields builds a Rename that renames labels.
func RenameFields(m map[string]string) Rename { return Rename{FieldMap: m} }

// RenameVerbatim builds a Rename that copies labels unchanged.
func RenameVerbatim(labels ...string) Rename { return Rename{Verbatim: labels} }

// DependencySpec is declared on a segment's terminal (pipeline) task and
// names one task in its depends-chain, plus how to build *that named
// task's* input — not the terminal task's own. The terminal task itself
// always runs against the segment's root input, unaffected by its own
// Depends declarations (see internal/runner.resolveInput).
type DependencySpec struct {
	Name string
	// CollectBy maps a source task name (or RootSource) to the rename
	// applied to its outputs, building the named dependency task's input.
	// A nil CollectBy means "inherit the full current record input
	// unchanged".
	CollectBy map[string]Rename
}

// RootSource is the reserved CollectBy source name meaning "the record's
// root input, not a task's output".
const RootSource = "root"

// DeaggregateResult is what an Aggregate TaskKind's Deaggregate hook
// returns: either a full replacement of the record set (Remap == true) or
// a set of per-record output updates merged into the existing set.
type DeaggregateResult struct {
	// Remap, when true, replaces the engine's record set with Results
	// instead of merging it in (spec.md §4.8 "remap mode").
	Remap bool
	// Results maps recordID -> (label -> value) for every record that
	// should exist after this aggregate runs.
	Results map[string]map[string]OutputValue
}

// RunContext is the view a TaskKind's hooks get of the world. For
// PerRecord tasks, Input is populated per spec.md §4.6 (root input for the
// pipeline node, collectBy-remapped input for dependency nodes) and
// AllResults is nil. For Aggregate tasks, AllResults holds the entire
// current RecordStore snapshot and Input is nil.
type RunContext struct {
	RecordID   string
	Scope      string
	WorkDir    string
	Input      map[string]OutputValue
	AllResults map[string]map[string]TaskResult
}

// TaskKind is a named, immutable pipeline step definition supplied by the
// pipeline author.
type TaskKind struct {
	Name     string
	Kind     Kind
	Requires []string
	Depends  []DependencySpec

	// Versions lists acceptable external-program version strings; Probe
	// is the flag passed to the configured program to print its version
	// (e.g. "--version").
	Versions []string
	Probe    string

	// Final lists the output labels this task always persists to the
	// results directory and catalog on success. Declared statically on
	// the TaskKind rather than returned at runtime, since Outputs no
	// longer carries a reserved "final" key (see the OutputValue
	// redesign notes).
	Final []string

	// DeclaredOutputs predicts the Outputs a run would produce, computed
	// purely from ctx (WorkDir, Input, RecordID) without doing the task's
	// actual work. The executor calls this before acquiring resources; if
	// every path-valued entry it returns already exists on disk, the task
	// is marked complete and Run is skipped entirely (the CACHED state).
	// Optional: a nil DeclaredOutputs disables caching for this task, the
	// same as a task whose outputs can't be predicted without running it.
	DeclaredOutputs func(ctx *RunContext) (Outputs, error)

	Run         func(ctx *RunContext) (Outputs, error)
	Condition   func(ctx *RunContext) (bool, error)
	Deaggregate func(ctx *RunContext) (DeaggregateResult, error)
}

// HasCondition reports whether this TaskKind defines a condition gate.
func (t *TaskKind) HasCondition() bool { return t.Condition != nil }

// HasVersions reports whether this TaskKind declares acceptable versions.
func (t *TaskKind) HasVersions() bool { return len(t.Versions) > 0 }
