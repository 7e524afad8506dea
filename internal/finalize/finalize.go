// Package finalize copies a task's "final" path outputs into the run's
// results directory and records them in the RecordStore's finalized-output
// map, the Go translation of TaskChainDistributor._finalize_output's
// second half (the `if result_key == "final"` loop over
// yapim/tasks/task_chain_distributor.py). Aggregate remap/update handling
// lives in internal/runner, which owns the RecordStore mutation; this
// package only owns the filesystem side: copying and naming files.
package finalize

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/gosimple/slug"

	"pipeflow/internal/pipeline"
)

// Finalizer copies a pipeline's finalized path outputs under
// <ResultsDir>/<pipelineName>/<slug of recordID>/, naming each file
// "<base>.<taskName><ext>" to avoid collisions between tasks that emit
// files sharing a base name.
type Finalizer struct {
	ResultsDir   string
	PipelineName string
}

// Finalize copies every label in result.Final that refers to a path
// output, returning the map of label -> (possibly rewritten) OutputValue
// to record in the RecordStore. Inline-valued "final" labels pass through
// unchanged, since there's no file to copy.
func (f *Finalizer) Finalize(result pipeline.TaskResult) (map[string]pipeline.OutputValue, error) {
	out := make(map[string]pipeline.OutputValue, len(result.Final))

	if len(result.Final) == 0 {
		return out, nil
	}

	// Record IDs come straight from sample filenames (see
	// loader.recordIDFromPath) and may carry spaces or punctuation that
	// isn't safe in a directory name; slug.Make gives a filesystem-clean
	// result directory without losing readability.
	destDir := filepath.Join(f.ResultsDir, f.PipelineName, slug.Make(result.RecordID))
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return nil, fmt.Errorf("finalize: creating %s: %w", destDir, err)
	}

	for _, label := range result.Final {
		value, ok := result.Outputs[label]
		if !ok {
			return nil, fmt.Errorf("finalize: task %q declared final label %q not present in outputs", result.TaskName, label)
		}
		if !value.IsPath() {
			out[label] = value
			continue
		}

		ext := filepath.Ext(value.Path)
		base := filepath.Base(value.Path)
		base = base[:len(base)-len(ext)]
		dest := filepath.Join(destDir, base+"."+result.TaskName+ext)

		if err := copyFile(value.Path, dest); err != nil {
			return nil, fmt.Errorf("finalize: copying %s for task %q label %q: %w", value.Path, result.TaskName, label, err)
		}
		out[label] = pipeline.Path(dest)
	}
	return out, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Close()
}
