// Package catalog persists and loads a completed run's finalized output
// set, the Go analogue of the source implementation's final
// pickle.dump(TaskChainDistributor.output_data_to_pickle) call in
// Executor.run. It uses encoding/gob rather than a third-party codec: the
// catalog is an internal, process-to-process handoff format (one pipeline
// feeding another's INPUT section), never a user-facing or wire format, so
// there is no interoperability requirement a richer serializer would earn
// its keep against — gob is stdlib's direct analogue of Python's pickle
// for exactly this "write it, read it back in another Go process" case.
package catalog

import (
	"encoding/gob"
	"fmt"
	"io"
	"os"

	"pipeflow/internal/pipeline"
)

func init() {
	gob.Register(pipeline.OutputValue{})
}

// Catalog is the finalized-output map persisted at the end of a run:
// record ID -> output label -> value.
type Catalog map[string]map[string]pipeline.OutputValue

// Write serializes c to path using gob, overwriting any existing file.
func Write(path string, c Catalog) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("catalog: creating %s: %w", path, err)
	}
	defer f.Close()

	if err := gob.NewEncoder(f).Encode(c); err != nil {
		return fmt.Errorf("catalog: encoding %s: %w", path, err)
	}
	return nil
}

// Load reads a Catalog previously written by Write. A missing file is not
// an error: it returns an empty Catalog, matching the source
// implementation's InputLoader.load_pkl_data treating a missing .pkl as
// empty input rather than failing.
func Load(path string) (Catalog, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return Catalog{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("catalog: opening %s: %w", path, err)
	}
	defer f.Close()

	var c Catalog
	if err := gob.NewDecoder(f).Decode(&c); err != nil {
		return nil, fmt.Errorf("catalog: decoding %s: %w", path, err)
	}
	return c, nil
}

// Decode reads a Catalog from r, for callers that obtained the bytes from
// somewhere other than a local file (e.g. internal/loader fetching a
// collaborator's catalog over HTTP).
func Decode(r io.Reader) (Catalog, error) {
	var c Catalog
	if err := gob.NewDecoder(r).Decode(&c); err != nil {
		return nil, fmt.Errorf("catalog: decoding: %w", err)
	}
	return c, nil
}
