// Package loader builds the initial per-record input map a pipeline run
// starts from. It implements the two input strategies the source
// implementation supports: scanning a directory of per-record files
// (yapim/utils/input_loader.py) and re-importing another pipeline's
// finalized catalog (yapim/utils/existing_input_loader.py). Directory
// scanning uses github.com/karrick/godirwalk and
// github.com/sabhiram/go-gitignore, the same pair the pack's monorepo build
// tool uses to walk a workspace while respecting .gitignore.
package loader

import (
	"fmt"
	"net/http"
	"path/filepath"
	"sort"
	"strings"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/karrick/godirwalk"
	gitignore "github.com/sabhiram/go-gitignore"

	"pipeflow/internal/catalog"
	"pipeflow/internal/config"
	"pipeflow/internal/pipeline"
)

// Loader populates the initial record set a pipeline run begins with.
type Loader interface {
	Load() (map[string]map[string]pipeline.OutputValue, error)
}

// DirectoryLoader discovers records by walking a root directory for files
// matching a configured extension, grouping them by filename stem. Each
// discovered file becomes the "input" label of its record.
type DirectoryLoader struct {
	Root       string
	Extension  string
	Recursive  bool
	IgnoreFile string
}

// NewDirectoryLoader builds a DirectoryLoader from an INPUT config section.
func NewDirectoryLoader(input config.InputConfig) *DirectoryLoader {
	return &DirectoryLoader{
		Root:      input.Root,
		Extension: input.Extension,
		Recursive: input.Recursive,
	}
}

// Load walks Root and returns one record per matching file.
func (l *DirectoryLoader) Load() (map[string]map[string]pipeline.OutputValue, error) {
	ignore, err := compileIgnore(l.IgnoreFile)
	if err != nil {
		return nil, err
	}

	records := make(map[string]map[string]pipeline.OutputValue)

	callback := func(osPathname string, de *godirwalk.Dirent) error {
		if de.IsDir() {
			if !l.Recursive && osPathname != l.Root {
				return filepath.SkipDir
			}
			return nil
		}
		if ignore != nil && ignore.MatchesPath(osPathname) {
			return nil
		}
		if l.Extension != "" && !strings.HasSuffix(osPathname, l.Extension) {
			return nil
		}
		recordID := recordIDFromPath(osPathname, l.Extension)
		records[recordID] = map[string]pipeline.OutputValue{
			"input": pipeline.Path(osPathname),
		}
		return nil
	}

	if err := godirwalk.Walk(l.Root, &godirwalk.Options{
		Callback:            callback,
		Unsorted:            false,
		FollowSymbolicLinks: false,
	}); err != nil {
		return nil, fmt.Errorf("loader: walking %s: %w", l.Root, err)
	}
	return records, nil
}

func recordIDFromPath(path, ext string) string {
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, ext)
	return base
}

func compileIgnore(path string) (*gitignore.GitIgnore, error) {
	if path == "" {
		return nil, nil
	}
	ig, err := gitignore.CompileIgnoreFile(path)
	if err != nil {
		return nil, fmt.Errorf("loader: compiling ignore file %s: %w", path, err)
	}
	return ig, nil
}

// RequestedInput describes how one source-pipeline's catalog entries are
// collected into the new run's input, mirroring the INPUT section formats
// ExistingInputLoader accepts: a single label, a list of labels and/or
// label renames, or the literal "all".
type RequestedInput struct {
	PipelineName string
	All          bool
	Labels       []string
	Rename       map[string]string // toLabel -> fromLabel
}

// CatalogLoader re-imports finalized output from one or more previously
// completed pipeline runs, identified by the gob catalogs they wrote.
type CatalogLoader struct {
	// CatalogPaths maps a requested pipeline name to the filesystem path
	// or http(s) URL of the catalog file it wrote.
	CatalogPaths map[string]string
	Requests     []RequestedInput

	httpClient *retryablehttp.Client
}

// NewCatalogLoader builds a CatalogLoader from a config document's INPUT
// FROM list, one RequestedInput per configured collaborator pipeline.
func NewCatalogLoader(sources []config.CatalogSource) *CatalogLoader {
	l := &CatalogLoader{
		CatalogPaths: make(map[string]string, len(sources)),
		Requests:     make([]RequestedInput, 0, len(sources)),
	}
	for _, src := range sources {
		l.CatalogPaths[src.PipelineName] = src.CatalogPath
		l.Requests = append(l.Requests, RequestedInput{
			PipelineName: src.PipelineName,
			All:          src.All,
			Labels:       src.Labels,
			Rename:       src.Rename,
		})
	}
	return l
}

// Load reads each requested pipeline's catalog and merges the requested
// labels into the new run's per-record input map.
func (l *CatalogLoader) Load() (map[string]map[string]pipeline.OutputValue, error) {
	records := make(map[string]map[string]pipeline.OutputValue)

	for _, req := range l.Requests {
		path, ok := l.CatalogPaths[req.PipelineName]
		if !ok {
			return nil, fmt.Errorf("loader: no catalog path configured for pipeline %q", req.PipelineName)
		}
		cat, err := l.loadCatalog(path)
		if err != nil {
			return nil, fmt.Errorf("loader: pipeline %q: %w", req.PipelineName, err)
		}

		switch {
		case req.All:
			for recordID, outputs := range cat {
				dst := ensureRecord(records, recordID)
				for label, val := range outputs {
					dst[label] = val
				}
			}
		default:
			for to, from := range req.Rename {
				if err := collectLabel(records, cat, from, to, req.PipelineName); err != nil {
					return nil, err
				}
			}
			for _, label := range req.Labels {
				if err := collectLabel(records, cat, label, label, req.PipelineName); err != nil {
					return nil, err
				}
			}
		}
	}
	return records, nil
}

// loadCatalog reads a collaborator pipeline's catalog from a local path or,
// when path looks like a URL, fetches it over HTTP with retryablehttp's
// exponential-backoff retry policy (a cluster's shared results server can be
// flaky under concurrent pipeline runs, same rationale as the retry client
// the pack's monorepo build tool uses for its remote cache requests).
func (l *CatalogLoader) loadCatalog(path string) (catalog.Catalog, error) {
	if !strings.HasPrefix(path, "http://") && !strings.HasPrefix(path, "https://") {
		return catalog.Load(path)
	}

	client := l.httpClient
	if client == nil {
		client = retryablehttp.NewClient()
		client.Logger = nil
	}
	resp, err := client.Get(path)
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetching %s: unexpected status %s", path, resp.Status)
	}
	return catalog.Decode(resp.Body)
}

func collectLabel(dst map[string]map[string]pipeline.OutputValue, cat catalog.Catalog, from, to, pipelineName string) error {
	found := false
	for recordID, outputs := range cat {
		if val, ok := outputs[from]; ok {
			ensureRecord(dst, recordID)[to] = val
			found = true
		}
	}
	if !found {
		return fmt.Errorf("loader: pipeline %q has no records with output %q", pipelineName, from)
	}
	return nil
}

func ensureRecord(records map[string]map[string]pipeline.OutputValue, id string) map[string]pipeline.OutputValue {
	if r, ok := records[id]; ok {
		return r
	}
	r := make(map[string]pipeline.OutputValue)
	records[id] = r
	return r
}

// RecordIDs returns the sorted record IDs present in a loaded input map,
// used for deterministic iteration order elsewhere in the engine.
func RecordIDs(records map[string]map[string]pipeline.OutputValue) []string {
	ids := make([]string, 0, len(records))
	for id := range records {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
