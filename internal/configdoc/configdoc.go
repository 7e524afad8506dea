// Package configdoc parses a pipeline configuration file on disk into an
// internal/config.Document. It is the ambient YAML-adapter half of the
// config split: internal/config knows the document's logical shape,
// configdoc knows the on-disk format. Key case normalization uses
// github.com/pascaldekloe/name, the same library the pack's monorepo build
// tool pulls in for its package.json field matching, so "MaxThreads",
// "max_threads", and "maxThreads" all resolve to the same Go field.
package configdoc

import (
	"fmt"
	"os"

	"github.com/pascaldekloe/name"
	"gopkg.in/yaml.v3"

	"pipeflow/internal/config"
)

const (
	keyGlobal = "GLOBAL"
	keyInput  = "INPUT"
	keySlurm  = "SLURM"

	keyMaxThreads = "MaxThreads"
	keyMaxMemory  = "MaxMemory"

	keyThreads      = "threads"
	keyMemory       = "memory"
	keyTime         = "time"
	keyProgram      = "program"
	keyFlags        = "FLAGS"
	keyData         = "data"
	keySkip         = "skip"
	keyUseCluster   = "USE_CLUSTER"
	keyDependencies = "dependencies"

	keyRoot      = "root"
	keyExtension = "extension"
	keyRecursive = "recursive"
	keyProtocol  = "protocol"
	keyFrom      = "from"

	keyPipeline = "pipeline"
	keyCatalog  = "catalog"
	keyAll      = "all"
	keyLabels   = "labels"
	keyRename   = "rename"

	keyUserID = "user-id"
	keyHeader = "SLURM_HEADER"
)

type rawDoc map[string]interface{}

// Load reads and parses a YAML configuration file from path.
func Load(path string) (*config.Document, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("configdoc: reading %s: %w", path, err)
	}
	return Parse(b)
}

// Parse parses YAML configuration bytes into a config.Document.
func Parse(b []byte) (*config.Document, error) {
	var raw rawDoc
	if err := yaml.Unmarshal(b, &raw); err != nil {
		return nil, fmt.Errorf("configdoc: %w", err)
	}

	for _, required := range []string{keyGlobal, keyInput, keySlurm} {
		if _, ok := lookup(raw, required); !ok {
			return nil, fmt.Errorf("configdoc: missing required section %q", required)
		}
	}

	doc := &config.Document{Tasks: make(map[string]config.TaskConfig)}

	globalSection, _ := lookup(raw, keyGlobal)
	globalMap, _ := asMap(globalSection)
	doc.Global.MaxThreads = asInt(valueFor(globalMap, keyMaxThreads))
	doc.Global.MaxMemory = asInt(valueFor(globalMap, keyMaxMemory))

	inputSection, _ := lookup(raw, keyInput)
	inputMap, _ := asMap(inputSection)
	doc.Input.Root = asString(valueFor(inputMap, keyRoot))
	doc.Input.Extension = asString(valueFor(inputMap, keyExtension))
	doc.Input.Recursive = asBool(valueFor(inputMap, keyRecursive))
	doc.Input.Protocol = asString(valueFor(inputMap, keyProtocol))
	if fromVal, ok := lookup(inputMap, keyFrom); ok {
		doc.Input.Sources = parseSources(fromVal)
	}

	slurmSection, _ := lookup(raw, keySlurm)
	slurmMap, _ := asMap(slurmSection)
	doc.Slurm.UserID = asString(valueFor(slurmMap, keyUserID))
	doc.Slurm.Header = asString(valueFor(slurmMap, keyHeader))
	doc.Slurm.Flags = make(map[string]string)
	for k, v := range slurmMap {
		if k == keyUserID || k == keyHeader {
			continue
		}
		doc.Slurm.Flags[k] = fmt.Sprintf("%v", v)
	}

	for key, val := range raw {
		if key == keyGlobal || key == keyInput || key == keySlurm {
			continue
		}
		section, ok := asMap(val)
		if !ok {
			return nil, fmt.Errorf("configdoc: section %q is not a mapping", key)
		}
		doc.Tasks[key] = parseTask(section)
	}

	return doc, nil
}

// parseSources parses the INPUT section's FROM list, one entry per
// collaborator pipeline whose catalog this run re-imports.
func parseSources(v interface{}) []config.CatalogSource {
	list, ok := v.([]interface{})
	if !ok {
		return nil
	}
	sources := make([]config.CatalogSource, 0, len(list))
	for _, entry := range list {
		m, ok := asMap(entry)
		if !ok {
			continue
		}
		src := config.CatalogSource{
			PipelineName: asString(valueFor(m, keyPipeline)),
			CatalogPath:  asString(valueFor(m, keyCatalog)),
			All:          asBool(valueFor(m, keyAll)),
		}
		if labelsVal, ok := lookup(m, keyLabels); ok {
			if labelList, ok := labelsVal.([]interface{}); ok {
				for _, l := range labelList {
					src.Labels = append(src.Labels, asString(l))
				}
			}
		}
		if renameVal, ok := lookup(m, keyRename); ok {
			if renameMap, ok := asMap(renameVal); ok {
				src.Rename = make(map[string]string, len(renameMap))
				for to, from := range renameMap {
					src.Rename[to] = asString(from)
				}
			}
		}
		sources = append(sources, src)
	}
	return sources
}

func parseTask(section rawDoc) config.TaskConfig {
	t := config.TaskConfig{
		Threads:    asInt(valueFor(section, keyThreads)),
		Memory:     asInt(valueFor(section, keyMemory)),
		Time:       asString(valueFor(section, keyTime)),
		Program:    asString(valueFor(section, keyProgram)),
		Flags:      asString(valueFor(section, keyFlags)),
		Data:       asString(valueFor(section, keyData)),
		Skip:       asBool(valueFor(section, keySkip)),
		UseCluster: asBool(valueFor(section, keyUseCluster)),
	}

	if depsVal, ok := lookup(section, keyDependencies); ok {
		if depsMap, ok := asMap(depsVal); ok {
			t.Dependencies = make(map[string]config.TaskConfig, len(depsMap))
			for depName, depVal := range depsMap {
				if depSection, ok := asMap(depVal); ok {
					t.Dependencies[depName] = parseTask(depSection)
				}
			}
		}
	}
	return t
}

// lookup does a case-insensitive, separator-insensitive key lookup using
// name.CamelCase so config authors may write MaxThreads,
// max_threads, or maxThreads interchangeably.
func lookup(m rawDoc, key string) (interface{}, bool) {
	if v, ok := m[key]; ok {
		return v, true
	}
	target := normalize(key)
	for k, v := range m {
		if normalize(k) == target {
			return v, true
		}
	}
	return nil, false
}

func normalize(key string) string {
	return name.CamelCase(key, true)
}

func valueFor(m rawDoc, key string) interface{} {
	v, _ := lookup(m, key)
	return v
}

func asMap(v interface{}) (rawDoc, bool) {
	switch t := v.(type) {
	case rawDoc:
		return t, true
	case map[string]interface{}:
		return rawDoc(t), true
	case map[interface{}]interface{}:
		out := make(rawDoc, len(t))
		for k, val := range t {
			out[fmt.Sprintf("%v", k)] = val
		}
		return out, true
	default:
		return nil, false
	}
}

func asString(v interface{}) string {
	if v == nil {
		return ""
	}
	return fmt.Sprintf("%v", v)
}

func asInt(v interface{}) int {
	switch t := v.(type) {
	case int:
		return t
	case int64:
		return int(t)
	case float64:
		return int(t)
	case string:
		var n int
		_, _ = fmt.Sscanf(t, "%d", &n)
		return n
	default:
		return 0
	}
}

func asBool(v interface{}) bool {
	b, ok := v.(bool)
	return ok && b
}
