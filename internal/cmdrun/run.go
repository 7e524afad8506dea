// Package cmdrun implements the "run", "graph" and "init" CLI subcommands, the Go
// translation of yapim's command-line entry point into the pack's monorepo
// build tool's cli.Command convention: a small struct with Synopsis/Help/Run
// methods, registered against a cli.CommandFactory map in cmd/pipeflow.
package cmdrun

import (
	"flag"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/adrg/xdg"
	"github.com/google/uuid"
	hclog "github.com/hashicorp/go-hclog"
	"github.com/kelseyhightower/envconfig"
	"github.com/mitchellh/cli"
	homedir "github.com/mitchellh/go-homedir"

	"pipeflow/internal/config"
	"pipeflow/internal/configdoc"
	"pipeflow/internal/engine"
	"pipeflow/internal/executor"
	"pipeflow/internal/finalize"
	"pipeflow/internal/graph"
	"pipeflow/internal/loader"
	"pipeflow/internal/pipeline"
	"pipeflow/internal/registry"
	"pipeflow/internal/resource"
	"pipeflow/internal/runner"
	"pipeflow/internal/store"
	"pipeflow/internal/ui"
)

// globalOverrides lets an operator override a run's resource ceilings from
// the environment without editing the configuration file, the same escape
// hatch the pack's monorepo build tool exposes for CI-specific tuning.
// Fields are read with PIPEFLOW_ prefixed, upper-cased names, e.g.
// PIPEFLOW_MAXTHREADS.
type globalOverrides struct {
	MaxThreads int `envconfig:"maxthreads"`
	MaxMemory  int `envconfig:"maxmemory"`
}

// RunCommand runs a pipeline to completion against a configuration file.
type RunCommand struct {
	Ui       *cli.ColoredUi
	Logger   hclog.Logger
	Registry *registry.Registry
	Name     string
}

// Synopsis of the run command.
func (c *RunCommand) Synopsis() string { return "Run the pipeline" }

// Help text for the run command.
func (c *RunCommand) Help() string {
	return strings.TrimSpace(`
Usage: pipeflow run --config=<file> --workdir=<dir> [options]

    Run every registered task to completion against the given
    configuration file.

Options:
  --config     Path to the pipeline's YAML configuration file (required).
  --workdir    Base working directory for task outputs (required).
  --results    Directory to copy finalized outputs into (default: an XDG data directory).
  --catalog    Path to write the run's output catalog (default: <workdir>/<name>.catalog).

Paths accept a leading "~" for the caller's home directory. GLOBAL.MaxThreads
and GLOBAL.MaxMemory can be overridden from the environment with
PIPEFLOW_MAXTHREADS / PIPEFLOW_MAXMEMORY.
`)
}

// Run parses flags, wires up the run's collaborators, and executes the
// pipeline.
func (c *RunCommand) Run(args []string) int {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to configuration file")
	workDir := fs.String("workdir", "", "base working directory")
	resultsDir := fs.String("results", "", "results directory")
	catalogPath := fs.String("catalog", "", "catalog output path")
	if err := fs.Parse(args); err != nil {
		c.Ui.Error(fmt.Sprintf("%s %s", ui.ERROR_PREFIX, err))
		return 1
	}
	if *configPath == "" || *workDir == "" {
		c.Ui.Error(fmt.Sprintf("%s --config and --workdir are required", ui.ERROR_PREFIX))
		return 1
	}

	for _, p := range []*string{configPath, workDir, resultsDir, catalogPath} {
		expanded, err := homedir.Expand(*p)
		if err != nil {
			c.Ui.Error(fmt.Sprintf("%s expanding %q: %s", ui.ERROR_PREFIX, *p, err))
			return 1
		}
		*p = expanded
	}

	if *resultsDir == "" {
		dataDir, err := xdg.DataFile(filepath.Join("pipeflow", c.Name, "results"))
		if err != nil {
			dataDir = filepath.Join(*workDir, "results")
		}
		*resultsDir = dataDir
	}
	if *catalogPath == "" {
		*catalogPath = filepath.Join(*workDir, c.Name+".catalog")
	}

	// runID tags this invocation's log lines so concurrent runs against a
	// shared log aggregator can be told apart; it has no bearing on where
	// task output lands, since "skip" reruns depend on a stable workdir.
	runID := uuid.New().String()
	logger := c.Logger
	if logger != nil {
		logger = logger.With("run_id", runID)
	}

	doc, err := configdoc.Load(*configPath)
	if err != nil {
		c.Ui.Error(fmt.Sprintf("%s %s", ui.ERROR_PREFIX, err))
		return 1
	}

	var overrides globalOverrides
	if err := envconfig.Process("pipeflow", &overrides); err == nil {
		if overrides.MaxThreads > 0 {
			doc.Global.MaxThreads = overrides.MaxThreads
		}
		if overrides.MaxMemory > 0 {
			doc.Global.MaxMemory = overrides.MaxMemory
		}
	}

	if err := doc.Validate(); err != nil {
		c.Ui.Error(fmt.Sprintf("%s invalid configuration: %s", ui.ERROR_PREFIX, err))
		return 1
	}

	records, err := c.loadInput(doc)
	if err != nil {
		c.Ui.Error(fmt.Sprintf("%s %s", ui.ERROR_PREFIX, err))
		return 1
	}

	gov := resource.NewGovernor(doc.Global.MaxThreads, doc.Global.MaxMemory)
	exec := executor.New(gov, logger)
	st := store.New()
	fin := &finalize.Finalizer{ResultsDir: *resultsDir, PipelineName: c.Name}
	run := &runner.Runner{
		Registry:  c.Registry,
		Config:    doc,
		Store:     st,
		Executor:  exec,
		Finalizer: fin,
		BaseDir:   *workDir,
		Logger:    logger,
	}
	eng := engine.New(c.Registry, doc, st, run, gov, logger)
	eng.PipelineName = c.Name
	eng.CatalogPath = *catalogPath

	c.Ui.Output(ui.Bold(fmt.Sprintf("running %s (run %s)", c.Name, runID)))
	if err := eng.Run(records); err != nil {
		c.Ui.Error(fmt.Sprintf("%s %s", ui.ERROR_PREFIX, err))
		return 1
	}
	c.Ui.Output(ui.Dim(fmt.Sprintf("wrote catalog to %s", *catalogPath)))
	return 0
}

// loadInput picks the input strategy named by the configuration's INPUT
// section: a directory scan by default, or a re-import of collaborator
// pipelines' catalogs when protocol is "catalog".
func (c *RunCommand) loadInput(doc *config.Document) (map[string]map[string]pipeline.OutputValue, error) {
	if strings.EqualFold(doc.Input.Protocol, "catalog") {
		return loader.NewCatalogLoader(doc.Input.Sources).Load()
	}
	return loader.NewDirectoryLoader(doc.Input).Load()
}

// GraphCommand prints the compiled requires-graph in Graphviz format.
type GraphCommand struct {
	Ui       *cli.ColoredUi
	Registry *registry.Registry
}

// Synopsis of the graph command.
func (c *GraphCommand) Synopsis() string { return "Print the task dependency graph" }

// Help text for the graph command.
func (c *GraphCommand) Help() string {
	return "Usage: pipeflow graph\n\n    Print the compiled task requires-graph in Graphviz dot format."
}

// Run compiles the registry into a graph and prints its dot form.
func (c *GraphCommand) Run(args []string) int {
	g, err := graph.New(c.Registry.All())
	if err != nil {
		c.Ui.Error(fmt.Sprintf("%s %s", ui.ERROR_PREFIX, err))
		return 1
	}
	c.Ui.Output(g.Dot())
	return 0
}
