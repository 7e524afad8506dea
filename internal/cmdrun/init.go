package cmdrun

import (
	"flag"
	"fmt"
	"os"

	survey "github.com/AlecAivazis/survey/v2"
	"github.com/mitchellh/cli"
	"gopkg.in/yaml.v3"

	"pipeflow/internal/ui"
)

// InitCommand interactively scaffolds a new pipeline configuration file,
// the counterpart of the pack's monorepo build tool's "link" command
// prompting for setup choices instead of requiring a hand-written file.
type InitCommand struct {
	Ui *cli.ColoredUi
}

// Synopsis of the init command.
func (c *InitCommand) Synopsis() string { return "Interactively scaffold a configuration file" }

// Help text for the init command.
func (c *InitCommand) Help() string {
	return "Usage: pipeflow init [--out=<file>]\n\n    Prompt for GLOBAL and INPUT settings and write a starter configuration file."
}

// initAnswers collects the prompted values before they're rendered to YAML.
type initAnswers struct {
	MaxThreads int    `survey:"maxthreads"`
	MaxMemory  int    `survey:"maxmemory"`
	Root       string `survey:"root"`
	Extension  string `survey:"extension"`
	Recursive  bool   `survey:"recursive"`
}

// Run prompts for the handful of settings every pipeline run needs and
// writes them out as a starter configuration document.
func (c *InitCommand) Run(args []string) int {
	fs := flag.NewFlagSet("init", flag.ContinueOnError)
	out := fs.String("out", "pipeline.yaml", "path to write the configuration file")
	if err := fs.Parse(args); err != nil {
		c.Ui.Error(fmt.Sprintf("%s %s", ui.ERROR_PREFIX, err))
		return 1
	}

	if _, err := os.Stat(*out); err == nil {
		overwrite := false
		if askErr := survey.AskOne(&survey.Confirm{
			Message: fmt.Sprintf("%s already exists, overwrite it?", *out),
			Default: false,
		}, &overwrite); askErr != nil {
			c.Ui.Error(fmt.Sprintf("%s %s", ui.ERROR_PREFIX, askErr))
			return 1
		}
		if !overwrite {
			c.Ui.Output(ui.Dim("aborted"))
			return 0
		}
	}

	answers := initAnswers{MaxThreads: 4, MaxMemory: 16, Extension: ".fa"}
	questions := []*survey.Question{
		{Name: "maxthreads", Prompt: &survey.Input{Message: "Maximum threads across the whole run:", Default: "4"}},
		{Name: "maxmemory", Prompt: &survey.Input{Message: "Maximum memory (GB) across the whole run:", Default: "16"}},
		{Name: "root", Prompt: &survey.Input{Message: "Directory to scan for input records:", Default: "."}},
		{Name: "extension", Prompt: &survey.Input{Message: "File extension identifying a record:", Default: ".fa"}},
		{Name: "recursive", Prompt: &survey.Confirm{Message: "Scan subdirectories recursively?", Default: false}},
	}
	if err := survey.Ask(questions, &answers, survey.WithIcons(func(icons *survey.IconSet) {
		icons.Question.Format = "gray+hb"
	})); err != nil {
		c.Ui.Error(fmt.Sprintf("%s %s", ui.ERROR_PREFIX, err))
		return 1
	}

	doc := map[string]interface{}{
		"GLOBAL": map[string]interface{}{
			"MaxThreads": answers.MaxThreads,
			"MaxMemory":  answers.MaxMemory,
		},
		"INPUT": map[string]interface{}{
			"root":      answers.Root,
			"extension": answers.Extension,
			"recursive": answers.Recursive,
		},
		"SLURM": map[string]interface{}{},
	}

	b, err := yaml.Marshal(doc)
	if err != nil {
		c.Ui.Error(fmt.Sprintf("%s %s", ui.ERROR_PREFIX, err))
		return 1
	}
	if err := os.WriteFile(*out, b, 0o644); err != nil {
		c.Ui.Error(fmt.Sprintf("%s %s", ui.ERROR_PREFIX, err))
		return 1
	}
	c.Ui.Output(ui.Dim(fmt.Sprintf("wrote %s", *out)))
	return 0
}
