package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	hclog "github.com/hashicorp/go-hclog"
	"github.com/mitchellh/cli"

	"pipeflow/internal/cmdrun"
	"pipeflow/internal/samplepipeline"
	"pipeflow/internal/ui"
)

// EnvLogLevel is the environment variable used to set the logger's level,
// mirroring the pack's monorepo build tool's TURBO_LOG_LEVEL convention.
const EnvLogLevel = "PIPEFLOW_LOG_LEVEL"

func main() {
	args := os.Args[1:]

	level := hclog.NoLevel
	var outArgs []string
	for _, arg := range args {
		switch arg {
		case "-v":
			level = maxLevel(level, hclog.Info)
		case "-vv":
			level = maxLevel(level, hclog.Debug)
		case "-vvv":
			level = maxLevel(level, hclog.Trace)
		default:
			outArgs = append(outArgs, arg)
		}
	}
	if v := os.Getenv(EnvLogLevel); v != "" && level == hclog.NoLevel {
		level = hclog.LevelFromString(v)
	}

	logger := hclog.New(&hclog.LoggerOptions{
		Name:   "pipeflow",
		Level:  level,
		Color:  hclog.AutoColor,
		Output: os.Stderr,
	})

	coloredUi := &cli.ColoredUi{
		Ui: &cli.BasicUi{
			Reader:      os.Stdin,
			Writer:      os.Stdout,
			ErrorWriter: os.Stderr,
		},
		OutputColor: cli.UiColorNone,
		InfoColor:   cli.UiColorNone,
		WarnColor:   cli.UiColorYellow,
		ErrorColor:  cli.UiColorRed,
	}

	reg := samplepipeline.Registry()

	c := cli.NewCLI("pipeflow", samplepipeline.Version)
	c.Args = outArgs
	c.HelpWriter = os.Stdout
	c.ErrorWriter = os.Stderr
	c.Commands = map[string]cli.CommandFactory{
		"run": func() (cli.Command, error) {
			return &cmdrun.RunCommand{Ui: coloredUi, Logger: logger, Registry: reg, Name: samplepipeline.Name}, nil
		},
		"graph": func() (cli.Command, error) {
			return &cmdrun.GraphCommand{Ui: coloredUi, Registry: reg}, nil
		},
		"init": func() (cli.Command, error) {
			return &cmdrun.InitCommand{Ui: coloredUi}, nil
		},
	}

	exitCode, err := c.Run()
	if err != nil {
		coloredUi.Error(fmt.Sprintf("%s %s", ui.ERROR_PREFIX, color.RedString(err.Error())))
	}
	os.Exit(exitCode)
}

func maxLevel(a, b hclog.Level) hclog.Level {
	if a == hclog.NoLevel || b < a {
		return b
	}
	return a
}
