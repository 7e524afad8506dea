// Package ui holds small terminal-output helpers shared by the CLI entry
// point and its subcommands, grounded on the Dim/Bold/prefix conventions
// used by internal/run in the pack's monorepo build tool.
package ui

import (
	"os"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
)

// ERROR_PREFIX is prepended to fatal error output.
const ERROR_PREFIX = "x "

var enabled = isatty.IsTerminal(os.Stdout.Fd())

// Dim renders s in a dim gray, or returns it unmodified when stdout isn't a
// terminal (CI logs, redirected output).
func Dim(s string) string {
	if !enabled {
		return s
	}
	return color.New(color.FgHiBlack).Sprint(s)
}

// Bold renders s in bold.
func Bold(s string) string {
	if !enabled {
		return s
	}
	return color.New(color.Bold).Sprint(s)
}

// Warn renders s as a warning.
func Warn(s string) string {
	if !enabled {
		return s
	}
	return color.New(color.FgYellow).Sprint(s)
}
