// Package ui renders CLI output: colored status lines, tables, a spinner for
// long stages and the generation event stream.
package ui

import (
	"io"
	"os"

	"github.com/fatih/color"
)

var (
	// Out and ErrOut are the destinations for normal and diagnostic output.
	Out    io.Writer = os.Stdout
	ErrOut io.Writer = os.Stderr

	verboseFlag bool
	spinEnabled = true
)

// InitUI applies the color and verbosity settings.
func InitUI(noColor, verbose bool) {
	verboseFlag = verbose
	if noColor {
		color.NoColor = true
		spinEnabled = false
	}
}

// Verbose reports whether verbose output was requested.
func Verbose() bool {
	return verboseFlag
}
