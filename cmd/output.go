package cmd

import (
	"os"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
)

// isTerminal returns whether or not a file descriptor refers to a terminal,
// including Cygwin and MSYS2 terminals on Windows.
func isTerminal(fd uintptr) bool {
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// ConfigureColor enables or disables colorized output according to the
// specified mode. In automatic mode, output is colorized only if standard
// output is a terminal and the NO_COLOR environment variable isn't set.
func ConfigureColor(mode ColorMode) {
	switch mode {
	case ColorModeAlways:
		color.NoColor = false
	case ColorModeNever:
		color.NoColor = true
	default:
		_, disabled := os.LookupEnv("NO_COLOR")
		color.NoColor = disabled || !isTerminal(os.Stdout.Fd())
	}
}
