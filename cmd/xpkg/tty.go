package main

import (
	"os"

	"github.com/mattn/go-isatty"
)

// stdoutIsTTY reports whether stdout is a terminal; the build command
// prints its verbose "building" line only when it is.
func stdoutIsTTY() bool {
	return isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd())
}
