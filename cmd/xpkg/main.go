// Command xpkg is the CLI front end for the core packages under
// internal/: a thin Cobra verb table that resolves the active prefix and
// dispatches to internal/environment, in the shape of the teacher's
// cmd/distri dispatch table.
package main

import (
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"

	"github.com/xpkg/xpkg"
	"github.com/xpkg/xpkg/internal/environment"
)

var prefixFlag string

func rootCmd() *cobra.Command {
	log.SetFlags(0)

	cmd := &cobra.Command{
		Use:           "xpkg",
		Short:         "build, install and inspect xpkg packages",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&prefixFlag, "prefix", "", "prefix to operate on (default: the prefix-root environment variable, or /)")

	cmd.AddCommand(
		initCmd(),
		installCmd(),
		removeCmd(),
		infoCmd(),
		buildCmd(),
		envCmd(),
	)
	return cmd
}

func activePrefix() string {
	if prefixFlag != "" {
		return prefixFlag
	}
	return environment.PrefixFromEnv(prefixFlagOrDefault())
}

func prefixFlagOrDefault() string {
	if prefixFlag != "" {
		return prefixFlag
	}
	return "/"
}

func openEnvironment() (*environment.Environment, error) {
	return environment.Open(activePrefix(), environment.SourcesFromEnv())
}

func main() {
	ctx, canc := xpkg.InterruptibleContext()
	defer canc()

	err := rootCmd().ExecuteContext(ctx)
	if atExitErr := xpkg.RunAtExit(); err == nil {
		err = atExitErr
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "xpkg:", err)
		os.Exit(1)
	}
}
