package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func buildCmd() *cobra.Command {
	var dest string
	var verbose bool
	cmd := &cobra.Command{
		Use:   "build XPD",
		Short: "build a recipe, installing its dependencies first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := openEnvironment()
			if err != nil {
				return err
			}
			if verbose && stdoutIsTTY() {
				fmt.Fprintln(cmd.OutOrStdout(), "building", args[0])
			}
			results, err := env.Build(cmd.Context(), args[0], dest, verbose)
			if err != nil {
				return err
			}
			for _, r := range results {
				fmt.Println(r.Path)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&dest, "dest", ".", "directory to write the built archives into")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "print a \"building\" line before starting when stdout is a terminal")
	return cmd
}
