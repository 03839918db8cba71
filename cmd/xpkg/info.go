package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func infoCmd() *cobra.Command {
	var verbose bool
	cmd := &cobra.Command{
		Use:   "info SPEC",
		Short: "print a package record, or the owning package of a path inside the prefix",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := openEnvironment()
			if err != nil {
				return err
			}
			rec, err := env.Info(args[0], verbose)
			if err != nil {
				return err
			}
			fmt.Printf("%s %s\n", rec.Name, rec.Version)
			if rec.Description != "" {
				fmt.Println(rec.Description)
			}
			if len(rec.Dependencies) > 0 {
				fmt.Println("dependencies:", rec.Dependencies)
			}
			if verbose {
				fmt.Println("dirs:", rec.Dirs)
				fmt.Println("files:", rec.Files)
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "also print owned directories and files")
	return cmd
}
