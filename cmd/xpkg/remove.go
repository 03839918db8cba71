package main

import (
	"github.com/spf13/cobra"
)

func removeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove NAME...",
		Short: "remove one or more installed packages",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := openEnvironment()
			if err != nil {
				return err
			}
			for _, name := range args {
				if err := env.Remove(name); err != nil {
					return err
				}
			}
			return nil
		},
	}
}
