package main

import (
	"github.com/spf13/cobra"
)

func installCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "install SPEC...",
		Short: "install one or more packages (name, name==version, or a path to a .xpd/.xpa)",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := openEnvironment()
			if err != nil {
				return err
			}
			for _, spec := range args {
				if err := env.Install(cmd.Context(), spec); err != nil {
					return err
				}
			}
			return nil
		},
	}
}
