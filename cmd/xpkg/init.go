package main

import (
	"github.com/spf13/cobra"

	"github.com/xpkg/xpkg/internal/environment"
)

func initCmd() *cobra.Command {
	var toolsetName string
	cmd := &cobra.Command{
		Use:   "init NAME",
		Short: "initialize a new prefix",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := environment.Init(activePrefix(), args[0], toolsetName)
			return err
		},
	}
	cmd.Flags().StringVar(&toolsetName, "toolset", "host", "name of the toolset to record in the new settings file")
	return cmd
}
