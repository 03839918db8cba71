package main

import (
	"fmt"
	"syscall"

	"github.com/spf13/cobra"
)

func envCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "env",
		Short: "inspect or apply the prefix's composed environment variables",
	}
	cmd.AddCommand(envVarsCmd(), envExecCmd())
	return cmd
}

func envVarsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "vars",
		Short: "print get_env_vars() in shell export form",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := openEnvironment()
			if err != nil {
				return err
			}
			for _, kv := range env.EnvVars() {
				fmt.Printf("export %s\n", kv)
			}
			return nil
		},
	}
}

func envExecCmd() *cobra.Command {
	var isolate, gui bool
	cmd := &cobra.Command{
		Use:   "exec -- CMD [ARGS...]",
		Short: "apply_env then exec CMD with the composed environment",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := openEnvironment()
			if err != nil {
				return err
			}
			if err := env.ApplyEnvToProcess(isolate, gui); err != nil {
				return err
			}
			argv0, err := lookPath(args[0])
			if err != nil {
				return err
			}
			return syscall.Exec(argv0, args, envList())
		},
	}
	cmd.Flags().BoolVar(&isolate, "isolate", false, "clear every variable not explicitly set by the prefix/toolset")
	cmd.Flags().BoolVar(&gui, "gui", false, "in isolate mode, also preserve the graphical-I/O whitelist")
	return cmd
}
