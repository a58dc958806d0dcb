// Package cmd implements the healthhub command line interface.
package cmd

import (
	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// NewRootCmd creates the root cobra command for healthhub.
// When invoked without a subcommand, it delegates to "run".
func NewRootCmd(v, c, d string) *cobra.Command {
	version, commit, date = v, c, d

	root := &cobra.Command{
		Use:   "healthhub",
		Short: "Healthcare ecosystem hub backend",
		Long:  "HealthHub handles authentication, patient and pharmacy workflows, request admission control, and real-time notification delivery.",
		// Bare invocation (no subcommand) behaves as "run".
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRun(cmd, args)
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(newRunCmd())
	root.AddCommand(newInitCmd())
	root.AddCommand(newVersionCmd())

	root.PersistentFlags().StringP("config", "c", "", "path to config file")

	return root
}
