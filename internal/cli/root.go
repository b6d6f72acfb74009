// Package cli implements the screenroom command line interface.
package cli

import (
	"github.com/spf13/cobra"
)

var version = "dev"

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "screenroom",
		Short: "Per-session virtual display orchestration with screen recording",
		Long: `Screenroom provisions an isolated virtual X display per session, exposes it
over VNC, records it with ffmpeg, and uploads finished recordings to S3
compatible object storage.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.Version = version
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newDoctorCmd())
	cmd.AddCommand(newConfigCmd())

	return cmd
}

// Execute runs the root command.
func Execute() error {
	return newRootCmd().Execute()
}
