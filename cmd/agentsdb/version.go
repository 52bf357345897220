package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// Version is the agentsdb CLI's own version string; there is no build-time
// injection pipeline in this module, so unlike the teacher's
// internal/version.Version it is just a constant.
const Version = "0.1.0"

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "agentsdb version %s\n", Version)
		},
	}
}
