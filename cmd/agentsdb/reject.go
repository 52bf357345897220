package main

import (
	"github.com/spf13/cobra"

	"github.com/krazyjakee/agentsdb/pkg/agentsdberr"
	"github.com/krazyjakee/agentsdb/pkg/cli"
	"github.com/krazyjakee/agentsdb/pkg/proposal"
)

func newRejectCmd(flags *rootFlags) *cobra.Command {
	var (
		ids    []int
		reason string
	)

	cmd := &cobra.Command{
		Use:   "reject",
		Short: "Reject one or more pending proposals",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(ids) == 0 {
				return agentsdberr.NewConfigError("reject: --ids is required")
			}
			paths := proposal.StandardResolvedPaths(flags.dir)
			if err := proposal.Reject(paths, toChunkIDs(ids), reason); err != nil {
				return err
			}
			cli.NewPrinter(cmd.OutOrStdout()).Printf("rejected %d proposal(s)\n", len(ids))
			return nil
		},
	}

	cmd.Flags().IntSliceVar(&ids, "ids", nil, "proposal ids to reject")
	cmd.Flags().StringVar(&reason, "reason", "", "optional rejection reason")

	return cmd
}
