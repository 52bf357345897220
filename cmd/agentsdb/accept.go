package main

import (
	"github.com/spf13/cobra"

	"github.com/krazyjakee/agentsdb/pkg/agentsdberr"
	"github.com/krazyjakee/agentsdb/pkg/cli"
	"github.com/krazyjakee/agentsdb/pkg/layer"
	"github.com/krazyjakee/agentsdb/pkg/proposal"
)

func newAcceptCmd(flags *rootFlags) *cobra.Command {
	var (
		ids          []int
		skipExisting bool
	)

	cmd := &cobra.Command{
		Use:   "accept",
		Short: "Accept one or more pending proposals, promoting their chunks",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(ids) == 0 {
				return agentsdberr.NewConfigError("accept: --ids is required")
			}
			chunkIDs := toChunkIDs(ids)
			paths := proposal.StandardResolvedPaths(flags.dir)
			outcome, err := proposal.Accept(flags.dir, paths, chunkIDs, skipExisting)
			if err != nil {
				return err
			}
			p := cli.NewPrinter(cmd.OutOrStdout())
			p.Printf("promoted %d, skipped %d\n", len(outcome.Promoted), len(outcome.Skipped))
			return nil
		},
	}

	cmd.Flags().IntSliceVar(&ids, "ids", nil, "proposal ids to accept")
	cmd.Flags().BoolVar(&skipExisting, "skip-existing", false, "skip any id already present in the destination, regardless of content")

	return cmd
}

func toChunkIDs(ids []int) []layer.ChunkID {
	out := make([]layer.ChunkID, len(ids))
	for i, id := range ids {
		out[i] = layer.ChunkID(id)
	}
	return out
}
