package main

import (
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/krazyjakee/agentsdb/pkg/agentsdberr"
	"github.com/krazyjakee/agentsdb/pkg/cli"
	"github.com/krazyjakee/agentsdb/pkg/ops"
)

func newPromoteCmd(flags *rootFlags) *cobra.Command {
	var (
		from          string
		to            string
		ids           []int
		skipExisting  bool
		emitTombstone bool
	)

	cmd := &cobra.Command{
		Use:   "promote",
		Short: "Copy chunk ids from one layer to another along the legal promote flows",
		RunE: func(cmd *cobra.Command, args []string) error {
			if from == "" || to == "" {
				return agentsdberr.NewConfigError("promote: --from and --to are required")
			}
			outcome, err := ops.Promote(ops.PromoteRequest{
				FromPath:      filepath.Join(flags.dir, from),
				ToPath:        filepath.Join(flags.dir, to),
				IDs:           toChunkIDs(ids),
				SkipExisting:  skipExisting,
				EmitTombstone: emitTombstone,
			})
			if err != nil {
				return err
			}

			p := cli.NewPrinter(cmd.OutOrStdout())
			p.Printf("promoted %d, skipped %d\n", len(outcome.Promoted), len(outcome.Skipped))
			return nil
		},
	}

	cmd.Flags().StringVar(&from, "from", "", "source layer file name (e.g. AGENTS.delta.db)")
	cmd.Flags().StringVar(&to, "to", "", "destination layer file name (e.g. AGENTS.user.db)")
	cmd.Flags().IntSliceVar(&ids, "ids", nil, "chunk ids to promote")
	cmd.Flags().BoolVar(&skipExisting, "skip-existing", false, "skip any id already present in the destination, regardless of content")
	cmd.Flags().BoolVar(&emitTombstone, "tombstone", false, "tombstone the moved ids in the source layer")

	return cmd
}
