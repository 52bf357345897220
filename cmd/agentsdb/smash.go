package main

import (
	"github.com/spf13/cobra"

	"github.com/krazyjakee/agentsdb/pkg/agentsdberr"
	"github.com/krazyjakee/agentsdb/pkg/cli"
	"github.com/krazyjakee/agentsdb/pkg/ops"
)

func newSmashCmd(flags *rootFlags) *cobra.Command {
	var (
		layers    []string
		limit     int
		allowBase bool
	)

	cmd := &cobra.Command{
		Use:   "smash",
		Short: "Split a layer's oversized chunks into smaller re-embedded pieces",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(layers) == 0 {
				return agentsdberr.NewConfigError("smash: --layers is required (base, user, delta, local)")
			}
			result, err := ops.Smash(cmd.Context(), ops.SmashRequest{
				Dir: flags.dir, Layers: layers, Limit: limit, AllowBase: allowBase,
			})
			if err != nil {
				return err
			}
			p := cli.NewPrinter(cmd.OutOrStdout())
			for _, l := range result.Layers {
				p.Printf("%s: split %d chunk(s), %d total\n", l.Layer, l.SplitCount, l.TotalChunks)
			}
			p.Printf("split %d chunk(s) total across %d layer(s)\n", result.TotalSplitCount, len(result.Layers))
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&layers, "layers", nil, "layers to smash: base, user, delta, local")
	cmd.Flags().IntVar(&limit, "limit", 2000, "byte length past which a chunk's content is split")
	cmd.Flags().BoolVar(&allowBase, "allow-base", false, "allow rewriting AGENTS.db")

	return cmd
}
