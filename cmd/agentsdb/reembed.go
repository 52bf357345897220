package main

import (
	"github.com/spf13/cobra"

	"github.com/krazyjakee/agentsdb/pkg/agentsdberr"
	"github.com/krazyjakee/agentsdb/pkg/cli"
	"github.com/krazyjakee/agentsdb/pkg/ops"
)

func newReembedCmd(flags *rootFlags) *cobra.Command {
	var (
		layers    []string
		allowBase bool
	)

	cmd := &cobra.Command{
		Use:   "reembed",
		Short: "Re-run the configured embedder over a layer's chunks and rewrite it in place",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(layers) == 0 {
				return agentsdberr.NewConfigError("reembed: --layers is required (base, user, delta, local)")
			}
			result, err := ops.Reembed(cmd.Context(), ops.ReembedRequest{Dir: flags.dir, Layers: layers, AllowBase: allowBase})
			if err != nil {
				return err
			}
			p := cli.NewPrinter(cmd.OutOrStdout())
			p.Printf("re-embedded %d chunk(s) across %v using %s/%s\n", result.TotalChunks, result.ReembeddedLayers, result.Backend, result.Model)
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&layers, "layers", nil, "layers to re-embed: base, user, delta, local")
	cmd.Flags().BoolVar(&allowBase, "allow-base", false, "allow re-embedding AGENTS.db")

	return cmd
}
