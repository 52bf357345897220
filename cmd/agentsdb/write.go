package main

import (
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/krazyjakee/agentsdb/pkg/agentsdberr"
	"github.com/krazyjakee/agentsdb/pkg/cli"
	"github.com/krazyjakee/agentsdb/pkg/ops"
)

func newWriteCmd(flags *rootFlags) *cobra.Command {
	var (
		scope      string
		kind       string
		content    string
		confidence float32
		dim        int
		sources    []string
	)

	cmd := &cobra.Command{
		Use:   "write",
		Short: "Append a chunk to the local or delta overlay",
		RunE: func(cmd *cobra.Command, args []string) error {
			var sc ops.Scope
			switch scope {
			case "local":
				sc = ops.ScopeLocal
			case "delta":
				sc = ops.ScopeDelta
			default:
				return agentsdberr.NewConfigError("write: --scope must be local or delta, got %q", scope)
			}

			path := filepath.Join(flags.dir, scopeFileName(sc))
			id, err := ops.WriteChunk(cmd.Context(), ops.WriteChunkRequest{
				Path: path, Scope: sc, Kind: kind, Content: content,
				Confidence: confidence, Dim: dim, Sources: sources,
				ToolName: "agentsdb", ToolVersion: Version,
			})
			if err != nil {
				return err
			}
			cli.NewPrinter(cmd.OutOrStdout()).Printf("wrote chunk %d to %s\n", id, path)
			return nil
		},
	}

	cmd.Flags().StringVar(&scope, "scope", "local", "overlay to write into: local or delta")
	cmd.Flags().StringVar(&kind, "kind", "fact", "chunk kind")
	cmd.Flags().StringVar(&content, "content", "", "chunk content (required)")
	cmd.Flags().Float32Var(&confidence, "confidence", 1.0, "confidence in [0,1]")
	cmd.Flags().IntVar(&dim, "dim", 0, "embedding dimension, required only when the overlay doesn't exist yet")
	cmd.Flags().StringSliceVar(&sources, "source", nil, "free-text provenance source, may be repeated")
	_ = cmd.MarkFlagRequired("content")

	return cmd
}

func scopeFileName(s ops.Scope) string {
	switch s {
	case ops.ScopeLocal:
		return "AGENTS.local.db"
	case ops.ScopeDelta:
		return "AGENTS.delta.db"
	default:
		return ""
	}
}
