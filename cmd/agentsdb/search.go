package main

import (
	"github.com/spf13/cobra"

	"github.com/krazyjakee/agentsdb/pkg/agentsdberr"
	"github.com/krazyjakee/agentsdb/pkg/cli"
	"github.com/krazyjakee/agentsdb/pkg/ops"
	"github.com/krazyjakee/agentsdb/pkg/options"
	"github.com/krazyjakee/agentsdb/pkg/query"
)

func newSearchCmd(flags *rootFlags) *cobra.Command {
	var (
		queryText     string
		k             int
		kinds         []string
		mode          string
		useIndex      bool
		lexicalWeight float64
		rrfK          int
	)

	cmd := &cobra.Command{
		Use:   "search",
		Short: "Search the layer stack by embedding the query text and ranking chunks",
		RunE: func(cmd *cobra.Command, args []string) error {
			if queryText == "" {
				return agentsdberr.NewConfigError("search: --query must not be empty")
			}

			paths := options.StandardLayerPaths(flags.dir)
			ls := query.LayerSet{Base: paths.Base, User: paths.User, Delta: paths.Delta, Local: paths.Local}
			opened, err := ls.Open()
			if err != nil {
				return err
			}
			defer func() {
				for _, o := range opened {
					o.File.Close()
				}
			}()
			if len(opened) == 0 {
				cli.NewPrinter(cmd.OutOrStdout()).Println("no layers found")
				return nil
			}

			resolved, err := options.GetImmutableOptions(flags.dir)
			if err != nil {
				return err
			}
			dim := int(opened[0].File.Schema().Dim)
			embedder, err := resolved.IntoEmbedder(cmd.Context(), dim)
			if err != nil {
				return err
			}
			vecs, err := embedder.Embed(cmd.Context(), []string{queryText})
			if err != nil {
				return err
			}

			q := query.SearchQuery{Embedding: vecs[0], K: k, Filters: query.SearchFilters{Kinds: kinds}, QueryText: queryText}

			var hits []query.SearchResult
			switch mode {
			case "", "semantic":
				hits, err = query.SearchLayersWithOptions(opened, q, query.NewSearchOptions(query.ModeSemantic, useIndex))
			case "hybrid":
				opts := query.NewSearchOptions(query.ModeHybrid, useIndex, query.WithLexicalWeight(lexicalWeight))
				hits, err = query.SearchLayersWithOptions(opened, q, opts)
			case "rrf":
				hits, err = ops.RerankRRF(opened, q, rrfK)
			default:
				return agentsdberr.NewConfigError("search: --mode must be semantic, hybrid, or rrf, got %q", mode)
			}
			if err != nil {
				return err
			}

			p := cli.NewPrinter(cmd.OutOrStdout())
			for _, h := range hits {
				p.Printf("%.4f  [%s]  #%d  %s\n", h.Score, h.Layer, h.Chunk.ID, truncate(h.Chunk.Content, 120))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&queryText, "query", "", "query text (required)")
	cmd.Flags().IntVar(&k, "k", 10, "max results to return")
	cmd.Flags().StringSliceVar(&kinds, "kind", nil, "restrict results to these chunk kinds, may be repeated")
	cmd.Flags().StringVar(&mode, "mode", "semantic", "scoring mode: semantic, hybrid, or rrf")
	cmd.Flags().BoolVar(&useIndex, "index", false, "use the .agix sidecar's precomputed norms and rows when available")
	cmd.Flags().Float64Var(&lexicalWeight, "lexical-weight", 0, "hybrid mode's lexical score weight (default 0.5)")
	cmd.Flags().IntVar(&rrfK, "rrf-k", 60, "rrf mode's rank-fusion k constant")
	_ = cmd.MarkFlagRequired("query")

	return cmd
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}
