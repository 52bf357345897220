package main

import (
	"github.com/spf13/cobra"

	"github.com/krazyjakee/agentsdb/pkg/agentsdberr"
	"github.com/krazyjakee/agentsdb/pkg/cli"
	"github.com/krazyjakee/agentsdb/pkg/layer"
	"github.com/krazyjakee/agentsdb/pkg/proposal"
)

func newProposeCmd(flags *rootFlags) *cobra.Command {
	var (
		contextID int
		from, to  string
		title     string
		why       string
		what      string
		where     string
		dim       int
	)

	cmd := &cobra.Command{
		Use:   "propose",
		Short: "Propose promoting a chunk from one layer to another",
		RunE: func(cmd *cobra.Command, args []string) error {
			if contextID == 0 {
				return agentsdberr.NewConfigError("propose: --context-id is required")
			}
			paths := proposal.StandardResolvedPaths(flags.dir)
			id, err := proposal.Propose(paths.ProposalsLayer, proposal.ProposeRequest{
				ContextID: layer.ChunkID(contextID), FromPath: from, ToPath: to,
				Title: title, Why: why, What: what, Where: where,
			}, dim)
			if err != nil {
				return err
			}
			cli.NewPrinter(cmd.OutOrStdout()).Printf("proposal %d created\n", id)
			return nil
		},
	}

	cmd.Flags().IntVar(&contextID, "context-id", 0, "chunk id being proposed for promotion (required)")
	cmd.Flags().StringVar(&from, "from", "", "source layer file name (defaults to AGENTS.delta.db)")
	cmd.Flags().StringVar(&to, "to", "", "destination layer file name (defaults to AGENTS.user.db)")
	cmd.Flags().StringVar(&title, "title", "", "short proposal title")
	cmd.Flags().StringVar(&why, "why", "", "why this chunk should be promoted")
	cmd.Flags().StringVar(&what, "what", "", "what the chunk contains")
	cmd.Flags().StringVar(&where, "where", "", "where the chunk came from")
	cmd.Flags().IntVar(&dim, "dim", 0, "embedding dim, required only when the proposals layer doesn't exist yet")
	_ = cmd.MarkFlagRequired("context-id")

	cmd.AddCommand(newProposalsListCmd(flags))

	return cmd
}

func newProposalsListCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List every proposal and its current status",
		RunE: func(cmd *cobra.Command, args []string) error {
			paths := proposal.StandardResolvedPaths(flags.dir)
			states, err := proposal.LoadStates(paths.ProposalsLayer)
			if err != nil {
				return err
			}
			p := cli.NewPrinter(cmd.OutOrStdout())
			for _, id := range proposal.SortedProposalIDs(states) {
				s := states[id]
				p.Printf("%d  %-8s  context=%d  %s -> %s  %q\n", id, s.Status, s.ContextID, s.FromPath, s.ToPath, s.Title)
			}
			return nil
		},
	}
}
