package main

import (
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/krazyjakee/agentsdb/pkg/cli"
	"github.com/krazyjakee/agentsdb/pkg/ops"
)

func newCompactCmd(flags *rootFlags) *cobra.Command {
	var into string

	cmd := &cobra.Command{
		Use:   "compact",
		Short: "Merge base and user into one ordered chunk set, or compact every overlay file in place",
		RunE: func(cmd *cobra.Command, args []string) error {
			p := cli.NewPrinter(cmd.OutOrStdout())

			if into != "" {
				n, err := ops.Compact(filepath.Join(flags.dir, into), filepath.Join(flags.dir, "AGENTS.db"), filepath.Join(flags.dir, "AGENTS.user.db"))
				if err != nil {
					return err
				}
				p.Printf("compacted %d chunks into %s\n", n, into)
				return nil
			}

			rewritten, err := ops.CompactAllInDir(flags.dir)
			if err != nil {
				return err
			}
			for _, path := range rewritten {
				p.Println(path)
			}
			p.Printf("compacted %d layer file(s)\n", len(rewritten))
			return nil
		},
	}

	cmd.Flags().StringVar(&into, "into", "", "merge base+user into this file name instead of compacting every overlay in place")

	return cmd
}
