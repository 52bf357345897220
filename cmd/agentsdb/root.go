// Package main implements the agentsdb CLI: a thin spf13/cobra shell
// wiring write/search/promote/compact/propose/accept/reject/export/
// import/reembed/smash subcommands onto the pkg/ops, pkg/proposal,
// pkg/export and pkg/query engines. Grounded on vvoland-cagent's
// cmd/root package (NewRootCmd/Execute shape, PersistentPreRunE logging
// setup, RunE-returns-error command style); that repo's own main.go at
// module root does not actually invoke cmd/root (it is a stale,
// differently-rooted entrypoint left over from an earlier version of the
// tool), so this package's own main.go is written directly against the
// cmd/root pattern rather than copied from it.
package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

type rootFlags struct {
	dir       string
	debugMode bool
}

// NewRootCmd builds the agentsdb command tree.
func NewRootCmd() *cobra.Command {
	var flags rootFlags

	cmd := &cobra.Command{
		Use:   "agentsdb",
		Short: "agentsdb - layered append-only vector-search knowledge store",
		Long:  "agentsdb is a command-line tool for writing, searching, and curating a layered knowledge store",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			level := slog.LevelInfo
			if flags.debugMode {
				level = slog.LevelDebug
			}
			slog.SetDefault(slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level})))
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	cmd.PersistentFlags().StringVar(&flags.dir, "dir", ".", "database directory containing the AGENTS.*.db layer files")
	cmd.PersistentFlags().BoolVarP(&flags.debugMode, "debug", "d", false, "enable debug logging")

	cmd.AddCommand(newWriteCmd(&flags))
	cmd.AddCommand(newSearchCmd(&flags))
	cmd.AddCommand(newPromoteCmd(&flags))
	cmd.AddCommand(newCompactCmd(&flags))
	cmd.AddCommand(newProposeCmd(&flags))
	cmd.AddCommand(newAcceptCmd(&flags))
	cmd.AddCommand(newRejectCmd(&flags))
	cmd.AddCommand(newExportCmd(&flags))
	cmd.AddCommand(newImportCmd(&flags))
	cmd.AddCommand(newReembedCmd(&flags))
	cmd.AddCommand(newSmashCmd(&flags))
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// Execute runs the agentsdb CLI with the given stdio and args. It follows
// the teacher's Execute(ctx, stdin, stdout, stderr, args...) shape minus
// the context parameter.
func Execute(stdin io.Reader, stdout, stderr io.Writer, args ...string) error {
	rootCmd := NewRootCmd()
	rootCmd.SetArgs(args)
	rootCmd.SetIn(stdin)
	rootCmd.SetOut(stdout)
	rootCmd.SetErr(stderr)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(stderr, err)
		return err
	}
	return nil
}

func main() {
	if err := Execute(os.Stdin, os.Stdout, os.Stderr, os.Args[1:]...); err != nil {
		os.Exit(1)
	}
}
