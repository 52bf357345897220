package main

import (
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/krazyjakee/agentsdb/pkg/agentsdberr"
	"github.com/krazyjakee/agentsdb/pkg/cli"
	"github.com/krazyjakee/agentsdb/pkg/export"
)

func newImportCmd(flags *rootFlags) *cobra.Command {
	var (
		scope       string
		file        string
		dryRun      bool
		dedupe      bool
		preserveIDs bool
		allowBase   bool
		dim         int
	)

	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import a JSON or NDJSON bundle into a layer",
		RunE: func(cmd *cobra.Command, args []string) error {
			if scope == "" {
				return agentsdberr.NewConfigError("import: --scope is required (local, delta, user, or base)")
			}
			data, err := readBundle(cmd, file)
			if err != nil {
				return err
			}

			fileName := scopeLayerFile(scope)
			if fileName == "" {
				return agentsdberr.NewConfigError("import: scope must be local, delta, user, or base")
			}

			outcome, err := export.Import(export.ImportRequest{
				Ctx: cmd.Context(), AbsPath: filepath.Join(flags.dir, fileName), Scope: scope,
				Data: data, DryRun: dryRun, Dedupe: dedupe, PreserveIDs: preserveIDs,
				AllowBase: allowBase, Dim: dim, ToolName: "agentsdb", ToolVersion: Version,
			})
			if err != nil {
				return err
			}

			p := cli.NewPrinter(cmd.OutOrStdout())
			p.Printf("imported %d, skipped %d", outcome.Imported, outcome.Skipped)
			if outcome.DryRun {
				p.Print(" (dry run)")
			}
			p.Println()
			return nil
		},
	}

	cmd.Flags().StringVar(&scope, "scope", "", "destination scope: local, delta, user, or base")
	cmd.Flags().StringVar(&file, "file", "-", "bundle file to import, or - for stdin")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "report counts without writing")
	cmd.Flags().BoolVar(&dedupe, "dedupe", false, "skip chunks whose content hash already exists in the target")
	cmd.Flags().BoolVar(&preserveIDs, "preserve-ids", false, "reuse the bundle's chunk ids instead of reassigning them")
	cmd.Flags().BoolVar(&allowBase, "allow-base", false, "allow writing to AGENTS.db")
	cmd.Flags().IntVar(&dim, "dim", 0, "embedding dim, required only when creating a new layer from content-only chunks")

	return cmd
}

func scopeLayerFile(scope string) string {
	switch scope {
	case "local":
		return "AGENTS.local.db"
	case "delta":
		return "AGENTS.delta.db"
	case "user":
		return "AGENTS.user.db"
	case "base":
		return "AGENTS.db"
	default:
		return ""
	}
}

func readBundle(cmd *cobra.Command, file string) ([]byte, error) {
	if file == "" || file == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, agentsdberr.NewConfigError("import: read %s: %v", file, err)
	}
	return data, nil
}
