package main

import (
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/krazyjakee/agentsdb/pkg/agentsdberr"
	"github.com/krazyjakee/agentsdb/pkg/cli"
	"github.com/krazyjakee/agentsdb/pkg/export"
)

var standardLayerFiles = []string{"AGENTS.db", "AGENTS.user.db", "AGENTS.delta.db", "AGENTS.local.db"}

func newExportCmd(flags *rootFlags) *cobra.Command {
	var (
		layerName string
		format    string
		redact    string
		out       string
	)

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export one or every layer to a JSON or NDJSON bundle",
		RunE: func(cmd *cobra.Command, args []string) error {
			var inputs []export.LayerInput
			if layerName != "" {
				inputs = []export.LayerInput{{AbsPath: filepath.Join(flags.dir, layerName), RelPath: layerName}}
			} else {
				for _, name := range standardLayerFiles {
					inputs = append(inputs, export.LayerInput{AbsPath: filepath.Join(flags.dir, name), RelPath: name})
				}
			}

			_, body, err := export.Layers(inputs, export.Options{
				Format: format, Redact: redact, ToolName: "agentsdb", ToolVersion: Version,
			})
			if err != nil {
				return err
			}

			if out == "" || out == "-" {
				_, err := cmd.OutOrStdout().Write(body)
				return err
			}
			if err := os.WriteFile(out, body, 0o644); err != nil {
				return agentsdberr.NewConfigError("export: write %s: %v", out, err)
			}
			cli.NewPrinter(cmd.OutOrStdout()).Printf("wrote %s\n", out)
			return nil
		},
	}

	cmd.Flags().StringVar(&layerName, "layer", "", "a single layer file name; exports every standard layer if omitted")
	cmd.Flags().StringVar(&format, "format", "json", "bundle form: json or ndjson")
	cmd.Flags().StringVar(&redact, "redact", "none", "redaction mode: none, content, embeddings, or all")
	cmd.Flags().StringVar(&out, "out", "-", "output file, or - for stdout")

	return cmd
}
