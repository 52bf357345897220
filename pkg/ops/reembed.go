package ops

import (
	"context"
	"fmt"
	"os"

	"github.com/krazyjakee/agentsdb/pkg/agentsdberr"
	"github.com/krazyjakee/agentsdb/pkg/embed"
	"github.com/krazyjakee/agentsdb/pkg/layer"
	"github.com/krazyjakee/agentsdb/pkg/options"
)

// ReembedRequest names which standard layers to re-embed: "base", "user",
// "delta", "local". Base requires AllowBase, matching original_source's
// --allow-base flag (re-embedding base is destructive to the layer every
// other overlay assumes is stable).
type ReembedRequest struct {
	Dir       string
	Layers    []string
	AllowBase bool
}

// ReembedResult reports which layers were actually rewritten and how many
// chunks were touched in total.
type ReembedResult struct {
	ReembeddedLayers []string
	TotalChunks      int
	Backend          string
	Model            string
}

var validReembedLayers = map[string]bool{"base": true, "user": true, "delta": true, "local": true}

// Reembed re-runs the directory's configured embedder over every chunk of
// each requested layer and rewrites that layer in place, preserving its
// existing metadata bytes unchanged. Grounded on
// agentsdb-cli/commands/reembed.rs.
func Reembed(ctx context.Context, req ReembedRequest) (ReembedResult, error) {
	for _, name := range req.Layers {
		if !validReembedLayers[name] {
			return ReembedResult{}, agentsdberr.NewConfigError(
				"reembed: invalid layer name %q (valid: base, user, delta, local)", name)
		}
		if name == "base" && !req.AllowBase {
			return ReembedResult{}, agentsdberr.NewConfigError(
				"reembed: refusing to re-embed base layer (AGENTS.db) without --allow-base flag")
		}
	}

	resolved, err := options.GetImmutableOptions(req.Dir)
	if err != nil {
		return ReembedResult{}, fmt.Errorf("ops: resolve immutable embedding options: %w", err)
	}

	paths := options.StandardLayerPaths(req.Dir)
	var result ReembedResult
	for _, name := range req.Layers {
		layerPath := standardPathFor(paths, name)

		if _, statErr := os.Stat(layerPath); statErr != nil {
			if os.IsNotExist(statErr) {
				continue
			}
			return ReembedResult{}, fmt.Errorf("ops: stat %s: %w", layerPath, statErr)
		}

		lf, err := layer.Open(layerPath)
		if err != nil {
			return ReembedResult{}, fmt.Errorf("ops: open %s for reembed: %w", layerPath, err)
		}
		schema := lf.Schema()
		chunks, err := lf.AllChunks()
		if err != nil {
			lf.Close()
			return ReembedResult{}, fmt.Errorf("ops: read chunks from %s: %w", layerPath, err)
		}
		metadata := lf.Metadata()
		if err := lf.Close(); err != nil {
			return ReembedResult{}, fmt.Errorf("ops: close %s: %w", layerPath, err)
		}
		if len(chunks) == 0 {
			continue
		}

		e, err := resolved.IntoEmbedder(ctx, int(schema.Dim))
		if err != nil {
			return ReembedResult{}, fmt.Errorf("ops: create embedder for %s: %w", layerPath, err)
		}

		contents := make([]string, len(chunks))
		for i, c := range chunks {
			contents[i] = c.Content
		}
		vecs, err := embed.RunBatched(ctx, e, contents, embed.BatchOptions{})
		if err != nil {
			return ReembedResult{}, fmt.Errorf("ops: embed %s chunks: %w", layerPath, err)
		}
		if len(vecs) != len(chunks) {
			return ReembedResult{}, agentsdberr.NewConfigError(
				"reembed: embedder returned %d vectors for %d chunks in %s", len(vecs), len(chunks), layerPath)
		}

		inputs := make([]layer.Input, len(chunks))
		for i, c := range chunks {
			if len(vecs[i]) != int(schema.Dim) {
				return ReembedResult{}, agentsdberr.NewSchemaMismatch("embedding dim")
			}
			in := chunkToInput(c)
			in.Embedding = vecs[i]
			inputs[i] = in
		}

		writeOpts := layer.WriteOptions{AllowBase: name == "base", AllowUser: name != "base"}
		if err := layer.Write(layerPath, schema, inputs, metadata, writeOpts); err != nil {
			return ReembedResult{}, fmt.Errorf("ops: rewrite reembedded layer %s: %w", layerPath, err)
		}

		result.ReembeddedLayers = append(result.ReembeddedLayers, layerPath)
		result.TotalChunks += len(inputs)
		result.Backend = e.Profile().Backend
		result.Model = e.Profile().Model
	}

	return result, nil
}

func standardPathFor(paths options.StandardPaths, name string) string {
	switch name {
	case "base":
		return paths.Base
	case "user":
		return paths.User
	case "delta":
		return paths.Delta
	case "local":
		return paths.Local
	default:
		return ""
	}
}
