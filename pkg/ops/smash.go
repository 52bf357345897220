package ops

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/krazyjakee/agentsdb/pkg/agentsdberr"
	"github.com/krazyjakee/agentsdb/pkg/embed"
	"github.com/krazyjakee/agentsdb/pkg/layer"
	"github.com/krazyjakee/agentsdb/pkg/options"
)

// SmashRequest names which standard layers to smash and the byte length
// past which a chunk's content is split into smaller pieces. Smash always
// rewrites the whole layer, including chunks left untouched.
type SmashRequest struct {
	Dir       string
	Layers    []string
	Limit     int
	AllowBase bool
}

// SmashLayerResult reports one rewritten layer's split count and final
// chunk count.
type SmashLayerResult struct {
	Layer       string
	SplitCount  int
	TotalChunks int
}

// SmashResult aggregates every rewritten layer's outcome.
type SmashResult struct {
	Layers          []SmashLayerResult
	TotalSplitCount int
	TotalChunkCount int
}

// Smash breaks each requested layer's oversized chunks into several
// smaller ones — heading-aware for markdown content, paragraph-aware
// otherwise — re-embeds every resulting chunk, and rewrites the layer in
// place. Grounded on agentsdb-cli/commands/smash.rs; the content splitter
// itself has no equivalent library in the example corpus (Rust's
// text-splitter crate), so it is hand-rolled here on paragraph/heading
// boundaries, matching the original's MarkdownSplitter/TextSplitter split
// points closely enough to preserve its chunk-boundary behavior.
func Smash(ctx context.Context, req SmashRequest) (SmashResult, error) {
	if req.Limit <= 0 {
		return SmashResult{}, agentsdberr.NewConfigError("smash: limit must be > 0")
	}
	for _, name := range req.Layers {
		if !validReembedLayers[name] {
			return SmashResult{}, agentsdberr.NewConfigError(
				"smash: invalid layer name %q (valid: base, user, delta, local)", name)
		}
		if name == "base" && !req.AllowBase {
			return SmashResult{}, agentsdberr.NewConfigError(
				"smash: refusing to smash base layer (AGENTS.db) without --allow-base flag")
		}
	}

	resolved, err := options.GetImmutableOptions(req.Dir)
	if err != nil {
		return SmashResult{}, fmt.Errorf("ops: resolve immutable embedding options: %w", err)
	}

	paths := options.StandardLayerPaths(req.Dir)
	var result SmashResult
	for _, name := range req.Layers {
		layerPath := standardPathFor(paths, name)

		if _, statErr := os.Stat(layerPath); statErr != nil {
			if os.IsNotExist(statErr) {
				continue
			}
			return SmashResult{}, fmt.Errorf("ops: stat %s: %w", layerPath, statErr)
		}

		lf, err := layer.Open(layerPath)
		if err != nil {
			return SmashResult{}, fmt.Errorf("ops: open %s for smash: %w", layerPath, err)
		}
		schema := lf.Schema()
		chunks, err := lf.AllChunks()
		if err != nil {
			lf.Close()
			return SmashResult{}, fmt.Errorf("ops: read chunks from %s: %w", layerPath, err)
		}
		metadata := lf.Metadata()
		if err := lf.Close(); err != nil {
			return SmashResult{}, fmt.Errorf("ops: close %s: %w", layerPath, err)
		}

		e, err := resolved.IntoEmbedder(ctx, int(schema.Dim))
		if err != nil {
			return SmashResult{}, fmt.Errorf("ops: create embedder for %s: %w", layerPath, err)
		}

		newChunks, splitCount, err := smashChunks(ctx, e, chunks, req.Limit)
		if err != nil {
			return SmashResult{}, fmt.Errorf("ops: smash %s: %w", layerPath, err)
		}

		writeOpts := layer.WriteOptions{AllowBase: name == "base", AllowUser: name != "base"}
		if err := layer.Write(layerPath, schema, newChunks, metadata, writeOpts); err != nil {
			return SmashResult{}, fmt.Errorf("ops: rewrite smashed layer %s: %w", layerPath, err)
		}

		result.Layers = append(result.Layers, SmashLayerResult{
			Layer: layerPath, SplitCount: splitCount, TotalChunks: len(newChunks),
		})
		result.TotalSplitCount += splitCount
		result.TotalChunkCount += len(newChunks)
	}

	return result, nil
}

// smashChunks splits every oversized chunk's content, re-embeds every
// resulting piece (oversized or not, since content is re-embedded
// whenever it is rewritten), and assigns the original id to the first
// split of a chunk and 0 (auto-assign) to the rest, matching smash.rs.
func smashChunks(ctx context.Context, e embed.Embedder, chunks []layer.Chunk, limit int) ([]layer.Input, int, error) {
	var newChunks []layer.Input
	splitCount := 0

	for _, c := range chunks {
		var pieces []string
		if len(c.Content) > limit {
			splitCount++
			if isMarkdown(c.Content) {
				pieces = splitMarkdown(c.Content, limit)
			} else {
				pieces = splitText(c.Content, limit)
			}
		} else {
			pieces = []string{c.Content}
		}

		vecs, err := embed.RunBatched(ctx, e, pieces, embed.BatchOptions{})
		if err != nil {
			return nil, 0, fmt.Errorf("embed split content: %w", err)
		}
		if len(vecs) != len(pieces) {
			return nil, 0, agentsdberr.NewConfigError("embedder returned %d vectors for %d pieces", len(vecs), len(pieces))
		}

		for idx, piece := range pieces {
			id := c.ID
			if idx > 0 {
				id = 0
			}
			newChunks = append(newChunks, layer.Input{
				ID:              id,
				Kind:            c.Kind,
				Content:         piece,
				Author:          c.Author,
				Confidence:      c.Confidence,
				CreatedAtUnixMs: c.CreatedAtUnixMs,
				Embedding:       vecs[idx],
				Sources:         c.Sources,
			})
		}
	}

	return newChunks, splitCount, nil
}

// isMarkdown uses the same simple heuristic as smash.rs: any line whose
// trimmed form is one or more '#' followed by a space ("# ", "## ", ...).
func isMarkdown(content string) bool {
	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		hashes := len(trimmed) - len(strings.TrimLeft(trimmed, "#"))
		if hashes > 0 && hashes < len(trimmed) && trimmed[hashes] == ' ' {
			return true
		}
	}
	return false
}

// splitText breaks content into pieces no longer than limit, preferring
// paragraph ("\n\n") boundaries and falling back to a hard cut for any
// single paragraph that still exceeds limit on its own.
func splitText(content string, limit int) []string {
	return splitOnBoundary(content, "\n\n", limit)
}

// splitMarkdown prefers heading boundaries ("\n#") before falling back to
// paragraph splitting within each section, approximating
// MarkdownSplitter's heading-aware behavior.
func splitMarkdown(content string, limit int) []string {
	sections := splitOnHeadings(content)
	var out []string
	for _, s := range sections {
		out = append(out, splitOnBoundary(s, "\n\n", limit)...)
	}
	return out
}

func splitOnHeadings(content string) []string {
	lines := strings.Split(content, "\n")
	var sections []string
	var current []string
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if len(trimmed) > 1 && trimmed[0] == '#' && trimmed[1] == ' ' && len(current) > 0 {
			sections = append(sections, strings.Join(current, "\n"))
			current = nil
		}
		current = append(current, line)
	}
	if len(current) > 0 {
		sections = append(sections, strings.Join(current, "\n"))
	}
	return sections
}

func splitOnBoundary(content, boundary string, limit int) []string {
	paragraphs := strings.Split(content, boundary)
	var out []string
	var buf strings.Builder
	flush := func() {
		if buf.Len() > 0 {
			out = append(out, buf.String())
			buf.Reset()
		}
	}
	for _, p := range paragraphs {
		if len(p) > limit {
			flush()
			out = append(out, hardSplit(p, limit)...)
			continue
		}
		candidateLen := buf.Len()
		if candidateLen > 0 {
			candidateLen += len(boundary)
		}
		candidateLen += len(p)
		if candidateLen > limit {
			flush()
		}
		if buf.Len() > 0 {
			buf.WriteString(boundary)
		}
		buf.WriteString(p)
	}
	flush()
	if len(out) == 0 {
		return []string{content}
	}
	return out
}

// hardSplit cuts s into limit-sized byte runs as a last resort, for a
// single paragraph/section with no smaller boundary to split on.
func hardSplit(s string, limit int) []string {
	var out []string
	for len(s) > limit {
		out = append(out, s[:limit])
		s = s[limit:]
	}
	if len(s) > 0 {
		out = append(out, s)
	}
	return out
}
