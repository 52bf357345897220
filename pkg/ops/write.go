// Package ops implements the write-path, promote, and compact operations
// that mutate the layer stack: append_chunk (grounded on
// agentsdb-ops/write.rs), promote (grounded on agentsdb-cli's cmd_promote
// plus the richer promote_chunks contract referenced from proposals.rs,
// and on spec.md §4.8 for the parts neither Rust source carries), and
// compact (grounded on agentsdb-cli/commands/compact.rs).
package ops

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/krazyjakee/agentsdb/pkg/agentsdberr"
	"github.com/krazyjakee/agentsdb/pkg/embed"
	"github.com/krazyjakee/agentsdb/pkg/layer"
	"github.com/krazyjakee/agentsdb/pkg/options"
)

// Scope names which overlay a WriteChunk call is allowed to target; it
// must match the file name at Path, matching original_source's scope
// parameter to append_chunk.
type Scope string

const (
	ScopeLocal Scope = "local"
	ScopeDelta Scope = "delta"
)

func (s Scope) fileName() string {
	switch s {
	case ScopeLocal:
		return "AGENTS.local.db"
	case ScopeDelta:
		return "AGENTS.delta.db"
	default:
		return ""
	}
}

// WriteChunkRequest is one chunk to append to a local or delta overlay,
// creating the layer file if it doesn't exist yet.
type WriteChunkRequest struct {
	Path         string
	Scope        Scope
	ID           layer.ChunkID // 0 requests auto-assignment
	Kind         string
	Content      string
	Confidence   float32
	Dim          int // required only when Path does not yet exist
	Sources      []string
	SourceChunks []layer.ChunkID
	ToolName     string
	ToolVersion  string
}

// WriteChunk embeds Content with the directory's resolved (base-layer-only)
// embedder and appends the resulting chunk to Path, creating the layer
// with Dim's schema if it doesn't exist. It only ever targets
// AGENTS.local.db or AGENTS.delta.db — the two layers a non-promote write
// is allowed to touch — and returns the id the chunk was assigned.
func WriteChunk(ctx context.Context, req WriteChunkRequest) (layer.ChunkID, error) {
	wantName := req.Scope.fileName()
	if wantName == "" {
		return 0, fmt.Errorf("ops: unknown write scope %q", req.Scope)
	}
	if filepath.Base(req.Path) != wantName {
		return 0, fmt.Errorf("ops: scope %q only allowed for %s, got path %s", req.Scope, wantName, req.Path)
	}

	dir := filepath.Dir(req.Path)
	sources := toProvenance(req.Sources, req.SourceChunks)

	_, statErr := os.Stat(req.Path)
	switch {
	case statErr == nil:
		return appendToExistingLayer(ctx, req, dir, sources)
	case os.IsNotExist(statErr):
		return createNewLayer(ctx, req, dir, sources)
	default:
		return 0, fmt.Errorf("ops: stat %s: %w", req.Path, statErr)
	}
}

func appendToExistingLayer(ctx context.Context, req WriteChunkRequest, dir string, sources []layer.ProvenanceRef) (layer.ChunkID, error) {
	lf, err := layer.Open(req.Path)
	if err != nil {
		return 0, fmt.Errorf("ops: open %s for append: %w", req.Path, err)
	}
	schema := lf.Schema()
	existing, err := lf.AllChunks()
	if err != nil {
		lf.Close()
		return 0, fmt.Errorf("ops: read existing chunks of %s: %w", req.Path, err)
	}
	if err := lf.Close(); err != nil {
		return 0, fmt.Errorf("ops: close %s: %w", req.Path, err)
	}

	dim := int(schema.Dim)
	embedder, err := resolveEmbedder(ctx, dir, dim)
	if err != nil {
		return 0, err
	}

	assigned := req.ID
	if assigned == 0 {
		var maxID layer.ChunkID
		for _, c := range existing {
			if c.ID > maxID {
				maxID = c.ID
			}
		}
		assigned = maxID + 1
	}

	input, metaBytes, err := buildInput(ctx, embedder, req, assigned, sources)
	if err != nil {
		return 0, err
	}

	if err := layer.Append(req.Path, []layer.Input{input}, metaBytes, layer.WriteOptions{}); err != nil {
		return 0, fmt.Errorf("ops: append chunk to %s: %w", req.Path, err)
	}
	return assigned, nil
}

func createNewLayer(ctx context.Context, req WriteChunkRequest, dir string, sources []layer.ProvenanceRef) (layer.ChunkID, error) {
	if req.Dim <= 0 {
		return 0, agentsdberr.NewConfigError("creating a new layer requires dim")
	}

	embedder, err := resolveEmbedder(ctx, dir, req.Dim)
	if err != nil {
		return 0, err
	}

	assigned := req.ID
	if assigned == 0 {
		assigned = 1
	}

	input, metaBytes, err := buildInput(ctx, embedder, req, assigned, sources)
	if err != nil {
		return 0, err
	}

	schema := layer.Schema{Dim: uint32(req.Dim), ElementType: layer.ElementF32, QuantScale: 1.0}
	if err := layer.Write(req.Path, schema, []layer.Input{input}, metaBytes, layer.WriteOptions{}); err != nil {
		return 0, fmt.Errorf("ops: create layer %s: %w", req.Path, err)
	}
	return assigned, nil
}

func resolveEmbedder(ctx context.Context, dir string, dim int) (embed.Embedder, error) {
	resolved, err := options.GetImmutableOptions(dir)
	if err != nil {
		return nil, fmt.Errorf("ops: resolve immutable embedding options: %w", err)
	}
	if resolved.Dim != 0 && resolved.Dim != dim {
		return nil, agentsdberr.NewConfigError("embedding dim mismatch (layer is dim=%d, options specify dim=%d)", dim, resolved.Dim)
	}
	e, err := resolved.IntoEmbedder(ctx, dim)
	if err != nil {
		return nil, fmt.Errorf("ops: resolve embedder from options: %w", err)
	}
	return e, nil
}

func buildInput(ctx context.Context, e embed.Embedder, req WriteChunkRequest, assigned layer.ChunkID, sources []layer.ProvenanceRef) (layer.Input, []byte, error) {
	vecs, err := e.Embed(ctx, []string{req.Content})
	if err != nil {
		return layer.Input{}, nil, fmt.Errorf("ops: embed chunk content: %w", err)
	}
	var vec []float32
	if len(vecs) > 0 {
		vec = vecs[0]
	} else {
		vec = make([]float32, e.Profile().Dim)
	}

	metaBytes, err := buildLayerMetadata(e.Profile(), e.Metadata(), req.ToolName, req.ToolVersion)
	if err != nil {
		return layer.Input{}, nil, err
	}

	input := layer.Input{
		ID:         assigned,
		Kind:       req.Kind,
		Content:    req.Content,
		Author:     layer.AuthorHuman,
		Confidence: req.Confidence,
		Embedding:  vec,
		Sources:    sources,
	}
	return input, metaBytes, nil
}

func toProvenance(sources []string, sourceChunks []layer.ChunkID) []layer.ProvenanceRef {
	out := make([]layer.ProvenanceRef, 0, len(sources)+len(sourceChunks))
	for _, s := range sources {
		out = append(out, layer.SourceStringRef{Value: s})
	}
	for _, id := range sourceChunks {
		out = append(out, layer.ChunkIDRef{ID: id})
	}
	return out
}
