package ops

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/krazyjakee/agentsdb/pkg/agentsdberr"
	"github.com/krazyjakee/agentsdb/pkg/layer"
)

// legalPromoteFlows is the static table of (from, to) layer kinds a
// promote is allowed to target; every other pair is rejected.
var legalPromoteFlows = map[[2]string]bool{
	{"local", "delta"}: true,
	{"local", "user"}:  true,
	{"user", "delta"}:  true,
	{"delta", "user"}:  true,
	{"delta", "base"}:  true,
}

func layerKindOf(path string) string {
	switch filepath.Base(path) {
	case "AGENTS.db":
		return "base"
	case "AGENTS.user.db":
		return "user"
	case "AGENTS.delta.db":
		return "delta"
	case "AGENTS.local.db":
		return "local"
	default:
		return ""
	}
}

// PromoteRequest copies a set of chunk ids from one layer to another.
type PromoteRequest struct {
	FromPath      string
	ToPath        string
	IDs           []layer.ChunkID
	SkipExisting  bool
	EmitTombstone bool
}

// PromoteOutcome reports what a promote call actually did: ids newly
// appended to the destination, and ids left alone because the
// destination already carried byte-identical content (or, with
// SkipExisting, any already-present id regardless of content).
type PromoteOutcome struct {
	Promoted []layer.ChunkID
	Skipped  []layer.ChunkID
}

// Promote copies req.IDs from req.FromPath to req.ToPath, enforcing the
// legal promote-flow table, coercing each promoted chunk's author to
// "human", and optionally tombstoning the moved ids in the source layer.
func Promote(req PromoteRequest) (PromoteOutcome, error) {
	if len(req.IDs) == 0 {
		return PromoteOutcome{}, agentsdberr.NewConfigError("promote: ids must be non-empty")
	}

	fromKind, toKind := layerKindOf(req.FromPath), layerKindOf(req.ToPath)
	if !legalPromoteFlows[[2]string{fromKind, toKind}] {
		return PromoteOutcome{}, agentsdberr.NewConfigError(
			"promote: illegal flow %s -> %s (from=%s to=%s)", fromKind, toKind, req.FromPath, req.ToPath)
	}

	fromFile, err := layer.Open(req.FromPath)
	if err != nil {
		return PromoteOutcome{}, fmt.Errorf("ops: open promote source %s: %w", req.FromPath, err)
	}
	fromSchema := fromFile.Schema()
	fromChunks, err := fromFile.AllChunks()
	if err != nil {
		fromFile.Close()
		return PromoteOutcome{}, fmt.Errorf("ops: read promote source %s: %w", req.FromPath, err)
	}
	if err := fromFile.Close(); err != nil {
		return PromoteOutcome{}, fmt.Errorf("ops: close promote source %s: %w", req.FromPath, err)
	}

	byID := make(map[layer.ChunkID]layer.Chunk, len(fromChunks))
	for _, c := range fromChunks {
		byID[c.ID] = c
	}

	candidates := make([]layer.Input, 0, len(req.IDs))
	for _, id := range req.IDs {
		c, ok := byID[id]
		if !ok {
			return PromoteOutcome{}, agentsdberr.NewConfigError("promote: id %d not found in %s", id, req.FromPath)
		}
		in := chunkToInput(c)
		in.Author = layer.AuthorHuman
		candidates = append(candidates, in)
	}

	existing, existingOpened, err := openIfPresent(req.ToPath)
	if err != nil {
		return PromoteOutcome{}, err
	}
	if existingOpened {
		if !existing.schema.Equal(fromSchema) {
			return PromoteOutcome{}, agentsdberr.NewConfigError(
				"promote: schema mismatch between %s and %s", req.FromPath, req.ToPath)
		}
	}

	var outcome PromoteOutcome
	toAppend := make([]layer.Input, 0, len(candidates))
	for _, in := range candidates {
		existingChunk, present := existing.byID[in.ID]
		switch {
		case !present:
			toAppend = append(toAppend, in)
			outcome.Promoted = append(outcome.Promoted, in.ID)
		case req.SkipExisting:
			outcome.Skipped = append(outcome.Skipped, in.ID)
		case byteEqual(existingChunk, in):
			outcome.Skipped = append(outcome.Skipped, in.ID)
		default:
			return PromoteOutcome{}, agentsdberr.NewConfigError(
				"promote: id %d already exists in %s with different content (pass skip_existing to allow)", in.ID, req.ToPath)
		}
	}

	writeOpts := layer.WriteOptions{AllowBase: toKind == "base", AllowUser: toKind == "user"}
	if len(toAppend) > 0 {
		if existingOpened {
			if err := layer.Append(req.ToPath, toAppend, nil, writeOpts); err != nil {
				return PromoteOutcome{}, fmt.Errorf("ops: append promoted chunks to %s: %w", req.ToPath, err)
			}
		} else {
			if err := layer.Write(req.ToPath, fromSchema, toAppend, nil, writeOpts); err != nil {
				return PromoteOutcome{}, fmt.Errorf("ops: create promote destination %s: %w", req.ToPath, err)
			}
		}
	}

	if req.EmitTombstone && len(outcome.Promoted) > 0 {
		if err := emitTombstone(req.FromPath, req.ToPath, fromSchema, outcome.Promoted, fromKind); err != nil {
			return outcome, err
		}
	}

	return outcome, nil
}

type destinationLayer struct {
	schema layer.Schema
	byID   map[layer.ChunkID]layer.Chunk
}

func openIfPresent(path string) (destinationLayer, bool, error) {
	if _, statErr := os.Stat(path); statErr != nil {
		if os.IsNotExist(statErr) {
			return destinationLayer{byID: map[layer.ChunkID]layer.Chunk{}}, false, nil
		}
		return destinationLayer{}, false, fmt.Errorf("ops: stat promote destination %s: %w", path, statErr)
	}

	lf, err := layer.Open(path)
	if err != nil {
		return destinationLayer{}, false, fmt.Errorf("ops: open promote destination %s: %w", path, err)
	}
	schema := lf.Schema()
	chunks, err := lf.AllChunks()
	if err != nil {
		lf.Close()
		return destinationLayer{}, false, fmt.Errorf("ops: read promote destination %s: %w", path, err)
	}
	if err := lf.Close(); err != nil {
		return destinationLayer{}, false, fmt.Errorf("ops: close promote destination %s: %w", path, err)
	}
	byID := make(map[layer.ChunkID]layer.Chunk, len(chunks))
	for _, c := range chunks {
		byID[c.ID] = c
	}
	return destinationLayer{schema: schema, byID: byID}, true, nil
}

func byteEqual(existing layer.Chunk, in layer.Input) bool {
	if existing.Content != in.Content {
		return false
	}
	if len(existing.Embedding) != len(in.Embedding) {
		return false
	}
	for i := range existing.Embedding {
		if existing.Embedding[i] != in.Embedding[i] {
			return false
		}
	}
	return true
}

func emitTombstone(fromPath, toPath string, schema layer.Schema, ids []layer.ChunkID, fromKind string) error {
	sources := make([]layer.ProvenanceRef, 0, len(ids))
	for _, id := range ids {
		sources = append(sources, layer.ChunkIDRef{ID: id})
	}
	tombstone := layer.Input{
		Kind:       layer.KindTombstone,
		Content:    fmt.Sprintf("promoted to %s", toPath),
		Author:     layer.AuthorHuman,
		Confidence: 1.0,
		Embedding:  make([]float32, schema.Dim),
		Sources:    sources,
	}
	opts := layer.WriteOptions{AllowBase: fromKind == "base", AllowUser: fromKind == "user"}
	if err := layer.Append(fromPath, []layer.Input{tombstone}, nil, opts); err != nil {
		return fmt.Errorf("ops: emit tombstone in %s: %w", fromPath, err)
	}
	return nil
}
