package export

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/krazyjakee/agentsdb/pkg/agentsdberr"
	"github.com/krazyjakee/agentsdb/pkg/embed"
	"github.com/krazyjakee/agentsdb/pkg/layer"
	"github.com/krazyjakee/agentsdb/pkg/options"
)

// ImportRequest describes one import_into_layer call.
type ImportRequest struct {
	Ctx         context.Context
	AbsPath     string
	Scope       string // "local" | "delta" | "user" | "base"
	Data        []byte // JSON or NDJSON bundle bytes
	DryRun      bool
	Dedupe      bool
	PreserveIDs bool
	AllowBase   bool
	Dim         int // required when creating a new layer with no embeddings in data
	ToolName    string
	ToolVersion string
}

// Outcome reports how many chunks an import actually wrote (or would
// have written, for a dry run).
type Outcome struct {
	Imported int
	Skipped  int
	DryRun   bool
}

// Import parses req.Data (auto-detecting JSON vs NDJSON), validates and
// re-embeds as needed, and appends the resulting chunks to req.AbsPath
// (creating it if absent). Grounded on agentsdb-ops/import.rs's
// import_into_layer.
func Import(req ImportRequest) (Outcome, error) {
	if err := ensureTargetPermissions(req.AbsPath, req.Scope, req.AllowBase); err != nil {
		return Outcome{}, err
	}

	chunks, err := parseInput(req.Data)
	if err != nil {
		return Outcome{}, fmt.Errorf("export: parse import data: %w", err)
	}
	if len(chunks) == 0 {
		return Outcome{}, agentsdberr.NewConfigError("import: no chunks found in input")
	}
	for i := range chunks {
		if chunks[i].Content == nil {
			return Outcome{}, agentsdberr.NewConfigError(
				"import: input contains redacted/missing content; cannot import")
		}
		h := contentSHA256Hex(*chunks[i].Content)
		chunks[i].ContentSHA256 = &h
	}

	dir := filepath.Dir(req.AbsPath)
	siblings := options.StandardLayerPaths(dir)

	existingHashes := make(map[string]bool)
	existingIDs := make(map[layer.ChunkID]bool)
	var exists bool
	var existingDim int
	var existingMeta []byte

	if _, statErr := os.Stat(req.AbsPath); statErr == nil {
		lf, err := layer.Open(req.AbsPath)
		if err != nil {
			return Outcome{}, fmt.Errorf("export: open target layer %s: %w", req.AbsPath, err)
		}
		existingChunks, err := lf.AllChunks()
		if err != nil {
			lf.Close()
			return Outcome{}, fmt.Errorf("export: read target chunks: %w", err)
		}
		existingDim = int(lf.Schema().Dim)
		existingMeta = lf.Metadata()
		if err := lf.Close(); err != nil {
			return Outcome{}, fmt.Errorf("export: close target layer: %w", err)
		}
		exists = true
		if req.Dedupe {
			for _, c := range existingChunks {
				existingHashes[contentSHA256Hex(c.Content)] = true
			}
		}
		for _, c := range existingChunks {
			existingIDs[c.ID] = true
		}
	}

	inferredDim, err := inferDim(exists, existingDim, req.Dim, chunks)
	if err != nil {
		return Outcome{}, err
	}

	if !exists && req.PreserveIDs {
		for _, c := range chunks {
			if c.ID == 0 {
				return Outcome{}, agentsdberr.NewConfigError("import: preserve_ids requires non-zero ids in input")
			}
			if existingIDs[c.ID] {
				return Outcome{}, agentsdberr.NewConfigError("import: id %d already exists in target", c.ID)
			}
			existingIDs[c.ID] = true
		}
	}

	var e embed.Embedder
	var layerMetadataJSON []byte
	resolveEmbedderOnce := func() error {
		if e != nil {
			return nil
		}
		resolved, err := options.RollUpFromPaths(siblings.Local, siblings.User, siblings.Delta, siblings.Base)
		if err != nil {
			return fmt.Errorf("export: roll up options: %w", err)
		}
		if resolved.Dim != 0 && resolved.Dim != inferredDim {
			return agentsdberr.NewConfigError(
				"import: embedding dim mismatch (target dim=%d, options specify dim=%d)", inferredDim, resolved.Dim)
		}
		built, err := resolved.IntoEmbedder(req.Ctx, inferredDim)
		if err != nil {
			return fmt.Errorf("export: resolve embedder from options: %w", err)
		}
		meta, err := buildLayerMetadata(built, req.ToolName, req.ToolVersion)
		if err != nil {
			return err
		}
		e = built
		layerMetadataJSON = meta
		return nil
	}

	survivors := make([]Chunk, 0, len(chunks))
	skipped := 0
	for _, c := range chunks {
		hash := ""
		if c.ContentSHA256 != nil {
			hash = *c.ContentSHA256
		}
		if req.Dedupe && existingHashes[hash] {
			skipped++
			continue
		}
		if req.Dedupe {
			existingHashes[hash] = true
		}
		survivors = append(survivors, c)
	}

	// Collect every chunk that needs a fresh embedding and run them through
	// one windowed, concurrency-bounded batch rather than embedding each
	// chunk's content one at a time.
	embeddings := make([][]float32, len(survivors))
	var reembedIdx []int
	var reembedContents []string
	for i, c := range survivors {
		if len(c.Embedding) != inferredDim {
			reembedIdx = append(reembedIdx, i)
			reembedContents = append(reembedContents, *c.Content)
		} else {
			embeddings[i] = c.Embedding
		}
	}
	if len(reembedContents) > 0 {
		if err := resolveEmbedderOnce(); err != nil {
			return Outcome{}, err
		}
		vecs, err := embed.RunBatched(req.Ctx, e, reembedContents, embed.BatchOptions{})
		if err != nil {
			return Outcome{}, fmt.Errorf("export: embed imported content: %w", err)
		}
		for j, idx := range reembedIdx {
			if j < len(vecs) {
				embeddings[idx] = vecs[j]
			} else {
				embeddings[idx] = make([]float32, inferredDim)
			}
		}
	}

	prepared := make([]layer.Input, 0, len(survivors))
	var nextNewID layer.ChunkID = 1

	for i, c := range survivors {
		id, err := assignImportID(c.ID, exists, req.PreserveIDs, existingIDs, &nextNewID)
		if err != nil {
			return Outcome{}, err
		}

		sources := make([]layer.ProvenanceRef, 0, len(c.Sources))
		for _, s := range c.Sources {
			sources = append(sources, refFromSource(s))
		}

		prepared = append(prepared, layer.Input{
			ID: id, Kind: c.Kind, Content: *c.Content, Author: c.Author,
			Confidence: c.Confidence, CreatedAtUnixMs: c.CreatedAtUnixMs,
			Embedding: embeddings[i], Sources: sources,
		})
	}

	if len(prepared) == 0 {
		return Outcome{Imported: 0, Skipped: skipped, DryRun: req.DryRun}, nil
	}

	if existingMeta != nil && layerMetadataJSON != nil {
		if err := checkProfileCompatible(existingMeta, layerMetadataJSON); err != nil {
			return Outcome{}, err
		}
	}

	if req.DryRun {
		return Outcome{Imported: len(prepared), Skipped: skipped, DryRun: true}, nil
	}

	writeOpts := layer.WriteOptions{AllowBase: req.Scope == "base", AllowUser: req.Scope == "user"}
	if exists {
		if err := layer.Append(req.AbsPath, prepared, layerMetadataJSON, writeOpts); err != nil {
			return Outcome{}, fmt.Errorf("export: append imported chunks to %s: %w", req.AbsPath, err)
		}
	} else {
		schema := layer.Schema{Dim: uint32(inferredDim), ElementType: layer.ElementF32, QuantScale: 1.0}
		if err := layer.Write(req.AbsPath, schema, prepared, layerMetadataJSON, writeOpts); err != nil {
			return Outcome{}, fmt.Errorf("export: create layer %s: %w", req.AbsPath, err)
		}
	}

	return Outcome{Imported: len(prepared), Skipped: skipped, DryRun: false}, nil
}

func parseInput(data []byte) ([]Chunk, error) {
	trimmed := strings.TrimLeft(string(data), " \t\r\n")
	if strings.HasPrefix(trimmed, "{") {
		var bundle BundleV1
		if err := json.Unmarshal([]byte(trimmed), &bundle); err != nil {
			return nil, fmt.Errorf("parse JSON export: %w", err)
		}
		var out []Chunk
		for _, l := range bundle.Layers {
			out = append(out, l.Chunks...)
		}
		return out, nil
	}

	var out []Chunk
	for i, line := range strings.Split(trimmed, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		var rec ndjsonRecord
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			return nil, fmt.Errorf("parse NDJSON line %d: %w", i+1, err)
		}
		if rec.Type == "chunk" && rec.Chunk != nil {
			out = append(out, *rec.Chunk)
		}
	}
	return out, nil
}

func ensureTargetPermissions(path, scope string, allowBase bool) error {
	name := filepath.Base(path)
	switch scope {
	case "local":
		if name != "AGENTS.local.db" {
			return agentsdberr.NewConfigError("import: scope local expects file named AGENTS.local.db")
		}
	case "delta":
		if name != "AGENTS.delta.db" {
			return agentsdberr.NewConfigError("import: scope delta expects file named AGENTS.delta.db")
		}
	case "user":
		if name != "AGENTS.user.db" {
			return agentsdberr.NewConfigError("import: scope user expects file named AGENTS.user.db")
		}
	case "base":
		if !allowBase {
			return agentsdberr.NewConfigError("import: refusing to write AGENTS.db without allow_base")
		}
		if name != "AGENTS.db" {
			return agentsdberr.NewConfigError("import: scope base expects file named AGENTS.db")
		}
	default:
		return agentsdberr.NewConfigError("import: scope must be local, delta, user, or base")
	}
	return nil
}

func inferDim(exists bool, existingDim, reqDim int, chunks []Chunk) (int, error) {
	if exists {
		return existingDim, nil
	}
	if reqDim > 0 {
		return reqDim, nil
	}
	for _, c := range chunks {
		if len(c.Embedding) > 0 {
			return len(c.Embedding), nil
		}
	}
	return 0, agentsdberr.NewConfigError("import: creating a new layer requires dim or input embeddings")
}

func assignImportID(id layer.ChunkID, exists, preserveIDs bool, existingIDs map[layer.ChunkID]bool, nextNewID *layer.ChunkID) (layer.ChunkID, error) {
	switch {
	case exists && preserveIDs:
		if existingIDs[id] {
			return 0, agentsdberr.NewConfigError("import: id %d already exists in target", id)
		}
		existingIDs[id] = true
		return id, nil
	case exists:
		return 0, nil
	case preserveIDs:
		return id, nil
	default:
		for existingIDs[*nextNewID] {
			*nextNewID++
		}
		existingIDs[*nextNewID] = true
		assigned := *nextNewID
		*nextNewID++
		return assigned, nil
	}
}

func buildLayerMetadata(e embed.Embedder, toolName, toolVersion string) ([]byte, error) {
	profile := e.Profile()
	meta := e.Metadata()
	blob := struct {
		V               int    `json:"v"`
		EmbeddingProfile struct {
			Backend    string `json:"backend"`
			Model      string `json:"model,omitempty"`
			Revision   string `json:"revision,omitempty"`
			Dim        int    `json:"dim"`
			OutputNorm string `json:"output_norm"`
		} `json:"embedding_profile"`
		EmbedderMetadata embed.Metadata `json:"embedder_metadata"`
		Tool             ToolInfo       `json:"tool"`
	}{V: 1}
	blob.EmbeddingProfile.Backend = profile.Backend
	blob.EmbeddingProfile.Model = profile.Model
	blob.EmbeddingProfile.Revision = profile.Revision
	blob.EmbeddingProfile.Dim = profile.Dim
	blob.EmbeddingProfile.OutputNorm = string(profile.OutputNorm)
	blob.EmbedderMetadata = meta
	blob.Tool = ToolInfo{Name: toolName, Version: toolVersion}

	b, err := json.Marshal(blob)
	if err != nil {
		return nil, fmt.Errorf("export: serialize layer metadata: %w", err)
	}
	return b, nil
}

func checkProfileCompatible(existingMeta, desiredMeta []byte) error {
	existingProfile, err := profileFromMetadataJSON(existingMeta)
	if err != nil {
		return fmt.Errorf("export: parse existing layer metadata: %w", err)
	}
	desiredProfile, err := profileFromMetadataJSON(desiredMeta)
	if err != nil {
		return fmt.Errorf("export: parse desired layer metadata: %w", err)
	}
	if existingProfile != desiredProfile {
		return agentsdberr.NewConfigError(
			"import: embedder profile mismatch vs target layer metadata (existing=%+v, current=%+v)", existingProfile, desiredProfile)
	}
	return nil
}

type embeddingProfileWire struct {
	Backend  string `json:"backend"`
	Model    string `json:"model,omitempty"`
	Revision string `json:"revision,omitempty"`
	Dim      int    `json:"dim"`
}

func profileFromMetadataJSON(raw []byte) (embeddingProfileWire, error) {
	var wrapper struct {
		EmbeddingProfile embeddingProfileWire `json:"embedding_profile"`
	}
	if err := json.Unmarshal(raw, &wrapper); err != nil {
		return embeddingProfileWire{}, err
	}
	return wrapper.EmbeddingProfile, nil
}
