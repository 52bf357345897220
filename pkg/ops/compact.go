package ops

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/krazyjakee/agentsdb/pkg/agentsdberr"
	"github.com/krazyjakee/agentsdb/pkg/layer"
)

// CompactLayers merges the base and user layers into one ordered set of
// chunks: both are folded, in order (base first, then user), into a map
// keyed by chunk id where a later occurrence always overwrites an earlier
// one — across files and within one file's own duplicate ids — then the
// result is sorted by id. This lets compact also repair a layer file that
// somehow accumulated duplicate ids. basePath or userPath may be empty to
// omit that layer; at least one must be given.
func CompactLayers(basePath, userPath string) (layer.Schema, []layer.Input, error) {
	var schema layer.Schema
	haveSchema := false
	byID := orderedmap.New[layer.ChunkID, layer.Input]()

	for _, path := range []string{basePath, userPath} {
		if path == "" {
			continue
		}
		lf, err := layer.OpenLenient(path)
		if err != nil {
			return layer.Schema{}, nil, fmt.Errorf("ops: open %s for compact: %w", path, err)
		}
		layerSchema := lf.Schema()
		if haveSchema {
			if !schema.Equal(layerSchema) {
				lf.Close()
				return layer.Schema{}, nil, agentsdberr.NewConfigError(
					"schema mismatch between layers (expected dim=%d type=%d scale=%v, got dim=%d type=%d scale=%v)",
					schema.Dim, schema.ElementType, schema.QuantScale,
					layerSchema.Dim, layerSchema.ElementType, layerSchema.QuantScale)
			}
		} else {
			schema = layerSchema
			haveSchema = true
		}

		chunks, err := lf.AllChunks()
		if err != nil {
			lf.Close()
			return layer.Schema{}, nil, fmt.Errorf("ops: read chunks from %s: %w", path, err)
		}
		if err := lf.Close(); err != nil {
			return layer.Schema{}, nil, fmt.Errorf("ops: close %s: %w", path, err)
		}
		for _, c := range chunks {
			byID.Set(c.ID, chunkToInput(c))
		}
	}

	if !haveSchema {
		return layer.Schema{}, nil, agentsdberr.NewConfigError("compact: no input layers opened")
	}

	inputs := make([]layer.Input, 0, byID.Len())
	for pair := byID.Oldest(); pair != nil; pair = pair.Next() {
		inputs = append(inputs, pair.Value)
	}
	sort.Slice(inputs, func(i, j int) bool { return inputs[i].ID < inputs[j].ID })

	if err := ensureNonzeroUniqueIDs(inputs); err != nil {
		return layer.Schema{}, nil, err
	}
	return schema, inputs, nil
}

func ensureNonzeroUniqueIDs(inputs []layer.Input) error {
	seen := make(map[layer.ChunkID]bool, len(inputs))
	for _, in := range inputs {
		if in.ID == 0 {
			return agentsdberr.NewFormatError(agentsdberr.InvalidChunkID, in.ID)
		}
		if seen[in.ID] {
			return agentsdberr.NewConfigError("duplicate chunk id %d in compacted output", in.ID)
		}
		seen[in.ID] = true
	}
	return nil
}

func chunkToInput(c layer.Chunk) layer.Input {
	return layer.Input{
		ID:              c.ID,
		Kind:            c.Kind,
		Content:         c.Content,
		Author:          c.Author,
		Confidence:      c.Confidence,
		CreatedAtUnixMs: c.CreatedAtUnixMs,
		Embedding:       c.Embedding,
		Sources:         c.Sources,
	}
}

// Compact merges basePath and userPath (either may be empty) and writes the
// result to outPath with the atomic write protocol, refusing to target
// AGENTS.db (compacted output never overwrites the canonical base layer in
// place; AGENTS.user.db is allowed since it's the layer compact is usually
// asked to rewrite).
func Compact(outPath, basePath, userPath string) (int, error) {
	schema, inputs, err := CompactLayers(basePath, userPath)
	if err != nil {
		return 0, err
	}
	if filepath.Base(outPath) == "AGENTS.db" {
		return 0, &agentsdberr.PermissionError{Path: outPath}
	}
	if err := layer.Write(outPath, schema, inputs, nil, layer.WriteOptions{AllowUser: true}); err != nil {
		return 0, fmt.Errorf("ops: write compacted layer %s: %w", outPath, err)
	}
	return len(inputs), nil
}

// CompactAllInDir rewrites every *.db file in dir in place (lenient open,
// full read, atomic rewrite) except AGENTS.db, folding each file's own
// chunks through the same later-occurrence-wins by-id map CompactLayers
// uses so a file that somehow accumulated duplicate ids comes out with one
// entry per id, sorted by id. Files that fail to open as a layer, or that
// are AGENTS.db or a protected base/user path compact isn't allowed to
// touch in place, are skipped rather than failing the whole pass.
func CompactAllInDir(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("ops: read dir %s: %w", dir, err)
	}

	var rewritten []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if name == "AGENTS.db" {
			continue
		}
		if !strings.EqualFold(filepath.Ext(name), ".db") {
			continue
		}

		path := filepath.Join(dir, name)
		lf, err := layer.OpenLenient(path)
		if err != nil {
			continue
		}
		schema := lf.Schema()
		chunks, err := lf.AllChunks()
		if err != nil {
			lf.Close()
			continue
		}
		if err := lf.Close(); err != nil {
			continue
		}

		byID := orderedmap.New[layer.ChunkID, layer.Input]()
		for _, c := range chunks {
			byID.Set(c.ID, chunkToInput(c))
		}
		inputs := make([]layer.Input, 0, byID.Len())
		for pair := byID.Oldest(); pair != nil; pair = pair.Next() {
			inputs = append(inputs, pair.Value)
		}
		sort.Slice(inputs, func(i, j int) bool { return inputs[i].ID < inputs[j].ID })

		if err := layer.Write(path, schema, inputs, nil, layer.WriteOptions{AllowUser: true}); err != nil {
			continue
		}
		rewritten = append(rewritten, path)
	}
	return rewritten, nil
}
