package ops

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/krazyjakee/agentsdb/pkg/layer"
)

func compactSchema() layer.Schema {
	return layer.Schema{Dim: 4, ElementType: layer.ElementF32, QuantScale: 1.0}
}

func compactChunk(id layer.ChunkID, kind, content string) layer.Input {
	return layer.Input{
		ID: id, Kind: kind, Content: content, Author: layer.AuthorHuman, Confidence: 1,
		Embedding: []float32{0, 0, 0, 0},
	}
}

func TestCompactMergesBaseAndUser(t *testing.T) {
	dir := t.TempDir()
	basePath := filepath.Join(dir, "AGENTS.db")
	userPath := filepath.Join(dir, "AGENTS.user.db")
	outPath := filepath.Join(dir, "AGENTS.compacted.db")

	require.NoError(t, layer.Write(basePath, compactSchema(), []layer.Input{
		compactChunk(1, "canonical", "base a"),
		compactChunk(2, "canonical", "base b"),
	}, nil, layer.WriteOptions{AllowBase: true}))
	require.NoError(t, layer.Write(userPath, compactSchema(), []layer.Input{
		compactChunk(100, "note", "user x"),
	}, nil, layer.WriteOptions{AllowUser: true}))

	n, err := Compact(outPath, basePath, userPath)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	out, err := layer.Open(outPath)
	require.NoError(t, err)
	defer out.Close()
	chunks, err := out.AllChunks()
	require.NoError(t, err)
	require.Len(t, chunks, 3)
	assert.Equal(t, layer.ChunkID(1), chunks[0].ID)
	assert.Equal(t, layer.ChunkID(2), chunks[1].ID)
	assert.Equal(t, layer.ChunkID(100), chunks[2].ID)

	base, err := layer.Open(basePath)
	require.NoError(t, err)
	defer base.Close()
	baseChunks, err := base.AllChunks()
	require.NoError(t, err)
	assert.Len(t, baseChunks, 2)
}

func TestCompactKeepsNewestOnIDConflict(t *testing.T) {
	dir := t.TempDir()
	basePath := filepath.Join(dir, "AGENTS.db")
	userPath := filepath.Join(dir, "AGENTS.user.db")

	require.NoError(t, layer.Write(basePath, compactSchema(), []layer.Input{
		compactChunk(1, "canonical", "old content"),
	}, nil, layer.WriteOptions{AllowBase: true}))
	require.NoError(t, layer.Write(userPath, compactSchema(), []layer.Input{
		compactChunk(1, "canonical", "new content"),
	}, nil, layer.WriteOptions{AllowUser: true}))

	_, inputs, err := CompactLayers(basePath, userPath)
	require.NoError(t, err)
	require.Len(t, inputs, 1)
	assert.Equal(t, "new content", inputs[0].Content)
}

func TestCompactRejectsBaseAsOutput(t *testing.T) {
	dir := t.TempDir()
	basePath := filepath.Join(dir, "AGENTS.db")
	require.NoError(t, layer.Write(basePath, compactSchema(), []layer.Input{compactChunk(1, "fact", "a")}, nil, layer.WriteOptions{AllowBase: true}))

	_, err := Compact(basePath, basePath, "")
	require.Error(t, err)
}

func TestCompactAllInDirRewritesAllValidDBFiles(t *testing.T) {
	dir := t.TempDir()
	aPath := filepath.Join(dir, "AGENTS.db")
	bPath := filepath.Join(dir, "AGENTS.user.db")
	junkPath := filepath.Join(dir, "junk.db")
	otherPath := filepath.Join(dir, "notes.txt")

	require.NoError(t, layer.Write(aPath, compactSchema(), []layer.Input{compactChunk(1, "canonical", "a")}, nil, layer.WriteOptions{AllowBase: true}))
	require.NoError(t, layer.Write(bPath, compactSchema(), []layer.Input{compactChunk(2, "note", "b")}, nil, layer.WriteOptions{AllowUser: true}))
	require.NoError(t, os.WriteFile(junkPath, []byte("not an agentsdb layer"), 0o644))
	require.NoError(t, os.WriteFile(otherPath, []byte("ignore"), 0o644))

	rewritten, err := CompactAllInDir(dir)
	require.NoError(t, err)
	require.Len(t, rewritten, 1)
	assert.Equal(t, "AGENTS.user.db", filepath.Base(rewritten[0]))
}
