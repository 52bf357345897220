package ops

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/krazyjakee/agentsdb/pkg/layer"
)

func TestWriteChunkCreatesNewLocalLayer(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "AGENTS.local.db")

	id, err := WriteChunk(context.Background(), WriteChunkRequest{
		Path: path, Scope: ScopeLocal, Kind: "note", Content: "hello",
		Confidence: 1, Dim: 4,
	})
	require.NoError(t, err)
	assert.Equal(t, layer.ChunkID(1), id)

	lf, err := layer.Open(path)
	require.NoError(t, err)
	defer lf.Close()
	chunks, err := lf.AllChunks()
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, "hello", chunks[0].Content)
	assert.NotNil(t, lf.Metadata())
}

func TestWriteChunkAppendsToExistingDeltaLayer(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "AGENTS.delta.db")

	_, err := WriteChunk(context.Background(), WriteChunkRequest{
		Path: path, Scope: ScopeDelta, Kind: "note", Content: "first", Confidence: 1, Dim: 4,
	})
	require.NoError(t, err)

	id, err := WriteChunk(context.Background(), WriteChunkRequest{
		Path: path, Scope: ScopeDelta, Kind: "note", Content: "second", Confidence: 1,
	})
	require.NoError(t, err)
	assert.Equal(t, layer.ChunkID(2), id)

	lf, err := layer.Open(path)
	require.NoError(t, err)
	defer lf.Close()
	chunks, err := lf.AllChunks()
	require.NoError(t, err)
	require.Len(t, chunks, 2)
}

func TestWriteChunkRejectsScopeMismatch(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "AGENTS.local.db")

	_, err := WriteChunk(context.Background(), WriteChunkRequest{
		Path: path, Scope: ScopeDelta, Kind: "note", Content: "x", Confidence: 1, Dim: 4,
	})
	require.Error(t, err)
}

func TestWriteChunkRejectsMissingDimOnNewLayer(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "AGENTS.local.db")

	_, err := WriteChunk(context.Background(), WriteChunkRequest{
		Path: path, Scope: ScopeLocal, Kind: "note", Content: "x", Confidence: 1,
	})
	require.Error(t, err)
}

func TestWriteChunkPreservesExplicitID(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "AGENTS.local.db")

	id, err := WriteChunk(context.Background(), WriteChunkRequest{
		Path: path, Scope: ScopeLocal, ID: 42, Kind: "note", Content: "x", Confidence: 1, Dim: 4,
	})
	require.NoError(t, err)
	assert.Equal(t, layer.ChunkID(42), id)
}
