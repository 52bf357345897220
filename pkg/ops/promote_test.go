package ops

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/krazyjakee/agentsdb/pkg/layer"
)

func TestPromoteCopiesChunksToNewDestination(t *testing.T) {
	dir := t.TempDir()
	deltaPath := filepath.Join(dir, "AGENTS.delta.db")
	userPath := filepath.Join(dir, "AGENTS.user.db")

	require.NoError(t, layer.Write(deltaPath, compactSchema(), []layer.Input{
		compactChunk(1, "fact", "a"),
		compactChunk(2, "fact", "b"),
	}, nil, layer.WriteOptions{}))

	outcome, err := Promote(PromoteRequest{FromPath: deltaPath, ToPath: userPath, IDs: []layer.ChunkID{1}})
	require.NoError(t, err)
	assert.Equal(t, []layer.ChunkID{1}, outcome.Promoted)
	assert.Empty(t, outcome.Skipped)

	lf, err := layer.Open(userPath)
	require.NoError(t, err)
	defer lf.Close()
	chunks, err := lf.AllChunks()
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, "a", chunks[0].Content)
	assert.Equal(t, layer.AuthorHuman, chunks[0].Author)
}

func TestPromoteRejectsIllegalFlow(t *testing.T) {
	dir := t.TempDir()
	basePath := filepath.Join(dir, "AGENTS.db")
	localPath := filepath.Join(dir, "AGENTS.local.db")
	require.NoError(t, layer.Write(basePath, compactSchema(), []layer.Input{compactChunk(1, "fact", "a")}, nil, layer.WriteOptions{AllowBase: true}))

	_, err := Promote(PromoteRequest{FromPath: basePath, ToPath: localPath, IDs: []layer.ChunkID{1}})
	require.Error(t, err)
}

func TestPromoteNoOpsOnByteEqualConflict(t *testing.T) {
	dir := t.TempDir()
	deltaPath := filepath.Join(dir, "AGENTS.delta.db")
	userPath := filepath.Join(dir, "AGENTS.user.db")
	require.NoError(t, layer.Write(deltaPath, compactSchema(), []layer.Input{compactChunk(1, "fact", "same")}, nil, layer.WriteOptions{}))
	require.NoError(t, layer.Write(userPath, compactSchema(), []layer.Input{compactChunk(1, "fact", "same")}, nil, layer.WriteOptions{AllowUser: true}))

	outcome, err := Promote(PromoteRequest{FromPath: deltaPath, ToPath: userPath, IDs: []layer.ChunkID{1}})
	require.NoError(t, err)
	assert.Empty(t, outcome.Promoted)
	assert.Equal(t, []layer.ChunkID{1}, outcome.Skipped)
}

func TestPromoteFailsOnConflictWithoutSkipExisting(t *testing.T) {
	dir := t.TempDir()
	deltaPath := filepath.Join(dir, "AGENTS.delta.db")
	userPath := filepath.Join(dir, "AGENTS.user.db")
	require.NoError(t, layer.Write(deltaPath, compactSchema(), []layer.Input{compactChunk(1, "fact", "new")}, nil, layer.WriteOptions{}))
	require.NoError(t, layer.Write(userPath, compactSchema(), []layer.Input{compactChunk(1, "fact", "old")}, nil, layer.WriteOptions{AllowUser: true}))

	_, err := Promote(PromoteRequest{FromPath: deltaPath, ToPath: userPath, IDs: []layer.ChunkID{1}})
	require.Error(t, err)
}

func TestPromoteSkipsConflictWhenSkipExistingSet(t *testing.T) {
	dir := t.TempDir()
	deltaPath := filepath.Join(dir, "AGENTS.delta.db")
	userPath := filepath.Join(dir, "AGENTS.user.db")
	require.NoError(t, layer.Write(deltaPath, compactSchema(), []layer.Input{compactChunk(1, "fact", "new")}, nil, layer.WriteOptions{}))
	require.NoError(t, layer.Write(userPath, compactSchema(), []layer.Input{compactChunk(1, "fact", "old")}, nil, layer.WriteOptions{AllowUser: true}))

	outcome, err := Promote(PromoteRequest{FromPath: deltaPath, ToPath: userPath, IDs: []layer.ChunkID{1}, SkipExisting: true})
	require.NoError(t, err)
	assert.Equal(t, []layer.ChunkID{1}, outcome.Skipped)
}

func TestPromoteEmitsTombstoneInSourceLayer(t *testing.T) {
	dir := t.TempDir()
	deltaPath := filepath.Join(dir, "AGENTS.delta.db")
	userPath := filepath.Join(dir, "AGENTS.user.db")
	require.NoError(t, layer.Write(deltaPath, compactSchema(), []layer.Input{compactChunk(1, "fact", "a")}, nil, layer.WriteOptions{}))

	_, err := Promote(PromoteRequest{FromPath: deltaPath, ToPath: userPath, IDs: []layer.ChunkID{1}, EmitTombstone: true})
	require.NoError(t, err)

	lf, err := layer.Open(deltaPath)
	require.NoError(t, err)
	defer lf.Close()
	chunks, err := lf.AllChunks()
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	assert.Equal(t, layer.KindTombstone, chunks[1].Kind)
	require.Len(t, chunks[1].Sources, 1)
	assert.Equal(t, layer.ChunkIDRef{ID: 1}, chunks[1].Sources[0])
}

func TestPromoteRejectsUnknownID(t *testing.T) {
	dir := t.TempDir()
	deltaPath := filepath.Join(dir, "AGENTS.delta.db")
	userPath := filepath.Join(dir, "AGENTS.user.db")
	require.NoError(t, layer.Write(deltaPath, compactSchema(), []layer.Input{compactChunk(1, "fact", "a")}, nil, layer.WriteOptions{}))

	_, err := Promote(PromoteRequest{FromPath: deltaPath, ToPath: userPath, IDs: []layer.ChunkID{99}})
	require.Error(t, err)
}
