package ops

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/krazyjakee/agentsdb/pkg/layer"
)

func reembedSchema() layer.Schema {
	return layer.Schema{Dim: 4, ElementType: layer.ElementF32, QuantScale: 1.0}
}

func TestReembedUpdatesEmbeddings(t *testing.T) {
	dir := t.TempDir()
	basePath := filepath.Join(dir, "AGENTS.db")
	userPath := filepath.Join(dir, "AGENTS.user.db")

	require.NoError(t, layer.Write(basePath, reembedSchema(), []layer.Input{
		compactChunk(1, "fact", "unchanged"),
	}, nil, layer.WriteOptions{AllowBase: true}))
	require.NoError(t, layer.Write(userPath, reembedSchema(), []layer.Input{
		{ID: 1, Kind: "fact", Content: "stale vector", Author: layer.AuthorHuman, Confidence: 1, Embedding: []float32{0, 0, 0, 0}},
	}, nil, layer.WriteOptions{AllowUser: true}))

	result, err := Reembed(context.Background(), ReembedRequest{Dir: dir, Layers: []string{"user"}})
	require.NoError(t, err)
	assert.Equal(t, 1, result.TotalChunks)
	assert.Equal(t, []string{userPath}, result.ReembeddedLayers)

	userLf, err := layer.Open(userPath)
	require.NoError(t, err)
	defer userLf.Close()
	chunks, err := userLf.AllChunks()
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.NotEqual(t, []float32{0, 0, 0, 0}, chunks[0].Embedding)

	baseLf, err := layer.Open(basePath)
	require.NoError(t, err)
	defer baseLf.Close()
	baseChunks, err := baseLf.AllChunks()
	require.NoError(t, err)
	require.Len(t, baseChunks, 1)
	assert.Equal(t, "unchanged", baseChunks[0].Content)
}

func TestReembedRefusesBaseWithoutFlag(t *testing.T) {
	dir := t.TempDir()
	basePath := filepath.Join(dir, "AGENTS.db")
	require.NoError(t, layer.Write(basePath, reembedSchema(), []layer.Input{
		compactChunk(1, "fact", "a"),
	}, nil, layer.WriteOptions{AllowBase: true}))

	_, err := Reembed(context.Background(), ReembedRequest{Dir: dir, Layers: []string{"base"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--allow-base")
}

func TestReembedAllowsBaseWithFlag(t *testing.T) {
	dir := t.TempDir()
	basePath := filepath.Join(dir, "AGENTS.db")
	require.NoError(t, layer.Write(basePath, reembedSchema(), []layer.Input{
		compactChunk(1, "fact", "a"),
	}, nil, layer.WriteOptions{AllowBase: true}))

	result, err := Reembed(context.Background(), ReembedRequest{Dir: dir, Layers: []string{"base"}, AllowBase: true})
	require.NoError(t, err)
	assert.Equal(t, 1, result.TotalChunks)
}

func TestReembedSkipsMissingLayer(t *testing.T) {
	dir := t.TempDir()
	result, err := Reembed(context.Background(), ReembedRequest{Dir: dir, Layers: []string{"delta"}})
	require.NoError(t, err)
	assert.Empty(t, result.ReembeddedLayers)
}

func TestReembedRejectsUnknownLayerName(t *testing.T) {
	dir := t.TempDir()
	_, err := Reembed(context.Background(), ReembedRequest{Dir: dir, Layers: []string{"bogus"}})
	require.Error(t, err)
}
