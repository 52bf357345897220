package ops

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/krazyjakee/agentsdb/pkg/layer"
)

func TestSmashSplitsOversizedChunk(t *testing.T) {
	dir := t.TempDir()
	userPath := filepath.Join(dir, "AGENTS.user.db")

	long := strings.Repeat("word ", 50) + "\n\n" + strings.Repeat("more ", 50)
	require.NoError(t, layer.Write(userPath, reembedSchema(), []layer.Input{
		{ID: 1, Kind: "fact", Content: long, Author: layer.AuthorHuman, Confidence: 1, Embedding: []float32{1, 0, 0, 0}},
	}, nil, layer.WriteOptions{AllowUser: true}))

	result, err := Smash(context.Background(), SmashRequest{Dir: dir, Layers: []string{"user"}, Limit: 100})
	require.NoError(t, err)
	require.Len(t, result.Layers, 1)
	assert.Equal(t, 1, result.Layers[0].SplitCount)
	assert.Greater(t, result.Layers[0].TotalChunks, 1)

	lf, err := layer.Open(userPath)
	require.NoError(t, err)
	defer lf.Close()
	chunks, err := lf.AllChunks()
	require.NoError(t, err)
	assert.Greater(t, len(chunks), 1)
	assert.Equal(t, layer.ChunkID(1), chunks[0].ID)
}

func TestSmashLeavesSmallChunkUnsplit(t *testing.T) {
	dir := t.TempDir()
	userPath := filepath.Join(dir, "AGENTS.user.db")
	require.NoError(t, layer.Write(userPath, reembedSchema(), []layer.Input{
		compactChunk(1, "fact", "short"),
	}, nil, layer.WriteOptions{AllowUser: true}))

	result, err := Smash(context.Background(), SmashRequest{Dir: dir, Layers: []string{"user"}, Limit: 1000})
	require.NoError(t, err)
	assert.Equal(t, 0, result.Layers[0].SplitCount)
	assert.Equal(t, 1, result.Layers[0].TotalChunks)
}

func TestSmashRefusesBaseWithoutFlag(t *testing.T) {
	dir := t.TempDir()
	basePath := filepath.Join(dir, "AGENTS.db")
	require.NoError(t, layer.Write(basePath, reembedSchema(), []layer.Input{
		compactChunk(1, "fact", "a"),
	}, nil, layer.WriteOptions{AllowBase: true}))

	_, err := Smash(context.Background(), SmashRequest{Dir: dir, Layers: []string{"base"}, Limit: 100})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--allow-base")
}

func TestSmashRejectsZeroLimit(t *testing.T) {
	dir := t.TempDir()
	_, err := Smash(context.Background(), SmashRequest{Dir: dir, Layers: []string{"user"}, Limit: 0})
	require.Error(t, err)
}

func TestIsMarkdownHeuristic(t *testing.T) {
	assert.True(t, isMarkdown("# Heading\nSome text"))
	assert.True(t, isMarkdown("## Heading 2\nMore text"))
	assert.False(t, isMarkdown("Just text\nNo headers"))
}

func TestHardSplitCutsLongParagraph(t *testing.T) {
	s := strings.Repeat("x", 250)
	pieces := hardSplit(s, 100)
	require.Len(t, pieces, 3)
	assert.Len(t, pieces[0], 100)
	assert.Len(t, pieces[2], 50)
}
