package sidecar

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/krazyjakee/agentsdb/pkg/layer"
)

func writeTestLayer(t *testing.T, schema layer.Schema, inputs []layer.Input) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "layer.db")
	require.NoError(t, layer.Write(path, schema, inputs, nil, layer.WriteOptions{}))
	return path
}

func TestBuildAndOpenF32RoundTrip(t *testing.T) {
	schema := layer.Schema{Dim: 3, ElementType: layer.ElementF32, QuantScale: 1.0}
	inputs := []layer.Input{
		{Kind: "fact", Content: "a", Author: layer.AuthorHuman, Confidence: 1, Embedding: []float32{3, 4, 0}},
		{Kind: "fact", Content: "b", Author: layer.AuthorHuman, Confidence: 1, Embedding: []float32{0, 0, 0}},
	}
	path := writeTestLayer(t, schema, inputs)

	lf, err := layer.Open(path)
	require.NoError(t, err)
	defer lf.Close()

	sidecarPath := PathFor(path)
	require.NoError(t, Build(sidecarPath, lf, false))

	idx, ok := TryOpen(sidecarPath, lf)
	require.True(t, ok)
	defer idx.Close()

	assert.False(t, idx.HasEmbeddings())
	assert.InDelta(t, 5.0, idx.RowNorm(1), 1e-6)
	assert.InDelta(t, 0.0, idx.RowNorm(2), 1e-6)
}

func TestBuildI8AlwaysStoresMatrix(t *testing.T) {
	schema := layer.Schema{Dim: 2, ElementType: layer.ElementI8, QuantScale: 0.1}
	inputs := []layer.Input{
		{Kind: "fact", Content: "a", Author: layer.AuthorHuman, Confidence: 1, Embedding: []float32{1.0, -1.0}},
	}
	path := writeTestLayer(t, schema, inputs)

	lf, err := layer.Open(path)
	require.NoError(t, err)
	defer lf.Close()

	sidecarPath := PathFor(path)
	require.NoError(t, Build(sidecarPath, lf, false))

	idx, ok := TryOpen(sidecarPath, lf)
	require.True(t, ok)
	defer idx.Close()

	require.True(t, idx.HasEmbeddings())
	vec, ok := idx.EmbeddingRow(1)
	require.True(t, ok)
	assert.InDeltaSlice(t, []float32{1.0, -1.0}, vec, 0.1)
}

func TestTryOpenRejectsStaleSidecarAfterAppend(t *testing.T) {
	schema := layer.Schema{Dim: 1, ElementType: layer.ElementF32, QuantScale: 1.0}
	inputs := []layer.Input{
		{Kind: "fact", Content: "a", Author: layer.AuthorHuman, Confidence: 1, Embedding: []float32{1}},
	}
	path := writeTestLayer(t, schema, inputs)

	lf, err := layer.Open(path)
	require.NoError(t, err)
	sidecarPath := PathFor(path)
	require.NoError(t, Build(sidecarPath, lf, false))
	require.NoError(t, lf.Close())

	require.NoError(t, layer.Append(path, []layer.Input{
		{Kind: "fact", Content: "b", Author: layer.AuthorHuman, Confidence: 1, Embedding: []float32{2}},
	}, nil, layer.WriteOptions{}))

	lf2, err := layer.Open(path)
	require.NoError(t, err)
	defer lf2.Close()

	_, ok := TryOpen(sidecarPath, lf2)
	assert.False(t, ok)
}

func TestTryOpenMissingSidecarIsUnavailable(t *testing.T) {
	schema := layer.Schema{Dim: 1, ElementType: layer.ElementF32, QuantScale: 1.0}
	inputs := []layer.Input{
		{Kind: "fact", Content: "a", Author: layer.AuthorHuman, Confidence: 1, Embedding: []float32{1}},
	}
	path := writeTestLayer(t, schema, inputs)
	lf, err := layer.Open(path)
	require.NoError(t, err)
	defer lf.Close()

	_, ok := TryOpen(filepath.Join(t.TempDir(), "missing.agix"), lf)
	assert.False(t, ok)
}

func TestTryOpenRejectsCorruptMagic(t *testing.T) {
	schema := layer.Schema{Dim: 1, ElementType: layer.ElementF32, QuantScale: 1.0}
	inputs := []layer.Input{
		{Kind: "fact", Content: "a", Author: layer.AuthorHuman, Confidence: 1, Embedding: []float32{1}},
	}
	path := writeTestLayer(t, schema, inputs)
	lf, err := layer.Open(path)
	require.NoError(t, err)
	defer lf.Close()

	sidecarPath := PathFor(path)
	require.NoError(t, Build(sidecarPath, lf, false))

	data, err := os.ReadFile(sidecarPath)
	require.NoError(t, err)
	data[0] ^= 0xFF
	require.NoError(t, os.WriteFile(sidecarPath, data, 0o644))

	_, ok := TryOpen(sidecarPath, lf)
	assert.False(t, ok)
}

func TestRowNormMatchesManualComputation(t *testing.T) {
	v := []float32{3, 4}
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	assert.InDelta(t, 5.0, math.Sqrt(sum), 1e-9)
}
