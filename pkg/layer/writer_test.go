package layer

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func f32Schema(dim uint32) Schema {
	return Schema{Dim: dim, ElementType: ElementF32, QuantScale: 1.0}
}

func i8Schema(dim uint32, scale float32) Schema {
	return Schema{Dim: dim, ElementType: ElementI8, QuantScale: scale}
}

func TestWriteThenOpenRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "layer.db")
	inputs := []Input{
		{
			Kind:            "fact",
			Content:         "paris is the capital of france",
			Author:          AuthorHuman,
			Confidence:      0.9,
			CreatedAtUnixMs: 1000,
			Embedding:       []float32{0.1, 0.2, 0.3},
			Sources:         []ProvenanceRef{SourceStringRef{Value: "wiki://paris"}},
		},
		{
			Kind:            "fact",
			Content:         "lyon is in france",
			Author:          AuthorMCP,
			Confidence:      0.5,
			CreatedAtUnixMs: 2000,
			Embedding:       []float32{0.4, 0.5, 0.6},
		},
	}

	require.NoError(t, Write(path, f32Schema(3), inputs, nil, WriteOptions{}))

	lf, err := Open(path)
	require.NoError(t, err)
	defer lf.Close()

	assert.Equal(t, uint64(2), lf.ChunkCount())
	assert.Equal(t, uint64(2), lf.RowCount())
	assert.True(t, lf.Schema().Equal(f32Schema(3)))

	chunks, err := lf.AllChunks()
	require.NoError(t, err)
	require.Len(t, chunks, 2)

	assert.Equal(t, ChunkID(1), chunks[0].ID)
	assert.Equal(t, "paris is the capital of france", chunks[0].Content)
	assert.Equal(t, AuthorHuman, chunks[0].Author)
	assert.InDelta(t, float32(0.9), chunks[0].Confidence, 1e-6)
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, chunks[0].Embedding)
	require.Len(t, chunks[0].Sources, 1)
	assert.Equal(t, SourceStringRef{Value: "wiki://paris"}, chunks[0].Sources[0])

	assert.Equal(t, ChunkID(2), chunks[1].ID)
	assert.Equal(t, AuthorMCP, chunks[1].Author)
	assert.Nil(t, chunks[1].Sources)
}

func TestWriteDeterministic(t *testing.T) {
	inputs := []Input{
		{ID: 1, Kind: "fact", Content: "a", Author: AuthorHuman, Confidence: 1, Embedding: []float32{1, 2}},
		{ID: 2, Kind: "fact", Content: "b", Author: AuthorHuman, Confidence: 1, Embedding: []float32{3, 4}},
	}

	p1 := filepath.Join(t.TempDir(), "a.db")
	p2 := filepath.Join(t.TempDir(), "b.db")
	require.NoError(t, Write(p1, f32Schema(2), inputs, nil, WriteOptions{}))
	require.NoError(t, Write(p2, f32Schema(2), inputs, nil, WriteOptions{}))

	b1, err := readAll(p1)
	require.NoError(t, err)
	b2, err := readAll(p2)
	require.NoError(t, err)
	assert.Equal(t, b1, b2)
}

func TestWriteFileLengthMatchesHeader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "layer.db")
	inputs := []Input{
		{Kind: "fact", Content: "x", Author: AuthorHuman, Confidence: 1, Embedding: []float32{1, 2, 3, 4}},
	}
	require.NoError(t, Write(path, f32Schema(4), inputs, nil, WriteOptions{}))

	data, err := readAll(path)
	require.NoError(t, err)
	declared := byteOrder.Uint64(data[8:16])
	assert.Equal(t, uint64(len(data)), declared)
}

func TestWriteAutoAssignsMonotonicIDs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "layer.db")
	inputs := []Input{
		{ID: 5, Kind: "fact", Content: "five", Author: AuthorHuman, Confidence: 1, Embedding: []float32{1}},
		{Kind: "fact", Content: "auto1", Author: AuthorHuman, Confidence: 1, Embedding: []float32{2}},
		{Kind: "fact", Content: "auto2", Author: AuthorHuman, Confidence: 1, Embedding: []float32{3}},
	}
	require.NoError(t, Write(path, f32Schema(1), inputs, nil, WriteOptions{}))

	lf, err := Open(path)
	require.NoError(t, err)
	defer lf.Close()

	chunks, err := lf.AllChunks()
	require.NoError(t, err)
	require.Len(t, chunks, 3)
	assert.Equal(t, ChunkID(5), chunks[0].ID)
	assert.Equal(t, ChunkID(6), chunks[1].ID)
	assert.Equal(t, ChunkID(7), chunks[2].ID)
}

func TestWriteRejectsProtectedBaseNames(t *testing.T) {
	dir := t.TempDir()
	inputs := []Input{{Kind: "fact", Content: "x", Author: AuthorHuman, Confidence: 1, Embedding: []float32{1}}}

	err := Write(filepath.Join(dir, "AGENTS.db"), f32Schema(1), inputs, nil, WriteOptions{})
	require.Error(t, err)

	require.NoError(t, Write(filepath.Join(dir, "AGENTS.db"), f32Schema(1), inputs, nil, WriteOptions{AllowBase: true}))

	err = Write(filepath.Join(dir, "AGENTS.user.db"), f32Schema(1), inputs, nil, WriteOptions{})
	require.Error(t, err)
	require.NoError(t, Write(filepath.Join(dir, "AGENTS.user.db"), f32Schema(1), inputs, nil, WriteOptions{AllowUser: true}))
}

func TestWriteRejectsInvalidSchemaAndInputs(t *testing.T) {
	dir := t.TempDir()

	err := Write(filepath.Join(dir, "a.db"), Schema{Dim: 2, ElementType: ElementF32, QuantScale: 2.0}, nil, nil, WriteOptions{})
	require.Error(t, err)

	inputs := []Input{{Kind: "fact", Content: "x", Author: "robot", Confidence: 1, Embedding: []float32{1, 2}}}
	err = Write(filepath.Join(dir, "b.db"), f32Schema(2), inputs, nil, WriteOptions{})
	require.Error(t, err)

	inputs = []Input{{Kind: "fact", Content: "x", Author: AuthorHuman, Confidence: 1.5, Embedding: []float32{1, 2}}}
	err = Write(filepath.Join(dir, "c.db"), f32Schema(2), inputs, nil, WriteOptions{})
	require.Error(t, err)

	inputs = []Input{{Kind: "fact", Content: "x", Author: AuthorHuman, Confidence: 1, Embedding: []float32{1}}}
	err = Write(filepath.Join(dir, "d.db"), f32Schema(2), inputs, nil, WriteOptions{})
	require.Error(t, err)
}

func TestI8RoundTripDequantizes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "layer.db")
	scale := float32(0.01)
	inputs := []Input{
		{Kind: "fact", Content: "x", Author: AuthorHuman, Confidence: 1, Embedding: []float32{1.0, -1.27, 0.5}},
	}
	require.NoError(t, Write(path, i8Schema(3, scale), inputs, nil, WriteOptions{}))

	lf, err := Open(path)
	require.NoError(t, err)
	defer lf.Close()

	chunks, err := lf.AllChunks()
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.InDeltaSlice(t, []float32{1.0, -1.27, 0.5}, chunks[0].Embedding, 0.01)
}

func TestAppendPreservesExistingAndAddsNew(t *testing.T) {
	path := filepath.Join(t.TempDir(), "layer.db")
	first := []Input{
		{Kind: "fact", Content: "first", Author: AuthorHuman, Confidence: 1, Embedding: []float32{1, 0}},
	}
	require.NoError(t, Write(path, f32Schema(2), first, nil, WriteOptions{}))

	second := []Input{
		{Kind: "fact", Content: "second", Author: AuthorMCP, Confidence: 0.5, Embedding: []float32{0, 1},
			Sources: []ProvenanceRef{ChunkIDRef{ID: 1}}},
	}
	require.NoError(t, Append(path, second, nil, WriteOptions{}))

	lf, err := Open(path)
	require.NoError(t, err)
	defer lf.Close()

	chunks, err := lf.AllChunks()
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	assert.Equal(t, "first", chunks[0].Content)
	assert.Equal(t, ChunkID(1), chunks[0].ID)
	assert.Equal(t, "second", chunks[1].Content)
	assert.Equal(t, ChunkID(2), chunks[1].ID)
	require.Len(t, chunks[1].Sources, 1)
	assert.Equal(t, ChunkIDRef{ID: 1}, chunks[1].Sources[0])
}

func TestAppendRejectsIncompatibleMetadataProfile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "layer.db")
	inputs := []Input{{Kind: "fact", Content: "x", Author: AuthorHuman, Confidence: 1, Embedding: []float32{1}}}
	metaA := []byte(`{"embedding_profile":{"backend":"hash","model":"v1"}}`)
	metaB := []byte(`{"embedding_profile":{"backend":"openai","model":"text-embedding-3-small"}}`)

	require.NoError(t, Write(path, f32Schema(1), inputs, metaA, WriteOptions{}))
	err := Append(path, inputs, metaB, WriteOptions{})
	require.Error(t, err)

	require.NoError(t, Append(path, inputs, metaA, WriteOptions{}))
}

func TestWriteWithLayerMetadataRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "layer.db")
	inputs := []Input{{Kind: "fact", Content: "x", Author: AuthorHuman, Confidence: 1, Embedding: []float32{1}}}
	meta := []byte(`{"embedding_profile":{"backend":"hash","model":"v1","dim":1}}`)
	require.NoError(t, Write(path, f32Schema(1), inputs, meta, WriteOptions{}))

	lf, err := Open(path)
	require.NoError(t, err)
	defer lf.Close()
	assert.Equal(t, meta, lf.Metadata())
}

func readAll(path string) ([]byte, error) {
	lf, err := Open(path)
	if err != nil {
		return nil, err
	}
	defer lf.Close()
	out := make([]byte, len(lf.Bytes()))
	copy(out, lf.Bytes())
	return out, nil
}
