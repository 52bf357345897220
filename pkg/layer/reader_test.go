package layer

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeValidLayer(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "layer.db")
	inputs := []Input{
		{Kind: "fact", Content: "a", Author: AuthorHuman, Confidence: 1, Embedding: []float32{1, 2}},
		{Kind: "fact", Content: "b", Author: AuthorMCP, Confidence: 0.2, Embedding: []float32{3, 4}},
	}
	require.NoError(t, Write(path, f32Schema(2), inputs, nil, WriteOptions{}))
	return path
}

func TestOpenRejectsBadMagic(t *testing.T) {
	path := writeValidLayer(t)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	data[0] ^= 0xFF
	require.NoError(t, os.WriteFile(path, data, 0o644))

	_, err = Open(path)
	require.Error(t, err)
}

func TestOpenRejectsUnsupportedVersion(t *testing.T) {
	path := writeValidLayer(t)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	byteOrder.PutUint16(data[4:6], 2)
	require.NoError(t, os.WriteFile(path, data, 0o644))

	_, err = Open(path)
	require.Error(t, err)
}

func TestOpenRejectsFileLengthMismatch(t *testing.T) {
	path := writeValidLayer(t)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	byteOrder.PutUint64(data[8:16], uint64(len(data)+1))
	require.NoError(t, os.WriteFile(path, data, 0o644))

	_, err = Open(path)
	require.Error(t, err)
}

func TestOpenRejectsTruncatedFile(t *testing.T) {
	path := writeValidLayer(t)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data[:len(data)-10], 0o644))

	_, err = Open(path)
	require.Error(t, err)
}

func TestOpenRejectsEmptyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.db")
	require.NoError(t, os.WriteFile(path, nil, 0o644))

	_, err := Open(path)
	require.Error(t, err)
}

func TestOpenLenientToleratesDuplicateChunkIDs(t *testing.T) {
	path := writeValidLayer(t)

	lf, err := Open(path)
	require.NoError(t, err)
	secondRecordOffset := int(lf.chunks.recordsOff) + ChunkRecordSize
	require.NoError(t, lf.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	copy(data[secondRecordOffset:secondRecordOffset+4], data[lf.chunks.recordsOff:lf.chunks.recordsOff+4])
	require.NoError(t, os.WriteFile(path, data, 0o644))

	_, err = Open(path)
	require.Error(t, err)

	lfLenient, err := OpenLenient(path)
	require.NoError(t, err)
	defer lfLenient.Close()
	assert.Equal(t, uint64(2), lfLenient.ChunkCount())
}

func TestSchemaEqualIsBitExact(t *testing.T) {
	a := Schema{Dim: 4, ElementType: ElementF32, QuantScale: 1.0}
	b := Schema{Dim: 4, ElementType: ElementF32, QuantScale: 1.0}
	c := Schema{Dim: 4, ElementType: ElementI8, QuantScale: 0.5}
	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(c))
}

func TestReadEmbeddingRowRejectsOutOfRange(t *testing.T) {
	path := writeValidLayer(t)
	lf, err := Open(path)
	require.NoError(t, err)
	defer lf.Close()

	dst := make([]float32, 2)
	err = lf.ReadEmbeddingRowF32(0, dst)
	require.Error(t, err)
	err = lf.ReadEmbeddingRowF32(3, dst)
	require.Error(t, err)
	require.NoError(t, lf.ReadEmbeddingRowF32(1, dst))
	assert.Equal(t, []float32{1, 2}, dst)
}

func TestChunksIteratorStopsEarly(t *testing.T) {
	path := writeValidLayer(t)
	lf, err := Open(path)
	require.NoError(t, err)
	defer lf.Close()

	seen := 0
	for rec, err := range lf.Chunks() {
		require.NoError(t, err)
		seen++
		_ = rec
		break
	}
	assert.Equal(t, 1, seen)
}
