package export

import (
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/krazyjakee/agentsdb/pkg/layer"
)

func exportSchema() layer.Schema {
	return layer.Schema{Dim: 3, ElementType: layer.ElementF32, QuantScale: 1.0}
}

func writeExportFixture(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, layer.Write(path, exportSchema(), []layer.Input{
		{ID: 1, Kind: "fact", Content: "hello", Author: layer.AuthorHuman, Confidence: 1, Embedding: []float32{1, 0, 0}},
	}, nil, layer.WriteOptions{AllowUser: true}))
}

func TestLayersExportsJSONBundleWithContentSHA256(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "AGENTS.user.db")
	writeExportFixture(t, path)

	contentType, body, err := Layers([]LayerInput{{AbsPath: path, RelPath: "AGENTS.user.db"}}, Options{
		Format: "json", ToolName: "agentsdb-cli", ToolVersion: "0.1.0",
	})
	require.NoError(t, err)
	assert.Equal(t, "application/json", contentType)

	var bundle BundleV1
	require.NoError(t, json.Unmarshal(body, &bundle))
	assert.Equal(t, FormatJSON, bundle.Format)
	require.Len(t, bundle.Layers, 1)
	require.Len(t, bundle.Layers[0].Chunks, 1)
	c := bundle.Layers[0].Chunks[0]
	require.NotNil(t, c.Content)
	assert.Equal(t, "hello", *c.Content)
	require.NotNil(t, c.ContentSHA256)
	assert.Equal(t, contentSHA256Hex("hello"), *c.ContentSHA256)
	require.NotNil(t, bundle.Layers[0].Logical)
	assert.Equal(t, "user", *bundle.Layers[0].Logical)
}

func TestLayersNDJSONFormProducesHeaderLayerChunkLines(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "AGENTS.user.db")
	writeExportFixture(t, path)

	contentType, body, err := Layers([]LayerInput{{AbsPath: path, RelPath: "AGENTS.user.db"}}, Options{Format: "ndjson"})
	require.NoError(t, err)
	assert.Equal(t, "application/x-ndjson", contentType)

	lines := strings.Split(strings.TrimRight(string(body), "\n"), "\n")
	require.Len(t, lines, 3)
	var header ndjsonRecord
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &header))
	assert.Equal(t, "header", header.Type)
	assert.Equal(t, FormatNDJSON, header.Format)
}

func TestLayersRedactContentDropsContentKeepsEmbedding(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "AGENTS.user.db")
	writeExportFixture(t, path)

	_, body, err := Layers([]LayerInput{{AbsPath: path, RelPath: "AGENTS.user.db"}}, Options{Format: "json", Redact: RedactContent})
	require.NoError(t, err)
	var bundle BundleV1
	require.NoError(t, json.Unmarshal(body, &bundle))
	c := bundle.Layers[0].Chunks[0]
	assert.Nil(t, c.Content)
	assert.NotEmpty(t, c.Embedding)
}

func TestLayersRedactAllDropsBoth(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "AGENTS.user.db")
	writeExportFixture(t, path)

	_, body, err := Layers([]LayerInput{{AbsPath: path, RelPath: "AGENTS.user.db"}}, Options{Format: "json", Redact: RedactAll})
	require.NoError(t, err)
	var bundle BundleV1
	require.NoError(t, json.Unmarshal(body, &bundle))
	c := bundle.Layers[0].Chunks[0]
	assert.Nil(t, c.Content)
	assert.Empty(t, c.Embedding)
}

func TestLayersSkipsMissingLayerFiles(t *testing.T) {
	dir := t.TempDir()
	missing := filepath.Join(dir, "AGENTS.delta.db")

	_, body, err := Layers([]LayerInput{{AbsPath: missing, RelPath: "AGENTS.delta.db"}}, Options{Format: "json"})
	require.NoError(t, err)
	var bundle BundleV1
	require.NoError(t, json.Unmarshal(body, &bundle))
	assert.Empty(t, bundle.Layers)
}
