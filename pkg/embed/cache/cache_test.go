package cache

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/krazyjakee/agentsdb/pkg/embed"
	"github.com/krazyjakee/agentsdb/pkg/embed/hashembed"
)

func TestStoreAndLoadRoundTrip(t *testing.T) {
	dir, err := Open(t.TempDir())
	require.NoError(t, err)

	profile := embed.Profile{Backend: "hash", Dim: 3, OutputNorm: embed.OutputNormNone}
	vec := []float32{1, 2, 3}

	_, ok, err := dir.lookup(profile, "hello")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, dir.store(profile, "hello", vec))

	got, ok, err := dir.lookup(profile, "hello")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, vec, got)
}

func TestStoreIsDeterministicBytes(t *testing.T) {
	root := t.TempDir()
	dir, err := Open(root)
	require.NoError(t, err)
	profile := embed.Profile{Backend: "hash", Dim: 2}
	require.NoError(t, dir.store(profile, "x", []float32{0.25, -1.0}))

	key, err := profile.CacheKeyV2("x")
	require.NoError(t, err)
	path := filepath.Join(root, key[0:2], key[2:4], key+".json")
	b1, err := os.ReadFile(path)
	require.NoError(t, err)

	require.NoError(t, dir.store(profile, "x", []float32{0.25, -1.0}))
	b2, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, b1, b2)
}

func TestV1KeyIsHonoredOnReadOnly(t *testing.T) {
	root := t.TempDir()
	dir, err := Open(root)
	require.NoError(t, err)
	profile := embed.Profile{Backend: "hash", Dim: 2, OutputNorm: embed.OutputNormL2}

	v1Key, err := profile.CacheKeyV1("legacy")
	require.NoError(t, err)
	path := filepath.Join(root, v1Key[0:2], v1Key[2:4], v1Key+".json")
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	legacyEntry := entry{
		V: 1, Key: v1Key, CacheKeyAlg: "sha256(profile_json_v1 || 0x00 || content_utf8)",
		Profile: storedProfile{Backend: "hash", Dim: 2},
		Dim:     2, Embedding: []float32{9, 9},
	}
	data, err := json.Marshal(legacyEntry)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o644))

	got, ok, err := dir.lookup(profile, "legacy")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []float32{9, 9}, got)
}

func TestWrapOnlyCallsInnerOnceForMissThenServesFromCache(t *testing.T) {
	dir, err := Open(t.TempDir())
	require.NoError(t, err)

	counting := &countingEmbedder{Embedder: hashembed.New(4)}
	cached := Wrap(counting, dir)

	v1, err := cached.Embed(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, 1, counting.calls)

	v2, err := cached.Embed(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, 1, counting.calls)
	assert.Equal(t, v1, v2)
}

type countingEmbedder struct {
	*hashembed.Embedder
	calls int
}

func (c *countingEmbedder) Embed(ctx context.Context, inputs []string) ([][]float32, error) {
	c.calls++
	return c.Embedder.Embed(ctx, inputs)
}
