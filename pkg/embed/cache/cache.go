// Package cache implements the content-addressed embedding disk cache
// from spec.md §4.4: a two-level hex fan-out directory of JSON entries
// keyed by sha256(profile_fingerprint_v2_json || 0x00 || content_utf8),
// written atomically, with read-compatibility for the legacy v1 key
// (computed without output_norm).
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/krazyjakee/agentsdb/pkg/embed"
)

// entry is the on-disk shape of one cache file.
type entry struct {
	V           int           `json:"v"`
	Key         string        `json:"key"`
	CacheKeyAlg string        `json:"cache_key_alg"`
	Profile     storedProfile `json:"profile"`
	Dim         int           `json:"dim"`
	Embedding   []float32     `json:"embedding"`
}

type storedProfile struct {
	Backend    string           `json:"backend"`
	Model      string           `json:"model,omitempty"`
	Revision   string           `json:"revision,omitempty"`
	Dim        int              `json:"dim"`
	OutputNorm embed.OutputNorm `json:"output_norm"`
}

const cacheKeyAlgV2 = "sha256(profile_json_v2 || 0x00 || content_utf8)"

// Dir is a content-addressed embedding cache rooted at one directory.
type Dir struct {
	root string
}

// Open returns a cache rooted at dir, creating it if necessary.
func Open(dir string) (*Dir, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cache: create dir %s: %w", dir, err)
	}
	return &Dir{root: dir}, nil
}

// DefaultDir resolves the conventional cache directory: XDG_CACHE_HOME,
// falling back to LOCALAPPDATA on Windows, falling back to
// $HOME/.cache, each with an "agentsdb/embeddings" suffix.
func DefaultDir() (string, error) {
	if dir := os.Getenv("XDG_CACHE_HOME"); dir != "" {
		return filepath.Join(dir, "agentsdb", "embeddings"), nil
	}
	if runtime.GOOS == "windows" {
		if dir := os.Getenv("LOCALAPPDATA"); dir != "" {
			return filepath.Join(dir, "agentsdb", "embeddings"), nil
		}
	}
	if home := os.Getenv("HOME"); home != "" {
		return filepath.Join(home, ".cache", "agentsdb", "embeddings"), nil
	}
	return "", fmt.Errorf("cache: unable to determine cache dir (set XDG_CACHE_HOME or HOME)")
}

func (d *Dir) pathForKey(key string) string {
	if len(key) < 4 {
		return filepath.Join(d.root, "xx", "yy", key+".json")
	}
	return filepath.Join(d.root, key[0:2], key[2:4], key+".json")
}

// lookup tries the v2 key first, then falls back to the legacy v1 key
// (profile fingerprint without output_norm) for caches populated before
// output_norm was tracked.
func (d *Dir) lookup(profile embed.Profile, content string) ([]float32, bool, error) {
	v2Key, err := profile.CacheKeyV2(content)
	if err != nil {
		return nil, false, err
	}
	if vec, ok, err := d.load(v2Key, profile); err != nil || ok {
		return vec, ok, err
	}

	v1Key, err := profile.CacheKeyV1(content)
	if err != nil {
		return nil, false, err
	}
	return d.load(v1Key, profile)
}

func (d *Dir) load(key string, profile embed.Profile) ([]float32, bool, error) {
	path := d.pathForKey(key)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("cache: read %s: %w", path, err)
	}

	var e entry
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, false, fmt.Errorf("cache: parse %s: %w", path, err)
	}
	if e.Key != key {
		return nil, false, nil
	}
	if e.Dim != profile.Dim || len(e.Embedding) != profile.Dim {
		return nil, false, nil
	}
	return e.Embedding, true, nil
}

// store writes embedding under content's v2 key. Entry bytes are a pure
// function of (key, profile, embedding): two stores of the same input
// produce byte-identical files.
func (d *Dir) store(profile embed.Profile, content string, embedding []float32) error {
	key, err := profile.CacheKeyV2(content)
	if err != nil {
		return err
	}
	path := d.pathForKey(key)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("cache: create dir for %s: %w", path, err)
	}

	e := entry{
		V:           1,
		Key:         key,
		CacheKeyAlg: cacheKeyAlgV2,
		Profile: storedProfile{
			Backend: profile.Backend, Model: profile.Model, Revision: profile.Revision,
			Dim: profile.Dim, OutputNorm: profile.OutputNorm,
		},
		Dim:       profile.Dim,
		Embedding: embedding,
	}
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("cache: marshal entry: %w", err)
	}
	return atomicWrite(path, data)
}

// Embedder wraps an inner embed.Embedder with disk-cached lookups: on
// miss it calls the inner embedder exactly once per missing input, then
// stores the result. The wrapped profile and metadata are the inner
// embedder's, unchanged — caching is an implementation detail invisible
// to layer metadata.
type Embedder struct {
	inner embed.Embedder
	dir   *Dir
}

// Wrap returns inner wrapped in a cache rooted at dir.
func Wrap(inner embed.Embedder, dir *Dir) *Embedder {
	return &Embedder{inner: inner, dir: dir}
}

func (c *Embedder) Profile() embed.Profile   { return c.inner.Profile() }
func (c *Embedder) Metadata() embed.Metadata { return c.inner.Metadata() }

func (c *Embedder) Embed(ctx context.Context, inputs []string) ([][]float32, error) {
	profile := c.inner.Profile()
	out := make([][]float32, len(inputs))
	var missIdx []int
	var missInputs []string

	for i, content := range inputs {
		vec, ok, err := c.dir.lookup(profile, content)
		if err != nil {
			return nil, err
		}
		if ok {
			out[i] = vec
			continue
		}
		missIdx = append(missIdx, i)
		missInputs = append(missInputs, content)
	}

	if len(missInputs) == 0 {
		return out, nil
	}

	fresh, err := c.inner.Embed(ctx, missInputs)
	if err != nil {
		return nil, err
	}
	if len(fresh) != len(missInputs) {
		return nil, fmt.Errorf("cache: inner embedder returned %d vectors for %d inputs", len(fresh), len(missInputs))
	}

	for j, i := range missIdx {
		out[i] = fresh[j]
		if err := c.dir.store(profile, missInputs[j], fresh[j]); err != nil {
			return nil, err
		}
	}
	return out, nil
}
