// Package embed defines the embedder abstraction shared by every backend
// (hash, OpenAI-compatible, Voyage, Cohere, Anthropic-passthrough, AWS
// Bedrock, Gemini): a profile/metadata contract, a concurrency helper for
// batch embedding, and the capability interfaces the cache and query
// layers depend on.
package embed

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// OutputNorm describes whether an embedder normalizes its output vectors.
type OutputNorm string

const (
	OutputNormNone OutputNorm = "none"
	OutputNormL2   OutputNorm = "l2"
)

// Profile is the immutable unit of compatibility between a layer and the
// embedder that produced it. Two profiles are equal iff every field is
// equal.
type Profile struct {
	Backend    string
	Model      string
	Revision   string
	Dim        int
	OutputNorm OutputNorm
}

// Equal reports whether p and o describe the same embedder configuration.
func (p Profile) Equal(o Profile) bool {
	return p.Backend == o.Backend && p.Model == o.Model && p.Revision == o.Revision &&
		p.Dim == o.Dim && p.OutputNorm == o.OutputNorm
}

// Metadata records descriptive, non-identity information about an
// embedder call for audit: provider, endpoint, runtime, the model
// actually observed to respond, its checksum, and request/response
// fingerprints. Stored into a layer's layer-metadata blob alongside the
// Profile.
type Metadata struct {
	Provider           string            `json:"provider"`
	APIBase            string            `json:"api_base,omitempty"`
	Runtime            string            `json:"runtime,omitempty"`
	ObservedModel      string            `json:"observed_model,omitempty"`
	ModelSHA256        string            `json:"model_sha256,omitempty"`
	RequestFingerprint string            `json:"request_fingerprint,omitempty"`
	ResponseHeaders    map[string]string `json:"response_headers,omitempty"`
}

// fingerprintV1 is the pre-output_norm profile fingerprint, honored only
// on cache read for backward compatibility with caches populated before
// output_norm was tracked. Field order is fixed: it is hashed as JSON
// bytes, so reordering would change every existing cache key.
type fingerprintV1 struct {
	V        int    `json:"v"`
	Backend  string `json:"backend"`
	Model    string `json:"model,omitempty"`
	Revision string `json:"revision,omitempty"`
	Dim      int    `json:"dim"`
}

// fingerprintV2 is the canonical profile fingerprint used for new cache
// writes; it additionally carries output_norm.
type fingerprintV2 struct {
	V          int        `json:"v"`
	Backend    string     `json:"backend"`
	Model      string     `json:"model,omitempty"`
	Revision   string     `json:"revision,omitempty"`
	Dim        int        `json:"dim"`
	OutputNorm OutputNorm `json:"output_norm"`
}

// FingerprintV2JSON serializes the canonical (v2) fingerprint of p.
func (p Profile) FingerprintV2JSON() ([]byte, error) {
	return json.Marshal(fingerprintV2{
		V: 2, Backend: p.Backend, Model: p.Model, Revision: p.Revision,
		Dim: p.Dim, OutputNorm: p.OutputNorm,
	})
}

// FingerprintV1JSON serializes the legacy (v1, no output_norm) fingerprint
// of p, for read-compatibility lookups only.
func (p Profile) FingerprintV1JSON() ([]byte, error) {
	return json.Marshal(fingerprintV1{
		V: 1, Backend: p.Backend, Model: p.Model, Revision: p.Revision, Dim: p.Dim,
	})
}

// CacheKeyHex computes the lowercase-hex cache key for content under the
// given fingerprint bytes: sha256(fingerprint || 0x00 || content).
func CacheKeyHex(fingerprint []byte, content string) string {
	var buf bytes.Buffer
	buf.Write(fingerprint)
	buf.WriteByte(0x00)
	buf.WriteString(content)
	sum := sha256.Sum256(buf.Bytes())
	return hex.EncodeToString(sum[:])
}

// CacheKeyV2 computes p's V2 cache key for content; this is the key new
// cache entries are written under.
func (p Profile) CacheKeyV2(content string) (string, error) {
	fp, err := p.FingerprintV2JSON()
	if err != nil {
		return "", fmt.Errorf("embed: fingerprint profile: %w", err)
	}
	return CacheKeyHex(fp, content), nil
}

// CacheKeyV1 computes p's legacy V1 cache key for content, used only to
// look up entries written before output_norm was tracked.
func (p Profile) CacheKeyV1(content string) (string, error) {
	fp, err := p.FingerprintV1JSON()
	if err != nil {
		return "", fmt.Errorf("embed: fingerprint profile (v1): %w", err)
	}
	return CacheKeyHex(fp, content), nil
}
