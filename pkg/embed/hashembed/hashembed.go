// Package hashembed implements the deterministic baseline embedder: always
// available, requires no network or model weights, and suitable as a
// fallback when no external backend is configured.
package hashembed

import (
	"context"
	"crypto/sha256"
	"encoding/binary"

	"github.com/krazyjakee/agentsdb/pkg/embed"
)

// Embedder produces a fixed-dimension vector whose components are a
// deterministic function of the input's UTF-8 bytes: pure, thread-safe,
// and stable across invocations and processes (no process-local state
// feeds the output).
type Embedder struct {
	dim int
}

// New returns a hash embedder producing vectors of the given dimension.
func New(dim int) *Embedder {
	return &Embedder{dim: dim}
}

func (e *Embedder) Profile() embed.Profile {
	return embed.Profile{Backend: "hash", Dim: e.dim, OutputNorm: embed.OutputNormNone}
}

func (e *Embedder) Metadata() embed.Metadata {
	return embed.Metadata{Provider: "hash", Runtime: "agentsdb-hash"}
}

// Embed is pure and order-independent: each input maps to the same
// vector regardless of what else is in the batch.
func (e *Embedder) Embed(_ context.Context, inputs []string) ([][]float32, error) {
	out := make([][]float32, len(inputs))
	for i, s := range inputs {
		out[i] = vectorFor(s, e.dim)
	}
	return out, nil
}

// vectorFor derives a dim-length vector from content: blocks of 8
// components come from one sha256(content || block_index) digest, its 32
// bytes read as 8 big-endian uint32s each mapped linearly from
// [0, 2^32-1] to [-1.0, 1.0].
func vectorFor(content string, dim int) []float32 {
	out := make([]float32, dim)
	contentBytes := []byte(content)

	for block := 0; block*8 < dim; block++ {
		h := sha256.New()
		h.Write(contentBytes)
		var idx [4]byte
		binary.BigEndian.PutUint32(idx[:], uint32(block))
		h.Write(idx[:])
		digest := h.Sum(nil)

		for j := 0; j < 8; j++ {
			pos := block*8 + j
			if pos >= dim {
				break
			}
			u := binary.BigEndian.Uint32(digest[j*4 : j*4+4])
			out[pos] = float32(u)/float32(1<<31) - 1.0
		}
	}
	return out
}
