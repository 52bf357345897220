// Package anthropicembed provides the "anthropic" backend name without
// calling any Anthropic API: Anthropic does not publish a first-party
// embeddings endpoint, and original_source's own anthropic_embedder (cfg
// feature "anthropic") is never compiled into the retrieved source for
// the same reason. This package exists so that configuring
// backend = "anthropic" produces a working, deterministic embedder
// (delegating to hashembed) rather than a hard configuration error,
// matching the spirit of original_source's anthropic.rs pass-through.
package anthropicembed

import (
	"context"

	"github.com/krazyjakee/agentsdb/pkg/embed"
	"github.com/krazyjakee/agentsdb/pkg/embed/hashembed"
)

// Embedder reports backend "anthropic" but computes vectors with the
// deterministic hash embedder underneath.
type Embedder struct {
	inner *hashembed.Embedder
	dim   int
}

func New(dim int) *Embedder {
	return &Embedder{inner: hashembed.New(dim), dim: dim}
}

func (e *Embedder) Profile() embed.Profile {
	p := e.inner.Profile()
	p.Backend = "anthropic"
	return p
}

func (e *Embedder) Metadata() embed.Metadata {
	m := e.inner.Metadata()
	m.Provider = "anthropic"
	m.Runtime = "agentsdb-hash-passthrough"
	return m
}

func (e *Embedder) Embed(ctx context.Context, inputs []string) ([][]float32, error) {
	return e.inner.Embed(ctx, inputs)
}
