package embed

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Embedder is the uniform capability set every backend implements:
// profile/metadata for audit and compatibility, and Embed for the actual
// text-to-vector call.
type Embedder interface {
	Profile() Profile
	Metadata() Metadata
	// Embed returns one vector per input, each of length Profile().Dim.
	Embed(ctx context.Context, inputs []string) ([][]float32, error)
}

// BatchRunner is implemented by an Embedder that wants to control its own
// batching (e.g. a provider with a native bulk endpoint and its own
// per-request size limit). When an Embedder does not implement it,
// RunBatched falls back to calling Embed once per batch window, still
// bounding concurrency the same way.
type BatchRunner interface {
	EmbedBatch(ctx context.Context, inputs []string) ([][]float32, error)
}

// BatchOptions configures RunBatched's windowing and concurrency.
type BatchOptions struct {
	BatchSize      int // default 50
	MaxConcurrency int // default 5
}

func (o BatchOptions) withDefaults() BatchOptions {
	if o.BatchSize <= 0 {
		o.BatchSize = 50
	}
	if o.MaxConcurrency <= 0 {
		o.MaxConcurrency = 5
	}
	return o
}

// RunBatched embeds inputs in fixed-size windows, running up to
// opts.MaxConcurrency windows concurrently via an errgroup with
// SetLimit, mirroring the teacher's embedBatchOptimized: a pre-allocated
// result slice guarded by a mutex on write, first error wins.
func RunBatched(ctx context.Context, e Embedder, inputs []string, opts BatchOptions) ([][]float32, error) {
	if len(inputs) == 0 {
		return nil, nil
	}
	opts = opts.withDefaults()

	out := make([][]float32, len(inputs))
	var mu sync.Mutex

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.MaxConcurrency)

	runWindow := func(start, end int) error {
		window := inputs[start:end]
		var vecs [][]float32
		var err error
		if br, ok := e.(BatchRunner); ok {
			vecs, err = br.EmbedBatch(ctx, window)
		} else {
			vecs, err = e.Embed(ctx, window)
		}
		if err != nil {
			return fmt.Errorf("embed: window [%d,%d): %w", start, end, err)
		}
		if len(vecs) != len(window) {
			return fmt.Errorf("embed: window [%d,%d): expected %d vectors, got %d", start, end, len(window), len(vecs))
		}
		mu.Lock()
		copy(out[start:end], vecs)
		mu.Unlock()
		return nil
	}

	total := len(inputs)
	for start := 0; start < total; start += opts.BatchSize {
		start := start
		end := min(start+opts.BatchSize, total)
		g.Go(func() error { return runWindow(start, end) })
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	slog.Debug("embed: batch completed", "total_inputs", total, "batch_size", opts.BatchSize, "max_concurrency", opts.MaxConcurrency)
	return out, nil
}
