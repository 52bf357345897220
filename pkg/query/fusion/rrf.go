// Package fusion implements Reciprocal Rank Fusion for combining
// independently-ranked result sets (e.g. a BM25-only pass and a
// semantic-only pass) into one ranking. Ported from the teacher's
// pkg/rag/fusion/rrf.go; query.SearchLayersWithOptions(ModeHybrid) does
// not use this, since it blends scores directly rather than fusing ranks
// (see pkg/query/hybrid.go) — RRF is an opt-in alternative for callers
// that want to fuse two already-ranked result sets, used by pkg/ops
// multi-pass re-ranking helpers.
package fusion

import (
	"cmp"
	"fmt"
	"slices"

	"github.com/krazyjakee/agentsdb/pkg/query"
)

// ReciprocalRankFusion combines result sets with score(d) = sum(1/(k+rank+1)),
// rank starting at 0, k typically 60.
//
// Reference: "Reciprocal Rank Fusion outperforms Condorcet and individual
// Rank Learning Methods" by Cormack, Clarke, and Buettcher (SIGIR 2009).
type ReciprocalRankFusion struct {
	k int
}

// New creates an RRF fusion strategy. k <= 0 defaults to 60.
func New(k int) *ReciprocalRankFusion {
	if k <= 0 {
		k = 60
	}
	return &ReciprocalRankFusion{k: k}
}

// Fuse combines named strategies' result sets into one ranking. A single
// strategy is returned unchanged.
func (rrf *ReciprocalRankFusion) Fuse(strategyResults map[string][]query.SearchResult) ([]query.SearchResult, error) {
	if len(strategyResults) == 0 {
		return []query.SearchResult{}, nil
	}
	if len(strategyResults) == 1 {
		for _, results := range strategyResults {
			return results, nil
		}
	}

	fused := make(map[string]*fusedResult)
	for strategyName, results := range strategyResults {
		for rank, r := range results {
			id := docKey(r)
			entry, ok := fused[id]
			if !ok {
				entry = &fusedResult{result: r}
				fused[id] = entry
			}
			entry.score += 1.0 / float64(rrf.k+rank+1)
		}
	}

	ordered := make([]*fusedResult, 0, len(fused))
	for _, entry := range fused {
		ordered = append(ordered, entry)
	}
	slices.SortFunc(ordered, func(a, b *fusedResult) int {
		return cmp.Compare(b.score, a.score)
	})

	out := make([]query.SearchResult, len(ordered))
	for i, entry := range ordered {
		r := entry.result
		r.Score = entry.score
		out[i] = r
	}
	return out, nil
}

type fusedResult struct {
	result query.SearchResult
	score  float64
}

func docKey(r query.SearchResult) string {
	return fmt.Sprintf("%s_%d", r.Layer, r.Chunk.ID)
}
