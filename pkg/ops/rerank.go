package ops

import (
	"github.com/krazyjakee/agentsdb/pkg/query"
	"github.com/krazyjakee/agentsdb/pkg/query/fusion"
)

// RerankRRF runs q as both a pure-semantic pass and a hybrid (lexical +
// semantic) pass, then fuses the two independently-ranked result sets
// with Reciprocal Rank Fusion. This gives a final ordering that survives
// either single signal being noisy on its own — an opt-in alternative to
// query.SearchLayersWithOptions(ModeHybrid)'s direct score blending.
// Grounded on pkg/query/fusion's ReciprocalRankFusion (itself ported from
// the teacher's pkg/rag/fusion/rrf.go).
func RerankRRF(opened []query.OpenedLayer, q query.SearchQuery, rrfK int) ([]query.SearchResult, error) {
	semantic, err := query.SearchLayersWithOptions(opened, q, query.NewSearchOptions(query.ModeSemantic, false))
	if err != nil {
		return nil, err
	}
	hybrid, err := query.SearchLayersWithOptions(opened, q, query.NewSearchOptions(query.ModeHybrid, false))
	if err != nil {
		return nil, err
	}

	fused, err := fusion.New(rrfK).Fuse(map[string][]query.SearchResult{
		"semantic": semantic,
		"hybrid":   hybrid,
	})
	if err != nil {
		return nil, err
	}
	if len(fused) > q.K {
		fused = fused[:q.K]
	}
	return fused, nil
}
