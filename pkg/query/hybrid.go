package query

import (
	"fmt"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/mapping"
)

// defaultLexicalWeight is spec.md §4.6's default: half the combined score
// comes from the lexical match, half from cosine similarity.
const defaultLexicalWeight = 0.5

// applyHybridScoring blends each hit's semantic score with a bleve
// full-text match score over the same candidate set's content, the same
// way the teacher's pkg/model/provider/rulebased/client.go scores route
// examples: an in-memory bleve.NewMemOnly index built fresh per query (the
// candidate set here is already small, post-visibility and pre-topk),
// searched with a single bleve.NewMatchQuery. Bleve's own TF-IDF-style
// hit.Score has no fixed range, so it is min-max normalized across the
// candidate set to [0,1] before blending — this normalization is not
// specified further upstream (spec.md §9 flags it as an open question),
// so it is documented here rather than left implicit.
func applyHybridScoring(hits []SearchResult, queryText string, lexicalWeight float64) error {
	if len(hits) == 0 {
		return nil
	}

	index, err := newCandidateIndex()
	if err != nil {
		return fmt.Errorf("query: building hybrid index: %w", err)
	}
	defer index.Close()

	for i, h := range hits {
		docID := fmt.Sprintf("c%d", i)
		if err := index.Index(docID, map[string]any{"content": h.Chunk.Content}); err != nil {
			return fmt.Errorf("query: indexing candidate: %w", err)
		}
	}

	matchQuery := bleve.NewMatchQuery(queryText)
	matchQuery.SetField("content")

	req := bleve.NewSearchRequest(matchQuery)
	req.Size = len(hits)

	result, err := index.Search(req)
	if err != nil {
		return fmt.Errorf("query: hybrid search: %w", err)
	}

	raw := make(map[string]float64, len(result.Hits))
	minScore, maxScore := 0.0, 0.0
	first := true
	for _, hit := range result.Hits {
		raw[hit.ID] = hit.Score
		if first || hit.Score < minScore {
			minScore = hit.Score
		}
		if first || hit.Score > maxScore {
			maxScore = hit.Score
		}
		first = false
	}

	spread := maxScore - minScore
	for i := range hits {
		docID := fmt.Sprintf("c%d", i)
		score, matched := raw[docID]
		lexical := 0.0
		if matched {
			if spread > 0 {
				lexical = (score - minScore) / spread
			} else {
				lexical = 1.0
			}
		}
		hits[i].Score = (1-lexicalWeight)*hits[i].Score + lexicalWeight*lexical
	}
	return nil
}

func newCandidateIndex() (bleve.Index, error) {
	indexMapping := mapping.NewIndexMapping()

	docMapping := mapping.NewDocumentMapping()
	textField := mapping.NewTextFieldMapping()
	textField.Analyzer = "en"
	docMapping.AddFieldMappingsAt("content", textField)

	indexMapping.DefaultMapping = docMapping

	return bleve.NewMemOnly(indexMapping)
}
