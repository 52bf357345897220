// Package query implements the search engine: precedence-ordered layer
// visibility, global tombstone retraction, cosine similarity scoring
// (optionally sidecar-accelerated), kind filtering, and stable top-k
// ordering. Grounded line-for-line on original_source's
// agentsdb-query/lib.rs (search_layers, compute_visibility,
// validate_schema_compatible, score_for_sort, cosine_similarity); tombstone
// retraction is not present in that file (the retrieved crate only
// resolves layer-precedence visibility) and is built here directly from
// spec.md's prose description of tombstone semantics.
package query

import (
	"math"
	"sort"

	"github.com/krazyjakee/agentsdb/pkg/agentsdberr"
	"github.com/krazyjakee/agentsdb/pkg/layer"
	"github.com/krazyjakee/agentsdb/pkg/sidecar"
)

// LayerID tags an opened layer by its role in the four-tier stack.
type LayerID int

const (
	LayerBase LayerID = iota
	LayerUser
	LayerDelta
	LayerLocal
)

func (id LayerID) String() string {
	switch id {
	case LayerBase:
		return "base"
	case LayerUser:
		return "user"
	case LayerDelta:
		return "delta"
	case LayerLocal:
		return "local"
	default:
		return "unknown"
	}
}

// SearchFilters restricts visible chunks by kind. An empty Kinds means no
// filter.
type SearchFilters struct {
	Kinds []string
}

// SearchQuery is the input to SearchLayers. QueryText is only consulted in
// hybrid mode (see hybrid.go); it is ignored for pure semantic search.
type SearchQuery struct {
	Embedding []float32
	K         int
	Filters   SearchFilters
	QueryText string
}

// SearchResult is one ranked hit.
type SearchResult struct {
	Layer        LayerID
	Score        float64
	Chunk        layer.Chunk
	HiddenLayers []LayerID
}

// OpenedLayer pairs a layer file with the precedence tag it was opened
// under.
type OpenedLayer struct {
	ID   LayerID
	File *layer.File
}

// LayerSet names the on-disk path for each tier; empty strings are
// omitted.
type LayerSet struct {
	Base  string
	User  string
	Delta string
	Local string
}

// Open opens every configured layer in precedence order (local, user,
// delta, base) and validates that they share a compatible schema.
func (ls LayerSet) Open() ([]OpenedLayer, error) {
	var opened []OpenedLayer
	type tagged struct {
		id   LayerID
		path string
	}
	for _, t := range []tagged{
		{LayerLocal, ls.Local},
		{LayerUser, ls.User},
		{LayerDelta, ls.Delta},
		{LayerBase, ls.Base},
	} {
		if t.path == "" {
			continue
		}
		lf, err := layer.Open(t.path)
		if err != nil {
			return nil, err
		}
		opened = append(opened, OpenedLayer{ID: t.id, File: lf})
	}
	if err := validateSchemaCompatible(opened); err != nil {
		closeAll(opened)
		return nil, err
	}
	return opened, nil
}

func closeAll(opened []OpenedLayer) {
	for _, o := range opened {
		_ = o.File.Close()
	}
}

func validateSchemaCompatible(opened []OpenedLayer) error {
	if len(opened) <= 1 {
		return nil
	}
	first := opened[0].File.Schema()
	for _, o := range opened[1:] {
		if !o.File.Schema().Equal(first) {
			return agentsdberr.NewSchemaMismatch("embedding schema mismatch across layers")
		}
	}
	return nil
}

// SearchOptions tunes how SearchLayers resolves scores. UseIndex opts into
// sidecar-accelerated scoring when a valid .agix sidecar exists for a
// layer; Mode selects semantic-only or hybrid lexical+semantic scoring.
// Neither field has a literal counterpart in the retrieved lib.rs (its
// search_layers takes no options struct); agentsdb-ops/search.rs calls a
// search_layers_with_options with an identically-shaped SearchOptions that
// is not present in the retrieved query crate, so this shape is rebuilt
// from that call site plus spec.md §4.6's "options {use_index, mode}".
type SearchOptions struct {
	UseIndex bool
	Mode     SearchMode
	// LexicalWeight is the hybrid-mode lexical contribution, in [0,1].
	// Zero means "unset" and resolves to defaultLexicalWeight; set it via
	// WithLexicalWeight.
	LexicalWeight float64
}

// Opt configures a SearchOptions value, following the teacher's
// functional-options idiom (pkg/model/provider/options.Opt).
type Opt func(*SearchOptions)

// WithLexicalWeight overrides hybrid mode's lexical score weight (default
// 0.5, the remainder goes to the semantic score).
func WithLexicalWeight(w float64) Opt {
	return func(o *SearchOptions) { o.LexicalWeight = w }
}

// NewSearchOptions builds a SearchOptions, applying any Opt overrides.
func NewSearchOptions(mode SearchMode, useIndex bool, opts ...Opt) SearchOptions {
	o := SearchOptions{Mode: mode, UseIndex: useIndex}
	for _, fn := range opts {
		fn(&o)
	}
	return o
}

// SearchMode selects the scoring strategy.
type SearchMode int

const (
	ModeSemantic SearchMode = iota
	ModeHybrid
)

type visibility struct {
	visible  map[visKey]bool
	hiddenBy map[layer.ChunkID][]LayerID
}

type visKey struct {
	layerID LayerID
	chunkID layer.ChunkID
}

// SearchLayers runs a pure-semantic search. It is equivalent to calling
// SearchLayersWithOptions with SearchOptions{Mode: ModeSemantic}.
func SearchLayers(opened []OpenedLayer, q SearchQuery) ([]SearchResult, error) {
	return SearchLayersWithOptions(opened, q, SearchOptions{})
}

// SearchLayersWithOptions is the engine entry point used by pkg/ops.
func SearchLayersWithOptions(opened []OpenedLayer, q SearchQuery, opts SearchOptions) ([]SearchResult, error) {
	if q.K <= 0 {
		return nil, agentsdberr.NewInvalidValue("k", "must be positive")
	}
	if len(opened) == 0 {
		return nil, nil
	}

	dim := int(opened[0].File.Schema().Dim)
	if len(q.Embedding) != dim {
		return nil, agentsdberr.NewSchemaMismatch("query embedding dimension mismatch")
	}

	vis, err := computeVisibility(opened)
	if err != nil {
		return nil, err
	}
	retracted, err := computeRetracted(opened, vis)
	if err != nil {
		return nil, err
	}

	var kindFilter map[string]bool
	if len(q.Filters.Kinds) > 0 {
		kindFilter = make(map[string]bool, len(q.Filters.Kinds))
		for _, k := range q.Filters.Kinds {
			kindFilter[k] = true
		}
	}

	queryNorm := l2Norm(q.Embedding)
	tmp := make([]float32, dim)

	var hits []SearchResult
	for _, o := range opened {
		idx, hasIdx := openSidecarIfRequested(o, opts)
		if hasIdx {
			defer idx.Close()
		}

		for rec, err := range o.File.Chunks() {
			if err != nil {
				return nil, err
			}
			id := rec.ID()
			if !vis.visible[visKey{o.ID, id}] {
				continue
			}
			if retracted[id] {
				continue
			}
			kind, err := rec.Kind()
			if err != nil {
				return nil, err
			}
			if kind == layer.KindTombstone {
				continue
			}
			if kindFilter != nil && !kindFilter[kind] {
				continue
			}

			row := rec.EmbeddingRow()
			score, err := scoreChunk(o.File, idx, hasIdx, row, q.Embedding, queryNorm, tmp)
			if err != nil {
				return nil, err
			}

			chunk, err := rec.Chunk()
			if err != nil {
				return nil, err
			}

			hits = append(hits, SearchResult{
				Layer:        o.ID,
				Score:        score,
				Chunk:        chunk,
				HiddenLayers: vis.hiddenBy[id],
			})
		}
	}

	if q.QueryText != "" && opts.Mode == ModeHybrid {
		weight := opts.LexicalWeight
		if weight == 0 {
			weight = defaultLexicalWeight
		}
		if err := applyHybridScoring(hits, q.QueryText, weight); err != nil {
			return nil, err
		}
	}

	sort.SliceStable(hits, func(i, j int) bool {
		si, sj := scoreForSort(hits[i].Score), scoreForSort(hits[j].Score)
		if si != sj {
			return si > sj
		}
		if hits[i].Chunk.ID != hits[j].Chunk.ID {
			return hits[i].Chunk.ID < hits[j].Chunk.ID
		}
		return hits[i].Layer < hits[j].Layer
	})
	if len(hits) > q.K {
		hits = hits[:q.K]
	}
	return hits, nil
}

func openSidecarIfRequested(o OpenedLayer, opts SearchOptions) (*sidecar.Index, bool) {
	if !opts.UseIndex {
		return nil, false
	}
	idx, ok := sidecar.TryOpen(sidecar.PathFor(o.File.Path()), o.File)
	if !ok {
		return nil, false
	}
	return idx, true
}

// scoreChunk computes cosine similarity for one row, preferring the
// sidecar's precomputed norm (and, when present, its decoded vector) over
// re-dequantizing from the layer.
func scoreChunk(lf *layer.File, idx *sidecar.Index, hasIdx bool, row uint32, query []float32, queryNorm float32, tmp []float32) (float64, error) {
	var vec []float32
	var rowNorm float32
	haveNorm := false

	if hasIdx {
		if v, ok := idx.EmbeddingRow(row); ok {
			vec = v
		}
		rowNorm = idx.RowNorm(row)
		haveNorm = true
	}

	if vec == nil {
		if err := lf.ReadEmbeddingRowF32(row, tmp); err != nil {
			return 0, err
		}
		vec = tmp
	}
	if !haveNorm {
		rowNorm = l2Norm(vec)
	}

	return float64(cosineSimilarityWithNorm(query, queryNorm, vec, rowNorm)), nil
}

func computeVisibility(opened []OpenedLayer) (visibility, error) {
	seen := make(map[layer.ChunkID]LayerID)
	visible := make(map[visKey]bool)
	hiddenBy := make(map[layer.ChunkID][]LayerID)

	for _, o := range opened {
		for rec, err := range o.File.Chunks() {
			if err != nil {
				return visibility{}, err
			}
			id := rec.ID()
			if _, ok := seen[id]; !ok {
				seen[id] = o.ID
				visible[visKey{o.ID, id}] = true
			} else {
				hiddenBy[id] = append(hiddenBy[id], o.ID)
			}
		}
	}
	return visibility{visible: visible, hiddenBy: hiddenBy}, nil
}

// computeRetracted collects every chunk id referenced by a visible
// tombstone's provenance, across all layers. Tombstones that are
// themselves shadowed by a higher-precedence duplicate id do not
// retract anything; this mirrors the visibility rule applied uniformly
// to every chunk kind, including tombstones.
func computeRetracted(opened []OpenedLayer, vis visibility) (map[layer.ChunkID]bool, error) {
	retracted := make(map[layer.ChunkID]bool)
	for _, o := range opened {
		for rec, err := range o.File.Chunks() {
			if err != nil {
				return nil, err
			}
			id := rec.ID()
			if !vis.visible[visKey{o.ID, id}] {
				continue
			}
			kind, err := rec.Kind()
			if err != nil {
				return nil, err
			}
			if kind != layer.KindTombstone {
				continue
			}
			sources, err := rec.Sources()
			if err != nil {
				return nil, err
			}
			for _, s := range sources {
				if ref, ok := s.(layer.ChunkIDRef); ok {
					retracted[ref.ID] = true
				}
			}
		}
	}
	return retracted, nil
}

func l2Norm(v []float32) float32 {
	var sum float32
	for _, x := range v {
		sum += x * x
	}
	return float32(math.Sqrt(float64(sum)))
}

func cosineSimilarityWithNorm(query []float32, queryNorm float32, row []float32, rowNorm float32) float32 {
	if queryNorm == 0 || len(row) == 0 || rowNorm == 0 {
		return 0
	}
	var dot float32
	for i, a := range query {
		dot += a * row[i]
	}
	return dot / (queryNorm * rowNorm)
}

func scoreForSort(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return math.Inf(-1)
	}
	return v
}
