package layer

import (
	"fmt"
	"math"
)

// ChunkID is a non-zero, file-local identity for a chunk.
type ChunkID uint32

// Author restricts a chunk's author field to the two allowed values.
type Author string

const (
	AuthorHuman Author = "human"
	AuthorMCP   Author = "mcp"
)

func (a Author) Valid() bool {
	return a == AuthorHuman || a == AuthorMCP
}

// Schema fixes a layer's embedding shape. It is immutable once a layer is
// created; append operations must reuse the existing schema.
type Schema struct {
	Dim         uint32
	ElementType ElementType
	QuantScale  float32
}

// Validate checks the quant-scale contract: exactly 1.0 for F32, finite and
// non-zero for I8.
func (s Schema) Validate() error {
	if s.Dim == 0 {
		return fmt.Errorf("schema: dim must be > 0")
	}
	switch s.ElementType {
	case ElementF32:
		if s.QuantScale != 1.0 {
			return fmt.Errorf("schema: F32 quant_scale must be exactly 1.0, got %v", s.QuantScale)
		}
	case ElementI8:
		if s.QuantScale == 0 || !isFinite32(s.QuantScale) {
			return fmt.Errorf("schema: I8 quant_scale must be finite and non-zero, got %v", s.QuantScale)
		}
	default:
		return fmt.Errorf("schema: unknown element type %d", s.ElementType)
	}
	return nil
}

// Equal reports whether two schemas describe the same embedding shape
// (dim, element type, and quant scale bit pattern).
func (s Schema) Equal(o Schema) bool {
	return s.Dim == o.Dim && s.ElementType == o.ElementType && math.Float32bits(s.QuantScale) == math.Float32bits(o.QuantScale)
}

// ProvenanceRef is a tagged reference: either a non-zero chunk id or a
// string-dictionary id. Modeled as a small closed interface, matching the
// example corpus's preference for sum-type interfaces over a single struct
// with an unused discriminated field.
type ProvenanceRef interface {
	isProvenanceRef()
}

// ChunkIDRef references another chunk by id (e.g. a tombstone retracting a
// chunk, or a promoted chunk's original provenance).
type ChunkIDRef struct {
	ID ChunkID
}

func (ChunkIDRef) isProvenanceRef() {}

// SourceStringRef references an external source by string (e.g. a file
// path or URL) recorded in the layer's string dictionary.
type SourceStringRef struct {
	Value string
}

func (SourceStringRef) isProvenanceRef() {}

// Chunk is the atomic unit of stored knowledge: text, embedding,
// provenance, and metadata. Chunks are never mutated after being written;
// retraction is modeled by appending a "tombstone" chunk referencing the
// retracted id(s).
type Chunk struct {
	ID              ChunkID
	Kind            string
	Content         string
	Author          Author
	Confidence      float32
	CreatedAtUnixMs uint64
	Embedding       []float32
	Sources         []ProvenanceRef
}

// KindTombstone and KindOptions are well-known chunk kinds referenced by
// the query engine, options rollup, and proposal ledger.
const (
	KindTombstone     = "tombstone"
	KindOptions       = "options"
	KindProposalEvent = "meta.proposal_event"
)

func isFinite32(f float32) bool {
	return !math.IsNaN(float64(f)) && !math.IsInf(float64(f), 0)
}
