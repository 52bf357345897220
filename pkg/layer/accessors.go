package layer

import (
	"fmt"

	"github.com/krazyjakee/agentsdb/pkg/agentsdberr"
)

// Record is a lazily-resolved view over one chunk table entry: the ids and
// offsets are cheap to read up front, but Kind/Content/Author/Sources are
// only resolved against the string dictionary / relationships section on
// demand.
type Record struct {
	lf  *File
	raw chunkRecord
}

func (r Record) ID() ChunkID { return ChunkID(r.raw.id) }

func (r Record) EmbeddingRow() uint32 { return r.raw.embeddingRow }

func (r Record) Confidence() float32 { return r.raw.confidence }

func (r Record) CreatedAtUnixMs() uint64 { return r.raw.createdAtMs }

func (r Record) Kind() (string, error) { return r.lf.stringByID(r.raw.kindStrID) }

func (r Record) Content() (string, error) { return r.lf.stringByID(r.raw.contentStrID) }

func (r Record) Author() (Author, error) {
	s, err := r.lf.stringByID(r.raw.authorStrID)
	if err != nil {
		return "", err
	}
	return Author(s), nil
}

// Sources resolves the chunk's provenance list from the relationships
// section (or returns nil if the chunk has no source window).
func (r Record) Sources() ([]ProvenanceRef, error) {
	return r.lf.sourcesFor(r.raw.relStart, r.raw.relCount)
}

// Chunk fully materializes the record into a Chunk value, including its
// decoded f32 embedding.
func (r Record) Chunk() (Chunk, error) {
	kind, err := r.Kind()
	if err != nil {
		return Chunk{}, err
	}
	content, err := r.Content()
	if err != nil {
		return Chunk{}, err
	}
	author, err := r.Author()
	if err != nil {
		return Chunk{}, err
	}
	sources, err := r.Sources()
	if err != nil {
		return Chunk{}, err
	}
	emb := make([]float32, r.lf.matrix.dim)
	if err := r.lf.ReadEmbeddingRowF32(r.raw.embeddingRow, emb); err != nil {
		return Chunk{}, err
	}
	return Chunk{
		ID:              r.ID(),
		Kind:            kind,
		Content:         content,
		Author:          author,
		Confidence:      r.raw.confidence,
		CreatedAtUnixMs: r.raw.createdAtMs,
		Embedding:       emb,
		Sources:         sources,
	}, nil
}

func (lf *File) sourcesFor(relStart uint64, relCount uint32) ([]ProvenanceRef, error) {
	if relCount == 0 {
		return nil, nil
	}
	out := make([]ProvenanceRef, 0, relCount)
	for i := uint32(0); i < relCount; i++ {
		off := int(lf.rels.recordsOff) + int(relStart+uint64(i))*RelationshipRecord
		if err := need(lf.data, off, RelationshipRecord); err != nil {
			return nil, err
		}
		kind := byteOrder.Uint32(lf.data[off : off+4])
		value := byteOrder.Uint32(lf.data[off+4 : off+8])
		switch kind {
		case relKindChunkID:
			out = append(out, ChunkIDRef{ID: ChunkID(value)})
		case relKindString:
			s, err := lf.stringByID(value)
			if err != nil {
				return nil, err
			}
			out = append(out, SourceStringRef{Value: s})
		default:
			return nil, fmt.Errorf("layer: unknown relationship kind %d", kind)
		}
	}
	return out, nil
}

// Chunks iterates the chunk table in on-disk order, yielding at most
// ChunkCount() records.
func (lf *File) Chunks() func(yield func(Record, error) bool) {
	return func(yield func(Record, error) bool) {
		for i := uint64(0); i < lf.chunks.count; i++ {
			raw, err := lf.rawChunkRecord(i)
			if err != nil {
				yield(Record{}, err)
				return
			}
			if !yield(Record{lf: lf, raw: raw}, nil) {
				return
			}
		}
	}
}

// AllChunks materializes every chunk in the layer, in on-disk order.
func (lf *File) AllChunks() ([]Chunk, error) {
	out := make([]Chunk, 0, lf.chunks.count)
	var outerErr error
	for rec, err := range lf.Chunks() {
		if err != nil {
			outerErr = err
			break
		}
		c, err := rec.Chunk()
		if err != nil {
			outerErr = err
			break
		}
		out = append(out, c)
	}
	if outerErr != nil {
		return nil, outerErr
	}
	return out, nil
}

// ReadEmbeddingRowF32 decodes row (1-based) into dst, which must have
// exactly Schema().Dim elements. I8 rows are dequantized by multiplying
// each signed byte by the schema's quant scale.
func (lf *File) ReadEmbeddingRowF32(row uint32, dst []float32) error {
	if row == 0 || uint64(row) > lf.matrix.rowCount {
		return agentsdberr.NewFormatError(agentsdberr.InvalidEmbeddingRow, row)
	}
	if uint32(len(dst)) != lf.matrix.dim {
		return fmt.Errorf("layer: embedding row buffer must have %d elements, got %d", lf.matrix.dim, len(dst))
	}

	dim := int(lf.matrix.dim)
	elemSize := lf.matrix.elemType.Size()
	rowOffset := int(lf.matrix.dataOffset) + int(row-1)*dim*elemSize
	if err := need(lf.data, rowOffset, dim*elemSize); err != nil {
		return err
	}

	switch lf.matrix.elemType {
	case ElementF32:
		for i := 0; i < dim; i++ {
			off := rowOffset + i*4
			dst[i] = float32FromBits(byteOrder.Uint32(lf.data[off : off+4]))
		}
	case ElementI8:
		scale := lf.matrix.quantScale
		for i := 0; i < dim; i++ {
			b := int8(lf.data[rowOffset+i])
			dst[i] = float32(b) * scale
		}
	default:
		return fmt.Errorf("layer: unknown element type %d", lf.matrix.elemType)
	}
	return nil
}
