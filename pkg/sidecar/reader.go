package sidecar

import (
	"crypto/sha256"
	"math"
	"os"

	"github.com/blevesearch/mmap-go"

	"github.com/krazyjakee/agentsdb/pkg/layer"
)

// Index is a memory-mapped, opened sidecar. It is immutable and safe to
// share across goroutines once Open returns it.
type Index struct {
	data          mmap.MMap
	f             *os.File
	dim           uint32
	elemType      layer.ElementType
	rowCount      uint64
	quantScale    float32
	normsOffset   uint64
	embOffset     uint64
	hasEmbeddings bool
}

// TryOpen opens the sidecar at path and validates it against lf. It never
// returns an error: any mismatch, corruption, or missing file is reported
// as (nil, false) — "no sidecar available" — per spec; callers fall back
// to scanning the layer directly. The sidecar is never rebuilt or
// repaired by this call.
func TryOpen(path string, lf *layer.File) (*Index, bool) {
	idx, err := open(path, lf)
	if err != nil {
		return nil, false
	}
	return idx, true
}

func open(path string, lf *layer.File) (*Index, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	stat, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if stat.Size() < HeaderSize {
		f.Close()
		return nil, errTooSmall
	}

	data, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		f.Close()
		return nil, err
	}

	idx, err := parse(data)
	if err != nil {
		data.Unmap()
		f.Close()
		return nil, err
	}
	idx.f = f

	schema := lf.Schema()
	if idx.dim != schema.Dim || idx.elemType != schema.ElementType || idx.rowCount != lf.RowCount() {
		idx.Close()
		return nil, errSchemaMismatch
	}
	if math.Float32bits(idx.quantScale) != math.Float32bits(schema.QuantScale) {
		idx.Close()
		return nil, errSchemaMismatch
	}

	want := sha256.Sum256(lf.Bytes())
	have := data[32:64]
	for i := range want {
		if want[i] != have[i] {
			idx.Close()
			return nil, errStaleHash
		}
	}

	return idx, nil
}

func parse(data []byte) (*Index, error) {
	if len(data) < HeaderSize {
		return nil, errTooSmall
	}
	if byteOrder.Uint32(data[0:4]) != Magic {
		return nil, errBadMagic
	}
	if byteOrder.Uint16(data[4:6]) != VersionMajor {
		return nil, errUnsupportedVersion
	}

	dim := byteOrder.Uint32(data[8:12])
	elemType := layer.ElementType(byteOrder.Uint32(data[12:16]))
	rowCount := byteOrder.Uint64(data[16:24])
	quantScale := math.Float32frombits(byteOrder.Uint32(data[24:28]))
	flags := byteOrder.Uint32(data[28:32])
	normsOffset := byteOrder.Uint64(data[64:72])
	normsLength := byteOrder.Uint64(data[72:80])
	embOffset := byteOrder.Uint64(data[80:88])
	embLength := byteOrder.Uint64(data[88:96])

	hasEmbeddings := flags&FlagEmbeddings != 0

	if normsLength != rowCount*4 {
		return nil, errTruncated
	}
	if uint64(len(data)) < normsOffset+normsLength {
		return nil, errTruncated
	}
	if hasEmbeddings {
		if embLength != rowCount*uint64(dim)*4 {
			return nil, errTruncated
		}
		if uint64(len(data)) < embOffset+embLength {
			return nil, errTruncated
		}
	}

	return &Index{
		data:          data,
		dim:           dim,
		elemType:      elemType,
		rowCount:      rowCount,
		quantScale:    quantScale,
		normsOffset:   normsOffset,
		embOffset:     embOffset,
		hasEmbeddings: hasEmbeddings,
	}, nil
}

// Close unmaps the sidecar and closes its file descriptor.
func (idx *Index) Close() error {
	if idx.data != nil {
		if err := idx.data.Unmap(); err != nil {
			return err
		}
	}
	if idx.f != nil {
		return idx.f.Close()
	}
	return nil
}

// HasEmbeddings reports whether the decoded f32 matrix region is present.
func (idx *Index) HasEmbeddings() bool { return idx.hasEmbeddings }

// RowNorm returns the pre-computed L2 norm for the given 1-based row.
func (idx *Index) RowNorm(row uint32) float32 {
	off := idx.normsOffset + uint64(row-1)*4
	return math.Float32frombits(byteOrder.Uint32(idx.data[off : off+4]))
}

// EmbeddingRow returns the decoded f32 vector for the given 1-based row,
// or ok=false when the embeddings region was not built. The returned slice
// is a freshly allocated copy, independent of the sidecar's memory map.
func (idx *Index) EmbeddingRow(row uint32) (vec []float32, ok bool) {
	if !idx.hasEmbeddings {
		return nil, false
	}
	dim := int(idx.dim)
	off := idx.embOffset + uint64(row-1)*uint64(dim)*4
	out := make([]float32, dim)
	for i := 0; i < dim; i++ {
		o := int(off) + i*4
		out[i] = math.Float32frombits(byteOrder.Uint32(idx.data[o : o+4]))
	}
	return out, true
}
