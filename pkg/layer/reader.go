package layer

import (
	"fmt"
	"math"
	"os"
	"unicode/utf8"

	"github.com/blevesearch/mmap-go"

	"github.com/krazyjakee/agentsdb/pkg/agentsdberr"
)

// File is an opened, memory-mapped layer file. It is read-only and safe to
// share across goroutines: every accessor resolves directly against the
// mapped bytes and returns either a copy or a slice view, never a mutable
// reference into the map.
type File struct {
	path string
	data mmap.MMap
	f    *os.File

	fileLength uint64
	sections   map[uint32]sectionEntry

	strDict  stringDictView
	chunks   chunkTableView
	matrix   embeddingMatrixView
	rels     relationshipsView
	metadata []byte // raw JSON blob, nil if section absent

	lenient bool
}

type sectionEntry struct {
	kind   uint32
	offset uint64
	length uint64
}

// OpenOptions controls leniency of Open.
type OpenOptions struct {
	// Lenient suppresses DuplicateChunkId only. It exists exclusively for
	// the compactor, which must be able to load layers that (through an
	// earlier bug or external edit) contain duplicate ids so it can dedup
	// them.
	Lenient bool
}

// Open memory-maps path and parses it strictly.
func Open(path string) (*File, error) {
	return OpenWith(path, OpenOptions{})
}

// OpenLenient opens path suppressing DuplicateChunkId, for use by the
// compactor only.
func OpenLenient(path string) (*File, error) {
	return OpenWith(path, OpenOptions{Lenient: true})
}

// OpenWith opens path with explicit options.
func OpenWith(path string, opts OpenOptions) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("layer: open %s: %w", path, err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("layer: stat %s: %w", path, err)
	}

	if info.Size() == 0 {
		f.Close()
		return nil, agentsdberr.NewFormatError(agentsdberr.Truncated, fmt.Sprintf("%s: empty file", path))
	}

	data, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("layer: mmap %s: %w", path, err)
	}

	lf := &File{path: path, data: data, f: f, lenient: opts.Lenient}
	if err := lf.parse(uint64(info.Size())); err != nil {
		lf.Close()
		return nil, err
	}
	return lf, nil
}

// Close unmaps the file and releases the underlying descriptor.
func (lf *File) Close() error {
	var err error
	if lf.data != nil {
		err = lf.data.Unmap()
		lf.data = nil
	}
	if lf.f != nil {
		if cerr := lf.f.Close(); err == nil {
			err = cerr
		}
		lf.f = nil
	}
	return err
}

// Path returns the path this layer was opened from.
func (lf *File) Path() string { return lf.path }

// Bytes returns the full mapped byte image, used for sidecar SHA-256
// staleness checks. Callers must not mutate the returned slice.
func (lf *File) Bytes() []byte { return lf.data }

func need(data []byte, at, n int) error {
	if at < 0 || n < 0 || at+n > len(data) {
		return agentsdberr.NewFormatError(agentsdberr.Truncated, fmt.Sprintf("at=%d needed=%d have=%d", at, n, len(data)))
	}
	return nil
}

func (lf *File) parse(fileSize uint64) error {
	data := lf.data
	if err := need(data, 0, FileHeaderSize); err != nil {
		return err
	}

	magic := byteOrder.Uint32(data[0:4])
	if magic != Magic {
		return agentsdberr.NewFormatError(agentsdberr.BadMagic, magic)
	}

	major := byteOrder.Uint16(data[4:6])
	minor := byteOrder.Uint16(data[6:8])
	if major != VersionMajor {
		return agentsdberr.NewFormatError(agentsdberr.UnsupportedVersion, fmt.Sprintf("%d.%d", major, minor))
	}

	fileLength := byteOrder.Uint64(data[8:16])
	if fileLength != fileSize {
		return agentsdberr.NewFormatError(agentsdberr.FileLengthMismatch, fmt.Sprintf("header=%d actual=%d", fileLength, fileSize))
	}
	lf.fileLength = fileLength

	sectionCount := byteOrder.Uint64(data[16:24])
	sectionsOffset := byteOrder.Uint64(data[24:32])
	flags := byteOrder.Uint64(data[32:40])
	if flags != 0 {
		return agentsdberr.NewFormatError(agentsdberr.NonZeroReserved, "file_header.flags")
	}

	lf.sections = make(map[uint32]sectionEntry, sectionCount)
	off := int(sectionsOffset)
	for i := uint64(0); i < sectionCount; i++ {
		if err := need(data, off, SectionEntrySize); err != nil {
			return err
		}
		kind := byteOrder.Uint32(data[off : off+4])
		reserved := byteOrder.Uint32(data[off+4 : off+8])
		if reserved != 0 {
			return agentsdberr.NewFormatError(agentsdberr.NonZeroReserved, "section_table.reserved")
		}
		entryOffset := byteOrder.Uint64(data[off+8 : off+16])
		entryLength := byteOrder.Uint64(data[off+16 : off+24])

		if _, dup := lf.sections[kind]; dup && kind >= SectionStringDictionary && kind <= SectionLayerMetadata {
			return agentsdberr.NewFormatError(agentsdberr.DuplicateSection, kind)
		}
		lf.sections[kind] = sectionEntry{kind: kind, offset: entryOffset, length: entryLength}
		off += SectionEntrySize
	}

	for _, required := range []uint32{SectionStringDictionary, SectionChunkTable, SectionEmbeddingMatrix} {
		if _, ok := lf.sections[required]; !ok {
			return agentsdberr.NewFormatError(agentsdberr.MissingSection, required)
		}
	}

	if err := lf.parseStringDictionary(); err != nil {
		return err
	}
	if err := lf.parseEmbeddingMatrix(); err != nil {
		return err
	}
	if err := lf.parseRelationships(); err != nil {
		return err
	}
	if err := lf.parseChunkTable(); err != nil {
		return err
	}
	if err := lf.parseLayerMetadata(); err != nil {
		return err
	}
	return nil
}

type stringDictView struct {
	count       uint64
	entriesOff  uint64
	bytesOff    uint64
	bytesLength uint64
}

func (lf *File) parseStringDictionary() error {
	sec := lf.sections[SectionStringDictionary]
	data := lf.data
	base := int(sec.offset)
	if err := need(data, base, StringDictHeaderSize); err != nil {
		return err
	}
	v := stringDictView{
		count:       byteOrder.Uint64(data[base : base+8]),
		entriesOff:  byteOrder.Uint64(data[base+8 : base+16]),
		bytesOff:    byteOrder.Uint64(data[base+16 : base+24]),
		bytesLength: byteOrder.Uint64(data[base+24 : base+32]),
	}
	lf.strDict = v
	return nil
}

// stringByID resolves a 1-based string id. Id 0 is invalid.
func (lf *File) stringByID(id uint32) (string, error) {
	if id == 0 || uint64(id) > lf.strDict.count {
		return "", agentsdberr.NewFormatError(agentsdberr.InvalidStringID, fmt.Sprintf("id=%d count=%d", id, lf.strDict.count))
	}
	entryOff := int(lf.strDict.entriesOff) + int(id-1)*StringEntrySize
	if err := need(lf.data, entryOff, StringEntrySize); err != nil {
		return "", err
	}
	byteOffset := byteOrder.Uint64(lf.data[entryOff : entryOff+8])
	byteLength := byteOrder.Uint64(lf.data[entryOff+8 : entryOff+16])

	start := int(lf.strDict.bytesOff) + int(byteOffset)
	if err := need(lf.data, start, int(byteLength)); err != nil {
		return "", err
	}
	raw := lf.data[start : start+int(byteLength)]
	if !utf8.Valid(raw) {
		return "", agentsdberr.NewFormatError(agentsdberr.InvalidUtf8String, id)
	}
	return string(raw), nil
}

type chunkTableView struct {
	count      uint64
	recordsOff uint64
}

// chunkRecord mirrors the 52-byte on-disk layout.
type chunkRecord struct {
	id            uint32
	kindStrID     uint32
	contentStrID  uint32
	authorStrID   uint32
	confidence    float32
	createdAtMs   uint64
	embeddingRow  uint32
	relStart      uint64
	relCount      uint32
}

func (lf *File) parseChunkTable() error {
	sec := lf.sections[SectionChunkTable]
	data := lf.data
	base := int(sec.offset)
	if err := need(data, base, ChunkTableHeaderSize); err != nil {
		return err
	}
	lf.chunks = chunkTableView{
		count:      byteOrder.Uint64(data[base : base+8]),
		recordsOff: byteOrder.Uint64(data[base+8 : base+16]),
	}

	seen := make(map[uint32]struct{}, lf.chunks.count)
	for i := uint64(0); i < lf.chunks.count; i++ {
		rec, err := lf.rawChunkRecord(i)
		if err != nil {
			return err
		}
		if rec.id == 0 {
			return agentsdberr.NewFormatError(agentsdberr.InvalidChunkID, rec.id)
		}
		if !lf.lenient {
			if _, dup := seen[rec.id]; dup {
				return agentsdberr.NewFormatError(agentsdberr.DuplicateChunkID, rec.id)
			}
		}
		seen[rec.id] = struct{}{}

		if rec.embeddingRow == 0 || uint64(rec.embeddingRow) > lf.matrix.rowCount {
			return agentsdberr.NewFormatError(agentsdberr.InvalidEmbeddingRow, rec.embeddingRow)
		}

		if !isFinite32(rec.confidence) || rec.confidence < 0 || rec.confidence > 1 {
			return agentsdberr.NewInvalidValue("chunk_record.confidence", fmt.Sprintf("must be finite in [0,1], got %v", rec.confidence))
		}

		if rec.relStart == 0 && rec.relCount == 0 {
			// absent window, always valid
		} else if rec.relStart+uint64(rec.relCount) > lf.rels.count {
			return agentsdberr.NewFormatError(agentsdberr.InvalidRelationshipsRange, fmt.Sprintf("start=%d count=%d total=%d", rec.relStart, rec.relCount, lf.rels.count))
		}

		authorStr, err := lf.stringByID(rec.authorStrID)
		if err != nil {
			return err
		}
		if authorStr != string(AuthorHuman) && authorStr != string(AuthorMCP) {
			return agentsdberr.NewFormatError(agentsdberr.InvalidAuthor, authorStr)
		}
		if _, err := lf.stringByID(rec.kindStrID); err != nil {
			return err
		}
		if _, err := lf.stringByID(rec.contentStrID); err != nil {
			return err
		}
	}
	return nil
}

func (lf *File) rawChunkRecord(index uint64) (chunkRecord, error) {
	off := int(lf.chunks.recordsOff) + int(index)*ChunkRecordSize
	data := lf.data
	if err := need(data, off, ChunkRecordSize); err != nil {
		return chunkRecord{}, err
	}
	rec := chunkRecord{
		id:           byteOrder.Uint32(data[off : off+4]),
		kindStrID:    byteOrder.Uint32(data[off+4 : off+8]),
		contentStrID: byteOrder.Uint32(data[off+8 : off+12]),
		authorStrID:  byteOrder.Uint32(data[off+12 : off+16]),
		confidence:   float32FromBits(byteOrder.Uint32(data[off+16 : off+20])),
		createdAtMs:  byteOrder.Uint64(data[off+20 : off+28]),
		embeddingRow: byteOrder.Uint32(data[off+28 : off+32]),
		relStart:     byteOrder.Uint64(data[off+36 : off+44]),
		relCount:     byteOrder.Uint32(data[off+44 : off+48]),
	}
	reserved0 := byteOrder.Uint32(data[off+32 : off+36])
	reserved1 := byteOrder.Uint32(data[off+48 : off+52])
	if reserved0 != 0 || reserved1 != 0 {
		return chunkRecord{}, agentsdberr.NewFormatError(agentsdberr.NonZeroReserved, "chunk_record.reserved")
	}
	return rec, nil
}

type embeddingMatrixView struct {
	rowCount   uint64
	dim        uint32
	elemType   ElementType
	dataOffset uint64
	dataLength uint64
	quantScale float32
}

func (lf *File) parseEmbeddingMatrix() error {
	sec := lf.sections[SectionEmbeddingMatrix]
	data := lf.data
	base := int(sec.offset)
	if err := need(data, base, EmbeddingHeaderSize); err != nil {
		return err
	}
	v := embeddingMatrixView{
		rowCount:   byteOrder.Uint64(data[base : base+8]),
		dim:        byteOrder.Uint32(data[base+8 : base+12]),
		elemType:   ElementType(byteOrder.Uint32(data[base+12 : base+16])),
		dataOffset: byteOrder.Uint64(data[base+16 : base+24]),
		dataLength: byteOrder.Uint64(data[base+24 : base+32]),
		quantScale: float32FromBits(byteOrder.Uint32(data[base+32 : base+36])),
	}
	reserved0 := byteOrder.Uint32(data[base+36 : base+40])
	if reserved0 != 0 {
		return agentsdberr.NewFormatError(agentsdberr.NonZeroReserved, "embedding_matrix.reserved0")
	}

	elemSize := v.elemType.Size()
	if elemSize == 0 {
		return agentsdberr.NewInvalidValue("embedding_matrix.element_type", "unknown element type")
	}
	expected := v.rowCount * uint64(v.dim) * uint64(elemSize)
	if v.dataLength != expected {
		return agentsdberr.NewInvalidValue("embedding_matrix.data_length", fmt.Sprintf("expected %d got %d", expected, v.dataLength))
	}
	if err := need(data, int(v.dataOffset), int(v.dataLength)); err != nil {
		return err
	}

	lf.matrix = v
	return nil
}

type relationshipsView struct {
	count      uint64
	recordsOff uint64
	present    bool
}

func (lf *File) parseRelationships() error {
	sec, ok := lf.sections[SectionRelationships]
	if !ok {
		lf.rels = relationshipsView{}
		return nil
	}
	data := lf.data
	base := int(sec.offset)
	if err := need(data, base, RelationshipsHeader); err != nil {
		return err
	}
	lf.rels = relationshipsView{
		count:      byteOrder.Uint64(data[base : base+8]),
		recordsOff: byteOrder.Uint64(data[base+8 : base+16]),
		present:    true,
	}
	for i := uint64(0); i < lf.rels.count; i++ {
		off := int(lf.rels.recordsOff) + int(i)*RelationshipRecord
		if err := need(data, off, RelationshipRecord); err != nil {
			return err
		}
		kind := byteOrder.Uint32(data[off : off+4])
		value := byteOrder.Uint32(data[off+4 : off+8])
		switch kind {
		case relKindChunkID:
			if value == 0 {
				return agentsdberr.NewInvalidValue("relationship.value", "chunk-id source must be non-zero")
			}
		case relKindString:
			if value == 0 || uint64(value) > lf.strDict.count {
				return agentsdberr.NewFormatError(agentsdberr.InvalidStringID, value)
			}
		default:
			return agentsdberr.NewInvalidValue("relationship.kind", fmt.Sprintf("unknown kind %d", kind))
		}
	}
	return nil
}

func (lf *File) parseLayerMetadata() error {
	sec, ok := lf.sections[SectionLayerMetadata]
	if !ok {
		lf.metadata = nil
		return nil
	}
	data := lf.data
	base := int(sec.offset)
	if err := need(data, base, LayerMetadataHeader); err != nil {
		return err
	}
	version := byteOrder.Uint32(data[base : base+4])
	format := byteOrder.Uint32(data[base+4 : base+8])
	blobOffset := byteOrder.Uint64(data[base+8 : base+16])
	blobLength := byteOrder.Uint64(data[base+16 : base+24])

	if version != 1 {
		return agentsdberr.NewInvalidValue("layer_metadata.version", fmt.Sprintf("got %d", version))
	}
	if format != 1 {
		return agentsdberr.NewInvalidValue("layer_metadata.format", fmt.Sprintf("got %d", format))
	}
	if blobOffset != sec.offset+LayerMetadataHeader {
		return agentsdberr.NewInvalidValue("layer_metadata.blob_offset", "must equal section.offset+24")
	}
	if blobLength != sec.length-LayerMetadataHeader {
		return agentsdberr.NewInvalidValue("layer_metadata.blob_length", "must equal section.length-24")
	}
	if err := need(data, int(blobOffset), int(blobLength)); err != nil {
		return err
	}
	blob := data[blobOffset : blobOffset+blobLength]
	if !utf8.Valid(blob) {
		return agentsdberr.NewFormatError(agentsdberr.InvalidUtf8String, "layer_metadata")
	}
	out := make([]byte, len(blob))
	copy(out, blob)
	lf.metadata = out
	return nil
}

// Schema returns the layer's embedding schema.
func (lf *File) Schema() Schema {
	return Schema{Dim: lf.matrix.dim, ElementType: lf.matrix.elemType, QuantScale: lf.matrix.quantScale}
}

// RowCount returns the number of rows in the embedding matrix.
func (lf *File) RowCount() uint64 { return lf.matrix.rowCount }

// ChunkCount returns the number of records in the chunk table.
func (lf *File) ChunkCount() uint64 { return lf.chunks.count }

// Metadata returns the raw layer-metadata JSON blob, or nil if absent.
func (lf *File) Metadata() []byte { return lf.metadata }

func float32FromBits(bits uint32) float32 {
	return math.Float32frombits(bits)
}
