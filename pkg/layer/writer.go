package layer

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"

	"github.com/krazyjakee/agentsdb/pkg/agentsdberr"
)

// forbiddenBaseNames are the file names a writer refuses to touch unless
// the matching escape hatch is set. This protects the canonical base and
// user layers from being overwritten by a careless direct writer call;
// callers that target these layers on purpose (compact, promote, import,
// reembed, smash, the proposal ledger) set allow_base / allow_user
// explicitly.
var forbiddenBaseNames = map[string]bool{
	"AGENTS.db":      true,
	"AGENTS.user.db": true,
}

// WriteOptions gates permission to write the two protected standard layer
// file names.
type WriteOptions struct {
	AllowUser bool
	AllowBase bool
}

func (o WriteOptions) checkPermission(path string) error {
	base := filepath.Base(path)
	switch base {
	case "AGENTS.user.db":
		if !o.AllowUser {
			return &agentsdberr.PermissionError{Path: path}
		}
	case "AGENTS.db":
		if !o.AllowBase {
			return &agentsdberr.PermissionError{Path: path}
		}
	}
	return nil
}

// Input is one chunk to be written or appended. ID of 0 requests
// auto-assignment; non-zero ids are preserved verbatim.
type Input struct {
	ID              ChunkID
	Kind            string
	Content         string
	Author          Author
	Confidence      float32
	CreatedAtUnixMs uint64
	Embedding       []float32
	Sources         []ProvenanceRef
}

// Write lays out a brand-new layer file from schema and inputs, optionally
// carrying a layer-metadata blob, and durably writes it to path via the
// atomic temp+fsync+rename protocol. Two calls with semantically
// identical input always produce byte-identical files.
func Write(path string, schema Schema, inputs []Input, metadata []byte, opts WriteOptions) error {
	if err := opts.checkPermission(path); err != nil {
		return err
	}
	if err := schema.Validate(); err != nil {
		return &agentsdberr.ConfigError{Reason: err.Error()}
	}

	assigned, err := assignIDs(inputs, nil)
	if err != nil {
		return err
	}
	buf, err := encode(schema, assigned, metadata)
	if err != nil {
		return err
	}
	return atomicWrite(path, buf)
}

// Append opens the existing layer at path, decodes all of its chunks, adds
// the new inputs (assigning ids as needed) and rewrites the whole file via
// the same atomic protocol, preserving original chunk order followed by
// the newly appended chunks.
//
// If the existing file carries layer metadata and metadata is non-nil, the
// new blob is only accepted when its embedding_profile field equals the
// existing one; passing a nil metadata preserves the existing blob
// unchanged.
func Append(path string, inputs []Input, metadata []byte, opts WriteOptions) error {
	if err := opts.checkPermission(path); err != nil {
		return err
	}

	existing, err := Open(path)
	if err != nil {
		return err
	}
	schema := existing.Schema()
	existingChunks, err := existing.AllChunks()
	if err != nil {
		existing.Close()
		return err
	}
	existingMetadata := existing.Metadata()
	if err := existing.Close(); err != nil {
		return fmt.Errorf("layer: close %s: %w", path, err)
	}

	finalMetadata := existingMetadata
	if metadata != nil {
		if existingMetadata != nil {
			compatible, err := metadataProfilesEqual(existingMetadata, metadata)
			if err != nil {
				return err
			}
			if !compatible {
				return agentsdberr.NewConfigError("embedder profile mismatch: append metadata embedding_profile differs from existing layer metadata")
			}
		}
		finalMetadata = metadata
	}

	existingIDs := make([]ChunkID, 0, len(existingChunks))
	merged := make([]Input, 0, len(existingChunks)+len(inputs))
	for _, c := range existingChunks {
		existingIDs = append(existingIDs, c.ID)
		merged = append(merged, chunkToInput(c))
	}

	assignedNew, err := assignIDs(inputs, existingIDs)
	if err != nil {
		return err
	}
	merged = append(merged, assignedNew...)

	buf, err := encode(schema, merged, finalMetadata)
	if err != nil {
		return err
	}
	return atomicWrite(path, buf)
}

func chunkToInput(c Chunk) Input {
	return Input{
		ID:              c.ID,
		Kind:            c.Kind,
		Content:         c.Content,
		Author:          c.Author,
		Confidence:      c.Confidence,
		CreatedAtUnixMs: c.CreatedAtUnixMs,
		Embedding:       c.Embedding,
		Sources:         c.Sources,
	}
}

// layerMetadataProfile mirrors the part of the metadata blob this package
// needs to compare; the full shape lives in pkg/embed.
type layerMetadataProfile struct {
	EmbeddingProfile json.RawMessage `json:"embedding_profile"`
}

func metadataProfilesEqual(a, b []byte) (bool, error) {
	var pa, pb layerMetadataProfile
	if err := json.Unmarshal(a, &pa); err != nil {
		return false, fmt.Errorf("layer: parse existing metadata: %w", err)
	}
	if err := json.Unmarshal(b, &pb); err != nil {
		return false, fmt.Errorf("layer: parse new metadata: %w", err)
	}
	return jsonEqual(pa.EmbeddingProfile, pb.EmbeddingProfile), nil
}

func jsonEqual(a, b json.RawMessage) bool {
	var va, vb any
	if json.Unmarshal(a, &va) != nil || json.Unmarshal(b, &vb) != nil {
		return false
	}
	na, erra := json.Marshal(va)
	nb, errb := json.Marshal(vb)
	return erra == nil && errb == nil && string(na) == string(nb)
}

// assignIDs assigns ids to inputs with ID==0, preserving non-zero ids
// verbatim. existingIDs carries ids already in use by a file an append is
// extending so new ids never collide with them.
func assignIDs(inputs []Input, existingIDs []ChunkID) ([]Input, error) {
	var maxID uint32
	for _, id := range existingIDs {
		if uint32(id) > maxID {
			maxID = uint32(id)
		}
	}
	for _, in := range inputs {
		if uint32(in.ID) > maxID {
			maxID = uint32(in.ID)
		}
	}

	out := make([]Input, len(inputs))
	next := maxID + 1
	for i, in := range inputs {
		if in.ID == 0 {
			in.ID = ChunkID(next)
			next++
		}
		out[i] = in
	}
	return out, nil
}

func validateInput(in Input, dim uint32) error {
	if in.ID == 0 {
		return agentsdberr.NewFormatError(agentsdberr.InvalidChunkID, in.ID)
	}
	if !in.Author.Valid() {
		return agentsdberr.NewFormatError(agentsdberr.InvalidAuthor, in.Author)
	}
	if math.IsNaN(float64(in.Confidence)) || math.IsInf(float64(in.Confidence), 0) || in.Confidence < 0 || in.Confidence > 1 {
		return agentsdberr.NewInvalidValue("confidence", fmt.Sprintf("must be finite in [0,1], got %v", in.Confidence))
	}
	if uint32(len(in.Embedding)) != dim {
		return agentsdberr.NewInvalidValue("embedding", fmt.Sprintf("length %d does not match schema dim %d", len(in.Embedding), dim))
	}
	return nil
}

// encode lays out a complete layer file for the given schema, inputs, and
// optional metadata blob, deterministically: the same semantic input
// always produces the same bytes.
func encode(schema Schema, inputs []Input, metadata []byte) ([]byte, error) {
	for _, in := range inputs {
		if err := validateInput(in, schema.Dim); err != nil {
			return nil, err
		}
	}

	in := newInterner()
	needRelationships := false
	for _, c := range inputs {
		in.intern(c.Kind)
		in.intern(c.Content)
		in.intern(string(c.Author))
		if len(c.Sources) > 0 {
			needRelationships = true
		}
		for _, src := range c.Sources {
			if s, ok := src.(SourceStringRef); ok {
				in.intern(s.Value)
			}
		}
	}
	needMetadata := metadata != nil

	strBlob, strEntries := layoutStrings(in.strings())
	chunkRecords, relRecords := layoutChunks(inputs, in)
	embData := layoutEmbeddings(schema, inputs)

	// Fixed section order: string_dictionary, chunk_table, [layer_metadata],
	// [relationships], embedding_matrix.
	type plannedSection struct {
		kind   uint32
		length int
	}
	var planned []plannedSection

	stringDictLen := StringDictHeaderSize + len(strEntries)*StringEntrySize + len(strBlob)
	planned = append(planned, plannedSection{SectionStringDictionary, stringDictLen})

	chunkTableLen := ChunkTableHeaderSize + len(chunkRecords)*ChunkRecordSize
	planned = append(planned, plannedSection{SectionChunkTable, chunkTableLen})

	if needMetadata {
		planned = append(planned, plannedSection{SectionLayerMetadata, LayerMetadataHeader + len(metadata)})
	}
	if needRelationships {
		planned = append(planned, plannedSection{SectionRelationships, RelationshipsHeader + len(relRecords)*RelationshipRecord})
	}

	embLen := EmbeddingHeaderSize + len(embData)
	planned = append(planned, plannedSection{SectionEmbeddingMatrix, embLen})

	sectionCount := len(planned)
	sectionsOffset := uint64(FileHeaderSize)
	bodyOffset := sectionsOffset + uint64(sectionCount)*SectionEntrySize

	offsets := make([]uint64, sectionCount)
	cursor := bodyOffset
	for i, p := range planned {
		offsets[i] = cursor
		cursor += uint64(p.length)
	}
	fileLength := cursor

	buf := make([]byte, fileLength)

	byteOrder.PutUint32(buf[0:4], Magic)
	byteOrder.PutUint16(buf[4:6], VersionMajor)
	byteOrder.PutUint16(buf[6:8], VersionMinor)
	byteOrder.PutUint64(buf[8:16], fileLength)
	byteOrder.PutUint64(buf[16:24], uint64(sectionCount))
	byteOrder.PutUint64(buf[24:32], sectionsOffset)
	byteOrder.PutUint64(buf[32:40], 0)

	for i, p := range planned {
		off := int(sectionsOffset) + i*SectionEntrySize
		byteOrder.PutUint32(buf[off:off+4], p.kind)
		byteOrder.PutUint32(buf[off+4:off+8], 0)
		byteOrder.PutUint64(buf[off+8:off+16], offsets[i])
		byteOrder.PutUint64(buf[off+16:off+24], uint64(p.length))
	}

	var relStart, metaStart uint64
	var embStart uint64
	var strStart uint64
	var chunkStart uint64
	for i, p := range planned {
		switch p.kind {
		case SectionStringDictionary:
			strStart = offsets[i]
		case SectionChunkTable:
			chunkStart = offsets[i]
		case SectionLayerMetadata:
			metaStart = offsets[i]
		case SectionRelationships:
			relStart = offsets[i]
		case SectionEmbeddingMatrix:
			embStart = offsets[i]
		}
	}

	writeStringDictionary(buf, strStart, strEntries, strBlob)
	writeChunkTable(buf, chunkStart, chunkRecords, relStart, needRelationships)
	if needMetadata {
		writeLayerMetadata(buf, metaStart, metadata)
	}
	if needRelationships {
		writeRelationships(buf, relStart, relRecords)
	}
	writeEmbeddingMatrix(buf, embStart, schema, uint64(len(inputs)), embData)

	return buf, nil
}

type stringEntry struct {
	offset uint64
	length uint64
}

func layoutStrings(strs []string) ([]byte, []stringEntry) {
	var blob []byte
	entries := make([]stringEntry, len(strs))
	for i, s := range strs {
		entries[i] = stringEntry{offset: uint64(len(blob)), length: uint64(len(s))}
		blob = append(blob, s...)
	}
	return blob, entries
}

func writeStringDictionary(buf []byte, base uint64, entries []stringEntry, blob []byte) {
	b := int(base)
	entriesOffset := uint64(b + StringDictHeaderSize)
	bytesOffset := entriesOffset + uint64(len(entries))*StringEntrySize

	byteOrder.PutUint64(buf[b:b+8], uint64(len(entries)))
	byteOrder.PutUint64(buf[b+8:b+16], entriesOffset)
	byteOrder.PutUint64(buf[b+16:b+24], bytesOffset)
	byteOrder.PutUint64(buf[b+24:b+32], uint64(len(blob)))

	for i, e := range entries {
		off := int(entriesOffset) + i*StringEntrySize
		byteOrder.PutUint64(buf[off:off+8], e.offset)
		byteOrder.PutUint64(buf[off+8:off+16], e.length)
	}
	copy(buf[bytesOffset:], blob)
}

type chunkRecordOut struct {
	id           uint32
	kindID       uint32
	contentID    uint32
	authorID     uint32
	confidence   float32
	createdAtMs  uint64
	embeddingRow uint32
	relStart     uint64
	relCount     uint32
}

type relRecordOut struct {
	kind  uint32
	value uint32
}

func layoutChunks(inputs []Input, in *interner) ([]chunkRecordOut, []relRecordOut) {
	records := make([]chunkRecordOut, len(inputs))
	var rels []relRecordOut

	for i, c := range inputs {
		var relStart uint64
		var relCount uint32
		if len(c.Sources) > 0 {
			relStart = uint64(len(rels))
			relCount = uint32(len(c.Sources))
			for _, src := range c.Sources {
				switch s := src.(type) {
				case ChunkIDRef:
					rels = append(rels, relRecordOut{kind: relKindChunkID, value: uint32(s.ID)})
				case SourceStringRef:
					rels = append(rels, relRecordOut{kind: relKindString, value: in.intern(s.Value)})
				}
			}
		}

		records[i] = chunkRecordOut{
			id:           uint32(c.ID),
			kindID:       in.intern(c.Kind),
			contentID:    in.intern(c.Content),
			authorID:     in.intern(string(c.Author)),
			confidence:   c.Confidence,
			createdAtMs:  c.CreatedAtUnixMs,
			embeddingRow: uint32(i + 1),
			relStart:     relStart,
			relCount:     relCount,
		}
	}
	return records, rels
}

func writeChunkTable(buf []byte, base uint64, records []chunkRecordOut, relBase uint64, hasRelationships bool) {
	b := int(base)
	recordsOffset := uint64(b + ChunkTableHeaderSize)
	byteOrder.PutUint64(buf[b:b+8], uint64(len(records)))
	byteOrder.PutUint64(buf[b+8:b+16], recordsOffset)

	for i, r := range records {
		off := int(recordsOffset) + i*ChunkRecordSize
		byteOrder.PutUint32(buf[off:off+4], r.id)
		byteOrder.PutUint32(buf[off+4:off+8], r.kindID)
		byteOrder.PutUint32(buf[off+8:off+12], r.contentID)
		byteOrder.PutUint32(buf[off+12:off+16], r.authorID)
		byteOrder.PutUint32(buf[off+16:off+20], math.Float32bits(r.confidence))
		byteOrder.PutUint64(buf[off+20:off+28], r.createdAtMs)
		byteOrder.PutUint32(buf[off+28:off+32], r.embeddingRow)
		byteOrder.PutUint32(buf[off+32:off+36], 0)
		byteOrder.PutUint64(buf[off+36:off+44], r.relStart)
		byteOrder.PutUint32(buf[off+44:off+48], r.relCount)
		byteOrder.PutUint32(buf[off+48:off+52], 0)
	}
}

func writeRelationships(buf []byte, base uint64, rels []relRecordOut) {
	b := int(base)
	recordsOffset := uint64(b + RelationshipsHeader)
	byteOrder.PutUint64(buf[b:b+8], uint64(len(rels)))
	byteOrder.PutUint64(buf[b+8:b+16], recordsOffset)
	for i, r := range rels {
		off := int(recordsOffset) + i*RelationshipRecord
		byteOrder.PutUint32(buf[off:off+4], r.kind)
		byteOrder.PutUint32(buf[off+4:off+8], r.value)
	}
}

func writeLayerMetadata(buf []byte, base uint64, blob []byte) {
	b := int(base)
	blobOffset := uint64(b + LayerMetadataHeader)
	byteOrder.PutUint32(buf[b:b+4], 1)
	byteOrder.PutUint32(buf[b+4:b+8], 1)
	byteOrder.PutUint64(buf[b+8:b+16], blobOffset)
	byteOrder.PutUint64(buf[b+16:b+24], uint64(len(blob)))
	copy(buf[blobOffset:], blob)
}

// layoutEmbeddings encodes every input's embedding row in order: F32 as
// little-endian f32, I8 as round-to-nearest then clamp to [-128, 127].
func layoutEmbeddings(schema Schema, inputs []Input) []byte {
	dim := int(schema.Dim)
	elemSize := schema.ElementType.Size()
	out := make([]byte, len(inputs)*dim*elemSize)

	for i, c := range inputs {
		rowOff := i * dim * elemSize
		switch schema.ElementType {
		case ElementF32:
			for j := 0; j < dim; j++ {
				byteOrder.PutUint32(out[rowOff+j*4:rowOff+j*4+4], math.Float32bits(c.Embedding[j]))
			}
		case ElementI8:
			for j := 0; j < dim; j++ {
				q := math.Round(float64(c.Embedding[j] / schema.QuantScale))
				if q > 127 {
					q = 127
				} else if q < -128 {
					q = -128
				}
				out[rowOff+j] = byte(int8(q))
			}
		}
	}
	return out
}

func writeEmbeddingMatrix(buf []byte, base uint64, schema Schema, rowCount uint64, data []byte) {
	b := int(base)
	dataOffset := uint64(b + EmbeddingHeaderSize)
	byteOrder.PutUint64(buf[b:b+8], rowCount)
	byteOrder.PutUint32(buf[b+8:b+12], schema.Dim)
	byteOrder.PutUint32(buf[b+12:b+16], uint32(schema.ElementType))
	byteOrder.PutUint64(buf[b+16:b+24], dataOffset)
	byteOrder.PutUint64(buf[b+24:b+32], uint64(len(data)))
	byteOrder.PutUint32(buf[b+32:b+36], math.Float32bits(schema.QuantScale))
	byteOrder.PutUint32(buf[b+36:b+40], 0)
	copy(buf[dataOffset:], data)
}

// atomicWrite writes data to a sibling temp file in path's directory,
// fsyncs it, then renames it over path. The temp name retries with an
// incrementing counter on O_EXCL collision, so concurrent writers in the
// same process never clobber each other's in-flight temp file.
func atomicWrite(path string, data []byte) error {
	dir := filepath.Dir(path)
	base := filepath.Base(path)

	var f *os.File
	var tmpPath string
	for n := 0; ; n++ {
		candidate := fmt.Sprintf("%s.tmp", base)
		if n > 0 {
			candidate = fmt.Sprintf("%s.tmp.%d", base, n)
		}
		tmpPath = filepath.Join(dir, candidate)
		var err error
		f, err = os.OpenFile(tmpPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			break
		}
		if !os.IsExist(err) {
			return fmt.Errorf("layer: create temp file %s: %w", tmpPath, err)
		}
		if n > 1<<16 {
			return fmt.Errorf("layer: could not allocate temp file for %s after %d attempts", path, n)
		}
	}

	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("layer: write %s: %w", tmpPath, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("layer: fsync %s: %w", tmpPath, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("layer: close %s: %w", tmpPath, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("layer: rename %s -> %s: %w", tmpPath, path, err)
	}
	return nil
}
