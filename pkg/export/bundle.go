// Package export implements the collaborator-facing export/import bundle
// of spec.md §6: a JSON or NDJSON serialization of one or more layers,
// with redaction modes for sharing chunks without their content and/or
// embeddings. Grounded on agentsdb-ops/{export,import}.rs
// (original_source).
package export

import "github.com/krazyjakee/agentsdb/pkg/layer"

// FormatJSON and FormatNDJSON identify a bundle's JSON v1 and NDJSON v1
// on-wire forms.
const (
	FormatJSON   = "agentsdb.export.v1"
	FormatNDJSON = "agentsdb.export.ndjson.v1"
)

// ToolInfo names the producing tool, carried in every bundle so a
// consumer can tell which writer produced it.
type ToolInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// LayerSchema is the wire form of layer.Schema: element_type is rendered
// as its string name ("f32"/"i8"), not the numeric tag.
type LayerSchema struct {
	Dim         uint32  `json:"dim"`
	ElementType string  `json:"element_type"`
	QuantScale  float32 `json:"quant_scale"`
}

// Source is the tagged wire form of a layer.ProvenanceRef: exactly one of
// ID or Value is set, discriminated by Kind.
type Source struct {
	Kind  string        `json:"kind"` // "chunk_id" | "source_string"
	ID    layer.ChunkID `json:"id,omitempty"`
	Value string        `json:"value,omitempty"`
}

func sourceFromRef(ref layer.ProvenanceRef) Source {
	switch r := ref.(type) {
	case layer.ChunkIDRef:
		return Source{Kind: "chunk_id", ID: r.ID}
	case layer.SourceStringRef:
		return Source{Kind: "source_string", Value: r.Value}
	default:
		return Source{}
	}
}

func refFromSource(s Source) layer.ProvenanceRef {
	if s.Kind == "source_string" {
		return layer.SourceStringRef{Value: s.Value}
	}
	return layer.ChunkIDRef{ID: s.ID}
}

// Chunk is one exported chunk. Content and Embedding are pointers so that
// a redaction mode can omit either (or both) from the wire form entirely,
// rather than serializing a zero value that looks like real data.
type Chunk struct {
	ID              layer.ChunkID `json:"id"`
	Kind            string        `json:"kind"`
	Content         *string       `json:"content,omitempty"`
	Author          layer.Author  `json:"author"`
	Confidence      float32       `json:"confidence"`
	CreatedAtUnixMs uint64        `json:"created_at_unix_ms"`
	Sources         []Source      `json:"sources"`
	Embedding       []float32     `json:"embedding,omitempty"`
	ContentSHA256   *string       `json:"content_sha256,omitempty"`
}

// Layer is one exported layer: its path (display/import target), the
// spec's four logical layer names when the path matches one of them, its
// schema, its raw metadata blob JSON (if any), and its chunks.
type Layer struct {
	Path             string  `json:"path"`
	Logical          *string `json:"layer,omitempty"`
	Schema           LayerSchema `json:"schema"`
	LayerMetadataRaw *string     `json:"layer_metadata_json,omitempty"`
	Chunks           []Chunk     `json:"chunks"`
}

// BundleV1 is the JSON form's root object.
type BundleV1 struct {
	Format string   `json:"format"`
	Tool   ToolInfo `json:"tool"`
	Layers []Layer  `json:"layers"`
}

// ndjsonRecord is the tagged-union wire form of one NDJSON line: header,
// layer, or chunk, discriminated by Type.
type ndjsonRecord struct {
	Type string `json:"type"`

	// header
	Format string    `json:"format,omitempty"`
	Tool   *ToolInfo `json:"tool,omitempty"`

	// layer
	Path             string      `json:"path,omitempty"`
	Logical          *string     `json:"layer,omitempty"`
	Schema           *LayerSchema `json:"schema,omitempty"`
	LayerMetadataRaw *string      `json:"layer_metadata_json,omitempty"`

	// chunk
	LayerPath string `json:"layer_path,omitempty"`
	Chunk     *Chunk `json:"chunk,omitempty"`
}

func logicalLayerForPath(relPath string) *string {
	name := relPath
	if idx := lastSlash(relPath); idx >= 0 {
		name = relPath[idx+1:]
	}
	var logical string
	switch name {
	case "AGENTS.db":
		logical = "base"
	case "AGENTS.user.db":
		logical = "user"
	case "AGENTS.delta.db":
		logical = "delta"
	case "AGENTS.local.db":
		logical = "local"
	default:
		return nil
	}
	return &logical
}

func lastSlash(s string) int {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == '/' || s[i] == '\\' {
			return i
		}
	}
	return -1
}
