package export

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/krazyjakee/agentsdb/pkg/agentsdberr"
	"github.com/krazyjakee/agentsdb/pkg/layer"
)

// LayerInput names one layer to include in an export: its absolute path
// to read from, the relative/display path recorded in the bundle, and an
// optional explicit logical name (falls back to inferring it from
// RelPath's base name when empty).
type LayerInput struct {
	AbsPath string
	RelPath string
	Logical string
}

// Options controls an export call's wire form and redaction.
type Options struct {
	Format      string // "json" | "ndjson"
	Redact      string // "none" | "content" | "embeddings" | "all"
	ToolName    string
	ToolVersion string
}

// Layers exports every layer named in inputs into one bundle, skipping
// any whose AbsPath doesn't exist (matching export_layers's silent skip).
// Returns the bundle's content type and serialized bytes.
func Layers(inputs []LayerInput, opts Options) (string, []byte, error) {
	if opts.Redact != "" && !validRedactMode(opts.Redact) {
		return "", nil, agentsdberr.NewConfigError("export: invalid redact mode %q", opts.Redact)
	}
	redact := opts.Redact
	if redact == "" {
		redact = RedactNone
	}

	var exported []Layer
	for _, in := range inputs {
		l, err := exportOneLayer(in, redact)
		if err != nil {
			if err == errLayerMissing {
				continue
			}
			return "", nil, err
		}
		exported = append(exported, l)
	}

	bundle := BundleV1{
		Format: FormatJSON,
		Tool:   ToolInfo{Name: opts.ToolName, Version: opts.ToolVersion},
		Layers: exported,
	}

	switch opts.Format {
	case "", "json":
		b, err := json.MarshalIndent(bundle, "", "  ")
		if err != nil {
			return "", nil, fmt.Errorf("export: serialize JSON bundle: %w", err)
		}
		return "application/json", b, nil
	case "ndjson":
		b, err := marshalNDJSON(bundle)
		if err != nil {
			return "", nil, err
		}
		return "application/x-ndjson", b, nil
	default:
		return "", nil, agentsdberr.NewConfigError("export: format must be json or ndjson, got %q", opts.Format)
	}
}

// SingleLayer exports a single layer; a thin convenience wrapper over Layers.
func SingleLayer(in LayerInput, opts Options) (string, []byte, error) {
	return Layers([]LayerInput{in}, opts)
}

var errLayerMissing = fmt.Errorf("export: layer missing")

func exportOneLayer(in LayerInput, redact string) (Layer, error) {
	lf, err := layer.Open(in.AbsPath)
	if err != nil {
		return Layer{}, errLayerMissing
	}
	schema := lf.Schema()
	chunks, err := lf.AllChunks()
	if err != nil {
		lf.Close()
		return Layer{}, fmt.Errorf("export: read chunks from %s: %w", in.AbsPath, err)
	}
	metadata := lf.Metadata()
	if err := lf.Close(); err != nil {
		return Layer{}, fmt.Errorf("export: close %s: %w", in.AbsPath, err)
	}

	outChunks := make([]Chunk, 0, len(chunks))
	for _, c := range chunks {
		content, embedding := applyRedaction(redact, c.Content, c.Embedding)
		sources := make([]Source, 0, len(c.Sources))
		for _, s := range c.Sources {
			sources = append(sources, sourceFromRef(s))
		}
		var hash *string
		if content != nil {
			h := contentSHA256Hex(*content)
			hash = &h
		}
		outChunks = append(outChunks, Chunk{
			ID: c.ID, Kind: c.Kind, Content: content, Author: c.Author,
			Confidence: c.Confidence, CreatedAtUnixMs: c.CreatedAtUnixMs,
			Sources: sources, Embedding: embedding, ContentSHA256: hash,
		})
	}

	logical := in.Logical
	var logicalPtr *string
	if logical != "" {
		logicalPtr = &logical
	} else {
		logicalPtr = logicalLayerForPath(in.RelPath)
	}

	var metaJSON *string
	if len(metadata) > 0 {
		s := string(metadata)
		metaJSON = &s
	}

	return Layer{
		Path: in.RelPath, Logical: logicalPtr,
		Schema:           LayerSchema{Dim: schema.Dim, ElementType: schema.ElementType.String(), QuantScale: schema.QuantScale},
		LayerMetadataRaw: metaJSON, Chunks: outChunks,
	}, nil
}

func marshalNDJSON(bundle BundleV1) ([]byte, error) {
	var buf bytes.Buffer
	writeLine := func(rec ndjsonRecord) error {
		b, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("export: serialize NDJSON record: %w", err)
		}
		buf.Write(b)
		buf.WriteByte('\n')
		return nil
	}

	tool := bundle.Tool
	if err := writeLine(ndjsonRecord{Type: "header", Format: FormatNDJSON, Tool: &tool}); err != nil {
		return nil, err
	}
	for _, l := range bundle.Layers {
		schema := l.Schema
		if err := writeLine(ndjsonRecord{
			Type: "layer", Path: l.Path, Logical: l.Logical, Schema: &schema, LayerMetadataRaw: l.LayerMetadataRaw,
		}); err != nil {
			return nil, err
		}
		for _, c := range l.Chunks {
			chunk := c
			if err := writeLine(ndjsonRecord{Type: "chunk", LayerPath: l.Path, Chunk: &chunk}); err != nil {
				return nil, err
			}
		}
	}
	return buf.Bytes(), nil
}
