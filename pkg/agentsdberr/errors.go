// Package agentsdberr defines the structured error taxonomy shared by every
// layer of agentsdb: format errors from the codec, schema mismatches between
// layers, permission denials from the writer, configuration errors from the
// options/embedder resolution path, and embedder-backend failures.
//
// Callers (CLI, MCP, HTTP) are expected to type-switch on these to map to
// exit codes / JSON-RPC codes / HTTP statuses; the core never silently
// repairs data, so every one of these is fatal for the affected layer.
package agentsdberr

import "fmt"

// FormatKind enumerates the ways a layer file can fail to parse or validate.
type FormatKind string

const (
	BadMagic                  FormatKind = "bad_magic"
	UnsupportedVersion        FormatKind = "unsupported_version"
	FileLengthMismatch        FormatKind = "file_length_mismatch"
	Truncated                 FormatKind = "truncated"
	InvalidRange              FormatKind = "invalid_range"
	InvalidValue              FormatKind = "invalid_value"
	MissingSection            FormatKind = "missing_section"
	DuplicateSection          FormatKind = "duplicate_section"
	InvalidStringID           FormatKind = "invalid_string_id"
	InvalidUtf8String         FormatKind = "invalid_utf8_string"
	InvalidChunkID            FormatKind = "invalid_chunk_id"
	DuplicateChunkID          FormatKind = "duplicate_chunk_id"
	InvalidEmbeddingRow       FormatKind = "invalid_embedding_row"
	InvalidRelationshipsRange FormatKind = "invalid_relationships_range"
	InvalidAuthor             FormatKind = "invalid_author"
	NonZeroReserved           FormatKind = "non_zero_reserved"
)

// FormatError is raised by the reader while parsing or validating a layer
// file. It is fatal for the affected layer; the caller may still operate on
// other layers in the stack.
type FormatError struct {
	Kind   FormatKind
	Field  string
	Reason string
	// Extra carries kind-specific context (e.g. a string id, a chunk id, an
	// offset) for the human-readable message without forcing every caller to
	// type-switch on Kind to extract it.
	Extra any
}

func (e *FormatError) Error() string {
	switch {
	case e.Field != "" && e.Reason != "":
		return fmt.Sprintf("format error (%s): field %q: %s", e.Kind, e.Field, e.Reason)
	case e.Extra != nil:
		return fmt.Sprintf("format error (%s): %v", e.Kind, e.Extra)
	default:
		return fmt.Sprintf("format error (%s)", e.Kind)
	}
}

func NewFormatError(kind FormatKind, extra any) *FormatError {
	return &FormatError{Kind: kind, Extra: extra}
}

func NewInvalidValue(field, reason string) *FormatError {
	return &FormatError{Kind: InvalidValue, Field: field, Reason: reason}
}

// SchemaError is raised when combining layers or embedders whose schema
// (dim, element type, quant scale, or embedding profile) does not match.
type SchemaError struct {
	Field string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("schema mismatch: %s", e.Field)
}

func NewSchemaMismatch(field string) *SchemaError {
	return &SchemaError{Field: field}
}

// PermissionError is raised when a writer targets a forbidden file name
// without the matching escape hatch (allow_user / allow_base).
type PermissionError struct {
	Path string
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf("write not permitted: %s", e.Path)
}

// ConfigError covers missing required fields, unknown backends, dimension
// mismatches between configured options and the target layer, redacted
// content on import, illegal promote flows, and invalid proposal
// transitions.
type ConfigError struct {
	Reason string
}

func (e *ConfigError) Error() string {
	return "config error: " + e.Reason
}

func NewConfigError(format string, args ...any) *ConfigError {
	return &ConfigError{Reason: fmt.Sprintf(format, args...)}
}

// EmbedderError is a backend-specific embedding failure: HTTP non-200,
// authentication, dimension mismatch between a returned vector and the
// profile, or a model checksum mismatch.
type EmbedderError struct {
	Backend string
	Reason  string
	Err     error
}

func (e *EmbedderError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("embedder %q: %s: %v", e.Backend, e.Reason, e.Err)
	}
	return fmt.Sprintf("embedder %q: %s", e.Backend, e.Reason)
}

func (e *EmbedderError) Unwrap() error {
	return e.Err
}

func NewEmbedderError(backend, reason string, err error) *EmbedderError {
	return &EmbedderError{Backend: backend, Reason: reason, Err: err}
}
