package export

import (
	"crypto/sha256"
	"encoding/hex"
)

// Redaction modes, per spec.md §6.
const (
	RedactNone       = "none"
	RedactContent    = "content"
	RedactEmbeddings = "embeddings"
	RedactAll        = "all"
)

func validRedactMode(mode string) bool {
	switch mode {
	case RedactNone, RedactContent, RedactEmbeddings, RedactAll:
		return true
	default:
		return false
	}
}

// applyRedaction drops content and/or embedding per mode, matching
// agentsdb-ops's apply_redaction: "content" keeps embeddings and drops
// content, "embeddings" keeps content and drops embeddings, "all" drops
// both (the importer must reject a chunk with no content).
func applyRedaction(mode, content string, embedding []float32) (*string, []float32) {
	switch mode {
	case RedactContent:
		return nil, embedding
	case RedactEmbeddings:
		return &content, nil
	case RedactAll:
		return nil, nil
	default:
		return &content, embedding
	}
}

// contentSHA256Hex hashes content's UTF-8 bytes, hex-encoded lowercase.
func contentSHA256Hex(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}
