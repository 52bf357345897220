package ops

import (
	"encoding/json"
	"fmt"

	"github.com/krazyjakee/agentsdb/pkg/embed"
)

// toolInfo records which CLI invoked a write, mirroring original_source's
// LayerMetadataV1::with_tool.
type toolInfo struct {
	Name    string `json:"name,omitempty"`
	Version string `json:"version,omitempty"`
}

// layerMetadataV1 is the layer-metadata JSON blob written alongside a new
// or first-ever-written layer: the embedder's identity (embedding_profile,
// read by pkg/layer and pkg/options for compatibility checks) plus
// descriptive audit fields the compatibility check ignores.
type layerMetadataV1 struct {
	EmbeddingProfile struct {
		Backend  string `json:"backend"`
		Model    string `json:"model"`
		Revision string `json:"revision"`
		Dim      int    `json:"dim"`
	} `json:"embedding_profile"`
	EmbedderMetadata embed.Metadata `json:"embedder_metadata,omitempty"`
	Tool             *toolInfo      `json:"tool,omitempty"`
}

func buildLayerMetadata(profile embed.Profile, meta embed.Metadata, toolName, toolVersion string) ([]byte, error) {
	var m layerMetadataV1
	m.EmbeddingProfile.Backend = profile.Backend
	m.EmbeddingProfile.Model = profile.Model
	m.EmbeddingProfile.Revision = profile.Revision
	m.EmbeddingProfile.Dim = profile.Dim
	m.EmbedderMetadata = meta
	if toolName != "" {
		m.Tool = &toolInfo{Name: toolName, Version: toolVersion}
	}
	buf, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("ops: serialize layer metadata: %w", err)
	}
	return buf, nil
}
