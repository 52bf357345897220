// Package voyageembed implements the Voyage AI /v1/embeddings backend,
// grounded on original_source's backends.rs VoyageEmbedder (ureq-based
// POST with bearer auth, response header capture for x-request-id/
// x-api-version/date/server).
package voyageembed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/krazyjakee/agentsdb/pkg/agentsdberr"
	"github.com/krazyjakee/agentsdb/pkg/embed"
)

const defaultAPIBase = "https://api.voyageai.com"

// Embedder calls Voyage AI's /v1/embeddings endpoint.
type Embedder struct {
	httpClient *http.Client
	apiBase    string
	apiKey     string
	profile    embed.Profile

	mu              sync.Mutex
	observedModel   string
	observedHeaders map[string]string
}

func New(profile embed.Profile, apiKey, apiBase string) *Embedder {
	if apiBase == "" {
		apiBase = defaultAPIBase
	}
	return &Embedder{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		apiBase:    apiBase,
		apiKey:     apiKey,
		profile:    profile,
	}
}

func (e *Embedder) Profile() embed.Profile { return e.profile }

func (e *Embedder) Metadata() embed.Metadata {
	e.mu.Lock()
	defer e.mu.Unlock()
	return embed.Metadata{
		Provider:        "voyage",
		APIBase:         e.apiBase,
		Runtime:         "http",
		ObservedModel:   e.observedModel,
		ResponseHeaders: e.observedHeaders,
	}
}

type embeddingsRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embeddingsResponse struct {
	Model string `json:"model"`
	Data  []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
}

func (e *Embedder) Embed(ctx context.Context, inputs []string) ([][]float32, error) {
	if e.profile.Model == "" {
		return nil, agentsdberr.NewConfigError("voyage embedder requires a model")
	}

	body, err := json.Marshal(embeddingsRequest{Model: e.profile.Model, Input: inputs})
	if err != nil {
		return nil, fmt.Errorf("voyageembed: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.apiBase+"/v1/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("voyageembed: build request: %w", err)
	}
	req.Header.Set("authorization", "Bearer "+e.apiKey)
	req.Header.Set("content-type", "application/json")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, agentsdberr.NewEmbedderError("voyage", "request failed", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, agentsdberr.NewEmbedderError("voyage", "read response", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, agentsdberr.NewEmbedderError("voyage", fmt.Sprintf("HTTP %d: %s", resp.StatusCode, string(respBody)), nil)
	}

	var parsed embeddingsResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, agentsdberr.NewEmbedderError("voyage", "parse response", err)
	}
	if len(parsed.Data) != len(inputs) {
		return nil, agentsdberr.NewEmbedderError("voyage", fmt.Sprintf("expected %d embeddings, got %d", len(inputs), len(parsed.Data)), nil)
	}

	out := make([][]float32, len(inputs))
	for _, item := range parsed.Data {
		if item.Index < 0 || item.Index >= len(out) {
			return nil, agentsdberr.NewEmbedderError("voyage", fmt.Sprintf("response index %d out of range", item.Index), nil)
		}
		if len(item.Embedding) != e.profile.Dim {
			return nil, agentsdberr.NewSchemaMismatch(fmt.Sprintf("voyage embedding dim %d != profile dim %d", len(item.Embedding), e.profile.Dim))
		}
		out[item.Index] = item.Embedding
	}

	e.mu.Lock()
	e.observedModel = parsed.Model
	e.observedHeaders = collectHeaders(resp.Header, "x-request-id", "x-api-version", "date", "server")
	e.mu.Unlock()

	return out, nil
}

func collectHeaders(h http.Header, names ...string) map[string]string {
	out := make(map[string]string)
	for _, n := range names {
		if v := h.Get(n); v != "" {
			out[n] = v
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
