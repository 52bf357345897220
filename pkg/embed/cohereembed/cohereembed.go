// Package cohereembed implements Cohere's /v1/embed backend, grounded on
// original_source's backends.rs CohereEmbedder. Unlike OpenAI/Voyage,
// Cohere's request field is "texts" (not "input") and its response
// returns embeddings in request order with no per-item index.
package cohereembed

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

const defaultAPIBase = "https://api.cohere.com"

// Embedder calls Cohere's /v1/embed endpoint.
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
		Provider:        "cohere",
		APIBase:         e.apiBase,
		Runtime:         "http",
		ObservedModel:   e.observedModel,
		ResponseHeaders: e.observedHeaders,
	}
}

type embedRequest struct {
	Model string   `json:"model"`
	Texts []string `json:"texts"`
}

type embedResponse struct {
	Model      string      `json:"model"`
	Embeddings [][]float32 `json:"embeddings"`
}

func (e *Embedder) Embed(ctx context.Context, inputs []string) ([][]float32, error) {
	if e.profile.Model == "" {
		return nil, agentsdberr.NewConfigError("cohere embedder requires a model")
	}

	body, err := json.Marshal(embedRequest{Model: e.profile.Model, Texts: inputs})
	if err != nil {
		return nil, fmt.Errorf("cohereembed: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.apiBase+"/v1/embed", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("cohereembed: build request: %w", err)
	}
	req.Header.Set("authorization", "Bearer "+e.apiKey)
	req.Header.Set("content-type", "application/json")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, agentsdberr.NewEmbedderError("cohere", "request failed", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, agentsdberr.NewEmbedderError("cohere", "read response", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, agentsdberr.NewEmbedderError("cohere", fmt.Sprintf("HTTP %d: %s", resp.StatusCode, string(respBody)), nil)
	}

	var parsed embedResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, agentsdberr.NewEmbedderError("cohere", "parse response", err)
	}
	if len(parsed.Embeddings) != len(inputs) {
		return nil, agentsdberr.NewEmbedderError("cohere", fmt.Sprintf("expected %d embeddings, got %d", len(inputs), len(parsed.Embeddings)), nil)
	}
	for _, vec := range parsed.Embeddings {
		if len(vec) != e.profile.Dim {
			return nil, agentsdberr.NewSchemaMismatch(fmt.Sprintf("cohere embedding dim %d != profile dim %d", len(vec), e.profile.Dim))
		}
	}

	e.mu.Lock()
	e.observedModel = parsed.Model
	e.observedHeaders = collectHeaders(resp.Header, "x-request-id", "x-api-version", "date", "server")
	e.mu.Unlock()

	return parsed.Embeddings, nil
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
