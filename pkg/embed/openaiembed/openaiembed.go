// Package openaiembed implements an OpenAI-compatible `/v1/embeddings`
// backend (also usable against any OpenAI-compatible gateway via
// api_base), grounded on the teacher's
// pkg/model/provider/openai/client.go CreateEmbedding/CreateBatchEmbedding
// pair and on original_source's backends.rs OpenAI client.
package openaiembed

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

const defaultAPIBase = "https://api.openai.com"

// Embedder calls an OpenAI-compatible /v1/embeddings endpoint.
type Embedder struct {
	httpClient *http.Client
	apiBase    string
	apiKey     string
	profile    embed.Profile

	mu              sync.Mutex
	observedModel   string
	observedHeaders map[string]string
}

// New returns an OpenAI-compatible embedder. apiBase defaults to the
// public OpenAI API when empty.
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
		Provider:        "openai",
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

// Embed calls /v1/embeddings once for the whole input slice (up to the
// provider's own batch limit; agentsdb's batching happens a layer up in
// embed.RunBatched).
func (e *Embedder) Embed(ctx context.Context, inputs []string) ([][]float32, error) {
	if e.profile.Model == "" {
		return nil, agentsdberr.NewConfigError("openai embedder requires a model")
	}

	body, err := json.Marshal(embeddingsRequest{Model: e.profile.Model, Input: inputs})
	if err != nil {
		return nil, fmt.Errorf("openaiembed: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.apiBase+"/v1/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("openaiembed: build request: %w", err)
	}
	req.Header.Set("authorization", "Bearer "+e.apiKey)
	req.Header.Set("content-type", "application/json")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, agentsdberr.NewEmbedderError("openai", "request failed", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, agentsdberr.NewEmbedderError("openai", "read response", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, agentsdberr.NewEmbedderError("openai", fmt.Sprintf("HTTP %d: %s", resp.StatusCode, string(respBody)), nil)
	}

	var parsed embeddingsResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, agentsdberr.NewEmbedderError("openai", "parse response", err)
	}
	if len(parsed.Data) != len(inputs) {
		return nil, agentsdberr.NewEmbedderError("openai", fmt.Sprintf("expected %d embeddings, got %d", len(inputs), len(parsed.Data)), nil)
	}

	out := make([][]float32, len(inputs))
	for _, item := range parsed.Data {
		if item.Index < 0 || item.Index >= len(out) {
			return nil, agentsdberr.NewEmbedderError("openai", fmt.Sprintf("response index %d out of range", item.Index), nil)
		}
		if len(item.Embedding) != e.profile.Dim {
			return nil, agentsdberr.NewSchemaMismatch(fmt.Sprintf("openai embedding dim %d != profile dim %d", len(item.Embedding), e.profile.Dim))
		}
		out[item.Index] = item.Embedding
	}

	e.mu.Lock()
	e.observedModel = parsed.Model
	e.observedHeaders = collectHeaders(resp.Header, "x-request-id", "openai-model", "openai-version")
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
