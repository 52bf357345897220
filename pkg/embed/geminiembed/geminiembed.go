// Package geminiembed implements Google's Generative Language API
// batchEmbedContents REST endpoint. original_source's config.rs lists a
// "gemini" backend but its implementation lives behind a cargo feature
// that is never compiled in the retrieved source (backends.rs has no
// GeminiEmbedder), so this package follows Google's public REST contract
// directly rather than porting Rust; it keeps the same plain
// net/http+JSON idiom as voyageembed/cohereembed rather than importing
// the teacher's google.golang.org/genai SDK, which only exposes
// chat/generation, not embeddings.
package geminiembed

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

const defaultAPIBase = "https://generativelanguage.googleapis.com"

// Embedder calls Gemini's v1beta batchEmbedContents endpoint.
type Embedder struct {
	httpClient *http.Client
	apiBase    string
	apiKey     string
	profile    embed.Profile

	mu              sync.Mutex
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
		Provider:        "gemini",
		APIBase:         e.apiBase,
		Runtime:         "http",
		ObservedModel:   e.profile.Model,
		ResponseHeaders: e.observedHeaders,
	}
}

type contentPart struct {
	Text string `json:"text"`
}

type content struct {
	Parts []contentPart `json:"parts"`
}

type embedRequestItem struct {
	Model   string  `json:"model"`
	Content content `json:"content"`
}

type batchRequest struct {
	Requests []embedRequestItem `json:"requests"`
}

type embeddingValues struct {
	Values []float32 `json:"values"`
}

type batchResponse struct {
	Embeddings []embeddingValues `json:"embeddings"`
}

func (e *Embedder) Embed(ctx context.Context, inputs []string) ([][]float32, error) {
	if e.profile.Model == "" {
		return nil, agentsdberr.NewConfigError("gemini embedder requires a model")
	}

	modelResource := "models/" + e.profile.Model
	reqBody := batchRequest{Requests: make([]embedRequestItem, len(inputs))}
	for i, in := range inputs {
		reqBody.Requests[i] = embedRequestItem{
			Model:   modelResource,
			Content: content{Parts: []contentPart{{Text: in}}},
		}
	}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("geminiembed: marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/v1beta/%s:batchEmbedContents", e.apiBase, modelResource)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("geminiembed: build request: %w", err)
	}
	req.Header.Set("x-goog-api-key", e.apiKey)
	req.Header.Set("content-type", "application/json")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, agentsdberr.NewEmbedderError("gemini", "request failed", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, agentsdberr.NewEmbedderError("gemini", "read response", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, agentsdberr.NewEmbedderError("gemini", fmt.Sprintf("HTTP %d: %s", resp.StatusCode, string(respBody)), nil)
	}

	var parsed batchResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, agentsdberr.NewEmbedderError("gemini", "parse response", err)
	}
	if len(parsed.Embeddings) != len(inputs) {
		return nil, agentsdberr.NewEmbedderError("gemini", fmt.Sprintf("expected %d embeddings, got %d", len(inputs), len(parsed.Embeddings)), nil)
	}

	out := make([][]float32, len(inputs))
	for i, e2 := range parsed.Embeddings {
		if len(e2.Values) != e.profile.Dim {
			return nil, agentsdberr.NewSchemaMismatch(fmt.Sprintf("gemini embedding dim %d != profile dim %d", len(e2.Values), e.profile.Dim))
		}
		out[i] = e2.Values
	}

	e.mu.Lock()
	e.observedHeaders = collectHeaders(resp.Header, "x-request-id", "date", "server")
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
