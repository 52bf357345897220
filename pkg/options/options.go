// Package options implements the embedding-options rollup algorithm from
// spec.md §4.5: "options" chunks (kind "options") scattered across the
// layer stack describe which embedding backend and model a database
// uses, plus a checksum allowlist for local model files. The embedding
// patch folds in iteration order local, user, delta, base, with each
// layer's fields unconditionally overwriting the running resolution —
// so a field the base layer sets always wins, since it is visited last.
// The checksum allowlist folds the opposite direction (base to local)
// and supports incremental add/remove/clear operations.
package options

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/krazyjakee/agentsdb/pkg/embed"
	"github.com/krazyjakee/agentsdb/pkg/embed/anthropicembed"
	"github.com/krazyjakee/agentsdb/pkg/embed/bedrockembed"
	"github.com/krazyjakee/agentsdb/pkg/embed/cache"
	"github.com/krazyjakee/agentsdb/pkg/embed/cohereembed"
	"github.com/krazyjakee/agentsdb/pkg/embed/geminiembed"
	"github.com/krazyjakee/agentsdb/pkg/embed/hashembed"
	"github.com/krazyjakee/agentsdb/pkg/embed/openaiembed"
	"github.com/krazyjakee/agentsdb/pkg/embed/voyageembed"
	"github.com/krazyjakee/agentsdb/pkg/layer"
)

const (
	// DefaultLocalModel and DefaultLocalRevision are used by local/offline
	// backends when no model is configured. agentsdb has no candle/ort
	// equivalent (see DESIGN.md), so these only matter as the profile's
	// Model/Revision fields when falling back to the hash backend.
	DefaultLocalModel    = "all-minilm-l6-v2"
	DefaultLocalRevision = "main"
)

// AllowlistOp is the operation a checksum-allowlist options record applies.
type AllowlistOp string

const (
	AllowlistAdd    AllowlistOp = "add"
	AllowlistRemove AllowlistOp = "remove"
	AllowlistClear  AllowlistOp = "clear"
)

// ModelRevision identifies one (model, revision) pair.
type ModelRevision struct {
	Model    string `json:"model"`
	Revision string `json:"revision"`
}

// ModelChecksumPin pins an expected SHA-256 for a model/revision pair.
type ModelChecksumPin struct {
	Model    string  `json:"model"`
	Revision string  `json:"revision"`
	SHA256   *string `json:"sha256,omitempty"`
}

// ChecksumAllowlistRecord is one incremental allowlist edit.
type ChecksumAllowlistRecord struct {
	Op      AllowlistOp        `json:"op"`
	Entries []ModelChecksumPin `json:"entries"`
}

// EmbeddingOptionsPatch is the embedding-config portion of an options
// chunk: every field is optional, and only present fields override the
// rollup in progress.
type EmbeddingOptionsPatch struct {
	Backend      *string `json:"backend,omitempty"`
	Model        *string `json:"model,omitempty"`
	Revision     *string `json:"revision,omitempty"`
	ModelPath    *string `json:"model_path,omitempty"`
	ModelSHA256  *string `json:"model_sha256,omitempty"`
	Dim          *int    `json:"dim,omitempty"`
	APIBase      *string `json:"api_base,omitempty"`
	APIKeyEnv    *string `json:"api_key_env,omitempty"`
	CacheEnabled *bool   `json:"cache_enabled,omitempty"`
	CacheDir     *string `json:"cache_dir,omitempty"`
}

// Record is the full JSON body of an "options"-kind chunk.
type Record struct {
	Embedding         *EmbeddingOptionsPatch   `json:"embedding,omitempty"`
	ChecksumAllowlist *ChecksumAllowlistRecord `json:"checksum_allowlist,omitempty"`
}

// Resolved is the outcome of folding every options record in the layer
// stack into one configuration.
type Resolved struct {
	Backend           string
	Model             string
	Revision          string
	ModelPath         string
	ModelSHA256       string
	Dim               int
	APIBase           string
	APIKeyEnv         string
	CacheEnabled      bool
	CacheDir          string
	ChecksumAllowlist map[ModelRevision]string
}

// layerMetadataProfile mirrors the embedding_profile subset of the layer
// metadata JSON blob written by pkg/layer's writer — the base layer's
// only source of embedding configuration when no options chunk exists.
type layerMetadataProfile struct {
	EmbeddingProfile struct {
		Backend  string `json:"backend"`
		Model    string `json:"model"`
		Revision string `json:"revision"`
		Dim      int    `json:"dim"`
	} `json:"embedding_profile"`
}

// StandardPaths returns the four conventional layer file paths under dir,
// matching the teacher's flat-file-per-layer layout convention.
type StandardPaths struct {
	Base  string
	User  string
	Delta string
	Local string
}

func StandardLayerPaths(dir string) StandardPaths {
	return StandardPaths{
		Base:  filepath.Join(dir, "AGENTS.db"),
		User:  filepath.Join(dir, "AGENTS.user.db"),
		Delta: filepath.Join(dir, "AGENTS.delta.db"),
		Local: filepath.Join(dir, "AGENTS.local.db"),
	}
}

// RollUp folds the options chunks of every layer into one resolved
// configuration. layersHighToLow must be ordered local, user, delta,
// base (highest priority first); any entry may be nil for an absent
// layer.
func RollUp(layersHighToLow []*layer.File) (*Resolved, error) {
	out := &Resolved{
		Backend:           "hash",
		ChecksumAllowlist: make(map[ModelRevision]string),
	}

	// Allowlist folds low->high (base first): higher layers can add,
	// remove, or clear pins defined by lower layers.
	for i := len(layersHighToLow) - 1; i >= 0; i-- {
		lf := layersHighToLow[i]
		if lf == nil {
			continue
		}
		records, err := optionsRecordsInLayer(lf)
		if err != nil {
			return nil, err
		}
		for _, rec := range records {
			if rec.ChecksumAllowlist == nil {
				continue
			}
			switch rec.ChecksumAllowlist.Op {
			case AllowlistClear:
				out.ChecksumAllowlist = make(map[ModelRevision]string)
			case AllowlistAdd:
				for _, e := range rec.ChecksumAllowlist.Entries {
					if e.SHA256 == nil {
						return nil, fmt.Errorf("options: allowlist add entry missing sha256 (model=%q revision=%q)", e.Model, e.Revision)
					}
					out.ChecksumAllowlist[ModelRevision{Model: e.Model, Revision: e.Revision}] = *e.SHA256
				}
			case AllowlistRemove:
				for _, e := range rec.ChecksumAllowlist.Entries {
					delete(out.ChecksumAllowlist, ModelRevision{Model: e.Model, Revision: e.Revision})
				}
			default:
				return nil, fmt.Errorf("options: unknown allowlist op %q", rec.ChecksumAllowlist.Op)
			}
		}
	}

	// Embedding patch folds in iteration order local->user->delta->base:
	// for each layer's last options chunk, every non-nil field
	// unconditionally overwrites the running resolution. Since base is
	// visited last, a field base's patch sets wins over the same field
	// set by any higher layer — counterintuitive, but this is exactly
	// what original_source's roll_up_embedding_options does (no reversal,
	// unconditional per-field assignment), and spec.md §4.5 step 3 names
	// the same iteration order and "overwrite" wording, so it is taken as
	// intentional rather than ported around.
	foundAny := false
	for _, lf := range layersHighToLow {
		if lf == nil {
			continue
		}
		patch, err := lastEmbeddingPatchInLayer(lf)
		if err != nil {
			return nil, err
		}
		if patch == nil {
			continue
		}
		foundAny = true
		applyPatch(out, patch)
	}

	if !foundAny && out.Backend == "hash" && len(layersHighToLow) > 0 {
		base := layersHighToLow[len(layersHighToLow)-1]
		if base != nil {
			if meta := base.Metadata(); meta != nil {
				var parsed layerMetadataProfile
				if err := json.Unmarshal(meta, &parsed); err == nil && parsed.EmbeddingProfile.Backend != "" {
					out.Backend = parsed.EmbeddingProfile.Backend
					out.Model = parsed.EmbeddingProfile.Model
					out.Revision = parsed.EmbeddingProfile.Revision
					out.Dim = parsed.EmbeddingProfile.Dim
				}
			}
		}
	}

	return out, nil
}

// applyPatch unconditionally overwrites out's fields with every non-nil
// field of patch. Called once per layer, in iteration order, so the last
// layer visited that sets a given field determines its final value.
func applyPatch(out *Resolved, patch *EmbeddingOptionsPatch) {
	if patch.Backend != nil {
		out.Backend = *patch.Backend
	}
	if patch.Model != nil {
		out.Model = *patch.Model
	}
	if patch.Revision != nil {
		out.Revision = *patch.Revision
	}
	if patch.ModelPath != nil {
		out.ModelPath = *patch.ModelPath
	}
	if patch.ModelSHA256 != nil {
		out.ModelSHA256 = *patch.ModelSHA256
	}
	if patch.Dim != nil {
		out.Dim = *patch.Dim
	}
	if patch.APIBase != nil {
		out.APIBase = *patch.APIBase
	}
	if patch.APIKeyEnv != nil {
		out.APIKeyEnv = *patch.APIKeyEnv
	}
	if patch.CacheEnabled != nil {
		out.CacheEnabled = *patch.CacheEnabled
	}
	if patch.CacheDir != nil {
		out.CacheDir = *patch.CacheDir
	}
}

func optionsRecordsInLayer(lf *layer.File) ([]Record, error) {
	var out []Record
	for rec, err := range lf.Chunks() {
		if err != nil {
			return nil, fmt.Errorf("options: read chunk: %w", err)
		}
		c, err := rec.Chunk()
		if err != nil {
			return nil, fmt.Errorf("options: decode chunk: %w", err)
		}
		if c.Kind != layer.KindOptions {
			continue
		}
		var parsed Record
		if err := json.Unmarshal([]byte(c.Content), &parsed); err != nil {
			return nil, fmt.Errorf("options: parse options chunk %d: %w", c.ID, err)
		}
		out = append(out, parsed)
	}
	return out, nil
}

func lastEmbeddingPatchInLayer(lf *layer.File) (*EmbeddingOptionsPatch, error) {
	records, err := optionsRecordsInLayer(lf)
	if err != nil {
		return nil, err
	}
	var last *EmbeddingOptionsPatch
	for _, rec := range records {
		if rec.Embedding != nil {
			last = rec.Embedding
		}
	}
	return last, nil
}

// RollUpFromPaths opens whichever of the four standard layer paths exist
// and folds their options. Missing files are treated as absent layers,
// not errors.
func RollUpFromPaths(local, user, delta, base string) (*Resolved, error) {
	localLf, err := openIfExists(local)
	if err != nil {
		return nil, err
	}
	defer closeIfOpen(localLf)
	userLf, err := openIfExists(user)
	if err != nil {
		return nil, err
	}
	defer closeIfOpen(userLf)
	deltaLf, err := openIfExists(delta)
	if err != nil {
		return nil, err
	}
	defer closeIfOpen(deltaLf)
	baseLf, err := openIfExists(base)
	if err != nil {
		return nil, err
	}
	defer closeIfOpen(baseLf)

	return RollUp([]*layer.File{localLf, userLf, deltaLf, baseLf})
}

// GetImmutableOptions resolves embedding options from the base layer
// only (AGENTS.db), ignoring user/delta/local overrides. Operations that
// must stay consistent regardless of which overlay layers are present
// (write, reembed, smash) use this instead of the full rollup.
func GetImmutableOptions(dir string) (*Resolved, error) {
	paths := StandardLayerPaths(dir)
	return RollUpFromPaths("", "", "", paths.Base)
}

func openIfExists(path string) (*layer.File, error) {
	if path == "" {
		return nil, nil
	}
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("options: stat %s: %w", path, err)
	}
	lf, err := layer.Open(path)
	if err != nil {
		return nil, fmt.Errorf("options: open %s: %w", path, err)
	}
	return lf, nil
}

func closeIfOpen(lf *layer.File) {
	if lf != nil {
		lf.Close()
	}
}

// IntoEmbedder constructs the embed.Embedder this resolved configuration
// describes, using fallbackDim when Dim was never set by any layer.
// Remote backends resolve their API key from the environment variable
// named by APIKeyEnv (or the backend's documented default), matching
// original_source's require_env contract. ChecksumAllowlist/ModelSHA256 are
// resolved onto r but deliberately not threaded into any backend
// constructor below: every backend here is a remote API or the hash
// backend, and none of them loads a local model file a checksum could
// verify. The allowlist stays a no-op until a local-model backend exists.
func (r *Resolved) IntoEmbedder(ctx context.Context, fallbackDim int) (embed.Embedder, error) {
	dim := r.Dim
	if dim == 0 {
		dim = fallbackDim
	}

	var inner embed.Embedder
	switch r.Backend {
	case "hash", "":
		inner = hashembed.New(dim)
	case "anthropic":
		inner = anthropicembed.New(dim)
	case "openai":
		if r.Model == "" {
			return nil, fmt.Errorf("options: openai backend requires model")
		}
		apiKey := os.Getenv(envOrDefault(r.APIKeyEnv, "OPENAI_API_KEY"))
		inner = openaiembed.New(embed.Profile{Backend: "openai", Model: r.Model, Revision: r.Revision, Dim: dim}, apiKey, r.APIBase)
	case "voyage":
		if r.Model == "" {
			return nil, fmt.Errorf("options: voyage backend requires model")
		}
		apiKey := os.Getenv(envOrDefault(r.APIKeyEnv, "VOYAGE_API_KEY"))
		inner = voyageembed.New(embed.Profile{Backend: "voyage", Model: r.Model, Revision: r.Revision, Dim: dim}, apiKey, r.APIBase)
	case "cohere":
		if r.Model == "" {
			return nil, fmt.Errorf("options: cohere backend requires model")
		}
		apiKey := os.Getenv(envOrDefault(r.APIKeyEnv, "COHERE_API_KEY"))
		inner = cohereembed.New(embed.Profile{Backend: "cohere", Model: r.Model, Revision: r.Revision, Dim: dim}, apiKey, r.APIBase)
	case "gemini":
		if r.Model == "" {
			return nil, fmt.Errorf("options: gemini backend requires model")
		}
		apiKey := os.Getenv(envOrDefault(r.APIKeyEnv, "GEMINI_API_KEY"))
		inner = geminiembed.New(embed.Profile{Backend: "gemini", Model: r.Model, Revision: r.Revision, Dim: dim}, apiKey, r.APIBase)
	case "bedrock":
		if r.Model == "" {
			return nil, fmt.Errorf("options: bedrock backend requires model")
		}
		region := r.APIBase
		be, err := bedrockembed.New(ctx, embed.Profile{Backend: "bedrock", Model: r.Model, Revision: r.Revision, Dim: dim}, region)
		if err != nil {
			return nil, fmt.Errorf("options: construct bedrock embedder: %w", err)
		}
		inner = be
	default:
		return nil, fmt.Errorf("options: unknown embedding backend %q (supported: hash, openai, voyage, cohere, anthropic, bedrock, gemini)", r.Backend)
	}

	if !r.CacheEnabled {
		return inner, nil
	}

	cacheDir := r.CacheDir
	if cacheDir == "" {
		resolved, err := cache.DefaultDir()
		if err != nil {
			return nil, fmt.Errorf("options: resolve default cache dir: %w", err)
		}
		cacheDir = resolved
	}
	dir, err := cache.Open(cacheDir)
	if err != nil {
		return nil, fmt.Errorf("options: init embedding cache: %w", err)
	}
	return cache.Wrap(inner, dir), nil
}

func envOrDefault(configured, def string) string {
	if configured != "" {
		return configured
	}
	return def
}
