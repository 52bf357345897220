// Package bedrockembed implements an Amazon Bedrock embedding backend via
// bedrockruntime.InvokeModel, grounded on the teacher's
// pkg/model/provider/bedrock/client.go region/credential-chain resolution
// (config.LoadDefaultConfig, AWS_REGION/AWS_DEFAULT_REGION fallback,
// default "us-east-1"). Bedrock has no single embeddings wire format
// across model families, so this targets the Titan embed request/response
// shape ({"inputText": ...} -> {"embedding": [...]}), the most common
// Bedrock embedding family and the one original_source's config.rs
// assumes when it resolves a "bedrock" backend.
package bedrockembed

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"

	"github.com/krazyjakee/agentsdb/pkg/agentsdberr"
	"github.com/krazyjakee/agentsdb/pkg/embed"
)

// Embedder calls a Bedrock Titan-family embedding model via InvokeModel.
type Embedder struct {
	client  *bedrockruntime.Client
	region  string
	profile embed.Profile

	mu            sync.Mutex
	observedModel string
}

// New builds a Bedrock client using the default AWS credential chain.
// region, when empty, follows AWS_REGION, then AWS_DEFAULT_REGION, then
// "us-east-1".
func New(ctx context.Context, profile embed.Profile, region string) (*Embedder, error) {
	if region == "" {
		region = os.Getenv("AWS_REGION")
	}
	if region == "" {
		region = os.Getenv("AWS_DEFAULT_REGION")
	}
	if region == "" {
		region = "us-east-1"
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("bedrockembed: load AWS config: %w", err)
	}
	return &Embedder{
		client:  bedrockruntime.NewFromConfig(awsCfg),
		region:  region,
		profile: profile,
	}, nil
}

func (e *Embedder) Profile() embed.Profile { return e.profile }

func (e *Embedder) Metadata() embed.Metadata {
	e.mu.Lock()
	defer e.mu.Unlock()
	return embed.Metadata{
		Provider:      "bedrock",
		APIBase:       e.region,
		Runtime:       "aws-sdk-go-v2",
		ObservedModel: e.observedModel,
	}
}

type titanEmbedRequest struct {
	InputText string `json:"inputText"`
}

type titanEmbedResponse struct {
	Embedding           []float32 `json:"embedding"`
	InputTextTokenCount int       `json:"inputTextTokenCount"`
}

// Embed invokes the model once per input: Bedrock's InvokeModel API has no
// native batch endpoint for Titan embeddings.
func (e *Embedder) Embed(ctx context.Context, inputs []string) ([][]float32, error) {
	if e.profile.Model == "" {
		return nil, agentsdberr.NewConfigError("bedrock embedder requires a model id")
	}

	out := make([][]float32, len(inputs))
	for i, in := range inputs {
		reqBody, err := json.Marshal(titanEmbedRequest{InputText: in})
		if err != nil {
			return nil, fmt.Errorf("bedrockembed: marshal request: %w", err)
		}

		resp, err := e.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
			ModelId:     aws.String(e.profile.Model),
			ContentType: aws.String("application/json"),
			Accept:      aws.String("application/json"),
			Body:        reqBody,
		})
		if err != nil {
			return nil, agentsdberr.NewEmbedderError("bedrock", fmt.Sprintf("invoke model %q", e.profile.Model), err)
		}

		var parsed titanEmbedResponse
		if err := json.Unmarshal(resp.Body, &parsed); err != nil {
			return nil, agentsdberr.NewEmbedderError("bedrock", "parse response", err)
		}
		if len(parsed.Embedding) != e.profile.Dim {
			return nil, agentsdberr.NewSchemaMismatch(fmt.Sprintf("bedrock embedding dim %d != profile dim %d", len(parsed.Embedding), e.profile.Dim))
		}
		out[i] = parsed.Embedding
	}

	e.mu.Lock()
	e.observedModel = e.profile.Model
	e.mu.Unlock()

	return out, nil
}
