package policy

import (
	"context"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/embedding"
	openaisdk "github.com/openai/openai-go"

	contractx "github.com/tanpawarit/Chative-Retention-Router/agent/contract"
)

var _ embedding.Embedder = (*OpenAIEmbedder)(nil)

// EmbeddingConfig turns on vector ranking of policy passages. BaseURL and
// APIKey fall back to the LLM endpoint when empty.
type EmbeddingConfig struct {
	Enabled bool   `default:"false"`
	Model   string `default:"text-embedding-3-small"`
	BaseURL string `split_words:"true"`
	APIKey  string `split_words:"true"`
}

// OpenAIEmbedder calls an OpenAI-compatible embeddings endpoint.
type OpenAIEmbedder struct {
	client *openaisdk.Client
	model  string
}

func NewOpenAIEmbedder(client *openaisdk.Client, model string) (*OpenAIEmbedder, error) {
	if client == nil {
		return nil, fmt.Errorf("%w: openai client is nil", contractx.ErrValidation)
	}
	model = strings.TrimSpace(model)
	if model == "" {
		model = string(openaisdk.EmbeddingModelTextEmbedding3Small)
	}
	return &OpenAIEmbedder{client: client, model: model}, nil
}

func (e *OpenAIEmbedder) EmbedStrings(ctx context.Context, texts []string, _ ...embedding.Option) ([][]float64, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	resp, err := e.client.Embeddings.New(ctx, openaisdk.EmbeddingNewParams{
		Input: openaisdk.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts},
		Model: openaisdk.EmbeddingModel(e.model),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: embeddings: %v", contractx.ErrExternalUnavailable, err)
	}

	out := make([][]float64, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || int(d.Index) >= len(out) {
			return nil, fmt.Errorf("%w: embedding index %d out of range", contractx.ErrSchemaViolation, d.Index)
		}
		out[d.Index] = d.Embedding
	}
	for i, v := range out {
		if v == nil {
			return nil, fmt.Errorf("%w: missing embedding for input %d", contractx.ErrSchemaViolation, i)
		}
	}
	return out, nil
}
