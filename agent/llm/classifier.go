package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/compose"
	"github.com/rs/zerolog/log"

	contractx "github.com/tanpawarit/Chative-Retention-Router/agent/contract"
	statex "github.com/tanpawarit/Chative-Retention-Router/agent/state"
)

const defaultMinConfidence = 0.5

type classifierLLMOutput struct {
	Intent     string  `json:"intent"`
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning,omitempty"`
}

// Classifier asks a chat model for the intent. When the model fails or is
// unsure, the fallback classifier decides.
type Classifier struct {
	runner        compose.Runnable[map[string]any, classifierLLMOutput]
	fallback      contractx.Classifier
	minConfidence float64
}

var _ contractx.Classifier = (*Classifier)(nil)

func NewClassifier(
	ctx context.Context,
	chatModel einomodel.BaseChatModel,
	systemPrompt string,
	fallback contractx.Classifier,
) (*Classifier, error) {
	if strings.TrimSpace(systemPrompt) == "" {
		return nil, fmt.Errorf("%w: classifier prompt", contractx.ErrPromptMissing)
	}
	runner, err := compileStructuredLLMGraph[classifierLLMOutput](ctx, chatModel, systemPrompt, "classifier.intent_graph")
	if err != nil {
		return nil, fmt.Errorf("%w: compile classifier graph: %v", contractx.ErrModelInvoke, err)
	}
	return &Classifier{
		runner:        runner,
		fallback:      fallback,
		minConfidence: defaultMinConfidence,
	}, nil
}

func (c *Classifier) Classify(ctx context.Context, req contractx.ClassifyRequest) (statex.Intent, error) {
	if strings.TrimSpace(req.Message) == "" {
		return statex.IntentOther, fmt.Errorf("%w: message is required", contractx.ErrValidation)
	}

	intent, err := c.classifyWithModel(ctx, req)
	if err == nil {
		return intent, nil
	}
	if c.fallback == nil {
		return statex.IntentOther, err
	}

	log.Warn().Err(err).Msg("model classification unavailable, using fallback classifier")
	return c.fallback.Classify(ctx, req)
}

func (c *Classifier) classifyWithModel(ctx context.Context, req contractx.ClassifyRequest) (statex.Intent, error) {
	payload := map[string]any{
		"message": req.Message,
		"context": req.Context,
	}
	if req.Customer != nil {
		payload["customer"] = map[string]any{
			"name":   req.Customer.Name,
			"tier":   req.Customer.Tier,
			"plan":   req.Customer.PlanName,
			"device": req.Customer.Device,
		}
	}
	input, err := json.Marshal(payload)
	if err != nil {
		return statex.IntentOther, fmt.Errorf("%w: marshal classifier payload: %v", contractx.ErrValidation, err)
	}

	out, err := c.runner.Invoke(ctx, map[string]any{
		"input": string(input),
	})
	if err != nil {
		return statex.IntentOther, fmt.Errorf("%w: classifier invoke: %v", contractx.ErrExternalUnavailable, err)
	}

	intent, ok := statex.ParseIntent(out.Intent)
	if !ok {
		return statex.IntentOther, fmt.Errorf("%w: unsupported intent=%q", contractx.ErrSchemaViolation, out.Intent)
	}
	if out.Confidence < c.minConfidence {
		return statex.IntentOther, fmt.Errorf("%w: confidence %.2f below %.2f", contractx.ErrSchemaViolation, out.Confidence, c.minConfidence)
	}

	log.Debug().
		Str("intent", string(intent)).
		Float64("confidence", out.Confidence).
		Str("reasoning", out.Reasoning).
		Msg("model classified message")
	return intent, nil
}
