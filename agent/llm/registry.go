package llm

import (
	"context"
	"fmt"

	einomodel "github.com/cloudwego/eino/components/model"

	contractx "github.com/tanpawarit/Chative-Retention-Router/agent/contract"
	promptx "github.com/tanpawarit/Chative-Retention-Router/agent/prompt"
)

// Capabilities are the model-backed collaborators the roles can use.
type Capabilities struct {
	Classifier contractx.Classifier
	Responder  contractx.Responder
}

var responderAgents = []contractx.AgentType{
	contractx.AgentTypeIntake,
	contractx.AgentTypeRetention,
	contractx.AgentTypeProcessor,
}

// NewCapabilities builds the classifier, and the responder when cfg asks for
// it. fallback classifies when the model cannot.
func NewCapabilities(ctx context.Context, cfg Config, fallback contractx.Classifier) (Capabilities, error) {
	if err := cfg.Validate(); err != nil {
		return Capabilities{}, err
	}

	build := func(agent contractx.AgentType) (einomodel.BaseChatModel, error) {
		modelCfg := cfg.OpenRouterFor(agent)
		m, err := modelCfg.New(ctx)
		if err != nil {
			return nil, fmt.Errorf("%w: create %s model: %v", contractx.ErrModelInvoke, agent, err)
		}
		return m, nil
	}

	classifierModel, err := build(contractx.AgentTypeClassifier)
	if err != nil {
		return Capabilities{}, err
	}

	models := map[contractx.AgentType]einomodel.BaseChatModel{}
	if cfg.Responder {
		for _, agent := range responderAgents {
			m, err := build(agent)
			if err != nil {
				return Capabilities{}, err
			}
			models[agent] = m
		}
	}

	return newCapabilities(ctx, classifierModel, models, promptx.LoadPromptSet(), fallback)
}

func newCapabilities(
	ctx context.Context,
	classifierModel einomodel.BaseChatModel,
	responderModels map[contractx.AgentType]einomodel.BaseChatModel,
	prompts promptx.PromptSet,
	fallback contractx.Classifier,
) (Capabilities, error) {
	classifierPrompt, err := prompts.For(contractx.AgentTypeClassifier)
	if err != nil {
		return Capabilities{}, err
	}
	classifier, err := NewClassifier(ctx, classifierModel, classifierPrompt, fallback)
	if err != nil {
		return Capabilities{}, err
	}

	responderPrompts := make(map[contractx.AgentType]string, len(responderModels))
	for agent := range responderModels {
		p, err := prompts.For(agent)
		if err != nil {
			return Capabilities{}, err
		}
		responderPrompts[agent] = p
	}
	responder, err := NewResponder(ctx, responderModels, responderPrompts)
	if err != nil {
		return Capabilities{}, err
	}

	return Capabilities{Classifier: classifier, Responder: responder}, nil
}
