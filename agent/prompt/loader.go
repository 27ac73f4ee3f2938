package prompt

import (
	_ "embed"
	"fmt"
	"strings"

	contractx "github.com/tanpawarit/Chative-Retention-Router/agent/contract"
)

var (
	//go:embed template/classifier.txt
	classifierRaw string

	//go:embed template/intake.txt
	intakeRaw string

	//go:embed template/retention.txt
	retentionRaw string

	//go:embed template/processor.txt
	processorRaw string
)

// PromptSet holds the system prompts for each model-backed agent.
type PromptSet struct {
	Classifier string
	Intake     string
	Retention  string
	Processor  string
}

func LoadPromptSet() PromptSet {
	return PromptSet{
		Classifier: strings.TrimSpace(classifierRaw),
		Intake:     strings.TrimSpace(intakeRaw),
		Retention:  strings.TrimSpace(retentionRaw),
		Processor:  strings.TrimSpace(processorRaw),
	}
}

func (p PromptSet) For(agent contractx.AgentType) (string, error) {
	var out string
	switch agent {
	case contractx.AgentTypeClassifier:
		out = p.Classifier
	case contractx.AgentTypeIntake:
		out = p.Intake
	case contractx.AgentTypeRetention:
		out = p.Retention
	case contractx.AgentTypeProcessor:
		out = p.Processor
	}
	if strings.TrimSpace(out) == "" {
		return "", fmt.Errorf("%w: agent=%s", contractx.ErrPromptMissing, agent)
	}
	return out, nil
}
