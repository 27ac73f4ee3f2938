package prompt

import (
	"errors"
	"strings"
	"testing"

	contractx "github.com/tanpawarit/Chative-Retention-Router/agent/contract"
)

func TestLoadPromptSetHasEveryAgent(t *testing.T) {
	t.Parallel()

	set := LoadPromptSet()
	for _, agent := range []contractx.AgentType{
		contractx.AgentTypeClassifier,
		contractx.AgentTypeIntake,
		contractx.AgentTypeRetention,
		contractx.AgentTypeProcessor,
	} {
		p, err := set.For(agent)
		if err != nil {
			t.Fatalf("For(%s) error = %v", agent, err)
		}
		// Prompts are rendered as FString templates; stray braces break them.
		if strings.ContainsAny(p, "{}") {
			t.Fatalf("prompt for %s contains template braces", agent)
		}
	}
}

func TestForUnknownAgent(t *testing.T) {
	t.Parallel()

	_, err := PromptSet{}.For(contractx.AgentTypeRetention)
	if !errors.Is(err, contractx.ErrPromptMissing) {
		t.Fatalf("expected ErrPromptMissing, got %v", err)
	}
}
