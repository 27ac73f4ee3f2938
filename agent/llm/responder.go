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
)

// Responder rewrites role drafts with a per-agent model. Agents without a
// graph, and any failed invocation, get the draft back unchanged.
type Responder struct {
	runners map[contractx.AgentType]compose.Runnable[map[string]any, string]
}

var _ contractx.Responder = (*Responder)(nil)

func NewResponder(
	ctx context.Context,
	models map[contractx.AgentType]einomodel.BaseChatModel,
	prompts map[contractx.AgentType]string,
) (*Responder, error) {
	r := &Responder{runners: make(map[contractx.AgentType]compose.Runnable[map[string]any, string], len(models))}
	for agent, m := range models {
		if m == nil {
			continue
		}
		p := strings.TrimSpace(prompts[agent])
		if p == "" {
			return nil, fmt.Errorf("%w: responder prompt for agent=%s", contractx.ErrPromptMissing, agent)
		}
		runner, err := compileTextGraph(ctx, m, p, "responder."+string(agent))
		if err != nil {
			return nil, fmt.Errorf("%w: compile responder graph agent=%s: %v", contractx.ErrModelInvoke, agent, err)
		}
		r.runners[agent] = runner
	}
	return r, nil
}

func (r *Responder) Compose(ctx context.Context, draft contractx.ReplyDraft) (string, error) {
	runner, ok := r.runners[draft.Agent]
	if !ok || strings.TrimSpace(draft.Draft) == "" {
		return draft.Draft, nil
	}

	payload := map[string]any{
		"customer_message": draft.Message,
		"draft":            draft.Draft,
	}
	if draft.Customer != nil {
		payload["customer"] = map[string]any{
			"name":            draft.Customer.Name,
			"tier":            draft.Customer.Tier,
			"plan":            draft.Customer.PlanName,
			"monthly_payment": draft.Customer.MonthlyPayment,
			"tenure_months":   draft.Customer.TenureMonths,
		}
	}
	if draft.Offer != nil {
		payload["offer"] = draft.Offer
	}
	if len(draft.Policies) > 0 {
		payload["policies"] = draft.Policies
	}

	input, err := json.Marshal(payload)
	if err != nil {
		return draft.Draft, nil
	}

	out, err := runner.Invoke(ctx, map[string]any{"input": string(input)})
	if err != nil {
		log.Warn().Err(err).Str("agent", string(draft.Agent)).Msg("responder failed, using draft")
		return draft.Draft, nil
	}
	return out, nil
}
