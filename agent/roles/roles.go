package roles

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	contractx "github.com/tanpawarit/Chative-Retention-Router/agent/contract"
	"github.com/tanpawarit/Chative-Retention-Router/agent/retention"
	statex "github.com/tanpawarit/Chative-Retention-Router/agent/state"
)

const (
	DefaultMaxOffers = retention.DefaultMaxOffers
	policyTopK       = 2
)

// Deps are the collaborators shared by the three roles. Directory,
// Classifier and Rules are required; the rest fall back to defaults.
type Deps struct {
	Directory  contractx.Directory
	Classifier contractx.Classifier
	Rules      contractx.RuleTable
	Reasons    contractx.ReasonDetector
	Policies   contractx.PolicyRetriever
	Responder  contractx.Responder
	MaxOffers  int
}

func (d Deps) withDefaults() Deps {
	if d.Reasons == nil {
		d.Reasons = retention.KeywordReasonDetector{}
	}
	if d.Responder == nil {
		d.Responder = DraftResponder{}
	}
	if d.MaxOffers <= 0 {
		d.MaxOffers = DefaultMaxOffers
	}
	return d
}

// NewAll builds the intake, retention and processor roles.
func NewAll(d Deps) ([]contractx.Role, error) {
	intake, err := NewIntake(d)
	if err != nil {
		return nil, err
	}
	ret, err := NewRetention(d)
	if err != nil {
		return nil, err
	}
	proc, err := NewProcessor(d)
	if err != nil {
		return nil, err
	}
	return []contractx.Role{intake, ret, proc}, nil
}

func requireResolved(st *statex.ConversationState, role statex.Role) error {
	if st == nil {
		return statex.ErrNilConversation
	}
	if !st.CustomerResolved() {
		return fmt.Errorf("%w: %s requires a resolved customer", contractx.ErrValidation, role)
	}
	return nil
}

func compose(ctx context.Context, r contractx.Responder, draft contractx.ReplyDraft) string {
	reply, err := r.Compose(ctx, draft)
	if err != nil || reply == "" {
		if err != nil && !errors.Is(err, context.Canceled) {
			log.Warn().Err(err).Str("agent", string(draft.Agent)).Msg("compose reply failed, using draft")
		}
		return draft.Draft
	}
	return reply
}
