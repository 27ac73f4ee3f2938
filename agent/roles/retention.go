package roles

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	contractx "github.com/tanpawarit/Chative-Retention-Router/agent/contract"
	"github.com/tanpawarit/Chative-Retention-Router/agent/retention"
	statex "github.com/tanpawarit/Chative-Retention-Router/agent/state"
)

// Retention tries to keep a cancelling customer with rule-table offers.
type Retention struct {
	classifier contractx.Classifier
	rules      contractx.RuleTable
	reasons    contractx.ReasonDetector
	policies   contractx.PolicyRetriever
	responder  contractx.Responder
	maxOffers  int
}

var _ contractx.Role = (*Retention)(nil)

func NewRetention(d Deps) (*Retention, error) {
	d = d.withDefaults()
	if d.Rules == nil {
		return nil, errors.New("retention rule table is required")
	}
	if d.Classifier == nil {
		return nil, errors.New("classifier is required")
	}
	return &Retention{
		classifier: d.Classifier,
		rules:      d.Rules,
		reasons:    d.Reasons,
		policies:   d.Policies,
		responder:  d.Responder,
		maxOffers:  d.MaxOffers,
	}, nil
}

func (r *Retention) Name() statex.Role { return statex.RoleRetention }

func (r *Retention) Handle(ctx context.Context, req contractx.RoleRequest) (contractx.RoleResult, error) {
	if err := requireResolved(req.State, statex.RoleRetention); err != nil {
		return contractx.RoleResult{}, err
	}
	st := req.State.Clone()
	n := normalize(req.Message)
	firstEntry := len(st.OffersPresented) == 0 && st.CancellationReason == ""

	if !firstEntry {
		intent, err := r.classifier.Classify(ctx, contractx.ClassifyRequest{
			Message:  req.Message,
			Customer: st.Customer,
			Context:  "customer is talking to the retention team about cancelling",
		})
		if err != nil {
			log.Warn().Err(err).Str("conversation_id", st.ConversationID).Msg("retention intent check failed")
		} else if intent == statex.IntentTechnical || (intent == statex.IntentBilling && !r.costComplaint(st, req.Message)) {
			st.Intent = intent
			draft := "Let me get the right team for that."
			return r.result(ctx, req, st, contractx.SignalNewIntent, draft, nil, nil), nil
		}
	}

	if st.CancellationReason == "" {
		st.CancellationReason = r.reasons.DetectReason(req.Message)
	}

	offers := r.rules.OffersFor(st.Customer.Tier, st.CancellationReason)
	if len(offers) > r.maxOffers {
		offers = offers[:r.maxOffers]
	}
	var next *statex.RetentionOffer
	for i := range offers {
		if !st.HasPresented(offers[i]) {
			next = &offers[i]
			break
		}
	}

	var outstanding *statex.RetentionOffer
	if len(st.OffersPresented) > 0 {
		o := st.OffersPresented[len(st.OffersPresented)-1]
		outstanding = &o
	}

	if outstanding != nil && isAcceptance(n) {
		st.AcceptedOffer = outstanding
		draft := fmt.Sprintf("Wonderful, %s! I've noted that you'd like to take %s. You'll see it reflected on your account, and your coverage continues without interruption. Thank you for staying with TechFlow!",
			firstName(st.Customer.Name), lowerFirst(outstanding.Description))
		return r.result(ctx, req, st, contractx.SignalOfferAccepted, draft, outstanding, nil), nil
	}

	if next == nil {
		if len(offers) == 0 || firstEntry || isInsistOrReject(n) {
			draft := "I understand, and I respect your decision. Let me take care of that for you."
			return r.result(ctx, req, st, contractx.SignalOffersExhausted, draft, nil, nil), nil
		}
		draft := "I want to make sure I get this right. Would you like to keep your plan with the offer we discussed, or should I go ahead with your cancellation?"
		return r.result(ctx, req, st, contractx.SignalAmbiguous, draft, nil, nil), nil
	}

	st.PresentOffer(*next)
	passages, warn := r.lookupPolicies(ctx, req.Message, st.CancellationReason)

	var b strings.Builder
	if firstEntry {
		fmt.Fprintf(&b, "I completely understand, %s, and I appreciate you giving us a chance to help. ", firstName(st.Customer.Name))
	} else {
		b.WriteString("I hear you. Let me see what else I can do. ")
	}
	fmt.Fprintf(&b, "As a %s member you qualify for %s. Would that work for you?", st.Customer.Tier, lowerFirst(next.Description))
	if note := policyNote(passages); note != "" {
		b.WriteString(" ")
		b.WriteString(note)
	}

	return r.result(ctx, req, st, contractx.SignalOfferPresented, b.String(), next, passages, warn), nil
}

// costComplaint reports a billing-worded message that restates the cost
// reason the customer is already cancelling over.
func (r *Retention) costComplaint(st *statex.ConversationState, message string) bool {
	return st.CancellationReason == retention.ReasonCost &&
		r.reasons.DetectReason(message) == retention.ReasonCost
}

func (r *Retention) lookupPolicies(ctx context.Context, message, reason string) ([]contractx.Passage, error) {
	if r.policies == nil {
		return nil, nil
	}
	passages, err := r.policies.Retrieve(ctx, strings.TrimSpace(message+" "+reason), policyTopK)
	if err != nil {
		return nil, fmt.Errorf("policy lookup: %w", err)
	}
	return passages, nil
}

func (r *Retention) result(
	ctx context.Context,
	req contractx.RoleRequest,
	st *statex.ConversationState,
	signal contractx.Signal,
	draft string,
	offer *statex.RetentionOffer,
	passages []contractx.Passage,
	warnings ...error,
) contractx.RoleResult {
	return contractx.RoleResult{
		Reply: compose(ctx, r.responder, contractx.ReplyDraft{
			Agent:    contractx.AgentTypeRetention,
			Message:  req.Message,
			Draft:    draft,
			Customer: st.Customer,
			Offer:    offer,
			Policies: passages,
		}),
		Signal:   signal,
		Proposed: st,
		Warning:  errors.Join(warnings...),
	}
}

// policyNote quotes the first sentence of the best passage.
func policyNote(passages []contractx.Passage) string {
	if len(passages) == 0 {
		return ""
	}
	text := strings.TrimSpace(passages[0].Content)
	if i := strings.Index(text, "\n"); i >= 0 && strings.HasPrefix(text, "## ") {
		text = strings.TrimSpace(text[i+1:])
	}
	text = strings.Join(strings.Fields(text), " ")
	if i := strings.Index(text, ". "); i >= 0 {
		text = text[:i+1]
	}
	if text == "" {
		return ""
	}
	return "Good to know: " + text
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	if len(s) > 1 && s[1] >= 'A' && s[1] <= 'Z' {
		return s
	}
	return strings.ToLower(s[:1]) + s[1:]
}
