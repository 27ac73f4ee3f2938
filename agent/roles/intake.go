package roles

import (
	"context"
	"errors"
	"fmt"
	"strings"

	contractx "github.com/tanpawarit/Chative-Retention-Router/agent/contract"
	statex "github.com/tanpawarit/Chative-Retention-Router/agent/state"
)

const (
	technicalContact = "call 1-800-TECHFLOW (option 2) or email techsupport@techflow.com"
	billingContact   = "call 1-800-TECHFLOW (option 3) or email billing@techflow.com"
)

// Intake identifies the customer and classifies what they need.
type Intake struct {
	directory  contractx.Directory
	classifier contractx.Classifier
	responder  contractx.Responder
}

var _ contractx.Role = (*Intake)(nil)

func NewIntake(d Deps) (*Intake, error) {
	d = d.withDefaults()
	if d.Directory == nil {
		return nil, errors.New("customer directory is required")
	}
	if d.Classifier == nil {
		return nil, errors.New("classifier is required")
	}
	return &Intake{directory: d.Directory, classifier: d.Classifier, responder: d.Responder}, nil
}

func (r *Intake) Name() statex.Role { return statex.RoleIntake }

func (r *Intake) Handle(ctx context.Context, req contractx.RoleRequest) (contractx.RoleResult, error) {
	if req.State == nil {
		return contractx.RoleResult{}, statex.ErrNilConversation
	}
	st := req.State.Clone()

	if !st.CustomerResolved() {
		email := findEmail(req.Message)
		if email == "" {
			return r.reply(ctx, req, st, contractx.SignalUnidentified,
				"Welcome to TechFlow support! To look up your account, could you share the email address you signed up with?"), nil
		}

		rec, err := r.directory.Lookup(ctx, email)
		if errors.Is(err, contractx.ErrNotFound) {
			return r.reply(ctx, req, st, contractx.SignalUnidentified,
				fmt.Sprintf("I couldn't find an account for %s. Could you double-check the email address on your TechFlow account?", email)), nil
		}
		if err != nil {
			return contractx.RoleResult{}, err
		}
		st.Customer = &rec
	}

	intent, err := r.classifier.Classify(ctx, contractx.ClassifyRequest{
		Message:  stripEmail(req.Message),
		Customer: st.Customer,
	})
	if err != nil {
		return contractx.RoleResult{}, err
	}
	st.Intent = intent

	name := firstName(st.Customer.Name)
	var draft string
	switch intent {
	case statex.IntentCancellation:
		draft = fmt.Sprintf("Thanks, %s. I'm bringing in our retention specialist to look at your %s with you.", name, planLabel(st.Customer))
	case statex.IntentTechnical:
		draft = fmt.Sprintf("I'm sorry your %s is giving you trouble, %s. Our technical support team can fix this: %s. I've passed your conversation to them.",
			deviceLabel(st.Customer), name, technicalContact)
	case statex.IntentBilling:
		draft = fmt.Sprintf("Thanks, %s. Our billing team handles payment questions: %s. I've passed your conversation to them.", name, billingContact)
	default:
		draft = fmt.Sprintf("Thanks, %s, I've found your account. I can help with cancelling or changing your plan, device problems or billing questions. What can I do for you today?", name)
	}

	return r.reply(ctx, req, st, contractx.IntentSignal(intent), draft), nil
}

func (r *Intake) reply(ctx context.Context, req contractx.RoleRequest, st *statex.ConversationState, signal contractx.Signal, draft string) contractx.RoleResult {
	return contractx.RoleResult{
		Reply: compose(ctx, r.responder, contractx.ReplyDraft{
			Agent:    contractx.AgentTypeIntake,
			Message:  req.Message,
			Draft:    draft,
			Customer: st.Customer,
		}),
		Signal:   signal,
		Proposed: st,
	}
}

func stripEmail(message string) string {
	out := strings.TrimSpace(emailPattern.ReplaceAllString(message, ""))
	if out == "" {
		return message
	}
	return out
}

func planLabel(c *statex.CustomerRecord) string {
	if c == nil || strings.TrimSpace(c.PlanName) == "" {
		return "plan"
	}
	return c.PlanName + " plan"
}

func deviceLabel(c *statex.CustomerRecord) string {
	if c == nil || strings.TrimSpace(c.Device) == "" {
		return "device"
	}
	return c.Device
}
