package roles

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	contractx "github.com/tanpawarit/Chative-Retention-Router/agent/contract"
	statex "github.com/tanpawarit/Chative-Retention-Router/agent/state"
)

// Processor settles the final cancel, pause or downgrade. It only proposes
// the change; the router applies the returned action.
type Processor struct {
	responder contractx.Responder
}

var _ contractx.Role = (*Processor)(nil)

func NewProcessor(d Deps) (*Processor, error) {
	d = d.withDefaults()
	return &Processor{responder: d.Responder}, nil
}

func (r *Processor) Name() statex.Role { return statex.RoleProcessor }

func (r *Processor) Handle(ctx context.Context, req contractx.RoleRequest) (contractx.RoleResult, error) {
	if err := requireResolved(req.State, statex.RoleProcessor); err != nil {
		return contractx.RoleResult{}, err
	}
	st := req.State.Clone()
	n := normalize(req.Message)

	if st.ActionCommitted {
		return contractx.RoleResult{}, fmt.Errorf("%w: action already committed", contractx.ErrConversationClosed)
	}

	if st.PendingAction == "" {
		st.PendingAction = requestedAction(n, statex.ActionCancel)
		return r.ask(ctx, req, st), nil
	}

	if switched := requestedAction(n, st.PendingAction); switched != st.PendingAction {
		st.PendingAction = switched
		return r.ask(ctx, req, st), nil
	}

	if !isAffirmative(n) {
		draft := fmt.Sprintf("No problem, nothing has been changed yet. Reply \"yes\" to confirm you'd like to %s your %s, or tell me if you'd rather keep it.",
			st.PendingAction, planLabel(st.Customer))
		return r.result(ctx, req, st, contractx.SignalWithheld, draft), nil
	}

	action := st.PendingAction
	entry := &contractx.ActionEntry{
		ID:         actionID(st, action),
		CustomerID: st.Customer.CustomerID,
		Action:     action,
		Reason:     st.CancellationReason,
		Timestamp:  req.Now.UTC(),
	}
	st.ConfirmationRecorded = true
	st.ActionCommitted = true
	st.Customer.Status = action.ResultingStatus()

	res := r.result(ctx, req, st, contractx.SignalConfirmed, confirmationText(action, st.Customer))
	res.Action = entry
	return res, nil
}

// actionID is stable for a given conversation version, so confirming the
// same stored state twice yields the same entry.
func actionID(st *statex.ConversationState, action statex.PendingAction) string {
	name := fmt.Sprintf("%s/%d/%s", st.ConversationID, st.Version, action)
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(name)).String()
}

func (r *Processor) ask(ctx context.Context, req contractx.RoleRequest, st *statex.ConversationState) contractx.RoleResult {
	var draft string
	switch st.PendingAction {
	case statex.ActionPause:
		draft = fmt.Sprintf("Just to confirm, you'd like to pause your %s? You won't be charged while it's paused. Please reply \"yes\" to confirm.", planLabel(st.Customer))
	case statex.ActionDowngrade:
		draft = fmt.Sprintf("Just to confirm, you'd like to downgrade your %s to a lower-cost plan starting next billing cycle? Please reply \"yes\" to confirm.", planLabel(st.Customer))
	default:
		draft = fmt.Sprintf("Just to confirm, you'd like to cancel your %s? Your coverage stays active until the end of the current billing cycle. Please reply \"yes\" to confirm.", planLabel(st.Customer))
	}
	return r.result(ctx, req, st, contractx.SignalConfirmationRequested, draft)
}

func (r *Processor) result(ctx context.Context, req contractx.RoleRequest, st *statex.ConversationState, signal contractx.Signal, draft string) contractx.RoleResult {
	return contractx.RoleResult{
		Reply: compose(ctx, r.responder, contractx.ReplyDraft{
			Agent:    contractx.AgentTypeProcessor,
			Message:  req.Message,
			Draft:    draft,
			Customer: st.Customer,
		}),
		Signal:   signal,
		Proposed: st,
	}
}

// requestedAction returns the action the message explicitly names, or
// current when it names none.
func requestedAction(n string, current statex.PendingAction) statex.PendingAction {
	switch {
	case containsAny(n, pausePhrases...):
		return statex.ActionPause
	case containsAny(n, downgradePhrases...):
		return statex.ActionDowngrade
	case current != statex.ActionCancel && containsAny(n, cancelPhrases...):
		return statex.ActionCancel
	default:
		return current
	}
}

func confirmationText(action statex.PendingAction, c *statex.CustomerRecord) string {
	name := firstName(c.Name)
	plan := planLabel(c)
	switch action {
	case statex.ActionPause:
		return fmt.Sprintf("Your account has been paused, %s. Your %s coverage is on hold and you won't be charged during the pause. Your benefits resume automatically at the end, and you can resume early any time by contacting us.", name, plan)
	case statex.ActionDowngrade:
		return fmt.Sprintf("Your plan has been downgraded, %s. The new rate takes effect next billing cycle and your current coverage continues until the changeover. Thank you for staying with TechFlow!", name)
	default:
		return fmt.Sprintf("Your cancellation has been processed, %s. Your %s stays active until the end of the current billing cycle and you won't be charged going forward. You can reactivate any time within 30 days. We're sorry to see you go, and you're always welcome back.", name, plan)
	}
}
