package router

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	contractx "github.com/tanpawarit/Chative-Retention-Router/agent/contract"
	nodex "github.com/tanpawarit/Chative-Retention-Router/agent/nodes"
	statex "github.com/tanpawarit/Chative-Retention-Router/agent/state"
)

const (
	fallbackReply    = "Sorry, I didn't quite get that. Could you tell me a little more about what you need?"
	unavailableReply = "We're having trouble reaching one of our systems right now. Please try again in a few minutes."
	escalationReply  = "I'm bringing in a member of our support team who can help you directly. They'll pick up this conversation shortly."

	reasonAttemptCap = "attempt_cap_exceeded"
)

// runRoles steps the active role and keeps going while a committed
// transition hands the same message to another non-terminal role.
func (r *Router) runRoles(ctx context.Context, ts *nodex.TurnState) (*nodex.TurnState, error) {
	if ts == nil || ts.Conversation == nil {
		return nil, fmt.Errorf("%w: turn conversation is nil", contractx.ErrValidation)
	}

	for hop := 0; hop < r.cfg.MaxHops; hop++ {
		from := ts.Conversation.ActiveRole
		if err := r.step(ctx, ts); err != nil {
			return nil, err
		}
		to := ts.Conversation.ActiveRole
		if to == from || to.IsTerminal() {
			break
		}
	}

	ts.Reply = strings.Join(ts.Replies, "\n\n")
	return ts, nil
}

func (r *Router) step(ctx context.Context, ts *nodex.TurnState) error {
	current := ts.Conversation
	from := current.ActiveRole

	logger := log.With().
		Str("conversation_id", current.ConversationID).
		Str("role", string(from)).
		Logger()

	role, ok := r.roles[from]
	if !ok {
		return fmt.Errorf("%w: no handler for role %s", contractx.ErrIllegalTransition, from)
	}

	res, err := r.invoke(ctx, role, current, ts)
	if err != nil {
		if ctx.Err() != nil {
			return err
		}
		reply := fallbackReply
		if errors.Is(err, contractx.ErrExternalUnavailable) {
			reply = unavailableReply
			r.metrics.ExternalFailure(string(from))
		}
		logger.Error().Err(err).Msg("role step failed")
		ts.Warn(err)
		ts.Retryable = true
		r.commit(ts, logger, contractx.SignalError, from, current.Clone(), reply)
		return nil
	}
	ts.Warn(res.Warning)

	signal := res.Signal
	if signal == "" {
		signal = contractx.SignalAmbiguous
		ts.Warn(fmt.Errorf("%w: %s returned no signal", contractx.ErrAmbiguousSignal, from))
	}

	to, ok := nextRole(from, signal)
	if !ok {
		r.reject(ts, logger, signal, "no_transition",
			fmt.Errorf("%w: %s has no transition for %s", contractx.ErrIllegalTransition, from, signal))
		return nil
	}

	proposed := res.Proposed
	if signal == contractx.SignalAmbiguous {
		proposed = current.Clone()
	}
	switch {
	case proposed == nil:
		r.reject(ts, logger, signal, "missing_proposal",
			fmt.Errorf("%w: %s returned no state", contractx.ErrIllegalTransition, from))
		return nil
	case proposed.ActiveRole != from:
		r.reject(ts, logger, signal, "role_set_by_role",
			fmt.Errorf("%w: %s set active role to %s", contractx.ErrIllegalTransition, from, proposed.ActiveRole))
		return nil
	}
	next := proposed.Clone()
	next.ActiveRole = to
	if err := current.CheckProposal(next); err != nil {
		r.reject(ts, logger, signal, "invariant",
			fmt.Errorf("%w: %s: %w", contractx.ErrIllegalTransition, from, err))
		return nil
	}

	if err := checkAction(current, next, res.Action); err != nil {
		r.reject(ts, logger, signal, "action", err)
		return nil
	}

	r.commit(ts, logger, signal, from, next, res.Reply)
	if res.Action != nil && next.ActiveRole != statex.RoleHumanHandoff {
		entry := *res.Action
		ts.Action = &entry
	}
	return nil
}

// checkAction ties a returned action to the committed-action flag: one
// cannot appear without the other, and the action must be for the
// conversation's customer.
func checkAction(current, next *statex.ConversationState, action *contractx.ActionEntry) error {
	newlyCommitted := next.ActionCommitted && !current.ActionCommitted
	switch {
	case action == nil && newlyCommitted:
		return fmt.Errorf("%w: action committed without an action entry", contractx.ErrIllegalTransition)
	case action == nil:
		return nil
	case !newlyCommitted:
		return fmt.Errorf("%w: action entry without a newly committed action", contractx.ErrIllegalTransition)
	case next.Customer == nil || action.CustomerID != next.Customer.CustomerID:
		return fmt.Errorf("%w: action entry for another customer", contractx.ErrIllegalTransition)
	case action.Action != next.PendingAction || next.Customer.Status != action.Action.ResultingStatus():
		return fmt.Errorf("%w: action entry does not match the proposal", contractx.ErrIllegalTransition)
	}
	return nil
}

// invoke runs one role step, retrying only external collaborator failures.
// Every attempt gets a fresh copy of the committed state.
func (r *Router) invoke(
	ctx context.Context,
	role contractx.Role,
	current *statex.ConversationState,
	ts *nodex.TurnState,
) (contractx.RoleResult, error) {
	var (
		res     contractx.RoleResult
		attempt int
	)
	err := r.retry(ctx, func() error {
		attempt++
		out, err := role.Handle(ctx, contractx.RoleRequest{
			State:   current.Clone(),
			Message: ts.Text,
			Now:     ts.Now,
		})
		if err != nil {
			log.Debug().Err(err).
				Str("conversation_id", current.ConversationID).
				Str("role", string(current.ActiveRole)).
				Int("attempt", attempt).
				Msg("role step failed")
			return err
		}
		res = out
		return nil
	})
	if err != nil {
		return contractx.RoleResult{}, err
	}
	return res, nil
}

// retry runs op until it succeeds, returns an error other than
// ErrExternalUnavailable, or the retry budget is spent.
func (r *Router) retry(ctx context.Context, op func() error) error {
	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(r.cfg.RetryDelay), uint64(r.cfg.MaxRetries)),
		ctx,
	)
	return backoff.Retry(func() error {
		err := op()
		if err != nil && !errors.Is(err, contractx.ErrExternalUnavailable) {
			return backoff.Permanent(err)
		}
		return err
	}, policy)
}

// commit makes next the conversation of record, applying the attempt
// counter and the escalation cap.
func (r *Router) commit(
	ts *nodex.TurnState,
	logger zerolog.Logger,
	signal contractx.Signal,
	from statex.Role,
	next *statex.ConversationState,
	reply string,
) {
	prev := ts.Conversation
	newlyResolved := next.CustomerResolved() && !prev.CustomerResolved()

	switch {
	case next.ActiveRole != from:
		next.Attempts = 0
	case (countsAsAttempt(signal) || reasked(signal, prev)) && !newlyResolved:
		next.Attempts = prev.Attempts + 1
	default:
		next.Attempts = 0
	}

	if strings.TrimSpace(reply) == "" {
		reply = fallbackReply
	}

	r.metrics.Step(string(from), string(signal))

	if next.Attempts >= r.cfg.AttemptCap {
		next.ActiveRole = statex.RoleHumanHandoff
		reply = escalationReply
		ts.HandoffReason = reasonAttemptCap
		ts.Warn(fmt.Errorf("%w: role=%s attempts=%d", contractx.ErrAttemptCapExceeded, from, next.Attempts))
		r.metrics.Escalated()
		logger.Warn().
			Str("signal", string(signal)).
			Int("attempts", next.Attempts).
			Msg("attempt cap reached, escalating to human handoff")
	} else if next.ActiveRole.IsHandoff() {
		ts.HandoffReason = string(signal)
	}

	r.metrics.Transition(string(from), string(next.ActiveRole))
	logger.Info().
		Str("signal", string(signal)).
		Str("next_role", string(next.ActiveRole)).
		Int("attempts", next.Attempts).
		Msg("role step committed")

	ts.Conversation = next
	ts.Replies = append(ts.Replies, reply)
}

// reject discards a proposal; the committed state stays as it was.
func (r *Router) reject(
	ts *nodex.TurnState,
	logger zerolog.Logger,
	signal contractx.Signal,
	cause string,
	err error,
) {
	r.metrics.Reject(string(ts.Conversation.ActiveRole), cause)
	logger.Warn().Err(err).
		Str("signal", string(signal)).
		Str("cause", cause).
		Msg("role proposal rejected")
	ts.Warn(err)
	ts.Replies = append(ts.Replies, fallbackReply)
}

// applyAction writes a confirmed action to the directory and the action log
// before the turn is saved. If the status write fails the whole turn is
// rolled back to the loaded state and left retryable.
func (r *Router) applyAction(ctx context.Context, ts *nodex.TurnState) (*nodex.TurnState, error) {
	if ts == nil || ts.Conversation == nil {
		return nil, fmt.Errorf("%w: turn conversation is nil", contractx.ErrValidation)
	}
	if ts.Action == nil {
		return ts, nil
	}
	if r.status == nil {
		return nil, fmt.Errorf("%w: no status updater for action %s", contractx.ErrValidation, ts.Action.Action)
	}

	entry := *ts.Action
	logger := log.With().
		Str("conversation_id", ts.ConversationID).
		Str("customer_id", entry.CustomerID).
		Str("action", string(entry.Action)).
		Str("action_id", entry.ID).
		Logger()

	err := r.retry(ctx, func() error {
		return r.status.UpdateStatus(ctx, entry.CustomerID, entry.Action.ResultingStatus())
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		reply := fallbackReply
		if errors.Is(err, contractx.ErrExternalUnavailable) {
			reply = unavailableReply
			r.metrics.ExternalFailure(string(statex.RoleProcessor))
		}
		logger.Error().Err(err).Msg("status update failed, rolling back turn")
		ts.Warn(fmt.Errorf("apply action: %w", err))
		ts.Conversation = ts.Base.Clone()
		ts.Action = nil
		ts.HandoffReason = ""
		ts.Retryable = true
		ts.Replies = []string{reply}
		ts.Reply = reply
		return ts, nil
	}

	if err := r.retry(ctx, func() error { return r.actions.Append(ctx, entry) }); err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		logger.Warn().Err(err).Msg("action log append failed")
		ts.Warn(fmt.Errorf("action log: %w", err))
	}
	logger.Info().Msg("action applied")
	return ts, nil
}
