package turnnode

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	contractx "github.com/tanpawarit/Chative-Retention-Router/agent/contract"
)

// PublishHandoff announces a conversation that entered a handoff queue during
// this turn. Publish failures become warnings; the turn is already committed.
func PublishHandoff(ctx context.Context, in *TurnState, publisher contractx.HandoffPublisher) (*TurnState, error) {
	if in == nil || in.Conversation == nil {
		return nil, fmt.Errorf("%w: turn conversation is nil", contractx.ErrValidation)
	}
	st := in.Conversation
	if publisher == nil || !st.ActiveRole.IsHandoff() || in.StartRole == st.ActiveRole {
		return in, nil
	}

	ev := contractx.HandoffEvent{
		ConversationID: st.ConversationID,
		Queue:          st.ActiveRole,
		Intent:         st.Intent,
		Reason:         in.HandoffReason,
		TurnCount:      st.TurnCount,
		OccurredAt:     in.Now,
	}
	if st.Customer != nil {
		ev.CustomerID = st.Customer.CustomerID
	}

	if err := publisher.Publish(ctx, ev); err != nil {
		log.Warn().Err(err).
			Str("conversation_id", st.ConversationID).
			Str("queue", string(st.ActiveRole)).
			Msg("handoff publish failed")
		in.Warn(fmt.Errorf("handoff publish: %w", err))
	}
	return in, nil
}
