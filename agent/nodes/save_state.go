package turnnode

import (
	"context"
	"fmt"

	contractx "github.com/tanpawarit/Chative-Retention-Router/agent/contract"
	statex "github.com/tanpawarit/Chative-Retention-Router/agent/state"
)

// SaveState replaces the stored conversation with the committed one.
func SaveState(ctx context.Context, in *TurnState, store statex.Store) (*TurnState, error) {
	if in == nil || in.Conversation == nil {
		return nil, fmt.Errorf("%w: turn conversation is nil", contractx.ErrValidation)
	}

	st := in.Conversation
	st.TurnCount++
	st.Version++
	if !in.Retryable {
		st.LastMessageID = in.MessageID
		st.LastReply = in.Reply
	}
	st.Touch(in.Now)

	if err := st.Validate(); err != nil {
		return nil, fmt.Errorf("state validation failed: %w", err)
	}
	if err := store.Save(ctx, st); err != nil {
		return nil, err
	}
	return in, nil
}
