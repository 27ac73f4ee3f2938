package turnnode

import (
	"context"
	"errors"
	"fmt"

	contractx "github.com/tanpawarit/Chative-Retention-Router/agent/contract"
	statex "github.com/tanpawarit/Chative-Retention-Router/agent/state"
)

// LoadOrCreateState loads the conversation, flags a replayed message id and
// rejects turns on conversations that already reached a terminal role.
func LoadOrCreateState(ctx context.Context, in *TurnState, store statex.Store) (*TurnState, error) {
	if in == nil {
		return nil, fmt.Errorf("%w: turn state is nil", contractx.ErrValidation)
	}

	st, err := store.Load(ctx, in.ConversationID)
	switch {
	case err == nil:
	case errors.Is(err, statex.ErrStateNotFound):
		st = statex.NewConversationState(in.ConversationID, in.Now)
		in.Created = true
	default:
		return nil, err
	}

	in.Conversation = st
	in.Base = st.Clone()
	in.StartRole = st.ActiveRole

	if in.MessageID != "" && in.MessageID == st.LastMessageID {
		in.Replay = true
		return in, nil
	}
	if st.IsTerminal() {
		return nil, fmt.Errorf("%w: conversation=%s role=%s", contractx.ErrConversationClosed, st.ConversationID, st.ActiveRole)
	}
	return in, nil
}
