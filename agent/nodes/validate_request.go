package turnnode

import (
	"errors"
	"fmt"
	"strings"
	"time"

	contractx "github.com/tanpawarit/Chative-Retention-Router/agent/contract"
	statex "github.com/tanpawarit/Chative-Retention-Router/agent/state"
)

var (
	ErrInvalidMessage      = errors.New("message is empty")
	ErrInvalidConversation = errors.New("conversation id is empty")
)

type GraphInput struct {
	ConversationID string
	MessageID      string
	Text           string
}

type GraphOutput struct {
	ConversationID string
	Reply          string
	Role           statex.Role
	Replayed       bool
	Warnings       []error
}

// TurnState is threaded through every node of one turn.
type TurnState struct {
	ConversationID string
	MessageID      string
	Text           string
	Now            time.Time

	Conversation *statex.ConversationState
	// Base is the conversation as loaded, before any role step.
	Base      *statex.ConversationState
	StartRole statex.Role
	Created   bool
	Replay    bool
	// Retryable turns are saved without their message id so a retry of the
	// same message runs again instead of replaying.
	Retryable bool

	Action        *contractx.ActionEntry
	Replies       []string
	Reply         string
	HandoffReason string
	Warnings      []error
}

func (t *TurnState) Warn(err error) {
	if err != nil {
		t.Warnings = append(t.Warnings, err)
	}
}

func ValidateRequest(in GraphInput, nowFn func() time.Time) (*TurnState, error) {
	conversationID := strings.TrimSpace(in.ConversationID)
	if conversationID == "" {
		return nil, fmt.Errorf("%w: %w", contractx.ErrValidation, ErrInvalidConversation)
	}

	text := strings.TrimSpace(in.Text)
	if text == "" {
		return nil, fmt.Errorf("%w: %w", contractx.ErrValidation, ErrInvalidMessage)
	}

	return &TurnState{
		ConversationID: conversationID,
		MessageID:      strings.TrimSpace(in.MessageID),
		Text:           text,
		Now:            nowFn().UTC(),
	}, nil
}
