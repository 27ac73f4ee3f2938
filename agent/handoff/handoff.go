package handoff

import (
	"context"
	"fmt"
	"strings"

	contractx "github.com/tanpawarit/Chative-Retention-Router/agent/contract"
)

// Noop drops events. It is the default when no queue is configured.
type Noop struct{}

var _ contractx.HandoffPublisher = Noop{}

func (Noop) Publish(context.Context, contractx.HandoffEvent) error { return nil }

func validateEvent(ev contractx.HandoffEvent) error {
	if strings.TrimSpace(ev.ConversationID) == "" {
		return fmt.Errorf("%w: handoff conversation id is empty", contractx.ErrValidation)
	}
	if !ev.Queue.IsHandoff() {
		return fmt.Errorf("%w: %q is not a handoff queue", contractx.ErrValidation, ev.Queue)
	}
	return nil
}
