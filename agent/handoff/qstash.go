package handoff

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	contractx "github.com/tanpawarit/Chative-Retention-Router/agent/contract"
	qstashx "github.com/tanpawarit/Chative-Retention-Router/pkg/qstash"
)

type QStashPublisher struct {
	client      *qstashx.Client
	destination string
}

var _ contractx.HandoffPublisher = (*QStashPublisher)(nil)

func NewQStashPublisher(client *qstashx.Client, destination string) (*QStashPublisher, error) {
	if client == nil {
		return nil, fmt.Errorf("%w: qstash client is nil", contractx.ErrValidation)
	}
	destination = strings.TrimSpace(destination)
	if destination == "" {
		return nil, fmt.Errorf("%w: qstash destination is empty", contractx.ErrValidation)
	}
	return &QStashPublisher{client: client, destination: destination}, nil
}

func (p *QStashPublisher) Publish(ctx context.Context, ev contractx.HandoffEvent) error {
	if err := validateEvent(ev); err != nil {
		return err
	}
	resp, err := p.client.Publish(ctx, p.destination, ev, map[string]string{
		"X-Handoff-Queue": string(ev.Queue),
	})
	if err != nil {
		return fmt.Errorf("%w: qstash publish: %v", contractx.ErrExternalUnavailable, err)
	}
	log.Debug().
		Str("conversation_id", ev.ConversationID).
		Str("queue", string(ev.Queue)).
		Str("message_id", resp.MessageID).
		Msg("handoff published to qstash")
	return nil
}
