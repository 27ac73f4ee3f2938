package handoff

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"

	contractx "github.com/tanpawarit/Chative-Retention-Router/agent/contract"
)

type KafkaConfig struct {
	Brokers      []string
	Topic        string        `default:"support.handoff"`
	WriteTimeout time.Duration `split_words:"true" default:"5s"`
}

func (c KafkaConfig) Enabled() bool {
	for _, b := range c.Brokers {
		if strings.TrimSpace(b) != "" {
			return true
		}
	}
	return false
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes one message per event keyed by conversation id, so
// events of one conversation land on one partition in order.
type KafkaPublisher struct {
	writer messageWriter
}

var _ contractx.HandoffPublisher = (*KafkaPublisher)(nil)

func NewKafkaPublisher(cfg KafkaConfig) (*KafkaPublisher, error) {
	if !cfg.Enabled() {
		return nil, fmt.Errorf("%w: kafka brokers are empty", contractx.ErrValidation)
	}
	if strings.TrimSpace(cfg.Topic) == "" {
		return nil, fmt.Errorf("%w: kafka topic is empty", contractx.ErrValidation)
	}
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Topic:        cfg.Topic,
			Balancer:     &kafka.Hash{},
			WriteTimeout: cfg.WriteTimeout,
			RequiredAcks: kafka.RequireOne,
		},
	}, nil
}

func newKafkaPublisherWithWriter(w messageWriter) *KafkaPublisher {
	return &KafkaPublisher{writer: w}
}

func (p *KafkaPublisher) Publish(ctx context.Context, ev contractx.HandoffEvent) error {
	if err := validateEvent(ev); err != nil {
		return err
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal handoff event: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(ev.ConversationID),
		Value: data,
		Headers: []kafka.Header{
			{Key: "queue", Value: []byte(ev.Queue)},
		},
		Time: ev.OccurredAt,
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("%w: kafka write: %v", contractx.ErrExternalUnavailable, err)
	}

	log.Debug().
		Str("conversation_id", ev.ConversationID).
		Str("queue", string(ev.Queue)).
		Msg("handoff published to kafka")
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
