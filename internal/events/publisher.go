package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/safar/dental-lab-orders/internal/lifecycle"
	"github.com/segmentio/kafka-go"
	log "github.com/sirupsen/logrus"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher streams lifecycle events to a Kafka topic. Messages are keyed by
// order code so every event of one order lands on the same partition.
type Publisher struct {
	writer messageWriter
	topic  string
}

func NewPublisher(brokers []string, topic string) *Publisher {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: 10 * time.Millisecond,
	}
	return &Publisher{writer: writer, topic: topic}
}

func (p *Publisher) Publish(ctx context.Context, event lifecycle.Event) error {
	msgBytes, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event %s: %w", event.ID, err)
	}

	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(event.OrderCode),
		Value: msgBytes,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(event.Type)},
			{Key: "event_id", Value: []byte(event.ID.String())},
		},
		Time: event.OccurredAt,
	})
	if err != nil {
		return fmt.Errorf("write event %s to %s: %w", event.ID, p.topic, err)
	}

	log.WithFields(log.Fields{
		"topic":      p.topic,
		"event_type": event.Type,
		"order_code": event.OrderCode,
	}).Debug("published lifecycle event")
	return nil
}

func (p *Publisher) Close() error {
	return p.writer.Close()
}

var _ lifecycle.EventPublisher = (*Publisher)(nil)
