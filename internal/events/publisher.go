package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

// StateChanged is emitted whenever a payment or order changes state.
type StateChanged struct {
	Entity        string    `json:"entity"`
	ID            uint      `json:"id"`
	OrderID       uint      `json:"order_id"`
	TransactionID string    `json:"transaction_id,omitempty"`
	PreviousState string    `json:"previous_state"`
	State         string    `json:"state"`
	Amount        string    `json:"amount,omitempty"`
	Currency      string    `json:"currency,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

type Publisher interface {
	Publish(ctx context.Context, ev StateChanged) error
}

// MessageWriter is satisfied by *kafka.Writer.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

type KafkaPublisher struct {
	writer MessageWriter
}

func NewKafkaPublisher(w MessageWriter) *KafkaPublisher {
	return &KafkaPublisher{writer: w}
}

// NewKafkaWriter builds the writer used in production.
func NewKafkaWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
	}
}

// Publish keys messages by transaction so events of one transaction stay ordered.
func (p *KafkaPublisher) Publish(ctx context.Context, ev StateChanged) error {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}

	value, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal state event: %w", err)
	}

	key := ev.TransactionID
	if key == "" {
		key = fmt.Sprintf("%s-%d", ev.Entity, ev.ID)
	}

	if err := p.writer.WriteMessages(ctx, kafka.Message{Key: []byte(key), Value: value}); err != nil {
		return fmt.Errorf("publish state event: %w", err)
	}
	return nil
}

// Nop drops every event. Used when no broker is configured.
type Nop struct{}

func (Nop) Publish(context.Context, StateChanged) error { return nil }
