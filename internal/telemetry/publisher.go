package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

// Publisher forwards accepted batches to downstream consumers.
type Publisher interface {
	Publish(ctx context.Context, batch *Batch, receivedAt time.Time) error
	Close() error
}

// NopPublisher discards every batch. It is used when no broker is configured.
type NopPublisher struct{}

// Publish implements Publisher.
func (NopPublisher) Publish(context.Context, *Batch, time.Time) error { return nil }

// Close implements Publisher.
func (NopPublisher) Close() error { return nil }

// Envelope is the Kafka message value: one agent event with its batch context.
type Envelope struct {
	ServerID   string    `json:"server_id"`
	SentAt     string    `json:"sent_at"`
	ReceivedAt time.Time `json:"received_at"`
	Event      Event     `json:"event"`
}

// messageWriter is the subset of *kafka.Writer the publisher uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher mirrors accepted events to a Kafka topic, one message per
// event keyed by server ID so each agent's events stay ordered within a partition.
type KafkaPublisher struct {
	writer       messageWriter
	topic        string
	writeTimeout time.Duration
}

// NewKafkaPublisher creates a publisher writing to topic on brokers.
// Returns an error if brokers or topic are empty.
func NewKafkaPublisher(brokers []string, topic string) (*KafkaPublisher, error) {
	if len(brokers) == 0 || topic == "" {
		return nil, fmt.Errorf("kafka publisher needs brokers and a topic")
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 50 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
	}
	return &KafkaPublisher{writer: writer, topic: topic, writeTimeout: 5 * time.Second}, nil
}

// Publish writes every event of batch. A slow broker is bounded by the
// publisher's write timeout.
func (p *KafkaPublisher) Publish(ctx context.Context, batch *Batch, receivedAt time.Time) error {
	if p == nil || p.writer == nil || batch == nil || len(batch.Events) == 0 {
		return nil
	}

	messages := make([]kafka.Message, 0, len(batch.Events))
	for _, ev := range batch.Events {
		payload, err := json.Marshal(Envelope{
			ServerID:   batch.ServerID,
			SentAt:     batch.SentAt,
			ReceivedAt: receivedAt,
			Event:      ev,
		})
		if err != nil {
			return fmt.Errorf("failed to encode event: %w", err)
		}
		messages = append(messages, kafka.Message{
			Key:   []byte(batch.ServerID),
			Value: payload,
			Time:  receivedAt,
		})
	}

	writeCtx, cancel := context.WithTimeout(ctx, p.writeTimeout)
	defer cancel()

	if err := p.writer.WriteMessages(writeCtx, messages...); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", p.topic, err)
	}
	return nil
}

// Close flushes and closes the Kafka writer. Safe to call on a nil publisher.
func (p *KafkaPublisher) Close() error {
	if p == nil || p.writer == nil {
		return nil
	}
	return p.writer.Close()
}
