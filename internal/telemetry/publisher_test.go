package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingWriter struct {
	messages []kafka.Message
	err      error
	closed   bool
}

func (w *recordingWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.messages = append(w.messages, msgs...)
	return nil
}

func (w *recordingWriter) Close() error {
	w.closed = true
	return nil
}

func TestNewKafkaPublisher(t *testing.T) {
	t.Run("should require brokers and topic", func(t *testing.T) {
		_, err := NewKafkaPublisher(nil, "ovpn-telemetry")
		assert.Error(t, err)

		_, err = NewKafkaPublisher([]string{"localhost:9092"}, "")
		assert.Error(t, err)
	})

	t.Run("should build a writer for the topic", func(t *testing.T) {
		p, err := NewKafkaPublisher([]string{"localhost:9092"}, "ovpn-telemetry")
		require.NoError(t, err)
		assert.Equal(t, "ovpn-telemetry", p.topic)
		assert.NoError(t, p.Close())
	})
}

func TestKafkaPublisher_Publish(t *testing.T) {
	receivedAt := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	batch := &Batch{
		ServerID: "vpn-1",
		SentAt:   "2025-01-01T11:59:59Z",
		Events: []Event{
			{EventID: "a", Type: EventUsersUpdate, Action: ActionAdded},
			{EventID: "b", Type: EventSessionConnected, CommonName: "bob"},
		},
	}

	t.Run("should write one keyed message per event", func(t *testing.T) {
		writer := &recordingWriter{}
		p := &KafkaPublisher{writer: writer, topic: "t", writeTimeout: time.Second}

		require.NoError(t, p.Publish(context.Background(), batch, receivedAt))
		require.Len(t, writer.messages, 2)

		msg := writer.messages[1]
		assert.Equal(t, []byte("vpn-1"), msg.Key)

		var envelope Envelope
		require.NoError(t, json.Unmarshal(msg.Value, &envelope))
		assert.Equal(t, "vpn-1", envelope.ServerID)
		assert.Equal(t, "b", envelope.Event.EventID)
		assert.True(t, receivedAt.Equal(envelope.ReceivedAt))
	})

	t.Run("should skip empty batches", func(t *testing.T) {
		writer := &recordingWriter{}
		p := &KafkaPublisher{writer: writer, topic: "t", writeTimeout: time.Second}

		require.NoError(t, p.Publish(context.Background(), &Batch{ServerID: "vpn-1"}, receivedAt))
		assert.Empty(t, writer.messages)
	})

	t.Run("should wrap writer errors", func(t *testing.T) {
		writer := &recordingWriter{err: errors.New("broker down")}
		p := &KafkaPublisher{writer: writer, topic: "t", writeTimeout: time.Second}

		err := p.Publish(context.Background(), batch, receivedAt)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "broker down")
	})

	t.Run("should be safe on a nil publisher", func(t *testing.T) {
		var p *KafkaPublisher
		assert.NoError(t, p.Publish(context.Background(), batch, receivedAt))
		assert.NoError(t, p.Close())
	})

	t.Run("should close the writer", func(t *testing.T) {
		writer := &recordingWriter{}
		p := &KafkaPublisher{writer: writer, topic: "t", writeTimeout: time.Second}
		require.NoError(t, p.Close())
		assert.True(t, writer.closed)
	})
}

func TestNopPublisher(t *testing.T) {
	var p Publisher = NopPublisher{}
	assert.NoError(t, p.Publish(context.Background(), &Batch{}, time.Now()))
	assert.NoError(t, p.Close())
}
