// ABOUTME: Streams every broadcast thread event to a Kafka topic for downstream consumers
// ABOUTME: Asynchronous writer keyed by thread ID so per-thread order survives partitioning

package sink

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/2389/tandem/internal/conversation"
)

// Record is the envelope written for each event.
type Record struct {
	ThreadID   string                 `json:"thread_id"`
	Type       conversation.EventType `json:"type"`
	Recipients int                    `json:"recipients"`
	EmittedAt  time.Time              `json:"emitted_at"`
	Event      conversation.Event     `json:"event"`
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink implements conversation.Observer by forwarding published
// events to Kafka. Writes are asynchronous; failures are logged and never
// reach the publishing session.
type KafkaSink struct {
	writer messageWriter
	now    func() time.Time
	logger *slog.Logger
}

// NewKafkaSink creates a sink writing to topic on brokers. Pass nil logger
// for default.
func NewKafkaSink(brokers []string, topic string, logger *slog.Logger) *KafkaSink {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "kafka_sink", "topic", topic)

	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		Async:        true,
		BatchTimeout: 50 * time.Millisecond,
		Completion: func(messages []kafka.Message, err error) {
			if err != nil {
				logger.Warn("failed to deliver events", "count", len(messages), "error", err)
			}
		},
	}
	return newKafkaSink(w, logger)
}

func newKafkaSink(w messageWriter, logger *slog.Logger) *KafkaSink {
	return &KafkaSink{writer: w, now: time.Now, logger: logger}
}

// EventPublished enqueues the event for delivery.
func (s *KafkaSink) EventPublished(threadID string, event conversation.Event, recipients int) {
	rec := Record{
		ThreadID:   threadID,
		Type:       event.Kind(),
		Recipients: recipients,
		EmittedAt:  s.now().UTC(),
		Event:      event,
	}
	value, err := json.Marshal(rec)
	if err != nil {
		s.logger.Error("failed to encode event", "thread_id", threadID, "type", rec.Type, "error", err)
		return
	}

	msg := kafka.Message{
		Key:   []byte(threadID),
		Value: value,
		Time:  rec.EmittedAt,
		Headers: []kafka.Header{
			{Key: "type", Value: []byte(rec.Type)},
		},
	}
	// Async writer: this only enqueues.
	if err := s.writer.WriteMessages(context.Background(), msg); err != nil {
		s.logger.Warn("failed to enqueue event", "thread_id", threadID, "type", rec.Type, "error", err)
	}
}

// SubscriberEvicted is not forwarded.
func (s *KafkaSink) SubscriberEvicted(threadID, sessionID string) {}

// Close flushes pending events and closes the writer.
func (s *KafkaSink) Close() error {
	return s.writer.Close()
}
