package signals

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"example.com/wellness/internal/domain"
)

// EventTypeRegeneration tags outgoing regeneration signals.
const EventTypeRegeneration = "plan.regeneration_suggested"

// KafkaProducer lazily manages writers per topic.
type KafkaProducer struct {
	brokers []string
	mu      sync.Mutex
	writers map[string]*kafka.Writer
}

// NewKafkaProducer creates a KafkaProducer.
func NewKafkaProducer(brokers []string) *KafkaProducer {
	return &KafkaProducer{
		brokers: brokers,
		writers: make(map[string]*kafka.Writer),
	}
}

// WriteMessages writes messages to the given topic, creating a writer if necessary.
func (p *KafkaProducer) WriteMessages(ctx context.Context, topic string, msgs ...kafka.Message) error {
	writer := p.writerForTopic(topic)
	return writer.WriteMessages(ctx, msgs...)
}

func (p *KafkaProducer) writerForTopic(topic string) *kafka.Writer {
	p.mu.Lock()
	defer p.mu.Unlock()

	if writer, ok := p.writers[topic]; ok {
		return writer
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(p.brokers...),
		Topic:        topic,
		RequiredAcks: kafka.RequireAll,
		Compression:  kafka.Snappy,
		Async:        false,
	}
	p.writers[topic] = writer
	return writer
}

// Close releases all writers.
func (p *KafkaProducer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var firstErr error
	for topic, writer := range p.writers {
		if err := writer.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(p.writers, topic)
	}
	return firstErr
}

// Writer is the subset of KafkaProducer the publisher depends on.
type Writer interface {
	WriteMessages(ctx context.Context, topic string, msgs ...kafka.Message) error
}

// Publisher emits RegenerationSuggested signals onto the plan signals topic.
// Messages are keyed by user so a consumer sees each user's signals in order.
type Publisher struct {
	writer Writer
	topic  string
}

// NewPublisher constructs a Publisher for the given topic.
func NewPublisher(writer Writer, topic string) *Publisher {
	return &Publisher{writer: writer, topic: topic}
}

type signalPayload struct {
	UserID       string `json:"user_id"`
	ActivityType string `json:"activity_type"`
	Reason       string `json:"reason"`
	Direction    string `json:"direction"`
	SuggestedAt  string `json:"suggested_at"`
}

// Publish serialises the signal and writes it to Kafka.
func (p *Publisher) Publish(ctx context.Context, sig domain.RegenerationSuggested) error {
	payload, err := json.Marshal(signalPayload{
		UserID:       sig.UserID,
		ActivityType: string(sig.ActivityType),
		Reason:       sig.Reason,
		Direction:    string(sig.Direction),
		SuggestedAt:  sig.SuggestedAt.UTC().Format(time.RFC3339),
	})
	if err != nil {
		return fmt.Errorf("marshal signal: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(sig.UserID),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(EventTypeRegeneration)},
			{Key: "user_id", Value: []byte(sig.UserID)},
		},
	}
	return p.writer.WriteMessages(ctx, p.topic, msg)
}
