package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/sshikora/crypto-analytics/internal/models"
)

// EventCrossoverDetected is the event type of published crossover notifications
const EventCrossoverDetected = "CROSSOVER_DETECTED"

// MessageWriter is the subset of *kafka.Writer the producer needs
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer handles publishing events to Kafka
type Producer struct {
	writer MessageWriter
	topic  string
	now    func() time.Time
}

// NewProducer creates a new Kafka producer
func NewProducer(brokers []string, topic string) *Producer {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
	}
	return NewProducerWithWriter(writer, topic)
}

// NewProducerWithWriter creates a producer on top of an existing writer
func NewProducerWithWriter(w MessageWriter, topic string) *Producer {
	return &Producer{writer: w, topic: topic, now: time.Now}
}

// PublishCrossover publishes a crossover notification keyed by asset id so
// events of one asset stay ordered on a partition.
func (p *Producer) PublishCrossover(ctx context.Context, n *models.Notification) error {
	event := models.NotificationEvent{
		EventType:    EventCrossoverDetected,
		Notification: n,
		Timestamp:    p.now().UTC(),
	}
	return p.publish(ctx, n.AssetID, event)
}

func (p *Producer) publish(ctx context.Context, key string, event any) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(key),
		Value: data,
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to write message to kafka: %w", err)
	}

	return nil
}

// Close closes the Kafka producer
func (p *Producer) Close() error {
	return p.writer.Close()
}
