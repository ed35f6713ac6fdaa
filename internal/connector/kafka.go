package connector

import (
	"context"
	"fmt"

	"github.com/Priya8975/fastweigh-event-gateway/internal/domain"
	"github.com/segmentio/kafka-go"
)

const KafkaConnectorName = "kafka-stream"

// MessageWriter is satisfied by *kafka.Writer.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// NewKafkaWriter builds the producer used by the kafka-stream connector.
func NewKafkaWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
	}
}

// KafkaConnector publishes every event to a topic, keyed by event id so all
// deliveries of an event land on the same partition.
type KafkaConnector struct {
	writer MessageWriter
}

func NewKafkaConnector(writer MessageWriter) *KafkaConnector {
	return &KafkaConnector{writer: writer}
}

func (c *KafkaConnector) Name() string {
	return KafkaConnectorName
}

func (c *KafkaConnector) Supports(domain.NormalizedEvent) bool {
	return true
}

func (c *KafkaConnector) Transform(event domain.NormalizedEvent) (any, error) {
	body, err := envelopeJSON(event)
	if err != nil {
		return nil, fmt.Errorf("encoding kafka payload: %w", err)
	}
	return body, nil
}

func (c *KafkaConnector) Deliver(ctx context.Context, payload any, dc domain.DeliveryContext) (domain.DeliveryResult, error) {
	body, ok := payload.([]byte)
	if !ok {
		return domain.DeliveryResult{}, fmt.Errorf("kafka connector: unexpected payload type %T", payload)
	}

	err := c.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(dc.EventID),
		Value: body,
		Headers: []kafka.Header{
			{Key: "Idempotency-Key", Value: []byte(dc.IdempotencyKey)},
			{Key: "X-Event-Id", Value: []byte(dc.EventID)},
		},
	})
	if err != nil {
		return domain.DeliveryResult{}, fmt.Errorf("publishing event %s: %w", dc.EventID, err)
	}
	return domain.DeliveryResult{Success: true}, nil
}
