package kafka

import (
	"context"
	"encoding/json"
	"fmt"

	"ms-tourbooking/internal/logger"
	"ms-tourbooking/internal/models"

	"github.com/segmentio/kafka-go"
)

// messageWriter is the part of *kafka.Writer the producer uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Producer struct {
	Writer messageWriter
	logger *logger.Logger
}

func NewProducer(brokers []string, topic string, log *logger.Logger) *Producer {
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
	}
	return &Producer{Writer: writer, logger: log}
}

// PublishChange streams a row change to the change topic. Events for the same
// tour share a key so dashboards see them in order.
func (p *Producer) PublishChange(ctx context.Context, event models.ChangeEvent) error {
	msgBytes, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode change event: %w", err)
	}

	key := event.TourID
	if key == "" {
		key = event.RecordID
	}
	p.logger.LogKafka("PUBLISH", event.Table, fmt.Sprintf("%s %s", event.Action, event.RecordID))

	return p.Writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(key),
		Value: msgBytes,
		Headers: []kafka.Header{
			{Key: "table", Value: []byte(event.Table)},
		},
	})
}

func (p *Producer) Close() error {
	return p.Writer.Close()
}
