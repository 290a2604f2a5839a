package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"ms-tourbooking/internal/logger"
	"ms-tourbooking/internal/models"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
)

// readBackoff is the pause after a failed read so a lost broker is not polled
// in a tight loop.
const readBackoff = time.Second

// messageReader is the part of *kafka.Reader the consumer uses.
type messageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

type Consumer struct {
	reader  messageReader
	logger  *logger.Logger
	backoff time.Duration
}

// InstanceGroupID derives a consumer group of its own for this process from
// prefix. Every instance serves its own SSE clients, so each one has to see
// every change event instead of sharing the partitions with its peers.
func InstanceGroupID(prefix string) string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "local"
	}
	return fmt.Sprintf("%s-%s-%s", prefix, host, uuid.NewString()[:8])
}

// NewConsumer creates a consumer for the given topic and group. A new group
// starts at the end of the topic: SSE clients only want live changes.
func NewConsumer(brokers []string, topic, groupID string, log *logger.Logger) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     brokers,
		Topic:       topic,
		GroupID:     groupID,
		StartOffset: kafka.LastOffset,
		MinBytes:    1,
		MaxBytes:    10e6, // 10MB
	})
	return &Consumer{reader: reader, logger: log, backoff: readBackoff}
}

// Start feeds change events to handler until ctx is done. Undecodable
// messages are logged and skipped.
func (c *Consumer) Start(ctx context.Context, handler func(models.ChangeEvent)) {
	c.logger.LogKafka("CONSUME", "", "change consumer started")

	for {
		msg, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				c.logger.LogKafka("CONSUME", "", "change consumer stopped")
				return
			}
			c.logger.Error("KAFKA", fmt.Sprintf("read message: %v", err))
			select {
			case <-ctx.Done():
				c.logger.LogKafka("CONSUME", "", "change consumer stopped")
				return
			case <-time.After(c.backoff):
			}
			continue
		}

		var event models.ChangeEvent
		if err := json.Unmarshal(msg.Value, &event); err != nil {
			c.logger.Warn("KAFKA", fmt.Sprintf("skipping undecodable message at offset %d: %v", msg.Offset, err))
			continue
		}
		handler(event)
	}
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}
