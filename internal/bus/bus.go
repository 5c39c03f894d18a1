// Package bus carries feed events between the poller and the batch
// consumer over Kafka, keyed by author so a single author's posts stay
// ordered within a partition.
package bus

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/segmentio/kafka-go"

	"github.com/reciperun/pipeline/internal/feed"
)

// Producer publishes feed events to a topic, at-least-once.
type Producer struct {
	writer *kafka.Writer
}

// NewProducer constructs a Producer writing to topic across brokers.
func NewProducer(brokers []string, topic string) *Producer {
	return &Producer{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireOne,
		},
	}
}

// Publish writes one feed event, keyed by its author.
func (p *Producer) Publish(ctx context.Context, event feed.Event) error {
	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal feed event: %w", err)
	}

	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(event.Author),
		Value: value,
	})
}

// Close flushes and closes the underlying writer.
func (p *Producer) Close() error {
	return p.writer.Close()
}

// Handler processes one decoded feed event. A non-nil error leaves the
// message uncommitted so a later batch redelivers it.
type Handler func(event feed.Event) error

// Consumer reads feed events from a topic within a consumer group,
// committing offsets only after the handler succeeds for that message.
type Consumer struct {
	reader *kafka.Reader
}

// NewConsumer constructs a Consumer in groupID, reading topic across brokers.
func NewConsumer(brokers []string, topic, groupID string) *Consumer {
	return &Consumer{
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:     brokers,
			Topic:       topic,
			GroupID:     groupID,
			StartOffset: kafka.FirstOffset,
		}),
	}
}

// ConsumeBatch reads up to maxMessages messages, invoking handler for
// each. The offset only advances once the handler returns nil; a
// handler error leaves the message uncommitted so a later batch
// redelivers it, while the batch itself keeps moving on to the next
// message rather than aborting.
func (c *Consumer) ConsumeBatch(ctx context.Context, maxMessages int, handler Handler) error {
	for i := 0; i < maxMessages; i++ {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if err == context.Canceled || err == context.DeadlineExceeded {
				return nil
			}
			return fmt.Errorf("fetch message: %w", err)
		}

		var event feed.Event
		if err := json.Unmarshal(msg.Value, &event); err != nil {
			_ = c.reader.CommitMessages(ctx, msg)
			continue
		}

		if err := handler(event); err != nil {
			continue
		}

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			return fmt.Errorf("commit offset: %w", err)
		}
	}
	return nil
}

// Close closes the underlying reader.
func (c *Consumer) Close() error {
	return c.reader.Close()
}
