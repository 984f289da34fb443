package stream

import (
	"context"
	"fmt"

	"github.com/segmentio/kafka-go"
)

const (
	consumerMinBytes = 1
	consumerMaxBytes = 10 << 20 // 10 MiB, comfortably above the 256 KiB ingress cap
)

// Consumer wraps a Kafka group reader with manual offset commit. It is NOT
// safe for concurrent use: one consumer loop owns its subscription, and
// processing messages sequentially within the loop is what preserves
// per-stream ordering on the consume side.
type Consumer struct {
	reader *kafka.Reader
}

// NewConsumer creates a consumer-group reader for the configured topic.
// Fresh groups start from the earliest offset so no pre-deployment backlog
// is skipped.
func NewConsumer(cfg *Config) (*Consumer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &Consumer{
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:     cfg.Brokers,
			GroupID:     cfg.ConsumerGroup,
			Topic:       cfg.Topic,
			StartOffset: kafka.FirstOffset,
			MinBytes:    consumerMinBytes,
			MaxBytes:    consumerMaxBytes,
			MaxWait:     cfg.PollWait,
		}),
	}, nil
}

// Fetch returns the next message without committing its offset. It blocks
// until a message arrives or ctx is cancelled.
func (c *Consumer) Fetch(ctx context.Context) (kafka.Message, error) {
	message, err := c.reader.FetchMessage(ctx)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("fetch message: %w", err)
	}

	return message, nil
}

// Commit marks the message's offset as processed. Committing an offset
// covers every earlier offset on the partition, so the caller must bring
// each message to a terminal state before committing anything past it.
func (c *Consumer) Commit(ctx context.Context, message kafka.Message) error {
	if err := c.reader.CommitMessages(ctx, message); err != nil {
		return fmt.Errorf("commit offset: %w", err)
	}

	return nil
}

// Close leaves the consumer group and releases the reader.
func (c *Consumer) Close() error {
	if err := c.reader.Close(); err != nil {
		return fmt.Errorf("close kafka reader: %w", err)
	}

	return nil
}
