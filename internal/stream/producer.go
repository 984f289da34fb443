package stream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/eventgate-io/eventgate/internal/config"
	"github.com/eventgate-io/eventgate/internal/ingestion"
)

// ErrPublishFailed is returned when a record could not be durably enqueued.
var ErrPublishFailed = errors.New("event publish failed")

// Producer implements ingestion.Publisher.
var _ ingestion.Publisher = (*Producer)(nil)

// producerBatchTimeout flushes small batches quickly; ingestion latency
// matters more here than batching efficiency.
const producerBatchTimeout = 10 * time.Millisecond

// Producer is a thread-safe Kafka writer shared by all request handlers.
//
// Publish blocks until all in-sync replicas acknowledge the record, so a
// nil return implies durable enqueue. Hash balancing over the message key
// (tenantId|streamKey) pins each stream to one partition, which is the
// producer half of the per-stream ordering guarantee.
type Producer struct {
	writer *kafka.Writer
	logger *slog.Logger
}

// NewProducer creates a Kafka producer for the configured topic.
func NewProducer(cfg *Config) (*Producer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &Producer{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Topic:        cfg.Topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
			BatchTimeout: producerBatchTimeout,
		},
		logger: slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: config.GetEnvLogLevel("LOG_LEVEL", slog.LevelInfo),
		})),
	}, nil
}

// Publish implements ingestion.Publisher.
func (p *Producer) Publish(ctx context.Context, key, value []byte, headers map[string]string) error {
	message := kafka.Message{
		Key:     key,
		Value:   value,
		Headers: mapToHeaders(headers),
	}

	if err := p.writer.WriteMessages(ctx, message); err != nil {
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}

	return nil
}

// Close flushes pending writes and releases the writer.
func (p *Producer) Close() error {
	if err := p.writer.Close(); err != nil {
		return fmt.Errorf("close kafka writer: %w", err)
	}

	return nil
}

func mapToHeaders(headers map[string]string) []kafka.Header {
	if len(headers) == 0 {
		return nil
	}

	result := make([]kafka.Header, 0, len(headers))
	for key, value := range headers {
		result = append(result, kafka.Header{Key: key, Value: []byte(value)})
	}

	return result
}
