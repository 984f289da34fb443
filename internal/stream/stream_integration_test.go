package stream

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tckafka "github.com/testcontainers/testcontainers-go/modules/kafka"
)

func setupTestBrokers(ctx context.Context, t *testing.T) []string {
	t.Helper()

	container, err := tckafka.Run(ctx,
		"confluentinc/confluent-local:7.5.0",
		tckafka.WithClusterID("eventgate-test"),
	)
	require.NoError(t, err, "Failed to start kafka container")

	t.Cleanup(func() {
		_ = testcontainers.TerminateContainer(container)
	})

	brokers, err := container.Brokers(ctx)
	require.NoError(t, err, "Failed to get broker addresses")

	return brokers
}

func TestProduceConsumeRoundTrip(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()

	cfg := &Config{
		Brokers:       setupTestBrokers(ctx, t),
		Topic:         "events.raw.test",
		ConsumerGroup: "eventgate-test-group",
		PollWait:      time.Second,
	}

	producer, err := NewProducer(cfg)
	require.NoError(t, err)

	t.Cleanup(func() { _ = producer.Close() })

	publishCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	err = producer.Publish(publishCtx,
		[]byte("acme|orders-7"),
		[]byte(`{"eventId":"e-1"}`),
		map[string]string{"traceparent": "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01"},
	)
	require.NoError(t, err)

	consumer, err := NewConsumer(cfg)
	require.NoError(t, err)

	t.Cleanup(func() { _ = consumer.Close() })

	fetchCtx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()

	message, err := consumer.Fetch(fetchCtx)
	require.NoError(t, err)

	assert.Equal(t, "acme|orders-7", string(message.Key))
	assert.JSONEq(t, `{"eventId":"e-1"}`, string(message.Value))
	assert.Equal(t,
		"00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01",
		NewHeaderCarrier(message.Headers).Get("traceparent"),
	)

	require.NoError(t, consumer.Commit(ctx, message))
}

func TestUncommittedMessageIsRedelivered(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()

	cfg := &Config{
		Brokers:       setupTestBrokers(ctx, t),
		Topic:         "events.raw.redelivery",
		ConsumerGroup: "eventgate-redelivery-group",
		PollWait:      time.Second,
	}

	producer, err := NewProducer(cfg)
	require.NoError(t, err)

	t.Cleanup(func() { _ = producer.Close() })

	publishCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	require.NoError(t, producer.Publish(publishCtx, []byte("k"), []byte("v"), nil))

	// First consumer fetches but never commits.
	first, err := NewConsumer(cfg)
	require.NoError(t, err)

	fetchCtx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()

	message, err := first.Fetch(fetchCtx)
	require.NoError(t, err)
	require.NoError(t, first.Close())

	// A replacement consumer in the same group re-polls the message.
	second, err := NewConsumer(cfg)
	require.NoError(t, err)

	t.Cleanup(func() { _ = second.Close() })

	refetchCtx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()

	redelivered, err := second.Fetch(refetchCtx)
	require.NoError(t, err)
	assert.Equal(t, message.Value, redelivered.Value)
}
