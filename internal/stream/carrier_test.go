package stream

import (
	"context"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

func TestHeaderCarrierGetSetKeys(t *testing.T) {
	carrier := NewHeaderCarrier([]kafka.Header{
		{Key: "traceparent", Value: []byte("00-abc-def-01")},
	})

	assert.Equal(t, "00-abc-def-01", carrier.Get("traceparent"))
	assert.Empty(t, carrier.Get("tracestate"))

	carrier.Set("tracestate", "vendor=1")
	assert.Equal(t, "vendor=1", carrier.Get("tracestate"))

	// Set replaces in place rather than duplicating the key.
	carrier.Set("traceparent", "00-abc-def-00")
	assert.Equal(t, "00-abc-def-00", carrier.Get("traceparent"))
	assert.ElementsMatch(t, []string{"traceparent", "tracestate"}, carrier.Keys())
}

func TestHeaderCarrierRoundTripsTraceContext(t *testing.T) {
	traceID, err := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	require.NoError(t, err)

	spanID, err := trace.SpanIDFromHex("00f067aa0ba902b7")
	require.NoError(t, err)

	spanCtx := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: trace.FlagsSampled,
	})
	ctx := trace.ContextWithSpanContext(context.Background(), spanCtx)

	propagator := propagation.TraceContext{}
	carrier := NewHeaderCarrier(nil)
	propagator.Inject(ctx, carrier)

	require.NotEmpty(t, carrier.Get("traceparent"))

	// What the producer injects, the consumer must recover byte for byte.
	extracted := trace.SpanContextFromContext(
		propagator.Extract(context.Background(), NewHeaderCarrier(carrier.headers)),
	)
	assert.Equal(t, traceID, extracted.TraceID())
	assert.Equal(t, spanID, extracted.SpanID())
	assert.True(t, extracted.IsRemote())
}

func TestMapToHeaders(t *testing.T) {
	assert.Nil(t, mapToHeaders(nil))

	headers := mapToHeaders(map[string]string{"traceparent": "00-abc-def-01"})
	require.Len(t, headers, 1)
	assert.Equal(t, "traceparent", headers[0].Key)
	assert.Equal(t, "00-abc-def-01", string(headers[0].Value))
}
