package ingestion

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPartitionKey(t *testing.T) {
	env := &Envelope{TenantID: "acme", StreamKey: "orders-7"}
	assert.Equal(t, "acme|orders-7", env.PartitionKey())
}

func TestInflightEventWireFormat(t *testing.T) {
	record := &InflightEvent{
		Envelope:       *testEnvelope(),
		IdempotencyKey: "idem-123",
		PayloadHash:    "deadbeef",
		ReceivedAtUTC:  time.Date(2026, 8, 24, 10, 30, 1, 0, time.UTC),
		TraceID:        "4bf92f3577b34da6a3ce929d0e0e4736",
	}

	data, err := json.Marshal(record)
	require.NoError(t, err)

	// The wire format is flat: envelope fields and ingestion metadata live
	// at the same level, all camelCase.
	var wire map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &wire))

	for _, key := range []string{
		"eventId", "tenantId", "source", "type", "streamKey",
		"timestampUtc", "schemaVersion", "payload",
		"idempotencyKey", "payloadHash", "receivedAtUtc", "traceId",
	} {
		assert.Contains(t, wire, key)
	}
}

func TestInflightEventRoundTripPreservesPayload(t *testing.T) {
	record := &InflightEvent{
		Envelope:       *testEnvelope(),
		IdempotencyKey: "idem-123",
		PayloadHash:    "deadbeef",
		ReceivedAtUTC:  time.Now().UTC(),
		TraceID:        "4bf92f3577b34da6a3ce929d0e0e4736",
	}
	record.Payload = json.RawMessage(`{"b":2,"a":1}`)

	data, err := json.Marshal(record)
	require.NoError(t, err)

	var decoded InflightEvent
	require.NoError(t, json.Unmarshal(data, &decoded))

	// Raw payload bytes survive untouched, key order included.
	assert.Equal(t, string(record.Payload), string(decoded.Payload))
	assert.Equal(t, record.EventID, decoded.EventID)
	assert.Equal(t, record.IdempotencyKey, decoded.IdempotencyKey)
	assert.True(t, record.ReceivedAtUTC.Equal(decoded.ReceivedAtUTC))
}
