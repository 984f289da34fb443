package storage

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eventgate-io/eventgate/internal/ingestion"
)

func testInflightEvent() *ingestion.InflightEvent {
	return &ingestion.InflightEvent{
		Envelope: ingestion.Envelope{
			EventID:       uuid.NewString(),
			TenantID:      "acme",
			Source:        "billing",
			Type:          "invoice.created",
			StreamKey:     "invoice-42",
			TimestampUTC:  time.Date(2026, 8, 24, 10, 30, 0, 0, time.UTC),
			SchemaVersion: 1,
			Payload:       json.RawMessage(`{"amount":100}`),
		},
		IdempotencyKey: uuid.NewString(),
		PayloadHash:    strings.Repeat("ab", 32),
		ReceivedAtUTC:  time.Date(2026, 8, 24, 10, 30, 1, 0, time.UTC),
		TraceID:        "4bf92f3577b34da6a3ce929d0e0e4736",
	}
}

func TestPersistEventLifecycle(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	conn := setupTestConnection(ctx, t)

	store, err := NewEventStore(conn)
	require.NoError(t, err)

	event := testInflightEvent()

	outcome, err := store.PersistEvent(ctx, event)
	require.NoError(t, err)
	assert.Equal(t, ingestion.PersistProcessed, outcome)

	// events row and processed_events barrier row exist together.
	var eventCount, barrierCount int
	require.NoError(t, conn.QueryRowContext(ctx,
		`SELECT count(*) FROM events WHERE event_id = $1`, event.EventID).Scan(&eventCount))
	require.NoError(t, conn.QueryRowContext(ctx,
		`SELECT count(*) FROM processed_events WHERE event_id = $1`, event.EventID).Scan(&barrierCount))
	assert.Equal(t, 1, eventCount)
	assert.Equal(t, 1, barrierCount)

	// Redelivery of the same event is absorbed by the barrier.
	outcome, err = store.PersistEvent(ctx, event)
	require.NoError(t, err)
	assert.Equal(t, ingestion.PersistDuplicate, outcome)

	require.NoError(t, conn.QueryRowContext(ctx,
		`SELECT count(*) FROM events WHERE event_id = $1`, event.EventID).Scan(&eventCount))
	assert.Equal(t, 1, eventCount, "duplicate persist must not write a second events row")
}

func TestPersistEventUpdatesStreamState(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	conn := setupTestConnection(ctx, t)

	store, err := NewEventStore(conn)
	require.NoError(t, err)

	first := testInflightEvent()

	_, err = store.PersistEvent(ctx, first)
	require.NoError(t, err)

	second := testInflightEvent()
	second.StreamKey = first.StreamKey
	second.Type = "invoice.paid"
	second.TimestampUTC = first.TimestampUTC.Add(time.Minute)
	second.Payload = json.RawMessage(`{"amount":0}`)

	_, err = store.PersistEvent(ctx, second)
	require.NoError(t, err)

	var (
		lastType   string
		lastSeenAt time.Time
	)
	require.NoError(t, conn.QueryRowContext(ctx,
		`SELECT last_type, last_seen_at FROM stream_state WHERE tenant_id = $1 AND stream_key = $2`,
		first.TenantID, first.StreamKey).Scan(&lastType, &lastSeenAt))

	assert.Equal(t, "invoice.paid", lastType)
	assert.True(t, second.TimestampUTC.Equal(lastSeenAt.UTC()))
}

func TestPersistEventSubstitutesMissingReceivedAt(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	conn := setupTestConnection(ctx, t)

	store, err := NewEventStore(conn)
	require.NoError(t, err)

	event := testInflightEvent()
	event.ReceivedAtUTC = time.Time{}

	before := time.Now().UTC().Add(-time.Second)

	_, err = store.PersistEvent(ctx, event)
	require.NoError(t, err)

	var receivedAt time.Time
	require.NoError(t, conn.QueryRowContext(ctx,
		`SELECT received_at FROM events WHERE event_id = $1`, event.EventID).Scan(&receivedAt))
	assert.True(t, receivedAt.After(before), "zero receivedAtUtc must be substituted with now")
}

func TestPersistEventRejectsIdempotencyKeyReuse(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	conn := setupTestConnection(ctx, t)

	store, err := NewEventStore(conn)
	require.NoError(t, err)

	first := testInflightEvent()

	_, err = store.PersistEvent(ctx, first)
	require.NoError(t, err)

	// A different event reusing the same (tenant, idempotency key) violates
	// the barrier's unique constraint; the caller routes this to dead letter.
	second := testInflightEvent()
	second.IdempotencyKey = first.IdempotencyKey

	_, err = store.PersistEvent(ctx, second)
	assert.ErrorIs(t, err, ErrPersistFailed)
	assert.ErrorIs(t, err, ErrIdempotencyKeyReused)

	// The failed transaction must not leave a partial events row behind.
	var count int
	require.NoError(t, conn.QueryRowContext(ctx,
		`SELECT count(*) FROM events WHERE event_id = $1`, second.EventID).Scan(&count))
	assert.Zero(t, count)
}

func TestWriteDeadLetter(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	conn := setupTestConnection(ctx, t)

	store, err := NewEventStore(conn)
	require.NoError(t, err)

	require.NoError(t, store.WriteDeadLetter(ctx, "acme",
		[]byte(`{"eventId":"x"}`), "invalid-json"))

	var (
		snapshot string
		reason   string
	)
	require.NoError(t, conn.QueryRowContext(ctx,
		`SELECT event_snapshot, reason FROM dead_letter WHERE tenant_id = $1`, "acme").
		Scan(&snapshot, &reason))
	assert.JSONEq(t, `{"eventId":"x"}`, snapshot)
	assert.Equal(t, "invalid-json", reason)
}

func TestWriteDeadLetterNullTenantAndTruncatedReason(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	conn := setupTestConnection(ctx, t)

	store, err := NewEventStore(conn)
	require.NoError(t, err)

	longReason := strings.Repeat("r", 1000)

	// Structurally invalid input has no tenant; the column is nullable.
	require.NoError(t, store.WriteDeadLetter(ctx, "", []byte("not json"), longReason))

	var (
		tenantIsNull bool
		snapshot     string
		reason       string
	)
	require.NoError(t, conn.QueryRowContext(ctx,
		`SELECT tenant_id IS NULL, event_snapshot, reason FROM dead_letter LIMIT 1`).
		Scan(&tenantIsNull, &snapshot, &reason))

	assert.True(t, tenantIsNull)
	assert.JSONEq(t, `{"raw":"not json"}`, snapshot)
	assert.Len(t, reason, 500)
}
