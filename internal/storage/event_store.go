package storage

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/eventgate-io/eventgate/internal/config"
	"github.com/eventgate-io/eventgate/internal/ingestion"
)

// Sentinel errors for event persistence.
var (
	// ErrPersistFailed is returned when the persist transaction fails.
	ErrPersistFailed = errors.New("event persistence failed")

	// ErrDeadLetterFailed is returned when the dead-letter write fails.
	// Callers treat this as a signal to re-poll the message.
	ErrDeadLetterFailed = errors.New("dead letter write failed")

	// ErrIdempotencyKeyReused is returned when a different event arrives
	// under an already-processed (tenant_id, idempotency_key) pair. The
	// event_id barrier cannot absorb it, so the unique index rejects it.
	ErrIdempotencyKeyReused = errors.New("idempotency key reused with a different event")

	// EventStore implements ingestion.Store.
	_ ingestion.Store = (*EventStore)(nil)
)

// maxReasonBytes caps the dead-letter reason column.
const maxReasonBytes = 500

// uniqueViolation is the PostgreSQL error code for unique index violations.
const uniqueViolation = pq.ErrorCode("23505")

// EventStore implements ingestion.Store with a PostgreSQL backend.
type EventStore struct {
	conn   *Connection
	logger *slog.Logger
}

// NewEventStore creates a PostgreSQL-backed event store.
// Returns ErrNoDatabaseConnection if conn is nil.
func NewEventStore(conn *Connection) (*EventStore, error) {
	if conn == nil {
		return nil, ErrNoDatabaseConnection
	}

	return &EventStore{
		conn: conn,
		logger: slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: config.GetEnvLogLevel("LOG_LEVEL", slog.LevelInfo),
		})),
	}, nil
}

// PersistEvent implements ingestion.Store. Within one transaction:
//
//  1. Dedup insert into processed_events keyed by event_id, conflict
//     do-nothing. Zero rows inserted → commit and return Duplicate.
//  2. Insert the events row. A missing receivedAtUtc is substituted with
//     now so the row never carries a zero instant.
//  3. Upsert stream_state for (tenant_id, stream_key).
//
// All three writes live or die together; the barrier in step 1 runs inside
// the transaction, so two concurrent consumers of the same event can never
// both insert into events.
func (s *EventStore) PersistEvent(
	ctx context.Context,
	event *ingestion.InflightEvent,
) (ingestion.PersistOutcome, error) {
	if event == nil {
		return 0, fmt.Errorf("%w: %w", ErrPersistFailed, ingestion.ErrNilEvent)
	}

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("%w: begin transaction: %w", ErrPersistFailed, err)
	}

	defer func() {
		_ = tx.Rollback() // Safe to call even after commit
	}()

	now := time.Now().UTC()

	result, err := tx.ExecContext(ctx, `
		INSERT INTO processed_events (event_id, tenant_id, idempotency_key, processed_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (event_id) DO NOTHING`,
		event.EventID, event.TenantID, event.IdempotencyKey, now,
	)
	if err != nil {
		// The barrier's ON CONFLICT only covers event_id; a different event
		// reusing a processed (tenant_id, idempotency_key) pair trips the
		// unique index instead.
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return 0, fmt.Errorf("%w: %w", ErrPersistFailed, ErrIdempotencyKeyReused)
		}

		return 0, fmt.Errorf("%w: dedup barrier: %w", ErrPersistFailed, err)
	}

	inserted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%w: dedup barrier: %w", ErrPersistFailed, err)
	}

	if inserted == 0 {
		if err := tx.Commit(); err != nil {
			return 0, fmt.Errorf("%w: commit duplicate: %w", ErrPersistFailed, err)
		}

		s.logger.Debug("duplicate event skipped",
			slog.String("event_id", event.EventID),
			slog.String("tenant_id", event.TenantID),
		)

		return ingestion.PersistDuplicate, nil
	}

	receivedAt := event.ReceivedAtUTC
	if receivedAt.IsZero() {
		receivedAt = now
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO events (
			event_id, tenant_id, source, event_type, stream_key,
			event_time, schema_version, payload, received_at, processed_at,
			trace_id, idempotency_key
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		event.EventID, event.TenantID, event.Source, event.Type, event.StreamKey,
		event.TimestampUTC, event.SchemaVersion, payloadColumn(event.Payload),
		receivedAt, now, event.TraceID, event.IdempotencyKey,
	)
	if err != nil {
		return 0, fmt.Errorf("%w: insert event: %w", ErrPersistFailed, err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO stream_state (tenant_id, stream_key, last_seen_at, last_type, last_payload)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (tenant_id, stream_key)
		DO UPDATE SET
			last_seen_at = EXCLUDED.last_seen_at,
			last_type    = EXCLUDED.last_type,
			last_payload = EXCLUDED.last_payload`,
		event.TenantID, event.StreamKey, event.TimestampUTC, event.Type,
		payloadColumn(event.Payload),
	)
	if err != nil {
		return 0, fmt.Errorf("%w: upsert stream state: %w", ErrPersistFailed, err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("%w: commit: %w", ErrPersistFailed, err)
	}

	return ingestion.PersistProcessed, nil
}

// WriteDeadLetter implements ingestion.Store. The snapshot is normalized so
// the column is always valid JSON, and the reason is truncated to the column
// cap without splitting a multi-byte rune.
func (s *EventStore) WriteDeadLetter(ctx context.Context, tenantID string, raw []byte, reason string) error {
	tenant := sql.NullString{String: tenantID, Valid: tenantID != ""}

	_, err := s.conn.ExecContext(ctx, `
		INSERT INTO dead_letter (id, tenant_id, event_snapshot, reason, created_at)
		VALUES ($1, $2, $3, $4, now())`,
		uuid.NewString(), tenant, normalizeSnapshot(raw), truncateReason(reason),
	)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrDeadLetterFailed, err)
	}

	s.logger.Warn("message routed to dead letter",
		slog.String("tenant_id", tenantID),
		slog.String("reason", truncateReason(reason)),
	)

	return nil
}

// HealthCheck implements ingestion.Store.
func (s *EventStore) HealthCheck(ctx context.Context) error {
	if s.conn == nil {
		return ErrNoDatabaseConnection
	}

	return s.conn.HealthCheck(ctx)
}

// payloadColumn renders a raw payload for a JSONB column, substituting JSON
// null for an absent payload.
func payloadColumn(payload json.RawMessage) string {
	if len(payload) == 0 {
		return "null"
	}

	return string(payload)
}

// normalizeSnapshot prepares raw input for the event_snapshot JSONB column.
// Text that parses as a JSON object or array is stored verbatim; anything
// else is wrapped as {"raw": "<text>"} so malformed input survives for
// operator inspection.
func normalizeSnapshot(raw []byte) []byte {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && (trimmed[0] == '{' || trimmed[0] == '[') && json.Valid(trimmed) {
		return trimmed
	}

	// Marshal of a string map cannot fail; invalid UTF-8 in the input is
	// replaced, not rejected.
	wrapped, _ := json.Marshal(map[string]string{"raw": string(raw)})

	return wrapped
}

// truncateReason caps the reason at maxReasonBytes without cutting through
// a multi-byte rune.
func truncateReason(reason string) string {
	if len(reason) <= maxReasonBytes {
		return reason
	}

	cut := maxReasonBytes
	for cut > 0 && !utf8.RuneStart(reason[cut]) {
		cut--
	}

	return reason[:cut]
}
