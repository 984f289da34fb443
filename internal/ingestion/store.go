package ingestion

import "context"

// RegisterOutcome is the result of an idempotency registration attempt.
type RegisterOutcome int

const (
	// RegisterInserted means this call created the registration row; the
	// caller owns publishing the event (and compensating on failure).
	RegisterInserted RegisterOutcome = iota

	// RegisterDuplicate means the key was already registered with the same
	// payload hash: a safe retry. The caller must NOT publish again.
	RegisterDuplicate

	// RegisterConflict means the key was already registered with a
	// different payload hash: key misuse, surfaced as 409.
	RegisterConflict
)

// PersistOutcome is the result of the worker's persist transaction.
type PersistOutcome int

const (
	// PersistProcessed means the event cleared the dedup barrier and all
	// three writes (processed_events, events, stream_state) committed.
	PersistProcessed PersistOutcome = iota

	// PersistDuplicate means the processed_events barrier already held the
	// eventId; nothing was written and fan-out must be skipped.
	PersistDuplicate
)

// Registry is the idempotency registry the ingress edge depends on. The
// domain defines the interface; the PostgreSQL implementation lives in
// internal/storage.
type Registry interface {
	// TryRegister atomically claims (tenantID, idempotencyKey) with the
	// given payload hash. Concurrent attempts on the same key serialize
	// inside the store: exactly one observes RegisterInserted.
	TryRegister(ctx context.Context, tenantID, idempotencyKey, payloadHash string) (RegisterOutcome, error)

	// Unregister removes a registration. Best-effort compensation for a
	// publish failure after RegisterInserted; callers log but do not fail
	// the request when it errors.
	Unregister(ctx context.Context, tenantID, idempotencyKey string) error
}

// Store is the hot-store persistence interface the worker depends on.
type Store interface {
	// PersistEvent runs the single-transaction persist: dedup insert into
	// processed_events, events row, stream_state upsert. All three commit
	// or roll back together.
	PersistEvent(ctx context.Context, event *InflightEvent) (PersistOutcome, error)

	// WriteDeadLetter records an unprocessable message. The raw input is
	// normalized (stored verbatim when it parses as a JSON object or
	// array, wrapped as {"raw": ...} otherwise) and the reason is
	// truncated to the column cap. tenantID may be empty for structurally
	// invalid messages.
	WriteDeadLetter(ctx context.Context, tenantID string, raw []byte, reason string) error

	// HealthCheck verifies the storage backend is reachable. Used by the
	// readiness endpoint.
	HealthCheck(ctx context.Context) error
}

// Publisher is the log producer the ingress edge depends on. Publish must
// not return until the record is durably acknowledged; a nil error implies
// durable enqueue.
type Publisher interface {
	Publish(ctx context.Context, key, value []byte, headers map[string]string) error
}
