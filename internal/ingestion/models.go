// Package ingestion provides the event envelope domain model, payload
// fingerprinting, and validation for the ingestion pipeline.
package ingestion

import (
	"encoding/json"
	"time"
)

// Field length caps enforced at the ingress edge (bytes, not runes).
const (
	// MaxFieldBytes caps source, type and streamKey.
	MaxFieldBytes = 256

	// MaxIDBytes caps tenantId and eventId.
	MaxIDBytes = 128
)

type (
	// Envelope is the client-supplied event envelope accepted on
	// POST /v1/events. The payload is preserved verbatim: it is carried as
	// raw JSON end-to-end and never re-marshaled through an intermediate
	// map, so key order and number formatting survive into the hot store.
	Envelope struct {
		// EventID is a client-generated UUID. The ingress edge only
		// requires it to be non-empty; the worker enforces that it
		// parses as a canonical UUID before persisting.
		EventID string `json:"eventId"`

		// TenantID scopes every row the event touches.
		TenantID string `json:"tenantId"`

		// Source identifies the producing system.
		Source string `json:"source"`

		// Type is the event type within the source's vocabulary.
		Type string `json:"type"`

		// StreamKey groups events into an ordered stream. Together with
		// TenantID it forms the log partition key, which is what
		// preserves per-stream ordering end-to-end.
		StreamKey string `json:"streamKey"`

		// TimestampUTC is the client-supplied occurrence time.
		TimestampUTC time.Time `json:"timestampUtc"`

		// SchemaVersion is a positive integer chosen by the producer.
		SchemaVersion int `json:"schemaVersion"`

		// Payload is an arbitrary JSON object or array.
		Payload json.RawMessage `json:"payload"`
	}

	// InflightEvent is the record published to the log: the envelope plus
	// the ingestion metadata the worker needs to persist and trace it.
	InflightEvent struct {
		Envelope

		// IdempotencyKey is the Idempotency-Key header value that
		// registered this event.
		IdempotencyKey string `json:"idempotencyKey"`

		// PayloadHash is the lowercase hex SHA-256 of the envelope's
		// canonical JSON encoding.
		PayloadHash string `json:"payloadHash"`

		// ReceivedAtUTC is stamped by the gateway immediately before
		// publish, carried in-band so the worker can compute freshness
		// without trusting log timestamps.
		ReceivedAtUTC time.Time `json:"receivedAtUtc"`

		// TraceID is the active trace id at ingress, or the request
		// correlation id when no span was recording.
		TraceID string `json:"traceId"`
	}
)

// PartitionKey returns the log message key for the event. Producer hashing
// over this key is what keeps a stream on a single partition.
func (e *Envelope) PartitionKey() string {
	return e.TenantID + "|" + e.StreamKey
}
