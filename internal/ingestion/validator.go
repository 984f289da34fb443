package ingestion

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Sentinel errors for validation failures.
var (
	ErrNilEvent              = errors.New("event cannot be nil")
	ErrMissingEventID        = errors.New("eventId is required")
	ErrMissingTenantID       = errors.New("tenantId is required")
	ErrMissingSource         = errors.New("source is required")
	ErrMissingType           = errors.New("type is required")
	ErrMissingStreamKey      = errors.New("streamKey is required")
	ErrMissingTimestamp      = errors.New("timestampUtc is required")
	ErrInvalidSchemaVersion  = errors.New("schemaVersion must be a positive integer")
	ErrFieldTooLong          = errors.New("field exceeds maximum length")
	ErrInvalidEventID        = errors.New("eventId must be a canonical UUID")
	ErrMissingIdempotencyKey = errors.New("idempotencyKey is required")
)

// Validator performs semantic validation of event envelopes. Validation is
// split in two: the ingress edge checks presence and length caps cheaply and
// rejects with 400, while the worker additionally enforces the UUID shape of
// eventId before persisting. A malformed eventId therefore never blocks the
// producer; it is routed to the dead-letter table instead.
type Validator struct{}

// NewValidator creates a new Validator instance.
func NewValidator() *Validator {
	return &Validator{}
}

// ValidateIngress checks an envelope at the ingress edge.
//
// Enforced rules:
//   - eventId, tenantId, source, type, streamKey: non-empty
//   - tenantId, eventId: at most MaxIDBytes bytes
//   - source, type, streamKey: at most MaxFieldBytes bytes
//   - timestampUtc: non-zero
//   - schemaVersion: positive
//
// eventId is deliberately NOT required to parse as a UUID here; that check is
// worker-side (see ValidateInflight).
func (v *Validator) ValidateIngress(event *Envelope) error {
	if event == nil {
		return ErrNilEvent
	}

	if event.EventID == "" {
		return ErrMissingEventID
	}

	if event.TenantID == "" {
		return ErrMissingTenantID
	}

	if event.Source == "" {
		return ErrMissingSource
	}

	if event.Type == "" {
		return ErrMissingType
	}

	if event.StreamKey == "" {
		return ErrMissingStreamKey
	}

	for _, check := range []struct {
		name  string
		value string
		max   int
	}{
		{"eventId", event.EventID, MaxIDBytes},
		{"tenantId", event.TenantID, MaxIDBytes},
		{"source", event.Source, MaxFieldBytes},
		{"type", event.Type, MaxFieldBytes},
		{"streamKey", event.StreamKey, MaxFieldBytes},
	} {
		if len(check.value) > check.max {
			return fmt.Errorf("%w: %s exceeds %d bytes", ErrFieldTooLong, check.name, check.max)
		}
	}

	if event.TimestampUTC.IsZero() {
		return ErrMissingTimestamp
	}

	if event.SchemaVersion < 1 {
		return fmt.Errorf("%w, got: %d", ErrInvalidSchemaVersion, event.SchemaVersion)
	}

	return nil
}

// ValidateInflight checks a decoded inflight record on the worker side.
// Failure here routes the message to the dead-letter table, never back to
// the producer.
func (v *Validator) ValidateInflight(event *InflightEvent) error {
	if event == nil {
		return ErrNilEvent
	}

	if _, err := uuid.Parse(event.EventID); err != nil {
		return fmt.Errorf("%w, got: %q", ErrInvalidEventID, event.EventID)
	}

	if event.TenantID == "" {
		return ErrMissingTenantID
	}

	if event.Source == "" {
		return ErrMissingSource
	}

	if event.Type == "" {
		return ErrMissingType
	}

	if event.StreamKey == "" {
		return ErrMissingStreamKey
	}

	if event.IdempotencyKey == "" {
		return ErrMissingIdempotencyKey
	}

	return nil
}
