package ingestion

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

// canonicalEnvelope fixes the field order and representation used for
// fingerprinting. Timestamps are normalized to UTC RFC3339Nano and the
// payload is compacted, so two submissions that differ only in whitespace
// or timezone notation produce the same hash.
type canonicalEnvelope struct {
	EventID       string          `json:"eventId"`
	TenantID      string          `json:"tenantId"`
	Source        string          `json:"source"`
	Type          string          `json:"type"`
	StreamKey     string          `json:"streamKey"`
	TimestampUTC  string          `json:"timestampUtc"`
	SchemaVersion int             `json:"schemaVersion"`
	Payload       json.RawMessage `json:"payload"`
}

// Fingerprint computes the payload hash for the envelope: the lowercase hex
// SHA-256 digest of its canonical JSON encoding. The idempotency registry
// compares this hash to distinguish safe retries (same body) from key misuse
// (same key, different body).
func (e *Envelope) Fingerprint() (string, error) {
	payload := e.Payload
	if len(payload) > 0 {
		var compacted bytes.Buffer
		if err := json.Compact(&compacted, payload); err != nil {
			return "", fmt.Errorf("compact payload: %w", err)
		}

		payload = compacted.Bytes()
	} else {
		payload = json.RawMessage("null")
	}

	canonical := canonicalEnvelope{
		EventID:       e.EventID,
		TenantID:      e.TenantID,
		Source:        e.Source,
		Type:          e.Type,
		StreamKey:     e.StreamKey,
		TimestampUTC:  e.TimestampUTC.UTC().Format(time.RFC3339Nano),
		SchemaVersion: e.SchemaVersion,
		Payload:       payload,
	}

	encoded, err := json.Marshal(canonical)
	if err != nil {
		return "", fmt.Errorf("encode canonical envelope: %w", err)
	}

	digest := sha256.Sum256(encoded)

	return hex.EncodeToString(digest[:]), nil
}
