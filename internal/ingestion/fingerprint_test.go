package ingestion

import (
	"encoding/json"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var hexDigestPattern = regexp.MustCompile(`^[0-9a-f]{64}$`)

func testEnvelope() *Envelope {
	return &Envelope{
		EventID:       "3f1b7c0a-9a4e-4f7d-8b1a-2c3d4e5f6a7b",
		TenantID:      "acme",
		Source:        "billing",
		Type:          "invoice.created",
		StreamKey:     "invoice-42",
		TimestampUTC:  time.Date(2026, 8, 24, 10, 30, 0, 0, time.UTC),
		SchemaVersion: 1,
		Payload:       json.RawMessage(`{"amount":100,"currency":"EUR"}`),
	}
}

func TestFingerprintIsDeterministic(t *testing.T) {
	env := testEnvelope()

	first, err := env.Fingerprint()
	require.NoError(t, err)
	assert.Regexp(t, hexDigestPattern, first)

	second, err := env.Fingerprint()
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestFingerprintIgnoresPayloadWhitespace(t *testing.T) {
	compact := testEnvelope()
	spaced := testEnvelope()
	spaced.Payload = json.RawMessage("{ \"amount\": 100,\n  \"currency\": \"EUR\" }")

	compactHash, err := compact.Fingerprint()
	require.NoError(t, err)

	spacedHash, err := spaced.Fingerprint()
	require.NoError(t, err)

	assert.Equal(t, compactHash, spacedHash)
}

func TestFingerprintNormalizesTimezone(t *testing.T) {
	utc := testEnvelope()

	zoned := testEnvelope()
	zoned.TimestampUTC = utc.TimestampUTC.In(time.FixedZone("CEST", 2*60*60))

	utcHash, err := utc.Fingerprint()
	require.NoError(t, err)

	zonedHash, err := zoned.Fingerprint()
	require.NoError(t, err)

	assert.Equal(t, utcHash, zonedHash)
}

func TestFingerprintDetectsPayloadChange(t *testing.T) {
	original := testEnvelope()
	changed := testEnvelope()
	changed.Payload = json.RawMessage(`{"amount":200,"currency":"EUR"}`)

	originalHash, err := original.Fingerprint()
	require.NoError(t, err)

	changedHash, err := changed.Fingerprint()
	require.NoError(t, err)

	assert.NotEqual(t, originalHash, changedHash)
}

func TestFingerprintEmptyPayload(t *testing.T) {
	env := testEnvelope()
	env.Payload = nil

	hash, err := env.Fingerprint()
	require.NoError(t, err)
	assert.Regexp(t, hexDigestPattern, hash)
}

func TestFingerprintRejectsMalformedPayload(t *testing.T) {
	env := testEnvelope()
	env.Payload = json.RawMessage(`{"unterminated`)

	_, err := env.Fingerprint()
	assert.Error(t, err)
}
