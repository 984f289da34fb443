// Package middleware provides HTTP middleware components for the gateway API.
package middleware

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/http"
	"time"
)

// correlationIDSize is the random id size in bytes (16 hex characters).
const correlationIDSize = 8

// correlationIDKey is the context key for correlation ID.
type correlationIDKey struct{}

// CorrelationID creates a middleware that attaches a correlation id to each
// request. An inbound X-Correlation-ID header is honored; otherwise a fresh
// id is generated. The id is echoed on the response and doubles as the
// event's traceId when no span is recording.
func CorrelationID() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			correlationID := r.Header.Get("X-Correlation-ID")
			if correlationID == "" {
				correlationID = generateCorrelationID()
			}

			w.Header().Set("X-Correlation-ID", correlationID)

			ctx := context.WithValue(r.Context(), correlationIDKey{}, correlationID)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetCorrelationID extracts the correlation ID from the request context.
func GetCorrelationID(ctx context.Context) string {
	if correlationID, ok := ctx.Value(correlationIDKey{}).(string); ok {
		return correlationID
	}

	return "unknown"
}

// generateCorrelationID returns a random hex id, falling back to a
// timestamp-derived id if the system entropy source fails.
func generateCorrelationID() string {
	bytes := make([]byte, correlationIDSize)
	if _, err := rand.Read(bytes); err != nil {
		return fmt.Sprintf("%016x", time.Now().UnixNano())
	}

	return hex.EncodeToString(bytes)
}
