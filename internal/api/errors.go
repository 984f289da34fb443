package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/eventgate-io/eventgate/internal/api/middleware"
)

// ErrorResponse is the error body for every non-2xx response that carries
// one: {"error": "<reason>"}.
type ErrorResponse struct {
	Error string `json:"error"`
}

// WriteError writes the API error contract. The 503 publish-failure path
// deliberately bypasses this and sends no body.
func WriteError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, status int, reason string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(ErrorResponse{Error: reason}); err != nil {
		logger.Error("Failed to encode error response",
			slog.String("correlation_id", middleware.GetCorrelationID(r.Context())),
			slog.String("path", r.URL.Path),
			slog.Int("status", status),
			slog.Any("encode_error", err),
		)
	}
}

// writeJSON writes a 2xx JSON response.
func writeJSON(w http.ResponseWriter, r *http.Request, logger *slog.Logger, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.Error("Failed to encode response",
			slog.String("correlation_id", middleware.GetCorrelationID(r.Context())),
			slog.String("path", r.URL.Path),
			slog.Any("encode_error", err),
		)
	}
}
