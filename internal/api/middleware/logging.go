package middleware

import (
	"log/slog"
	"net/http"
	"time"
)

// RequestLogger creates a middleware that logs HTTP requests with structured logging.
func RequestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			correlationID := GetCorrelationID(r.Context())

			// Wrap the response writer to capture the status code.
			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			logger.Info("HTTP request started",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.String("remote_addr", r.RemoteAddr),
				slog.String("correlation_id", correlationID),
			)

			next.ServeHTTP(rw, r)

			logger.Info("HTTP request completed",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status_code", rw.statusCode),
				slog.Duration("duration", time.Since(start)),
				slog.String("correlation_id", correlationID),
			)
		})
	}
}

// responseWriter wraps http.ResponseWriter to capture status code.
type responseWriter struct {
	http.ResponseWriter

	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
