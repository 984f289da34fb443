package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/eventgate-io/eventgate/internal/api/middleware"
)

const (
	serviceName        = "eventgate"
	serviceVersion     = "v1.0.0"
	healthCheckTimeout = 2 * time.Second
)

type (
	// Version represents the liveness response on GET /.
	Version struct {
		Version     string `json:"version"`
		ServiceName string `json:"serviceName"`
	}

	// HealthStatus represents the health check response structure.
	HealthStatus struct {
		Status      string `json:"status"`
		ServiceName string `json:"serviceName"`
		Version     string `json:"version"`
		Uptime      string `json:"uptime,omitempty"`
	}
)

// setupRoutes sets up all HTTP routes for the gateway server.
func (s *Server) setupRoutes(mux *http.ServeMux) {
	// Liveness and observability surface
	mux.HandleFunc("GET /{$}", s.handleRoot)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /ready", s.handleReady)
	mux.Handle("GET /metrics", s.metrics.Handler())

	// Ingestion
	mux.Handle("POST /v1/events", s.ingest)

	// Catch-all handler for 404 responses
	mux.HandleFunc("/", s.handleNotFound)
}

// handleRoot responds to liveness checks with service identity.
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, s.logger, http.StatusOK, Version{
		Version:     serviceVersion,
		ServiceName: serviceName,
	})
}

// handleHealth returns basic health status and uptime.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	var uptime string

	if !s.startTime.IsZero() {
		uptime = time.Since(s.startTime).Round(time.Second).String()
	}

	writeJSON(w, r, s.logger, http.StatusOK, HealthStatus{
		Status:      "healthy",
		ServiceName: serviceName,
		Version:     serviceVersion,
		Uptime:      uptime,
	})
}

// handleReady verifies the hot store is reachable before the pod receives
// traffic. 503 here tells the orchestrator to route around this instance.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	if err := s.store.HealthCheck(ctx); err != nil {
		s.logger.Error("Storage health check failed",
			slog.String("correlation_id", middleware.GetCorrelationID(r.Context())),
			slog.String("error", err.Error()),
		)

		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("storage unavailable"))

		return
	}

	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

// handleNotFound returns the API error contract for unknown endpoints.
func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	WriteError(w, r, s.logger, http.StatusNotFound, "The requested resource was not found.")
}
