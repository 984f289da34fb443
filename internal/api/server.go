package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/eventgate-io/eventgate/internal/api/middleware"
	"github.com/eventgate-io/eventgate/internal/ingestion"
	"github.com/eventgate-io/eventgate/internal/telemetry"
)

// Server represents the gateway HTTP server.
type Server struct {
	httpServer  *http.Server
	logger      *slog.Logger
	config      *ServerConfig
	startTime   time.Time
	ingest      *IngestHandler
	store       ingestion.Store
	metrics     *telemetry.Metrics
	rateLimiter middleware.RateLimiter
}

// NewServer creates the gateway server with structured logging and the
// middleware stack.
//
// Dependencies are injected explicitly rather than being part of
// ServerConfig: configuration (what) stays separated from dependencies
// (how).
//
// Parameters:
//   - cfg: Pure server configuration (port, timeouts, body cap)
//   - registry: Idempotency registry
//   - publisher: Durable log producer
//   - store: Hot store, used only for the readiness probe here
//   - metrics: Pipeline metrics, also served on GET /metrics
//   - rateLimiter: Rate limiter implementation (nil disables rate limiting)
func NewServer(
	cfg *ServerConfig,
	registry ingestion.Registry,
	publisher ingestion.Publisher,
	store ingestion.Store,
	metrics *telemetry.Metrics,
	rateLimiter middleware.RateLimiter,
) *Server {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}))

	server := &Server{
		logger:      logger,
		config:      cfg,
		ingest:      NewIngestHandler(registry, publisher, metrics, logger, cfg.MaxRequestSize),
		store:       store,
		metrics:     metrics,
		rateLimiter: rateLimiter,
	}

	mux := http.NewServeMux()
	server.setupRoutes(mux)

	if rateLimiter == nil {
		logger.Warn("RateLimiter not configured - rate limiting middleware disabled")
	}

	// Middleware executes in the order listed (top-to-bottom):
	//   1. CorrelationID - attach an id before anything can fail
	//   2. Recovery - catch panics in all downstream handlers
	//   3. RateLimit - block floods before expensive work (optional)
	//   4. RequestLogger - log only requests that passed the limiter
	handler := middleware.Apply(mux,
		middleware.WithCorrelationID(),
		middleware.WithRecovery(logger),
		middleware.WithRateLimit(rateLimiter, logger),
		middleware.WithRequestLogger(logger),
	)

	server.httpServer = &http.Server{
		Addr:         cfg.Address(),
		Handler:      handler,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return server
}

// Start starts the HTTP server and blocks until shutdown.
// It handles graceful shutdown on SIGINT and SIGTERM signals.
func (s *Server) Start() error {
	if err := s.config.Validate(); err != nil {
		return fmt.Errorf("invalid server configuration: %w", err)
	}

	s.startTime = time.Now()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	serverErrors := make(chan error, 1)

	go func() {
		s.logger.Info("Starting eventgate API server",
			slog.String("address", s.config.Address()),
			slog.Duration("read_timeout", s.config.ReadTimeout),
			slog.Duration("write_timeout", s.config.WriteTimeout),
			slog.Int64("max_request_size", s.config.MaxRequestSize),
		)

		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrors <- fmt.Errorf("server failed to start: %w", err)
		}
	}()

	select {
	case err := <-serverErrors:
		return err
	case sig := <-stop:
		s.logger.Info("Received shutdown signal", slog.String("signal", sig.String()))

		return s.shutdown()
	}
}

// shutdown drains in-flight requests within the configured grace period.
func (s *Server) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()

	s.logger.Info("Initiating server shutdown",
		slog.Duration("shutdown_timeout", s.config.ShutdownTimeout),
	)

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	// Stop the rate limiter's background cleanup goroutine.
	if limiter, ok := s.rateLimiter.(io.Closer); ok {
		if err := limiter.Close(); err != nil {
			s.logger.Error("Failed to close rate limiter", slog.String("error", err.Error()))
		}
	}

	s.logger.Info("Server shutdown completed successfully")

	return nil
}
