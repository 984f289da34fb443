// Package main provides the eventgate processing worker.
//
// The worker drains the durable log, persists each event to the hot store,
// fans out a projection to the realtime sink, and commits the offset once
// the message has reached a terminal state.
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/eventgate-io/eventgate/internal/config"
	"github.com/eventgate-io/eventgate/internal/storage"
	"github.com/eventgate-io/eventgate/internal/stream"
	"github.com/eventgate-io/eventgate/internal/telemetry"
	"github.com/eventgate-io/eventgate/internal/worker"
	"github.com/eventgate-io/eventgate/migrations"
)

// Version information.
const (
	version = "1.0.0-dev"
	name    = "eventgate-worker"
)

const (
	defaultMetricsPort     = "9090"
	metricsReadTimeout     = 5 * time.Second
	metricsWriteTimeout    = 10 * time.Second
	metricsShutdownTimeout = 5 * time.Second
)

func main() {
	versionFlag := flag.Bool("version", false, "show version information")
	flag.Parse()

	if *versionFlag {
		log.Printf("%s v%s\n", name, version)
		os.Exit(0)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: config.GetEnvLogLevel("LOG_LEVEL", slog.LevelInfo),
	}))

	logger.Info("Starting eventgate worker",
		slog.String("service", name),
		slog.String("version", version),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.InitTracing(ctx, name)
	if err != nil {
		logger.Error("Failed to initialize tracing", slog.String("error", err.Error()))
		os.Exit(1)
	}

	storageConfig := storage.LoadConfig()

	conn, err := storage.Connect(ctx, storageConfig)
	if err != nil {
		logger.Error("Failed to connect to database",
			slog.String("database_url", storageConfig.MaskDatabaseURL()),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}

	defer func() {
		_ = conn.Close() // Ensure connection closes on normal shutdown
	}()

	if err := migrations.Apply(conn.DB()); err != nil {
		logger.Error("Failed to apply migrations", slog.String("error", err.Error()))

		_ = conn.Close()
		//nolint:gocritic // Explicit cleanup before os.Exit is intentional (defer won't run)
		os.Exit(1)
	}

	store, err := storage.NewEventStore(conn)
	if err != nil {
		logger.Error("Failed to create event store", slog.String("error", err.Error()))

		_ = conn.Close()
		os.Exit(1)
	}

	fileConfig := config.LoadFile(config.GetEnvStr(config.FilePathEnvVar, config.DefaultFilePath))

	streamConfig := stream.LoadConfig()
	streamConfig.Topic = config.Overlay(streamConfig.Topic, stream.DefaultTopic, fileConfig.Topic)
	streamConfig.ConsumerGroup = config.Overlay(
		streamConfig.ConsumerGroup, stream.DefaultConsumerGroup, fileConfig.ConsumerGroup,
	)

	consumer, err := stream.NewConsumer(streamConfig)
	if err != nil {
		logger.Error("Failed to create consumer", slog.String("error", err.Error()))

		_ = conn.Close()
		os.Exit(1)
	}

	defer func() {
		_ = consumer.Close()
	}()

	logger.Info("Consumer ready",
		slog.String("topic", streamConfig.Topic),
		slog.String("consumer_group", streamConfig.ConsumerGroup),
		slog.Any("brokers", streamConfig.Brokers),
	)

	var sink worker.Sink

	sinkURL := config.Overlay(config.GetEnvStr("EVENTGATE_SINK_URL", ""), "", fileConfig.SinkURL)
	if sinkURL != "" {
		sink = worker.NewBroadcastSink(sinkURL)

		logger.Info("Broadcast sink enabled", slog.String("sink_url", sinkURL))
	} else {
		logger.Warn("Broadcast sink disabled",
			slog.String("note", "Set EVENTGATE_SINK_URL to enable realtime fan-out"),
		)
	}

	metrics := telemetry.NewMetrics()

	metricsServer := startMetricsServer(conn, metrics, logger)

	w := worker.New(consumer, store, sink, metrics, logger)

	if err := w.Run(ctx); err != nil {
		logger.Error("Worker loop failed", slog.String("error", err.Error()))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), metricsShutdownTimeout)
	defer cancel()

	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("Metrics server shutdown failed", slog.String("error", err.Error()))
	}

	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Error("Failed to flush traces", slog.String("error", err.Error()))
	}

	logger.Info("Worker stopped")
}

// startMetricsServer serves /metrics and /health on a sidecar port so the
// worker is scrapeable and probeable without an HTTP API of its own.
func startMetricsServer(conn *storage.Connection, metrics *telemetry.Metrics, logger *slog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", metrics.Handler())
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		if err := conn.HealthCheck(r.Context()); err != nil {
			http.Error(w, "storage unavailable", http.StatusServiceUnavailable)

			return
		}

		_, _ = w.Write([]byte("ok"))
	})

	server := &http.Server{
		Addr:         ":" + config.GetEnvStr("EVENTGATE_WORKER_METRICS_PORT", defaultMetricsPort),
		Handler:      mux,
		ReadTimeout:  metricsReadTimeout,
		WriteTimeout: metricsWriteTimeout,
	}

	go func() {
		logger.Info("Metrics server listening", slog.String("address", server.Addr))

		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Metrics server failed", slog.String("error", err.Error()))
		}
	}()

	return server
}
