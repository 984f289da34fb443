// Package main provides the eventgate ingestion gateway.
//
// The gateway accepts events over HTTP, registers them in the idempotency
// registry, and appends them to the durable log for asynchronous processing.
package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"

	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/eventgate-io/eventgate/internal/api"
	"github.com/eventgate-io/eventgate/internal/api/middleware"
	"github.com/eventgate-io/eventgate/internal/config"
	"github.com/eventgate-io/eventgate/internal/storage"
	"github.com/eventgate-io/eventgate/internal/stream"
	"github.com/eventgate-io/eventgate/internal/telemetry"
	"github.com/eventgate-io/eventgate/migrations"
)

// Version information.
const (
	version = "1.0.0-dev"
	name    = "eventgate-gateway"
)

func main() {
	versionFlag := flag.Bool("version", false, "show version information")
	flag.Parse()

	if *versionFlag {
		log.Printf("%s v%s\n", name, version)
		os.Exit(0)
	}

	serverConfig := api.LoadServerConfig()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: serverConfig.LogLevel,
	}))

	logger.Info("Starting eventgate gateway",
		slog.String("service", name),
		slog.String("version", version),
	)

	logger.Info("Loaded server configuration",
		slog.String("host", serverConfig.Host),
		slog.Int("port", serverConfig.Port),
		slog.Duration("read_timeout", serverConfig.ReadTimeout),
		slog.Duration("write_timeout", serverConfig.WriteTimeout),
		slog.Duration("shutdown_timeout", serverConfig.ShutdownTimeout),
		slog.Int64("max_request_size", serverConfig.MaxRequestSize),
		slog.String("log_level", serverConfig.LogLevel.String()),
	)

	ctx := context.Background()

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

	logger.Info("Hot store ready",
		slog.String("database_url", storageConfig.MaskDatabaseURL()),
	)

	fileConfig := config.LoadFile(config.GetEnvStr(config.FilePathEnvVar, config.DefaultFilePath))

	streamConfig := stream.LoadConfig()
	streamConfig.Topic = config.Overlay(streamConfig.Topic, stream.DefaultTopic, fileConfig.Topic)

	producer, err := stream.NewProducer(streamConfig)
	if err != nil {
		logger.Error("Failed to create producer", slog.String("error", err.Error()))

		_ = conn.Close()
		os.Exit(1)
	}

	defer func() {
		_ = producer.Close()
	}()

	logger.Info("Producer ready",
		slog.String("topic", streamConfig.Topic),
		slog.Any("brokers", streamConfig.Brokers),
	)

	registry, err := storage.NewIdempotencyRegistry(conn)
	if err != nil {
		logger.Error("Failed to create idempotency registry", slog.String("error", err.Error()))

		_ = producer.Close()
		_ = conn.Close()
		os.Exit(1)
	}

	store, err := storage.NewEventStore(conn)
	if err != nil {
		logger.Error("Failed to create event store", slog.String("error", err.Error()))

		_ = producer.Close()
		_ = conn.Close()
		os.Exit(1)
	}

	var rateLimiter middleware.RateLimiter

	rateLimitConfig := middleware.LoadRateLimitConfig()
	if rateLimitConfig.Enabled {
		rateLimiter = middleware.NewInMemoryRateLimiter(rateLimitConfig)

		logger.Info("Rate limiter initialized",
			slog.Int("global_rps", rateLimitConfig.GlobalRPS),
			slog.Int("client_rps", rateLimitConfig.ClientRPS),
			slog.Int("max_clients", rateLimitConfig.MaxClients),
		)
	}

	server := api.NewServer(serverConfig, registry, producer, store, telemetry.NewMetrics(), rateLimiter)

	if err := server.Start(); err != nil {
		logger.Error("Server failed to start",
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}

	if err := shutdownTracing(ctx); err != nil {
		logger.Error("Failed to flush traces", slog.String("error", err.Error()))
	}

	logger.Info("Gateway stopped")
}
