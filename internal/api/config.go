// Package api provides the HTTP ingress server for the event gateway.
package api

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/eventgate-io/eventgate/internal/config"
)

const (
	defaultPort           int   = 8080
	maxPort               int   = 65535
	defaultHost                 = "0.0.0.0"
	defaultTimeout              = 30 * time.Second
	defaultLogLevel             = slog.LevelInfo
	defaultMaxRequestSize int64 = 262144 // 256 KiB ingestion body cap
)

var (
	// ErrInvalidPort indicates the port number is outside valid range (1-65535).
	ErrInvalidPort = errors.New("invalid port")

	// ErrEmptyHost indicates the server host address is empty.
	ErrEmptyHost = errors.New("host cannot be empty")

	// ErrInvalidReadTimeout indicates the read timeout is zero or negative.
	ErrInvalidReadTimeout = errors.New("read timeout must be positive")

	// ErrInvalidWriteTimeout indicates the write timeout is zero or negative.
	ErrInvalidWriteTimeout = errors.New("write timeout must be positive")

	// ErrInvalidShutdownTimeout indicates the shutdown timeout is zero or negative.
	ErrInvalidShutdownTimeout = errors.New("shutdown timeout must be positive")

	// ErrInvalidMaxRequestSize indicates the max request size is zero or negative.
	ErrInvalidMaxRequestSize = errors.New("max request size must be positive")
)

// ServerConfig holds HTTP server configuration.
// Pure configuration only - no runtime dependencies.
type ServerConfig struct {
	Port            int
	Host            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	LogLevel        slog.Level
	MaxRequestSize  int64
}

// LoadServerConfig loads server configuration from environment variables with sensible defaults.
func LoadServerConfig() *ServerConfig {
	return &ServerConfig{
		Port:            config.GetEnvInt("EVENTGATE_SERVER_PORT", defaultPort),
		Host:            config.GetEnvStr("EVENTGATE_SERVER_HOST", defaultHost),
		ReadTimeout:     config.GetEnvDuration("EVENTGATE_SERVER_READ_TIMEOUT", defaultTimeout),
		WriteTimeout:    config.GetEnvDuration("EVENTGATE_SERVER_WRITE_TIMEOUT", defaultTimeout),
		ShutdownTimeout: config.GetEnvDuration("EVENTGATE_SERVER_SHUTDOWN_TIMEOUT", defaultTimeout),
		LogLevel:        config.GetEnvLogLevel("LOG_LEVEL", defaultLogLevel),
		MaxRequestSize:  config.GetEnvInt64("EVENTGATE_MAX_REQUEST_SIZE", defaultMaxRequestSize),
	}
}

// Validate checks if the server configuration is valid.
func (c *ServerConfig) Validate() error {
	if c.Port < 1 || c.Port > maxPort {
		return fmt.Errorf("%w: %d", ErrInvalidPort, c.Port)
	}

	if c.Host == "" {
		return ErrEmptyHost
	}

	if c.ReadTimeout <= 0 {
		return ErrInvalidReadTimeout
	}

	if c.WriteTimeout <= 0 {
		return ErrInvalidWriteTimeout
	}

	if c.ShutdownTimeout <= 0 {
		return ErrInvalidShutdownTimeout
	}

	if c.MaxRequestSize <= 0 {
		return ErrInvalidMaxRequestSize
	}

	return nil
}

// Address returns the server address in host:port format.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
