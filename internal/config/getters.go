// Package config provides functions for reading config settings from ENV,
// with an optional YAML file overlay, plus shared test utilities.
package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// GetEnvStr returns a string environment variable value or a default if not set.
//
// Example:
//
//	s := GetEnvStr("HOST", "localhost")
func GetEnvStr(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}

	return defaultValue
}

// GetEnvInt returns an int environment variable value or a default if not set
// or unparseable.
func GetEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}

	return defaultValue
}

// GetEnvInt64 returns an int64 environment variable value or a default if not
// set or unparseable.
func GetEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intValue
		}
	}

	return defaultValue
}

// GetEnvBool returns a bool environment variable value or a default if not set
// or unparseable. Accepts the forms understood by strconv.ParseBool.
func GetEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}

	return defaultValue
}

// GetEnvDuration returns a duration environment variable value (Go duration
// syntax, e.g. "750ms", "5m") or a default if not set or unparseable.
func GetEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}

	return defaultValue
}

// GetEnvLogLevel returns a slog level parsed from the environment variable or
// a default if not set or unrecognized.
func GetEnvLogLevel(key string, defaultValue slog.Level) slog.Level {
	if value := os.Getenv(key); value != "" {
		switch strings.ToLower(strings.TrimSpace(value)) {
		case "debug":
			return slog.LevelDebug
		case "info":
			return slog.LevelInfo
		case "warn", "warning":
			return slog.LevelWarn
		case "error":
			return slog.LevelError
		}
	}

	return defaultValue
}

// ParseCommaSeparatedList splits a comma-separated value into trimmed,
// non-empty elements. Returns nil for a blank input.
func ParseCommaSeparatedList(value string) []string {
	if strings.TrimSpace(value) == "" {
		return nil
	}

	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))

	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}
