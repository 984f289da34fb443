package config

import (
	"errors"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"
)

// DefaultFilePath is the default location for the optional eventgate
// configuration file. Hidden-file format following common tool conventions.
const DefaultFilePath = ".eventgate.yaml"

// FilePathEnvVar overrides the config file location.
const FilePathEnvVar = "EVENTGATE_CONFIG_PATH"

// File holds the optional YAML configuration overlay. Environment variables
// always take precedence over file values; the file exists so deployments can
// pin pipeline wiring (topic, group, sink) in one reviewable artifact.
type File struct {
	Topic         string `yaml:"topic"`
	ConsumerGroup string `yaml:"consumer_group"` //nolint:tagliatelle // snake_case is intentional for YAML config files
	SinkURL       string `yaml:"sink_url"`       //nolint:tagliatelle
}

// LoadFile loads the configuration file at path.
//
// Behavior:
//   - Returns an empty File (not an error) if the file doesn't exist - the file is optional
//   - Returns an empty File + logs a warning if the YAML is invalid (graceful degradation)
//   - Returns the populated File on success
func LoadFile(path string) *File {
	cfg := &File{}

	data, err := os.ReadFile(path) //nolint:gosec // path is from trusted config source
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			slog.Debug("Config file not found, continuing with env-only configuration",
				slog.String("path", path))

			return cfg
		}

		slog.Warn("Failed to read config file, continuing with env-only configuration",
			slog.String("path", path),
			slog.String("error", err.Error()))

		return cfg
	}

	if len(data) == 0 {
		return cfg
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		slog.Warn("Failed to parse config file, continuing with env-only configuration",
			slog.String("path", path),
			slog.String("error", err.Error()))

		return &File{}
	}

	return cfg
}

// Overlay returns value unless it equals fallback, in which case the file
// value (when non-empty) wins. This keeps env-var precedence: an env var that
// was explicitly set differs from the default and is returned untouched.
func Overlay(value, fallback, fileValue string) string {
	if value == fallback && fileValue != "" {
		return fileValue
	}

	return value
}
