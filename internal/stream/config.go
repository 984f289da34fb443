// Package stream provides the Kafka producer and consumer for the event
// pipeline, plus the trace-context header carrier shared by both sides.
package stream

import (
	"errors"
	"time"

	"github.com/eventgate-io/eventgate/internal/config"
)

// DefaultTopic is the event log topic.
const DefaultTopic = "events.raw.v1"

// DefaultConsumerGroup is the stable worker group identity. Keeping it
// stable across restarts is what lets the broker resume from committed
// offsets instead of rewinding to earliest.
const DefaultConsumerGroup = "eventgate-workers"

// defaultPollWait bounds a single consumer poll so shutdown stays
// responsive.
const defaultPollWait = time.Second

// ErrNoBrokers is returned when no Kafka bootstrap endpoints are configured.
var ErrNoBrokers = errors.New("kafka brokers cannot be empty")

// Config holds Kafka connection configuration for both producer and
// consumer.
type Config struct {
	Brokers       []string
	Topic         string
	ConsumerGroup string
	PollWait      time.Duration
}

// LoadConfig loads Kafka configuration from environment variables with
// fallback to defaults. Brokers have no default; Validate rejects an empty
// list.
func LoadConfig() *Config {
	return &Config{
		Brokers:       config.ParseCommaSeparatedList(config.GetEnvStr("EVENTGATE_KAFKA_BROKERS", "")),
		Topic:         config.GetEnvStr("EVENTGATE_TOPIC", DefaultTopic),
		ConsumerGroup: config.GetEnvStr("EVENTGATE_CONSUMER_GROUP", DefaultConsumerGroup),
		PollWait:      config.GetEnvDuration("EVENTGATE_POLL_WAIT", defaultPollWait),
	}
}

// Validate checks if the Kafka configuration is valid.
func (c *Config) Validate() error {
	if len(c.Brokers) == 0 {
		return ErrNoBrokers
	}

	return nil
}
