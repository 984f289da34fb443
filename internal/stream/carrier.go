package stream

import (
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel/propagation"
)

// HeaderCarrier adapts Kafka record headers to the OpenTelemetry
// TextMapCarrier interface so W3C trace-context can be extracted on the
// consume side. Header values are the UTF-8 bytes of the textual value.
type HeaderCarrier struct {
	headers []kafka.Header
}

var _ propagation.TextMapCarrier = (*HeaderCarrier)(nil)

// NewHeaderCarrier wraps the headers of a fetched message.
func NewHeaderCarrier(headers []kafka.Header) *HeaderCarrier {
	return &HeaderCarrier{headers: headers}
}

// Get returns the value of the first header with the given key, or "".
func (c *HeaderCarrier) Get(key string) string {
	for _, header := range c.headers {
		if header.Key == key {
			return string(header.Value)
		}
	}

	return ""
}

// Set replaces the header with the given key, appending if absent.
func (c *HeaderCarrier) Set(key, value string) {
	for i, header := range c.headers {
		if header.Key == key {
			c.headers[i].Value = []byte(value)

			return
		}
	}

	c.headers = append(c.headers, kafka.Header{Key: key, Value: []byte(value)})
}

// Keys lists all header keys.
func (c *HeaderCarrier) Keys() []string {
	keys := make([]string, 0, len(c.headers))
	for _, header := range c.headers {
		keys = append(keys, header.Key)
	}

	return keys
}
