package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// broadcastPath is the sink endpoint the projection is POSTed to.
const broadcastPath = "/v1/realtime/publish"

const sinkRequestTimeout = 5 * time.Second

// ErrSinkRejected is returned when the sink answers with a non-2xx status.
var ErrSinkRejected = errors.New("broadcast sink rejected projection")

// Sink receives a projection of each freshly persisted event. Delivery is
// best-effort: the worker logs failures and moves on without retrying.
type Sink interface {
	Broadcast(ctx context.Context, projection *Projection) error
}

// Projection is the subset of the event sent to the broadcast sink. The
// payload itself is deliberately excluded; realtime consumers fetch it from
// the hot store when they need it.
type Projection struct {
	EventID        string    `json:"eventId"`
	TenantID       string    `json:"tenantId"`
	Source         string    `json:"source"`
	Type           string    `json:"type"`
	TimestampUTC   time.Time `json:"timestampUtc"`
	StreamKey      string    `json:"streamKey"`
	ReceivedAtUTC  time.Time `json:"receivedAtUtc"`
	ProcessedAtUTC time.Time `json:"processedAtUtc"`
	TraceID        string    `json:"traceId"`
}

// BroadcastSink POSTs projections to the configured sink base URL. Any 2xx
// response counts as success.
type BroadcastSink struct {
	baseURL string
	client  *http.Client
}

// NewBroadcastSink creates a sink client for the given base URL, e.g.
// "http://realtime:9000".
func NewBroadcastSink(baseURL string) *BroadcastSink {
	return &BroadcastSink{
		baseURL: baseURL,
		client:  &http.Client{Timeout: sinkRequestTimeout},
	}
}

// Broadcast implements Sink.
func (s *BroadcastSink) Broadcast(ctx context.Context, projection *Projection) error {
	body, err := json.Marshal(projection)
	if err != nil {
		return fmt.Errorf("encode projection: %w", err)
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+broadcastPath, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build sink request: %w", err)
	}

	request.Header.Set("Content-Type", "application/json")

	response, err := s.client.Do(request)
	if err != nil {
		return fmt.Errorf("post to sink: %w", err)
	}

	defer func() {
		_ = response.Body.Close()
	}()

	if response.StatusCode < 200 || response.StatusCode > 299 {
		return fmt.Errorf("%w: status %d", ErrSinkRejected, response.StatusCode)
	}

	return nil
}
