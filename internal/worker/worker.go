// Package worker provides the processing engine: a sequential consumer loop
// that decodes, validates, persists, and fans out each event, committing the
// offset only after the message reached a terminal state.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/eventgate-io/eventgate/internal/ingestion"
	"github.com/eventgate-io/eventgate/internal/stream"
	"github.com/eventgate-io/eventgate/internal/telemetry"
)

// reasonInvalidJSON is the dead-letter reason for undecodable messages.
const reasonInvalidJSON = "invalid-json"

// Backoff bounds for retrying a failed dead-letter write. The write is
// retried in place; the loop never advances past a message that has no
// durable trace.
const (
	deadLetterRetryInitialWait = 100 * time.Millisecond
	deadLetterRetryMaxWait     = 5 * time.Second
)

// Consumer is the message source the worker drains. Satisfied by
// stream.Consumer; faked in tests.
type Consumer interface {
	Fetch(ctx context.Context) (kafka.Message, error)
	Commit(ctx context.Context, message kafka.Message) error
}

// Worker runs the per-message state machine. Messages are processed
// strictly sequentially; that, together with key-hashed partitioning on the
// produce side, is what preserves per-stream ordering.
type Worker struct {
	consumer  Consumer
	store     ingestion.Store
	sink      Sink // nil disables fan-out
	metrics   *telemetry.Metrics
	validator *ingestion.Validator
	logger    *slog.Logger
	tracer    trace.Tracer
	now       func() time.Time
}

// New creates a worker. sink may be nil when no broadcast sink is
// configured.
func New(
	consumer Consumer,
	store ingestion.Store,
	sink Sink,
	metrics *telemetry.Metrics,
	logger *slog.Logger,
) *Worker {
	return &Worker{
		consumer:  consumer,
		store:     store,
		sink:      sink,
		metrics:   metrics,
		validator: ingestion.NewValidator(),
		logger:    logger,
		tracer:    otel.Tracer("eventgate/worker"),
		now:       time.Now,
	}
}

// Run drains the consumer until ctx is cancelled. Fetch errors other than
// cancellation are logged and retried; the loop itself never dies over a
// single bad message.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("Worker loop started")

	for {
		message, err := w.consumer.Fetch(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				w.logger.Info("Worker loop stopping", slog.String("reason", ctx.Err().Error()))

				return nil
			}

			w.logger.Error("Fetch failed, retrying", slog.String("error", err.Error()))

			continue
		}

		w.processMessage(ctx, message)
	}
}

// processMessage walks one message through the state machine:
//
//	Decode → Validate → Persist → Fan-out → Commit
//
// Any failure before Commit routes to DeadLetter. A failed dead-letter
// write is retried in place until it lands or shutdown interrupts it, so
// every message reaches a terminal state before the next one is fetched.
func (w *Worker) processMessage(ctx context.Context, message kafka.Message) {
	// Continue the trace the gateway started.
	ctx = otel.GetTextMapPropagator().Extract(ctx, stream.NewHeaderCarrier(message.Headers))

	ctx, span := w.tracer.Start(ctx, "process_event")
	defer span.End()

	var record ingestion.InflightEvent
	if err := json.Unmarshal(message.Value, &record); err != nil {
		// Tenant is unknowable for an undecodable message.
		w.deadLetter(ctx, message, "", reasonInvalidJSON)

		return
	}

	span.SetAttributes(
		attribute.String("event.id", record.EventID),
		attribute.String("event.tenant", record.TenantID),
	)

	if err := w.validator.ValidateInflight(&record); err != nil {
		w.deadLetter(ctx, message, record.TenantID, err.Error())

		return
	}

	outcome, err := w.store.PersistEvent(ctx, &record)
	if err != nil {
		w.deadLetter(ctx, message, record.TenantID, err.Error())

		return
	}

	if outcome == ingestion.PersistProcessed {
		now := w.now().UTC()
		w.metrics.ObservePersist(now.Sub(record.TimestampUTC), now.Sub(record.ReceivedAtUTC))

		w.fanOut(ctx, &record, now)
	}

	// Duplicates skip fan-out but still count as success: the message
	// reached its terminal state without loss.
	w.commit(ctx, message)
	w.metrics.ObserveOutcome(telemetry.ResultSuccess)
}

// fanOut delivers the projection best-effort. A sink failure is logged and
// never blocks the commit.
func (w *Worker) fanOut(ctx context.Context, record *ingestion.InflightEvent, processedAt time.Time) {
	if w.sink == nil {
		return
	}

	ctx, span := w.tracer.Start(ctx, "fan_out")
	defer span.End()

	projection := &Projection{
		EventID:        record.EventID,
		TenantID:       record.TenantID,
		Source:         record.Source,
		Type:           record.Type,
		TimestampUTC:   record.TimestampUTC,
		StreamKey:      record.StreamKey,
		ReceivedAtUTC:  record.ReceivedAtUTC,
		ProcessedAtUTC: processedAt,
		TraceID:        record.TraceID,
	}

	if err := w.sink.Broadcast(ctx, projection); err != nil {
		w.logger.Warn("Broadcast sink delivery failed",
			slog.String("event_id", record.EventID),
			slog.String("tenant_id", record.TenantID),
			slog.String("error", err.Error()),
		)
	}
}

// deadLetter records the message and commits. A failed write is retried on
// the SAME message with backoff: the fetch position must not move past an
// offset that left no durable trace, because committing any later offset
// would cover this one and the message would be lost. Shutdown interrupts
// the retry with the offset uncommitted, so the message is redelivered on
// the next start.
func (w *Worker) deadLetter(ctx context.Context, message kafka.Message, tenantID, reason string) {
	wait := deadLetterRetryInitialWait

	for {
		err := w.store.WriteDeadLetter(ctx, tenantID, message.Value, reason)
		if err == nil {
			break
		}

		w.logger.Error("Dead letter write failed, retrying same message",
			slog.Int64("offset", message.Offset),
			slog.String("tenant_id", tenantID),
			slog.String("reason", reason),
			slog.Duration("retry_in", wait),
			slog.String("error", err.Error()),
		)
		w.metrics.ObserveOutcome(telemetry.ResultRetry)

		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}

		wait = min(wait*2, deadLetterRetryMaxWait)
	}

	w.commit(ctx, message)
	w.metrics.ObserveOutcome(telemetry.ResultDLQ)
}

func (w *Worker) commit(ctx context.Context, message kafka.Message) {
	if err := w.consumer.Commit(ctx, message); err != nil {
		// The message stays uncommitted and will be redelivered; the
		// processed_events barrier absorbs the replay.
		w.logger.Error("Offset commit failed",
			slog.Int64("offset", message.Offset),
			slog.String("error", err.Error()),
		)
	}
}
