package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/eventgate-io/eventgate/internal/api/middleware"
	"github.com/eventgate-io/eventgate/internal/ingestion"
	"github.com/eventgate-io/eventgate/internal/telemetry"
)

const conflictReason = "Idempotency key was reused with a different payload."

// IngestResponse is the 202 body for POST /v1/events.
type IngestResponse struct {
	EventID       string    `json:"eventId"`
	ReceivedAtUTC time.Time `json:"receivedAtUtc"`
	TraceID       string    `json:"traceId"`
	Duplicate     bool      `json:"duplicate"`
}

// IngestHandler handles POST /v1/events: validate, fingerprint, register,
// publish, respond. Registration precedes publish; a publish failure after
// a fresh registration is compensated by unregistering before the 503
// returns, so a client retry can re-register cleanly.
type IngestHandler struct {
	validator *ingestion.Validator
	registry  ingestion.Registry
	publisher ingestion.Publisher
	metrics   *telemetry.Metrics
	logger    *slog.Logger
	tracer    trace.Tracer

	maxBodyBytes int64
	now          func() time.Time
}

// NewIngestHandler creates the ingestion handler.
func NewIngestHandler(
	registry ingestion.Registry,
	publisher ingestion.Publisher,
	metrics *telemetry.Metrics,
	logger *slog.Logger,
	maxBodyBytes int64,
) *IngestHandler {
	return &IngestHandler{
		validator:    ingestion.NewValidator(),
		registry:     registry,
		publisher:    publisher,
		metrics:      metrics,
		logger:       logger,
		tracer:       otel.Tracer("eventgate/api"),
		maxBodyBytes: maxBodyBytes,
		now:          time.Now,
	}
}

// ServeHTTP implements http.Handler. Every terminal outcome, success or
// failure, is recorded in the request metrics.
func (h *IngestHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := h.now()
	recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

	h.handle(recorder, r)

	h.metrics.ObserveRequest(recorder.status, time.Since(start))
}

func (h *IngestHandler) handle(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "ingest_event")
	defer span.End()

	r = r.WithContext(ctx)

	if !hasJSONContentType(r.Header.Get("Content-Type")) {
		WriteError(w, r, h.logger, http.StatusBadRequest, "Content-Type must be application/json.")

		return
	}

	idempotencyKey := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	if idempotencyKey == "" {
		WriteError(w, r, h.logger, http.StatusBadRequest, "Idempotency-Key header is required.")

		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodyBytes)

	var envelope ingestion.Envelope
	if err := json.NewDecoder(r.Body).Decode(&envelope); err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			WriteError(w, r, h.logger, http.StatusRequestEntityTooLarge, "Request body too large.")

			return
		}

		WriteError(w, r, h.logger, http.StatusBadRequest, "Request body is not valid JSON.")

		return
	}

	if err := h.validator.ValidateIngress(&envelope); err != nil {
		WriteError(w, r, h.logger, http.StatusBadRequest, err.Error())

		return
	}

	span.SetAttributes(
		attribute.String("event.id", envelope.EventID),
		attribute.String("event.tenant", envelope.TenantID),
		attribute.String("event.stream", envelope.StreamKey),
	)

	payloadHash, err := envelope.Fingerprint()
	if err != nil {
		WriteError(w, r, h.logger, http.StatusBadRequest, "Payload is not valid JSON.")

		return
	}

	outcome, err := h.registry.TryRegister(ctx, envelope.TenantID, idempotencyKey, payloadHash)
	if err != nil {
		h.logger.Error("Idempotency registration failed",
			slog.String("correlation_id", middleware.GetCorrelationID(ctx)),
			slog.String("tenant_id", envelope.TenantID),
			slog.String("error", err.Error()),
		)
		w.WriteHeader(http.StatusServiceUnavailable)

		return
	}

	traceID := telemetry.TraceIDFromContext(ctx)
	if traceID == "" {
		traceID = middleware.GetCorrelationID(ctx)
	}

	switch outcome {
	case ingestion.RegisterConflict:
		WriteError(w, r, h.logger, http.StatusConflict, conflictReason)

	case ingestion.RegisterDuplicate:
		// Already durably enqueued by a previous attempt; do NOT publish
		// again.
		writeJSON(w, r, h.logger, http.StatusAccepted, IngestResponse{
			EventID:       envelope.EventID,
			ReceivedAtUTC: h.now().UTC(),
			TraceID:       traceID,
			Duplicate:     true,
		})

	case ingestion.RegisterInserted:
		h.publishAndRespond(w, r, &envelope, idempotencyKey, payloadHash, traceID)
	}
}

func (h *IngestHandler) publishAndRespond(
	w http.ResponseWriter,
	r *http.Request,
	envelope *ingestion.Envelope,
	idempotencyKey, payloadHash, traceID string,
) {
	ctx := r.Context()
	receivedAt := h.now().UTC()

	record := ingestion.InflightEvent{
		Envelope:       *envelope,
		IdempotencyKey: idempotencyKey,
		PayloadHash:    payloadHash,
		ReceivedAtUTC:  receivedAt,
		TraceID:        traceID,
	}

	value, err := json.Marshal(record)
	if err != nil {
		h.compensateAndFail(w, ctx, envelope.TenantID, idempotencyKey, err)

		return
	}

	headers := map[string]string{}
	otel.GetTextMapPropagator().Inject(ctx, propagation.MapCarrier(headers))

	if err := h.publisher.Publish(ctx, []byte(envelope.PartitionKey()), value, headers); err != nil {
		h.compensateAndFail(w, ctx, envelope.TenantID, idempotencyKey, err)

		return
	}

	writeJSON(w, r, h.logger, http.StatusAccepted, IngestResponse{
		EventID:       envelope.EventID,
		ReceivedAtUTC: receivedAt,
		TraceID:       traceID,
		Duplicate:     false,
	})
}

// compensateAndFail removes the registration claimed by this request and
// returns a bodyless 503. Unregister is best-effort: if it also fails, the
// orphaned row makes a retry with the same body observe Duplicate and be
// acknowledged without republishing.
func (h *IngestHandler) compensateAndFail(
	w http.ResponseWriter,
	ctx context.Context,
	tenantID, idempotencyKey string,
	cause error,
) {
	h.logger.Error("Event publish failed, compensating registration",
		slog.String("correlation_id", middleware.GetCorrelationID(ctx)),
		slog.String("tenant_id", tenantID),
		slog.String("error", cause.Error()),
	)

	if err := h.registry.Unregister(ctx, tenantID, idempotencyKey); err != nil {
		h.logger.Error("Compensating unregister failed, leaving orphan row",
			slog.String("tenant_id", tenantID),
			slog.String("idempotency_key", idempotencyKey),
			slog.String("error", err.Error()),
		)
	}

	w.WriteHeader(http.StatusServiceUnavailable)
}

// statusRecorder wraps http.ResponseWriter to capture the terminal status
// for request metrics.
type statusRecorder struct {
	http.ResponseWriter

	status int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

// hasJSONContentType checks if Content-Type header starts with "application/json".
// This allows charset parameters (e.g., "application/json; charset=utf-8").
func hasJSONContentType(contentType string) bool {
	return strings.HasPrefix(strings.TrimSpace(contentType), "application/json")
}
