package middleware

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func TestCorrelationIDGeneratesWhenMissing(t *testing.T) {
	var captured string

	handler := CorrelationID()(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		captured = GetCorrelationID(r.Context())
	}))

	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, httptest.NewRequest("GET", "/", nil))

	assert.Len(t, captured, 16)
	assert.Equal(t, captured, recorder.Header().Get("X-Correlation-ID"))
}

func TestCorrelationIDHonorsInboundHeader(t *testing.T) {
	var captured string

	handler := CorrelationID()(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		captured = GetCorrelationID(r.Context())
	}))

	request := httptest.NewRequest("GET", "/", nil)
	request.Header.Set("X-Correlation-ID", "client-supplied-id")

	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, request)

	assert.Equal(t, "client-supplied-id", captured)
	assert.Equal(t, "client-supplied-id", recorder.Header().Get("X-Correlation-ID"))
}

func TestGetCorrelationIDWithoutMiddleware(t *testing.T) {
	assert.Equal(t, "unknown", GetCorrelationID(httptest.NewRequest("GET", "/", nil).Context()))
}

func TestRecoveryConvertsPanicTo500(t *testing.T) {
	handler := Recovery(discardLogger())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, httptest.NewRequest("GET", "/v1/events", nil))

	require.Equal(t, http.StatusInternalServerError, recorder.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &body))
	assert.Contains(t, body, "error")
}

func TestRequestLoggerPreservesStatusCode(t *testing.T) {
	handler := RequestLogger(discardLogger())(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))

	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, httptest.NewRequest("POST", "/v1/events", nil))

	assert.Equal(t, http.StatusAccepted, recorder.Code)
}

func TestApplyOrdersMiddlewareOutsideIn(t *testing.T) {
	var order []string

	mark := func(name string) Option {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}

	handler := Apply(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}),
		mark("first"), mark("second"))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/", nil))

	assert.Equal(t, []string{"first", "second"}, order)
}
