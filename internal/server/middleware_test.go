package server

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestRequestIDMiddleware(t *testing.T) {
	var ctxID string
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctxID, _ = r.Context().Value(RequestIDKey).(string)
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest("GET", "/offers", nil)
	rec := httptest.NewRecorder()
	RequestIDMiddleware(handler).ServeHTTP(rec, req)

	headerID := rec.Header().Get("X-Request-ID")
	if headerID == "" {
		t.Fatal("X-Request-ID header not set")
	}
	if ctxID != headerID {
		t.Errorf("context id %q != header id %q", ctxID, headerID)
	}
}

func TestLoggingMiddlewareEmitsFields(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		AddLogField(r.Context(), "thread_id", "thread-1")
		w.WriteHeader(http.StatusAccepted)
	})

	req := httptest.NewRequest("POST", "/campaigns", nil)
	rec := httptest.NewRecorder()
	LoggingMiddleware(logger)(handler).ServeHTTP(rec, req)

	out := buf.String()
	if !strings.Contains(out, `"status":202`) {
		t.Errorf("completion log missing status: %s", out)
	}
	if !strings.Contains(out, `"thread_id":"thread-1"`) {
		t.Errorf("handler-attached field missing: %s", out)
	}
}

func TestTimeoutMiddlewareCancelsContext(t *testing.T) {
	done := make(chan error, 1)
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
			done <- r.Context().Err()
		case <-time.After(2 * time.Second):
			done <- nil
		}
	})

	req := httptest.NewRequest("GET", "/offers", nil)
	rec := httptest.NewRecorder()
	TimeoutMiddleware(10 * time.Millisecond)(handler).ServeHTTP(rec, req)

	if err := <-done; err != context.DeadlineExceeded {
		t.Errorf("handler context error = %v, want deadline exceeded", err)
	}
}

func TestAddLogFieldWithoutMiddlewareIsNoop(t *testing.T) {
	AddLogField(context.Background(), "key", "value")
}
