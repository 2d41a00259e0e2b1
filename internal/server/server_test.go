package server

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestRequestIDMiddleware_Generates(t *testing.T) {
	var seen string
	handler := RequestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetRequestID(r.Context())
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/proxy/stripe/v1/balance", nil))

	if seen == "" {
		t.Fatal("no request id in context")
	}
	if got := rec.Header().Get("X-Request-ID"); got != seen {
		t.Errorf("response header = %q, context = %q", got, seen)
	}
}

func TestRequestIDMiddleware_HonorsInbound(t *testing.T) {
	handler := RequestIDMiddleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))

	req := httptest.NewRequest("GET", "/healthz", nil)
	req.Header.Set("X-Request-ID", "caller-supplied-id")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if got := rec.Header().Get("X-Request-ID"); got != "caller-supplied-id" {
		t.Errorf("request id = %q, want caller-supplied-id", got)
	}
}

func TestAddLogFieldAndError(t *testing.T) {
	fields := make(map[string]string)
	ctx := context.WithValue(context.Background(), logFieldsKey{}, fields)

	AddLogField(ctx, "agent_id", "agent_1")
	AddLogField(ctx, "empty", "")
	AddError(ctx, errors.New("boom"))
	AddError(ctx, nil)

	if fields["agent_id"] != "agent_1" {
		t.Errorf("agent_id = %q", fields["agent_id"])
	}
	if _, ok := fields["empty"]; ok {
		t.Error("empty value stored")
	}
	if fields["error"] != "boom" {
		t.Errorf("error = %q", fields["error"])
	}

	// No-op without the middleware's map in context.
	AddLogField(context.Background(), "k", "v")
}

func TestTimeoutMiddleware(t *testing.T) {
	var deadlineSet bool
	handler := TimeoutMiddleware(50 * time.Millisecond)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, deadlineSet = r.Context().Deadline()
	}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/", nil))
	if !deadlineSet {
		t.Error("no deadline on request context")
	}
}

type fakeHealth struct {
	pingErr error
	paused  bool
}

func (f *fakeHealth) Ping(context.Context) error { return f.pingErr }
func (f *fakeHealth) Paused() bool               { return f.paused }

func TestHealthz(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	t.Run("healthy", func(t *testing.T) {
		srv := New(0, time.Second, logger, &fakeHealth{})
		rec := httptest.NewRecorder()
		srv.Router.ServeHTTP(rec, httptest.NewRequest("GET", "/healthz", nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", rec.Code)
		}
	})

	t.Run("storage down", func(t *testing.T) {
		srv := New(0, time.Second, logger, &fakeHealth{pingErr: errors.New("disk gone")})
		rec := httptest.NewRecorder()
		srv.Router.ServeHTTP(rec, httptest.NewRequest("GET", "/healthz", nil))
		if rec.Code != http.StatusServiceUnavailable {
			t.Fatalf("status = %d, want 503", rec.Code)
		}
	})
}
