package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func discardLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

// asSubject marks every request as coming from subject, the way the actor
// middleware does after authentication.
func asSubject(subject string) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			SetSubject(r.Context(), subject)
			next.ServeHTTP(w, r)
		})
	}
}

func TestChainOrderSkipsNil(t *testing.T) {
	var order []string
	mark := func(name string) Middleware {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}
	h := Chain(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { order = append(order, "handler") }), mark("a"), nil, mark("b"))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	if strings.Join(order, ",") != "a,b,handler" {
		t.Fatalf("unexpected order: %v", order)
	}
}

func TestWithRequestIDEchoesHeader(t *testing.T) {
	var seen string
	h := WithRequestID(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		seen = RequestIDFromContext(r.Context())
	}))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "req-123")
	rw := httptest.NewRecorder()
	h.ServeHTTP(rw, req)
	if seen != "req-123" || rw.Header().Get(RequestIDHeader) != "req-123" {
		t.Fatalf("request id not propagated: ctx=%q header=%q", seen, rw.Header().Get(RequestIDHeader))
	}
}

func TestAccessLogCarriesSubjectAndAnnotations(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	h := Chain(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		Annotate(r.Context(), "payment_id", "pay-1")
		Annotate(r.Context(), "payment_id", "pay-2")
		Annotate(r.Context(), "ignored", "")
		w.WriteHeader(http.StatusCreated)
	}), WithRequestID, WithAccessLog(logger), asSubject("staff-7"))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/api/v1/payments", nil))

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("access log is not one json line: %v (%q)", err, buf.String())
	}
	if line["subject"] != "staff-7" || line["payment_id"] != "pay-2" || line["status"] != float64(http.StatusCreated) {
		t.Fatalf("unexpected access log line: %v", line)
	}
	if _, ok := line["ignored"]; ok {
		t.Fatal("empty annotations must be dropped")
	}
	if id, _ := line["request_id"].(string); len(id) != 32 {
		t.Fatalf("expected generated request id, got %v", line["request_id"])
	}
}

func TestRateLimitBudgetsPerSubject(t *testing.T) {
	limiter := NewMemoryLimiter(2, time.Minute)
	ok := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })

	send := func(subject string) *httptest.ResponseRecorder {
		h := Chain(ok, WithRequestID, asSubject(subject), RateLimit(limiter, RateLimitOptions{}))
		req := httptest.NewRequest(http.MethodPost, "/api/v1/appointments", nil)
		req.RemoteAddr = "10.0.0.1:5555"
		rw := httptest.NewRecorder()
		h.ServeHTTP(rw, req)
		return rw
	}

	for i := 0; i < 2; i++ {
		if rw := send("staff-1"); rw.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i, rw.Code)
		}
	}
	rw := send("staff-1")
	if rw.Code != http.StatusTooManyRequests || rw.Header().Get("Retry-After") != "60" {
		t.Fatalf("expected 429 with Retry-After 60, got %d %q", rw.Code, rw.Header().Get("Retry-After"))
	}
	if !strings.Contains(rw.Body.String(), `"code":"rate_limited"`) {
		t.Fatalf("expected json error body, got %q", rw.Body.String())
	}
	if rw := send("staff-2"); rw.Code != http.StatusOK {
		t.Fatalf("another staff member behind the same address must have its own budget, got %d", rw.Code)
	}
}

func TestCallerKeyFallsBackToClientAddress(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/payments/webhooks/stripe", nil)
	req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	if got := CallerKey(req); got != "ip:203.0.113.9" {
		t.Fatalf("unexpected key %q", got)
	}
}

type failingLimiter struct{}

func (failingLimiter) Allow(context.Context, string) (bool, error) {
	return false, fmt.Errorf("redis down")
}
func (failingLimiter) Window() time.Duration { return time.Minute }

func TestRateLimitFailOpenAndClosed(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
	for _, tc := range []struct {
		failOpen bool
		want     int
	}{{true, http.StatusOK}, {false, http.StatusServiceUnavailable}} {
		h := RateLimit(failingLimiter{}, RateLimitOptions{Logger: discardLogger(), FailOpen: tc.failOpen})(ok)
		rw := httptest.NewRecorder()
		h.ServeHTTP(rw, httptest.NewRequest(http.MethodGet, "/", nil))
		if rw.Code != tc.want {
			t.Fatalf("failOpen=%v: expected %d, got %d", tc.failOpen, tc.want, rw.Code)
		}
	}
}

func TestMemoryLimiterSweepsExpiredWindows(t *testing.T) {
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	l := NewMemoryLimiter(5, time.Minute)
	l.now = func() time.Time { return now }
	for i := 0; i < 100; i++ {
		_, _ = l.Allow(context.Background(), fmt.Sprintf("ip:10.0.0.%d", i))
	}
	now = now.Add(2 * time.Minute)
	_, _ = l.Allow(context.Background(), "ip:10.0.1.1")
	if got := l.Tracked(); got != 1 {
		t.Fatalf("expected expired windows to be dropped, %d tracked", got)
	}
}

func TestWithIdempotencyReplaysCompletedResponse(t *testing.T) {
	var calls atomic.Int32
	h := Chain(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		n := calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = fmt.Fprintf(w, `{"call":%d}`, n)
	}), WithRequestID, asSubject("staff-1"), WithIdempotency(NewMemoryIdempotencyStore(), time.Minute, discardLogger()))

	send := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/payments", strings.NewReader(`{}`))
		req.Header.Set(IdempotencyKeyHeader, "key-1")
		rw := httptest.NewRecorder()
		h.ServeHTTP(rw, req)
		return rw
	}

	first := send()
	second := send()
	if calls.Load() != 1 {
		t.Fatalf("expected handler to run once, ran %d times", calls.Load())
	}
	if second.Code != http.StatusCreated || second.Body.String() != first.Body.String() {
		t.Fatalf("expected replay of %q, got %d %q", first.Body.String(), second.Code, second.Body.String())
	}
	if second.Header().Get(ReplayedHeader) != "true" {
		t.Fatal("expected replay marker header")
	}
}

func TestWithIdempotencyKeysAreScopedToTheCaller(t *testing.T) {
	store := NewMemoryIdempotencyStore()
	var calls atomic.Int32
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusCreated)
		_, _ = io.WriteString(w, SubjectFromContext(r.Context()))
	})

	send := func(subject string) *httptest.ResponseRecorder {
		h := Chain(handler, WithRequestID, asSubject(subject), WithIdempotency(store, time.Minute, nil))
		req := httptest.NewRequest(http.MethodPost, "/api/v1/appointments", nil)
		req.Header.Set(IdempotencyKeyHeader, "shared-key")
		rw := httptest.NewRecorder()
		h.ServeHTTP(rw, req)
		return rw
	}

	first := send("staff-1")
	second := send("staff-2")
	if calls.Load() != 2 {
		t.Fatalf("expected each caller to reach the handler, calls=%d", calls.Load())
	}
	if first.Body.String() != "staff-1" || second.Body.String() != "staff-2" {
		t.Fatalf("caller received another caller's response: %q / %q", first.Body.String(), second.Body.String())
	}
	if second.Header().Get(ReplayedHeader) != "" {
		t.Fatal("a different caller must not be served a replay")
	}
}

func TestWithIdempotencyReleasesOnServerError(t *testing.T) {
	var calls atomic.Int32
	h := WithIdempotency(NewMemoryIdempotencyStore(), time.Minute, nil)(
		http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			if calls.Add(1) == 1 {
				http.Error(w, "boom", http.StatusInternalServerError)
				return
			}
			w.WriteHeader(http.StatusCreated)
		}),
	)
	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/appointments", nil)
		req.Header.Set(IdempotencyKeyHeader, "retry-me")
		h.ServeHTTP(httptest.NewRecorder(), req)
	}
	if calls.Load() != 2 {
		t.Fatalf("expected retry after 5xx to reach handler, calls=%d", calls.Load())
	}
}

func TestMemoryIdempotencyStoreInFlight(t *testing.T) {
	s := NewMemoryIdempotencyStore()
	if resp, err := s.Reserve(t.Context(), "k", time.Minute); resp != nil || err != nil {
		t.Fatalf("expected fresh reservation, got %v %v", resp, err)
	}
	if _, err := s.Reserve(t.Context(), "k", time.Minute); err != ErrRequestInFlight {
		t.Fatalf("expected ErrRequestInFlight, got %v", err)
	}
}

func TestWithCORSPreflightAndExposedHeaders(t *testing.T) {
	h := WithCORS(CORSPolicy{AllowedOrigins: []string{"https://app.example.com"}, AllowedMethods: []string{"POST"}})(
		http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) }),
	)
	req := httptest.NewRequest(http.MethodOptions, "/api/v1/appointments", nil)
	req.Header.Set("Origin", "https://APP.example.com")
	req.Header.Set("Access-Control-Request-Method", "POST")
	rw := httptest.NewRecorder()
	h.ServeHTTP(rw, req)
	if rw.Code != http.StatusNoContent {
		t.Fatalf("expected 204 preflight, got %d", rw.Code)
	}
	if rw.Header().Get("Access-Control-Allow-Origin") != "https://APP.example.com" {
		t.Fatalf("unexpected allow-origin %q", rw.Header().Get("Access-Control-Allow-Origin"))
	}

	req = httptest.NewRequest(http.MethodPost, "/api/v1/appointments", nil)
	req.Header.Set("Origin", "https://app.example.com")
	rw = httptest.NewRecorder()
	h.ServeHTTP(rw, req)
	if rw.Code != http.StatusOK || !strings.Contains(rw.Header().Get("Access-Control-Expose-Headers"), ReplayedHeader) {
		t.Fatalf("expected replay header to be exposed, got %d %q", rw.Code, rw.Header().Get("Access-Control-Expose-Headers"))
	}

	if WithCORS(CORSPolicy{}) != nil {
		t.Fatal("expected nil middleware without allowed origins")
	}
}
