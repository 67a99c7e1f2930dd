package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestReadyzReportsFailingChecks(t *testing.T) {
	mux := NewBaseMuxWithReady(
		ReadyCheck{Name: "db", Check: func(context.Context) error { return nil }},
		ReadyCheck{Name: "kafka", Check: func(context.Context) error { return errors.New("down") }},
	)

	rw := httptest.NewRecorder()
	mux.ServeHTTP(rw, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rw.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rw.Code)
	}
	var report ReadyReport
	if err := json.Unmarshal(rw.Body.Bytes(), &report); err != nil {
		t.Fatalf("decode report: %v", err)
	}
	if report.Status != "unavailable" || report.Checks["kafka"] != "down" || report.Checks["db"] != "ok" {
		t.Fatalf("unexpected report %+v", report)
	}

	rw = httptest.NewRecorder()
	mux.ServeHTTP(rw, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rw.Code != http.StatusOK {
		t.Fatalf("expected 200 from healthz, got %d", rw.Code)
	}
}

func TestReadyBoundsSlowChecks(t *testing.T) {
	report, ok := Ready(context.Background(), ReadyCheck{
		Name:    "redis",
		Timeout: 20 * time.Millisecond,
		Check: func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		},
	})
	if ok || report.Checks["redis"] != context.DeadlineExceeded.Error() {
		t.Fatalf("expected a timed-out check, got %+v", report)
	}
}

func TestShutdownRunsEveryStep(t *testing.T) {
	var ran []string
	failed := Shutdown(slog.New(slog.NewTextHandler(io.Discard, nil)), time.Second,
		Closer{Name: "http", Close: func(context.Context) error { ran = append(ran, "http"); return errors.New("busy") }},
		Closer{Name: "skipped"},
		Closer{Name: "otel", Close: func(context.Context) error { ran = append(ran, "otel"); return nil }},
	)
	if failed != 1 || strings.Join(ran, ",") != "http,otel" {
		t.Fatalf("unexpected shutdown: failed=%d ran=%v", failed, ran)
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"WARN":    slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Fatalf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}
