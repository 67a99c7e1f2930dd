package slots

import (
	"context"
	"io"
	"log/slog"
	"math"
	"testing"
	"time"

	"github.com/md-rashed-zaman/slotledger/services/booking-service/internal/apperr"
	"github.com/md-rashed-zaman/slotledger/services/booking-service/internal/storage/memstore"
)

func intPtr(v int) *int { return &v }

func mustWindow(t *testing.T, req Request) Window {
	t.Helper()
	w, err := ParseWindow(req, time.UTC)
	if err != nil {
		t.Fatalf("ParseWindow failed: %v", err)
	}
	return w
}

func TestPlan_TwoHourWindowHourlySlots(t *testing.T) {
	w := mustWindow(t, Request{StaffID: "staff-1", Date: "2026-03-02", StartTime: "09:00", EndTime: "11:00"})
	starts := Plan(w)
	if len(starts) != 2 {
		t.Fatalf("expected 2 slots, got %d", len(starts))
	}
	if starts[0].Format("15:04") != "09:00" || starts[1].Format("15:04") != "10:00" {
		t.Fatalf("expected 09:00 and 10:00, got %s and %s", starts[0].Format("15:04"), starts[1].Format("15:04"))
	}
}

func TestPlan_NoPartialTrailingSlot(t *testing.T) {
	w := mustWindow(t, Request{StaffID: "staff-1", Date: "2026-03-02", StartTime: "09:00", EndTime: "10:30", DurationMinutes: intPtr(60)})
	starts := Plan(w)
	if len(starts) != 1 || starts[0].Format("15:04") != "09:00" {
		t.Fatalf("expected only 09:00, got %v", starts)
	}
}

func TestPlan_SlotsStayInsideWindowAndAreEvenlySpaced(t *testing.T) {
	for _, tc := range []struct {
		start, end    string
		duration, brk int
	}{
		{"08:00", "17:00", 45, 15},
		{"09:00", "09:50", 25, 0},
		{"10:15", "18:40", 30, 10},
		{"00:00", "23:59", 90, 5},
		{"13:00", "13:20", 7, 3},
	} {
		w := mustWindow(t, Request{StaffID: "s", Date: "2026-03-02", StartTime: tc.start, EndTime: tc.end,
			DurationMinutes: intPtr(tc.duration), BreakMinutes: intPtr(tc.brk)})
		starts := Plan(w)
		if len(starts) == 0 {
			t.Fatalf("%s-%s: expected at least one slot", tc.start, tc.end)
		}
		step := w.Duration + w.Break
		for i, s := range starts {
			if s.Before(w.Start) || s.Add(w.Duration).After(w.End) {
				t.Fatalf("%s-%s: slot %s overflows window", tc.start, tc.end, s.Format("15:04"))
			}
			if i > 0 && s.Sub(starts[i-1]) != step {
				t.Fatalf("%s-%s: expected step %s, got %s", tc.start, tc.end, step, s.Sub(starts[i-1]))
			}
		}
		// The next candidate would not fit.
		last := starts[len(starts)-1]
		if !last.Add(step).Add(w.Duration).After(w.End) {
			t.Fatalf("%s-%s: generation stopped early after %s", tc.start, tc.end, last.Format("15:04"))
		}
	}
}

func TestParseWindow_Validation(t *testing.T) {
	cases := []struct {
		name  string
		req   Request
		field string
	}{
		{"missing date", Request{StaffID: "s", StartTime: "09:00", EndTime: "10:00"}, "date"},
		{"missing start", Request{StaffID: "s", Date: "2026-03-02", EndTime: "10:00"}, "start_time"},
		{"bad time", Request{StaffID: "s", Date: "2026-03-02", StartTime: "9am", EndTime: "10:00"}, "start_time"},
		{"bad date", Request{StaffID: "s", Date: "02/03/2026", StartTime: "09:00", EndTime: "10:00"}, "date"},
		{"zero duration", Request{StaffID: "s", Date: "2026-03-02", StartTime: "09:00", EndTime: "10:00", DurationMinutes: intPtr(0)}, "duration_minutes"},
		{"negative break", Request{StaffID: "s", Date: "2026-03-02", StartTime: "09:00", EndTime: "10:00", BreakMinutes: intPtr(-5)}, "break_minutes"},
		{"duration over a day", Request{StaffID: "s", Date: "2026-03-02", StartTime: "09:00", EndTime: "10:00", DurationMinutes: intPtr(MaxMinutes + 1)}, "duration_minutes"},
		{"duration overflows", Request{StaffID: "s", Date: "2026-03-02", StartTime: "09:00", EndTime: "10:00", DurationMinutes: intPtr(307445735)}, "duration_minutes"},
		{"break overflows", Request{StaffID: "s", Date: "2026-03-02", StartTime: "09:00", EndTime: "10:00", BreakMinutes: intPtr(153722867)}, "break_minutes"},
		{"end before start", Request{StaffID: "s", Date: "2026-03-02", StartTime: "10:00", EndTime: "09:00"}, "end_time"},
		{"end equals start", Request{StaffID: "s", Date: "2026-03-02", StartTime: "10:00", EndTime: "10:00"}, "end_time"},
	}
	for _, tc := range cases {
		_, err := ParseWindow(tc.req, time.UTC)
		e := apperr.As(err)
		if err == nil || e.Kind != apperr.KindValidation {
			t.Fatalf("%s: expected validation error, got %v", tc.name, err)
		}
		if _, ok := e.Fields[tc.field]; !ok {
			t.Fatalf("%s: expected field %q in %v", tc.name, tc.field, e.Fields)
		}
	}
}

func TestParseWindow_AcceptsFullDayBounds(t *testing.T) {
	w := mustWindow(t, Request{StaffID: "s", Date: "2026-03-02", StartTime: "00:00", EndTime: "23:59",
		DurationMinutes: intPtr(60), BreakMinutes: intPtr(MaxMinutes)})
	if starts := Plan(w); len(starts) != 1 {
		t.Fatalf("expected a single slot when the break spans a day, got %d", len(starts))
	}
}

func TestPlan_NonPositiveStepYieldsNothing(t *testing.T) {
	start := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	w := Window{StaffID: "s", Start: start, End: start.Add(2 * time.Hour), Duration: time.Hour, Break: math.MaxInt64 - time.Minute}
	if starts := Plan(w); starts != nil {
		t.Fatalf("expected no slots for a wrapped step, got %d", len(starts))
	}
}

func TestParseWindow_AcceptsSeconds(t *testing.T) {
	w := mustWindow(t, Request{StaffID: "s", Date: "2026-03-02", StartTime: "09:00:00", EndTime: "10:00:00"})
	if w.End.Sub(w.Start) != time.Hour {
		t.Fatalf("expected one hour window, got %s", w.End.Sub(w.Start))
	}
}

func newGenerator() (*Generator, *memstore.Store) {
	store := memstore.New()
	return NewGenerator(store, slog.New(slog.NewTextHandler(io.Discard, nil)), time.UTC), store
}

func TestGenerate_PersistsAvailableSlots(t *testing.T) {
	g, store := newGenerator()
	res, err := g.Generate(context.Background(), Request{StaffID: "staff-1", Date: "2026-03-02", StartTime: "09:00", EndTime: "11:00"})
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if len(res.Created) != 2 || len(res.Failed) != 0 {
		t.Fatalf("expected 2 created, got %+v", res)
	}
	for _, s := range res.Created {
		stored, ok := store.Slot(s.ID)
		if !ok || !stored.IsAvailable || stored.AppointmentID != "" {
			t.Fatalf("expected stored available slot, got %+v", stored)
		}
	}
	if len(store.OutboxEvents()) != 2 {
		t.Fatalf("expected one outbox event per slot, got %d", len(store.OutboxEvents()))
	}
}

func TestGenerate_DuplicatesFailIndividually(t *testing.T) {
	g, _ := newGenerator()
	ctx := context.Background()
	if _, err := g.Generate(ctx, Request{StaffID: "staff-1", Date: "2026-03-02", StartTime: "09:00", EndTime: "10:00"}); err != nil {
		t.Fatalf("first Generate failed: %v", err)
	}

	res, err := g.Generate(ctx, Request{StaffID: "staff-1", Date: "2026-03-02", StartTime: "09:00", EndTime: "11:00"})
	if err != nil {
		t.Fatalf("retry Generate failed: %v", err)
	}
	if len(res.Created) != 1 || len(res.Failed) != 1 || !res.Partial() {
		t.Fatalf("expected 1 created + 1 failed, got %+v", res)
	}
	if res.Failed[0].StartsAt.Format("15:04") != "09:00" {
		t.Fatalf("expected the 09:00 duplicate to fail, got %s", res.Failed[0].StartsAt.Format("15:04"))
	}
}

func TestGenerate_AllFailedIsConflict(t *testing.T) {
	g, _ := newGenerator()
	ctx := context.Background()
	req := Request{StaffID: "staff-1", Date: "2026-03-02", StartTime: "09:00", EndTime: "11:00"}
	if _, err := g.Generate(ctx, req); err != nil {
		t.Fatalf("first Generate failed: %v", err)
	}
	res, err := g.Generate(ctx, req)
	if apperr.KindOf(err) != apperr.KindConflict || apperr.CodeOf(err) != apperr.CodeNoSlots {
		t.Fatalf("expected no_slots conflict, got %v", err)
	}
	if len(res.Failed) != 2 {
		t.Fatalf("expected both failures reported, got %+v", res.Failed)
	}
}

func TestGenerate_ZeroCandidatesIsAnError(t *testing.T) {
	g, _ := newGenerator()
	_, err := g.Generate(context.Background(), Request{StaffID: "staff-1", Date: "2026-03-02", StartTime: "09:00", EndTime: "09:30", DurationMinutes: intPtr(60)})
	if apperr.CodeOf(err) != apperr.CodeNoSlots || apperr.KindOf(err) != apperr.KindValidation {
		t.Fatalf("expected no_slots validation error, got %v", err)
	}
}
