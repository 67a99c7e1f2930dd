package memstore

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/md-rashed-zaman/slotledger/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/slotledger/services/booking-service/internal/outbox"
	"github.com/md-rashed-zaman/slotledger/services/booking-service/internal/storage"
)

var _ storage.Store = (*Store)(nil)

func TestInTxRollsBackOnError(t *testing.T) {
	s := New()
	ctx := context.Background()
	boom := errors.New("boom")

	err := s.InTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		slot := &model.TimeSlot{ID: "slot-1", StaffID: "staff-1", StartsAt: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC), DurationMinutes: 60}
		if err := tx.InsertSlot(ctx, slot); err != nil {
			return err
		}
		if err := tx.InsertOutboxEvent(ctx, outbox.Event{EventType: "x"}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if _, ok := s.Slot("slot-1"); ok {
		t.Fatal("slot from a failed unit must not be visible")
	}
	if len(s.OutboxEvents()) != 0 {
		t.Fatal("outbox events from a failed unit must not be visible")
	}
}

func TestOutboxKeepsOnlyRecentCommittedEvents(t *testing.T) {
	s := New()
	s.retention = 3
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		err := s.InTx(ctx, func(ctx context.Context, tx storage.Tx) error {
			return tx.InsertOutboxEvent(ctx, outbox.Event{AggregateID: fmt.Sprintf("evt-%d", i)})
		})
		if err != nil {
			t.Fatalf("InTx %d: %v", i, err)
		}
	}
	_ = s.InTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		_ = tx.InsertOutboxEvent(ctx, outbox.Event{AggregateID: "evt-rolled-back"})
		return errors.New("boom")
	})

	got := s.OutboxEvents()
	if len(got) != 3 {
		t.Fatalf("retained %d events, want 3", len(got))
	}
	for i, want := range []string{"evt-2", "evt-3", "evt-4"} {
		if got[i].AggregateID != want {
			t.Fatalf("event %d = %q, want %q", i, got[i].AggregateID, want)
		}
	}
}

func TestInsertSlotRejectsSameStaffAndStart(t *testing.T) {
	s := New()
	ctx := context.Background()
	start := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	insert := func(id, staff string) error {
		return s.InTx(ctx, func(ctx context.Context, tx storage.Tx) error {
			return tx.InsertSlot(ctx, &model.TimeSlot{ID: id, StaffID: staff, StartsAt: start, DurationMinutes: 30})
		})
	}
	if err := insert("a", "staff-1"); err != nil {
		t.Fatalf("first insert failed: %v", err)
	}
	if err := insert("b", "staff-1"); !errors.Is(err, storage.ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}
	if err := insert("c", "staff-2"); err != nil {
		t.Fatalf("other staff at same time must succeed: %v", err)
	}
}

func TestClaimSlotIsCompareAndSwap(t *testing.T) {
	s := New()
	ctx := context.Background()
	_ = s.InTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		return tx.InsertSlot(ctx, &model.TimeSlot{ID: "slot-1", StaffID: "staff-1", StartsAt: time.Now().UTC(), DurationMinutes: 30})
	})

	claim := func(appt string) error {
		return s.InTx(ctx, func(ctx context.Context, tx storage.Tx) error {
			return tx.ClaimSlot(ctx, "slot-1", appt)
		})
	}
	if err := claim("appt-1"); err != nil {
		t.Fatalf("first claim failed: %v", err)
	}
	if err := claim("appt-2"); !errors.Is(err, storage.ErrSlotTaken) {
		t.Fatalf("expected ErrSlotTaken, got %v", err)
	}
	slot, _ := s.Slot("slot-1")
	if slot.IsAvailable || slot.AppointmentID != "appt-1" {
		t.Fatalf("unexpected slot state %+v", slot)
	}

	var released int
	_ = s.InTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		var err error
		released, err = tx.ReleaseSlots(ctx, "appt-1")
		return err
	})
	slot, _ = s.Slot("slot-1")
	if released != 1 || !slot.IsAvailable || slot.AppointmentID != "" {
		t.Fatalf("expected released slot, got %+v (released=%d)", slot, released)
	}
}

func TestUpdatePaymentStatusKeepsFirstPaidAt(t *testing.T) {
	s := New()
	ctx := context.Background()
	s.PutClient(model.Client{ID: "c-1"})
	first := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	second := first.Add(time.Hour)

	err := s.InTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		if err := tx.InsertPayment(ctx, &model.Payment{ID: "p-1", ClientID: "c-1", AppointmentID: "a-1", Status: model.PaymentPending}); err != nil {
			return err
		}
		if err := tx.UpdatePaymentStatus(ctx, "p-1", model.PaymentPaid, &first); err != nil {
			return err
		}
		return tx.UpdatePaymentStatus(ctx, "p-1", model.PaymentPaid, &second)
	})
	if err != nil {
		t.Fatalf("unit failed: %v", err)
	}
	p, _ := s.Payment("p-1")
	if p.PaidAt == nil || !p.PaidAt.Equal(first) {
		t.Fatalf("expected paid_at %s, got %v", first, p.PaidAt)
	}
}
