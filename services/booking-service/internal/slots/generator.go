package slots

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/md-rashed-zaman/slotledger/services/booking-service/internal/apperr"
	"github.com/md-rashed-zaman/slotledger/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/slotledger/services/booking-service/internal/outbox"
	"github.com/md-rashed-zaman/slotledger/services/booking-service/internal/storage"
)

// Failure records one candidate slot that could not be persisted.
type Failure struct {
	StartsAt time.Time
	Reason   string
}

type Result struct {
	Created []model.TimeSlot
	Failed  []Failure
}

func (r Result) Partial() bool {
	return len(r.Created) > 0 && len(r.Failed) > 0
}

// Generator persists planned slots one unit of work at a time. A failing
// candidate is recorded and generation continues with the next one.
type Generator struct {
	store  storage.Store
	logger *slog.Logger
	loc    *time.Location
}

func NewGenerator(store storage.Store, logger *slog.Logger, loc *time.Location) *Generator {
	if loc == nil {
		loc = time.UTC
	}
	return &Generator{store: store, logger: logger, loc: loc}
}

// Generate expands req and stores each slot. Zero candidates is a validation
// error; candidates that all failed is a conflict carrying the failures.
func (g *Generator) Generate(ctx context.Context, req Request) (Result, error) {
	w, err := ParseWindow(req, g.loc)
	if err != nil {
		return Result{}, err
	}
	starts := Plan(w)
	if len(starts) == 0 {
		return Result{}, &apperr.Error{
			Kind:    apperr.KindValidation,
			Code:    apperr.CodeNoSlots,
			Message: "window is shorter than one slot",
			Fields:  map[string]string{"duration_minutes": "does not fit between start_time and end_time"},
		}
	}

	var res Result
	minutes := int(w.Duration / time.Minute)
	for _, start := range starts {
		if ctx.Err() != nil {
			res.Failed = append(res.Failed, Failure{StartsAt: start, Reason: "request cancelled"})
			continue
		}
		slot := model.TimeSlot{
			ID:              uuid.NewString(),
			StaffID:         w.StaffID,
			StartsAt:        start,
			DurationMinutes: minutes,
		}
		err := g.store.InTx(ctx, func(ctx context.Context, tx storage.Tx) error {
			if err := tx.InsertSlot(ctx, &slot); err != nil {
				return err
			}
			return tx.InsertOutboxEvent(ctx, slotCreatedEvent(slot))
		})
		if err != nil {
			reason := "internal error"
			if errors.Is(err, storage.ErrDuplicate) {
				reason = "slot already exists for this staff member at this time"
			} else {
				g.logger.Error("slot insert failed", "staff_id", w.StaffID, "starts_at", start.Format(time.RFC3339), "err", err)
			}
			res.Failed = append(res.Failed, Failure{StartsAt: start, Reason: reason})
			continue
		}
		res.Created = append(res.Created, slot)
	}

	if len(res.Created) == 0 {
		fields := make(map[string]string, len(res.Failed))
		for _, f := range res.Failed {
			fields[f.StartsAt.Format(model.TimeLayout)] = f.Reason
		}
		return res, &apperr.Error{
			Kind:    apperr.KindConflict,
			Code:    apperr.CodeNoSlots,
			Message: fmt.Sprintf("none of the %d candidate slots could be created", len(starts)),
			Fields:  fields,
		}
	}
	g.logger.Info("slots generated", "staff_id", w.StaffID, "created", len(res.Created), "failed", len(res.Failed))
	return res, nil
}

func slotCreatedEvent(s model.TimeSlot) outbox.Event {
	payload, _ := json.Marshal(map[string]any{
		"slot_id":          s.ID,
		"staff_id":         s.StaffID,
		"starts_at":        s.StartsAt.Format(time.RFC3339),
		"duration_minutes": s.DurationMinutes,
	})
	return outbox.Event{
		AggregateType: "time_slot",
		AggregateID:   s.ID,
		EventType:     outbox.EventSlotCreated,
		Payload:       payload,
	}
}
