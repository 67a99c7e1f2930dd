package booking

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/md-rashed-zaman/slotledger/services/booking-service/internal/actor"
	"github.com/md-rashed-zaman/slotledger/services/booking-service/internal/apperr"
	"github.com/md-rashed-zaman/slotledger/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/slotledger/services/booking-service/internal/outbox"
	"github.com/md-rashed-zaman/slotledger/services/booking-service/internal/storage"
)

const (
	defaultDurationMinutes = 60
	maxNotesLength         = 2000
)

type CreateRequest struct {
	StaffID         string
	ClientID        string
	Date            string
	Time            string
	DurationMinutes *int
	ServiceID       string
	TimeSlotID      string
	Notes           string
}

// Binder creates appointments and claims their slots in one unit of work.
type Binder struct {
	store  storage.Store
	logger *slog.Logger
	loc    *time.Location
}

func NewBinder(store storage.Store, logger *slog.Logger, loc *time.Location) *Binder {
	if loc == nil {
		loc = time.UTC
	}
	return &Binder{store: store, logger: logger, loc: loc}
}

type parsedCreate struct {
	staffID  string
	startsAt time.Time
	hasStart bool
	duration int
	hasDur   bool
}

// Create books an appointment. When TimeSlotID is set the slot must exist,
// be available and unlinked; the check and the claim happen under the slot's
// row lock, and a lost race surfaces as slot_not_available.
func (b *Binder) Create(ctx context.Context, a actor.Actor, req CreateRequest) (model.Appointment, error) {
	p, err := b.validateCreate(a, &req)
	if err != nil {
		return model.Appointment{}, err
	}

	var appt model.Appointment
	err = b.store.InTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		if _, err := tx.GetClient(ctx, req.ClientID); err != nil {
			return notFoundOr(err, "client")
		}
		duration := p.duration
		if req.ServiceID != "" {
			svc, err := tx.GetService(ctx, req.ServiceID)
			if err != nil {
				return notFoundOr(err, "service")
			}
			if !p.hasDur && svc.DurationMinutes > 0 {
				duration = svc.DurationMinutes
			}
		}

		startsAt := p.startsAt
		if req.TimeSlotID != "" {
			slot, err := tx.GetSlotForUpdate(ctx, req.TimeSlotID)
			if err != nil {
				return notFoundOr(err, "time slot")
			}
			if !slot.Claimable() {
				return apperr.SlotNotAvailable()
			}
			if slot.StaffID != p.staffID {
				return apperr.Field("time_slot_id", "belongs to a different staff member")
			}
			if p.hasStart && !p.startsAt.Equal(slot.StartsAt) {
				return apperr.Field("time", "does not match the time slot")
			}
			if p.hasDur && p.duration != slot.DurationMinutes {
				return apperr.Field("duration_minutes", "does not match the time slot")
			}
			startsAt = slot.StartsAt
			duration = slot.DurationMinutes
		}

		appt = model.Appointment{
			ID:              uuid.NewString(),
			ClientID:        req.ClientID,
			StaffID:         p.staffID,
			StartsAt:        startsAt,
			DurationMinutes: duration,
			ServiceID:       req.ServiceID,
			TimeSlotID:      req.TimeSlotID,
			Status:          model.AppointmentScheduled,
			Notes:           req.Notes,
		}
		if err := tx.InsertAppointment(ctx, &appt); err != nil {
			return notFoundOr(err, "client or service")
		}
		if appt.TimeSlotID != "" {
			if err := tx.ClaimSlot(ctx, appt.TimeSlotID, appt.ID); err != nil {
				if errors.Is(err, storage.ErrSlotTaken) {
					return apperr.SlotNotAvailable()
				}
				return err
			}
		}
		return tx.InsertOutboxEvent(ctx, appointmentEvent(outbox.EventAppointmentBooked, appt, nil))
	})
	if err != nil {
		return model.Appointment{}, err
	}

	b.logger.Info("appointment booked",
		"appointment_id", appt.ID,
		"staff_id", appt.StaffID,
		"time_slot_id", appt.TimeSlotID,
		"starts_at", appt.StartsAt.Format(time.RFC3339),
	)
	return appt, nil
}

func (b *Binder) validateCreate(a actor.Actor, req *CreateRequest) (parsedCreate, error) {
	req.StaffID = strings.TrimSpace(req.StaffID)
	req.ClientID = strings.TrimSpace(req.ClientID)
	req.ServiceID = strings.TrimSpace(req.ServiceID)
	req.TimeSlotID = strings.TrimSpace(req.TimeSlotID)
	req.Date = strings.TrimSpace(req.Date)
	req.Time = strings.TrimSpace(req.Time)
	req.Notes = strings.TrimSpace(req.Notes)

	p := parsedCreate{staffID: req.StaffID, duration: defaultDurationMinutes}
	if p.staffID == "" {
		p.staffID = a.StaffID
	}
	if err := authorize(a, p.staffID); err != nil {
		return p, err
	}

	fields := map[string]string{}
	if req.ClientID == "" {
		fields["client_id"] = "is required"
	} else if !validID(req.ClientID) {
		fields["client_id"] = "must be a valid id"
	}
	if req.ServiceID != "" && !validID(req.ServiceID) {
		fields["service_id"] = "must be a valid id"
	}
	if req.TimeSlotID != "" && !validID(req.TimeSlotID) {
		fields["time_slot_id"] = "must be a valid id"
	}
	if req.DurationMinutes != nil {
		p.hasDur = true
		p.duration = *req.DurationMinutes
		if p.duration <= 0 {
			fields["duration_minutes"] = "must be greater than 0"
		}
	}
	if len(req.Notes) > maxNotesLength {
		fields["notes"] = "is too long"
	}

	switch {
	case req.Date == "" && req.Time == "":
		if req.TimeSlotID == "" {
			fields["date"] = "is required"
			fields["time"] = "is required"
		}
	case req.Date == "":
		fields["date"] = "is required"
	case req.Time == "":
		fields["time"] = "is required"
	default:
		startsAt, err := parseDateTime(req.Date, req.Time, b.loc)
		if err != nil {
			fields["time"] = "date must be YYYY-MM-DD and time HH:MM"
		} else {
			p.startsAt = startsAt
			p.hasStart = true
		}
	}
	if len(fields) > 0 {
		return p, apperr.Validation("invalid appointment", fields)
	}
	return p, nil
}

// authorize enforces that booking for another staff member needs BookForOthers.
func authorize(a actor.Actor, staffID string) error {
	if staffID == "" {
		return apperr.Field("staff_id", "is required")
	}
	if staffID != a.StaffID && !a.Can(actor.BookForOthers) {
		return apperr.Forbidden("acting for another staff member requires an elevated capability")
	}
	return nil
}

func parseDateTime(date, clock string, loc *time.Location) (time.Time, error) {
	for _, layout := range []string{model.DateLayout + " " + model.TimeLayout, model.DateLayout + " 15:04:05"} {
		if t, err := time.ParseInLocation(layout, date+" "+clock, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, errors.New("invalid date or time")
}

func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

func notFoundOr(err error, entity string) error {
	if errors.Is(err, storage.ErrNotFound) {
		return apperr.NotFound(entity)
	}
	return err
}

func appointmentEvent(eventType string, a model.Appointment, extra map[string]any) outbox.Event {
	body := map[string]any{
		"appointment_id":   a.ID,
		"client_id":        a.ClientID,
		"staff_id":         a.StaffID,
		"service_id":       a.ServiceID,
		"time_slot_id":     a.TimeSlotID,
		"starts_at":        a.StartsAt.Format(time.RFC3339),
		"duration_minutes": a.DurationMinutes,
		"status":           a.Status.Label(),
	}
	for k, v := range extra {
		body[k] = v
	}
	payload, _ := json.Marshal(body)
	return outbox.Event{
		AggregateType: "appointment",
		AggregateID:   a.ID,
		EventType:     eventType,
		Payload:       payload,
	}
}
