package booking

import (
	"context"
	"errors"

	"github.com/md-rashed-zaman/slotledger/services/booking-service/internal/actor"
	"github.com/md-rashed-zaman/slotledger/services/booking-service/internal/apperr"
	"github.com/md-rashed-zaman/slotledger/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/slotledger/services/booking-service/internal/outbox"
	"github.com/md-rashed-zaman/slotledger/services/booking-service/internal/storage"
)

// Delete releases every slot the appointment holds and removes it in one unit.
// An appointment that already has a payment is refused with
// apperr.CodeAppointmentLocked and left untouched.
func (b *Binder) Delete(ctx context.Context, a actor.Actor, appointmentID string) error {
	if !validID(appointmentID) {
		return apperr.NotFound("appointment")
	}
	var released int
	err := b.store.InTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		appt, err := tx.GetAppointmentForUpdate(ctx, appointmentID)
		if err != nil {
			return notFoundOr(err, "appointment")
		}
		if err := authorize(a, appt.StaffID); err != nil {
			return err
		}
		if _, err := tx.GetPaymentByAppointmentForUpdate(ctx, appt.ID); err == nil {
			return apperr.Conflict(apperr.CodeAppointmentLocked, "appointment has a payment and cannot be deleted")
		} else if !errors.Is(err, storage.ErrNotFound) {
			return err
		}

		released, err = tx.ReleaseSlots(ctx, appt.ID)
		if err != nil {
			return err
		}
		if err := tx.DeleteAppointment(ctx, appt.ID); err != nil {
			return notFoundOr(err, "appointment")
		}
		return tx.InsertOutboxEvent(ctx, appointmentEvent(outbox.EventAppointmentDeleted, appt, map[string]any{
			"released_slots": released,
		}))
	})
	if err != nil {
		return err
	}
	b.logger.Info("appointment deleted", "appointment_id", appointmentID, "released_slots", released)
	return nil
}

// UpdateStatus sets the appointment status. Cancelling releases the claimed
// slot and clears the link so the slot can be booked again.
func (b *Binder) UpdateStatus(ctx context.Context, a actor.Actor, appointmentID, rawStatus string) (model.Appointment, error) {
	status, ok := model.ParseAppointmentStatus(rawStatus)
	if !ok {
		return model.Appointment{}, apperr.Field("status", "must be one of scheduled, completed, cancelled")
	}
	if !validID(appointmentID) {
		return model.Appointment{}, apperr.NotFound("appointment")
	}

	var appt model.Appointment
	var changed bool
	err := b.store.InTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		var err error
		appt, err = tx.GetAppointmentForUpdate(ctx, appointmentID)
		if err != nil {
			return notFoundOr(err, "appointment")
		}
		if err := authorize(a, appt.StaffID); err != nil {
			return err
		}
		if appt.Status == status {
			return nil
		}
		previous := appt.Status

		if status == model.AppointmentCancelled {
			if _, err := tx.ReleaseSlots(ctx, appt.ID); err != nil {
				return err
			}
			if appt.TimeSlotID != "" {
				if err := tx.ClearAppointmentSlot(ctx, appt.ID); err != nil {
					return err
				}
				appt.TimeSlotID = ""
			}
		}
		if err := tx.UpdateAppointmentStatus(ctx, appt.ID, status); err != nil {
			return err
		}
		appt.Status = status
		changed = true
		return tx.InsertOutboxEvent(ctx, appointmentEvent(outbox.EventAppointmentStatusChanged, appt, map[string]any{
			"previous_status": previous.Label(),
		}))
	})
	if err != nil {
		return model.Appointment{}, err
	}
	if changed {
		b.logger.Info("appointment status updated", "appointment_id", appt.ID, "status", appt.Status.Label())
	}
	return appt, nil
}
