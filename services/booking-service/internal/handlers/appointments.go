package handlers

import (
	"net/http"
	"time"

	"github.com/md-rashed-zaman/slotledger/libs/httpx"
	"github.com/md-rashed-zaman/slotledger/services/booking-service/internal/booking"
	"github.com/md-rashed-zaman/slotledger/services/booking-service/internal/model"
)

type createAppointmentRequest struct {
	StaffID         string `json:"staff_id"`
	ClientID        string `json:"client_id"`
	Date            string `json:"date"`
	Time            string `json:"time"`
	DurationMinutes *int   `json:"duration_minutes"`
	ServiceID       string `json:"service_id"`
	TimeSlotID      string `json:"time_slot_id"`
	Notes           string `json:"notes"`
}

type appointmentIDRequest struct {
	AppointmentID string `json:"appointment_id"`
}

type updateStatusRequest struct {
	AppointmentID string `json:"appointment_id"`
	Status        string `json:"status"`
}

type appointmentItem struct {
	ID              string `json:"id"`
	ClientID        string `json:"client_id"`
	StaffID         string `json:"staff_id"`
	Date            string `json:"date"`
	Time            string `json:"time"`
	DurationMinutes int    `json:"duration_minutes"`
	ServiceID       string `json:"service_id,omitempty"`
	TimeSlotID      string `json:"time_slot_id,omitempty"`
	Status          string `json:"status"`
	Notes           string `json:"notes,omitempty"`
	CreatedAt       string `json:"created_at,omitempty"`
}

func (h *Handler) CreateAppointment(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}
	a, ok := requireActor(w, r)
	if !ok {
		return
	}
	var req createAppointmentRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	appt, err := h.binder.Create(r.Context(), a, booking.CreateRequest{
		StaffID:         req.StaffID,
		ClientID:        req.ClientID,
		Date:            req.Date,
		Time:            req.Time,
		DurationMinutes: req.DurationMinutes,
		ServiceID:       req.ServiceID,
		TimeSlotID:      req.TimeSlotID,
		Notes:           req.Notes,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.Annotate(r.Context(), "appointment_id", appt.ID)
	writeJSON(w, http.StatusCreated, toAppointmentItem(appt, h.loc))
}

// DeleteAppointment removes an appointment and frees its slot. An
// appointment that already has a payment is refused with 409
// appointment_has_payment; cancel it through the status route instead.
func (h *Handler) DeleteAppointment(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}
	a, ok := requireActor(w, r)
	if !ok {
		return
	}
	var req appointmentIDRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	httpx.Annotate(r.Context(), "appointment_id", req.AppointmentID)
	if err := h.binder.Delete(r.Context(), a, req.AppointmentID); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"appointment_id": req.AppointmentID, "status": "deleted"})
}

func (h *Handler) UpdateAppointmentStatus(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}
	a, ok := requireActor(w, r)
	if !ok {
		return
	}
	var req updateStatusRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	httpx.Annotate(r.Context(), "appointment_id", req.AppointmentID)
	appt, err := h.binder.UpdateStatus(r.Context(), a, req.AppointmentID, req.Status)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAppointmentItem(appt, h.loc))
}

func toAppointmentItem(a model.Appointment, loc *time.Location) appointmentItem {
	start := a.StartsAt.In(loc)
	item := appointmentItem{
		ID:              a.ID,
		ClientID:        a.ClientID,
		StaffID:         a.StaffID,
		Date:            start.Format(model.DateLayout),
		Time:            start.Format(model.TimeLayout),
		DurationMinutes: a.DurationMinutes,
		ServiceID:       a.ServiceID,
		TimeSlotID:      a.TimeSlotID,
		Status:          a.Status.Label(),
		Notes:           a.Notes,
	}
	if !a.CreatedAt.IsZero() {
		item.CreatedAt = a.CreatedAt.UTC().Format(time.RFC3339)
	}
	return item
}
