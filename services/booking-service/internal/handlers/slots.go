package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/md-rashed-zaman/slotledger/services/booking-service/internal/actor"
	"github.com/md-rashed-zaman/slotledger/services/booking-service/internal/apperr"
	"github.com/md-rashed-zaman/slotledger/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/slotledger/services/booking-service/internal/slots"
)

type generateSlotsRequest struct {
	StaffID         string `json:"staff_id"`
	Date            string `json:"date"`
	StartTime       string `json:"start_time"`
	EndTime         string `json:"end_time"`
	DurationMinutes *int   `json:"duration_minutes"`
	BreakMinutes    *int   `json:"break_minutes"`
}

type slotItem struct {
	ID              string `json:"id"`
	StaffID         string `json:"staff_id"`
	Date            string `json:"date"`
	StartTime       string `json:"start_time"`
	EndTime         string `json:"end_time"`
	DurationMinutes int    `json:"duration_minutes"`
	IsAvailable     bool   `json:"is_available"`
	AppointmentID   string `json:"appointment_id,omitempty"`
}

type slotFailureItem struct {
	Date      string `json:"date"`
	StartTime string `json:"start_time"`
	Reason    string `json:"reason"`
}

type generateSlotsResponse struct {
	Created []slotItem        `json:"created"`
	Failed  []slotFailureItem `json:"failed"`
	Partial bool              `json:"partial"`
}

func (h *Handler) GenerateSlots(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}
	a, ok := requireActor(w, r)
	if !ok {
		return
	}
	var req generateSlotsRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	staffID := strings.TrimSpace(req.StaffID)
	if staffID == "" {
		staffID = a.StaffID
	}
	if staffID != a.StaffID && !a.Can(actor.BookForOthers) {
		h.writeError(w, r, apperr.Forbidden("generating slots for another staff member requires an elevated capability"))
		return
	}

	res, err := h.generator.Generate(r.Context(), slots.Request{
		StaffID:         staffID,
		Date:            req.Date,
		StartTime:       req.StartTime,
		EndTime:         req.EndTime,
		DurationMinutes: req.DurationMinutes,
		BreakMinutes:    req.BreakMinutes,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	resp := generateSlotsResponse{
		Created: make([]slotItem, 0, len(res.Created)),
		Failed:  make([]slotFailureItem, 0, len(res.Failed)),
		Partial: res.Partial(),
	}
	for _, s := range res.Created {
		resp.Created = append(resp.Created, toSlotItem(s, h.loc))
	}
	for _, f := range res.Failed {
		at := f.StartsAt.In(h.loc)
		resp.Failed = append(resp.Failed, slotFailureItem{
			Date:      at.Format(model.DateLayout),
			StartTime: at.Format(model.TimeLayout),
			Reason:    f.Reason,
		})
	}
	status := http.StatusCreated
	if resp.Partial {
		status = http.StatusMultiStatus
	}
	writeJSON(w, status, resp)
}

func toSlotItem(s model.TimeSlot, loc *time.Location) slotItem {
	start := s.StartsAt.In(loc)
	return slotItem{
		ID:              s.ID,
		StaffID:         s.StaffID,
		Date:            start.Format(model.DateLayout),
		StartTime:       start.Format(model.TimeLayout),
		EndTime:         s.EndsAt().In(loc).Format(model.TimeLayout),
		DurationMinutes: s.DurationMinutes,
		IsAvailable:     s.IsAvailable,
		AppointmentID:   s.AppointmentID,
	}
}
