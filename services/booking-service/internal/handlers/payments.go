package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/md-rashed-zaman/slotledger/libs/httpx"
	"github.com/md-rashed-zaman/slotledger/services/booking-service/internal/ledger"
	"github.com/md-rashed-zaman/slotledger/services/booking-service/internal/model"
)

type createPaymentRequest struct {
	ClientID      string       `json:"client_id"`
	AppointmentID string       `json:"appointment_id"`
	ServiceID     string       `json:"service_id"`
	Method        string       `json:"method"`
	DiscountType  string       `json:"discount_type"`
	DiscountValue *model.Money `json:"discount_value"`
}

type paymentIDRequest struct {
	PaymentID string `json:"payment_id"`
}

type paymentItem struct {
	ID              string      `json:"id"`
	ClientID        string      `json:"client_id"`
	AppointmentID   string      `json:"appointment_id"`
	ServiceID       string      `json:"service_id,omitempty"`
	Amount          model.Money `json:"amount"`
	DiscountType    string      `json:"discount_type,omitempty"`
	DiscountValue   model.Money `json:"discount_value"`
	DiscountAmount  model.Money `json:"discount_amount"`
	FinalAmount     model.Money `json:"final_amount"`
	Status          string      `json:"status"`
	Method          string      `json:"method"`
	PaymentLink     string      `json:"payment_link,omitempty"`
	ExternalOrderID string      `json:"external_order_id,omitempty"`
	PaidAt          string      `json:"paid_at,omitempty"`
	CreatedAt       string      `json:"created_at,omitempty"`
}

type amountResponse struct {
	PaymentID      string      `json:"payment_id"`
	Amount         model.Money `json:"amount"`
	DiscountAmount model.Money `json:"discount_amount"`
	FinalAmount    model.Money `json:"final_amount"`
}

func (h *Handler) CreatePayment(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}
	if _, ok := requireActor(w, r); !ok {
		return
	}
	var req createPaymentRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	p, err := h.ledger.Create(r.Context(), ledger.CreateRequest{
		ClientID:      req.ClientID,
		AppointmentID: req.AppointmentID,
		ServiceID:     req.ServiceID,
		Method:        req.Method,
		DiscountType:  req.DiscountType,
		DiscountValue: req.DiscountValue,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.Annotate(r.Context(), "payment_id", p.ID)
	writeJSON(w, http.StatusCreated, toPaymentItem(p))
}

func (h *Handler) RegeneratePaymentLink(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}
	if _, ok := requireActor(w, r); !ok {
		return
	}
	var req paymentIDRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	paymentID := strings.TrimSpace(req.PaymentID)
	httpx.Annotate(r.Context(), "payment_id", paymentID)
	p, err := h.ledger.RegenerateLink(r.Context(), paymentID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toPaymentItem(p))
}

func (h *Handler) PaymentAmount(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	if _, ok := requireActor(w, r); !ok {
		return
	}
	paymentID := strings.TrimSpace(r.URL.Query().Get("payment_id"))
	httpx.Annotate(r.Context(), "payment_id", paymentID)
	amounts, err := h.ledger.FinalAmount(r.Context(), paymentID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, amountResponse{
		PaymentID:      amounts.PaymentID,
		Amount:         amounts.Amount,
		DiscountAmount: amounts.DiscountAmount,
		FinalAmount:    amounts.Final,
	})
}

func toPaymentItem(p model.Payment) paymentItem {
	item := paymentItem{
		ID:              p.ID,
		ClientID:        p.ClientID,
		AppointmentID:   p.AppointmentID,
		ServiceID:       p.ServiceID,
		Amount:          p.Amount,
		DiscountType:    string(p.DiscountType),
		DiscountValue:   p.DiscountValue,
		DiscountAmount:  p.DiscountAmount,
		FinalAmount:     p.FinalAmount(),
		Status:          string(p.Status),
		Method:          string(p.Method),
		PaymentLink:     p.PaymentLink,
		ExternalOrderID: p.ExternalOrderID,
	}
	if p.PaidAt != nil {
		item.PaidAt = p.PaidAt.UTC().Format(time.RFC3339)
	}
	if !p.CreatedAt.IsZero() {
		item.CreatedAt = p.CreatedAt.UTC().Format(time.RFC3339)
	}
	return item
}
