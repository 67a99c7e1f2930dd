package handlers

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/md-rashed-zaman/slotledger/libs/httpx"
	"github.com/md-rashed-zaman/slotledger/services/booking-service/internal/gateway"
)

type webhookResponse struct {
	Status    string `json:"status"`
	PaymentID string `json:"payment_id,omitempty"`
	// PaymentStatus is the payment's status after reconciliation.
	PaymentStatus string `json:"payment_status,omitempty"`
}

// StripeWebhook handles Stripe events; the signature is the authentication.
func (h *Handler) StripeWebhook(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}
	if h.stripe == nil {
		http.Error(w, "stripe webhook not configured", http.StatusServiceUnavailable)
		return
	}
	sigHeader := r.Header.Get("Stripe-Signature")
	if strings.TrimSpace(sigHeader) == "" {
		http.Error(w, "missing Stripe-Signature header", http.StatusBadRequest)
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		http.Error(w, "failed to read request body", http.StatusBadRequest)
		return
	}
	n, err := h.stripe.VerifyWebhook(body, sigHeader)
	if err != nil {
		h.verifyFailed(w, "stripe", err)
		return
	}
	h.reconcile(w, r, n)
}

// LocalWebhook handles signed form-encoded callbacks from the local gateway.
func (h *Handler) LocalWebhook(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}
	if h.local == nil {
		http.Error(w, "local webhook not configured", http.StatusServiceUnavailable)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxWebhookBody)
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form body", http.StatusBadRequest)
		return
	}
	n, err := h.local.VerifyWebhook(r.Form)
	if err != nil {
		h.verifyFailed(w, "local", err)
		return
	}
	h.reconcile(w, r, n)
}

func (h *Handler) verifyFailed(w http.ResponseWriter, provider string, err error) {
	switch {
	case errors.Is(err, gateway.ErrNotConfigured):
		http.Error(w, provider+" webhook not configured", http.StatusServiceUnavailable)
	case errors.Is(err, gateway.ErrInvalidSignature):
		h.logger.Warn("webhook signature rejected", "provider", provider, "err", err)
		http.Error(w, "invalid signature", http.StatusBadRequest)
	default:
		h.logger.Warn("webhook payload rejected", "provider", provider, "err", err)
		http.Error(w, "invalid payload", http.StatusBadRequest)
	}
}

func (h *Handler) reconcile(w http.ResponseWriter, r *http.Request, n gateway.Notification) {
	h.logger.Info("payment provider event received",
		"provider", n.Provider,
		"provider_event_id", n.EventID,
		"event_type", n.EventType,
		"payment_id", n.PaymentID,
		"appointment_id", n.AppointmentID,
	)
	httpx.Annotate(r.Context(), "provider", n.Provider)
	httpx.Annotate(r.Context(), "payment_id", n.PaymentID)
	res, err := h.reconciler.Reconcile(r.Context(), n)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.Annotate(r.Context(), "payment_id", res.Payment.ID)
	httpx.Annotate(r.Context(), "reconcile_outcome", string(res.Outcome))
	writeJSON(w, http.StatusOK, webhookResponse{
		Status:        string(res.Outcome),
		PaymentID:     res.Payment.ID,
		PaymentStatus: string(res.Payment.Status),
	})
}
