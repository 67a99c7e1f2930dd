// Package handlers is the HTTP surface of the booking engine. Handlers decode
// the request, call the engine and map its errors; they hold no state.
package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/md-rashed-zaman/slotledger/libs/httpx"
	"github.com/md-rashed-zaman/slotledger/services/booking-service/internal/actor"
	"github.com/md-rashed-zaman/slotledger/services/booking-service/internal/apperr"
	"github.com/md-rashed-zaman/slotledger/services/booking-service/internal/booking"
	"github.com/md-rashed-zaman/slotledger/services/booking-service/internal/gateway"
	"github.com/md-rashed-zaman/slotledger/services/booking-service/internal/ledger"
	"github.com/md-rashed-zaman/slotledger/services/booking-service/internal/reconcile"
	"github.com/md-rashed-zaman/slotledger/services/booking-service/internal/slots"
)

// maxWebhookBody caps webhook payloads at 1 MiB.
const maxWebhookBody = 1 << 20

type Handler struct {
	generator  *slots.Generator
	binder     *booking.Binder
	ledger     *ledger.Ledger
	reconciler *reconcile.Reconciler
	stripe     *gateway.Stripe
	local      *gateway.Local
	logger     *slog.Logger
	loc        *time.Location
}

type Config struct {
	Generator  *slots.Generator
	Binder     *booking.Binder
	Ledger     *ledger.Ledger
	Reconciler *reconcile.Reconciler
	// Stripe and Local verify inbound webhooks; a nil verifier answers 503.
	Stripe   *gateway.Stripe
	Local    *gateway.Local
	Logger   *slog.Logger
	Location *time.Location
}

func New(cfg Config) *Handler {
	loc := cfg.Location
	if loc == nil {
		loc = time.UTC
	}
	return &Handler{
		generator:  cfg.Generator,
		binder:     cfg.Binder,
		ledger:     cfg.Ledger,
		reconciler: cfg.Reconciler,
		stripe:     cfg.Stripe,
		local:      cfg.Local,
		logger:     cfg.Logger,
		loc:        loc,
	}
}

// Routes holds the middleware Register arranges around each route. Any of
// them may be nil.
type Routes struct {
	// Protect resolves the actor on every staff-facing route.
	Protect httpx.Middleware
	// Limit budgets calls. It runs after Protect, so staff routes are
	// budgeted per staff member and webhooks per client address.
	Limit httpx.Middleware
	// Creates wraps the routes that create records, e.g. idempotency.
	Creates httpx.Middleware
}

// Register mounts the routes. Webhooks skip Protect and are authenticated
// by their signatures only.
func (h *Handler) Register(mux *http.ServeMux, rt Routes) {
	staff := func(fn http.HandlerFunc, extra ...httpx.Middleware) http.Handler {
		return httpx.Chain(fn, append([]httpx.Middleware{rt.Protect, rt.Limit}, extra...)...)
	}
	webhook := func(fn http.HandlerFunc) http.Handler {
		return httpx.Chain(fn, rt.Limit)
	}
	mux.Handle("/api/v1/slots/generate", staff(h.GenerateSlots))
	mux.Handle("/api/v1/appointments", staff(h.CreateAppointment, rt.Creates))
	mux.Handle("/api/v1/appointments/delete", staff(h.DeleteAppointment))
	mux.Handle("/api/v1/appointments/status", staff(h.UpdateAppointmentStatus))
	mux.Handle("/api/v1/payments", staff(h.CreatePayment, rt.Creates))
	mux.Handle("/api/v1/payments/link", staff(h.RegeneratePaymentLink))
	mux.Handle("/api/v1/payments/amount", staff(h.PaymentAmount))
	mux.Handle("/api/v1/payments/webhooks/stripe", webhook(h.StripeWebhook))
	mux.Handle("/api/v1/payments/webhooks/local", webhook(h.LocalWebhook))
}

func requireActor(w http.ResponseWriter, r *http.Request) (actor.Actor, bool) {
	a, ok := actor.FromContext(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	}
	return a, ok
}

func allowMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method != method {
		w.Header().Set("Allow", method)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return false
	}
	return true
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Code: apperr.CodeValidation, Message: "invalid json body"})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

type errorBody struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`
}

// writeError maps the error taxonomy onto HTTP. Internal errors are logged
// with their cause and answered with a generic message.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	e := apperr.As(err)
	status := http.StatusInternalServerError
	switch e.Kind {
	case apperr.KindValidation:
		status = http.StatusBadRequest
		if e.Code == apperr.CodeNoSlots {
			status = http.StatusUnprocessableEntity
		}
	case apperr.KindNotFound:
		status = http.StatusNotFound
	case apperr.KindConflict:
		status = http.StatusConflict
	case apperr.KindForbidden:
		status = http.StatusForbidden
	default:
		h.logger.Error("request failed",
			"request_id", httpx.RequestIDFromContext(r.Context()),
			"method", r.Method,
			"path", r.URL.Path,
			"err", err,
		)
		writeJSON(w, status, errorBody{Code: apperr.CodeInternal, Message: "internal error"})
		return
	}
	writeJSON(w, status, errorBody{Code: e.Code, Message: e.Message, Fields: e.Fields})
}
