// Package reconcile applies verified payment gateway notifications to
// payments. Each notification moves at most one payment, under that
// payment's row lock, and the same notification applied twice has the
// effect of applying it once.
package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	otelx "github.com/md-rashed-zaman/slotledger/libs/otel"
	"github.com/md-rashed-zaman/slotledger/services/booking-service/internal/apperr"
	"github.com/md-rashed-zaman/slotledger/services/booking-service/internal/gateway"
	"github.com/md-rashed-zaman/slotledger/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/slotledger/services/booking-service/internal/outbox"
	"github.com/md-rashed-zaman/slotledger/services/booking-service/internal/storage"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type Config struct {
	Policy Policy
	// Now defaults to time.Now.
	Now func() time.Time
}

type Reconciler struct {
	store  storage.Store
	logger *slog.Logger
	policy Policy
	now    func() time.Time
	tracer trace.Tracer
}

func New(store storage.Store, logger *slog.Logger, cfg Config) *Reconciler {
	policy := cfg.Policy
	if policy == "" {
		policy = PolicyStrict
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Reconciler{
		store:  store,
		logger: logger,
		policy: policy,
		now:    now,
		tracer: otelx.Tracer("slotledger/reconcile"),
	}
}

type Result struct {
	Outcome Outcome
	// Payment and Previous are unset for ignored and duplicate outcomes.
	Payment  model.Payment
	Previous model.PaymentStatus
	Target   model.PaymentStatus
}

// Reconcile resolves the notification to one payment and applies the
// transition table. It returns a not_found error when no payment matches so
// the gateway retries; every other outcome is a nil error.
func (r *Reconciler) Reconcile(ctx context.Context, n gateway.Notification) (Result, error) {
	ctx, span := r.tracer.Start(ctx, "reconcile.webhook", trace.WithAttributes(
		attribute.String("provider", n.Provider),
		attribute.String("provider.event_id", n.EventID),
		attribute.String("provider.status", n.Status),
	))
	defer span.End()

	target, ok := MapStatus(n.Status)
	if !ok {
		r.logger.Warn("webhook status ignored",
			"provider", n.Provider,
			"provider_event_id", n.EventID,
			"status", n.Status,
		)
		span.SetAttributes(attribute.String("reconcile.outcome", string(OutcomeIgnored)))
		return Result{Outcome: OutcomeIgnored}, nil
	}

	res := Result{Target: target}
	err := r.store.InTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		res = Result{Target: target}
		if n.EventID != "" {
			err := tx.InsertProviderEvent(ctx, storage.ProviderEvent{
				Provider:        n.Provider,
				ProviderEventID: n.EventID,
				EventType:       n.EventType,
				Payload:         n.Raw,
			})
			if errors.Is(err, storage.ErrDuplicate) {
				res.Outcome = OutcomeDuplicate
				return nil
			}
			if err != nil {
				return err
			}
		}

		p, err := resolve(ctx, tx, n)
		if err != nil {
			return err
		}
		res.Payment = p
		res.Previous = p.Status
		res.Outcome = Decide(p.Status, target, r.policy)
		if res.Outcome != OutcomeApplied {
			return nil
		}

		var paidAt *time.Time
		if target == model.PaymentPaid {
			t := r.now().UTC()
			paidAt = &t
		}
		if err := tx.UpdatePaymentStatus(ctx, p.ID, target, paidAt); err != nil {
			return err
		}
		p.Status = target
		if p.PaidAt == nil && paidAt != nil {
			p.PaidAt = paidAt
		}
		res.Payment = p
		return tx.InsertOutboxEvent(ctx, statusEvent(p, res.Previous, n))
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "reconcile failed")
		return Result{}, err
	}
	span.SetAttributes(
		attribute.String("reconcile.outcome", string(res.Outcome)),
		attribute.String("payment.id", res.Payment.ID),
	)

	attrs := []any{
		"provider", n.Provider,
		"provider_event_id", n.EventID,
		"payment_id", res.Payment.ID,
		"previous_status", string(res.Previous),
		"target_status", string(target),
	}
	switch {
	case res.Outcome == OutcomeDuplicate:
		r.logger.Info("webhook duplicate ignored", attrs...)
	case res.Outcome == OutcomeRejected:
		r.logger.Warn("webhook transition between terminal statuses rejected", attrs...)
	case res.Outcome == OutcomeApplied && res.Previous.Terminal():
		r.logger.Warn("webhook overwrote terminal status", attrs...)
	case res.Outcome == OutcomeApplied:
		r.logger.Info("payment status reconciled", attrs...)
	default:
		r.logger.Debug("webhook already applied", attrs...)
	}
	return res, nil
}

// resolve tries the pass-through payment id, then the appointment's payment,
// then the gateway order id.
func resolve(ctx context.Context, tx storage.Tx, n gateway.Notification) (model.Payment, error) {
	if validID(n.PaymentID) {
		p, err := tx.GetPaymentForUpdate(ctx, n.PaymentID)
		if err == nil || !errors.Is(err, storage.ErrNotFound) {
			return p, err
		}
	}
	if validID(n.AppointmentID) {
		p, err := tx.GetPaymentByAppointmentForUpdate(ctx, n.AppointmentID)
		if err == nil || !errors.Is(err, storage.ErrNotFound) {
			return p, err
		}
	}
	if n.OrderID != "" {
		p, err := tx.GetPaymentByOrderForUpdate(ctx, n.OrderID)
		if err == nil || !errors.Is(err, storage.ErrNotFound) {
			return p, err
		}
	}
	return model.Payment{}, apperr.NotFound("payment")
}

func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

func statusEvent(p model.Payment, previous model.PaymentStatus, n gateway.Notification) outbox.Event {
	body := map[string]any{
		"payment_id":        p.ID,
		"appointment_id":    p.AppointmentID,
		"status":            string(p.Status),
		"previous_status":   string(previous),
		"provider":          n.Provider,
		"provider_event_id": n.EventID,
	}
	if p.PaidAt != nil {
		body["paid_at"] = p.PaidAt.UTC().Format(time.RFC3339Nano)
	}
	payload, _ := json.Marshal(body)
	return outbox.Event{
		AggregateType: "payment",
		AggregateID:   p.ID,
		EventType:     outbox.EventPaymentStatusChanged,
		Payload:       payload,
	}
}
