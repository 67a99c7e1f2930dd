// Package ledger creates payments, owns the discount arithmetic and asks the
// payment gateway for links.
package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	otelx "github.com/md-rashed-zaman/slotledger/libs/otel"
	"github.com/md-rashed-zaman/slotledger/services/booking-service/internal/apperr"
	"github.com/md-rashed-zaman/slotledger/services/booking-service/internal/gateway"
	"github.com/md-rashed-zaman/slotledger/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/slotledger/services/booking-service/internal/outbox"
	"github.com/md-rashed-zaman/slotledger/services/booking-service/internal/storage"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const defaultLinkTimeout = 10 * time.Second

type CreateRequest struct {
	ClientID      string
	AppointmentID string
	// ServiceID defaults to the appointment's service.
	ServiceID     string
	Method        string
	DiscountType  string
	DiscountValue *model.Money
}

type Config struct {
	LinkTimeout time.Duration
}

type Ledger struct {
	store       storage.Store
	gateway     gateway.Gateway
	logger      *slog.Logger
	linkTimeout time.Duration
	tracer      trace.Tracer
}

// New returns a Ledger. gw may be nil, in which case online payments are
// created without a link.
func New(store storage.Store, gw gateway.Gateway, logger *slog.Logger, cfg Config) *Ledger {
	timeout := cfg.LinkTimeout
	if timeout <= 0 {
		timeout = defaultLinkTimeout
	}
	return &Ledger{
		store:       store,
		gateway:     gw,
		logger:      logger,
		linkTimeout: timeout,
		tracer:      otelx.Tracer("slotledger/ledger"),
	}
}

// Amounts is the answer to the final amount query.
type Amounts struct {
	PaymentID      string
	Amount         model.Money
	DiscountAmount model.Money
	Final          model.Money
}

type linkInputs struct {
	appointment model.Appointment
	service     model.Service
	client      model.Client
}

// Create persists a pending payment priced from the service catalog. For
// online payments a link is requested after commit; a gateway failure is
// logged and the payment is returned without a link.
func (l *Ledger) Create(ctx context.Context, req CreateRequest) (model.Payment, error) {
	req.ClientID = strings.TrimSpace(req.ClientID)
	req.AppointmentID = strings.TrimSpace(req.AppointmentID)
	req.ServiceID = strings.TrimSpace(req.ServiceID)

	fields := map[string]string{}
	checkID := func(field, v string, required bool) {
		switch {
		case v == "" && required:
			fields[field] = "is required"
		case v != "" && !validID(v):
			fields[field] = "must be a valid id"
		}
	}
	checkID("client_id", req.ClientID, true)
	checkID("appointment_id", req.AppointmentID, true)
	checkID("service_id", req.ServiceID, false)
	method, ok := model.ParsePaymentMethod(strings.ToLower(strings.TrimSpace(req.Method)))
	if !ok {
		fields["method"] = "must be one of online, cash, card, transfer"
	}
	discountType, ok := ParseDiscountType(req.DiscountType)
	if !ok {
		fields["discount_type"] = "must be percent or amount"
	}
	if len(fields) > 0 {
		return model.Payment{}, apperr.Validation("invalid payment", fields)
	}
	if err := ValidateDiscount(discountType, req.DiscountValue); err != nil {
		return model.Payment{}, err
	}

	var p model.Payment
	var in linkInputs
	err := l.store.InTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		appt, err := tx.GetAppointment(ctx, req.AppointmentID)
		if err != nil {
			return notFoundOr(err, "appointment")
		}
		client, err := tx.GetClient(ctx, req.ClientID)
		if err != nil {
			return notFoundOr(err, "client")
		}
		if appt.ClientID != client.ID {
			return apperr.Field("client_id", "does not match the appointment")
		}
		serviceID := req.ServiceID
		if serviceID == "" {
			serviceID = appt.ServiceID
		}
		if serviceID == "" {
			return apperr.Field("service_id", "is required when the appointment has no service")
		}
		svc, err := tx.GetService(ctx, serviceID)
		if err != nil {
			return notFoundOr(err, "service")
		}

		discount, err := ComputeDiscount(svc.Price, discountType, req.DiscountValue)
		if err != nil {
			return err
		}
		p = model.Payment{
			ID:             uuid.NewString(),
			ClientID:       client.ID,
			AppointmentID:  appt.ID,
			ServiceID:      svc.ID,
			Amount:         svc.Price,
			DiscountType:   discountType,
			DiscountAmount: discount,
			Status:         model.PaymentPending,
			Method:         method,
		}
		if req.DiscountValue != nil {
			p.DiscountValue = *req.DiscountValue
		}
		if err := tx.InsertPayment(ctx, &p); err != nil {
			if errors.Is(err, storage.ErrDuplicate) {
				return apperr.Conflict(apperr.CodePaymentExists, "appointment already has a payment")
			}
			return err
		}
		in = linkInputs{appointment: appt, service: svc, client: client}
		return tx.InsertOutboxEvent(ctx, paymentEvent(outbox.EventPaymentCreated, p, nil))
	})
	if err != nil {
		return model.Payment{}, err
	}
	l.logger.Info("payment created",
		"payment_id", p.ID,
		"appointment_id", p.AppointmentID,
		"amount", p.Amount.String(),
		"discount_amount", p.DiscountAmount.String(),
		"method", string(p.Method),
	)

	if p.Method != model.MethodOnline || l.gateway == nil {
		return p, nil
	}
	linked, err := l.issueLink(ctx, p, in)
	if err != nil {
		l.logger.Warn("payment link not issued", "payment_id", p.ID, "err", err)
		return p, nil
	}
	return linked, nil
}

// RegenerateLink asks the gateway for a fresh link for a pending online
// payment. Unlike Create, a gateway failure is returned.
func (l *Ledger) RegenerateLink(ctx context.Context, paymentID string) (model.Payment, error) {
	if !validID(paymentID) {
		return model.Payment{}, apperr.NotFound("payment")
	}
	if l.gateway == nil {
		return model.Payment{}, apperr.Internal(gateway.ErrNotConfigured)
	}
	var p model.Payment
	var in linkInputs
	err := l.store.InTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		var err error
		if p, err = tx.GetPayment(ctx, paymentID); err != nil {
			return notFoundOr(err, "payment")
		}
		if p.Status != model.PaymentPending {
			return apperr.Conflict(apperr.CodeInvalidTransition, "payment is "+string(p.Status)+", not pending")
		}
		if p.Method != model.MethodOnline {
			return apperr.Field("method", "payment links are only issued for online payments")
		}
		if in.appointment, err = tx.GetAppointment(ctx, p.AppointmentID); err != nil {
			return notFoundOr(err, "appointment")
		}
		if in.client, err = tx.GetClient(ctx, p.ClientID); err != nil {
			return notFoundOr(err, "client")
		}
		if p.ServiceID != "" {
			if in.service, err = tx.GetService(ctx, p.ServiceID); err != nil {
				return notFoundOr(err, "service")
			}
		}
		return nil
	})
	if err != nil {
		return model.Payment{}, err
	}
	linked, err := l.issueLink(ctx, p, in)
	if err != nil {
		return model.Payment{}, apperr.Internal(err)
	}
	return linked, nil
}

// FinalAmount reports the payable total of a payment.
func (l *Ledger) FinalAmount(ctx context.Context, paymentID string) (Amounts, error) {
	if !validID(paymentID) {
		return Amounts{}, apperr.NotFound("payment")
	}
	var p model.Payment
	err := l.store.InTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		var err error
		p, err = tx.GetPayment(ctx, paymentID)
		return notFoundOr(err, "payment")
	})
	if err != nil {
		return Amounts{}, err
	}
	return Amounts{PaymentID: p.ID, Amount: p.Amount, DiscountAmount: p.DiscountAmount, Final: p.FinalAmount()}, nil
}

// issueLink calls the gateway under the link timeout and stores the link.
func (l *Ledger) issueLink(ctx context.Context, p model.Payment, in linkInputs) (model.Payment, error) {
	gctx, cancel := context.WithTimeout(ctx, l.linkTimeout)
	defer cancel()
	gctx, span := l.tracer.Start(gctx, "gateway.generate_payment_link", trace.WithAttributes(
		attribute.String("payment.id", p.ID),
		attribute.String("gateway", l.gateway.Name()),
	))
	link, err := l.gateway.GeneratePaymentLink(gctx, gateway.LinkRequest{
		Payment:     p,
		Appointment: in.appointment,
		Service:     in.service,
		Client:      in.client,
	})
	otelx.EndSpan(span, err, "link generation failed")
	if err != nil {
		return p, err
	}

	err = l.store.InTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		if err := tx.SetPaymentLink(ctx, p.ID, link.URL, link.OrderID); err != nil {
			return notFoundOr(err, "payment")
		}
		p.PaymentLink = link.URL
		p.ExternalOrderID = link.OrderID
		return tx.InsertOutboxEvent(ctx, paymentEvent(outbox.EventPaymentLinkIssued, p, map[string]any{
			"gateway": l.gateway.Name(),
		}))
	})
	if err != nil {
		return p, err
	}
	l.logger.Info("payment link issued", "payment_id", p.ID, "gateway", l.gateway.Name(), "order_id", link.OrderID)
	return p, nil
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

func paymentEvent(eventType string, p model.Payment, extra map[string]any) outbox.Event {
	body := map[string]any{
		"payment_id":      p.ID,
		"appointment_id":  p.AppointmentID,
		"client_id":       p.ClientID,
		"service_id":      p.ServiceID,
		"status":          string(p.Status),
		"method":          string(p.Method),
		"amount":          p.Amount,
		"discount_amount": p.DiscountAmount,
		"final_amount":    p.FinalAmount(),
	}
	if p.ExternalOrderID != "" {
		body["external_order_id"] = p.ExternalOrderID
	}
	for k, v := range extra {
		body[k] = v
	}
	payload, _ := json.Marshal(body)
	return outbox.Event{
		AggregateType: "payment",
		AggregateID:   p.ID,
		EventType:     eventType,
		Payload:       payload,
	}
}
