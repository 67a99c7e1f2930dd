package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/md-rashed-zaman/slotledger/services/booking-service/internal/model"
	"github.com/stripe/stripe-go/v79"
	checkoutsession "github.com/stripe/stripe-go/v79/checkout/session"
	"github.com/stripe/stripe-go/v79/webhook"
)

const ProviderStripe = "stripe"

type StripeConfig struct {
	SecretKey        string
	WebhookSecret    string
	WebhookTolerance time.Duration
	Currency         string
	SuccessURL       string
	CancelURL        string
	// Backend overrides the Stripe API backend; nil uses the default.
	Backend stripe.Backend
}

// Stripe issues Checkout Sessions in payment mode and verifies signed
// Stripe webhook events.
type Stripe struct {
	sessions      checkoutsession.Client
	configured    bool
	webhookSecret string
	tolerance     time.Duration
	currency      string
	successURL    string
	cancelURL     string
}

func NewStripe(cfg StripeConfig) *Stripe {
	backend := cfg.Backend
	if backend == nil {
		backend = stripe.GetBackend(stripe.APIBackend)
	}
	tolerance := cfg.WebhookTolerance
	if tolerance <= 0 {
		tolerance = webhook.DefaultTolerance
	}
	currency := strings.ToLower(strings.TrimSpace(cfg.Currency))
	if currency == "" {
		currency = "usd"
	}
	key := strings.TrimSpace(cfg.SecretKey)
	return &Stripe{
		sessions:      checkoutsession.Client{B: backend, Key: key},
		configured:    key != "",
		webhookSecret: strings.TrimSpace(cfg.WebhookSecret),
		tolerance:     tolerance,
		currency:      currency,
		successURL:    strings.TrimSpace(cfg.SuccessURL),
		cancelURL:     strings.TrimSpace(cfg.CancelURL),
	}
}

func (s *Stripe) Name() string { return ProviderStripe }

func (s *Stripe) GeneratePaymentLink(ctx context.Context, req LinkRequest) (Link, error) {
	if !s.configured {
		return Link{}, ErrNotConfigured
	}
	amount := int64(req.Payment.FinalAmount())
	if amount <= 0 {
		return Link{}, fmt.Errorf("stripe: payment %s has nothing to collect", req.Payment.ID)
	}
	name := req.Service.Name
	if name == "" {
		name = "Appointment " + req.Appointment.StartsAt.Format(model.DateLayout+" "+model.TimeLayout)
	}
	metadata := passThrough(req)

	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL:        stripe.String(s.successURL),
		CancelURL:         stripe.String(s.cancelURL),
		ClientReferenceID: stripe.String(req.Payment.ID),
		LineItems: []*stripe.CheckoutSessionLineItemParams{{
			Quantity: stripe.Int64(1),
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:   stripe.String(s.currency),
				UnitAmount: stripe.Int64(amount),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripe.String(name),
				},
			},
		}},
		PaymentIntentData: &stripe.CheckoutSessionPaymentIntentDataParams{
			Metadata: metadata,
		},
	}
	if req.Client.Email != "" {
		params.CustomerEmail = stripe.String(req.Client.Email)
	}
	for k, v := range metadata {
		params.AddMetadata(k, v)
	}
	params.Context = ctx
	params.SetIdempotencyKey("payment-link:" + req.Payment.ID + ":" + req.Payment.UpdatedAt.UTC().Format(time.RFC3339Nano))

	sess, err := s.sessions.New(params)
	if err != nil {
		return Link{}, fmt.Errorf("stripe: create checkout session: %w", err)
	}
	return Link{URL: sess.URL, OrderID: sess.ID}, nil
}

// VerifyWebhook checks the Stripe-Signature header and extracts the
// pass-through metadata. Event types this service does not act on come back
// with Status set to the raw event type.
func (s *Stripe) VerifyWebhook(body []byte, signature string) (Notification, error) {
	if s.webhookSecret == "" {
		return Notification{}, ErrNotConfigured
	}
	evt, err := webhook.ConstructEventWithOptions(body, signature, s.webhookSecret, webhook.ConstructEventOptions{
		Tolerance:                s.tolerance,
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return Notification{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	n := Notification{
		Provider:  ProviderStripe,
		EventID:   evt.ID,
		EventType: string(evt.Type),
		Status:    string(evt.Type),
		Raw:       body,
	}
	switch n.EventType {
	case "checkout.session.completed", "checkout.session.async_payment_succeeded",
		"checkout.session.async_payment_failed", "checkout.session.expired":
		var sess stripe.CheckoutSession
		if err := json.Unmarshal(evt.Data.Raw, &sess); err != nil {
			return Notification{}, fmt.Errorf("stripe: decode checkout session: %w", err)
		}
		n.OrderID = sess.ID
		fillFromMetadata(&n, sess.Metadata)
		switch n.EventType {
		case "checkout.session.completed":
			if sess.PaymentStatus == stripe.CheckoutSessionPaymentStatusPaid {
				n.Status = string(model.PaymentPaid)
			}
		case "checkout.session.async_payment_succeeded":
			n.Status = string(model.PaymentPaid)
		case "checkout.session.async_payment_failed":
			n.Status = string(model.PaymentFailed)
		case "checkout.session.expired":
			n.Status = string(model.PaymentCancelled)
		}
	case "payment_intent.payment_failed", "payment_intent.canceled":
		var pi stripe.PaymentIntent
		if err := json.Unmarshal(evt.Data.Raw, &pi); err != nil {
			return Notification{}, fmt.Errorf("stripe: decode payment intent: %w", err)
		}
		fillFromMetadata(&n, pi.Metadata)
		n.Status = string(model.PaymentFailed)
		if n.EventType == "payment_intent.canceled" {
			n.Status = string(model.PaymentCancelled)
		}
	}
	return n, nil
}

func passThrough(req LinkRequest) map[string]string {
	m := map[string]string{
		ParamPaymentID:     req.Payment.ID,
		ParamAppointmentID: req.Appointment.ID,
		ParamClientID:      req.Client.ID,
	}
	if req.Service.ID != "" {
		m[ParamServiceID] = req.Service.ID
	}
	return m
}

func fillFromMetadata(n *Notification, md map[string]string) {
	n.PaymentID = strings.TrimSpace(md[ParamPaymentID])
	n.AppointmentID = strings.TrimSpace(md[ParamAppointmentID])
	n.ClientID = strings.TrimSpace(md[ParamClientID])
	n.ServiceID = strings.TrimSpace(md[ParamServiceID])
}
