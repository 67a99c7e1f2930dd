// Package gateway holds the payment gateway collaborators. A gateway issues
// payment links that carry the payment id as a pass-through parameter, and
// turns a verified inbound webhook into a Notification.
package gateway

import (
	"context"
	"errors"

	"github.com/md-rashed-zaman/slotledger/services/booking-service/internal/model"
)

var (
	ErrNotConfigured    = errors.New("payment gateway not configured")
	ErrInvalidSignature = errors.New("invalid webhook signature")
)

// Pass-through parameter names shared by link metadata and webhook payloads.
const (
	ParamPaymentID     = "payment_id"
	ParamAppointmentID = "appointment_id"
	ParamClientID      = "client_id"
	ParamServiceID     = "service_id"
	ParamOrderID       = "order_id"
	ParamStatus        = "status"
	ParamEventID       = "event_id"
	ParamAmount        = "amount"
	ParamSignature     = "signature"
)

type LinkRequest struct {
	Payment     model.Payment
	Appointment model.Appointment
	Service     model.Service
	Client      model.Client
}

type Link struct {
	URL string
	// OrderID is the gateway's identifier for the checkout, stored as the
	// payment's external order id.
	OrderID string
}

type Gateway interface {
	Name() string
	GeneratePaymentLink(ctx context.Context, req LinkRequest) (Link, error)
}

// Notification is the result of verifying one webhook delivery. Status is
// the gateway's status string; the reconciler decides what it means.
type Notification struct {
	Provider      string
	EventID       string
	EventType     string
	PaymentID     string
	AppointmentID string
	ClientID      string
	ServiceID     string
	OrderID       string
	Status        string
	Raw           []byte
}
