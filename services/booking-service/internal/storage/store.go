package storage

import (
	"context"
	"errors"
	"time"

	"github.com/md-rashed-zaman/slotledger/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/slotledger/services/booking-service/internal/outbox"
)

var (
	ErrNotFound  = errors.New("storage: not found")
	ErrDuplicate = errors.New("storage: duplicate")
	// ErrSlotTaken means a claim lost the compare-and-swap on a slot.
	ErrSlotTaken = errors.New("storage: slot already claimed")
)

// Store runs units of work. Every write made through tx is committed when fn
// returns nil and discarded otherwise; no other reader observes a partial unit.
type Store interface {
	InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	Ping(ctx context.Context) error
}

// Tx is the set of operations available inside a unit of work. ForUpdate
// reads hold the row until the unit ends.
type Tx interface {
	InsertSlot(ctx context.Context, slot *model.TimeSlot) error
	GetSlotForUpdate(ctx context.Context, id string) (model.TimeSlot, error)
	// ClaimSlot flips an available, unlinked slot to unavailable and links it.
	// It returns ErrSlotTaken when the slot is no longer claimable.
	ClaimSlot(ctx context.Context, slotID, appointmentID string) error
	// ReleaseSlots restores every slot linked to appointmentID and reports how many changed.
	ReleaseSlots(ctx context.Context, appointmentID string) (int, error)

	InsertAppointment(ctx context.Context, appt *model.Appointment) error
	GetAppointment(ctx context.Context, id string) (model.Appointment, error)
	GetAppointmentForUpdate(ctx context.Context, id string) (model.Appointment, error)
	UpdateAppointmentStatus(ctx context.Context, id string, status model.AppointmentStatus) error
	ClearAppointmentSlot(ctx context.Context, id string) error
	DeleteAppointment(ctx context.Context, id string) error

	GetService(ctx context.Context, id string) (model.Service, error)
	GetClient(ctx context.Context, id string) (model.Client, error)

	// InsertPayment returns ErrDuplicate when the appointment already has a payment.
	InsertPayment(ctx context.Context, p *model.Payment) error
	GetPayment(ctx context.Context, id string) (model.Payment, error)
	GetPaymentForUpdate(ctx context.Context, id string) (model.Payment, error)
	GetPaymentByAppointmentForUpdate(ctx context.Context, appointmentID string) (model.Payment, error)
	GetPaymentByOrderForUpdate(ctx context.Context, orderID string) (model.Payment, error)
	UpdatePaymentStatus(ctx context.Context, id string, status model.PaymentStatus, paidAt *time.Time) error
	SetPaymentLink(ctx context.Context, id, link, orderID string) error

	// InsertProviderEvent returns ErrDuplicate for a replayed (provider, event id).
	InsertProviderEvent(ctx context.Context, evt ProviderEvent) error
	InsertOutboxEvent(ctx context.Context, evt outbox.Event) error
}

type ProviderEvent struct {
	Provider        string
	ProviderEventID string
	EventType       string
	Payload         []byte
}
