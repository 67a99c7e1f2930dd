package model

import "time"

type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentPaid      PaymentStatus = "paid"
	PaymentCancelled PaymentStatus = "cancelled"
	PaymentFailed    PaymentStatus = "failed"
)

func (s PaymentStatus) Terminal() bool {
	return s == PaymentPaid || s == PaymentCancelled || s == PaymentFailed
}

type PaymentMethod string

const (
	MethodOnline   PaymentMethod = "online"
	MethodCash     PaymentMethod = "cash"
	MethodCard     PaymentMethod = "card"
	MethodTransfer PaymentMethod = "transfer"
)

func ParsePaymentMethod(raw string) (PaymentMethod, bool) {
	switch PaymentMethod(raw) {
	case "":
		return MethodOnline, true
	case MethodOnline, MethodCash, MethodCard, MethodTransfer:
		return PaymentMethod(raw), true
	default:
		return "", false
	}
}

type DiscountType string

const (
	DiscountNone    DiscountType = ""
	DiscountPercent DiscountType = "percent"
	DiscountAmount  DiscountType = "amount"
)

type Payment struct {
	ID              string
	ClientID        string
	AppointmentID   string
	ServiceID       string
	Amount          Money
	DiscountType    DiscountType
	DiscountValue   Money
	DiscountAmount  Money
	Status          PaymentStatus
	Method          PaymentMethod
	PaymentLink     string
	ExternalOrderID string
	PaidAt          *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// FinalAmount is the payable total: base minus a positive discount.
func (p Payment) FinalAmount() Money {
	if p.DiscountAmount > 0 {
		return p.Amount - p.DiscountAmount
	}
	return p.Amount
}
