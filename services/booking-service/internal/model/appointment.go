package model

import "time"

type AppointmentStatus string

// The zero value means scheduled.
const (
	AppointmentScheduled AppointmentStatus = ""
	AppointmentCompleted AppointmentStatus = "completed"
	AppointmentCancelled AppointmentStatus = "cancelled"
)

func ParseAppointmentStatus(raw string) (AppointmentStatus, bool) {
	switch raw {
	case "", "scheduled":
		return AppointmentScheduled, true
	case "completed":
		return AppointmentCompleted, true
	case "cancelled", "canceled":
		return AppointmentCancelled, true
	default:
		return "", false
	}
}

func (s AppointmentStatus) Label() string {
	if s == AppointmentScheduled {
		return "scheduled"
	}
	return string(s)
}

type Appointment struct {
	ID              string
	ClientID        string
	StaffID         string
	StartsAt        time.Time
	DurationMinutes int
	ServiceID       string
	TimeSlotID      string
	Status          AppointmentStatus
	Notes           string
	CreatedAt       time.Time
}
