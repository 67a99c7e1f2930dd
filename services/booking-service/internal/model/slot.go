package model

import "time"

const (
	DateLayout = "2006-01-02"
	TimeLayout = "15:04"
)

// TimeSlot is one bookable interval for one staff member. StartsAt carries the
// calendar date and wall-clock start; (StaffID, StartsAt) is unique.
type TimeSlot struct {
	ID              string
	StaffID         string
	StartsAt        time.Time
	DurationMinutes int
	IsAvailable     bool
	AppointmentID   string
	CreatedAt       time.Time
}

func (s TimeSlot) EndsAt() time.Time {
	return s.StartsAt.Add(time.Duration(s.DurationMinutes) * time.Minute)
}

// Claimable reports whether the slot may be bound to a new appointment.
func (s TimeSlot) Claimable() bool {
	return s.IsAvailable && s.AppointmentID == ""
}
