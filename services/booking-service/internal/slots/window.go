package slots

import (
	"strings"
	"time"

	"github.com/md-rashed-zaman/slotledger/services/booking-service/internal/apperr"
	"github.com/md-rashed-zaman/slotledger/services/booking-service/internal/model"
)

const (
	DefaultDurationMinutes = 60
	DefaultBreakMinutes    = 0

	// MaxMinutes bounds duration and break to one day.
	MaxMinutes = 24 * 60
)

// Request is the caller-facing description of a work window. Nil durations
// take the defaults.
type Request struct {
	StaffID         string
	Date            string
	StartTime       string
	EndTime         string
	DurationMinutes *int
	BreakMinutes    *int
}

// Window is a validated work window with absolute bounds.
type Window struct {
	StaffID  string
	Start    time.Time
	End      time.Time
	Duration time.Duration
	Break    time.Duration
}

// ParseWindow validates req and resolves its wall-clock times in loc.
func ParseWindow(req Request, loc *time.Location) (Window, error) {
	if loc == nil {
		loc = time.UTC
	}
	fields := map[string]string{}
	staffID := strings.TrimSpace(req.StaffID)
	if staffID == "" {
		fields["staff_id"] = "is required"
	}
	date := strings.TrimSpace(req.Date)
	startRaw := strings.TrimSpace(req.StartTime)
	endRaw := strings.TrimSpace(req.EndTime)
	for name, v := range map[string]string{"date": date, "start_time": startRaw, "end_time": endRaw} {
		if v == "" {
			fields[name] = "is required"
		}
	}

	duration := DefaultDurationMinutes
	if req.DurationMinutes != nil {
		duration = *req.DurationMinutes
	}
	if duration <= 0 {
		fields["duration_minutes"] = "must be greater than 0"
	} else if duration > MaxMinutes {
		fields["duration_minutes"] = "must be at most 1440"
	}
	brk := DefaultBreakMinutes
	if req.BreakMinutes != nil {
		brk = *req.BreakMinutes
	}
	if brk < 0 {
		fields["break_minutes"] = "must be 0 or greater"
	} else if brk > MaxMinutes {
		fields["break_minutes"] = "must be at most 1440"
	}
	if len(fields) > 0 {
		return Window{}, apperr.Validation("invalid slot window", fields)
	}

	day, err := time.ParseInLocation(model.DateLayout, date, loc)
	if err != nil {
		fields["date"] = "must be YYYY-MM-DD"
	}
	start, err := parseClock(day, startRaw)
	if err != nil {
		fields["start_time"] = "must be HH:MM"
	}
	end, err := parseClock(day, endRaw)
	if err != nil {
		fields["end_time"] = "must be HH:MM"
	}
	if len(fields) > 0 {
		return Window{}, apperr.Validation("invalid slot window", fields)
	}
	if !end.After(start) {
		return Window{}, apperr.Field("end_time", "must be after start_time")
	}

	return Window{
		StaffID:  staffID,
		Start:    start,
		End:      end,
		Duration: time.Duration(duration) * time.Minute,
		Break:    time.Duration(brk) * time.Minute,
	}, nil
}

// Plan returns the start of every slot that fits entirely inside w. Starts
// advance by Duration+Break and a trailing partial slot is never emitted.
func Plan(w Window) []time.Time {
	step := w.Duration + w.Break
	if w.Duration <= 0 || w.Break < 0 || step <= 0 || !w.End.After(w.Start) {
		return nil
	}
	var starts []time.Time
	for t := w.Start; !t.Add(w.Duration).After(w.End); t = t.Add(step) {
		starts = append(starts, t)
	}
	return starts
}

// parseClock accepts HH:MM and HH:MM:SS on the given day.
func parseClock(day time.Time, raw string) (time.Time, error) {
	var clock time.Time
	var err error
	for _, layout := range []string{model.TimeLayout, "15:04:05"} {
		clock, err = time.Parse(layout, raw)
		if err == nil {
			break
		}
	}
	if err != nil {
		return time.Time{}, err
	}
	return time.Date(day.Year(), day.Month(), day.Day(), clock.Hour(), clock.Minute(), clock.Second(), 0, day.Location()), nil
}
