package memstore

import (
	"context"
	"time"

	"github.com/md-rashed-zaman/slotledger/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/slotledger/services/booking-service/internal/outbox"
	"github.com/md-rashed-zaman/slotledger/services/booking-service/internal/storage"
)

type tx struct {
	st     *state
	events []outbox.Event
	now    func() time.Time
}

func (t *tx) InsertSlot(_ context.Context, s *model.TimeSlot) error {
	key := slotKey{staffID: s.StaffID, startsAt: s.StartsAt.UnixNano()}
	if _, ok := t.st.slotKeys[key]; ok {
		return storage.ErrDuplicate
	}
	if _, ok := t.st.slots[s.ID]; ok {
		return storage.ErrDuplicate
	}
	s.IsAvailable = true
	s.AppointmentID = ""
	s.CreatedAt = t.now()
	t.st.slots[s.ID] = *s
	t.st.slotKeys[key] = s.ID
	return nil
}

func (t *tx) GetSlotForUpdate(_ context.Context, id string) (model.TimeSlot, error) {
	s, ok := t.st.slots[id]
	if !ok {
		return model.TimeSlot{}, storage.ErrNotFound
	}
	return s, nil
}

func (t *tx) ClaimSlot(_ context.Context, slotID, appointmentID string) error {
	s, ok := t.st.slots[slotID]
	if !ok || !s.Claimable() {
		return storage.ErrSlotTaken
	}
	s.IsAvailable = false
	s.AppointmentID = appointmentID
	t.st.slots[slotID] = s
	return nil
}

func (t *tx) ReleaseSlots(_ context.Context, appointmentID string) (int, error) {
	n := 0
	for id, s := range t.st.slots {
		if s.AppointmentID != appointmentID {
			continue
		}
		s.IsAvailable = true
		s.AppointmentID = ""
		t.st.slots[id] = s
		n++
	}
	return n, nil
}

func (t *tx) InsertAppointment(_ context.Context, a *model.Appointment) error {
	if _, ok := t.st.appointments[a.ID]; ok {
		return storage.ErrDuplicate
	}
	if _, ok := t.st.clients[a.ClientID]; !ok {
		return storage.ErrNotFound
	}
	if _, ok := t.st.services[a.ServiceID]; a.ServiceID != "" && !ok {
		return storage.ErrNotFound
	}
	a.CreatedAt = t.now()
	t.st.appointments[a.ID] = *a
	return nil
}

func (t *tx) GetAppointment(_ context.Context, id string) (model.Appointment, error) {
	a, ok := t.st.appointments[id]
	if !ok {
		return model.Appointment{}, storage.ErrNotFound
	}
	return a, nil
}

func (t *tx) GetAppointmentForUpdate(ctx context.Context, id string) (model.Appointment, error) {
	return t.GetAppointment(ctx, id)
}

func (t *tx) UpdateAppointmentStatus(_ context.Context, id string, status model.AppointmentStatus) error {
	a, ok := t.st.appointments[id]
	if !ok {
		return storage.ErrNotFound
	}
	a.Status = status
	t.st.appointments[id] = a
	return nil
}

func (t *tx) ClearAppointmentSlot(_ context.Context, id string) error {
	a, ok := t.st.appointments[id]
	if !ok {
		return storage.ErrNotFound
	}
	a.TimeSlotID = ""
	t.st.appointments[id] = a
	return nil
}

func (t *tx) DeleteAppointment(_ context.Context, id string) error {
	if _, ok := t.st.appointments[id]; !ok {
		return storage.ErrNotFound
	}
	for _, s := range t.st.slots {
		if s.AppointmentID == id {
			// Same guard as the slot foreign key in Postgres.
			return storage.ErrSlotTaken
		}
	}
	delete(t.st.appointments, id)
	return nil
}

func (t *tx) GetService(_ context.Context, id string) (model.Service, error) {
	s, ok := t.st.services[id]
	if !ok {
		return model.Service{}, storage.ErrNotFound
	}
	return s, nil
}

func (t *tx) GetClient(_ context.Context, id string) (model.Client, error) {
	c, ok := t.st.clients[id]
	if !ok {
		return model.Client{}, storage.ErrNotFound
	}
	return c, nil
}

func (t *tx) InsertPayment(_ context.Context, p *model.Payment) error {
	if _, ok := t.st.payments[p.ID]; ok {
		return storage.ErrDuplicate
	}
	for _, existing := range t.st.payments {
		if existing.AppointmentID == p.AppointmentID {
			return storage.ErrDuplicate
		}
		if p.ExternalOrderID != "" && existing.ExternalOrderID == p.ExternalOrderID {
			return storage.ErrDuplicate
		}
	}
	now := t.now()
	p.CreatedAt = now
	p.UpdatedAt = now
	t.st.payments[p.ID] = *p
	return nil
}

func (t *tx) GetPayment(_ context.Context, id string) (model.Payment, error) {
	p, ok := t.st.payments[id]
	if !ok {
		return model.Payment{}, storage.ErrNotFound
	}
	return p, nil
}

func (t *tx) GetPaymentForUpdate(ctx context.Context, id string) (model.Payment, error) {
	return t.GetPayment(ctx, id)
}

func (t *tx) GetPaymentByAppointmentForUpdate(_ context.Context, appointmentID string) (model.Payment, error) {
	for _, p := range t.st.payments {
		if p.AppointmentID == appointmentID {
			return p, nil
		}
	}
	return model.Payment{}, storage.ErrNotFound
}

func (t *tx) GetPaymentByOrderForUpdate(_ context.Context, orderID string) (model.Payment, error) {
	if orderID == "" {
		return model.Payment{}, storage.ErrNotFound
	}
	for _, p := range t.st.payments {
		if p.ExternalOrderID == orderID {
			return p, nil
		}
	}
	return model.Payment{}, storage.ErrNotFound
}

func (t *tx) UpdatePaymentStatus(_ context.Context, id string, status model.PaymentStatus, paidAt *time.Time) error {
	p, ok := t.st.payments[id]
	if !ok {
		return storage.ErrNotFound
	}
	p.Status = status
	if p.PaidAt == nil && paidAt != nil {
		v := *paidAt
		p.PaidAt = &v
	}
	p.UpdatedAt = t.now()
	t.st.payments[id] = p
	return nil
}

func (t *tx) SetPaymentLink(_ context.Context, id, link, orderID string) error {
	p, ok := t.st.payments[id]
	if !ok {
		return storage.ErrNotFound
	}
	if orderID != "" {
		for otherID, other := range t.st.payments {
			if otherID != id && other.ExternalOrderID == orderID {
				return storage.ErrDuplicate
			}
		}
		p.ExternalOrderID = orderID
	}
	p.PaymentLink = link
	p.UpdatedAt = t.now()
	t.st.payments[id] = p
	return nil
}

func (t *tx) InsertProviderEvent(_ context.Context, evt storage.ProviderEvent) error {
	key := evt.Provider + "\x00" + evt.ProviderEventID
	if _, ok := t.st.providerEvents[key]; ok {
		return storage.ErrDuplicate
	}
	t.st.providerEvents[key] = struct{}{}
	return nil
}

func (t *tx) InsertOutboxEvent(_ context.Context, evt outbox.Event) error {
	evt.Payload = append([]byte(nil), evt.Payload...)
	t.events = append(t.events, evt)
	return nil
}
