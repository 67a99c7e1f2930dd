// Package memstore is an in-process storage.Store. Units of work run one at a
// time under a single mutex against a private copy of the state, which is
// swapped in on success, so readers never see a partial unit. Outbox events
// are not part of that copy: a unit stages its own and appends them on
// commit, and only the most recent OutboxRetention are kept since nothing
// publishes them.
package memstore

import (
	"context"
	"sync"
	"time"

	"github.com/md-rashed-zaman/slotledger/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/slotledger/services/booking-service/internal/outbox"
	"github.com/md-rashed-zaman/slotledger/services/booking-service/internal/storage"
)

// OutboxRetention is how many committed outbox events a Store keeps.
const OutboxRetention = 1000

type Store struct {
	mu        sync.Mutex
	state     *state
	outbox    []outbox.Event
	retention int
	now       func() time.Time
}

type state struct {
	slots          map[string]model.TimeSlot
	slotKeys       map[slotKey]string
	appointments   map[string]model.Appointment
	services       map[string]model.Service
	clients        map[string]model.Client
	payments       map[string]model.Payment
	providerEvents map[string]struct{}
}

type slotKey struct {
	staffID  string
	startsAt int64
}

func New() *Store {
	return &Store{
		state: &state{
			slots:          map[string]model.TimeSlot{},
			slotKeys:       map[slotKey]string{},
			appointments:   map[string]model.Appointment{},
			services:       map[string]model.Service{},
			clients:        map[string]model.Client{},
			payments:       map[string]model.Payment{},
			providerEvents: map[string]struct{}{},
		},
		retention: OutboxRetention,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, tx storage.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	t := &tx{st: s.state.clone(), now: s.now}
	if err := fn(ctx, t); err != nil {
		return err
	}
	s.state = t.st
	s.outbox = append(s.outbox, t.events...)
	if over := len(s.outbox) - s.retention; over > 0 {
		s.outbox = append(s.outbox[:0:0], s.outbox[over:]...)
	}
	return nil
}

func (s *Store) Ping(context.Context) error { return nil }

// PutService and PutClient seed the catalog collaborators.
func (s *Store) PutService(svc model.Service) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.services[svc.ID] = svc
}

func (s *Store) PutClient(c model.Client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.clients[c.ID] = c
}

func (s *Store) Slot(id string) (model.TimeSlot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.state.slots[id]
	return v, ok
}

func (s *Store) Appointment(id string) (model.Appointment, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.state.appointments[id]
	return v, ok
}

func (s *Store) Payment(id string) (model.Payment, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.state.payments[id]
	return v, ok
}

// OutboxEvents returns the retained committed outbox events in insertion
// order.
func (s *Store) OutboxEvents() []outbox.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]outbox.Event(nil), s.outbox...)
}

func (st *state) clone() *state {
	cp := &state{
		slots:          make(map[string]model.TimeSlot, len(st.slots)),
		slotKeys:       make(map[slotKey]string, len(st.slotKeys)),
		appointments:   make(map[string]model.Appointment, len(st.appointments)),
		services:       make(map[string]model.Service, len(st.services)),
		clients:        make(map[string]model.Client, len(st.clients)),
		payments:       make(map[string]model.Payment, len(st.payments)),
		providerEvents: make(map[string]struct{}, len(st.providerEvents)),
	}
	for k, v := range st.slots {
		cp.slots[k] = v
	}
	for k, v := range st.slotKeys {
		cp.slotKeys[k] = v
	}
	for k, v := range st.appointments {
		cp.appointments[k] = v
	}
	for k, v := range st.services {
		cp.services[k] = v
	}
	for k, v := range st.clients {
		cp.clients[k] = v
	}
	for k, v := range st.payments {
		if v.PaidAt != nil {
			t := *v.PaidAt
			v.PaidAt = &t
		}
		cp.payments[k] = v
	}
	for k := range st.providerEvents {
		cp.providerEvents[k] = struct{}{}
	}
	return cp
}
