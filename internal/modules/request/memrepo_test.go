package request

import (
	"context"
	"sync"
	"time"

	"roadside/internal/modules/mechanic"
	"roadside/internal/types"
)

// memRepo is an in-memory Repository. One mutex makes every method atomic,
// matching the single-statement guarantees of the Postgres store.
type memRepo struct {
	mu       sync.Mutex
	requests map[types.ID]*Request
	events   []Event
	// ratings mimics the mechanic aggregate written by AttachReview.
	ratings map[types.ID][2]float64
}

func newMemRepo() *memRepo {
	return &memRepo{
		requests: map[types.ID]*Request{},
		ratings:  map[types.ID][2]float64{},
	}
}

func clone(r *Request) *Request {
	cp := *r
	if r.AssignedMechanic != nil {
		id := *r.AssignedMechanic
		cp.AssignedMechanic = &id
	}
	if r.Review != nil {
		rv := *r.Review
		cp.Review = &rv
	}
	return &cp
}

func (m *memRepo) Create(_ context.Context, r *Request, ev *Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests[r.ID] = clone(r)
	m.events = append(m.events, *ev)
	return nil
}

func (m *memRepo) Get(_ context.Context, id types.ID) (*Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.requests[id]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(r), nil
}

func (m *memRepo) Accept(_ context.Context, id, mechanicID types.ID, maxActive int) (*Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	active := 0
	for _, r := range m.requests {
		if r.AssignedTo(mechanicID) && (r.Status == StatusAccepted || r.Status == StatusPaymentPending) {
			active++
		}
	}
	if active >= maxActive {
		return nil, ErrCapacityExceeded
	}
	r, ok := m.requests[id]
	if !ok {
		return nil, ErrNotFound
	}
	if r.Status != StatusPending {
		return nil, ErrRequestUnavailable
	}
	mid := mechanicID
	r.Status = StatusAccepted
	r.StatusVersion++
	r.AssignedMechanic = &mid
	m.events = append(m.events, Event{RequestID: id, FromStatus: StatusPending, ToStatus: StatusAccepted, ActorRole: ActorMechanic, ActorID: &mid, CreatedAt: time.Now()})
	return clone(r), nil
}

func (m *memRepo) UpdateStatus(_ context.Context, t Transition) (*Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.requests[t.ID]
	if !ok {
		return nil, ErrNotFound
	}
	if r.Status != t.From || r.StatusVersion != t.Version {
		return nil, ErrConflict
	}
	r.Status = t.To
	r.StatusVersion++
	if t.PaymentMethod != nil {
		r.PaymentMethod = *t.PaymentMethod
	}
	if t.ClearMechanic {
		r.AssignedMechanic = nil
	}
	m.events = append(m.events, Event{RequestID: t.ID, FromStatus: t.From, ToStatus: t.To, ActorRole: t.ActorRole, ActorID: types.IDPtr(t.ActorID), CreatedAt: time.Now()})
	return clone(r), nil
}

func (m *memRepo) AttachReview(_ context.Context, id types.ID, rv Review) (*Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.requests[id]
	if !ok {
		return nil, ErrNotFound
	}
	if r.Review != nil {
		return nil, ErrAlreadyReviewed
	}
	if r.Status != StatusCompleted {
		return nil, ErrInvalidTransition
	}
	r.Review = &rv
	if r.AssignedMechanic != nil {
		agg := m.ratings[*r.AssignedMechanic]
		count := agg[1]
		agg[0] = mechanic.NextRating(agg[0], int(count), rv.Rating)
		agg[1] = count + 1
		m.ratings[*r.AssignedMechanic] = agg
	}
	return clone(r), nil
}

func (m *memRepo) rating(mechanicID types.ID) (float64, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	agg := m.ratings[mechanicID]
	return agg[0], int(agg[1])
}

func (m *memRepo) eventsFor(id types.ID) []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Event
	for _, e := range m.events {
		if e.RequestID == id {
			out = append(out, e)
		}
	}
	return out
}

// seed stores r as-is, bypassing the lifecycle.
func (m *memRepo) seed(r *Request) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests[r.ID] = clone(r)
}
