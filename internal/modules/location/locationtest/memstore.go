// README: In-memory location.GeoStore for tests.
package locationtest

import (
	"context"
	"sync"

	"roadside/internal/modules/location"
	"roadside/internal/types"
)

// MemStore returns every member of a set as a search candidate, a superset of
// what Redis would return, so the haversine filter in location.Service decides.
type MemStore struct {
	mu   sync.Mutex
	sets map[location.Kind]map[types.ID]types.Point
	Err  error
}

func NewMemStore() *MemStore {
	return &MemStore{sets: map[location.Kind]map[types.ID]types.Point{}}
}

// NewService is shorthand for a location.Service over a fresh MemStore.
func NewService() (*location.Service, *MemStore) {
	m := NewMemStore()
	return location.NewService(m), m
}

func (m *MemStore) Add(_ context.Context, kind location.Kind, e location.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	if m.sets[kind] == nil {
		m.sets[kind] = map[types.ID]types.Point{}
	}
	m.sets[kind][e.ID] = e.Position
	return nil
}

func (m *MemStore) Remove(_ context.Context, kind location.Kind, id types.ID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	delete(m.sets[kind], id)
	return nil
}

func (m *MemStore) Search(_ context.Context, kind location.Kind, _ types.Point, _ float64) ([]location.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	out := make([]location.Entry, 0, len(m.sets[kind]))
	for id, p := range m.sets[kind] {
		out = append(out, location.Entry{ID: id, Position: p})
	}
	return out, nil
}

func (m *MemStore) AddMany(ctx context.Context, kind location.Kind, entries []location.Entry) error {
	for _, e := range entries {
		if err := m.Add(ctx, kind, e); err != nil {
			return err
		}
	}
	return nil
}

func (m *MemStore) Members(_ context.Context, kind location.Kind) ([]location.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	out := make([]location.Entry, 0, len(m.sets[kind]))
	for id, p := range m.sets[kind] {
		out = append(out, location.Entry{ID: id, Position: p})
	}
	return out, nil
}

// Has reports whether id is a member of kind.
func (m *MemStore) Has(kind location.Kind, id types.ID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.sets[kind][id]
	return ok
}

func (m *MemStore) Len(kind location.Kind) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sets[kind])
}
