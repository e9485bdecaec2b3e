// README: Mechanic service: registration, location/availability updates and nearby search.
package mechanic

import (
	"context"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"roadside/internal/modules/location"
	"roadside/internal/modules/pricing"
	"roadside/internal/types"
)

type Repository interface {
	Create(ctx context.Context, m *Mechanic) error
	Get(ctx context.Context, id types.ID) (*Mechanic, error)
	GetMany(ctx context.Context, ids []types.ID) (map[types.ID]*Mechanic, error)
	List(ctx context.Context) ([]*Mechanic, error)
	UpdateLocation(ctx context.Context, id types.ID, p *types.Point, photoURL *string) (*Mechanic, error)
	SetAvailability(ctx context.Context, id types.ID, available bool) (*Mechanic, error)
	ListIndexable(ctx context.Context) ([]location.Entry, error)
	IndexablePositions(ctx context.Context, ids []types.ID) ([]location.Entry, error)
}

type GeoIndex interface {
	Upsert(ctx context.Context, kind location.Kind, id types.ID, p types.Point) error
	Remove(ctx context.Context, kind location.Kind, id types.ID) error
	Reconcile(ctx context.Context, kind location.Kind, snapshot []location.Entry, current location.Lookup) (location.ReconcileResult, error)
	Within(ctx context.Context, kind location.Kind, p types.Point, radiusKm float64) ([]location.Hit, error)
}

type Service struct {
	store Repository
	geo   GeoIndex
	log   logrus.FieldLogger
}

func NewService(store Repository, geo GeoIndex, log logrus.FieldLogger) *Service {
	return &Service{store: store, geo: geo, log: log}
}

type RegisterCommand struct {
	ID          types.ID
	Name        string
	Email       string
	Phone       string
	ServiceType string
	Location    *types.Point
}

func (s *Service) Register(ctx context.Context, cmd RegisterCommand) (*Mechanic, error) {
	if strings.TrimSpace(cmd.Name) == "" || strings.TrimSpace(cmd.Phone) == "" {
		return nil, ErrInvalidInput
	}
	if cmd.Location != nil && !cmd.Location.Valid() {
		return nil, ErrInvalidInput
	}
	id := cmd.ID
	if id == "" {
		id = types.NewID()
	}
	m := &Mechanic{
		ID:          id,
		Name:        strings.TrimSpace(cmd.Name),
		Email:       strings.ToLower(strings.TrimSpace(cmd.Email)),
		Phone:       strings.TrimSpace(cmd.Phone),
		ServiceType: pricingType(cmd.ServiceType),
		Location:    cmd.Location,
		IsAvailable: true,
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.store.Create(ctx, m); err != nil {
		return nil, err
	}
	s.reindex(ctx, m)
	return m, nil
}

func (s *Service) Get(ctx context.Context, id types.ID) (*Mechanic, error) {
	return s.store.Get(ctx, id)
}

func (s *Service) GetMany(ctx context.Context, ids []types.ID) (map[types.ID]*Mechanic, error) {
	return s.store.GetMany(ctx, ids)
}

func (s *Service) List(ctx context.Context) ([]*Mechanic, error) {
	return s.store.List(ctx)
}

// UpdateLocation moves the mechanic and/or changes the photo. At least one must be given.
func (s *Service) UpdateLocation(ctx context.Context, id types.ID, p *types.Point, photoURL *string) (*Mechanic, error) {
	if p == nil && photoURL == nil {
		return nil, ErrInvalidInput
	}
	if p != nil && !p.Valid() {
		return nil, ErrInvalidInput
	}
	m, err := s.store.UpdateLocation(ctx, id, p, photoURL)
	if err != nil {
		return nil, err
	}
	if p != nil {
		s.reindex(ctx, m)
	}
	return m, nil
}

func (s *Service) SetAvailability(ctx context.Context, id types.ID, available bool) (*Mechanic, error) {
	m, err := s.store.SetAvailability(ctx, id, available)
	if err != nil {
		return nil, err
	}
	s.reindex(ctx, m)
	return m, nil
}

// Nearby lists available mechanics within radiusKm of p, nearest first.
func (s *Service) Nearby(ctx context.Context, p types.Point, radiusKm float64) ([]Nearby, error) {
	if !p.Valid() || radiusKm <= 0 {
		return nil, ErrInvalidInput
	}
	hits, err := s.geo.Within(ctx, location.KindMechanic, p, radiusKm)
	if err != nil {
		return nil, err
	}
	ids := make([]types.ID, len(hits))
	for i, h := range hits {
		ids[i] = h.ID
	}
	byID, err := s.store.GetMany(ctx, ids)
	if err != nil {
		return nil, err
	}
	out := make([]Nearby, 0, len(hits))
	for _, h := range hits {
		m, ok := byID[h.ID]
		if !ok || !m.IsAvailable {
			continue
		}
		out = append(out, Nearby{Mechanic: m, DistanceKm: h.DistanceKm})
	}
	return out, nil
}

// RebuildIndex brings the mechanic geo set back in line with Postgres. Members
// that disagree with the listing are re-read before being written, so location
// and availability changes racing the rebuild survive it.
func (s *Service) RebuildIndex(ctx context.Context) error {
	entries, err := s.store.ListIndexable(ctx)
	if err != nil {
		return err
	}
	res, err := s.geo.Reconcile(ctx, location.KindMechanic, entries, s.store.IndexablePositions)
	if err != nil {
		return err
	}
	if res.Added > 0 || res.Removed > 0 {
		s.log.WithFields(logrus.Fields{"added": res.Added, "removed": res.Removed}).Info("mechanic geo index repaired")
	}
	return nil
}

// reindex keeps the geo set in step with one mechanic. Failures are logged;
// RebuildIndex repairs them.
func (s *Service) reindex(ctx context.Context, m *Mechanic) {
	var err error
	if m.IsAvailable && m.Location != nil {
		err = s.geo.Upsert(ctx, location.KindMechanic, m.ID, *m.Location)
	} else {
		err = s.geo.Remove(ctx, location.KindMechanic, m.ID)
	}
	if err != nil {
		s.log.WithFields(logrus.Fields{
			"mechanic_id": m.ID,
			"error":       err,
		}).Warn("mechanic geo index update failed")
	}
}

func pricingType(s string) pricing.ServiceType {
	st, _ := pricing.ParseServiceType(s)
	return st
}
