// README: Geospatial index service; Redis narrows candidates, haversine decides distance.
package location

import (
	"context"
	"errors"
	"math"

	"roadside/internal/types"
)

// searchSlack widens the Redis query so members sitting right on the boundary
// under Redis' Earth radius are still re-checked with EarthRadiusKm.
const searchSlack = 1.01

var ErrBadQuery = errors.New("invalid geo query")

type GeoStore interface {
	Add(ctx context.Context, kind Kind, e Entry) error
	Remove(ctx context.Context, kind Kind, id types.ID) error
	Search(ctx context.Context, kind Kind, p types.Point, radiusKm float64) ([]Entry, error)
	AddMany(ctx context.Context, kind Kind, entries []Entry) error
	Members(ctx context.Context, kind Kind) ([]Entry, error)
}

// Lookup returns, for the given ids, the ones that belong in the set right now
// with their current position. Ids that no longer belong are simply absent.
type Lookup func(ctx context.Context, ids []types.ID) ([]Entry, error)

// positionSlack absorbs the geohash rounding Redis applies to stored coordinates.
const positionSlack = 1e-5

// ReconcileResult counts the members a reconcile pass touched.
type ReconcileResult struct {
	Added   int
	Removed int
}

type Service struct {
	store GeoStore
}

func NewService(store GeoStore) *Service {
	return &Service{store: store}
}

func (s *Service) Upsert(ctx context.Context, kind Kind, id types.ID, p types.Point) error {
	if id == "" || !p.Valid() {
		return ErrBadQuery
	}
	return s.store.Add(ctx, kind, Entry{ID: id, Position: p})
}

func (s *Service) Remove(ctx context.Context, kind Kind, id types.ID) error {
	return s.store.Remove(ctx, kind, id)
}

// Reconcile repairs drift between the set and snapshot, a listing taken from
// the system of record. Members where the two disagree are looked up again
// through current and written from that answer, so updates made while the
// snapshot was in flight are never overwritten with older state.
func (s *Service) Reconcile(ctx context.Context, kind Kind, snapshot []Entry, current Lookup) (ReconcileResult, error) {
	var res ReconcileResult
	live, err := s.store.Members(ctx, kind)
	if err != nil {
		return res, err
	}

	want := make(map[types.ID]types.Point, len(snapshot))
	for _, e := range snapshot {
		want[e.ID] = e.Position
	}
	have := make(map[types.ID]types.Point, len(live))
	for _, e := range live {
		have[e.ID] = e.Position
	}

	var suspects []types.ID
	for id, p := range want {
		if q, ok := have[id]; !ok || !samePosition(p, q) {
			suspects = append(suspects, id)
		}
	}
	for id := range have {
		if _, ok := want[id]; !ok {
			suspects = append(suspects, id)
		}
	}
	if len(suspects) == 0 {
		return res, nil
	}

	fresh, err := current(ctx, suspects)
	if err != nil {
		return res, err
	}
	keep := make(map[types.ID]bool, len(fresh))
	adds := make([]Entry, 0, len(fresh))
	for _, e := range fresh {
		keep[e.ID] = true
		if q, ok := have[e.ID]; ok && samePosition(e.Position, q) {
			continue
		}
		adds = append(adds, e)
	}
	if len(adds) > 0 {
		if err := s.store.AddMany(ctx, kind, adds); err != nil {
			return res, err
		}
		res.Added = len(adds)
	}
	for _, id := range suspects {
		if _, ok := have[id]; !ok || keep[id] {
			continue
		}
		if err := s.store.Remove(ctx, kind, id); err != nil {
			return res, err
		}
		res.Removed++
	}
	return res, nil
}

func samePosition(a, b types.Point) bool {
	return math.Abs(a.Lat-b.Lat) <= positionSlack && math.Abs(a.Lng-b.Lng) <= positionSlack
}

// Within returns the members of kind within radiusKm of p, nearest first.
func (s *Service) Within(ctx context.Context, kind Kind, p types.Point, radiusKm float64) ([]Hit, error) {
	if !p.Valid() || radiusKm <= 0 {
		return nil, ErrBadQuery
	}
	candidates, err := s.store.Search(ctx, kind, p, radiusKm*searchSlack)
	if err != nil {
		return nil, err
	}
	hits := make([]Hit, 0, len(candidates))
	for _, c := range candidates {
		d := HaversineKm(p, c.Position)
		if d > radiusKm {
			continue
		}
		hits = append(hits, Hit{ID: c.ID, Position: c.Position, DistanceKm: d})
	}
	sortByDistance(hits, func(h Hit) float64 { return h.DistanceKm })
	return hits, nil
}
