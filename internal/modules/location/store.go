// README: Geospatial store backed by Redis GEO sorted sets.
package location

import (
	"context"

	"github.com/redis/go-redis/v9"

	"roadside/internal/types"
)

const geoKeyPrefix = "geo:"

type Store struct {
	redis *redis.Client
}

func NewStore(redis *redis.Client) *Store {
	return &Store{redis: redis}
}

func geoKey(kind Kind) string {
	return geoKeyPrefix + string(kind)
}

func (s *Store) Add(ctx context.Context, kind Kind, e Entry) error {
	return s.redis.GeoAdd(ctx, geoKey(kind), &redis.GeoLocation{
		Name:      string(e.ID),
		Longitude: e.Position.Lng,
		Latitude:  e.Position.Lat,
	}).Err()
}

func (s *Store) Remove(ctx context.Context, kind Kind, id types.ID) error {
	return s.redis.ZRem(ctx, geoKey(kind), string(id)).Err()
}

// Search returns members within radiusKm, nearest first, with their stored coordinates.
func (s *Store) Search(ctx context.Context, kind Kind, p types.Point, radiusKm float64) ([]Entry, error) {
	results, err := s.redis.GeoSearchLocation(ctx, geoKey(kind), &redis.GeoSearchLocationQuery{
		GeoSearchQuery: redis.GeoSearchQuery{
			Longitude:  p.Lng,
			Latitude:   p.Lat,
			Radius:     radiusKm,
			RadiusUnit: "km",
			Sort:       "ASC",
		},
		WithCoord: true,
	}).Result()
	if err != nil {
		return nil, err
	}
	out := make([]Entry, len(results))
	for i, r := range results {
		out[i] = Entry{
			ID:       types.ID(r.Name),
			Position: types.Point{Lat: r.Latitude, Lng: r.Longitude},
		}
	}
	return out, nil
}

func (s *Store) AddMany(ctx context.Context, kind Kind, entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}
	locs := make([]*redis.GeoLocation, len(entries))
	for i, e := range entries {
		locs[i] = &redis.GeoLocation{Name: string(e.ID), Longitude: e.Position.Lng, Latitude: e.Position.Lat}
	}
	return s.redis.GeoAdd(ctx, geoKey(kind), locs...).Err()
}

// Members lists every member of the set with its stored coordinates.
func (s *Store) Members(ctx context.Context, kind Kind) ([]Entry, error) {
	key := geoKey(kind)
	names, err := s.redis.ZRange(ctx, key, 0, -1).Result()
	if err != nil {
		return nil, err
	}
	if len(names) == 0 {
		return nil, nil
	}
	positions, err := s.redis.GeoPos(ctx, key, names...).Result()
	if err != nil {
		return nil, err
	}
	out := make([]Entry, 0, len(names))
	for i, p := range positions {
		if p == nil {
			continue
		}
		out = append(out, Entry{
			ID:       types.ID(names[i]),
			Position: types.Point{Lat: p.Latitude, Lng: p.Longitude},
		})
	}
	return out, nil
}
