// README: Dispatch coordination store backed by Redis (index-sync lease and last-sync marker).
package dispatch

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	syncLeaseKey = "dispatch:index_sync:lease"
	lastSyncKey  = "dispatch:index_sync:last"
)

type Store struct {
	redis *redis.Client
}

func NewStore(redis *redis.Client) *Store {
	return &Store{redis: redis}
}

// AcquireSyncLease lets one API instance per interval rebuild the geo sets.
func (s *Store) AcquireSyncLease(ctx context.Context, owner string, ttl time.Duration) (bool, error) {
	return s.redis.SetNX(ctx, syncLeaseKey, owner, ttl).Result()
}

// RecordSync stores when the last rebuild finished.
func (s *Store) RecordSync(ctx context.Context, at time.Time) error {
	return s.redis.Set(ctx, lastSyncKey, at.UTC().Format(time.RFC3339), 0).Err()
}

// LastSync returns when the geo sets were last rebuilt, and whether they ever were.
func (s *Store) LastSync(ctx context.Context) (time.Time, bool, error) {
	val, err := s.redis.Get(ctx, lastSyncKey).Result()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	t, err := time.Parse(time.RFC3339, val)
	if err != nil {
		return time.Time{}, false, err
	}
	return t, true, nil
}
