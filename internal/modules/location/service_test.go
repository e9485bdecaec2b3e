package location_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"roadside/internal/modules/location"
	"roadside/internal/modules/location/locationtest"
	"roadside/internal/types"
)

func TestWithin_FiltersAndSortsByHaversine(t *testing.T) {
	ctx := context.Background()
	svc, _ := locationtest.NewService()
	origin := types.Point{Lat: 0, Lng: 0}

	require.NoError(t, svc.Upsert(ctx, location.KindPendingRequest, "far", types.Point{Lat: 0, Lng: 0.5}))  // ~55.6 km
	require.NoError(t, svc.Upsert(ctx, location.KindPendingRequest, "mid", types.Point{Lat: 0, Lng: 0.2}))  // ~22.2 km
	require.NoError(t, svc.Upsert(ctx, location.KindPendingRequest, "near", types.Point{Lat: 0, Lng: 0.1})) // ~11.1 km
	require.NoError(t, svc.Upsert(ctx, location.KindMechanic, "m1", types.Point{Lat: 0, Lng: 0.01}))

	hits, err := svc.Within(ctx, location.KindPendingRequest, origin, 50)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, types.ID("near"), hits[0].ID)
	assert.Equal(t, types.ID("mid"), hits[1].ID)
	assert.InDelta(t, 11.12, hits[0].DistanceKm, 0.01)
}

func TestWithin_BoundaryUsesHaversine(t *testing.T) {
	ctx := context.Background()
	svc, _ := locationtest.NewService()
	p := types.Point{Lat: 0, Lng: 0.1}
	require.NoError(t, svc.Upsert(ctx, location.KindMechanic, "edge", p))

	exact := location.HaversineKm(types.Point{}, p)

	hits, err := svc.Within(ctx, location.KindMechanic, types.Point{}, exact)
	require.NoError(t, err)
	assert.Len(t, hits, 1)

	hits, err = svc.Within(ctx, location.KindMechanic, types.Point{}, exact-0.001)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

// lookupFrom answers Reconcile's re-check from a fixed view of the system of record.
func lookupFrom(truth map[types.ID]types.Point, asked *[]types.ID) location.Lookup {
	return func(_ context.Context, ids []types.ID) ([]location.Entry, error) {
		*asked = append(*asked, ids...)
		var out []location.Entry
		for _, id := range ids {
			if p, ok := truth[id]; ok {
				out = append(out, location.Entry{ID: id, Position: p})
			}
		}
		return out, nil
	}
}

func TestReconcileRepairsDrift(t *testing.T) {
	ctx := context.Background()
	svc, mem := locationtest.NewService()
	require.NoError(t, svc.Upsert(ctx, location.KindPendingRequest, "stale", types.Point{Lat: 0, Lng: 0.01}))
	require.NoError(t, svc.Upsert(ctx, location.KindPendingRequest, "steady", types.Point{Lat: 0, Lng: 0.03}))

	truth := map[types.ID]types.Point{
		"fresh":  {Lat: 0, Lng: 0.02},
		"steady": {Lat: 0, Lng: 0.03},
	}
	snapshot := []location.Entry{
		{ID: "fresh", Position: truth["fresh"]},
		{ID: "steady", Position: truth["steady"]},
	}
	var asked []types.ID
	res, err := svc.Reconcile(ctx, location.KindPendingRequest, snapshot, lookupFrom(truth, &asked))
	require.NoError(t, err)
	assert.Equal(t, location.ReconcileResult{Added: 1, Removed: 1}, res)
	assert.ElementsMatch(t, []types.ID{"fresh", "stale"}, asked, "agreeing members are not re-checked")

	assert.True(t, mem.Has(location.KindPendingRequest, "fresh"))
	assert.True(t, mem.Has(location.KindPendingRequest, "steady"))
	assert.False(t, mem.Has(location.KindPendingRequest, "stale"))

	require.NoError(t, svc.Remove(ctx, location.KindPendingRequest, "fresh"))
	assert.False(t, mem.Has(location.KindPendingRequest, "fresh"))
}

func TestReconcileKeepsUpdatesNewerThanSnapshot(t *testing.T) {
	ctx := context.Background()
	svc, mem := locationtest.NewService()

	// Snapshot taken first; afterwards "late" is indexed, "gone" leaves the
	// record and "mover" changes position.
	snapshot := []location.Entry{
		{ID: "gone", Position: types.Point{Lat: 1, Lng: 1}},
		{ID: "mover", Position: types.Point{Lat: 2, Lng: 2}},
	}
	require.NoError(t, svc.Upsert(ctx, location.KindMechanic, "late", types.Point{Lat: 3, Lng: 3}))
	require.NoError(t, svc.Upsert(ctx, location.KindMechanic, "mover", types.Point{Lat: 2.5, Lng: 2.5}))
	truth := map[types.ID]types.Point{
		"late":  {Lat: 3, Lng: 3},
		"mover": {Lat: 2.5, Lng: 2.5},
	}

	var asked []types.ID
	_, err := svc.Reconcile(ctx, location.KindMechanic, snapshot, lookupFrom(truth, &asked))
	require.NoError(t, err)

	assert.True(t, mem.Has(location.KindMechanic, "late"))
	assert.False(t, mem.Has(location.KindMechanic, "gone"))
	hits, err := svc.Within(ctx, location.KindMechanic, types.Point{Lat: 2.5, Lng: 2.5}, 1)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, types.ID("mover"), hits[0].ID)
}

func TestReconcileLookupError(t *testing.T) {
	ctx := context.Background()
	svc, mem := locationtest.NewService()
	require.NoError(t, svc.Upsert(ctx, location.KindMechanic, "m", types.Point{Lat: 1, Lng: 1}))

	_, err := svc.Reconcile(ctx, location.KindMechanic, nil, func(context.Context, []types.ID) ([]location.Entry, error) {
		return nil, errors.New("db down")
	})
	assert.Error(t, err)
	assert.True(t, mem.Has(location.KindMechanic, "m"), "nothing is removed without a confirmed answer")
}

func TestBadQueries(t *testing.T) {
	ctx := context.Background()
	svc, _ := locationtest.NewService()

	assert.ErrorIs(t, svc.Upsert(ctx, location.KindMechanic, "", types.Point{}), location.ErrBadQuery)
	assert.ErrorIs(t, svc.Upsert(ctx, location.KindMechanic, "m", types.Point{Lat: 91}), location.ErrBadQuery)
	_, err := svc.Within(ctx, location.KindMechanic, types.Point{}, 0)
	assert.ErrorIs(t, err, location.ErrBadQuery)
}

func TestWithin_StoreError(t *testing.T) {
	svc, store := locationtest.NewService()
	store.Err = errors.New("redis down")
	_, err := svc.Within(context.Background(), location.KindMechanic, types.Point{}, 5)
	assert.Error(t, err)
}
