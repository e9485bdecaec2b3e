// README: Request service tests (flow, authorization, concurrency) against the in-memory repository.
package request

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"roadside/internal/config"
	"roadside/internal/modules/location"
	"roadside/internal/modules/location/locationtest"
	"roadside/internal/modules/pricing"
	"roadside/internal/types"
)

type recordedEvent struct {
	room  types.ID
	event string
	data  any
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (n *recordingNotifier) Broadcast(_ context.Context, room types.ID, event string, data any) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, recordedEvent{room: room, event: event, data: data})
	return nil
}

func (n *recordingNotifier) statuses(room types.ID) []Status {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []Status
	for _, e := range n.events {
		if e.room == room && e.event == EventRequestStatus {
			out = append(out, e.data.(StatusEvent).Status)
		}
	}
	return out
}

type stubGeocoder struct {
	point types.Point
	err   error
}

func (g stubGeocoder) Geocode(context.Context, string) (types.Point, error) {
	return g.point, g.err
}

type fixture struct {
	svc    *Service
	repo   *memRepo
	geo    *locationtest.MemStore
	notify *recordingNotifier
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	geoSvc, mem := locationtest.NewService()
	repo := newMemRepo()
	notify := &recordingNotifier{}
	log := logrus.New()
	log.SetOutput(io.Discard)
	cfg := config.DispatchConfig{RadiusKm: 50, MaxActiveJobs: 4}
	return &fixture{
		svc:    NewService(repo, pricing.NewService(), geoSvc, notify, cfg, log),
		repo:   repo,
		geo:    mem,
		notify: notify,
	}
}

func (f *fixture) create(t *testing.T, driverID types.ID) *Request {
	t.Helper()
	r, err := f.svc.Create(context.Background(), CreateCommand{
		DriverID:    driverID,
		DriverName:  "Dana",
		DriverPhone: "555-0199",
		Issue:       "flat tyre",
		Pickup:      types.Point{Lat: 40.0, Lng: -74.0},
		Service:     Standard{Type: pricing.ServiceTire},
	})
	require.NoError(t, err)
	return r
}

// TestCanTransition verifies the state machine transition table.
func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to Status
		want     bool
	}{
		{StatusNone, StatusPending, true},
		{StatusPending, StatusAccepted, true},
		{StatusAccepted, StatusPaymentPending, true},
		{StatusPaymentPending, StatusCompleted, true},
		{StatusPending, StatusCancelled, true},
		{StatusAccepted, StatusCancelled, true},
		// no re-entry and no skipping
		{StatusAccepted, StatusPending, false},
		{StatusPending, StatusPaymentPending, false},
		{StatusPending, StatusCompleted, false},
		{StatusPaymentPending, StatusCancelled, false},
		{StatusCompleted, StatusCancelled, false},
		{StatusCancelled, StatusPending, false},
		{StatusCompleted, StatusCompleted, false},
	}
	for _, tc := range cases {
		if got := CanTransition(tc.from, tc.to); got != tc.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tc.from, tc.to, got, tc.want)
		}
	}
}

func TestCreate_Pricing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	general, err := f.svc.Create(ctx, CreateCommand{
		DriverID: "d1", DriverName: "Dana", DriverPhone: "1", Issue: "won't start",
		Pickup: types.Point{Lat: 0, Lng: 0},
	})
	require.NoError(t, err)
	assert.Equal(t, pricing.ServiceGeneral, general.ServiceType)
	assert.Equal(t, int64(50), general.Price)
	assert.Equal(t, 0.0, general.Distance)
	assert.Nil(t, general.TowDestination)
	assert.Equal(t, StatusPending, general.Status)
	assert.Nil(t, general.AssignedMechanic)
	assert.Equal(t, PaymentUnknown, general.PaymentMethod)

	dest := types.Point{Lat: 0, Lng: 0.1}
	tow, err := f.svc.Create(ctx, CreateCommand{
		DriverID: "d1", DriverName: "Dana", DriverPhone: "1", Issue: "crash",
		Pickup:  types.Point{Lat: 0, Lng: 0},
		Service: Towing{Destination: &dest},
	})
	require.NoError(t, err)
	assert.Equal(t, pricing.ServiceTowing, tow.ServiceType)
	assert.Equal(t, int64(136), tow.Price)
	assert.Equal(t, 11.1, tow.Distance)
	require.NotNil(t, tow.TowDestination)
	assert.Equal(t, "Destination", tow.TowDestination.Address)

	towNoDest, err := f.svc.Create(ctx, CreateCommand{
		DriverID: "d1", DriverName: "Dana", DriverPhone: "1", Issue: "crash",
		Pickup:  types.Point{Lat: 0, Lng: 0},
		Service: Towing{},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(80), towNoDest.Price)
	assert.Nil(t, towNoDest.TowDestination)
}

func TestCreate_StandardNeverCarriesDestination(t *testing.T) {
	f := newFixture(t)
	r, err := f.svc.Create(context.Background(), CreateCommand{
		DriverID: "d1", DriverName: "Dana", DriverPhone: "1", Issue: "x",
		Pickup:  types.Point{Lat: 1, Lng: 1},
		Service: Standard{Type: pricing.ServiceTowing},
	})
	require.NoError(t, err)
	assert.Equal(t, pricing.ServiceGeneral, r.ServiceType)
	assert.Nil(t, r.TowDestination)
}

func TestCreate_InvalidInput(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	valid := CreateCommand{DriverID: "d1", DriverName: "Dana", DriverPhone: "1", Issue: "x", Pickup: types.Point{Lat: 1, Lng: 1}}

	for name, mutate := range map[string]func(*CreateCommand){
		"no driver id":  func(c *CreateCommand) { c.DriverID = "" },
		"blank name":    func(c *CreateCommand) { c.DriverName = "  " },
		"no phone":      func(c *CreateCommand) { c.DriverPhone = "" },
		"no issue":      func(c *CreateCommand) { c.Issue = "" },
		"bad pickup":    func(c *CreateCommand) { c.Pickup = types.Point{Lat: 100} },
		"bad tow point": func(c *CreateCommand) { c.Service = Towing{Destination: &types.Point{Lng: 500}} },
	} {
		t.Run(name, func(t *testing.T) {
			cmd := valid
			mutate(&cmd)
			_, err := f.svc.Create(ctx, cmd)
			assert.ErrorIs(t, err, ErrInvalidInput)
		})
	}
}

func TestCreate_GeocodesAddressOnlyDestination(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.svc.UseGeocoder(stubGeocoder{point: types.Point{Lat: 0, Lng: 0.1}})

	r, err := f.svc.Create(ctx, CreateCommand{
		DriverID: "d1", DriverName: "Dana", DriverPhone: "1", Issue: "x",
		Pickup:  types.Point{},
		Service: Towing{Address: "Main St Garage"},
	})
	require.NoError(t, err)
	require.NotNil(t, r.TowDestination)
	assert.Equal(t, "Main St Garage", r.TowDestination.Address)
	assert.Equal(t, int64(136), r.Price)

	f.svc.UseGeocoder(stubGeocoder{err: errors.New("ZERO_RESULTS")})
	r, err = f.svc.Create(ctx, CreateCommand{
		DriverID: "d1", DriverName: "Dana", DriverPhone: "1", Issue: "x",
		Pickup:  types.Point{},
		Service: Towing{Address: "nowhere"},
	})
	require.NoError(t, err)
	assert.Nil(t, r.TowDestination)
	assert.Equal(t, int64(80), r.Price)
}

func TestPendingIndexFollowsLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	r := f.create(t, "d1")
	assert.True(t, f.geo.Has(location.KindPendingRequest, r.ID))

	_, err := f.svc.Accept(ctx, AcceptCommand{RequestID: r.ID, MechanicID: "m1"})
	require.NoError(t, err)
	assert.False(t, f.geo.Has(location.KindPendingRequest, r.ID))

	other := f.create(t, "d1")
	_, err = f.svc.Cancel(ctx, CancelCommand{RequestID: other.ID, DriverID: "d1"})
	require.NoError(t, err)
	assert.False(t, f.geo.Has(location.KindPendingRequest, other.ID))
}

func TestConcurrentAcceptSameRequest(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r := f.create(t, "d1")

	const attempts = 8
	var wg sync.WaitGroup
	start := make(chan struct{})
	type result struct {
		mechanic types.ID
		err      error
	}
	results := make(chan result, attempts)

	for i := 0; i < attempts; i++ {
		mid := types.ID(fmt.Sprintf("m%d", i))
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := f.svc.Accept(ctx, AcceptCommand{RequestID: r.ID, MechanicID: mid})
			results <- result{mechanic: mid, err: err}
		}()
	}
	close(start)
	wg.Wait()
	close(results)

	var winner types.ID
	for res := range results {
		if res.err == nil {
			require.Empty(t, winner, "more than one accept succeeded")
			winner = res.mechanic
			continue
		}
		assert.ErrorIs(t, res.err, ErrRequestUnavailable)
	}
	require.NotEmpty(t, winner)

	got, err := f.svc.Get(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusAccepted, got.Status)
	require.NotNil(t, got.AssignedMechanic)
	assert.Equal(t, winner, *got.AssignedMechanic)
}

func TestAccept_Capacity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		r := f.create(t, "d1")
		_, err := f.svc.Accept(ctx, AcceptCommand{RequestID: r.ID, MechanicID: "m1"})
		require.NoError(t, err)
	}

	fourth := f.create(t, "d1")
	_, err := f.svc.Accept(ctx, AcceptCommand{RequestID: fourth.ID, MechanicID: "m1"})
	require.NoError(t, err, "holding 3 active jobs must still accept")

	fifth := f.create(t, "d1")
	_, err = f.svc.Accept(ctx, AcceptCommand{RequestID: fifth.ID, MechanicID: "m1"})
	assert.ErrorIs(t, err, ErrCapacityExceeded)

	got, err := f.svc.Get(ctx, fifth.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, got.Status, "rejected accept must not change the request")

	// Jobs waiting for payment still count.
	_, err = f.svc.Finish(ctx, FinishCommand{RequestID: fourth.ID, MechanicID: "m1"})
	require.NoError(t, err)
	_, err = f.svc.Accept(ctx, AcceptCommand{RequestID: fifth.ID, MechanicID: "m1"})
	assert.ErrorIs(t, err, ErrCapacityExceeded)

	_, err = f.svc.Pay(ctx, PayCommand{RequestID: fourth.ID, DriverID: "d1", PaymentMethod: "Card"})
	require.NoError(t, err)
	_, err = f.svc.Accept(ctx, AcceptCommand{RequestID: fifth.ID, MechanicID: "m1"})
	assert.NoError(t, err)
}

func TestAccept_Errors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Accept(ctx, AcceptCommand{RequestID: "missing", MechanicID: "m1"})
	assert.ErrorIs(t, err, ErrNotFound)

	r := f.create(t, "d1")
	_, err = f.svc.Accept(ctx, AcceptCommand{RequestID: r.ID})
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = f.svc.Cancel(ctx, CancelCommand{RequestID: r.ID, DriverID: "d1"})
	require.NoError(t, err)
	_, err = f.svc.Accept(ctx, AcceptCommand{RequestID: r.ID, MechanicID: "m1"})
	assert.ErrorIs(t, err, ErrRequestUnavailable)
}

func TestAuthorizationBoundaries(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r := f.create(t, "owner")

	_, err := f.svc.Accept(ctx, AcceptCommand{RequestID: r.ID, MechanicID: "m1"})
	require.NoError(t, err)

	_, err = f.svc.Finish(ctx, FinishCommand{RequestID: r.ID, MechanicID: "m2"})
	assert.ErrorIs(t, err, ErrUnauthorized)
	_, err = f.svc.Cancel(ctx, CancelCommand{RequestID: r.ID, DriverID: "stranger"})
	assert.ErrorIs(t, err, ErrUnauthorized)

	_, err = f.svc.Finish(ctx, FinishCommand{RequestID: r.ID, MechanicID: "m1"})
	require.NoError(t, err)

	_, err = f.svc.Pay(ctx, PayCommand{RequestID: r.ID, DriverID: "stranger"})
	assert.ErrorIs(t, err, ErrUnauthorized)
	_, err = f.svc.Pay(ctx, PayCommand{RequestID: r.ID, DriverID: "owner"})
	require.NoError(t, err)

	_, err = f.svc.Review(ctx, ReviewCommand{RequestID: r.ID, DriverID: "stranger", Rating: 5})
	assert.ErrorIs(t, err, ErrUnauthorized)

	_, err = f.svc.Finish(ctx, FinishCommand{RequestID: "missing", MechanicID: "m1"})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFinish_OnlyFromAccepted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r := f.create(t, "d1")
	_, err := f.svc.Accept(ctx, AcceptCommand{RequestID: r.ID, MechanicID: "m1"})
	require.NoError(t, err)
	_, err = f.svc.Finish(ctx, FinishCommand{RequestID: r.ID, MechanicID: "m1"})
	require.NoError(t, err)

	_, err = f.svc.Finish(ctx, FinishCommand{RequestID: r.ID, MechanicID: "m1"})
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestPay_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r := f.create(t, "d1")

	_, err := f.svc.Pay(ctx, PayCommand{RequestID: r.ID, DriverID: "d1", PaymentMethod: "Bitcoin"})
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = f.svc.Pay(ctx, PayCommand{RequestID: r.ID, DriverID: "d1"})
	assert.ErrorIs(t, err, ErrInvalidTransition, "cannot pay before the job is finished")

	_, err = f.svc.Accept(ctx, AcceptCommand{RequestID: r.ID, MechanicID: "m1"})
	require.NoError(t, err)
	_, err = f.svc.Finish(ctx, FinishCommand{RequestID: r.ID, MechanicID: "m1"})
	require.NoError(t, err)
	paid, err := f.svc.Pay(ctx, PayCommand{RequestID: r.ID, DriverID: "d1"})
	require.NoError(t, err)
	assert.Equal(t, PaymentUnknown, paid.PaymentMethod)
	assert.Equal(t, StatusCompleted, paid.Status)
}

func TestReview_OnceAndRatingAggregate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for _, score := range []int{4, 5, 3} {
		r := f.create(t, "d1")
		completeJob(t, f, r.ID, "d1", "m1")
		_, err := f.svc.Review(ctx, ReviewCommand{RequestID: r.ID, DriverID: "d1", Rating: score, Comment: "ok"})
		require.NoError(t, err)

		_, err = f.svc.Review(ctx, ReviewCommand{RequestID: r.ID, DriverID: "d1", Rating: 1})
		assert.ErrorIs(t, err, ErrAlreadyReviewed)
	}

	rating, count := f.repo.rating("m1")
	assert.Equal(t, 4.0, rating)
	assert.Equal(t, 3, count)
}

func TestReview_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r := f.create(t, "d1")

	for _, bad := range []int{0, 6, -1} {
		_, err := f.svc.Review(ctx, ReviewCommand{RequestID: r.ID, DriverID: "d1", Rating: bad})
		assert.ErrorIs(t, err, ErrInvalidInput)
	}
	_, err := f.svc.Review(ctx, ReviewCommand{RequestID: r.ID, DriverID: "d1", Rating: 5})
	assert.ErrorIs(t, err, ErrInvalidTransition)
	_, err = f.svc.Review(ctx, ReviewCommand{RequestID: "missing", DriverID: "d1", Rating: 5})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCancel(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	accepted := f.create(t, "d1")
	_, err := f.svc.Accept(ctx, AcceptCommand{RequestID: accepted.ID, MechanicID: "m1"})
	require.NoError(t, err)
	got, err := f.svc.Cancel(ctx, CancelCommand{RequestID: accepted.ID, DriverID: "d1"})
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, got.Status)
	assert.Nil(t, got.AssignedMechanic)

	_, err = f.svc.Cancel(ctx, CancelCommand{RequestID: accepted.ID, DriverID: "d1"})
	assert.ErrorIs(t, err, ErrInvalidTransition)

	done := f.create(t, "d1")
	completeJob(t, f, done.ID, "d1", "m2")
	_, err = f.svc.Cancel(ctx, CancelCommand{RequestID: done.ID, DriverID: "d1"})
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestStaleVersionConflicts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r := f.create(t, "d1")
	_, err := f.svc.Accept(ctx, AcceptCommand{RequestID: r.ID, MechanicID: "m1"})
	require.NoError(t, err)

	stale, err := f.svc.Get(ctx, r.ID)
	require.NoError(t, err)
	_, err = f.svc.Finish(ctx, FinishCommand{RequestID: r.ID, MechanicID: "m1"})
	require.NoError(t, err)

	_, err = f.svc.transition(ctx, stale, Transition{To: StatusCancelled, ActorRole: ActorDriver, ActorID: "d1"})
	assert.ErrorIs(t, err, ErrConflict)
}

func TestEndToEndTowingScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	dest := types.Point{Lat: 40.1, Lng: -74.0}
	r, err := f.svc.Create(ctx, CreateCommand{
		DriverID: "driver", DriverName: "Dana", DriverPhone: "555",
		Issue:   "engine fire",
		Pickup:  types.Point{Lat: 40.0, Lng: -74.0},
		Vehicle: &Vehicle{Make: "Honda", Model: "Civic", LicensePlate: "KA-01"},
		Service: Towing{Destination: &dest, Address: "Garage"},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(136), r.Price) // 80 + 11.12*5
	assert.Equal(t, 11.1, r.Distance)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, mid := range []types.ID{"A", "B"} {
		wg.Add(1)
		go func(i int, mid types.ID) {
			defer wg.Done()
			_, errs[i] = f.svc.Accept(ctx, AcceptCommand{RequestID: r.ID, MechanicID: mid})
		}(i, mid)
	}
	wg.Wait()
	require.True(t, (errs[0] == nil) != (errs[1] == nil), "exactly one accept must win: %v", errs)
	winner := types.ID("A")
	if errs[0] != nil {
		winner = "B"
	}

	got, err := f.svc.Get(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusAccepted, got.Status)
	assert.Equal(t, winner, *got.AssignedMechanic)

	_, err = f.svc.Finish(ctx, FinishCommand{RequestID: r.ID, MechanicID: winner})
	require.NoError(t, err)
	paid, err := f.svc.Pay(ctx, PayCommand{RequestID: r.ID, DriverID: "driver", PaymentMethod: "Cash"})
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, paid.Status)
	assert.Equal(t, PaymentCash, paid.PaymentMethod)

	reviewed, err := f.svc.Review(ctx, ReviewCommand{RequestID: r.ID, DriverID: "driver", Rating: 5})
	require.NoError(t, err)
	assert.Equal(t, 5, reviewed.Review.Rating)
	rating, count := f.repo.rating(winner)
	assert.Equal(t, 5.0, rating)
	assert.Equal(t, 1, count)

	_, err = f.svc.Review(ctx, ReviewCommand{RequestID: r.ID, DriverID: "driver", Rating: 4})
	assert.ErrorIs(t, err, ErrAlreadyReviewed)

	assert.Equal(t,
		[]Status{StatusAccepted, StatusPaymentPending, StatusCompleted},
		f.notify.statuses(r.ID))

	events := f.repo.eventsFor(r.ID)
	require.Len(t, events, 4)
	assert.Equal(t, StatusNone, events[0].FromStatus)
	assert.Equal(t, StatusCompleted, events[3].ToStatus)
}

func completeJob(t *testing.T, f *fixture, id, driverID, mechanicID types.ID) {
	t.Helper()
	ctx := context.Background()
	_, err := f.svc.Accept(ctx, AcceptCommand{RequestID: id, MechanicID: mechanicID})
	require.NoError(t, err)
	_, err = f.svc.Finish(ctx, FinishCommand{RequestID: id, MechanicID: mechanicID})
	require.NoError(t, err)
	_, err = f.svc.Pay(ctx, PayCommand{RequestID: id, DriverID: driverID, PaymentMethod: "UPI"})
	require.NoError(t, err)
}
