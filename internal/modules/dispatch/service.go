// README: Dispatch service surfaces pending requests to nearby mechanics and serves per-party request views.
package dispatch

import (
	"context"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"roadside/internal/config"
	"roadside/internal/modules/location"
	"roadside/internal/modules/mechanic"
	"roadside/internal/modules/request"
	"roadside/internal/types"
)

type RequestReader interface {
	Get(ctx context.Context, id types.ID) (*request.Request, error)
	GetMany(ctx context.Context, ids []types.ID) (map[types.ID]*request.Request, error)
	ListByMechanic(ctx context.Context, mechanicID types.ID, statuses []request.Status) ([]*request.Request, error)
	ListByDriver(ctx context.Context, driverID types.ID, statuses []request.Status) ([]*request.Request, error)
	ListPendingPositions(ctx context.Context) ([]location.Entry, error)
	PendingPositions(ctx context.Context, ids []types.ID) ([]location.Entry, error)
}

type MechanicReader interface {
	Get(ctx context.Context, id types.ID) (*mechanic.Mechanic, error)
	GetMany(ctx context.Context, ids []types.ID) (map[types.ID]*mechanic.Mechanic, error)
	RebuildIndex(ctx context.Context) error
}

type GeoIndex interface {
	Within(ctx context.Context, kind location.Kind, p types.Point, radiusKm float64) ([]location.Hit, error)
	Reconcile(ctx context.Context, kind location.Kind, snapshot []location.Entry, current location.Lookup) (location.ReconcileResult, error)
}

// SyncCoordinator elects the instance that rebuilds the geo sets on a tick.
type SyncCoordinator interface {
	AcquireSyncLease(ctx context.Context, owner string, ttl time.Duration) (bool, error)
	RecordSync(ctx context.Context, at time.Time) error
}

type Service struct {
	requests  RequestReader
	mechanics MechanicReader
	geo       GeoIndex
	sync      SyncCoordinator
	cfg       config.DispatchConfig
	owner     string
	log       logrus.FieldLogger
}

func NewService(requests RequestReader, mechanics MechanicReader, geo GeoIndex, sync SyncCoordinator, cfg config.DispatchConfig, log logrus.FieldLogger) *Service {
	return &Service{
		requests:  requests,
		mechanics: mechanics,
		geo:       geo,
		sync:      sync,
		cfg:       cfg,
		owner:     string(types.NewID()),
		log:       log,
	}
}

// FindNearby returns PENDING requests within the radius of q.Point, nearest first.
func (s *Service) FindNearby(ctx context.Context, q NearbyQuery) ([]PublicRequest, error) {
	if !q.Point.Valid() || q.RadiusKm < 0 {
		return nil, ErrInvalidQuery
	}
	if q.RadiusKm == 0 {
		q.RadiusKm = s.cfg.RadiusKm
	}
	hits, err := s.geo.Within(ctx, location.KindPendingRequest, q.Point, q.RadiusKm)
	if err != nil {
		return nil, err
	}
	ids := make([]types.ID, len(hits))
	for i, h := range hits {
		ids[i] = h.ID
	}
	byID, err := s.requests.GetMany(ctx, ids)
	if err != nil {
		return nil, err
	}

	out := make([]PublicRequest, 0, len(hits))
	for _, h := range hits {
		r, ok := byID[h.ID]
		// The index can lag a transition; the row is authoritative.
		if !ok || r.Status != request.StatusPending {
			continue
		}
		if q.ServiceType != "" && r.ServiceType != q.ServiceType {
			continue
		}
		out = append(out, redact(r, h.DistanceKm))
	}
	return out, nil
}

// FindNearbyForMechanic searches around the mechanic's stored location. A
// mechanic that is unavailable or has no location gets an empty list.
func (s *Service) FindNearbyForMechanic(ctx context.Context, mechanicID types.ID, radiusKm float64) ([]PublicRequest, error) {
	m, err := s.mechanics.Get(ctx, mechanicID)
	if err != nil {
		return nil, err
	}
	if !m.IsAvailable || m.Location == nil {
		return []PublicRequest{}, nil
	}
	return s.FindNearby(ctx, NearbyQuery{Point: *m.Location, RadiusKm: radiusKm})
}

// FindByMechanic lists a mechanic's jobs. filter is "" (ACCEPTED), "active",
// "completed" (PAYMENT_PENDING and COMPLETED) or a single status name.
func (s *Service) FindByMechanic(ctx context.Context, mechanicID types.ID, filter string) ([]*request.Request, error) {
	statuses, err := mechanicStatuses(filter)
	if err != nil {
		return nil, err
	}
	return s.requests.ListByMechanic(ctx, mechanicID, statuses)
}

func mechanicStatuses(filter string) ([]request.Status, error) {
	switch f := strings.TrimSpace(filter); {
	case f == "":
		return []request.Status{request.StatusAccepted}, nil
	case strings.EqualFold(f, "active"):
		return request.ActiveStatuses, nil
	case strings.EqualFold(f, string(request.StatusCompleted)):
		return []request.Status{request.StatusPaymentPending, request.StatusCompleted}, nil
	default:
		st, ok := request.ParseStatus(f)
		if !ok {
			return nil, ErrInvalidQuery
		}
		return []request.Status{st}, nil
	}
}

// FindByDriver lists a driver's requests newest first with mechanics expanded.
func (s *Service) FindByDriver(ctx context.Context, driverID types.ID, status string) ([]Populated, error) {
	var statuses []request.Status
	if status != "" {
		st, ok := request.ParseStatus(status)
		if !ok {
			return nil, ErrInvalidQuery
		}
		statuses = []request.Status{st}
	}
	list, err := s.requests.ListByDriver(ctx, driverID, statuses)
	if err != nil {
		return nil, err
	}
	return s.populate(ctx, list)
}

func (s *Service) GetPopulated(ctx context.Context, id types.ID) (*Populated, error) {
	r, err := s.requests.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	out, err := s.populate(ctx, []*request.Request{r})
	if err != nil {
		return nil, err
	}
	return &out[0], nil
}

func (s *Service) populate(ctx context.Context, list []*request.Request) ([]Populated, error) {
	var ids []types.ID
	seen := map[types.ID]bool{}
	for _, r := range list {
		if r.AssignedMechanic != nil && !seen[*r.AssignedMechanic] {
			seen[*r.AssignedMechanic] = true
			ids = append(ids, *r.AssignedMechanic)
		}
	}
	byID, err := s.mechanics.GetMany(ctx, ids)
	if err != nil {
		return nil, err
	}
	out := make([]Populated, len(list))
	for i, r := range list {
		out[i] = Populated{Request: *r}
		if r.AssignedMechanic != nil {
			out[i].AssignedMechanic = byID[*r.AssignedMechanic]
		}
	}
	return out, nil
}

// RunIndexSync reconciles the geo sets with Postgres on every tick until ctx is done.
func (s *Service) RunIndexSync(ctx context.Context) {
	s.syncOnce(ctx)

	ticker := time.NewTicker(s.cfg.SyncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.syncOnce(ctx)
		}
	}
}

func (s *Service) syncOnce(ctx context.Context) {
	if s.sync != nil {
		ok, err := s.sync.AcquireSyncLease(ctx, s.owner, s.cfg.SyncInterval/2)
		if err != nil {
			s.log.WithError(err).Warn("index sync lease failed")
			return
		}
		if !ok {
			return
		}
	}

	entries, err := s.requests.ListPendingPositions(ctx)
	if err != nil {
		s.log.WithError(err).Error("list pending requests for index sync")
		return
	}
	res, err := s.geo.Reconcile(ctx, location.KindPendingRequest, entries, s.requests.PendingPositions)
	if err != nil {
		s.log.WithError(err).Error("rebuild pending request index")
		return
	}
	if err := s.mechanics.RebuildIndex(ctx); err != nil {
		s.log.WithError(err).Error("rebuild mechanic index")
		return
	}
	if s.sync != nil {
		if err := s.sync.RecordSync(ctx, time.Now()); err != nil {
			s.log.WithError(err).Warn("record index sync")
		}
	}
	s.log.WithFields(logrus.Fields{
		"pending": len(entries),
		"added":   res.Added,
		"removed": res.Removed,
	}).Debug("geo index reconciled")
}
