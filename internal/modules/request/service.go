// README: Request service implements the lifecycle transitions on top of the store.
package request

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"roadside/internal/config"
	"roadside/internal/modules/location"
	"roadside/internal/modules/pricing"
	"roadside/internal/types"
)

var tracer = otel.Tracer("roadside/request")

type Repository interface {
	Create(ctx context.Context, r *Request, ev *Event) error
	Get(ctx context.Context, id types.ID) (*Request, error)
	Accept(ctx context.Context, id, mechanicID types.ID, maxActive int) (*Request, error)
	UpdateStatus(ctx context.Context, t Transition) (*Request, error)
	AttachReview(ctx context.Context, id types.ID, rv Review) (*Request, error)
}

type Pricer interface {
	Quote(serviceType pricing.ServiceType, pickup types.Point, dest *types.Point) pricing.Quote
}

type GeoIndex interface {
	Upsert(ctx context.Context, kind location.Kind, id types.ID, p types.Point) error
	Remove(ctx context.Context, kind location.Kind, id types.ID) error
}

// Notifier pushes an event to everyone in a request's room.
type Notifier interface {
	Broadcast(ctx context.Context, room types.ID, event string, data any) error
}

type Geocoder interface {
	Geocode(ctx context.Context, address string) (types.Point, error)
}

const EventRequestStatus = "request_status"

type Service struct {
	store    Repository
	pricing  Pricer
	geo      GeoIndex
	notify   Notifier
	geocoder Geocoder
	cfg      config.DispatchConfig
	log      logrus.FieldLogger
}

func NewService(store Repository, pricing Pricer, geo GeoIndex, notify Notifier, cfg config.DispatchConfig, log logrus.FieldLogger) *Service {
	return &Service{store: store, pricing: pricing, geo: geo, notify: notify, cfg: cfg, log: log}
}

// UseGeocoder enables resolving tow destinations given only as an address.
func (s *Service) UseGeocoder(g Geocoder) {
	s.geocoder = g
}

type CreateCommand struct {
	DriverID    types.ID
	DriverName  string
	DriverPhone string
	Issue       string
	Pickup      types.Point
	Vehicle     *Vehicle
	Service     ServiceDetails
}

type AcceptCommand struct {
	RequestID  types.ID
	MechanicID types.ID
}

type FinishCommand struct {
	RequestID  types.ID
	MechanicID types.ID
}

type PayCommand struct {
	RequestID     types.ID
	DriverID      types.ID
	PaymentMethod string
}

type ReviewCommand struct {
	RequestID types.ID
	DriverID  types.ID
	Rating    int
	Comment   string
}

type CancelCommand struct {
	RequestID types.ID
	DriverID  types.ID
}

func (s *Service) Create(ctx context.Context, cmd CreateCommand) (r *Request, err error) {
	ctx, span := tracer.Start(ctx, "request.Create", trace.WithAttributes(attribute.String("driver.id", string(cmd.DriverID))))
	defer func() { endSpan(span, err) }()

	cmd.DriverName = strings.TrimSpace(cmd.DriverName)
	cmd.DriverPhone = strings.TrimSpace(cmd.DriverPhone)
	cmd.Issue = strings.TrimSpace(cmd.Issue)
	if cmd.DriverID == "" || cmd.DriverName == "" || cmd.DriverPhone == "" || cmd.Issue == "" {
		return nil, ErrInvalidInput
	}
	if !cmd.Pickup.Valid() {
		return nil, fmt.Errorf("%w: pickup coordinates", ErrInvalidInput)
	}
	if cmd.Service == nil {
		cmd.Service = Standard{Type: pricing.ServiceGeneral}
	}

	serviceType := cmd.Service.kind()
	var dest *TowDestination
	if tow, ok := cmd.Service.(Towing); ok {
		dest, err = s.resolveDestination(ctx, tow)
		if err != nil {
			return nil, err
		}
	}

	var destPoint *types.Point
	if dest != nil {
		destPoint = &dest.Location
	}
	quote := s.pricing.Quote(serviceType, cmd.Pickup, destPoint)

	now := time.Now().UTC()
	r = &Request{
		ID:             types.NewID(),
		DriverID:       cmd.DriverID,
		DriverName:     cmd.DriverName,
		DriverPhone:    cmd.DriverPhone,
		Issue:          cmd.Issue,
		ServiceType:    serviceType,
		Location:       cmd.Pickup,
		TowDestination: dest,
		Price:          quote.Price,
		Distance:       quote.DistanceKm,
		Status:         StatusPending,
		PaymentMethod:  PaymentUnknown,
		CreatedAt:      now,
	}
	if !cmd.Vehicle.empty() {
		v := *cmd.Vehicle
		r.Vehicle = &v
	}

	driverID := cmd.DriverID
	if err := s.store.Create(ctx, r, &Event{
		RequestID:  r.ID,
		FromStatus: StatusNone,
		ToStatus:   StatusPending,
		ActorRole:  ActorDriver,
		ActorID:    &driverID,
		CreatedAt:  now,
	}); err != nil {
		return nil, err
	}

	if s.geo != nil {
		if err := s.geo.Upsert(ctx, location.KindPendingRequest, r.ID, r.Location); err != nil {
			s.log.WithFields(logrus.Fields{"request_id": r.ID, "error": err}).Warn("pending index upsert failed")
		}
	}
	s.log.WithFields(logrus.Fields{
		"request_id":   r.ID,
		"service_type": r.ServiceType,
		"price":        r.Price,
	}).Info("request created")
	return r, nil
}

func (s *Service) resolveDestination(ctx context.Context, tow Towing) (*TowDestination, error) {
	addr := strings.TrimSpace(tow.Address)
	if tow.Destination != nil {
		if !tow.Destination.Valid() {
			return nil, fmt.Errorf("%w: tow destination coordinates", ErrInvalidInput)
		}
		if addr == "" {
			addr = defaultTowAddress
		}
		return &TowDestination{Location: *tow.Destination, Address: addr}, nil
	}
	if addr == "" || s.geocoder == nil {
		return nil, nil
	}
	p, err := s.geocoder.Geocode(ctx, addr)
	if err != nil {
		// Priced as towing without a destination.
		s.log.WithFields(logrus.Fields{"address": addr, "error": err}).Warn("tow destination geocoding failed")
		return nil, nil
	}
	return &TowDestination{Location: p, Address: addr}, nil
}

// Accept assigns a pending request to a mechanic. Exactly one of any number of
// concurrent accepts for the same request succeeds.
func (s *Service) Accept(ctx context.Context, cmd AcceptCommand) (r *Request, err error) {
	ctx, span := tracer.Start(ctx, "request.Accept", trace.WithAttributes(
		attribute.String("request.id", string(cmd.RequestID)),
		attribute.String("mechanic.id", string(cmd.MechanicID)),
	))
	defer func() { endSpan(span, err) }()

	if cmd.RequestID == "" || cmd.MechanicID == "" {
		return nil, fmt.Errorf("%w: mechanic id missing", ErrInvalidInput)
	}
	r, err = s.store.Accept(ctx, cmd.RequestID, cmd.MechanicID, s.cfg.MaxActiveJobs)
	if err != nil {
		return nil, err
	}
	s.afterTransition(ctx, r, StatusPending)
	return r, nil
}

// Finish moves an ACCEPTED job to PAYMENT_PENDING; only the assigned mechanic may.
func (s *Service) Finish(ctx context.Context, cmd FinishCommand) (r *Request, err error) {
	ctx, span := tracer.Start(ctx, "request.Finish", trace.WithAttributes(attribute.String("request.id", string(cmd.RequestID))))
	defer func() { endSpan(span, err) }()

	cur, err := s.store.Get(ctx, cmd.RequestID)
	if err != nil {
		return nil, err
	}
	if !cur.AssignedTo(cmd.MechanicID) {
		return nil, ErrUnauthorized
	}
	if cur.Status != StatusAccepted {
		return nil, ErrInvalidTransition
	}
	return s.transition(ctx, cur, Transition{
		To:        StatusPaymentPending,
		ActorRole: ActorMechanic,
		ActorID:   cmd.MechanicID,
	})
}

// Pay completes a PAYMENT_PENDING job; only the owning driver may.
func (s *Service) Pay(ctx context.Context, cmd PayCommand) (r *Request, err error) {
	ctx, span := tracer.Start(ctx, "request.Pay", trace.WithAttributes(attribute.String("request.id", string(cmd.RequestID))))
	defer func() { endSpan(span, err) }()

	method, err := ParsePaymentMethod(cmd.PaymentMethod)
	if err != nil {
		return nil, fmt.Errorf("%w: unknown payment method %q", ErrInvalidInput, cmd.PaymentMethod)
	}
	cur, err := s.store.Get(ctx, cmd.RequestID)
	if err != nil {
		return nil, err
	}
	if !cur.OwnedBy(cmd.DriverID) {
		return nil, ErrUnauthorized
	}
	if cur.Status != StatusPaymentPending {
		return nil, ErrInvalidTransition
	}
	return s.transition(ctx, cur, Transition{
		To:            StatusCompleted,
		ActorRole:     ActorDriver,
		ActorID:       cmd.DriverID,
		PaymentMethod: &method,
	})
}

// Review attaches the driver's review once and updates the mechanic's rating.
func (s *Service) Review(ctx context.Context, cmd ReviewCommand) (r *Request, err error) {
	ctx, span := tracer.Start(ctx, "request.Review", trace.WithAttributes(attribute.String("request.id", string(cmd.RequestID))))
	defer func() { endSpan(span, err) }()

	if cmd.Rating < 1 || cmd.Rating > 5 {
		return nil, fmt.Errorf("%w: valid rating (1-5) is required", ErrInvalidInput)
	}
	cur, err := s.store.Get(ctx, cmd.RequestID)
	if err != nil {
		return nil, err
	}
	if !cur.OwnedBy(cmd.DriverID) {
		return nil, ErrUnauthorized
	}
	if cur.Status != StatusCompleted {
		return nil, fmt.Errorf("%w: you can only review completed jobs", ErrInvalidTransition)
	}
	if cur.Review != nil {
		return nil, ErrAlreadyReviewed
	}
	r, err = s.store.AttachReview(ctx, cmd.RequestID, Review{
		Rating:    cmd.Rating,
		Comment:   strings.TrimSpace(cmd.Comment),
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		return nil, err
	}
	s.log.WithFields(logrus.Fields{
		"request_id":  r.ID,
		"mechanic_id": r.AssignedMechanic,
		"rating":      cmd.Rating,
	}).Info("request reviewed")
	return r, nil
}

// Cancel abandons a PENDING or ACCEPTED request; only the owning driver may.
func (s *Service) Cancel(ctx context.Context, cmd CancelCommand) (r *Request, err error) {
	ctx, span := tracer.Start(ctx, "request.Cancel", trace.WithAttributes(attribute.String("request.id", string(cmd.RequestID))))
	defer func() { endSpan(span, err) }()

	cur, err := s.store.Get(ctx, cmd.RequestID)
	if err != nil {
		return nil, err
	}
	if !cur.OwnedBy(cmd.DriverID) {
		return nil, ErrUnauthorized
	}
	if !CanTransition(cur.Status, StatusCancelled) {
		return nil, ErrInvalidTransition
	}
	return s.transition(ctx, cur, Transition{
		To:            StatusCancelled,
		ActorRole:     ActorDriver,
		ActorID:       cmd.DriverID,
		ClearMechanic: true,
	})
}

func (s *Service) Get(ctx context.Context, id types.ID) (*Request, error) {
	return s.store.Get(ctx, id)
}

// transition performs one CAS update from cur's observed status and version.
// A lost race surfaces as ErrConflict; it is never retried.
func (s *Service) transition(ctx context.Context, cur *Request, t Transition) (*Request, error) {
	if !CanTransition(cur.Status, t.To) {
		return nil, ErrInvalidTransition
	}
	t.ID = cur.ID
	t.From = cur.Status
	t.Version = cur.StatusVersion
	r, err := s.store.UpdateStatus(ctx, t)
	if err != nil {
		return nil, err
	}
	s.afterTransition(ctx, r, cur.Status)
	return r, nil
}

// afterTransition runs the best-effort side effects of a committed transition.
func (s *Service) afterTransition(ctx context.Context, r *Request, from Status) {
	fields := logrus.Fields{
		"request_id": r.ID,
		"from":       from,
		"to":         r.Status,
	}
	if from == StatusPending && s.geo != nil {
		if err := s.geo.Remove(ctx, location.KindPendingRequest, r.ID); err != nil {
			s.log.WithFields(fields).WithError(err).Warn("pending index remove failed")
		}
	}
	if s.notify != nil {
		ev := StatusEvent{
			RequestID:        r.ID,
			Status:           r.Status,
			StatusVersion:    r.StatusVersion,
			AssignedMechanic: r.AssignedMechanic,
		}
		if err := s.notify.Broadcast(ctx, r.ID, EventRequestStatus, ev); err != nil {
			s.log.WithFields(fields).WithError(err).Warn("status broadcast failed")
		}
	}
	s.log.WithFields(fields).Info("request status changed")
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
