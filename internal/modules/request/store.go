// README: Request store backed by PostgreSQL; every transition is a status-guarded update plus an audit event in one transaction.
package request

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"roadside/internal/modules/location"
	"roadside/internal/modules/pricing"
	"roadside/internal/types"
)

const requestColumns = `id, driver_id, driver_name, driver_phone, issue, service_type,
       vehicle_make, vehicle_model, vehicle_color, vehicle_plate,
       pickup_lat, pickup_lng, tow_dest_lat, tow_dest_lng, tow_dest_address,
       price, distance_km, assigned_mechanic, status, status_version, payment_method,
       review_rating, review_comment, reviewed_at, created_at`

// RatingWriter folds a review score into the mechanic aggregate inside tx.
type RatingWriter interface {
	ApplyReview(ctx context.Context, tx pgx.Tx, mechanicID types.ID, score int) error
}

type Store struct {
	db      *pgxpool.Pool
	ratings RatingWriter
}

func NewStore(db *pgxpool.Pool, ratings RatingWriter) *Store {
	return &Store{db: db, ratings: ratings}
}

func (s *Store) Create(ctx context.Context, r *Request, ev *Event) error {
	var v Vehicle
	if r.Vehicle != nil {
		v = *r.Vehicle
	}
	var destLat, destLng *float64
	var destAddr *string
	if r.TowDestination != nil {
		destLat, destLng = &r.TowDestination.Location.Lat, &r.TowDestination.Location.Lng
		destAddr = &r.TowDestination.Address
	}

	return pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO requests (
				id, driver_id, driver_name, driver_phone, issue, service_type,
				vehicle_make, vehicle_model, vehicle_color, vehicle_plate,
				pickup_lat, pickup_lng, tow_dest_lat, tow_dest_lng, tow_dest_address,
				price, distance_km, status, status_version, payment_method, created_at
			) VALUES (
				$1, $2, $3, $4, $5, $6,
				$7, $8, $9, $10,
				$11, $12, $13, $14, $15,
				$16, $17, $18, $19, $20, $21
			)`,
			string(r.ID), string(r.DriverID), r.DriverName, r.DriverPhone, r.Issue, string(r.ServiceType),
			nullIfEmpty(v.Make), nullIfEmpty(v.Model), nullIfEmpty(v.Color), nullIfEmpty(v.LicensePlate),
			r.Location.Lat, r.Location.Lng, destLat, destLng, destAddr,
			r.Price, r.Distance, string(r.Status), r.StatusVersion, string(r.PaymentMethod), r.CreatedAt,
		)
		if err != nil {
			return err
		}
		return appendEvent(ctx, tx, ev)
	})
}

func (s *Store) Get(ctx context.Context, id types.ID) (*Request, error) {
	return scanRequest(s.db.QueryRow(ctx, `SELECT `+requestColumns+` FROM requests WHERE id = $1`, string(id)))
}

func (s *Store) GetMany(ctx context.Context, ids []types.ID) (map[types.ID]*Request, error) {
	out := make(map[types.ID]*Request, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	list, err := s.query(ctx, `SELECT `+requestColumns+` FROM requests WHERE id = ANY($1)`, idStrings(ids))
	if err != nil {
		return nil, err
	}
	for _, r := range list {
		out[r.ID] = r
	}
	return out, nil
}

// Accept assigns a PENDING request to mechanicID. The advisory lock on the
// mechanic serialises that mechanic's accepts so the active-job count cannot be
// raced; the status-guarded UPDATE decides between competing mechanics.
func (s *Store) Accept(ctx context.Context, id, mechanicID types.ID, maxActive int) (*Request, error) {
	var out *Request
	err := pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, string(mechanicID)); err != nil {
			return fmt.Errorf("lock mechanic: %w", err)
		}

		var active int
		err := tx.QueryRow(ctx, `
			SELECT COUNT(*) FROM requests
			WHERE assigned_mechanic = $1 AND status IN ('ACCEPTED','PAYMENT_PENDING')`,
			string(mechanicID),
		).Scan(&active)
		if err != nil {
			return err
		}
		if active >= maxActive {
			return ErrCapacityExceeded
		}

		r, err := scanRequest(tx.QueryRow(ctx, `
			UPDATE requests
			SET status = 'ACCEPTED',
			    status_version = status_version + 1,
			    assigned_mechanic = $2,
			    accepted_at = NOW()
			WHERE id = $1 AND status = 'PENDING'
			RETURNING `+requestColumns,
			string(id), string(mechanicID),
		))
		if errors.Is(err, ErrNotFound) {
			return classifyMiss(ctx, tx, id, ErrRequestUnavailable)
		}
		if err != nil {
			return err
		}

		mid := mechanicID
		if err := appendEvent(ctx, tx, &Event{
			RequestID:  id,
			FromStatus: StatusPending,
			ToStatus:   StatusAccepted,
			ActorRole:  ActorMechanic,
			ActorID:    &mid,
			CreatedAt:  time.Now().UTC(),
		}); err != nil {
			return err
		}
		out = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Transition is one compare-and-swap status change.
type Transition struct {
	ID            types.ID
	From          Status
	To            Status
	Version       int
	ActorRole     string
	ActorID       types.ID
	PaymentMethod *PaymentMethod
	// ClearMechanic unassigns the mechanic (cancellation).
	ClearMechanic bool
}

// UpdateStatus applies t only if the row is still at t.From/t.Version, and
// returns ErrConflict otherwise.
func (s *Store) UpdateStatus(ctx context.Context, t Transition) (*Request, error) {
	var pm *string
	if t.PaymentMethod != nil {
		v := string(*t.PaymentMethod)
		pm = &v
	}
	var out *Request
	err := pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		r, err := scanRequest(tx.QueryRow(ctx, `
			UPDATE requests
			SET status = $2::text,
			    status_version = status_version + 1,
			    payment_method = COALESCE($5::text, payment_method),
			    assigned_mechanic = CASE WHEN $6::boolean THEN NULL ELSE assigned_mechanic END,
			    finished_at = CASE WHEN $2::text = 'PAYMENT_PENDING' THEN NOW() ELSE finished_at END,
			    completed_at = CASE WHEN $2::text = 'COMPLETED' THEN NOW() ELSE completed_at END,
			    cancelled_at = CASE WHEN $2::text = 'CANCELLED' THEN NOW() ELSE cancelled_at END
			WHERE id = $1 AND status = $3 AND status_version = $4
			RETURNING `+requestColumns,
			string(t.ID), string(t.To), string(t.From), t.Version, pm, t.ClearMechanic,
		))
		if errors.Is(err, ErrNotFound) {
			return classifyMiss(ctx, tx, t.ID, ErrConflict)
		}
		if err != nil {
			return err
		}
		if err := appendEvent(ctx, tx, &Event{
			RequestID:  t.ID,
			FromStatus: t.From,
			ToStatus:   t.To,
			ActorRole:  t.ActorRole,
			ActorID:    types.IDPtr(t.ActorID),
			CreatedAt:  time.Now().UTC(),
		}); err != nil {
			return err
		}
		out = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// AttachReview stores the review on a COMPLETED, unreviewed request and folds
// the rating into the assigned mechanic's aggregate in the same transaction.
func (s *Store) AttachReview(ctx context.Context, id types.ID, rv Review) (*Request, error) {
	var out *Request
	err := pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		r, err := scanRequest(tx.QueryRow(ctx, `
			UPDATE requests
			SET review_rating = $2, review_comment = $3, reviewed_at = $4
			WHERE id = $1 AND status = 'COMPLETED' AND review_rating IS NULL
			RETURNING `+requestColumns,
			string(id), rv.Rating, rv.Comment, rv.CreatedAt,
		))
		if errors.Is(err, ErrNotFound) {
			cur, err := scanRequest(tx.QueryRow(ctx, `SELECT `+requestColumns+` FROM requests WHERE id = $1`, string(id)))
			if err != nil {
				return err
			}
			if cur.Review != nil {
				return ErrAlreadyReviewed
			}
			return ErrInvalidTransition
		}
		if err != nil {
			return err
		}
		if r.AssignedMechanic != nil && s.ratings != nil {
			if err := s.ratings.ApplyReview(ctx, tx, *r.AssignedMechanic, rv.Rating); err != nil {
				return err
			}
		}
		out = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ListByMechanic returns the mechanic's requests in any of statuses, newest first.
func (s *Store) ListByMechanic(ctx context.Context, mechanicID types.ID, statuses []Status) ([]*Request, error) {
	return s.query(ctx, `
		SELECT `+requestColumns+` FROM requests
		WHERE assigned_mechanic = $1 AND status = ANY($2)
		ORDER BY created_at DESC`,
		string(mechanicID), statusStrings(statuses),
	)
}

// ListByDriver returns the driver's requests, newest first. Empty statuses means all.
func (s *Store) ListByDriver(ctx context.Context, driverID types.ID, statuses []Status) ([]*Request, error) {
	if len(statuses) == 0 {
		return s.query(ctx, `
			SELECT `+requestColumns+` FROM requests
			WHERE driver_id = $1
			ORDER BY created_at DESC`,
			string(driverID),
		)
	}
	return s.query(ctx, `
		SELECT `+requestColumns+` FROM requests
		WHERE driver_id = $1 AND status = ANY($2)
		ORDER BY created_at DESC`,
		string(driverID), statusStrings(statuses),
	)
}

// ListPendingPositions feeds the geo index rebuild.
func (s *Store) ListPendingPositions(ctx context.Context) ([]location.Entry, error) {
	return s.positions(ctx, `SELECT id, pickup_lat, pickup_lng FROM requests WHERE status = 'PENDING'`)
}

// PendingPositions narrows ids to the requests that are PENDING right now.
func (s *Store) PendingPositions(ctx context.Context, ids []types.ID) ([]location.Entry, error) {
	return s.positions(ctx, `
		SELECT id, pickup_lat, pickup_lng FROM requests
		WHERE status = 'PENDING' AND id = ANY($1)`, idStrings(ids))
}

func (s *Store) positions(ctx context.Context, sql string, args ...any) ([]location.Entry, error) {
	rows, err := s.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []location.Entry
	for rows.Next() {
		var e location.Entry
		if err := rows.Scan(&e.ID, &e.Position.Lat, &e.Position.Lng); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Store) Events(ctx context.Context, id types.ID) ([]Event, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, request_id, from_status, to_status, actor_role, actor_id, created_at
		FROM request_events
		WHERE request_id = $1
		ORDER BY id`, string(id))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Event
	for rows.Next() {
		var e Event
		var actorID *string
		if err := rows.Scan(&e.ID, &e.RequestID, &e.FromStatus, &e.ToStatus, &e.ActorRole, &actorID, &e.CreatedAt); err != nil {
			return nil, err
		}
		if actorID != nil {
			e.ActorID = types.IDPtr(types.ID(*actorID))
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Store) query(ctx context.Context, sql string, args ...any) ([]*Request, error) {
	rows, err := s.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*Request
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// classifyMiss turns a guarded update that matched no row into ErrNotFound or ifExists.
func classifyMiss(ctx context.Context, tx pgx.Tx, id types.ID, ifExists error) error {
	var exists bool
	if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM requests WHERE id = $1)`, string(id)).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return ErrNotFound
	}
	return ifExists
}

func appendEvent(ctx context.Context, tx pgx.Tx, e *Event) error {
	var actorID *string
	if e.ActorID != nil {
		v := string(*e.ActorID)
		actorID = &v
	}
	_, err := tx.Exec(ctx, `
		INSERT INTO request_events (
			request_id, from_status, to_status, actor_role, actor_id, created_at
		) VALUES ($1, $2, $3, $4, $5, $6)`,
		string(e.RequestID),
		string(e.FromStatus),
		string(e.ToStatus),
		e.ActorRole,
		actorID,
		e.CreatedAt,
	)
	return err
}

func scanRequest(row pgx.Row) (*Request, error) {
	var r Request
	var serviceType, status, payment string
	var vMake, vModel, vColor, vPlate *string
	var destLat, destLng *float64
	var destAddr, assigned, reviewComment *string
	var reviewRating *int
	var reviewedAt *time.Time

	err := row.Scan(
		&r.ID, &r.DriverID, &r.DriverName, &r.DriverPhone, &r.Issue, &serviceType,
		&vMake, &vModel, &vColor, &vPlate,
		&r.Location.Lat, &r.Location.Lng, &destLat, &destLng, &destAddr,
		&r.Price, &r.Distance, &assigned, &status, &r.StatusVersion, &payment,
		&reviewRating, &reviewComment, &reviewedAt, &r.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	r.ServiceType, _ = pricing.ParseServiceType(serviceType)
	r.Status = Status(status)
	r.PaymentMethod = PaymentMethod(payment)
	v := &Vehicle{Make: deref(vMake), Model: deref(vModel), Color: deref(vColor), LicensePlate: deref(vPlate)}
	if !v.empty() {
		r.Vehicle = v
	}
	if destLat != nil && destLng != nil {
		r.TowDestination = &TowDestination{
			Location: types.Point{Lat: *destLat, Lng: *destLng},
			Address:  deref(destAddr),
		}
	}
	if assigned != nil {
		r.AssignedMechanic = types.IDPtr(types.ID(*assigned))
	}
	if reviewRating != nil {
		r.Review = &Review{Rating: *reviewRating, Comment: deref(reviewComment)}
		if reviewedAt != nil {
			r.Review.CreatedAt = *reviewedAt
		}
	}
	return &r, nil
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func idStrings(ids []types.ID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = string(id)
	}
	return out
}

func statusStrings(statuses []Status) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}
