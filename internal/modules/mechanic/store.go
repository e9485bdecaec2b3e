// README: Mechanic store backed by PostgreSQL.
package mechanic

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"roadside/internal/modules/location"
	"roadside/internal/types"
)

const mechanicColumns = `id, name, COALESCE(email, ''), phone, service_type, lat, lng,
       is_available, photo_url, rating, num_reviews, created_at`

type Store struct {
	db *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

func (s *Store) Create(ctx context.Context, m *Mechanic) error {
	var lat, lng *float64
	if m.Location != nil {
		lat, lng = &m.Location.Lat, &m.Location.Lng
	}
	var email *string
	if m.Email != "" {
		email = &m.Email
	}
	_, err := s.db.Exec(ctx, `
		INSERT INTO mechanics (
			id, name, email, phone, service_type, lat, lng,
			is_available, photo_url, rating, num_reviews, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		string(m.ID), m.Name, email, m.Phone, string(m.ServiceType), lat, lng,
		m.IsAvailable, m.PhotoURL, m.Rating, m.NumReviews, m.CreatedAt,
	)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrDuplicateEmail
	}
	return err
}

func (s *Store) Get(ctx context.Context, id types.ID) (*Mechanic, error) {
	row := s.db.QueryRow(ctx, `SELECT `+mechanicColumns+` FROM mechanics WHERE id = $1`, string(id))
	return scanMechanic(row)
}

// GetMany loads the given mechanics keyed by id; unknown ids are absent from the map.
func (s *Store) GetMany(ctx context.Context, ids []types.ID) (map[types.ID]*Mechanic, error) {
	out := make(map[types.ID]*Mechanic, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	raw := make([]string, len(ids))
	for i, id := range ids {
		raw[i] = string(id)
	}
	rows, err := s.db.Query(ctx, `SELECT `+mechanicColumns+` FROM mechanics WHERE id = ANY($1)`, raw)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		m, err := scanMechanic(rows)
		if err != nil {
			return nil, err
		}
		out[m.ID] = m
	}
	return out, rows.Err()
}

func (s *Store) List(ctx context.Context) ([]*Mechanic, error) {
	rows, err := s.db.Query(ctx, `SELECT `+mechanicColumns+` FROM mechanics ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*Mechanic
	for rows.Next() {
		m, err := scanMechanic(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// UpdateLocation sets the position and/or photo; nil arguments leave the column as is.
func (s *Store) UpdateLocation(ctx context.Context, id types.ID, p *types.Point, photoURL *string) (*Mechanic, error) {
	var lat, lng *float64
	if p != nil {
		lat, lng = &p.Lat, &p.Lng
	}
	row := s.db.QueryRow(ctx, `
		UPDATE mechanics
		SET lat = COALESCE($2, lat),
		    lng = COALESCE($3, lng),
		    photo_url = COALESCE($4, photo_url)
		WHERE id = $1
		RETURNING `+mechanicColumns,
		string(id), lat, lng, photoURL,
	)
	return scanMechanic(row)
}

func (s *Store) SetAvailability(ctx context.Context, id types.ID, available bool) (*Mechanic, error) {
	row := s.db.QueryRow(ctx, `
		UPDATE mechanics SET is_available = $2
		WHERE id = $1
		RETURNING `+mechanicColumns,
		string(id), available,
	)
	return scanMechanic(row)
}

// ListIndexable returns every available mechanic with a known position.
func (s *Store) ListIndexable(ctx context.Context) ([]location.Entry, error) {
	return s.positions(ctx, `
		SELECT id, lat, lng FROM mechanics
		WHERE is_available AND lat IS NOT NULL AND lng IS NOT NULL`)
}

// IndexablePositions narrows ids to the mechanics that belong in the geo set now.
func (s *Store) IndexablePositions(ctx context.Context, ids []types.ID) ([]location.Entry, error) {
	strs := make([]string, len(ids))
	for i, id := range ids {
		strs[i] = string(id)
	}
	return s.positions(ctx, `
		SELECT id, lat, lng FROM mechanics
		WHERE is_available AND lat IS NOT NULL AND lng IS NOT NULL AND id = ANY($1)`, strs)
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

// ApplyReview folds score into the mechanic's aggregate inside the caller's
// transaction. The row lock serialises concurrent reviews of one mechanic.
// A mechanic that no longer exists is skipped.
func (s *Store) ApplyReview(ctx context.Context, tx pgx.Tx, id types.ID, score int) error {
	var rating float64
	var count int
	err := tx.QueryRow(ctx, `SELECT rating, num_reviews FROM mechanics WHERE id = $1 FOR UPDATE`, string(id)).
		Scan(&rating, &count)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("lock mechanic %s: %w", id, err)
	}
	_, err = tx.Exec(ctx, `UPDATE mechanics SET rating = $2, num_reviews = $3 WHERE id = $1`,
		string(id), NextRating(rating, count, score), count+1)
	return err
}

func scanMechanic(row pgx.Row) (*Mechanic, error) {
	var m Mechanic
	var serviceType string
	var lat, lng *float64
	err := row.Scan(
		&m.ID, &m.Name, &m.Email, &m.Phone, &serviceType, &lat, &lng,
		&m.IsAvailable, &m.PhotoURL, &m.Rating, &m.NumReviews, &m.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	m.ServiceType = pricingType(serviceType)
	if lat != nil && lng != nil {
		m.Location = &types.Point{Lat: *lat, Lng: *lng}
	}
	return &m, nil
}
