package persistence

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// RestaurantsTable is the restaurant registry table.
const RestaurantsTable = "restaurants"

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("record not found")

// ErrSlugTaken is returned when a restaurant insert collides on the slug.
var ErrSlugTaken = errors.New("slug already in use")

// RestaurantRecord represents one restaurant row.
type RestaurantRecord struct {
	RestaurantID uuid.UUID `db:"restaurant_id"`
	Slug         string    `db:"slug"`
	Name         string    `db:"name"`
	Status       string    `db:"status"`
	Timezone     string    `db:"timezone"`
	CreatedAt    time.Time `db:"created_at"`
	UpdatedAt    time.Time `db:"updated_at"`
}

// RestaurantStore provides access to the restaurants table.
type RestaurantStore struct {
	pool *pgxpool.Pool
}

// NewRestaurantStore creates a store; assumes the bootstrap DDL already ran.
func NewRestaurantStore(pool *pgxpool.Pool) (*RestaurantStore, error) {
	if pool == nil {
		return nil, errors.New("pool is required")
	}
	return &RestaurantStore{pool: pool}, nil
}

const restaurantColumns = "restaurant_id, slug, name, status, timezone, created_at, updated_at"

// Create inserts a restaurant row.
func (s *RestaurantStore) Create(ctx context.Context, rec RestaurantRecord) (RestaurantRecord, error) {
	if rec.RestaurantID == uuid.Nil {
		return RestaurantRecord{}, errors.New("restaurant id is required")
	}

	query := fmt.Sprintf(`
        INSERT INTO %s (restaurant_id, slug, name, status, timezone)
        VALUES ($1, $2, $3, $4, $5)
        RETURNING %s
    `, RestaurantsTable, restaurantColumns)

	row := s.pool.QueryRow(ctx, query, rec.RestaurantID, rec.Slug, rec.Name, rec.Status, rec.Timezone)
	out, err := scanRestaurantRecord(row)
	if IsUniqueViolation(err) {
		return RestaurantRecord{}, ErrSlugTaken
	}
	return out, err
}

// Get returns a restaurant by id.
func (s *RestaurantStore) Get(ctx context.Context, id uuid.UUID) (RestaurantRecord, error) {
	query := fmt.Sprintf("SELECT %s FROM %s WHERE restaurant_id = $1", restaurantColumns, RestaurantsTable)
	return scanRestaurantRecord(s.pool.QueryRow(ctx, query, id))
}

// GetBySlug returns a restaurant by its unique slug.
func (s *RestaurantStore) GetBySlug(ctx context.Context, slug string) (RestaurantRecord, error) {
	query := fmt.Sprintf("SELECT %s FROM %s WHERE slug = $1", restaurantColumns, RestaurantsTable)
	return scanRestaurantRecord(s.pool.QueryRow(ctx, query, slug))
}

// List returns restaurants ordered by creation time, optionally filtered by status.
func (s *RestaurantStore) List(ctx context.Context, status *string, limit, offset int) ([]RestaurantRecord, int, error) {
	where := ""
	args := []any{}
	if status != nil {
		where = "WHERE status = $1"
		args = append(args, *status)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM %s %s", RestaurantsTable, where)
	var total int
	if err := s.pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := fmt.Sprintf(`SELECT %s FROM %s %s
        ORDER BY created_at DESC
        LIMIT %d OFFSET %d`, restaurantColumns, RestaurantsTable, where, limit, offset)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var records []RestaurantRecord
	for rows.Next() {
		rec, err := scanRestaurantRecord(rows)
		if err != nil {
			return nil, 0, err
		}
		records = append(records, rec)
	}

	if err = rows.Err(); err != nil {
		return nil, 0, err
	}

	return records, total, nil
}

// UpdateRestaurantParams carries the optional fields for Update; nil fields are left untouched.
type UpdateRestaurantParams struct {
	Name     *string
	Status   *string
	Timezone *string
}

// Update applies the non-nil fields and bumps updated_at.
func (s *RestaurantStore) Update(ctx context.Context, id uuid.UUID, params UpdateRestaurantParams) (RestaurantRecord, error) {
	sets := []string{"updated_at = now()"}
	args := []any{id}

	appendSet := func(column string, value any) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if params.Name != nil {
		appendSet("name", *params.Name)
	}
	if params.Status != nil {
		appendSet("status", *params.Status)
	}
	if params.Timezone != nil {
		appendSet("timezone", *params.Timezone)
	}

	query := fmt.Sprintf(`UPDATE %s SET %s WHERE restaurant_id = $1 RETURNING %s`,
		RestaurantsTable, strings.Join(sets, ", "), restaurantColumns)

	return scanRestaurantRecord(s.pool.QueryRow(ctx, query, args...))
}

func scanRestaurantRecord(row pgx.Row) (RestaurantRecord, error) {
	var rec RestaurantRecord
	if err := row.Scan(&rec.RestaurantID, &rec.Slug, &rec.Name, &rec.Status, &rec.Timezone, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return RestaurantRecord{}, ErrNotFound
		}
		return RestaurantRecord{}, err
	}
	return rec, nil
}

// IsUniqueViolation reports whether err is a Postgres unique-constraint violation.
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
