package repo

import (
	"context"

	"github.com/google/uuid"

	"github.com/guiomkt/angubackend-sub001/platform/go/persistence"
)

// Repository defines the persistence operations required by the restaurants service.
type Repository interface {
	Create(ctx context.Context, rec persistence.RestaurantRecord) (persistence.RestaurantRecord, error)
	Get(ctx context.Context, id uuid.UUID) (persistence.RestaurantRecord, error)
	GetBySlug(ctx context.Context, slug string) (persistence.RestaurantRecord, error)
	List(ctx context.Context, status *string, limit, offset int) ([]persistence.RestaurantRecord, int, error)
	Update(ctx context.Context, id uuid.UUID, params persistence.UpdateRestaurantParams) (persistence.RestaurantRecord, error)
}

type postgresRepository struct {
	store *persistence.RestaurantStore
}

// NewPostgresRepository constructs a repository backed by the shared persistence layer.
func NewPostgresRepository(store *persistence.RestaurantStore) Repository {
	if store == nil {
		panic("restaurant store is required")
	}
	return &postgresRepository{store: store}
}

func (r *postgresRepository) Create(ctx context.Context, rec persistence.RestaurantRecord) (persistence.RestaurantRecord, error) {
	return r.store.Create(ctx, rec)
}

func (r *postgresRepository) Get(ctx context.Context, id uuid.UUID) (persistence.RestaurantRecord, error) {
	return r.store.Get(ctx, id)
}

func (r *postgresRepository) GetBySlug(ctx context.Context, slug string) (persistence.RestaurantRecord, error) {
	return r.store.GetBySlug(ctx, slug)
}

func (r *postgresRepository) List(ctx context.Context, status *string, limit, offset int) ([]persistence.RestaurantRecord, int, error) {
	return r.store.List(ctx, status, limit, offset)
}

func (r *postgresRepository) Update(ctx context.Context, id uuid.UUID, params persistence.UpdateRestaurantParams) (persistence.RestaurantRecord, error) {
	return r.store.Update(ctx, id, params)
}
