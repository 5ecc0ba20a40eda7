package persistence

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestRestaurantStoreCRUD(t *testing.T) {
	t.Parallel()

	pool := startTestPostgres(t)
	store, err := NewRestaurantStore(pool)
	require.NoError(t, err)
	ctx := context.Background()

	created, err := store.Create(ctx, RestaurantRecord{
		RestaurantID: uuid.New(),
		Slug:         "cantina-da-ana",
		Name:         "Cantina da Ana",
		Status:       "active",
		Timezone:     "America/Sao_Paulo",
	})
	require.NoError(t, err)
	require.False(t, created.CreatedAt.IsZero())

	got, err := store.Get(ctx, created.RestaurantID)
	require.NoError(t, err)
	require.Equal(t, "cantina-da-ana", got.Slug)

	bySlug, err := store.GetBySlug(ctx, "cantina-da-ana")
	require.NoError(t, err)
	require.Equal(t, created.RestaurantID, bySlug.RestaurantID)

	// Slug is unique.
	_, err = store.Create(ctx, RestaurantRecord{
		RestaurantID: uuid.New(),
		Slug:         "cantina-da-ana",
		Name:         "Clone",
		Status:       "active",
		Timezone:     "America/Sao_Paulo",
	})
	require.ErrorIs(t, err, ErrSlugTaken)

	updated, err := store.Update(ctx, created.RestaurantID, UpdateRestaurantParams{
		Name:   strPtr("Cantina da Ana Prime"),
		Status: strPtr("suspended"),
	})
	require.NoError(t, err)
	require.Equal(t, "Cantina da Ana Prime", updated.Name)
	require.Equal(t, "suspended", updated.Status)
	require.Equal(t, "America/Sao_Paulo", updated.Timezone)

	suspended := "suspended"
	records, total, err := store.List(ctx, &suspended, 10, 0)
	require.NoError(t, err)
	require.Equal(t, 1, total)
	require.Len(t, records, 1)

	_, err = store.Get(ctx, uuid.New())
	require.ErrorIs(t, err, ErrNotFound)
}
