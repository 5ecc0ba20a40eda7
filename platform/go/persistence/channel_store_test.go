package persistence

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func mustChannelStore(t *testing.T) *ChannelStore {
	t.Helper()

	store, err := NewChannelStore(startTestPostgres(t))
	require.NoError(t, err)
	return store
}

func TestChannelStoreUpsertIsKeyedByRestaurant(t *testing.T) {
	t.Parallel()

	store := mustChannelStore(t)
	ctx := context.Background()
	restaurantID := uuid.New()

	_, err := store.Get(ctx, restaurantID)
	require.ErrorIs(t, err, ErrNotFound)

	created, err := store.Upsert(ctx, restaurantID, ChannelPatch{
		Status:      strPtr("oauth_completed"),
		AccessToken: strPtr("tok1"),
	})
	require.NoError(t, err)
	require.Equal(t, "oauth_completed", created.Status)
	require.NotNil(t, created.AccessToken)
	require.Equal(t, "tok1", *created.AccessToken)
	require.Nil(t, created.WABAID)

	// A second upsert patches the same row instead of creating a duplicate,
	// and untouched fields keep their values.
	patched, err := store.Upsert(ctx, restaurantID, ChannelPatch{
		Status: strPtr("account_detected"),
		WABAID: strPtr("waba_123"),
	})
	require.NoError(t, err)
	require.Equal(t, created.RestaurantID, patched.RestaurantID)
	require.Equal(t, created.CreatedAt, patched.CreatedAt)
	require.Equal(t, "account_detected", patched.Status)
	require.NotNil(t, patched.AccessToken)
	require.Equal(t, "tok1", *patched.AccessToken)
	require.NotNil(t, patched.WABAID)
	require.Equal(t, "waba_123", *patched.WABAID)
}

func TestChannelStoreClearsLastError(t *testing.T) {
	t.Parallel()

	store := mustChannelStore(t)
	ctx := context.Background()
	restaurantID := uuid.New()

	rec, err := store.Upsert(ctx, restaurantID, ChannelPatch{
		Status:    strPtr("failed"),
		LastError: strPtr("missing business_management scope"),
	})
	require.NoError(t, err)
	require.NotNil(t, rec.LastError)

	rec, err = store.Upsert(ctx, restaurantID, ChannelPatch{
		Status:    strPtr("oauth_completed"),
		LastError: strPtr(""),
	})
	require.NoError(t, err)
	require.Nil(t, rec.LastError)
}

func TestChannelStoreAppendAndListLogs(t *testing.T) {
	t.Parallel()

	store := mustChannelStore(t)
	ctx := context.Background()
	restaurantID := uuid.New()

	first, err := store.AppendLog(ctx, IntegrationLogRecord{
		RestaurantID: restaurantID,
		Step:         "token_exchange",
		Success:      true,
		Details:      map[string]any{"latency_ms": 120, "provider_user_id": "u_1"},
	})
	require.NoError(t, err)
	require.NotZero(t, first.LogID)
	require.Equal(t, float64(120), first.Details["latency_ms"])

	_, err = store.AppendLog(ctx, IntegrationLogRecord{
		RestaurantID: restaurantID,
		Step:         "waba_creation",
		Strategy:     strPtr("client_shared"),
		Success:      false,
		ErrorMessage: strPtr("provider code 100"),
	})
	require.NoError(t, err)

	logs, err := store.ListLogs(ctx, restaurantID, 10)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	// Most recent first.
	require.Equal(t, "waba_creation", logs[0].Step)
	require.NotNil(t, logs[0].Strategy)
	require.Equal(t, "client_shared", *logs[0].Strategy)
	require.Equal(t, "token_exchange", logs[1].Step)
}

func TestChannelStoreDeleteKeepsLogs(t *testing.T) {
	t.Parallel()

	store := mustChannelStore(t)
	ctx := context.Background()
	restaurantID := uuid.New()

	_, err := store.Upsert(ctx, restaurantID, ChannelPatch{Status: strPtr("completed")})
	require.NoError(t, err)
	_, err = store.AppendLog(ctx, IntegrationLogRecord{
		RestaurantID: restaurantID,
		Step:         "polling_verification",
		Success:      true,
	})
	require.NoError(t, err)

	require.NoError(t, store.Delete(ctx, restaurantID))
	require.ErrorIs(t, store.Delete(ctx, restaurantID), ErrNotFound)

	_, err = store.Get(ctx, restaurantID)
	require.ErrorIs(t, err, ErrNotFound)

	logs, err := store.ListLogs(ctx, restaurantID, 10)
	require.NoError(t, err)
	require.Len(t, logs, 1)
}
