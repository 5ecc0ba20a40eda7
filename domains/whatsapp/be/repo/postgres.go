package repo

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/guiomkt/angubackend-sub001/domains/whatsapp/be/service"
	"github.com/guiomkt/angubackend-sub001/platform/go/persistence"
)

// PostgresRepository implements the channel repository over the shared
// persistence layer.
type PostgresRepository struct {
	store *persistence.ChannelStore
}

// NewPostgresRepository constructs a repository backed by ChannelStore.
func NewPostgresRepository(store *persistence.ChannelStore) *PostgresRepository {
	if store == nil {
		panic("channel store is required")
	}
	return &PostgresRepository{store: store}
}

func (r *PostgresRepository) Get(ctx context.Context, restaurantID uuid.UUID) (service.Channel, error) {
	rec, err := r.store.Get(ctx, restaurantID)
	if err != nil {
		return service.Channel{}, mapNotFound(err)
	}
	return toServiceChannel(rec), nil
}

func (r *PostgresRepository) Upsert(ctx context.Context, restaurantID uuid.UUID, patch service.ChannelPatch) (service.Channel, error) {
	rec, err := r.store.Upsert(ctx, restaurantID, toStorePatch(patch))
	if err != nil {
		return service.Channel{}, err
	}
	return toServiceChannel(rec), nil
}

func (r *PostgresRepository) Delete(ctx context.Context, restaurantID uuid.UUID) error {
	return mapNotFound(r.store.Delete(ctx, restaurantID))
}

func (r *PostgresRepository) AppendLog(ctx context.Context, entry service.LogEntry) error {
	_, err := r.store.AppendLog(ctx, persistence.IntegrationLogRecord{
		RestaurantID: entry.RestaurantID,
		Step:         string(entry.Step),
		Strategy:     entry.Strategy,
		Success:      entry.Success,
		ErrorMessage: entry.ErrorMessage,
		Details:      entry.Details,
	})
	return err
}

func (r *PostgresRepository) ListLogs(ctx context.Context, restaurantID uuid.UUID, limit int) ([]service.LogEntry, error) {
	records, err := r.store.ListLogs(ctx, restaurantID, limit)
	if err != nil {
		return nil, err
	}
	entries := make([]service.LogEntry, 0, len(records))
	for _, rec := range records {
		entries = append(entries, service.LogEntry{
			LogID:        rec.LogID,
			RestaurantID: rec.RestaurantID,
			Step:         service.Step(rec.Step),
			Strategy:     rec.Strategy,
			Success:      rec.Success,
			ErrorMessage: rec.ErrorMessage,
			Details:      rec.Details,
			CreatedAt:    rec.CreatedAt,
		})
	}
	return entries, nil
}

func toStorePatch(patch service.ChannelPatch) persistence.ChannelPatch {
	out := persistence.ChannelPatch{
		BusinessID:         patch.BusinessID,
		WABAID:             patch.WABAID,
		PhoneNumberID:      patch.PhoneNumberID,
		DisplayPhoneNumber: patch.DisplayPhoneNumber,
		VerifiedName:       patch.VerifiedName,
		AccessToken:        patch.AccessToken,
		TokenExpiresAt:     patch.TokenExpiresAt,
		ProviderUserID:     patch.ProviderUserID,
		CreationStrategy:   patch.CreationStrategy,
		PollingAttempts:    patch.PollingAttempts,
		LastError:          patch.LastError,
	}
	if patch.Status != nil {
		s := string(*patch.Status)
		out.Status = &s
	}
	return out
}

func toServiceChannel(rec persistence.ChannelRecord) service.Channel {
	return service.Channel{
		RestaurantID:       rec.RestaurantID,
		Status:             service.StatusFromString(rec.Status),
		BusinessID:         rec.BusinessID,
		WABAID:             rec.WABAID,
		PhoneNumberID:      rec.PhoneNumberID,
		DisplayPhoneNumber: rec.DisplayPhoneNumber,
		VerifiedName:       rec.VerifiedName,
		AccessToken:        rec.AccessToken,
		TokenExpiresAt:     rec.TokenExpiresAt,
		ProviderUserID:     rec.ProviderUserID,
		CreationStrategy:   rec.CreationStrategy,
		PollingAttempts:    rec.PollingAttempts,
		LastError:          rec.LastError,
		CreatedAt:          rec.CreatedAt,
		UpdatedAt:          rec.UpdatedAt,
	}
}

func mapNotFound(err error) error {
	if errors.Is(err, persistence.ErrNotFound) {
		return service.ErrNotFound
	}
	return err
}

// Ensure interface compliance.
var _ service.Repository = (*PostgresRepository)(nil)
