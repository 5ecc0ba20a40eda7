package repo

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/guiomkt/angubackend-sub001/domains/whatsapp/be/service"
)

// MemoryRepository is a simple in-memory implementation suitable for tests and
// early development.
type MemoryRepository struct {
	mu        sync.RWMutex
	channels  map[uuid.UUID]service.Channel
	logs      []service.LogEntry
	nextLogID int64
}

// NewMemoryRepository constructs a MemoryRepository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{channels: make(map[uuid.UUID]service.Channel)}
}

func (r *MemoryRepository) Get(ctx context.Context, restaurantID uuid.UUID) (service.Channel, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ch, ok := r.channels[restaurantID]
	if !ok {
		return service.Channel{}, service.ErrNotFound
	}
	return ch, nil
}

func (r *MemoryRepository) Upsert(ctx context.Context, restaurantID uuid.UUID, patch service.ChannelPatch) (service.Channel, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now().UTC()
	ch, ok := r.channels[restaurantID]
	if !ok {
		ch = service.Channel{
			RestaurantID: restaurantID,
			Status:       service.StatusPending,
			CreatedAt:    now,
		}
	}

	if patch.Status != nil {
		ch.Status = *patch.Status
	}
	if patch.BusinessID != nil {
		ch.BusinessID = patch.BusinessID
	}
	if patch.WABAID != nil {
		ch.WABAID = patch.WABAID
	}
	if patch.PhoneNumberID != nil {
		ch.PhoneNumberID = patch.PhoneNumberID
	}
	if patch.DisplayPhoneNumber != nil {
		ch.DisplayPhoneNumber = patch.DisplayPhoneNumber
	}
	if patch.VerifiedName != nil {
		ch.VerifiedName = patch.VerifiedName
	}
	if patch.AccessToken != nil {
		ch.AccessToken = patch.AccessToken
	}
	if patch.TokenExpiresAt != nil {
		ch.TokenExpiresAt = patch.TokenExpiresAt
	}
	if patch.ProviderUserID != nil {
		ch.ProviderUserID = patch.ProviderUserID
	}
	if patch.CreationStrategy != nil {
		ch.CreationStrategy = patch.CreationStrategy
	}
	if patch.PollingAttempts != nil {
		ch.PollingAttempts = *patch.PollingAttempts
	}
	if patch.LastError != nil {
		if *patch.LastError == "" {
			ch.LastError = nil
		} else {
			ch.LastError = patch.LastError
		}
	}
	ch.UpdatedAt = now

	r.channels[restaurantID] = ch
	return ch, nil
}

func (r *MemoryRepository) Delete(ctx context.Context, restaurantID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.channels[restaurantID]; !ok {
		return service.ErrNotFound
	}
	delete(r.channels, restaurantID)
	return nil
}

func (r *MemoryRepository) AppendLog(ctx context.Context, entry service.LogEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextLogID++
	entry.LogID = r.nextLogID
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	r.logs = append(r.logs, entry)
	return nil
}

func (r *MemoryRepository) ListLogs(ctx context.Context, restaurantID uuid.UUID, limit int) ([]service.LogEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if limit <= 0 {
		limit = 50
	}

	var entries []service.LogEntry
	for i := len(r.logs) - 1; i >= 0 && len(entries) < limit; i-- {
		if r.logs[i].RestaurantID == restaurantID {
			entries = append(entries, r.logs[i])
		}
	}
	return entries, nil
}

// Ensure interface compliance.
var _ service.Repository = (*MemoryRepository)(nil)
