package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ChannelsTable holds one provisioning record per restaurant.
const ChannelsTable = "whatsapp_channels"

// IntegrationLogsTable is the append-only audit trail of provisioning steps.
const IntegrationLogsTable = "whatsapp_integration_logs"

// ChannelRecord represents the evolving WhatsApp provisioning state of one restaurant.
type ChannelRecord struct {
	RestaurantID       uuid.UUID  `db:"restaurant_id"`
	Status             string     `db:"status"`
	BusinessID         *string    `db:"business_id"`
	WABAID             *string    `db:"waba_id"`
	PhoneNumberID      *string    `db:"phone_number_id"`
	DisplayPhoneNumber *string    `db:"display_phone_number"`
	VerifiedName       *string    `db:"verified_name"`
	AccessToken        *string    `db:"access_token"`
	TokenExpiresAt     *time.Time `db:"token_expires_at"`
	ProviderUserID     *string    `db:"provider_user_id"`
	CreationStrategy   *string    `db:"creation_strategy"`
	PollingAttempts    int        `db:"polling_attempts"`
	LastError          *string    `db:"last_error"`
	CreatedAt          time.Time  `db:"created_at"`
	UpdatedAt          time.Time  `db:"updated_at"`
}

// ChannelPatch lists the fields an upsert may change; nil fields are left untouched.
// Pointing LastError at an empty string stores NULL (clears a previous failure reason).
type ChannelPatch struct {
	Status             *string
	BusinessID         *string
	WABAID             *string
	PhoneNumberID      *string
	DisplayPhoneNumber *string
	VerifiedName       *string
	AccessToken        *string
	TokenExpiresAt     *time.Time
	ProviderUserID     *string
	CreationStrategy   *string
	PollingAttempts    *int
	LastError          *string
}

// IntegrationLogRecord is one appended audit entry.
type IntegrationLogRecord struct {
	LogID        int64          `db:"log_id"`
	RestaurantID uuid.UUID      `db:"restaurant_id"`
	Step         string         `db:"step"`
	Strategy     *string        `db:"strategy"`
	Success      bool           `db:"success"`
	ErrorMessage *string        `db:"error_message"`
	Details      map[string]any `db:"details"`
	CreatedAt    time.Time      `db:"created_at"`
}

// ChannelStore provides access to the channel record and its integration log.
type ChannelStore struct {
	pool *pgxpool.Pool
}

// NewChannelStore creates a store; assumes the bootstrap DDL already ran.
func NewChannelStore(pool *pgxpool.Pool) (*ChannelStore, error) {
	if pool == nil {
		return nil, errors.New("pool is required")
	}
	return &ChannelStore{pool: pool}, nil
}

const channelColumns = `restaurant_id, status, business_id, waba_id, phone_number_id,
        display_phone_number, verified_name, access_token, token_expires_at,
        provider_user_id, creation_strategy, polling_attempts, last_error,
        created_at, updated_at`

// Get returns the channel record for a restaurant.
func (s *ChannelStore) Get(ctx context.Context, restaurantID uuid.UUID) (ChannelRecord, error) {
	query := fmt.Sprintf("SELECT %s FROM %s WHERE restaurant_id = $1", channelColumns, ChannelsTable)
	return scanChannelRecord(s.pool.QueryRow(ctx, query, restaurantID))
}

// Upsert creates or patches the single channel record of a restaurant in one
// statement. The restaurant id is the conflict key, so repeated calls can never
// produce duplicate records, and a patch is applied atomically: readers observe
// either the previous or the new committed row, never a partial write.
func (s *ChannelStore) Upsert(ctx context.Context, restaurantID uuid.UUID, patch ChannelPatch) (ChannelRecord, error) {
	if restaurantID == uuid.Nil {
		return ChannelRecord{}, errors.New("restaurant id is required")
	}

	insertCols := []string{"restaurant_id"}
	args := []any{restaurantID}
	updateSets := []string{"updated_at = now()"}

	appendField := func(column string, value any) {
		args = append(args, value)
		insertCols = append(insertCols, column)
		updateSets = append(updateSets, fmt.Sprintf("%s = EXCLUDED.%s", column, column))
	}

	if patch.Status != nil {
		appendField("status", *patch.Status)
	}
	if patch.BusinessID != nil {
		appendField("business_id", *patch.BusinessID)
	}
	if patch.WABAID != nil {
		appendField("waba_id", *patch.WABAID)
	}
	if patch.PhoneNumberID != nil {
		appendField("phone_number_id", *patch.PhoneNumberID)
	}
	if patch.DisplayPhoneNumber != nil {
		appendField("display_phone_number", *patch.DisplayPhoneNumber)
	}
	if patch.VerifiedName != nil {
		appendField("verified_name", *patch.VerifiedName)
	}
	if patch.AccessToken != nil {
		appendField("access_token", *patch.AccessToken)
	}
	if patch.TokenExpiresAt != nil {
		appendField("token_expires_at", *patch.TokenExpiresAt)
	}
	if patch.ProviderUserID != nil {
		appendField("provider_user_id", *patch.ProviderUserID)
	}
	if patch.CreationStrategy != nil {
		appendField("creation_strategy", *patch.CreationStrategy)
	}
	if patch.PollingAttempts != nil {
		appendField("polling_attempts", *patch.PollingAttempts)
	}
	if patch.LastError != nil {
		var value any
		if *patch.LastError != "" {
			value = *patch.LastError
		}
		appendField("last_error", value)
	}

	placeholders := make([]string, len(insertCols))
	for i := range insertCols {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}

	query := fmt.Sprintf(`
        INSERT INTO %s (%s)
        VALUES (%s)
        ON CONFLICT (restaurant_id) DO UPDATE SET %s
        RETURNING %s
    `, ChannelsTable, strings.Join(insertCols, ", "), strings.Join(placeholders, ", "),
		strings.Join(updateSets, ", "), channelColumns)

	return scanChannelRecord(s.pool.QueryRow(ctx, query, args...))
}

// Delete removes the channel record (the disconnect path). The integration log
// is deliberately retained.
func (s *ChannelStore) Delete(ctx context.Context, restaurantID uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, fmt.Sprintf("DELETE FROM %s WHERE restaurant_id = $1", ChannelsTable), restaurantID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// AppendLog inserts one audit entry and returns it with its assigned id.
func (s *ChannelStore) AppendLog(ctx context.Context, rec IntegrationLogRecord) (IntegrationLogRecord, error) {
	if rec.RestaurantID == uuid.Nil {
		return IntegrationLogRecord{}, errors.New("restaurant id is required")
	}
	if rec.Step == "" {
		return IntegrationLogRecord{}, errors.New("step is required")
	}

	details := rec.Details
	if details == nil {
		details = map[string]any{}
	}
	detailsJSON, err := json.Marshal(details)
	if err != nil {
		return IntegrationLogRecord{}, fmt.Errorf("encode log details: %w", err)
	}

	query := fmt.Sprintf(`
        INSERT INTO %s (restaurant_id, step, strategy, success, error_message, details)
        VALUES ($1, $2, $3, $4, $5, $6)
        RETURNING log_id, restaurant_id, step, strategy, success, error_message, details, created_at
    `, IntegrationLogsTable)

	row := s.pool.QueryRow(ctx, query, rec.RestaurantID, rec.Step, rec.Strategy, rec.Success, rec.ErrorMessage, detailsJSON)
	return scanIntegrationLogRecord(row)
}

// ListLogs returns the newest entries for a restaurant, most recent first.
func (s *ChannelStore) ListLogs(ctx context.Context, restaurantID uuid.UUID, limit int) ([]IntegrationLogRecord, error) {
	if limit <= 0 {
		limit = 50
	}

	query := fmt.Sprintf(`
        SELECT log_id, restaurant_id, step, strategy, success, error_message, details, created_at
        FROM %s
        WHERE restaurant_id = $1
        ORDER BY log_id DESC
        LIMIT %d
    `, IntegrationLogsTable, limit)

	rows, err := s.pool.Query(ctx, query, restaurantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []IntegrationLogRecord
	for rows.Next() {
		rec, err := scanIntegrationLogRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}

	return records, rows.Err()
}

func scanChannelRecord(row pgx.Row) (ChannelRecord, error) {
	var rec ChannelRecord
	if err := row.Scan(&rec.RestaurantID, &rec.Status, &rec.BusinessID, &rec.WABAID,
		&rec.PhoneNumberID, &rec.DisplayPhoneNumber, &rec.VerifiedName, &rec.AccessToken,
		&rec.TokenExpiresAt, &rec.ProviderUserID, &rec.CreationStrategy,
		&rec.PollingAttempts, &rec.LastError, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ChannelRecord{}, ErrNotFound
		}
		return ChannelRecord{}, err
	}
	return rec, nil
}

func scanIntegrationLogRecord(row pgx.Row) (IntegrationLogRecord, error) {
	var rec IntegrationLogRecord
	var detailsJSON []byte
	if err := row.Scan(&rec.LogID, &rec.RestaurantID, &rec.Step, &rec.Strategy,
		&rec.Success, &rec.ErrorMessage, &detailsJSON, &rec.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return IntegrationLogRecord{}, ErrNotFound
		}
		return IntegrationLogRecord{}, err
	}
	if len(detailsJSON) > 0 {
		if err := json.Unmarshal(detailsJSON, &rec.Details); err != nil {
			return IntegrationLogRecord{}, fmt.Errorf("decode log details: %w", err)
		}
	}
	return rec, nil
}
