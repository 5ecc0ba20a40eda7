// Package service implements the WhatsApp embedded-signup provisioning
// workflow: token exchange, account discovery, multi-strategy WABA creation,
// reconciliation polling, webhook subscription and phone verification. The
// persisted channel record is the single source of truth for workflow
// progress; every entry point re-derives its next action from it.
package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Errors returned by the service layer.
var (
	ErrNotFound = errors.New("whatsapp channel not found")
)

// Status is the lifecycle state of a restaurant's WhatsApp channel.
type Status string

const (
	StatusPending                    Status = "pending"
	StatusOAuthCompleted             Status = "oauth_completed"
	StatusAccountDetected            Status = "account_detected"
	StatusAwaitingManualCreation     Status = "awaiting_manual_creation"
	StatusAwaitingNumberVerification Status = "awaiting_number_verification"
	StatusCompleted                  Status = "completed"
	StatusFailed                     Status = "failed"
)

// StatusFromString converts a stored string to Status; defaults to pending on unknown.
func StatusFromString(s string) Status {
	switch Status(s) {
	case StatusPending, StatusOAuthCompleted, StatusAccountDetected,
		StatusAwaitingManualCreation, StatusAwaitingNumberVerification,
		StatusCompleted, StatusFailed:
		return Status(s)
	default:
		return StatusPending
	}
}

// Step names the workflow steps recorded in the integration log.
type Step string

const (
	StepTokenExchange       Step = "token_exchange"
	StepEntityDiscovery     Step = "entity_discovery"
	StepAccountCreation     Step = "waba_creation"
	StepPollingVerification Step = "polling_verification"
	StepWebhookSubscription Step = "webhook_subscription"
	StepPhoneRegistration   Step = "phone_registration"
	StepVerificationRequest Step = "verification_request"
	StepNumberVerification  Step = "number_verification"
	StepCloudRegistration   Step = "cloud_api_registration"
	StepDisconnect          Step = "disconnect"
)

// Creation strategies, tried in this order. Discovery hits use the relation
// name (owned/client) as the strategy instead.
const (
	StrategyClientShared     = "client_shared"
	StrategyBusinessDirect   = "business_direct"
	StrategySolutionFallback = "solution_fallback"

	RelationOwned  = "owned"
	RelationClient = "client"
)

// Channel is the provisioning record of one restaurant's WhatsApp channel.
type Channel struct {
	RestaurantID       uuid.UUID
	Status             Status
	BusinessID         *string
	WABAID             *string
	PhoneNumberID      *string
	DisplayPhoneNumber *string // stored masked
	VerifiedName       *string
	AccessToken        *string
	TokenExpiresAt     *time.Time
	ProviderUserID     *string
	CreationStrategy   *string
	PollingAttempts    int
	LastError          *string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// ChannelPatch lists the fields an upsert may change; nil fields are left
// untouched. Pointing LastError at an empty string clears it.
type ChannelPatch struct {
	Status             *Status
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

// LogEntry is one appended audit record. Details never carry credentials or
// verification codes; the service redacts them before handing the entry to
// the repository.
type LogEntry struct {
	LogID        int64
	RestaurantID uuid.UUID
	Step         Step
	Strategy     *string
	Success      bool
	ErrorMessage *string
	Details      map[string]any
	CreatedAt    time.Time
}

// Repository abstracts persistence for channel records and their audit trail.
// Upsert is keyed by restaurant so repeated calls never create duplicates.
type Repository interface {
	Get(ctx context.Context, restaurantID uuid.UUID) (Channel, error)
	Upsert(ctx context.Context, restaurantID uuid.UUID, patch ChannelPatch) (Channel, error)
	Delete(ctx context.Context, restaurantID uuid.UUID) error
	AppendLog(ctx context.Context, entry LogEntry) error
	ListLogs(ctx context.Context, restaurantID uuid.UUID, limit int) ([]LogEntry, error)
}

func statusPtr(s Status) *Status { return &s }

func strPtr(s string) *string { return &s }

func intPtr(i int) *int { return &i }
