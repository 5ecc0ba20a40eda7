package service

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"go.uber.org/zap"

	"github.com/guiomkt/angubackend-sub001/domains/whatsapp/be/graph"
	"github.com/guiomkt/angubackend-sub001/platform/go/metrics"
	"github.com/guiomkt/angubackend-sub001/platform/go/requesttrace"
)

// Mode selects how Provision treats the stored record.
type Mode string

const (
	// ModeConnect starts or restarts the workflow from a fresh authorization code.
	ModeConnect Mode = "connect"
	// ModeRefresh resumes the workflow from persisted state using the stored credential.
	ModeRefresh Mode = "refresh"
)

// RequiredScopes must all be present on an exchanged credential before the
// workflow proceeds past token exchange.
var RequiredScopes = []string{"whatsapp_business_management", "business_management"}

var verificationCodePattern = regexp.MustCompile(`^[0-9]{6}$`)

// Config tunes the workflow bounds. Zero values fall back to the production defaults.
type Config struct {
	PollAttempts int           // reconciliation poll attempts, default 10
	PollInterval time.Duration // fixed interval between poll attempts, default 3s
	CallTimeout  time.Duration // per provider call and per persistence write, default 15s
}

func (c Config) withDefaults() Config {
	if c.PollAttempts <= 0 {
		c.PollAttempts = 10
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 3 * time.Second
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = 15 * time.Second
	}
	return c
}

// Service drives the provisioning workflow. Workflow invocations are
// serialized per restaurant; status reads bypass the lock and observe the
// latest committed record.
type Service struct {
	repo      Repository
	provider  ProviderDeps
	cfg       Config
	logger    *zap.Logger
	metrics   *metrics.Metrics
	overrides *jsonschema.Schema
	locks     *keyedMutex

	// injectable for tests
	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time
}

// New constructs the Service with required dependencies. Metrics may be nil.
func New(repo Repository, provider ProviderDeps, cfg Config, logger *zap.Logger, m *metrics.Metrics) *Service {
	if repo == nil {
		panic("whatsapp repo is required")
	}
	if provider.Tokens == nil || provider.Directory == nil || provider.Creator == nil ||
		provider.Subscriber == nil || provider.Phones == nil {
		panic("all whatsapp provider deps are required")
	}
	if logger == nil {
		panic("logger is required")
	}

	return &Service{
		repo:      repo,
		provider:  provider,
		cfg:       cfg.withDefaults(),
		logger:    logger,
		metrics:   m,
		overrides: compileOverridesSchema(),
		locks:     newKeyedMutex(),
		sleep:     sleepContext,
		now:       time.Now,
	}
}

// ProvisionInput carries one workflow invocation.
type ProvisionInput struct {
	Code        string         // authorization code, required in connect mode
	AuthState   string         // correlation token issued when the signup flow started
	Mode        Mode           // defaults to connect when a code is present, refresh otherwise
	AccountName string         // default WABA display name, normally the restaurant name
	Overrides   map[string]any // validated against the overrides schema
}

// Provision runs the workflow for one restaurant, resuming from whatever the
// persisted record says was already done. It returns the channel in its final
// state for this invocation; non-terminal waits (manual creation, propagation)
// are states, not errors.
func (s *Service) Provision(ctx context.Context, restaurantID uuid.UUID, input ProvisionInput) (Channel, error) {
	if restaurantID == uuid.Nil {
		return Channel{}, stepErrf(StepTokenExchange, ClassValidation, "restaurant id is required")
	}

	mode := input.Mode
	if mode == "" {
		mode = ModeRefresh
		if input.Code != "" {
			mode = ModeConnect
		}
	}
	switch mode {
	case ModeConnect:
		if input.Code == "" {
			return Channel{}, stepErrf(StepTokenExchange, ClassValidation, "connect mode requires an authorization code")
		}
	case ModeRefresh:
		if input.Code != "" {
			return Channel{}, stepErrf(StepTokenExchange, ClassValidation, "refresh mode does not accept an authorization code")
		}
	default:
		return Channel{}, stepErrf(StepTokenExchange, ClassValidation, "unknown mode %q", mode)
	}
	if input.AuthState != "" && input.AuthState != restaurantID.String() {
		return Channel{}, stepErrf(StepTokenExchange, ClassValidation, "state token does not match the restaurant")
	}
	overrides, err := s.parseOverrides(input.Overrides)
	if err != nil {
		return Channel{}, stepErr(StepTokenExchange, ClassValidation, err)
	}

	unlock := s.locks.Lock(restaurantID)
	defer unlock()

	ch, err := s.repo.Get(ctx, restaurantID)
	switch {
	case errors.Is(err, ErrNotFound):
		ch = Channel{RestaurantID: restaurantID, Status: StatusPending}
	case err != nil:
		return Channel{}, fmt.Errorf("load channel: %w", err)
	}

	// Terminal success short-circuits before any provider call.
	if ch.Status == StatusCompleted {
		return ch, nil
	}
	if ch.Status == StatusFailed && mode != ModeConnect {
		return ch, stepErrf(StepTokenExchange, ClassValidation,
			"channel failed (%s); reconnect with a fresh authorization", deref(ch.LastError))
	}

	if mode == ModeConnect {
		if err := s.exchangeToken(ctx, &ch, input.Code); err != nil {
			return ch, err
		}
	} else if ch.AccessToken == nil {
		return ch, stepErrf(StepTokenExchange, ClassValidation,
			"no stored credential; connect with an authorization code first")
	}

	if err := s.ensureAccount(ctx, &ch, overrides, input.AccountName); err != nil {
		return ch, err
	}
	if ch.Status == StatusAwaitingManualCreation {
		return ch, nil
	}

	if err := s.subscribeApp(ctx, &ch); err != nil {
		return ch, err
	}
	if err := s.resolvePhone(ctx, &ch, overrides, input.AccountName); err != nil {
		return ch, err
	}

	return ch, nil
}

// VerifyInput carries the end-user's verification code and, optionally, the
// six-digit PIN that finalizes Cloud API registration.
type VerifyInput struct {
	Code string
	PIN  *string
}

// VerifyNumber submits the verification code for the registered number. On
// success the channel reaches its terminal state and the canonical phone
// identity is recorded.
func (s *Service) VerifyNumber(ctx context.Context, restaurantID uuid.UUID, input VerifyInput) (Channel, error) {
	if !verificationCodePattern.MatchString(input.Code) {
		return Channel{}, stepErrf(StepNumberVerification, ClassValidation, "verification code must be six digits")
	}
	if input.PIN != nil && !verificationCodePattern.MatchString(*input.PIN) {
		return Channel{}, stepErrf(StepNumberVerification, ClassValidation, "pin must be six digits")
	}

	unlock := s.locks.Lock(restaurantID)
	defer unlock()

	ch, err := s.repo.Get(ctx, restaurantID)
	if err != nil {
		return Channel{}, err
	}
	if ch.Status == StatusCompleted {
		return ch, nil
	}
	if ch.Status != StatusAwaitingNumberVerification || ch.PhoneNumberID == nil {
		return ch, stepErrf(StepNumberVerification, ClassValidation,
			"channel is %s; no number verification pending", ch.Status)
	}

	token, phoneID := deref(ch.AccessToken), *ch.PhoneNumberID

	cctx, cancel := s.callCtx(ctx)
	err = s.provider.Phones.VerifyCode(cctx, token, phoneID, input.Code)
	cancel()
	if err != nil {
		class := classify(err)
		s.audit(ctx, ch.RestaurantID, StepNumberVerification, nil, false, err,
			map[string]any{"phone_number_id": phoneID})
		return ch, stepErr(StepNumberVerification, class, err)
	}
	s.audit(ctx, ch.RestaurantID, StepNumberVerification, nil, true, nil,
		map[string]any{"phone_number_id": phoneID})

	if err := s.persist(ctx, &ch, ChannelPatch{
		Status:    statusPtr(StatusCompleted),
		LastError: strPtr(""),
	}); err != nil {
		return ch, err
	}

	// Canonical identity is best effort: verification already succeeded.
	cctx, cancel = s.callCtx(ctx)
	phone, err := s.provider.Phones.GetPhone(cctx, token, phoneID)
	cancel()
	if err != nil {
		s.logger.Warn("phone identity fetch failed",
			zap.String("restaurant_id", ch.RestaurantID.String()), zap.Error(err))
	} else {
		patch := ChannelPatch{DisplayPhoneNumber: strPtr(maskPhone(phone.DisplayPhoneNumber))}
		if phone.VerifiedName != "" {
			patch.VerifiedName = strPtr(phone.VerifiedName)
		}
		if err := s.persist(ctx, &ch, patch); err != nil {
			return ch, err
		}
	}

	if input.PIN != nil {
		cctx, cancel = s.callCtx(ctx)
		err = s.provider.Phones.EnableCloudAPI(cctx, token, phoneID, *input.PIN)
		cancel()
		s.audit(ctx, ch.RestaurantID, StepCloudRegistration, nil, err == nil, err,
			map[string]any{"phone_number_id": phoneID})
		if err != nil {
			// The channel is verified regardless; Cloud API registration can be retried.
			s.logger.Warn("cloud api registration failed",
				zap.String("restaurant_id", ch.RestaurantID.String()), zap.Error(err))
		}
	}

	return ch, nil
}

// Status returns the current channel record.
func (s *Service) Status(ctx context.Context, restaurantID uuid.UUID) (Channel, error) {
	return s.repo.Get(ctx, restaurantID)
}

// Logs returns the newest audit entries, most recent first.
func (s *Service) Logs(ctx context.Context, restaurantID uuid.UUID, limit int) ([]LogEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	if limit > 200 {
		limit = 200
	}
	return s.repo.ListLogs(ctx, restaurantID, limit)
}

// Disconnect deletes the channel record. The audit trail is retained, with a
// closing entry marking the disconnect.
func (s *Service) Disconnect(ctx context.Context, restaurantID uuid.UUID) error {
	unlock := s.locks.Lock(restaurantID)
	defer unlock()

	if err := s.repo.Delete(ctx, restaurantID); err != nil {
		return err
	}
	s.audit(ctx, restaurantID, StepDisconnect, nil, true, nil, nil)
	return nil
}

// callCtx bounds one provider call and detaches it from caller cancellation:
// an in-flight side-effecting call must be allowed to finish and be logged
// even when the invoking request has gone away.
func (s *Service) callCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), s.cfg.CallTimeout)
}

// persist applies a patch and replaces ch with the committed row. Progress is
// committed even when the caller's context died mid-step.
func (s *Service) persist(ctx context.Context, ch *Channel, patch ChannelPatch) error {
	dbCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.CallTimeout)
	defer cancel()

	updated, err := s.repo.Upsert(dbCtx, ch.RestaurantID, patch)
	if err != nil {
		return fmt.Errorf("persist channel: %w", err)
	}
	*ch = updated
	return nil
}

func (s *Service) markFailed(ctx context.Context, ch *Channel, reason string) {
	if err := s.persist(ctx, ch, ChannelPatch{
		Status:    statusPtr(StatusFailed),
		LastError: strPtr(reason),
	}); err != nil {
		s.logger.Error("mark channel failed",
			zap.String("restaurant_id", ch.RestaurantID.String()), zap.Error(err))
	}
}

// audit appends one integration log entry, win or lose. Details pass the
// redaction boundary here; the acting caller and provider error codes are
// attached for diagnosis. A failed append never interrupts the workflow.
func (s *Service) audit(ctx context.Context, restaurantID uuid.UUID, step Step, strategy *string, success bool, callErr error, details map[string]any) {
	details = redactDetails(details)
	if details == nil {
		details = make(map[string]any, 4)
	}

	actor := requesttrace.FromContextOrAnonymous(ctx)
	details["actor"] = string(actor.ActorKind)
	if actor.Caller != nil {
		details["caller"] = *actor.Caller
	}

	var errMsg *string
	if callErr != nil {
		errMsg = strPtr(callErr.Error())
		var apiErr *graph.APIError
		if errors.As(callErr, &apiErr) {
			details["provider_code"] = apiErr.Code
			if apiErr.Subcode != 0 {
				details["provider_subcode"] = apiErr.Subcode
			}
			if apiErr.TraceID != "" {
				details["provider_trace_id"] = apiErr.TraceID
			}
		}
	}

	entry := LogEntry{
		RestaurantID: restaurantID,
		Step:         step,
		Strategy:     strategy,
		Success:      success,
		ErrorMessage: errMsg,
		Details:      details,
		CreatedAt:    s.now().UTC(),
	}

	logCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.CallTimeout)
	defer cancel()
	if err := s.repo.AppendLog(logCtx, entry); err != nil {
		s.logger.Error("append integration log failed",
			zap.String("restaurant_id", restaurantID.String()),
			zap.String("step", string(step)),
			zap.Error(err))
	}

	s.metrics.RecordStep(string(step), success)
	s.logger.Debug("workflow step",
		zap.String("restaurant_id", restaurantID.String()),
		zap.String("step", string(step)),
		zap.Bool("success", success))
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func deref(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

func coalesce(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
