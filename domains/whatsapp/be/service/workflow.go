package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/guiomkt/angubackend-sub001/domains/whatsapp/be/graph"
)

// exchangeToken swaps the authorization code for a bearer credential,
// verifies the required grants via introspection and resolves the authorizing
// user. The channel record is created here on a restaurant's first run.
func (s *Service) exchangeToken(ctx context.Context, ch *Channel, code string) error {
	if ch.CreatedAt.IsZero() {
		if err := s.persist(ctx, ch, ChannelPatch{Status: statusPtr(StatusPending)}); err != nil {
			return err
		}
	}

	start := time.Now()
	cctx, cancel := s.callCtx(ctx)
	grant, err := s.provider.Tokens.ExchangeCode(cctx, code)
	cancel()
	if err != nil {
		class := classify(err)
		s.audit(ctx, ch.RestaurantID, StepTokenExchange, nil, false, err,
			map[string]any{"latency_ms": time.Since(start).Milliseconds()})
		if hardStop(class) {
			s.markFailed(ctx, ch, "authorization code rejected by provider")
		}
		return stepErr(StepTokenExchange, class, err)
	}

	cctx, cancel = s.callCtx(ctx)
	info, err := s.provider.Tokens.Introspect(cctx, grant.AccessToken)
	cancel()
	if err != nil {
		class := classify(err)
		s.audit(ctx, ch.RestaurantID, StepTokenExchange, nil, false, err,
			map[string]any{"latency_ms": time.Since(start).Milliseconds()})
		if hardStop(class) {
			s.markFailed(ctx, ch, "credential introspection rejected")
		}
		return stepErr(StepTokenExchange, class, err)
	}

	if !info.Valid {
		err := stepErrf(StepTokenExchange, ClassPermission, "provider reports the credential as invalid")
		s.audit(ctx, ch.RestaurantID, StepTokenExchange, nil, false, err, nil)
		s.markFailed(ctx, ch, "credential reported invalid; re-authorization required")
		return err
	}
	if missing := missingScopes(info.Scopes); len(missing) > 0 {
		err := stepErrf(StepTokenExchange, ClassPermission, "credential lacks required grants: %v", missing)
		s.audit(ctx, ch.RestaurantID, StepTokenExchange, nil, false, err,
			map[string]any{"scopes": info.Scopes, "missing": missing})
		s.markFailed(ctx, ch, "authorization lacks required grants; re-authorize with full permissions")
		return err
	}

	userID := info.UserID
	cctx, cancel = s.callCtx(ctx)
	user, err := s.provider.Tokens.CurrentUser(cctx, grant.AccessToken)
	cancel()
	if err != nil {
		s.logger.Warn("provider user lookup failed",
			zap.String("restaurant_id", ch.RestaurantID.String()), zap.Error(err))
	} else if user.ID != "" {
		userID = user.ID
	}

	expiry := grant.ExpiresAt
	if expiry == nil {
		expiry = info.ExpiresAt
	}

	s.audit(ctx, ch.RestaurantID, StepTokenExchange, nil, true, nil, map[string]any{
		"provider_user_id": userID,
		"scopes":           info.Scopes,
		"latency_ms":       time.Since(start).Milliseconds(),
	})

	patch := ChannelPatch{
		Status:      statusPtr(StatusOAuthCompleted),
		AccessToken: strPtr(grant.AccessToken),
		LastError:   strPtr(""),
	}
	if expiry != nil {
		patch.TokenExpiresAt = expiry
	}
	if userID != "" {
		patch.ProviderUserID = strPtr(userID)
	}
	return s.persist(ctx, ch, patch)
}

func missingScopes(granted []string) []string {
	have := make(map[string]struct{}, len(granted))
	for _, scope := range granted {
		have[scope] = struct{}{}
	}
	var missing []string
	for _, required := range RequiredScopes {
		if _, ok := have[required]; !ok {
			missing = append(missing, required)
		}
	}
	return missing
}

// discoveryHit is the transient result of a successful account discovery.
type discoveryHit struct {
	businessID string
	accountID  string
	relation   string
}

// ensureAccount resolves the channel's WABA: discovery first, then the
// creation strategies and the reconciliation poll. It is a no-op once the
// account is detected.
func (s *Service) ensureAccount(ctx context.Context, ch *Channel, ov Overrides, accountName string) error {
	if ch.Status != StatusOAuthCompleted && ch.Status != StatusAwaitingManualCreation {
		return nil
	}
	token := deref(ch.AccessToken)

	entities := s.candidateEntities(ctx, ch, ov, token)

	if hit := s.discoverAccount(ctx, ch, token, entities); hit != nil {
		s.audit(ctx, ch.RestaurantID, StepEntityDiscovery, strPtr(hit.relation), true, nil,
			map[string]any{"business_id": hit.businessID, "account_id": hit.accountID})
		return s.persist(ctx, ch, ChannelPatch{
			Status:     statusPtr(StatusAccountDetected),
			BusinessID: strPtr(hit.businessID),
			WABAID:     strPtr(hit.accountID),
			LastError:  strPtr(""),
		})
	}
	s.audit(ctx, ch.RestaurantID, StepEntityDiscovery, nil, true, nil,
		map[string]any{"found": false, "entities_checked": len(entities)})

	if err := ctx.Err(); err != nil {
		return stepErr(StepEntityDiscovery, ClassTimeout, err)
	}

	if ch.WABAID != nil {
		// Creation was already accepted; only provider-side visibility is pending.
		if ch.Status == StatusAwaitingManualCreation {
			return nil
		}
		found, err := s.pollForAccount(ctx, ch, deref(ch.BusinessID))
		if err != nil || found {
			return err
		}
		return nil
	}

	target := deref(ov.BusinessID)
	if target == "" {
		target = deref(ch.BusinessID)
	}
	if target == "" && len(entities) > 0 {
		target = entities[0].ID
	}
	if target == "" {
		if err := s.persist(ctx, ch, ChannelPatch{
			Status:    statusPtr(StatusAwaitingManualCreation),
			LastError: strPtr("no business entity visible to the authorized user; create the account manually or re-authorize"),
		}); err != nil {
			return err
		}
		return nil
	}

	// Bind the target entity before creating so a resumed run aims at the same one.
	if err := s.persist(ctx, ch, ChannelPatch{BusinessID: strPtr(target)}); err != nil {
		return err
	}

	name := coalesce(deref(ov.DisplayName), accountName, "WhatsApp Business")
	created, err := s.createAccount(ctx, ch, target, name)
	if err != nil || !created {
		return err
	}

	_, err = s.pollForAccount(ctx, ch, target)
	return err
}

// candidateEntities returns the business entities discovery should search:
// the caller-pinned or previously bound entity, or everything the user controls.
func (s *Service) candidateEntities(ctx context.Context, ch *Channel, ov Overrides, token string) []graph.Business {
	if ov.BusinessID != nil {
		return []graph.Business{{ID: *ov.BusinessID}}
	}
	if ch.BusinessID != nil {
		return []graph.Business{{ID: *ch.BusinessID}}
	}

	cctx, cancel := s.callCtx(ctx)
	businesses, err := s.provider.Directory.ListBusinesses(cctx, token)
	cancel()
	if err != nil {
		s.audit(ctx, ch.RestaurantID, StepEntityDiscovery, nil, false, err,
			map[string]any{"query": "business_entities"})
		return nil
	}
	return businesses
}

// discoverAccount searches each entity in list order, owned relation first,
// client relation only when owned is empty. The first non-empty result wins.
// A failing query is logged and the search moves to the next entity.
func (s *Service) discoverAccount(ctx context.Context, ch *Channel, token string, entities []graph.Business) *discoveryHit {
	wantID := deref(ch.WABAID)

	for _, entity := range entities {
		if ctx.Err() != nil {
			return nil
		}

		cctx, cancel := s.callCtx(ctx)
		accounts, err := s.provider.Directory.ListOwnedAccounts(cctx, token, entity.ID)
		cancel()
		if err != nil {
			s.audit(ctx, ch.RestaurantID, StepEntityDiscovery, strPtr(RelationOwned), false, err,
				map[string]any{"business_id": entity.ID})
			continue
		}
		relation := RelationOwned

		if len(accounts) == 0 {
			cctx, cancel = s.callCtx(ctx)
			accounts, err = s.provider.Directory.ListClientAccounts(cctx, token, entity.ID)
			cancel()
			if err != nil {
				s.audit(ctx, ch.RestaurantID, StepEntityDiscovery, strPtr(RelationClient), false, err,
					map[string]any{"business_id": entity.ID})
				continue
			}
			relation = RelationClient
		}

		if len(accounts) > 0 {
			return &discoveryHit{
				businessID: entity.ID,
				accountID:  pickAccount(accounts, wantID),
				relation:   relation,
			}
		}
	}
	return nil
}

// pickAccount prefers a previously recorded account id when the provider
// lists it, otherwise the first listed account.
func pickAccount(accounts []graph.Account, wantID string) string {
	if wantID != "" {
		for _, account := range accounts {
			if account.ID == wantID {
				return wantID
			}
		}
	}
	return accounts[0].ID
}

// createAccount runs the creation strategies in priority order. A
// non-retryable failure moves to the next strategy immediately; a transient
// failure earns one retry first. Exhaustion parks the channel in
// awaiting_manual_creation and reports (false, nil): the automated path
// failed, the integration did not.
func (s *Service) createAccount(ctx context.Context, ch *Channel, targetBusinessID, name string) (bool, error) {
	strategies := []struct {
		name string
		call func(context.Context) (string, error)
	}{
		{StrategyClientShared, func(cctx context.Context) (string, error) {
			return s.provider.Creator.CreateClientAccount(cctx, targetBusinessID, name)
		}},
		{StrategyBusinessDirect, func(cctx context.Context) (string, error) {
			return s.provider.Creator.CreateDirectAccount(cctx, targetBusinessID, name)
		}},
		{StrategySolutionFallback, func(cctx context.Context) (string, error) {
			return s.provider.Creator.CreateSolutionAccount(cctx, targetBusinessID, name)
		}},
	}

	for _, strategy := range strategies {
		for attempt := 1; attempt <= 2; attempt++ {
			if err := ctx.Err(); err != nil {
				return false, stepErr(StepAccountCreation, ClassTimeout, err)
			}

			start := time.Now()
			cctx, cancel := s.callCtx(ctx)
			accountID, err := strategy.call(cctx)
			cancel()
			latency := time.Since(start).Milliseconds()

			if err == nil {
				s.audit(ctx, ch.RestaurantID, StepAccountCreation, strPtr(strategy.name), true, nil,
					map[string]any{"account_id": accountID, "business_id": targetBusinessID, "latency_ms": latency})
				if err := s.persist(ctx, ch, ChannelPatch{
					WABAID:           strPtr(accountID),
					CreationStrategy: strPtr(strategy.name),
					LastError:        strPtr(""),
				}); err != nil {
					return false, err
				}
				return true, nil
			}

			class := classify(err)
			s.audit(ctx, ch.RestaurantID, StepAccountCreation, strPtr(strategy.name), false, err,
				map[string]any{"business_id": targetBusinessID, "latency_ms": latency, "attempt": attempt})

			if !retryable(class) || attempt == 2 {
				break
			}
		}
	}

	if err := s.persist(ctx, ch, ChannelPatch{
		Status:    statusPtr(StatusAwaitingManualCreation),
		LastError: strPtr("automated account creation exhausted all strategies; retry later or create the account manually"),
	}); err != nil {
		return false, err
	}
	return false, nil
}

// pollForAccount re-runs the relation queries against the creation target on
// a fixed schedule until the new account becomes visible. Exhaustion is a
// timeout, not a failure: the channel parks in awaiting_manual_creation and a
// later refresh picks it up once the provider view is consistent.
func (s *Service) pollForAccount(ctx context.Context, ch *Channel, businessID string) (bool, error) {
	token := deref(ch.AccessToken)

	for attempt := 1; attempt <= s.cfg.PollAttempts; attempt++ {
		if attempt > 1 {
			if err := s.sleep(ctx, s.cfg.PollInterval); err != nil {
				return false, stepErr(StepPollingVerification, ClassTimeout, err)
			}
		}

		accountID, found, err := s.pollQuery(ctx, token, businessID, deref(ch.WABAID))
		if err != nil {
			s.audit(ctx, ch.RestaurantID, StepPollingVerification, nil, false, err,
				map[string]any{"attempt": attempt, "business_id": businessID})
		} else {
			details := map[string]any{"attempt": attempt, "found": found}
			if found {
				details["account_id"] = accountID
			}
			s.audit(ctx, ch.RestaurantID, StepPollingVerification, nil, true, nil, details)
		}
		if perr := s.persist(ctx, ch, ChannelPatch{PollingAttempts: intPtr(attempt)}); perr != nil {
			return false, perr
		}

		if found {
			s.metrics.RecordPollAttempts(attempt)
			return true, s.persist(ctx, ch, ChannelPatch{
				Status:    statusPtr(StatusAccountDetected),
				WABAID:    strPtr(accountID),
				LastError: strPtr(""),
			})
		}
	}

	if err := s.persist(ctx, ch, ChannelPatch{
		Status:    statusPtr(StatusAwaitingManualCreation),
		LastError: strPtr("account creation accepted but not yet visible; still processing, refresh later"),
	}); err != nil {
		return false, err
	}
	return false, nil
}

// pollQuery runs one poll attempt: owned relation, then client when owned is empty.
func (s *Service) pollQuery(ctx context.Context, token, businessID, wantID string) (string, bool, error) {
	cctx, cancel := s.callCtx(ctx)
	accounts, err := s.provider.Directory.ListOwnedAccounts(cctx, token, businessID)
	cancel()
	if err != nil {
		return "", false, err
	}
	if len(accounts) == 0 {
		cctx, cancel = s.callCtx(ctx)
		accounts, err = s.provider.Directory.ListClientAccounts(cctx, token, businessID)
		cancel()
		if err != nil {
			return "", false, err
		}
	}
	if len(accounts) == 0 {
		return "", false, nil
	}
	return pickAccount(accounts, wantID), true, nil
}

// subscribeApp attaches the app to the WABA's event stream. It runs on every
// resumed invocation; the provider treats re-subscription as already done.
// Failures are upstream errors: logged, surfaced, retried on the next run.
func (s *Service) subscribeApp(ctx context.Context, ch *Channel) error {
	if ch.Status != StatusAccountDetected && ch.Status != StatusAwaitingNumberVerification {
		return nil
	}

	start := time.Now()
	cctx, cancel := s.callCtx(ctx)
	already, err := s.provider.Subscriber.Subscribe(cctx, deref(ch.AccessToken), deref(ch.WABAID))
	cancel()
	if err != nil {
		s.audit(ctx, ch.RestaurantID, StepWebhookSubscription, nil, false, err,
			map[string]any{"account_id": deref(ch.WABAID), "latency_ms": time.Since(start).Milliseconds()})
		return stepErr(StepWebhookSubscription, ClassUpstreamError, err)
	}

	s.audit(ctx, ch.RestaurantID, StepWebhookSubscription, nil, true, nil,
		map[string]any{"account_id": deref(ch.WABAID), "already_subscribed": already})
	return nil
}

// resolvePhone drives the phone phase: register a caller-supplied number, or
// adopt a number the signup flow already attached to the account.
func (s *Service) resolvePhone(ctx context.Context, ch *Channel, ov Overrides, accountName string) error {
	if ch.Status != StatusAccountDetected && ch.Status != StatusAwaitingNumberVerification {
		return nil
	}

	if ov.PhoneNumber == nil {
		if ch.PhoneNumberID != nil {
			// Registered on a previous run; waiting for the verification code.
			return nil
		}
		return s.adoptExistingPhone(ctx, ch)
	}
	return s.registerPhone(ctx, ch, ov, accountName)
}

// adoptExistingPhone picks up a number already attached to the WABA, e.g. one
// registered client-side during embedded signup. An already verified number
// completes the channel outright.
func (s *Service) adoptExistingPhone(ctx context.Context, ch *Channel) error {
	token, waba := deref(ch.AccessToken), deref(ch.WABAID)

	cctx, cancel := s.callCtx(ctx)
	phones, err := s.provider.Phones.ListPhones(cctx, token, waba)
	cancel()
	if err != nil {
		class := classify(err)
		s.audit(ctx, ch.RestaurantID, StepPhoneRegistration, strPtr("existing"), false, err,
			map[string]any{"account_id": waba})
		return stepErr(StepPhoneRegistration, class, err)
	}
	if len(phones) == 0 {
		// Nothing to adopt; the channel waits at account_detected until the
		// caller supplies a number.
		return nil
	}

	phone := phones[0]
	s.audit(ctx, ch.RestaurantID, StepPhoneRegistration, strPtr("existing"), true, nil, map[string]any{
		"phone_number_id":      phone.ID,
		"display_phone_number": phone.DisplayPhoneNumber,
		"verification_status":  phone.VerificationStatus,
	})

	patch := ChannelPatch{
		PhoneNumberID:      strPtr(phone.ID),
		DisplayPhoneNumber: strPtr(maskPhone(phone.DisplayPhoneNumber)),
		Status:             statusPtr(StatusAwaitingNumberVerification),
	}
	if phone.VerifiedName != "" {
		patch.VerifiedName = strPtr(phone.VerifiedName)
	}
	if phone.VerificationStatus == "VERIFIED" {
		patch.Status = statusPtr(StatusCompleted)
		patch.LastError = strPtr("")
	}
	return s.persist(ctx, ch, patch)
}

// registerPhone registers the caller-supplied number and requests the SMS
// verification code. Re-running it is safe: registration is idempotent and a
// repeated call simply requests a fresh code.
func (s *Service) registerPhone(ctx context.Context, ch *Channel, ov Overrides, accountName string) error {
	token, waba := deref(ch.AccessToken), deref(ch.WABAID)
	countryCode, national := splitE164(*ov.PhoneNumber)
	displayName := coalesce(deref(ov.DisplayName), deref(ch.VerifiedName), accountName, "WhatsApp Business")

	start := time.Now()
	cctx, cancel := s.callCtx(ctx)
	result, err := s.provider.Phones.RegisterPhone(cctx, token, waba, countryCode, national, displayName)
	cancel()
	if err != nil {
		class := classify(err)
		s.audit(ctx, ch.RestaurantID, StepPhoneRegistration, strPtr("registered"), false, err,
			map[string]any{"phone_number": *ov.PhoneNumber, "latency_ms": time.Since(start).Milliseconds()})
		return stepErr(StepPhoneRegistration, class, err)
	}
	s.audit(ctx, ch.RestaurantID, StepPhoneRegistration, strPtr("registered"), true, nil, map[string]any{
		"phone_number_id":    result.PhoneID,
		"phone_number":       *ov.PhoneNumber,
		"already_registered": result.AlreadyRegistered,
		"latency_ms":         time.Since(start).Milliseconds(),
	})

	if err := s.persist(ctx, ch, ChannelPatch{
		PhoneNumberID:      strPtr(result.PhoneID),
		DisplayPhoneNumber: strPtr(maskPhone(*ov.PhoneNumber)),
		Status:             statusPtr(StatusAwaitingNumberVerification),
	}); err != nil {
		return err
	}

	if result.AlreadyRegistered {
		cctx, cancel = s.callCtx(ctx)
		phone, err := s.provider.Phones.GetPhone(cctx, token, result.PhoneID)
		cancel()
		if err == nil && phone.VerificationStatus == "VERIFIED" {
			patch := ChannelPatch{
				Status:             statusPtr(StatusCompleted),
				DisplayPhoneNumber: strPtr(maskPhone(phone.DisplayPhoneNumber)),
				LastError:          strPtr(""),
			}
			if phone.VerifiedName != "" {
				patch.VerifiedName = strPtr(phone.VerifiedName)
			}
			return s.persist(ctx, ch, patch)
		}
	}

	cctx, cancel = s.callCtx(ctx)
	err = s.provider.Phones.RequestCode(cctx, token, result.PhoneID, "")
	cancel()
	if err != nil {
		class := classify(err)
		s.audit(ctx, ch.RestaurantID, StepVerificationRequest, nil, false, err,
			map[string]any{"phone_number_id": result.PhoneID})
		return stepErr(StepVerificationRequest, class, err)
	}
	s.audit(ctx, ch.RestaurantID, StepVerificationRequest, nil, true, nil,
		map[string]any{"phone_number_id": result.PhoneID})
	return nil
}
