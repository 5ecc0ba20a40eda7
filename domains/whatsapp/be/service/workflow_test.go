package service

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/guiomkt/angubackend-sub001/domains/whatsapp/be/graph"
	"github.com/guiomkt/angubackend-sub001/platform/go/requesttrace"
)

func TestProvisionRequiresBothScopes(t *testing.T) {
	t.Parallel()

	repo := newMemRepo()
	stub := newProviderStub()
	stub.introspect = func(token string) (graph.TokenInfo, error) {
		return graph.TokenInfo{Valid: true, Scopes: []string{"whatsapp_business_management"}, UserID: "usr_1"}, nil
	}
	svc := newTestService(t, repo, stub)
	restaurantID := uuid.New()

	ch, err := svc.Provision(context.Background(), restaurantID, connectInput("abc"))
	require.Error(t, err)

	var stepError *StepError
	require.ErrorAs(t, err, &stepError)
	assert.Equal(t, ClassPermission, stepError.Class)
	assert.Equal(t, StepTokenExchange, stepError.Step)

	assert.Equal(t, StatusFailed, ch.Status)
	stored, err := repo.Get(context.Background(), restaurantID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, stored.Status)
	require.NotNil(t, stored.LastError)
	assert.Contains(t, *stored.LastError, "re-authorize")

	assert.Zero(t, stub.callCount("list_businesses"), "discovery must not run without the required grants")

	entries := repo.entries(StepTokenExchange)
	require.NotEmpty(t, entries)
	assert.False(t, entries[len(entries)-1].Success)
}

func TestProvisionRejectsMismatchedStateToken(t *testing.T) {
	t.Parallel()

	repo := newMemRepo()
	stub := newProviderStub()
	svc := newTestService(t, repo, stub)

	input := connectInput("abc")
	input.AuthState = uuid.NewString()

	_, err := svc.Provision(context.Background(), uuid.New(), input)
	require.Error(t, err)
	assert.Equal(t, ClassValidation, ClassOf(err))
	assert.Zero(t, stub.total(), "input validation happens before any provider call")
}

func TestProvisionValidatesOverrides(t *testing.T) {
	t.Parallel()

	repo := newMemRepo()
	stub := newProviderStub()
	svc := newTestService(t, repo, stub)

	input := connectInput("abc")
	input.Overrides = map[string]any{"phone_number": "11999990000"} // missing +CC

	_, err := svc.Provision(context.Background(), uuid.New(), input)
	require.Error(t, err)
	assert.Equal(t, ClassValidation, ClassOf(err))
	assert.Zero(t, stub.total())

	input.Overrides = map[string]any{"unexpected": true}
	_, err = svc.Provision(context.Background(), uuid.New(), input)
	require.Error(t, err)
	assert.Equal(t, ClassValidation, ClassOf(err))
}

func TestProvisionWithoutVisibleBusinessParksForManualCreation(t *testing.T) {
	t.Parallel()

	repo := newMemRepo()
	stub := newProviderStub()
	stub.listBusinesses = func(token string) ([]graph.Business, error) {
		return nil, nil
	}
	svc := newTestService(t, repo, stub)

	ch, err := svc.Provision(context.Background(), uuid.New(), connectInput("abc"))
	require.NoError(t, err)

	assert.Equal(t, StatusAwaitingManualCreation, ch.Status)
	require.NotNil(t, ch.LastError)
	assert.Contains(t, *ch.LastError, "no business entity")
	assert.Zero(t, stub.callCount("create_client"))
}

func TestRefreshFromManualCreationWaitDetectsAccount(t *testing.T) {
	t.Parallel()

	repo := newMemRepo()
	restaurantID := uuid.New()
	_, err := repo.Upsert(context.Background(), restaurantID, ChannelPatch{
		Status:      statusPtr(StatusAwaitingManualCreation),
		AccessToken: strPtr("tok_stored"),
		BusinessID:  strPtr("biz_1"),
		WABAID:      strPtr("acct_5"),
	})
	require.NoError(t, err)

	stub := newProviderStub()
	stub.listOwned = func(businessID string) ([]graph.Account, error) {
		return []graph.Account{{ID: "acct_5"}}, nil
	}
	svc := newTestService(t, repo, stub)

	ch, err := svc.Provision(context.Background(), restaurantID, ProvisionInput{Mode: ModeRefresh})
	require.NoError(t, err)

	assert.Equal(t, StatusAccountDetected, ch.Status)
	require.NotNil(t, ch.WABAID)
	assert.Equal(t, "acct_5", *ch.WABAID)
	assert.Zero(t, stub.callCount("exchange_code"), "refresh reuses the stored credential")
	assert.Zero(t, stub.callCount("create_client"), "a known account is never re-created")
}

func TestRefreshWithoutStoredCredentialFails(t *testing.T) {
	t.Parallel()

	repo := newMemRepo()
	stub := newProviderStub()
	svc := newTestService(t, repo, stub)

	_, err := svc.Provision(context.Background(), uuid.New(), ProvisionInput{Mode: ModeRefresh})
	require.Error(t, err)
	assert.Equal(t, ClassValidation, ClassOf(err))
	assert.Zero(t, stub.total())
}

func TestFailedChannelRequiresReconnect(t *testing.T) {
	t.Parallel()

	repo := newMemRepo()
	restaurantID := uuid.New()
	_, err := repo.Upsert(context.Background(), restaurantID, ChannelPatch{
		Status:    statusPtr(StatusFailed),
		LastError: strPtr("authorization lacks required grants"),
	})
	require.NoError(t, err)

	stub := newProviderStub()
	svc := newTestService(t, repo, stub)

	_, err = svc.Provision(context.Background(), restaurantID, ProvisionInput{Mode: ModeRefresh})
	require.Error(t, err)
	assert.Equal(t, ClassValidation, ClassOf(err))

	// A fresh authorization restarts the workflow from token exchange.
	stub.listOwned = func(businessID string) ([]graph.Account, error) {
		return []graph.Account{{ID: "acct_1"}}, nil
	}
	ch, err := svc.Provision(context.Background(), restaurantID, connectInput("xyz"))
	require.NoError(t, err)
	assert.Equal(t, StatusAccountDetected, ch.Status)
	assert.Nil(t, ch.LastError)
}

func TestSubscriptionFailureSurfacesButStaysResumable(t *testing.T) {
	t.Parallel()

	repo := newMemRepo()
	stub := newProviderStub()
	stub.listOwned = func(businessID string) ([]graph.Account, error) {
		return []graph.Account{{ID: "acct_1"}}, nil
	}
	stub.subscribe = func(accountID string) (bool, error) {
		return false, &graph.APIError{Status: 500, Code: 2, Message: "transient failure"}
	}
	svc := newTestService(t, repo, stub)
	restaurantID := uuid.New()

	ch, err := svc.Provision(context.Background(), restaurantID, connectInput("abc"))
	require.Error(t, err)
	assert.Equal(t, ClassUpstreamError, ClassOf(err))
	assert.Equal(t, StatusAccountDetected, ch.Status, "subscription failure leaves a resumable state")

	entries := repo.entries(StepWebhookSubscription)
	require.Len(t, entries, 1)
	assert.False(t, entries[0].Success)

	// The next invocation retries the subscription and completes the phase.
	stub.subscribe = nil
	ch, err = svc.Provision(context.Background(), restaurantID, ProvisionInput{Mode: ModeRefresh})
	require.NoError(t, err)
	assert.Equal(t, StatusAccountDetected, ch.Status)
	assert.Equal(t, 2, stub.callCount("subscribe"))
}

func TestAdoptsVerifiedPhoneFromSignupFlow(t *testing.T) {
	t.Parallel()

	repo := newMemRepo()
	stub := newProviderStub()
	stub.listOwned = func(businessID string) ([]graph.Account, error) {
		return []graph.Account{{ID: "acct_1"}}, nil
	}
	stub.listPhones = func(accountID string) ([]graph.Phone, error) {
		return []graph.Phone{{
			ID:                 "phone_3",
			DisplayPhoneNumber: "+55 11 98888-7777",
			VerifiedName:       "Angu Bistro",
			VerificationStatus: "VERIFIED",
		}}, nil
	}
	svc := newTestService(t, repo, stub)

	ch, err := svc.Provision(context.Background(), uuid.New(), connectInput("abc"))
	require.NoError(t, err)

	assert.Equal(t, StatusCompleted, ch.Status)
	require.NotNil(t, ch.PhoneNumberID)
	assert.Equal(t, "phone_3", *ch.PhoneNumberID)
	require.NotNil(t, ch.DisplayPhoneNumber)
	assert.Contains(t, *ch.DisplayPhoneNumber, "*")
	assert.Zero(t, stub.callCount("register_phone"))
	assert.Zero(t, stub.callCount("request_code"))
}

func TestVerifyNumberRequiresPendingVerification(t *testing.T) {
	t.Parallel()

	repo := newMemRepo()
	restaurantID := uuid.New()
	_, err := repo.Upsert(context.Background(), restaurantID, ChannelPatch{
		Status:      statusPtr(StatusAccountDetected),
		AccessToken: strPtr("tok_stored"),
	})
	require.NoError(t, err)

	stub := newProviderStub()
	svc := newTestService(t, repo, stub)

	_, err = svc.VerifyNumber(context.Background(), restaurantID, VerifyInput{Code: "123456"})
	require.Error(t, err)
	assert.Equal(t, ClassValidation, ClassOf(err))
	assert.Zero(t, stub.callCount("verify_code"))
}

func TestVerifyNumberRejectsMalformedCode(t *testing.T) {
	t.Parallel()

	svc := newTestService(t, newMemRepo(), newProviderStub())

	_, err := svc.VerifyNumber(context.Background(), uuid.New(), VerifyInput{Code: "12ab56"})
	require.Error(t, err)
	assert.Equal(t, ClassValidation, ClassOf(err))
}

func TestVerifyNumberFailureKeepsResumableState(t *testing.T) {
	t.Parallel()

	repo := newMemRepo()
	restaurantID := uuid.New()
	_, err := repo.Upsert(context.Background(), restaurantID, ChannelPatch{
		Status:        statusPtr(StatusAwaitingNumberVerification),
		AccessToken:   strPtr("tok_stored"),
		WABAID:        strPtr("acct_1"),
		PhoneNumberID: strPtr("phone_1"),
	})
	require.NoError(t, err)

	stub := newProviderStub()
	stub.verifyCode = func(phoneID, code string) error {
		return &graph.APIError{Status: 400, Code: 100, Message: "code mismatch"}
	}
	svc := newTestService(t, repo, stub)

	ch, err := svc.VerifyNumber(context.Background(), restaurantID, VerifyInput{Code: "000000"})
	require.Error(t, err)
	assert.Equal(t, ClassValidation, ClassOf(err))
	assert.Equal(t, StatusAwaitingNumberVerification, ch.Status, "a wrong code does not fail the channel")

	entries := repo.entries(StepNumberVerification)
	require.Len(t, entries, 1)
	assert.False(t, entries[0].Success)
	assert.Equal(t, 100, entries[0].Details["provider_code"])

	// Retrying with the right code finishes the workflow.
	stub.verifyCode = nil
	ch, err = svc.VerifyNumber(context.Background(), restaurantID, VerifyInput{Code: "135246"})
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, ch.Status)
}

func TestVerifyNumberWithPINRegistersCloudAPI(t *testing.T) {
	t.Parallel()

	repo := newMemRepo()
	restaurantID := uuid.New()
	_, err := repo.Upsert(context.Background(), restaurantID, ChannelPatch{
		Status:        statusPtr(StatusAwaitingNumberVerification),
		AccessToken:   strPtr("tok_stored"),
		WABAID:        strPtr("acct_1"),
		PhoneNumberID: strPtr("phone_1"),
	})
	require.NoError(t, err)

	stub := newProviderStub()
	var gotPIN string
	stub.enableCloud = func(phoneID, pin string) error {
		gotPIN = pin
		return nil
	}
	svc := newTestService(t, repo, stub)

	ch, err := svc.VerifyNumber(context.Background(), restaurantID, VerifyInput{Code: "135246", PIN: strPtr("654321")})
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, ch.Status)
	assert.Equal(t, "654321", gotPIN)

	entries := repo.entries(StepCloudRegistration)
	require.Len(t, entries, 1)
	assert.True(t, entries[0].Success)
}

func TestDisconnectClearsRecordAndKeepsLogs(t *testing.T) {
	t.Parallel()

	repo := newMemRepo()
	stub := newProviderStub()
	stub.listOwned = func(businessID string) ([]graph.Account, error) {
		return []graph.Account{{ID: "acct_1"}}, nil
	}
	svc := newTestService(t, repo, stub)
	restaurantID := uuid.New()

	_, err := svc.Provision(context.Background(), restaurantID, connectInput("abc"))
	require.NoError(t, err)

	require.NoError(t, svc.Disconnect(context.Background(), restaurantID))

	_, err = svc.Status(context.Background(), restaurantID)
	assert.ErrorIs(t, err, ErrNotFound)

	logs, err := svc.Logs(context.Background(), restaurantID, 50)
	require.NoError(t, err)
	assert.NotEmpty(t, logs, "the audit trail survives a disconnect")
	assert.Equal(t, StepDisconnect, logs[0].Step)
}

func TestAuditDetailsNeverCarryCredentials(t *testing.T) {
	t.Parallel()

	repo := newMemRepo()
	stub := newProviderStub()
	stub.listOwned = func(businessID string) ([]graph.Account, error) {
		return []graph.Account{{ID: "acct_1"}}, nil
	}
	svc := newTestService(t, repo, stub)
	restaurantID := uuid.New()

	input := connectInput("abc")
	input.Overrides = map[string]any{"phone_number": "+551199990000"}
	_, err := svc.Provision(context.Background(), restaurantID, input)
	require.NoError(t, err)
	_, err = svc.VerifyNumber(context.Background(), restaurantID, VerifyInput{Code: "135246"})
	require.NoError(t, err)

	logs, err := svc.Logs(context.Background(), restaurantID, 200)
	require.NoError(t, err)
	require.NotEmpty(t, logs)
	for _, entry := range logs {
		for key, value := range entry.Details {
			s, isString := value.(string)
			if !isString {
				continue
			}
			assert.NotContains(t, s, "tok1", "token leaked via detail %q of step %s", key, entry.Step)
			assert.NotContains(t, s, "135246", "code leaked via detail %q of step %s", key, entry.Step)
			if key == "phone_number" || key == "display_phone_number" {
				assert.NotContains(t, s, "1199990000", "unmasked number in detail %q", key)
			}
		}
	}
}

func TestAuditEntriesRecordActor(t *testing.T) {
	t.Parallel()

	repo := newMemRepo()
	stub := newProviderStub()
	stub.listOwned = func(businessID string) ([]graph.Account, error) {
		return []graph.Account{{ID: "acct_1"}}, nil
	}
	svc := newTestService(t, repo, stub)
	restaurantID := uuid.New()

	ctx := requesttrace.IntoContext(context.Background(), requesttrace.Service("chatbot-runtime", "req-1"))
	_, err := svc.Provision(ctx, restaurantID, connectInput("abc"))
	require.NoError(t, err)

	logs, err := svc.Logs(context.Background(), restaurantID, 200)
	require.NoError(t, err)
	require.NotEmpty(t, logs)
	for _, entry := range logs {
		assert.Equal(t, "service", entry.Details["actor"], "step %s", entry.Step)
		assert.Equal(t, "chatbot-runtime", entry.Details["caller"], "step %s", entry.Step)
	}

	// Without trace info on the context, entries fall back to anonymous.
	other := uuid.New()
	_, err = svc.Provision(context.Background(), other, connectInput("abc"))
	require.NoError(t, err)
	logs, err = svc.Logs(context.Background(), other, 200)
	require.NoError(t, err)
	require.NotEmpty(t, logs)
	assert.Equal(t, "anonymous", logs[0].Details["actor"])
	assert.NotContains(t, logs[0].Details, "caller")
}
