package graph

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newTestClient(t *testing.T, handler http.Handler, mutate func(*Config)) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	cfg := Config{
		BaseURL:           server.URL,
		Version:           "v24.0",
		AppID:             "app_1",
		AppSecret:         "secret_1",
		RedirectURI:       "https://example.test/callback",
		SolutionID:        "sol_1",
		PartnerBusinessID: "partner_biz_1",
		SolutionToken:     "solution-token",
		IdempotentCodes:   []int{2388079, 136025},
	}
	if mutate != nil {
		mutate(&cfg)
	}
	return New(cfg, zaptest.NewLogger(t), nil)
}

func writeJSON(t *testing.T, w http.ResponseWriter, status int, body any) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	require.NoError(t, json.NewEncoder(w).Encode(body))
}

func graphError(code, subcode int, message string) map[string]any {
	return map[string]any{
		"error": map[string]any{
			"message":       message,
			"type":          "OAuthException",
			"code":          code,
			"error_subcode": subcode,
			"fbtrace_id":    "AbCdEf",
		},
	}
}

func TestExchangeCodeSendsAppCredentials(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v24.0/oauth/access_token", r.URL.Path)
		assert.Equal(t, "app_1", r.URL.Query().Get("client_id"))
		assert.Equal(t, "secret_1", r.URL.Query().Get("client_secret"))
		assert.Equal(t, "https://example.test/callback", r.URL.Query().Get("redirect_uri"))
		assert.Equal(t, "signup-code", r.URL.Query().Get("code"))
		writeJSON(t, w, http.StatusOK, map[string]any{"access_token": "user-token", "expires_in": 3600})
	}), nil)

	grant, err := client.ExchangeCode(context.Background(), "signup-code")
	require.NoError(t, err)
	assert.Equal(t, "user-token", grant.AccessToken)
	require.NotNil(t, grant.ExpiresAt)
	assert.WithinDuration(t, time.Now().Add(time.Hour), *grant.ExpiresAt, 5*time.Second)
}

func TestIntrospectUsesAppToken(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v24.0/debug_token", r.URL.Path)
		assert.Equal(t, "Bearer app_1|secret_1", r.Header.Get("Authorization"))
		assert.Equal(t, "user-token", r.URL.Query().Get("input_token"))
		writeJSON(t, w, http.StatusOK, map[string]any{
			"data": map[string]any{
				"is_valid": true,
				"scopes":   []string{"whatsapp_business_management", "business_management"},
				"user_id":  "usr_42",
			},
		})
	}), nil)

	info, err := client.Introspect(context.Background(), "user-token")
	require.NoError(t, err)
	assert.True(t, info.Valid)
	assert.Equal(t, "usr_42", info.UserID)
	assert.Contains(t, info.Scopes, "business_management")
	assert.Nil(t, info.ExpiresAt)
}

func TestCreateClientAccountUsesSolutionCredential(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v24.0/partner_biz_1/client_whatsapp_business_accounts", r.URL.Path)
		assert.Equal(t, "Bearer solution-token", r.Header.Get("Authorization"))

		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "biz_9", body["client_business_id"])
		assert.Equal(t, "Angu Bistro", body["name"])

		writeJSON(t, w, http.StatusOK, map[string]any{"id": "waba_123"})
	}), nil)

	id, err := client.CreateClientAccount(context.Background(), "biz_9", "Angu Bistro")
	require.NoError(t, err)
	assert.Equal(t, "waba_123", id)
}

func TestSubscribeTreatsAlreadySubscribedAsSuccess(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, http.StatusBadRequest, graphError(2388079, 0, "app is already subscribed"))
	}), nil)

	already, err := client.Subscribe(context.Background(), "user-token", "waba_123")
	require.NoError(t, err)
	assert.True(t, already)
}

func TestSubscribePropagatesOtherErrors(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, http.StatusForbidden, graphError(200, 0, "missing permission"))
	}), nil)

	_, err := client.Subscribe(context.Background(), "user-token", "waba_123")
	require.Error(t, err)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.True(t, apiErr.AuthFailed())
	assert.False(t, apiErr.Transient())
}

func TestRegisterPhoneResolvesAlreadyRegisteredNumber(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			writeJSON(t, w, http.StatusBadRequest, graphError(100, 136025, "phone number already registered"))
		case http.MethodGet:
			writeJSON(t, w, http.StatusOK, map[string]any{
				"data": []map[string]any{
					{"id": "phone_7", "display_phone_number": "+55 11 99999-0000", "verified_name": "Angu Bistro"},
				},
			})
		default:
			t.Fatalf("unexpected method %s", r.Method)
		}
	}), nil)

	result, err := client.RegisterPhone(context.Background(), "user-token", "waba_123", "55", "11999990000", "Angu Bistro")
	require.NoError(t, err)
	assert.True(t, result.AlreadyRegistered)
	assert.Equal(t, "phone_7", result.PhoneID)
}

func TestErrorEnvelopeDecoding(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, http.StatusInternalServerError, graphError(2, 0, "service temporarily unavailable"))
	}), nil)

	_, err := client.CurrentUser(context.Background(), "user-token")
	require.Error(t, err)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusInternalServerError, apiErr.Status)
	assert.Equal(t, 2, apiErr.Code)
	assert.Equal(t, "AbCdEf", apiErr.TraceID)
	assert.True(t, IsTransient(err))
}

func TestDoHonorsCallTimeout(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}), func(cfg *Config) {
		cfg.Timeout = 50 * time.Millisecond
	})

	_, err := client.CurrentUser(context.Background(), "user-token")
	require.Error(t, err)
	assert.True(t, IsTimeout(err))
}
