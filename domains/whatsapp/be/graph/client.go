// Package graph is the Meta Graph API adapter used by the WhatsApp
// provisioning workflow: OAuth code exchange, business/WABA discovery, WABA
// creation on behalf of clients, webhook subscription and phone registration.
package graph

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/guiomkt/angubackend-sub001/platform/go/metrics"
)

// Config carries the provider endpoints and the two credential sets the
// workflow uses: the app credentials (code exchange, introspection) and the
// privileged solution-provider credential (WABA creation).
type Config struct {
	BaseURL     string        // default https://graph.facebook.com
	Version     string        // default v24.0
	AppID       string        // Meta app id
	AppSecret   string        // Meta app secret
	RedirectURI string        // must match the embedded-signup redirect
	Timeout     time.Duration // per-call budget; default 15s

	// Solution-provider identity, used only by the creation endpoints.
	SolutionID        string // solutions-partner id (strategy 3 anchor)
	PartnerBusinessID string // the partner's own business (strategy 1 anchor)
	SolutionToken     string // privileged system-user token

	// IdempotentCodes lists provider codes/subcodes meaning "already done"
	// (already subscribed, phone already registered). Configurable because
	// these are provider-specific and undocumented.
	IdempotentCodes []int

	// RequestsPerSecond caps outbound calls; 0 disables client-side limiting.
	RequestsPerSecond float64
}

func (cfg Config) withDefaults() Config {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://graph.facebook.com"
	}
	if cfg.Version == "" {
		cfg.Version = "v24.0"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	return cfg
}

// Business is a provider-side business entity controlled by the authorizing user.
type Business struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Account is a WhatsApp Business Account reachable from a business entity.
type Account struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// TokenGrant is the result of an authorization-code exchange.
type TokenGrant struct {
	AccessToken string
	ExpiresAt   *time.Time // nil for non-expiring system tokens
}

// TokenInfo is the debug_token introspection projection the workflow depends on.
type TokenInfo struct {
	Valid     bool
	Scopes    []string
	UserID    string
	ExpiresAt *time.Time
}

// ProviderUser is the authorizing user resolved via the me endpoint.
type ProviderUser struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Phone is a phone number registered under a WABA.
type Phone struct {
	ID                 string `json:"id"`
	DisplayPhoneNumber string `json:"display_phone_number"`
	VerifiedName       string `json:"verified_name"`
	VerificationStatus string `json:"code_verification_status"`
}

// RegisterResult reports a phone registration, distinguishing the idempotent
// "already registered" outcome.
type RegisterResult struct {
	PhoneID           string
	AlreadyRegistered bool
}

// Client talks to the Graph API. All calls are bounded by Config.Timeout and,
// when configured, pass through a shared token-bucket limiter.
type Client struct {
	cfg     Config
	http    *http.Client
	limiter *rate.Limiter
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// New builds a Client. The logger is required; metrics may be nil (tests).
func New(cfg Config, logger *zap.Logger, m *metrics.Metrics) *Client {
	if logger == nil {
		panic("graph: logger is required")
	}
	cfg = cfg.withDefaults()

	var limiter *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), int(cfg.RequestsPerSecond)+1)
	}

	return &Client{
		cfg:     cfg,
		http:    &http.Client{Timeout: cfg.Timeout},
		limiter: limiter,
		logger:  logger,
		metrics: m,
	}
}

// ExchangeCode swaps a one-time authorization code for a user bearer token.
func (c *Client) ExchangeCode(ctx context.Context, code string) (TokenGrant, error) {
	query := url.Values{
		"client_id":     {c.cfg.AppID},
		"client_secret": {c.cfg.AppSecret},
		"redirect_uri":  {c.cfg.RedirectURI},
		"code":          {code},
	}

	var payload struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int64  `json:"expires_in"`
	}
	if err := c.do(ctx, "oauth_access_token", http.MethodGet, "oauth/access_token", query, nil, "", &payload); err != nil {
		return TokenGrant{}, err
	}

	grant := TokenGrant{AccessToken: payload.AccessToken}
	if payload.ExpiresIn > 0 {
		expiry := time.Now().Add(time.Duration(payload.ExpiresIn) * time.Second)
		grant.ExpiresAt = &expiry
	}
	return grant, nil
}

// Introspect validates a user token against debug_token using the app credential.
func (c *Client) Introspect(ctx context.Context, token string) (TokenInfo, error) {
	query := url.Values{"input_token": {token}}

	var payload struct {
		Data struct {
			IsValid   bool     `json:"is_valid"`
			Scopes    []string `json:"scopes"`
			UserID    string   `json:"user_id"`
			ExpiresAt int64    `json:"expires_at"`
		} `json:"data"`
	}
	appToken := c.cfg.AppID + "|" + c.cfg.AppSecret
	if err := c.do(ctx, "debug_token", http.MethodGet, "debug_token", query, nil, appToken, &payload); err != nil {
		return TokenInfo{}, err
	}

	info := TokenInfo{
		Valid:  payload.Data.IsValid,
		Scopes: payload.Data.Scopes,
		UserID: payload.Data.UserID,
	}
	if payload.Data.ExpiresAt > 0 {
		expiry := time.Unix(payload.Data.ExpiresAt, 0)
		info.ExpiresAt = &expiry
	}
	return info, nil
}

// CurrentUser resolves the authorizing user behind a token.
func (c *Client) CurrentUser(ctx context.Context, token string) (ProviderUser, error) {
	var user ProviderUser
	if err := c.do(ctx, "me", http.MethodGet, "me", nil, nil, token, &user); err != nil {
		return ProviderUser{}, err
	}
	return user, nil
}

// ListBusinesses enumerates the business entities the user controls.
func (c *Client) ListBusinesses(ctx context.Context, token string) ([]Business, error) {
	var payload struct {
		Data []Business `json:"data"`
	}
	if err := c.do(ctx, "me_businesses", http.MethodGet, "me/businesses", nil, nil, token, &payload); err != nil {
		return nil, err
	}
	return payload.Data, nil
}

// ListOwnedAccounts queries the owned relation of a business.
func (c *Client) ListOwnedAccounts(ctx context.Context, token, businessID string) ([]Account, error) {
	return c.listAccounts(ctx, "owned_wabas", token, businessID+"/owned_whatsapp_business_accounts")
}

// ListClientAccounts queries the client (shared-access) relation of a business.
func (c *Client) ListClientAccounts(ctx context.Context, token, businessID string) ([]Account, error) {
	return c.listAccounts(ctx, "client_wabas", token, businessID+"/client_whatsapp_business_accounts")
}

func (c *Client) listAccounts(ctx context.Context, endpoint, token, path string) ([]Account, error) {
	var payload struct {
		Data []Account `json:"data"`
	}
	if err := c.do(ctx, endpoint, http.MethodGet, path, nil, nil, token, &payload); err != nil {
		return nil, err
	}
	return payload.Data, nil
}

// CreateClientAccount creates a WABA under the partner business naming the
// target business as the client. Solution-provider credential only.
func (c *Client) CreateClientAccount(ctx context.Context, targetBusinessID, name string) (string, error) {
	body := map[string]string{
		"client_business_id": targetBusinessID,
		"name":               name,
	}
	return c.createAccount(ctx, "create_client_waba",
		c.cfg.PartnerBusinessID+"/client_whatsapp_business_accounts", body)
}

// CreateDirectAccount creates a WABA directly under the target business.
func (c *Client) CreateDirectAccount(ctx context.Context, targetBusinessID, name string) (string, error) {
	body := map[string]string{"name": name}
	return c.createAccount(ctx, "create_owned_waba",
		targetBusinessID+"/owned_whatsapp_business_accounts", body)
}

// CreateSolutionAccount creates a WABA through the solutions-partner endpoint,
// the generic fallback when the business-scoped endpoints are unavailable.
func (c *Client) CreateSolutionAccount(ctx context.Context, targetBusinessID, name string) (string, error) {
	body := map[string]string{
		"client_business_id": targetBusinessID,
		"name":               name,
	}
	return c.createAccount(ctx, "create_solution_waba",
		c.cfg.SolutionID+"/whatsapp_business_accounts", body)
}

func (c *Client) createAccount(ctx context.Context, endpoint, path string, body map[string]string) (string, error) {
	var payload struct {
		ID string `json:"id"`
	}
	if err := c.do(ctx, endpoint, http.MethodPost, path, nil, body, c.cfg.SolutionToken, &payload); err != nil {
		return "", err
	}
	if payload.ID == "" {
		return "", fmt.Errorf("graph: %s returned no account id", endpoint)
	}
	return payload.ID, nil
}

// Subscribe attaches the app to the WABA's event stream. The provider's
// "already subscribed" code is reported as (true, nil): the call runs on every
// resumed invocation and must stay idempotent.
func (c *Client) Subscribe(ctx context.Context, token, accountID string) (bool, error) {
	var payload struct {
		Success bool `json:"success"`
	}
	err := c.do(ctx, "subscribed_apps", http.MethodPost, accountID+"/subscribed_apps", nil, nil, token, &payload)
	if err != nil {
		if c.alreadyDone(err) {
			return true, nil
		}
		return false, err
	}
	if !payload.Success {
		return false, fmt.Errorf("graph: subscribed_apps reported success=false for %s", accountID)
	}
	return false, nil
}

// RegisterPhone registers a number under the WABA and reports the provider
// phone id. "Already registered" resolves the existing id instead of failing.
func (c *Client) RegisterPhone(ctx context.Context, token, accountID, countryCode, number, verifiedName string) (RegisterResult, error) {
	body := map[string]string{
		"cc":            countryCode,
		"phone_number":  number,
		"verified_name": verifiedName,
	}

	var payload struct {
		ID string `json:"id"`
	}
	err := c.do(ctx, "phone_numbers", http.MethodPost, accountID+"/phone_numbers", nil, body, token, &payload)
	if err == nil {
		return RegisterResult{PhoneID: payload.ID}, nil
	}
	if !c.alreadyDone(err) {
		return RegisterResult{}, err
	}

	phones, listErr := c.ListPhones(ctx, token, accountID)
	if listErr != nil {
		return RegisterResult{}, fmt.Errorf("resolve already-registered phone: %w", listErr)
	}
	want := countryCode + number
	for _, phone := range phones {
		if digitsOnly(phone.DisplayPhoneNumber) == want {
			return RegisterResult{PhoneID: phone.ID, AlreadyRegistered: true}, nil
		}
	}
	return RegisterResult{}, fmt.Errorf("graph: phone reported as registered but not listed under %s", accountID)
}

// ListPhones returns the numbers registered under a WABA.
func (c *Client) ListPhones(ctx context.Context, token, accountID string) ([]Phone, error) {
	var payload struct {
		Data []Phone `json:"data"`
	}
	query := url.Values{"fields": {"display_phone_number,verified_name,code_verification_status"}}
	if err := c.do(ctx, "phone_numbers", http.MethodGet, accountID+"/phone_numbers", query, nil, token, &payload); err != nil {
		return nil, err
	}
	return payload.Data, nil
}

// RequestCode asks the provider to send the SMS verification code.
func (c *Client) RequestCode(ctx context.Context, token, phoneID, language string) error {
	if language == "" {
		language = "pt_BR"
	}
	body := map[string]string{
		"code_method": "SMS",
		"language":    language,
	}
	err := c.do(ctx, "request_code", http.MethodPost, phoneID+"/request_code", nil, body, token, nil)
	if err != nil && c.alreadyDone(err) {
		return nil
	}
	return err
}

// VerifyCode submits the end-user's verification code.
func (c *Client) VerifyCode(ctx context.Context, token, phoneID, code string) error {
	body := map[string]string{"code": code}
	return c.do(ctx, "verify_code", http.MethodPost, phoneID+"/verify_code", nil, body, token, nil)
}

// EnableCloudAPI completes the two-step registration that activates the
// number for Cloud API messaging. Requires the six-digit PIN chosen by the
// business; re-registration is reported as success.
func (c *Client) EnableCloudAPI(ctx context.Context, token, phoneID, pin string) error {
	body := map[string]string{
		"messaging_product": "whatsapp",
		"pin":               pin,
	}
	err := c.do(ctx, "register", http.MethodPost, phoneID+"/register", nil, body, token, nil)
	if err != nil && c.alreadyDone(err) {
		return nil
	}
	return err
}

// GetPhone reads the canonical phone identity after verification.
func (c *Client) GetPhone(ctx context.Context, token, phoneID string) (Phone, error) {
	query := url.Values{"fields": {"display_phone_number,verified_name,code_verification_status"}}
	var phone Phone
	if err := c.do(ctx, "phone", http.MethodGet, phoneID, query, nil, token, &phone); err != nil {
		return Phone{}, err
	}
	return phone, nil
}

// alreadyDone matches the provider error against the configured allow-list of
// "side effect already happened" codes.
func (c *Client) alreadyDone(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	for _, code := range c.cfg.IdempotentCodes {
		if apiErr.Code == code || apiErr.Subcode == code {
			return true
		}
	}
	return false
}

type errorEnvelope struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    int    `json:"code"`
		Subcode int    `json:"error_subcode"`
		TraceID string `json:"fbtrace_id"`
	} `json:"error"`
}

// do executes one Graph call: rate limit, bounded timeout, bearer auth, JSON
// in/out, error-envelope decoding. Query values and tokens are never logged.
func (c *Client) do(ctx context.Context, endpoint, method, path string, query url.Values, body any, token string, out any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("graph %s: rate limit wait: %w", endpoint, err)
		}
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	target := strings.TrimSuffix(c.cfg.BaseURL, "/") + "/" + c.cfg.Version + "/" + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("graph %s: encode body: %w", endpoint, err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return fmt.Errorf("graph %s: build request: %w", endpoint, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	duration := time.Since(start)
	if err != nil {
		c.metrics.RecordProviderRequest(endpoint, 0, duration)
		return fmt.Errorf("graph %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	c.metrics.RecordProviderRequest(endpoint, resp.StatusCode, duration)

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("graph %s: read response: %w", endpoint, err)
	}

	c.logger.Debug("graph call",
		zap.String("endpoint", endpoint),
		zap.Int("status", resp.StatusCode),
		zap.Duration("duration", duration),
	)

	if resp.StatusCode >= http.StatusBadRequest {
		var envelope errorEnvelope
		apiErr := &APIError{Status: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
		if json.Unmarshal(raw, &envelope) == nil && envelope.Error.Message != "" {
			apiErr.Message = envelope.Error.Message
			apiErr.Type = envelope.Error.Type
			apiErr.Code = envelope.Error.Code
			apiErr.Subcode = envelope.Error.Subcode
			apiErr.TraceID = envelope.Error.TraceID
		}
		return apiErr
	}

	if out != nil && len(raw) > 0 {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("graph %s: decode response: %w", endpoint, err)
		}
	}
	return nil
}

func digitsOnly(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
