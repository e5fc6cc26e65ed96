package askdelphi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// apiTokenSafetyMargin is subtracted from the JWT expiry so a token that is
// about to lapse mid-operation is refreshed up front.
const apiTokenSafetyMargin = 5 * time.Minute

// TokenSet holds every credential produced by the authentication flow.
// It is owned exclusively by the TokenManager and persisted through a
// TokenStore after every successful exchange.
type TokenSet struct {
	AccessToken    string    `json:"access_token"`
	RefreshToken   string    `json:"refresh_token"`
	PublicationURL string    `json:"publication_url"`
	APIToken       string    `json:"api_token,omitempty"`
	APITokenExpiry time.Time `json:"api_token_expiry,omitempty"`
}

// TokenStore persists a TokenSet between runs. Implementations live in
// internal/tokenstore (plain file, age-encrypted file, in-memory).
type TokenStore interface {
	// Load returns the persisted token set, or (nil, nil) when none exists.
	// A corrupt store is treated the same as a missing one by the manager.
	Load() (*TokenSet, error)

	// Save replaces the persisted token set.
	Save(ts *TokenSet) error

	// Clear removes any persisted token set.
	Clear() error
}

// portalRegistration is the response of the portal session-registration
// endpoint: long-lived tokens plus the publication URL that hosts the
// token-exchange endpoints.
type portalRegistration struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	URL          string `json:"url"`
}

type refreshResponse struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

// TokenManager drives the authentication state machine:
//
//	NoToken → PortalExchanged → APITokenValid → expired → APITokenValid
//
// The manager itself is not safe for concurrent use; the Client guards it
// with a mutex so pooled downloads can share one manager.
type TokenManager struct {
	portalServer string
	creds        *Credentials
	store        TokenStore
	httpClient   *http.Client
	clock        Clock
	logger       Logger

	tokens     *TokenSet
	codeSpent  bool
	loadFailed bool
}

// NewTokenManager creates a TokenManager. The persisted token set is loaded
// immediately; a missing or corrupt store is not fatal and merely means a
// portal code will be required.
func NewTokenManager(portalServer string, creds *Credentials, store TokenStore, httpClient *http.Client, clock Clock, logger Logger) *TokenManager {
	m := &TokenManager{
		portalServer: strings.TrimRight(portalServer, "/"),
		creds:        creds,
		store:        store,
		httpClient:   httpClient,
		clock:        clock,
		logger:       logger,
	}

	ts, err := store.Load()
	if err != nil {
		logger.Warn("could not load cached tokens", "error", err)
		m.loadFailed = true
		return m
	}
	if ts != nil {
		m.tokens = ts
		logger.Debug("loaded cached tokens", "publication_url", ts.PublicationURL)
	}
	return m
}

// Authenticate ensures a usable API token exists and returns it.
// A cached, unexpired API token is returned without any network call.
func (m *TokenManager) Authenticate(ctx context.Context) (string, error) {
	if m.tokens != nil && m.tokens.APIToken != "" && m.clock.Now().Before(m.tokens.APITokenExpiry.Add(-apiTokenSafetyMargin)) {
		return m.tokens.APIToken, nil
	}

	// Cached access token: refresh the pair (best effort), then exchange
	// for a fresh API token.
	if m.tokens != nil && m.tokens.AccessToken != "" && m.tokens.PublicationURL != "" {
		if err := m.refreshAccessToken(ctx); err != nil {
			m.logger.Debug("access token refresh failed, trying current token", "error", err)
		}
		if err := m.fetchAPIToken(ctx); err == nil {
			return m.tokens.APIToken, nil
		} else {
			m.logger.Warn("cached tokens rejected", "error", err)
			m.tokens = nil
		}
	}

	if err := m.exchangePortalCode(ctx); err != nil {
		return "", err
	}
	if err := m.fetchAPIToken(ctx); err != nil {
		return "", &AuthError{Reason: "API token exchange failed", Err: err}
	}
	return m.tokens.APIToken, nil
}

// Invalidate drops the current API token so the next Authenticate call
// performs a refresh. Used by the client's single 401 retry.
func (m *TokenManager) Invalidate() {
	if m.tokens != nil {
		m.tokens.APIToken = ""
		m.tokens.APITokenExpiry = time.Time{}
	}
}

// Current returns a copy of the in-memory token set, or nil when no tokens
// are held.
func (m *TokenManager) Current() (*TokenSet, error) {
	if m.tokens == nil {
		return nil, nil
	}
	ts := *m.tokens
	return &ts, nil
}

// Clear forgets the in-memory tokens and removes any persisted ones.
func (m *TokenManager) Clear() error {
	m.tokens = nil
	return m.store.Clear()
}

// exchangePortalCode performs the one-time portal code exchange and
// persists the resulting refresh/access token pair.
func (m *TokenManager) exchangePortalCode(ctx context.Context) error {
	code := m.creds.PortalCode
	if code == "" || m.codeSpent {
		return &AuthError{Reason: "no portal code available and no usable cached tokens"}
	}
	m.codeSpent = true

	u := fmt.Sprintf("%s/api/session/registration?sessionCode=%s", m.portalServer, url.QueryEscape(code))
	m.logger.Info("exchanging portal code")

	var reg portalRegistration
	if err := m.getJSON(ctx, u, "", &reg); err != nil {
		return &AuthError{Reason: "portal code exchange failed", Err: err}
	}
	if reg.AccessToken == "" || reg.URL == "" {
		return &AuthError{Reason: "portal returned an incomplete registration"}
	}

	pubURL, err := publicationBase(reg.URL)
	if err != nil {
		return &AuthError{Reason: "portal returned an invalid publication URL", Err: err}
	}

	m.tokens = &TokenSet{
		AccessToken:    reg.AccessToken,
		RefreshToken:   reg.RefreshToken,
		PublicationURL: pubURL,
	}
	m.persist()
	return nil
}

// refreshAccessToken exchanges the refresh token for a new access/refresh
// pair. Exactly one attempt is made per Authenticate call.
func (m *TokenManager) refreshAccessToken(ctx context.Context) error {
	if m.tokens.RefreshToken == "" {
		return fmt.Errorf("no refresh token available")
	}

	u := fmt.Sprintf("%s/api/token/refresh?token=%s&refreshToken=%s",
		m.tokens.PublicationURL,
		url.QueryEscape(m.tokens.AccessToken),
		url.QueryEscape(m.tokens.RefreshToken))

	var resp refreshResponse
	if err := m.getJSON(ctx, u, "", &resp); err != nil {
		return fmt.Errorf("refreshing tokens: %w", err)
	}

	if resp.AccessToken != "" {
		m.tokens.AccessToken = resp.AccessToken
	}
	if resp.RefreshToken != "" {
		m.tokens.RefreshToken = resp.RefreshToken
	}
	m.persist()
	return nil
}

// fetchAPIToken exchanges the access token for the short-lived editing API
// token. The endpoint returns the raw JWT, sometimes wrapped in quotes.
func (m *TokenManager) fetchAPIToken(ctx context.Context) error {
	u := m.tokens.PublicationURL + "/api/token/EditingApiToken"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+m.tokens.AccessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("requesting API token: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("reading API token response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(body))}
	}

	token := strings.Trim(strings.TrimSpace(string(body)), `"`)
	if token == "" {
		return fmt.Errorf("empty API token response")
	}

	m.tokens.APIToken = token
	m.tokens.APITokenExpiry = m.parseExpiry(token)
	m.persist()

	m.logger.Debug("API token acquired", "expires", m.tokens.APITokenExpiry)
	return nil
}

// parseExpiry reads the exp claim from the JWT without verifying the
// signature (the server owns verification). Tokens without a readable exp
// get a one-hour lifetime.
func (m *TokenManager) parseExpiry(token string) time.Time {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err == nil {
		if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
			return exp.Time
		}
	}
	return m.clock.Now().Add(time.Hour)
}

func (m *TokenManager) persist() {
	if err := m.store.Save(m.tokens); err != nil {
		m.logger.Warn("could not persist tokens", "error", err)
	}
}

func (m *TokenManager) getJSON(ctx context.Context, u, bearer string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(body))}
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

// publicationBase reduces the full publication URL returned by the portal
// to its scheme://host base.
func publicationBase(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("publication URL %q has no scheme or host", raw)
	}
	return u.Scheme + "://" + u.Host, nil
}
