package kiro

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/openkiro/kirogate/pkg/config"
	"github.com/openkiro/kirogate/pkg/internal/httpclient"
)

const (
	// expiryMargin forces a refresh when the token has less than this long
	// to live, so in-flight requests never race expiry.
	expiryMargin = 30 * time.Second

	// defaultTokenTTL applies when a refresh response omits expiresIn.
	defaultTokenTTL = time.Hour

	refreshTimeout = 30 * time.Second
)

// ErrRefreshFailed wraps any token refresh failure. The account pool marks
// accounts invalid when it sees this.
var ErrRefreshFailed = errors.New("kiro: token refresh failed")

// TokenManager owns one credential set and keeps its access token valid.
// Safe for concurrent use; concurrent refreshes coalesce into a single
// upstream call.
type TokenManager struct {
	cfg    *config.Config
	client *http.Client
	logger *slog.Logger

	group singleflight.Group

	mu    sync.Mutex
	creds *Credentials

	// idcEndpoint overrides the regional AWS SSO OIDC endpoint; tests point
	// it at a local server.
	idcEndpoint string

	// now is replaceable in tests.
	now func() time.Time
}

// NewTokenManager builds a token manager for the given credentials. The
// configured proxy, if any, applies to refresh calls.
func NewTokenManager(cfg *config.Config, creds *Credentials, logger *slog.Logger) (*TokenManager, error) {
	var proxy *httpclient.ProxyConfig
	if cfg.ProxyURL != "" {
		proxy = &httpclient.ProxyConfig{URL: cfg.ProxyURL, Username: cfg.ProxyUsername, Password: cfg.ProxyPassword}
	}
	client, err := httpclient.New(proxy, refreshTimeout)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	tm := &TokenManager{
		cfg:    cfg,
		client: client,
		logger: logger,
		creds:  creds,
		now:    time.Now,
	}
	return tm, nil
}

// Config returns the shared gateway configuration.
func (tm *TokenManager) Config() *config.Config {
	return tm.cfg
}

// Credentials returns a copy of the current credential state.
func (tm *TokenManager) Credentials() Credentials {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	return *tm.creds
}

// ProfileArn returns the credential's profile ARN, if any.
func (tm *TokenManager) ProfileArn() string {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	return tm.creds.ProfileArn
}

// EnsureValidToken returns a bearer token, refreshing first when the cached
// one is absent or within the expiry margin. Concurrent callers on an expired
// token wait for a single shared refresh.
func (tm *TokenManager) EnsureValidToken(ctx context.Context) (string, error) {
	if token, ok := tm.cachedToken(); ok {
		return token, nil
	}

	result, err, _ := tm.group.Do("refresh", func() (interface{}, error) {
		// Another caller may have completed the refresh between our cache
		// check and joining the flight.
		if token, ok := tm.cachedToken(); ok {
			return token, nil
		}
		return tm.refresh(ctx)
	})
	if err != nil {
		return "", err
	}
	return result.(string), nil
}

// cachedToken returns the current access token when it is still comfortably
// inside its validity window.
func (tm *TokenManager) cachedToken() (string, bool) {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	if tm.creds.AccessToken == "" {
		return "", false
	}
	if tm.creds.ExpiresAt == "" {
		// No recorded expiry: treat the token as usable and let the upstream
		// reject it if not.
		return tm.creds.AccessToken, true
	}
	expiresAt, err := time.Parse(time.RFC3339, tm.creds.ExpiresAt)
	if err != nil {
		return "", false
	}
	if tm.now().Add(expiryMargin).Before(expiresAt) {
		return tm.creds.AccessToken, true
	}
	return "", false
}

// socialRefreshResponse is the social refresh endpoint's reply.
type socialRefreshResponse struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	ProfileArn   string `json:"profileArn"`
	ExpiresIn    int64  `json:"expiresIn"`
}

// idcRefreshResponse is the AWS SSO OIDC token endpoint's reply.
type idcRefreshResponse struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	ExpiresIn    int64  `json:"expiresIn"`
}

func (tm *TokenManager) refresh(ctx context.Context) (string, error) {
	creds := tm.Credentials()
	if !creds.CanRefresh() {
		return "", fmt.Errorf("%w: no refresh material for auth method %q", ErrRefreshFailed, creds.AuthMethod)
	}

	switch creds.AuthMethod {
	case AuthMethodIdC:
		return tm.refreshIdC(ctx, creds)
	default:
		// social and builder-id share the social flow.
		return tm.refreshSocial(ctx, creds)
	}
}

func (tm *TokenManager) refreshSocial(ctx context.Context, creds Credentials) (string, error) {
	if tm.cfg.RefreshURL == "" {
		return "", fmt.Errorf("%w: refreshUrl is not configured", ErrRefreshFailed)
	}

	body := map[string]string{"refreshToken": creds.RefreshToken}
	var resp socialRefreshResponse
	if err := tm.postJSON(ctx, tm.cfg.RefreshURL, body, &resp); err != nil {
		return "", fmt.Errorf("%w: social: %v", ErrRefreshFailed, err)
	}
	if resp.AccessToken == "" {
		return "", fmt.Errorf("%w: social endpoint returned no access token", ErrRefreshFailed)
	}

	tm.mu.Lock()
	tm.creds.AccessToken = resp.AccessToken
	if resp.RefreshToken != "" {
		tm.creds.RefreshToken = resp.RefreshToken
	}
	if resp.ProfileArn != "" {
		tm.creds.ProfileArn = resp.ProfileArn
	}
	tm.creds.ExpiresAt = tm.expiry(resp.ExpiresIn)
	tm.mu.Unlock()

	tm.logger.Info("refreshed access token", "method", "social")
	return resp.AccessToken, nil
}

func (tm *TokenManager) refreshIdC(ctx context.Context, creds Credentials) (string, error) {
	endpoint := tm.idcEndpoint
	if endpoint == "" {
		endpoint = fmt.Sprintf("https://oidc.%s.amazonaws.com/token", tm.cfg.Region)
	}
	body := map[string]string{
		"clientId":     creds.ClientID,
		"clientSecret": creds.ClientSecret,
		"refreshToken": creds.RefreshToken,
		"grantType":    "refresh_token",
	}

	var resp idcRefreshResponse
	if err := tm.postJSON(ctx, endpoint, body, &resp); err != nil {
		return "", fmt.Errorf("%w: idc: %v", ErrRefreshFailed, err)
	}
	if resp.AccessToken == "" {
		return "", fmt.Errorf("%w: idc endpoint returned no access token", ErrRefreshFailed)
	}

	tm.mu.Lock()
	tm.creds.AccessToken = resp.AccessToken
	if resp.RefreshToken != "" {
		tm.creds.RefreshToken = resp.RefreshToken
	}
	tm.creds.ExpiresAt = tm.expiry(resp.ExpiresIn)
	tm.mu.Unlock()

	tm.logger.Info("refreshed access token", "method", "idc")
	return resp.AccessToken, nil
}

// expiry converts an expiresIn to an RFC3339 expiry, defaulting when absent.
func (tm *TokenManager) expiry(expiresIn int64) string {
	ttl := defaultTokenTTL
	if expiresIn > 0 {
		ttl = time.Duration(expiresIn) * time.Second
	}
	return tm.now().Add(ttl).UTC().Format(time.RFC3339)
}

func (tm *TokenManager) postJSON(ctx context.Context, url string, body, result interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := tm.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("HTTP %d: %s", resp.StatusCode, respBody)
	}
	return json.Unmarshal(respBody, result)
}
