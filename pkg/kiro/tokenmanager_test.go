package kiro

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openkiro/kirogate/pkg/config"
)

func newTestManager(t *testing.T, cfg *config.Config, creds *Credentials) *TokenManager {
	t.Helper()
	tm, err := NewTokenManager(cfg, creds, nil)
	require.NoError(t, err)
	return tm
}

func TestEnsureValidTokenUsesCachedToken(t *testing.T) {
	creds := &Credentials{
		AccessToken: "cached",
		ExpiresAt:   time.Now().Add(time.Hour).UTC().Format(time.RFC3339),
		AuthMethod:  AuthMethodSocial,
	}
	tm := newTestManager(t, &config.Config{}, creds)

	token, err := tm.EnsureValidToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "cached", token)
}

func TestEnsureValidTokenRefreshesInsideMargin(t *testing.T) {
	var calls atomic.Int64
	refresh := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		var req map[string]string
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "old-refresh", req["refreshToken"])
		json.NewEncoder(w).Encode(map[string]interface{}{
			"accessToken":  "fresh",
			"refreshToken": "new-refresh",
			"profileArn":   "arn:aws:sso::1:profile/p",
			"expiresIn":    3600,
		})
	}))
	defer refresh.Close()

	creds := &Credentials{
		AccessToken: "stale",
		// Inside the 30 s margin: must refresh.
		ExpiresAt:    time.Now().Add(10 * time.Second).UTC().Format(time.RFC3339),
		RefreshToken: "old-refresh",
		AuthMethod:   AuthMethodSocial,
	}
	tm := newTestManager(t, &config.Config{RefreshURL: refresh.URL}, creds)

	token, err := tm.EnsureValidToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "fresh", token)
	assert.Equal(t, int64(1), calls.Load())

	// The refresh persisted back into the credentials.
	updated := tm.Credentials()
	assert.Equal(t, "fresh", updated.AccessToken)
	assert.Equal(t, "new-refresh", updated.RefreshToken)
	assert.Equal(t, "arn:aws:sso::1:profile/p", updated.ProfileArn)

	expiresAt, err := time.Parse(time.RFC3339, updated.ExpiresAt)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), expiresAt, time.Minute)
}

// S6: concurrent callers on an expired token share one refresh.
func TestEnsureValidTokenCoalescesConcurrentRefreshes(t *testing.T) {
	var calls atomic.Int64
	refresh := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		time.Sleep(50 * time.Millisecond) // widen the race window
		json.NewEncoder(w).Encode(map[string]interface{}{"accessToken": "shared", "expiresIn": 3600})
	}))
	defer refresh.Close()

	creds := &Credentials{
		RefreshToken: "r",
		AuthMethod:   AuthMethodSocial,
		ExpiresAt:    "2000-01-01T00:00:00Z",
	}
	tm := newTestManager(t, &config.Config{RefreshURL: refresh.URL}, creds)

	const workers = 10
	tokens := make([]string, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			token, err := tm.EnsureValidToken(context.Background())
			assert.NoError(t, err)
			tokens[i] = token
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int64(1), calls.Load())
	for _, token := range tokens {
		assert.Equal(t, "shared", token)
	}
}

func TestEnsureValidTokenIdcFlow(t *testing.T) {
	var gotBody map[string]string
	oidc := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		json.NewEncoder(w).Encode(map[string]interface{}{"accessToken": "idc-token", "expiresIn": 900})
	}))
	defer oidc.Close()

	creds := &Credentials{
		RefreshToken: "r",
		ClientID:     "client",
		ClientSecret: "secret",
		AuthMethod:   AuthMethodIdC,
		ExpiresAt:    "2000-01-01T00:00:00Z",
	}
	tm := newTestManager(t, &config.Config{Region: "us-east-1"}, creds)
	// Point the IdC flow at the test server instead of AWS.
	tm.idcEndpoint = oidc.URL

	token, err := tm.EnsureValidToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "idc-token", token)
	assert.Equal(t, map[string]string{
		"clientId":     "client",
		"clientSecret": "secret",
		"refreshToken": "r",
		"grantType":    "refresh_token",
	}, gotBody)
}

func TestEnsureValidTokenRefreshFailure(t *testing.T) {
	refresh := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	}))
	defer refresh.Close()

	creds := &Credentials{RefreshToken: "r", AuthMethod: AuthMethodSocial, ExpiresAt: "2000-01-01T00:00:00Z"}
	tm := newTestManager(t, &config.Config{RefreshURL: refresh.URL}, creds)

	_, err := tm.EnsureValidToken(context.Background())
	assert.ErrorIs(t, err, ErrRefreshFailed)
}

func TestEnsureValidTokenNoRefreshMaterial(t *testing.T) {
	creds := &Credentials{AuthMethod: AuthMethodSocial, ExpiresAt: "2000-01-01T00:00:00Z"}
	tm := newTestManager(t, &config.Config{}, creds)

	_, err := tm.EnsureValidToken(context.Background())
	assert.ErrorIs(t, err, ErrRefreshFailed)
}
