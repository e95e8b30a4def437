package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openkiro/kirogate/pkg/anthropic"
	"github.com/openkiro/kirogate/pkg/config"
	"github.com/openkiro/kirogate/pkg/pool"
	"github.com/openkiro/kirogate/pkg/tokencount"
)

func testServer(t *testing.T) *Server {
	t.Helper()
	cfg := config.Default()
	cfg.APIKey = "test-key"

	counter, err := tokencount.NewCounter(cfg, nil)
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelWarn}))
	return New(cfg, pool.New(nil, pool.StrategyRoundRobin), counter, logger)
}

func doRequest(t *testing.T, handler http.Handler, method, path, apiKey, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reqBody *strings.Reader
	if body == "" {
		reqBody = strings.NewReader("")
	} else {
		reqBody = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reqBody)
	if apiKey != "" {
		req.Header.Set("x-api-key", apiKey)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestAuthMissingKey(t *testing.T) {
	router := testServer(t).Router()

	rec := doRequest(t, router, http.MethodGet, "/v1/models", "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.JSONEq(t,
		`{"type":"error","error":{"type":"authentication_error","message":"Invalid API key"}}`,
		rec.Body.String())
}

func TestAuthWrongKey(t *testing.T) {
	router := testServer(t).Router()

	rec := doRequest(t, router, http.MethodGet, "/v1/models", "wrong", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuthBearerHeader(t *testing.T) {
	router := testServer(t).Router()

	req := httptest.NewRequest(http.MethodGet, "/v1/models", nil)
	req.Header.Set("Authorization", "Bearer test-key")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestModels(t *testing.T) {
	router := testServer(t).Router()

	rec := doRequest(t, router, http.MethodGet, "/v1/models", "test-key", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp anthropic.ModelsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "list", resp.Object)
	require.NotEmpty(t, resp.Data)

	for _, model := range resp.Data {
		assert.Equal(t, "model", model.Object)
		assert.Equal(t, "model", model.Type)
		assert.NotEmpty(t, model.ID)
		assert.NotZero(t, model.Created)
		assert.NotZero(t, model.MaxTokens)
	}
}

func TestCountTokens(t *testing.T) {
	router := testServer(t).Router()

	rec := doRequest(t, router, http.MethodPost, "/v1/messages/count_tokens", "test-key",
		`{"model":"claude-3-5-sonnet","messages":[{"role":"user","content":"hello world"}]}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp anthropic.CountTokensResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.GreaterOrEqual(t, resp.InputTokens, 1)
}

func TestCountTokensBadJSON(t *testing.T) {
	router := testServer(t).Router()

	rec := doRequest(t, router, http.MethodPost, "/v1/messages/count_tokens", "test-key", "{broken")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMessagesRejectsBadRequests(t *testing.T) {
	router := testServer(t).Router()

	tests := []struct {
		name string
		body string
	}{
		{"broken json", `{`},
		{"missing model", `{"max_tokens":10,"messages":[{"role":"user","content":"hi"}]}`},
		{"empty messages", `{"model":"m","max_tokens":10,"messages":[]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doRequest(t, router, http.MethodPost, "/v1/messages", "test-key", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)

			var resp anthropic.ErrorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.Equal(t, "invalid_request_error", resp.Error.Type)
		})
	}
}

func TestMessagesNoAvailableAccount(t *testing.T) {
	// The test server's pool is empty, so a valid request surfaces 503.
	router := testServer(t).Router()

	rec := doRequest(t, router, http.MethodPost, "/v1/messages", "test-key",
		`{"model":"m","max_tokens":10,"messages":[{"role":"user","content":"hi"}]}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestConstantTimeEqual(t *testing.T) {
	assert.True(t, constantTimeEqual("abc", "abc"))
	assert.False(t, constantTimeEqual("abc", "abd"))
	assert.False(t, constantTimeEqual("abc", "abcd"))
	assert.False(t, constantTimeEqual("", "x"))
	assert.True(t, constantTimeEqual("", ""))
}

func TestAPIKeyFromRequest(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	assert.Empty(t, apiKeyFromRequest(req))

	req.Header.Set("Authorization", "Bearer tok")
	assert.Equal(t, "tok", apiKeyFromRequest(req))

	// x-api-key wins when both are present.
	req.Header.Set("x-api-key", "key")
	assert.Equal(t, "key", apiKeyFromRequest(req))
}
