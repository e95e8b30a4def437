package tokencount

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/openkiro/kirogate/pkg/anthropic"
	"github.com/openkiro/kirogate/pkg/config"
	"github.com/openkiro/kirogate/pkg/internal/httpclient"
)

const remoteTimeout = 300 * time.Second

// Counter estimates request tokens, delegating to a remote count-tokens
// endpoint when one is configured and falling back to the local heuristic on
// any failure.
type Counter struct {
	apiURL   string
	apiKey   string
	authType string
	client   *http.Client
	logger   *slog.Logger
}

// NewCounter builds a counter from the gateway configuration. The configured
// proxy applies to remote counting calls.
func NewCounter(cfg *config.Config, logger *slog.Logger) (*Counter, error) {
	var proxy *httpclient.ProxyConfig
	if cfg.ProxyURL != "" {
		proxy = &httpclient.ProxyConfig{URL: cfg.ProxyURL, Username: cfg.ProxyUsername, Password: cfg.ProxyPassword}
	}
	client, err := httpclient.New(proxy, remoteTimeout)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Counter{
		apiURL:   cfg.CountTokensAPIURL,
		apiKey:   cfg.CountTokensAPIKey,
		authType: cfg.CountTokensAuthType,
		client:   client,
		logger:   logger,
	}, nil
}

// Count estimates the input tokens for a request.
func (c *Counter) Count(ctx context.Context, model string, system anthropic.SystemPrompt, messages []anthropic.Message, tools []anthropic.Tool) int {
	if c.apiURL != "" {
		if tokens, err := c.countRemote(ctx, model, system, messages, tools); err == nil {
			return tokens
		} else {
			c.logger.Warn("remote count_tokens failed, falling back to local estimate", "error", err)
		}
	}
	return CountRequest(system, messages, tools)
}

func (c *Counter) countRemote(ctx context.Context, model string, system anthropic.SystemPrompt, messages []anthropic.Message, tools []anthropic.Tool) (int, error) {
	body, err := json.Marshal(anthropic.CountTokensRequest{
		Model:    model,
		Messages: messages,
		System:   system,
		Tools:    tools,
	})
	if err != nil {
		return 0, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		if c.authType == "bearer" {
			req.Header.Set("Authorization", "Bearer "+c.apiKey)
		} else {
			req.Header.Set("x-api-key", c.apiKey)
		}
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, err
	}
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("tokencount: remote returned HTTP %d", resp.StatusCode)
	}

	var result anthropic.CountTokensResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return 0, err
	}
	return result.InputTokens, nil
}
