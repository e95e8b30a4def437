package kiro

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/time/rate"

	"github.com/openkiro/kirogate/pkg/config"
	"github.com/openkiro/kirogate/pkg/internal/httpclient"
	"github.com/openkiro/kirogate/pkg/telemetry"
)

// callTimeout bounds one assistant-response call, streaming included.
const callTimeout = 720 * time.Second

// sdkVersion is the aws-sdk-js version string the upstream expects in
// user-agent headers.
const sdkVersion = "1.0.27"

// UpstreamError is a non-2xx reply from the assistant-response endpoint.
type UpstreamError struct {
	StatusCode int
	Body       string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("kiro: upstream returned HTTP %d: %s", e.StatusCode, e.Body)
}

// IsRateLimit reports whether err is an upstream HTTP 429.
func IsRateLimit(err error) bool {
	var ue *UpstreamError
	return errors.As(err, &ue) && ue.StatusCode == http.StatusTooManyRequests
}

// Provider issues authenticated calls to the Kiro assistant-response API.
type Provider struct {
	tm      *TokenManager
	cfg     *config.Config
	client  *http.Client
	limiter *rate.Limiter

	// baseURL overrides the regional endpoint; tests point it at a local
	// server.
	baseURL string
}

// NewProvider builds a provider around a token manager. limiter may be nil.
func NewProvider(cfg *config.Config, tm *TokenManager, limiter *rate.Limiter) (*Provider, error) {
	var proxy *httpclient.ProxyConfig
	if cfg.ProxyURL != "" {
		proxy = &httpclient.ProxyConfig{URL: cfg.ProxyURL, Username: cfg.ProxyUsername, Password: cfg.ProxyPassword}
	}
	client, err := httpclient.New(proxy, callTimeout)
	if err != nil {
		return nil, err
	}

	return &Provider{
		tm:      tm,
		cfg:     cfg,
		client:  client,
		limiter: limiter,
	}, nil
}

// TokenManager returns the provider's token manager.
func (p *Provider) TokenManager() *TokenManager {
	return p.tm
}

// BaseURL is the regional assistant-response endpoint.
func (p *Provider) BaseURL() string {
	if p.baseURL != "" {
		return p.baseURL
	}
	return fmt.Sprintf("https://%s/generateAssistantResponse", p.baseDomain())
}

func (p *Provider) baseDomain() string {
	return fmt.Sprintf("q.%s.amazonaws.com", p.cfg.Region)
}

// buildHeaders assembles the IDE-impersonating header set.
func (p *Provider) buildHeaders(token string) (http.Header, error) {
	creds := p.tm.Credentials()
	machineID, err := MachineID(&creds, p.cfg)
	if err != nil {
		return nil, err
	}

	ideTag := fmt.Sprintf("KiroIDE-%s-%s", p.cfg.KiroVersion, machineID)

	headers := make(http.Header)
	headers.Set("Content-Type", "application/json")
	headers.Set("Authorization", "Bearer "+token)
	headers.Set("x-amzn-codewhisperer-optout", "true")
	headers.Set("x-amzn-kiro-agent-mode", "vibe")
	headers.Set("x-amz-user-agent", fmt.Sprintf("aws-sdk-js/%s %s", sdkVersion, ideTag))
	headers.Set("User-Agent", fmt.Sprintf(
		"aws-sdk-js/%s ua/2.1 os/%s lang/js md/nodejs#%s api/codewhispererstreaming#%s m/E %s",
		sdkVersion, p.cfg.SystemVersion, p.cfg.NodeVersion, sdkVersion, ideTag))
	headers.Set("amz-sdk-invocation-id", uuid.NewString())
	headers.Set("amz-sdk-request", "attempt=1; max=3")
	headers.Set("Connection", "close")

	return headers, nil
}

// CallStream POSTs a conversation body and returns the raw response. The body
// is a binary event stream; the caller owns closing it. Non-2xx replies are
// drained and returned as *UpstreamError.
func (p *Provider) CallStream(ctx context.Context, requestBody []byte) (*http.Response, error) {
	ctx, span := telemetry.Tracer().Start(ctx, "kiro.generateAssistantResponse")
	defer span.End()
	span.SetAttributes(
		attribute.String("kiro.region", p.cfg.Region),
		attribute.Int("kiro.request_bytes", len(requestBody)),
	)

	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("kiro: rate limiter: %w", err)
		}
	}

	token, err := p.tm.EnsureValidToken(ctx)
	if err != nil {
		span.SetStatus(codes.Error, "token refresh failed")
		return nil, err
	}

	headers, err := p.buildHeaders(token)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.BaseURL(), bytes.NewReader(requestBody))
	if err != nil {
		return nil, fmt.Errorf("kiro: build request: %w", err)
	}
	req.Header = headers
	req.Host = p.baseDomain()
	// connection: close keeps a cancelled stream from being returned to the
	// connection pool mid-body.
	req.Close = true

	resp, err := p.client.Do(req)
	if err != nil {
		span.SetStatus(codes.Error, "transport failure")
		return nil, fmt.Errorf("kiro: call upstream: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
		resp.Body.Close()
		span.SetStatus(codes.Error, fmt.Sprintf("HTTP %d", resp.StatusCode))
		return nil, &UpstreamError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	return resp, nil
}
