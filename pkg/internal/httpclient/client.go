// Package httpclient builds the HTTP clients the gateway uses for outbound
// calls, with shared transport defaults and optional proxy support.
package httpclient

import (
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// ProxyConfig describes an outbound proxy. Supported schemes: http, https,
// socks5.
type ProxyConfig struct {
	URL      string
	Username string
	Password string
}

// New builds an HTTP client with the given timeout. When proxy is non-nil it
// applies to every request the client issues.
func New(proxy *ProxyConfig, timeout time.Duration) (*http.Client, error) {
	transport := &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
	}

	if proxy != nil && proxy.URL != "" {
		proxyURL, err := url.Parse(proxy.URL)
		if err != nil {
			return nil, fmt.Errorf("httpclient: parse proxy url: %w", err)
		}
		if proxy.Username != "" {
			proxyURL.User = url.UserPassword(proxy.Username, proxy.Password)
		}
		transport.Proxy = http.ProxyURL(proxyURL)
	}

	return &http.Client{
		Timeout:   timeout,
		Transport: transport,
	}, nil
}
