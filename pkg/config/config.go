// Package config loads gateway configuration from a camelCase JSON file with
// environment-variable overrides.
package config

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"strconv"
)

// DefaultConfigPath is where configuration is looked up when no --config flag
// is given.
const DefaultConfigPath = "config.json"

// systemVersions are the OS identifiers the upstream user-agent is built
// from; one is picked at random when none is configured.
var systemVersions = []string{"darwin#24.6.0", "win32#10.0.22631"}

// DefaultModelMap maps public Anthropic model ids to vendor model ids.
// Unknown models pass through unchanged.
var DefaultModelMap = map[string]string{
	"claude-sonnet-4-20250514":   "CLAUDE_SONNET_4_20250514_V1_0",
	"claude-sonnet-4-5-20250929": "CLAUDE_SONNET_4_5_20250929_V1_0",
	"claude-3-7-sonnet-20250219": "CLAUDE_3_7_SONNET_20250219_V1_0",
	"claude-haiku-4-5-20251001":  "CLAUDE_HAIKU_4_5_20251001_V1_0",
	"claude-3-5-sonnet-20241022": "CLAUDE_3_7_SONNET_20250219_V1_0",
	"claude-3-5-haiku-20241022":  "CLAUDE_HAIKU_4_5_20251001_V1_0",
}

// Config is the gateway configuration. Immutable after load.
type Config struct {
	Host        string `json:"host"`
	Port        int    `json:"port"`
	Region      string `json:"region"`
	KiroVersion string `json:"kiroVersion"`

	// MachineID overrides the derived machine fingerprint. Must be exactly
	// 64 hex characters when set.
	MachineID string `json:"machineId,omitempty"`

	APIKey string `json:"apiKey,omitempty"`

	SystemVersion string `json:"systemVersion"`
	NodeVersion   string `json:"nodeVersion"`

	// RefreshURL is the social token-refresh endpoint. It is not derivable
	// from the region and must be configured for social-auth credentials.
	RefreshURL string `json:"refreshUrl,omitempty"`

	CountTokensAPIURL   string `json:"countTokensApiUrl,omitempty"`
	CountTokensAPIKey   string `json:"countTokensApiKey,omitempty"`
	CountTokensAuthType string `json:"countTokensAuthType"`

	ProxyURL      string `json:"proxyUrl,omitempty"`
	ProxyUsername string `json:"proxyUsername,omitempty"`
	ProxyPassword string `json:"proxyPassword,omitempty"`

	// ModelMap overrides/extends DefaultModelMap.
	ModelMap map[string]string `json:"modelMap,omitempty"`

	// AccountsFile enables the multi-account pool: a JSON array of
	// credential sets with display names.
	AccountsFile string `json:"accountsFile,omitempty"`

	// Strategy selects accounts from the pool: "round-robin" (default),
	// "random", or "least-used".
	Strategy string `json:"strategy,omitempty"`

	// UpstreamRPS throttles outbound assistant-response calls across all
	// accounts. Zero disables the limiter.
	UpstreamRPS float64 `json:"upstreamRps,omitempty"`

	// OTLPEndpoint enables trace export when set (host:port of an OTLP HTTP
	// collector).
	OTLPEndpoint string `json:"otlpEndpoint,omitempty"`

	LogLevel  string `json:"logLevel,omitempty"`
	LogFormat string `json:"logFormat,omitempty"`
}

// Default returns a configuration with every defaulted field populated.
func Default() *Config {
	return &Config{
		Host:                "0.0.0.0",
		Port:                8080,
		Region:              "us-east-1",
		KiroVersion:         "0.8.0",
		SystemVersion:       systemVersions[rand.Intn(len(systemVersions))],
		NodeVersion:         "22.21.1",
		CountTokensAuthType: "x-api-key",
	}
}

// Load reads configuration from path, applying defaults for absent fields. A
// missing file yields the default configuration; env overrides still apply.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.OverrideFromEnv()
			return cfg, nil
		}
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	cfg.OverrideFromEnv()
	return cfg, nil
}

// OverrideFromEnv applies environment-variable overrides for the connection,
// upstream-identity, count-tokens, proxy and refresh-URL fields. modelMap,
// accountsFile, strategy, upstreamRps, otlpEndpoint, logLevel and logFormat
// have no environment override.
func (c *Config) OverrideFromEnv() {
	setString := func(dst *string, key string) {
		if v, ok := os.LookupEnv(key); ok {
			*dst = v
		}
	}

	setString(&c.Host, "HOST")
	if v, ok := os.LookupEnv("PORT"); ok {
		if p, err := strconv.Atoi(v); err == nil {
			c.Port = p
		}
	}
	setString(&c.Region, "REGION")
	setString(&c.APIKey, "API_KEY")
	setString(&c.KiroVersion, "KIRO_VERSION")
	setString(&c.MachineID, "MACHINE_ID")
	setString(&c.SystemVersion, "SYSTEM_VERSION")
	setString(&c.NodeVersion, "NODE_VERSION")
	setString(&c.RefreshURL, "REFRESH_URL")
	setString(&c.CountTokensAPIURL, "COUNT_TOKENS_API_URL")
	setString(&c.CountTokensAPIKey, "COUNT_TOKENS_API_KEY")
	setString(&c.CountTokensAuthType, "COUNT_TOKENS_AUTH_TYPE")
	setString(&c.ProxyURL, "PROXY_URL")
	setString(&c.ProxyUsername, "PROXY_USERNAME")
	setString(&c.ProxyPassword, "PROXY_PASSWORD")
}

// Validate rejects configurations the gateway cannot run with.
func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("config: port %d out of range", c.Port)
	}
	if c.MachineID != "" && !isHex64(c.MachineID) {
		return fmt.Errorf("config: machineId must be exactly 64 hex characters, got %d", len(c.MachineID))
	}
	switch c.Strategy {
	case "", "round-robin", "random", "least-used":
	default:
		return fmt.Errorf("config: unknown strategy %q", c.Strategy)
	}
	switch c.CountTokensAuthType {
	case "", "x-api-key", "bearer":
	default:
		return fmt.Errorf("config: countTokensAuthType must be %q or %q", "x-api-key", "bearer")
	}
	return nil
}

// ResolveModel maps a public model id to the vendor model id. Explicit
// modelMap entries win over the built-in table; unknown ids pass through
// unchanged.
func (c *Config) ResolveModel(model string) string {
	if mapped, ok := c.ModelMap[model]; ok {
		return mapped
	}
	if mapped, ok := DefaultModelMap[model]; ok {
		return mapped
	}
	return model
}

// Models lists the public model ids the gateway advertises: the built-in
// table plus configured extensions, sorted for stable output by the caller.
func (c *Config) Models() []string {
	seen := make(map[string]bool)
	var models []string
	for id := range DefaultModelMap {
		if !seen[id] {
			seen[id] = true
			models = append(models, id)
		}
	}
	for id := range c.ModelMap {
		if !seen[id] {
			seen[id] = true
			models = append(models, id)
		}
	}
	return models
}

func isHex64(s string) bool {
	if len(s) != 64 {
		return false
	}
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9', r >= 'a' && r <= 'f', r >= 'A' && r <= 'F':
		default:
			return false
		}
	}
	return true
}
