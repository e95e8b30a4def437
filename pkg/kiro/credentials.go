package kiro

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
)

// Authentication methods accepted in the credentials file.
const (
	AuthMethodSocial    = "social"
	AuthMethodIdC       = "idc"
	AuthMethodBuilderID = "builder-id"
)

// DefaultCredentialsPath is where credentials are looked up when no
// --credentials flag is given.
const DefaultCredentialsPath = "credentials.json"

// Credentials holds the Kiro OAuth credential set. The token manager is the
// only mutator after load.
type Credentials struct {
	AccessToken  string `json:"accessToken,omitempty"`
	RefreshToken string `json:"refreshToken,omitempty"`
	ProfileArn   string `json:"profileArn,omitempty"`
	// ExpiresAt is an RFC3339 timestamp.
	ExpiresAt    string `json:"expiresAt,omitempty"`
	AuthMethod   string `json:"authMethod,omitempty"`
	ClientID     string `json:"clientId,omitempty"`
	ClientSecret string `json:"clientSecret,omitempty"`
}

// ParseCredentials decodes a credentials JSON document. Unknown keys are
// ignored.
func ParseCredentials(data []byte) (*Credentials, error) {
	var creds Credentials
	if err := json.Unmarshal(data, &creds); err != nil {
		return nil, fmt.Errorf("kiro: parse credentials: %w", err)
	}
	return &creds, nil
}

// LoadCredentials reads credentials from a JSON file.
func LoadCredentials(path string) (*Credentials, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("kiro: read credentials %s: %w", path, err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("kiro: credentials file %s is empty", path)
	}
	return ParseCredentials(data)
}

// CredentialsFromEnv builds credentials from environment variables. Returns
// nil when the minimum set (REFRESH_TOKEN and AUTH_METHOD) is absent.
func CredentialsFromEnv() *Credentials {
	refreshToken := os.Getenv("REFRESH_TOKEN")
	authMethod := os.Getenv("AUTH_METHOD")
	if refreshToken == "" || authMethod == "" {
		return nil
	}

	expiresAt := os.Getenv("EXPIRES_AT")
	if expiresAt == "" {
		// Force the first use through a refresh.
		expiresAt = "2000-01-01T00:00:00Z"
	}

	return &Credentials{
		AccessToken:  os.Getenv("ACCESS_TOKEN"),
		RefreshToken: refreshToken,
		ProfileArn:   os.Getenv("PROFILE_ARN"),
		ExpiresAt:    expiresAt,
		AuthMethod:   authMethod,
		ClientID:     os.Getenv("CLIENT_ID"),
		ClientSecret: os.Getenv("CLIENT_SECRET"),
	}
}

// LoadCredentialsWithEnvFallback prefers environment credentials and falls
// back to the file at path.
func LoadCredentialsWithEnvFallback(path string) (*Credentials, error) {
	if creds := CredentialsFromEnv(); creds != nil {
		return creds, nil
	}
	return LoadCredentials(path)
}

// CanRefresh reports whether this credential set carries enough material to
// refresh the access token: a refresh token for social auth, or the client
// id/secret/refresh-token triple for IdC.
func (c *Credentials) CanRefresh() bool {
	switch c.AuthMethod {
	case AuthMethodIdC:
		return c.ClientID != "" && c.ClientSecret != "" && c.RefreshToken != ""
	default:
		return c.RefreshToken != ""
	}
}

// Validate checks the refresh invariant up front so a broken credential file
// fails at startup instead of on the first expired token.
func (c *Credentials) Validate() error {
	if c.AccessToken == "" && !c.CanRefresh() {
		return errors.New("kiro: credentials carry neither an access token nor refresh material")
	}
	if c.AuthMethod == AuthMethodIdC && !c.CanRefresh() && c.RefreshToken != "" {
		return errors.New("kiro: idc auth requires clientId and clientSecret alongside the refresh token")
	}
	return nil
}
