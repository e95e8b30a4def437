package kiro

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"

	"github.com/openkiro/kirogate/pkg/config"
)

// fingerprintPrefix is the fixed salt the upstream IDE uses when deriving the
// machine fingerprint.
const fingerprintPrefix = "KotlinNativeAPI/"

// ErrNoFingerprintSource means neither a machine-id override, a profile ARN,
// nor a refresh token was available to derive the fingerprint from.
var ErrNoFingerprintSource = errors.New("kiro: no material available to derive a machine id")

// MachineID derives the 64-hex machine fingerprint sent in user-agent
// headers. Precedence: config override (when exactly 64 chars), profile ARN,
// refresh token.
func MachineID(creds *Credentials, cfg *config.Config) (string, error) {
	if len(cfg.MachineID) == 64 {
		return cfg.MachineID, nil
	}

	if isValidProfileArn(creds.ProfileArn) {
		return sha256Hex(fingerprintPrefix + creds.ProfileArn), nil
	}

	if creds.RefreshToken != "" {
		return sha256Hex(fingerprintPrefix + creds.RefreshToken), nil
	}

	return "", ErrNoFingerprintSource
}

// isValidProfileArn accepts AWS-style profile ARNs: arn:aws...profile/...
func isValidProfileArn(arn string) bool {
	return arn != "" && strings.HasPrefix(arn, "arn:aws") && strings.Contains(arn, "profile/")
}

func sha256Hex(input string) string {
	sum := sha256.Sum256([]byte(input))
	return hex.EncodeToString(sum[:])
}
