package kiro

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openkiro/kirogate/pkg/config"
)

func TestSha256Hex(t *testing.T) {
	got := sha256Hex("test")
	assert.Len(t, got, 64)
	assert.Equal(t, "9f86d081884c7d659a2feaa0c55ad015a3bf4f1b2b0b822cd15d6c15b0f00a08", got)
}

func TestIsValidProfileArn(t *testing.T) {
	assert.True(t, isValidProfileArn("arn:aws:sso::123456789:profile/test"))
	assert.False(t, isValidProfileArn("invalid"))
	assert.False(t, isValidProfileArn("arn:aws:sso::123456789"))
	assert.False(t, isValidProfileArn(""))
}

func TestMachineIDConfigOverride(t *testing.T) {
	cfg := &config.Config{MachineID: strings.Repeat("a", 64)}

	id, err := MachineID(&Credentials{}, cfg)
	require.NoError(t, err)
	assert.Equal(t, strings.Repeat("a", 64), id)
}

func TestMachineIDFromProfileArn(t *testing.T) {
	creds := &Credentials{
		ProfileArn:   "arn:aws:sso::123456789:profile/test",
		RefreshToken: "also-present",
	}

	id, err := MachineID(creds, &config.Config{})
	require.NoError(t, err)
	assert.Len(t, id, 64)
	// The ARN takes precedence over the refresh token.
	assert.Equal(t, sha256Hex("KotlinNativeAPI/arn:aws:sso::123456789:profile/test"), id)
}

func TestMachineIDFromRefreshToken(t *testing.T) {
	creds := &Credentials{RefreshToken: "refresh-token-value"}

	id, err := MachineID(creds, &config.Config{})
	require.NoError(t, err)
	assert.Equal(t, sha256Hex("KotlinNativeAPI/refresh-token-value"), id)
}

func TestMachineIDInvalidArnFallsThrough(t *testing.T) {
	creds := &Credentials{ProfileArn: "not-an-arn", RefreshToken: "r"}

	id, err := MachineID(creds, &config.Config{})
	require.NoError(t, err)
	assert.Equal(t, sha256Hex("KotlinNativeAPI/r"), id)
}

func TestMachineIDNoSource(t *testing.T) {
	_, err := MachineID(&Credentials{}, &config.Config{})
	assert.ErrorIs(t, err, ErrNoFingerprintSource)
}

func TestMachineIDShortOverrideIgnored(t *testing.T) {
	cfg := &config.Config{MachineID: "deadbeef"}
	creds := &Credentials{RefreshToken: "r"}

	id, err := MachineID(creds, cfg)
	require.NoError(t, err)
	assert.Equal(t, sha256Hex("KotlinNativeAPI/r"), id)
}
