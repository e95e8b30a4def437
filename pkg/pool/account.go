// Package pool manages a set of credentialed upstream accounts with
// selection strategies, cooldown on rate limits, and usage accounting.
package pool

import (
	"time"

	"github.com/openkiro/kirogate/pkg/kiro"
)

// Status is an account lifecycle state.
type Status string

// Account states. Invalid and Disabled are terminal except via explicit
// operator action; Enable lifts only Disabled.
const (
	StatusActive   Status = "active"
	StatusCooldown Status = "cooldown"
	StatusInvalid  Status = "invalid"
	StatusDisabled Status = "disabled"
)

// CooldownDuration is how long a rate-limited account sits out.
const CooldownDuration = 5 * time.Minute

// Account is one pooled credential set plus its runtime counters. All fields
// are guarded by the owning pool's lock.
type Account struct {
	ID           string
	Name         string
	Status       Status
	RequestCount uint64
	ErrorCount   uint64
	// LastUsedAt is zero until the first acquisition.
	LastUsedAt    time.Time
	CooldownUntil time.Time
	CreatedAt     time.Time

	tokenManager *kiro.TokenManager
	provider     *kiro.Provider
}

// NewAccount wires an account around its token manager and provider.
func NewAccount(id, name string, tm *kiro.TokenManager, provider *kiro.Provider) *Account {
	return &Account{
		ID:           id,
		Name:         name,
		Status:       StatusActive,
		CreatedAt:    time.Now(),
		tokenManager: tm,
		provider:     provider,
	}
}

// TokenManager returns the account's token manager.
func (a *Account) TokenManager() *kiro.TokenManager { return a.tokenManager }

// Provider returns the account's provider.
func (a *Account) Provider() *kiro.Provider { return a.provider }

// available reports whether the account can serve a request at now: Active,
// or Cooldown whose window has passed.
func (a *Account) available(now time.Time) bool {
	switch a.Status {
	case StatusActive:
		return true
	case StatusCooldown:
		return !now.Before(a.CooldownUntil)
	}
	return false
}

// recordUse bumps counters on acquisition and lifts an expired cooldown.
func (a *Account) recordUse(now time.Time) {
	a.RequestCount++
	a.LastUsedAt = now
	if a.Status == StatusCooldown && !now.Before(a.CooldownUntil) {
		a.Status = StatusActive
		a.CooldownUntil = time.Time{}
	}
}

// recordError bumps the error counter; a rate limit puts the account in
// cooldown.
func (a *Account) recordError(now time.Time, rateLimited bool) {
	a.ErrorCount++
	if rateLimited {
		a.Status = StatusCooldown
		a.CooldownUntil = now.Add(CooldownDuration)
	}
}

// markInvalid is terminal: refresh material for this account no longer works.
func (a *Account) markInvalid() {
	a.Status = StatusInvalid
}

// enable lifts a Disabled account back to Active. Other states are left
// untouched.
func (a *Account) enable() {
	if a.Status == StatusDisabled {
		a.Status = StatusActive
	}
}

// disable takes the account out of rotation until an operator re-enables it.
func (a *Account) disable() {
	a.Status = StatusDisabled
}
