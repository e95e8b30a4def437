package pool

import (
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"
)

// Strategy selects which available account serves the next request.
type Strategy string

// Selection strategies.
const (
	StrategyRoundRobin Strategy = "round-robin"
	StrategyRandom     Strategy = "random"
	StrategyLeastUsed  Strategy = "least-used"
)

// ErrNoAvailableAccount means every pooled account is cooling down, invalid,
// or disabled.
var ErrNoAvailableAccount = errors.New("pool: no available account")

// Pool holds the account list and selection state. The single mutex covers
// the cursor and per-account counters only; it is never held across I/O.
type Pool struct {
	mu       sync.Mutex
	accounts []*Account
	strategy Strategy
	cursor   int

	// now is replaceable in tests.
	now func() time.Time
}

// New builds a pool. An empty strategy defaults to round-robin.
func New(accounts []*Account, strategy Strategy) *Pool {
	if strategy == "" {
		strategy = StrategyRoundRobin
	}
	return &Pool{
		accounts: accounts,
		strategy: strategy,
		now:      time.Now,
	}
}

// Size returns the total number of accounts, available or not.
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.accounts)
}

// Acquire selects an available account, bumps its usage, and returns a lease
// whose Success/Failure hooks feed the account's counters back.
func (p *Pool) Acquire() (*Lease, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	available := make([]*Account, 0, len(p.accounts))
	for _, acct := range p.accounts {
		if acct.available(now) {
			available = append(available, acct)
		}
	}
	if len(available) == 0 {
		return nil, ErrNoAvailableAccount
	}

	var selected *Account
	switch p.strategy {
	case StrategyRandom:
		selected = available[rand.Intn(len(available))]
	case StrategyLeastUsed:
		selected = leastUsed(available)
	default:
		selected = available[p.cursor%len(available)]
		p.cursor++
	}

	selected.recordUse(now)
	return &Lease{pool: p, account: selected}, nil
}

// leastUsed picks the minimum request count, breaking ties on the earliest
// last use (a never-used account wins outright).
func leastUsed(accounts []*Account) *Account {
	selected := accounts[0]
	for _, acct := range accounts[1:] {
		if acct.RequestCount < selected.RequestCount {
			selected = acct
			continue
		}
		if acct.RequestCount == selected.RequestCount && acct.LastUsedAt.Before(selected.LastUsedAt) {
			selected = acct
		}
	}
	return selected
}

// Enable lifts a Disabled account back into rotation.
func (p *Pool) Enable(id string) error {
	return p.withAccount(id, func(a *Account) { a.enable() })
}

// Disable takes an account out of rotation.
func (p *Pool) Disable(id string) error {
	return p.withAccount(id, func(a *Account) { a.disable() })
}

func (p *Pool) withAccount(id string, fn func(*Account)) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, acct := range p.accounts {
		if acct.ID == id {
			fn(acct)
			return nil
		}
	}
	return fmt.Errorf("pool: unknown account %q", id)
}

// Stats summarizes the pool.
type Stats struct {
	Total         int    `json:"total"`
	Active        int    `json:"active"`
	Cooldown      int    `json:"cooldown"`
	Invalid       int    `json:"invalid"`
	Disabled      int    `json:"disabled"`
	TotalRequests uint64 `json:"totalRequests"`
	TotalErrors   uint64 `json:"totalErrors"`
}

// Stats returns per-status totals and aggregate counters.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	stats := Stats{Total: len(p.accounts)}
	for _, acct := range p.accounts {
		switch acct.Status {
		case StatusActive:
			stats.Active++
		case StatusCooldown:
			stats.Cooldown++
		case StatusInvalid:
			stats.Invalid++
		case StatusDisabled:
			stats.Disabled++
		}
		stats.TotalRequests += acct.RequestCount
		stats.TotalErrors += acct.ErrorCount
	}
	return stats
}

// Lease is one acquisition of an account. Exactly one of Success, Failure,
// or Invalidate should be called; extra calls are ignored.
type Lease struct {
	pool    *Pool
	account *Account
	settled bool
}

// AccountID identifies the leased account.
func (l *Lease) AccountID() string { return l.account.ID }

// AccountName is the leased account's display name.
func (l *Lease) AccountName() string { return l.account.Name }

// Account exposes the leased account's provider and token manager.
func (l *Lease) Account() *Account { return l.account }

// Success reports a completed request.
func (l *Lease) Success() {
	l.settle(func(a *Account) {})
}

// Failure reports a failed request; a rate limit sends the account into
// cooldown.
func (l *Lease) Failure(rateLimited bool) {
	now := l.pool.now()
	l.settle(func(a *Account) { a.recordError(now, rateLimited) })
}

// Invalidate reports that the account's credentials no longer refresh; the
// account leaves rotation until operator action.
func (l *Lease) Invalidate() {
	now := l.pool.now()
	l.settle(func(a *Account) {
		a.recordError(now, false)
		a.markInvalid()
	})
}

func (l *Lease) settle(fn func(*Account)) {
	l.pool.mu.Lock()
	defer l.pool.mu.Unlock()
	if l.settled {
		return
	}
	l.settled = true
	fn(l.account)
}
