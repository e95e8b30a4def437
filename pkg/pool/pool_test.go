package pool

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testAccount(id string) *Account {
	return NewAccount(id, id, nil, nil)
}

func testPool(strategy Strategy, ids ...string) *Pool {
	accounts := make([]*Account, len(ids))
	for i, id := range ids {
		accounts[i] = testAccount(id)
	}
	return New(accounts, strategy)
}

func TestAcquireRoundRobin(t *testing.T) {
	p := testPool(StrategyRoundRobin, "a", "b", "c")

	var order []string
	for i := 0; i < 6; i++ {
		lease, err := p.Acquire()
		require.NoError(t, err)
		order = append(order, lease.AccountID())
		lease.Success()
	}
	assert.Equal(t, []string{"a", "b", "c", "a", "b", "c"}, order)
}

func TestAcquireRandomStaysInSet(t *testing.T) {
	p := testPool(StrategyRandom, "a", "b")

	for i := 0; i < 20; i++ {
		lease, err := p.Acquire()
		require.NoError(t, err)
		assert.Contains(t, []string{"a", "b"}, lease.AccountID())
		lease.Success()
	}
}

func TestAcquireLeastUsed(t *testing.T) {
	p := testPool(StrategyLeastUsed, "a", "b")

	first, err := p.Acquire()
	require.NoError(t, err)
	first.Success()

	// "a" now has one use; least-used must pick "b".
	second, err := p.Acquire()
	require.NoError(t, err)
	assert.NotEqual(t, first.AccountID(), second.AccountID())
	second.Success()
}

func TestAcquireLeastUsedTieBreaksOnLastUse(t *testing.T) {
	p := testPool(StrategyLeastUsed, "a", "b")
	base := time.Now()

	// Equal request counts, but "b" was used earlier.
	p.accounts[0].RequestCount = 3
	p.accounts[0].LastUsedAt = base
	p.accounts[1].RequestCount = 3
	p.accounts[1].LastUsedAt = base.Add(-time.Hour)

	lease, err := p.Acquire()
	require.NoError(t, err)
	assert.Equal(t, "b", lease.AccountID())
}

func TestAcquireEmptyPool(t *testing.T) {
	p := New(nil, StrategyRoundRobin)
	_, err := p.Acquire()
	assert.ErrorIs(t, err, ErrNoAvailableAccount)
}

// S5: a rate-limited account cools down for five minutes, then returns.
func TestRateLimitCooldown(t *testing.T) {
	p := testPool(StrategyRoundRobin, "a", "b")

	now := time.Now()
	p.now = func() time.Time { return now }

	leaseA, err := p.Acquire()
	require.NoError(t, err)
	require.Equal(t, "a", leaseA.AccountID())
	leaseA.Failure(true)

	// "a" is cooling down; the next two acquisitions both land on "b".
	for i := 0; i < 2; i++ {
		lease, err := p.Acquire()
		require.NoError(t, err)
		assert.Equal(t, "b", lease.AccountID())
		lease.Success()
	}
	assert.Equal(t, 1, p.Stats().Cooldown)

	// Five minutes later "a" is available again.
	now = now.Add(CooldownDuration + time.Second)
	seen := map[string]bool{}
	for i := 0; i < 2; i++ {
		lease, err := p.Acquire()
		require.NoError(t, err)
		seen[lease.AccountID()] = true
		lease.Success()
	}
	assert.True(t, seen["a"])
	assert.Equal(t, 0, p.Stats().Cooldown)
}

func TestAllAccountsCoolingDown(t *testing.T) {
	p := testPool(StrategyRoundRobin, "a")
	now := time.Now()
	p.now = func() time.Time { return now }

	lease, err := p.Acquire()
	require.NoError(t, err)
	lease.Failure(true)

	_, err = p.Acquire()
	assert.ErrorIs(t, err, ErrNoAvailableAccount)
}

func TestInvalidateIsTerminal(t *testing.T) {
	p := testPool(StrategyRoundRobin, "a")
	now := time.Now()
	p.now = func() time.Time { return now }

	lease, err := p.Acquire()
	require.NoError(t, err)
	lease.Invalidate()

	// Not even a long wait brings an invalid account back.
	now = now.Add(24 * time.Hour)
	_, err = p.Acquire()
	assert.ErrorIs(t, err, ErrNoAvailableAccount)
}

func TestEnableLiftsOnlyDisabled(t *testing.T) {
	p := testPool(StrategyRoundRobin, "a", "b")

	require.NoError(t, p.Disable("a"))
	stats := p.Stats()
	assert.Equal(t, 1, stats.Disabled)

	require.NoError(t, p.Enable("a"))
	assert.Equal(t, 0, p.Stats().Disabled)

	// Enable does not resurrect an invalid account.
	lease, err := p.Acquire()
	require.NoError(t, err)
	id := lease.AccountID()
	lease.Invalidate()
	require.NoError(t, p.Enable(id))
	assert.Equal(t, 1, p.Stats().Invalid)
}

func TestEnableUnknownAccount(t *testing.T) {
	p := testPool(StrategyRoundRobin, "a")
	assert.Error(t, p.Enable("missing"))
}

func TestLeaseSettlesOnce(t *testing.T) {
	p := testPool(StrategyRoundRobin, "a")

	lease, err := p.Acquire()
	require.NoError(t, err)
	lease.Failure(true)
	lease.Success()       // ignored
	lease.Failure(false)  // ignored

	stats := p.Stats()
	assert.Equal(t, uint64(1), stats.TotalErrors)
	assert.Equal(t, 1, stats.Cooldown)
}

func TestStats(t *testing.T) {
	p := testPool(StrategyRoundRobin, "a", "b", "c")

	lease, err := p.Acquire()
	require.NoError(t, err)
	lease.Success()

	lease, err = p.Acquire()
	require.NoError(t, err)
	lease.Failure(true)

	stats := p.Stats()
	assert.Equal(t, 3, stats.Total)
	assert.Equal(t, 2, stats.Active)
	assert.Equal(t, 1, stats.Cooldown)
	assert.Equal(t, uint64(2), stats.TotalRequests)
	assert.Equal(t, uint64(1), stats.TotalErrors)
}

func TestCooldownLiftedOnAcquire(t *testing.T) {
	p := testPool(StrategyRoundRobin, "a")
	now := time.Now()
	p.now = func() time.Time { return now }

	lease, err := p.Acquire()
	require.NoError(t, err)
	lease.Failure(true)
	require.Equal(t, StatusCooldown, p.accounts[0].Status)

	now = now.Add(CooldownDuration + time.Minute)
	lease, err = p.Acquire()
	require.NoError(t, err)
	lease.Success()
	assert.Equal(t, StatusActive, p.accounts[0].Status)
}
