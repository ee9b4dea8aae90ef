package risk

import (
	"context"
	"sync"
	"time"

	"tradehook/pkg/db"
)

const counterCacheTTL = 2 * time.Minute

type counterKey struct {
	accountID string
	venue     string
}

type cachedCounters struct {
	dailyLoss  float64
	weeklyLoss float64
	weeklyN    int
	fetchedAt  time.Time
}

// Counters derives loss and trade-count figures from the trade ledger and
// caches them briefly so every webhook does not hit the database four times.
// Consecutive-failure counts live only in memory; a restart resets them,
// which errs on the permissive side and is acceptable because the ledger
// limits still apply.
type Counters struct {
	database *db.Database

	mu       sync.Mutex
	cache    map[counterKey]cachedCounters
	failures map[counterKey]int
}

func NewCounters(database *db.Database) *Counters {
	return &Counters{
		database: database,
		cache:    make(map[counterKey]cachedCounters),
		failures: make(map[counterKey]int),
	}
}

// Snapshot returns the current counters for one account and venue.
// OpenPositions is left zero; the caller fills it from the position store.
func (c *Counters) Snapshot(ctx context.Context, accountID, venue string) (Snapshot, error) {
	key := counterKey{accountID, venue}

	c.mu.Lock()
	cached, ok := c.cache[key]
	fails := c.failures[key]
	c.mu.Unlock()

	if !ok || time.Since(cached.fetchedAt) > counterCacheTTL {
		now := time.Now().UTC()
		dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
		weekStart := startOfWeek(now)

		dailyLoss, err := c.database.RealizedLossSince(ctx, accountID, venue, dayStart)
		if err != nil {
			return Snapshot{}, err
		}
		weeklyLoss, err := c.database.RealizedLossSince(ctx, accountID, venue, weekStart)
		if err != nil {
			return Snapshot{}, err
		}
		weeklyN, err := c.database.TradeCountSince(ctx, accountID, venue, weekStart)
		if err != nil {
			return Snapshot{}, err
		}
		cached = cachedCounters{dailyLoss: dailyLoss, weeklyLoss: weeklyLoss, weeklyN: weeklyN, fetchedAt: now}

		c.mu.Lock()
		c.cache[key] = cached
		c.mu.Unlock()
	}

	return Snapshot{
		DailyLossUSD:        cached.dailyLoss,
		WeeklyLossUSD:       cached.weeklyLoss,
		WeeklyTradeCount:    cached.weeklyN,
		ConsecutiveFailures: fails,
	}, nil
}

// RecordFailure bumps the consecutive-failure count after a failed order.
func (c *Counters) RecordFailure(accountID, venue string) {
	c.mu.Lock()
	c.failures[counterKey{accountID, venue}]++
	c.mu.Unlock()
}

// RecordSuccess resets the failure streak and drops the cached ledger
// counters, since a fill changes them.
func (c *Counters) RecordSuccess(accountID, venue string) {
	key := counterKey{accountID, venue}
	c.mu.Lock()
	delete(c.failures, key)
	delete(c.cache, key)
	c.mu.Unlock()
}

// Invalidate drops the cached ledger counters so the next snapshot re-reads
// the database. Called after any ledger append outside the happy path.
func (c *Counters) Invalidate(accountID, venue string) {
	c.mu.Lock()
	delete(c.cache, counterKey{accountID, venue})
	c.mu.Unlock()
}

// startOfWeek returns Monday 00:00 UTC of the week containing t.
func startOfWeek(t time.Time) time.Time {
	day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	offset := (int(day.Weekday()) + 6) % 7
	return day.AddDate(0, 0, -offset)
}
