// Package priceoracle defines the external price feed contract and a
// staleness-guarded cache in front of it: callers get the last good
// sample, or an error once it is older than the configured limit.
package priceoracle

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"icusdprotocol/numeric"
)

// minRefreshInterval caps how often Refresh actually dials the oracle: a
// burst of manual refreshes from an admin tool or test cannot exceed this
// cadence, the scheduled background refresh runs well under it.
const minRefreshInterval = 10 * time.Second

// Oracle is the external collaborator supplying the ICP/USD quote, per the
// protocol's external interfaces. No transport is implemented here; a real
// deployment wires this to the canister's inter-canister call.
type Oracle interface {
	// GetICPUSD returns the current ICP/USD price and the time it was
	// observed.
	GetICPUSD(ctx context.Context) (numeric.Price, time.Time, error)
}

// Cache fronts an Oracle with a staleness guard: callers read the last
// fetched quote without blocking on a fresh oracle call on every vault
// operation, and Refresh is invoked on a schedule.
type Cache struct {
	mu         sync.RWMutex
	oracle     Oracle
	staleAfter time.Duration
	limiter    *rate.Limiter
	price      numeric.Price
	observedAt time.Time
}

// NewCache constructs a Cache that treats a quote as stale once it is older
// than staleAfter.
func NewCache(oracle Oracle, staleAfter time.Duration) *Cache {
	return &Cache{
		oracle:     oracle,
		staleAfter: staleAfter,
		limiter:    rate.NewLimiter(rate.Every(minRefreshInterval), 1),
	}
}

// Refresh fetches a new quote from the oracle and stores it. Calls landing
// inside the rate limit keep the previous sample and report no error.
func (c *Cache) Refresh(ctx context.Context) error {
	if !c.limiter.Allow() {
		return nil
	}
	price, observedAt, err := c.oracle.GetICPUSD(ctx)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.price = price
	c.observedAt = observedAt
	return nil
}

// Current returns the last fetched price, failing with numeric.ErrPriceStale
// if it is older than the configured threshold relative to now.
func (c *Cache) Current(now time.Time) (numeric.Price, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.observedAt.IsZero() {
		return numeric.Price{}, numeric.ErrPriceStale
	}
	if now.Sub(c.observedAt) > c.staleAfter {
		return numeric.Price{}, numeric.ErrPriceStale
	}
	return c.price, nil
}

// Age reports how long ago the cached quote was observed.
func (c *Cache) Age(now time.Time) time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.observedAt.IsZero() {
		return time.Duration(1<<63 - 1)
	}
	return now.Sub(c.observedAt)
}

// Set seeds the cache directly, bypassing the Oracle, for tests and for a
// local dev process that has no oracle canister to poll.
func (c *Cache) Set(price numeric.Price, observedAt time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.price = price
	c.observedAt = observedAt
}

// StaticOracle is a fixed-price Oracle implementation used by tests and by
// a local dev deployment. A real deployment wires Cache to an
// inter-canister XRC client instead.
type StaticOracle struct {
	Price      numeric.Price
	ObservedAt time.Time
}

// GetICPUSD implements Oracle.
func (o StaticOracle) GetICPUSD(context.Context) (numeric.Price, time.Time, error) {
	return o.Price, o.ObservedAt, nil
}
