package cache

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"
)

// DegradingCache wraps a primary backend (normally Redis) with a fallback
// (normally an LRUCache). Once the primary fails, every subsequent
// operation is routed to the fallback — there is no automatic recovery;
// an operator restart is required to retry the primary (spec.md §4.3: the
// transition is one-way).
type DegradingCache struct {
	primary  Cache
	fallback Cache
	logger   *log.Logger

	degraded  atomic.Bool
	warnOnce  sync.Once

	hits, misses, errs atomic.Int64
}

// NewDegradingCache wires primary in front of fallback.
func NewDegradingCache(primary, fallback Cache, logger *log.Logger) *DegradingCache {
	if logger == nil {
		logger = log.New(log.Writer(), "", log.LstdFlags)
	}
	return &DegradingCache{primary: primary, fallback: fallback, logger: logger}
}

func (c *DegradingCache) active() Cache {
	if c.degraded.Load() {
		return c.fallback
	}
	return c.primary
}

// degrade flips the cache into fallback-only mode permanently. Safe to call
// repeatedly; only the first caller logs.
func (c *DegradingCache) degrade(cause error) {
	c.degraded.Store(true)
	c.warnOnce.Do(func() {
		c.logger.Printf("[cache] primary backend unreachable, degrading to fallback permanently: %v", cause)
	})
}

func (c *DegradingCache) Get(ctx context.Context, key string) ([]byte, error) {
	if !c.degraded.Load() {
		v, err := c.primary.Get(ctx, key)
		switch {
		case err == nil:
			c.hits.Add(1)
			return v, nil
		case err == ErrNotFound:
			c.misses.Add(1)
			return nil, ErrNotFound
		default:
			c.errs.Add(1)
			c.degrade(err)
		}
	}
	v, err := c.fallback.Get(ctx, key)
	if err == nil {
		c.hits.Add(1)
	} else if err == ErrNotFound {
		c.misses.Add(1)
	}
	return v, err
}

func (c *DegradingCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if !c.degraded.Load() {
		if err := c.primary.Set(ctx, key, value, ttl); err != nil {
			c.errs.Add(1)
			c.degrade(err)
		} else {
			return nil
		}
	}
	return c.fallback.Set(ctx, key, value, ttl)
}

func (c *DegradingCache) Delete(ctx context.Context, key string) error {
	if !c.degraded.Load() {
		if err := c.primary.Delete(ctx, key); err != nil {
			c.errs.Add(1)
			c.degrade(err)
		} else {
			return nil
		}
	}
	return c.fallback.Delete(ctx, key)
}

// DeleteByPattern removes every matching key, degrading on a primary error
// the same way Set and Delete do.
func (c *DegradingCache) DeleteByPattern(ctx context.Context, prefix string) error {
	if !c.degraded.Load() {
		if err := c.primary.DeleteByPattern(ctx, prefix); err != nil {
			c.errs.Add(1)
			c.degrade(err)
		} else {
			return nil
		}
	}
	return c.fallback.DeleteByPattern(ctx, prefix)
}

// Clear wipes the active backend, degrading on a primary error the same way
// Set and Delete do.
func (c *DegradingCache) Clear(ctx context.Context) error {
	if !c.degraded.Load() {
		if err := c.primary.Clear(ctx); err != nil {
			c.errs.Add(1)
			c.degrade(err)
		} else {
			return nil
		}
	}
	return c.fallback.Clear(ctx)
}

// Ping reports the active backend's reachability; it never triggers
// degradation by itself.
func (c *DegradingCache) Ping(ctx context.Context) error {
	return c.active().Ping(ctx)
}

// IsAvailable reports the active backend's health without ever triggering
// degradation itself — only a failed Get/Set/Delete/DeleteByPattern/Clear
// call on the primary does that (spec.md §4.3: the degrade transition is
// one-way and caused by an operation failing, not by passive inspection).
func (c *DegradingCache) IsAvailable(ctx context.Context) bool {
	return c.active().IsAvailable(ctx)
}

// Degraded reports whether the fallback is currently serving all traffic.
func (c *DegradingCache) Degraded() bool {
	return c.degraded.Load()
}

// Stats returns a snapshot of hit/miss/error counters.
func (c *DegradingCache) Stats() Stats {
	return Stats{
		Hits:     c.hits.Load(),
		Misses:   c.misses.Load(),
		Errors:   c.errs.Load(),
		Degraded: c.degraded.Load(),
	}
}
