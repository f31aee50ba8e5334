// Package cache implements the tiered caching layer (spec.md §4.3): a
// Redis-backed primary store that degrades, one-way, to an in-process LRU
// when Redis becomes unreachable.
package cache

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Get when the key is absent or expired.
var ErrNotFound = errors.New("cache: not found")

// Cache is the minimal key-value contract shared by every backend.
type Cache interface {
	// Get returns the raw bytes stored under key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)
	// Set stores value under key with the given time-to-live. ttl<=0 means
	// no expiry.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error
	// DeleteByPattern removes every key with the given prefix (the spec's
	// "prefix*" convention — callers pass the literal prefix, not a glob).
	DeleteByPattern(ctx context.Context, prefix string) error
	// Clear removes every key this cache manages.
	Clear(ctx context.Context) error
	// Ping reports whether the backend is currently reachable, returning an
	// error describing why when it is not.
	Ping(ctx context.Context) error
	// IsAvailable is Ping reduced to a boolean, for call sites that only
	// need a health check and don't want to handle an error value.
	IsAvailable(ctx context.Context) bool
}

// Stats exposes cache hit/miss/degradation counters, grounded on the
// Python predecessor's redis_monitor stats surface (spec.md's supplemented
// features: original_source/ exposed hit rate and degraded-mode state for
// operational visibility, which the distilled spec dropped).
type Stats struct {
	Hits       int64
	Misses     int64
	Errors     int64
	Degraded   bool
}
