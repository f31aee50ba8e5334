package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Loader fetches the value for key when it isn't cached.
type Loader[T any] func(ctx context.Context, key string) (T, error)

// WithTTL wraps a Loader with a cache-aside policy: check the cache, call
// loader on a miss, cache the result with ttl. This is the sync decorator
// used by single-symbol lookups (spec.md §4.3 "TTL decorator").
func WithTTL[T any](c Cache, ttl time.Duration, load Loader[T]) Loader[T] {
	return func(ctx context.Context, key string) (T, error) {
		var zero T
		if raw, err := c.Get(ctx, key); err == nil {
			var v T
			if jerr := json.Unmarshal(raw, &v); jerr == nil {
				return v, nil
			}
			// Corrupt or schema-mismatched entry: fall through to reload.
		}

		v, err := load(ctx, key)
		if err != nil {
			return zero, err
		}

		if raw, err := json.Marshal(v); err == nil {
			_ = c.Set(ctx, key, raw, ttl)
		}
		return v, nil
	}
}

// BatchLoader fetches values for many keys in one call. WithTTLBatch wraps
// one with the same cache-aside policy WithTTL applies to a single key;
// callers supply the implementation.
type BatchLoader[T any] func(ctx context.Context, keys []string) (map[string]T, map[string]error)

// WithTTLBatch is the async-batch counterpart of WithTTL: keys already
// present in the cache are served directly, the remainder go through load
// in one call, and every freshly loaded value is cached with ttl before
// returning the merged result (spec.md §4.6 cache-aside batching).
func WithTTLBatch[T any](ctx context.Context, c Cache, ttl time.Duration, keys []string, load BatchLoader[T]) (map[string]T, map[string]error) {
	results := make(map[string]T, len(keys))
	errs := make(map[string]error)
	var misses []string

	for _, key := range keys {
		raw, err := c.Get(ctx, key)
		if err != nil {
			misses = append(misses, key)
			continue
		}
		var v T
		if jerr := json.Unmarshal(raw, &v); jerr != nil {
			misses = append(misses, key)
			continue
		}
		results[key] = v
	}

	if len(misses) == 0 {
		return results, errs
	}

	loaded, loadErrs := load(ctx, misses)
	for key, v := range loaded {
		results[key] = v
		if raw, err := json.Marshal(v); err == nil {
			_ = c.Set(ctx, key, raw, ttl)
		}
	}
	for key, err := range loadErrs {
		errs[key] = fmt.Errorf("cache: load %s: %w", key, err)
	}
	return results, errs
}
