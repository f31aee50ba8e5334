package cache

import (
	"context"
	"testing"
	"time"
)

func TestWithTTL_CachesLoaderResult(t *testing.T) {
	c := NewLRUCache(10)
	calls := 0
	load := WithTTL[int](c, time.Minute, func(ctx context.Context, key string) (int, error) {
		calls++
		return 42, nil
	})

	ctx := context.Background()
	v1, err := load(ctx, "k")
	if err != nil || v1 != 42 {
		t.Fatalf("first load: v=%d err=%v", v1, err)
	}
	v2, err := load(ctx, "k")
	if err != nil || v2 != 42 {
		t.Fatalf("second load: v=%d err=%v", v2, err)
	}
	if calls != 1 {
		t.Errorf("expected loader called once, got %d", calls)
	}
}

func TestWithTTLBatch_SplitsHitsAndMisses(t *testing.T) {
	c := NewLRUCache(10)
	ctx := context.Background()

	load := func(ctx context.Context, keys []string) (map[string]int, map[string]error) {
		out := make(map[string]int, len(keys))
		for i, k := range keys {
			out[k] = i
		}
		return out, nil
	}

	results, errs := WithTTLBatch[int](ctx, c, time.Minute, []string{"a", "b"}, load)
	if len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}

	calls := 0
	load2 := func(ctx context.Context, keys []string) (map[string]int, map[string]error) {
		calls++
		out := make(map[string]int, len(keys))
		for _, k := range keys {
			out[k] = 99
		}
		return out, nil
	}
	results2, _ := WithTTLBatch[int](ctx, c, time.Minute, []string{"a", "b"}, load2)
	if calls != 0 {
		t.Errorf("expected cached keys to skip loader, loader called %d times", calls)
	}
	if results2["a"] != 0 || results2["b"] != 1 {
		t.Errorf("expected cached values preserved, got %+v", results2)
	}
}
