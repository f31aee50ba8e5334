// Package fetcher implements the concurrent, rate-limited batch price
// fetcher (spec.md §4.6): turn a list of codes into a BatchResult with
// partial-failure semantics, never raising for a single symbol's failure.
//
// Grounded on the teacher's internal/market/dhan_data.go
// FetchBulkDailyCandles ("log and skip, don't abort the batch for one
// symbol"), extended with bounded concurrency and the shared sliding-window
// rate limiter instead of the teacher's strictly sequential loop.
package fetcher

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/This-HW/hantu-quant-sub002/internal/broker"
	"github.com/This-HW/hantu-quant-sub002/internal/ratelimit"
)

// interChunkFloor/Ceil bound the extra sleep enforced between chunks so the
// effective sliding window stays under the limiter's admission rate even
// when a chunk itself completed faster than 1s (spec.md §4.6 step 3).
const (
	interChunkFloor = 1000 * time.Millisecond
	interChunkCeil  = 1500 * time.Millisecond
)

// PriceSource is the subset of broker.Broker (plus GetCurrentPrice, which
// lives on the concrete KIS client rather than the interface) the fetcher
// needs. Accepting this narrower interface keeps the fetcher testable
// without a full broker double.
type PriceSource interface {
	GetCurrentPrice(ctx context.Context, code string) (*broker.PriceData, error)
}

// FailedFetch records one symbol's failure reason inside a BatchResult.
type FailedFetch struct {
	Code    string
	Message string
}

// BatchResult is the outcome of one BatchPrices call. Every input code
// appears in exactly one of Successful or Failed (spec.md §4.6 step 4).
type BatchResult struct {
	Successful map[string]broker.PriceData
	Failed     []FailedFetch
	TotalTime  time.Duration
}

// SuccessCount returns the number of codes fetched successfully.
func (r *BatchResult) SuccessCount() int { return len(r.Successful) }

// FailureCount returns the number of codes that failed.
func (r *BatchResult) FailureCount() int { return len(r.Failed) }

// SuccessRate returns Successful/(Successful+Failed), or 0 if the batch was
// empty.
func (r *BatchResult) SuccessRate() float64 {
	total := r.SuccessCount() + r.FailureCount()
	if total == 0 {
		return 0
	}
	return float64(r.SuccessCount()) / float64(total)
}

// Fetcher issues batch current-price lookups through a shared rate limiter,
// bounding in-flight calls with a semaphore.
type Fetcher struct {
	source      PriceSource
	limiter     *ratelimit.Limiter
	concurrency int64
	log         *log.Logger
}

// New builds a Fetcher. concurrency <= 0 defaults to 1, the spec's
// "documented safe choice" (spec.md §4.6) — higher values are still bounded
// by the same shared rate limiter, so raising it trades latency for no
// additional throughput past the limiter's cap.
func New(source PriceSource, limiter *ratelimit.Limiter, concurrency int, logger *log.Logger) *Fetcher {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Fetcher{
		source:      source,
		limiter:     limiter,
		concurrency: int64(concurrency),
		log:         logger,
	}
}

// BatchPrices partitions codes into chunks of chunkSize (chunkSize <= 0
// means one chunk holding every code; the size is not taken from the
// limiter, so callers pass it explicitly), fetches
// each chunk with bounded concurrency under the shared rate limiter, and
// aggregates results. It only returns a non-nil error for structural
// failures; per-symbol failures land in BatchResult.Failed.
func (f *Fetcher) BatchPrices(ctx context.Context, codes []string, chunkSize int) (*BatchResult, error) {
	if f.source == nil {
		return nil, fmt.Errorf("fetcher: price source not initialized")
	}
	if chunkSize <= 0 {
		chunkSize = len(codes)
		if chunkSize == 0 {
			chunkSize = 1
		}
	}

	start := time.Now()
	result := &BatchResult{Successful: make(map[string]broker.PriceData, len(codes))}

	for chunkStart := 0; chunkStart < len(codes); chunkStart += chunkSize {
		chunkEnd := chunkStart + chunkSize
		if chunkEnd > len(codes) {
			chunkEnd = len(codes)
		}
		chunk := codes[chunkStart:chunkEnd]

		chunkBegin := time.Now()
		f.fetchChunk(ctx, chunk, result)

		if chunkEnd < len(codes) {
			f.sleepBetweenChunks(chunkBegin)
		}
	}

	result.TotalTime = time.Since(start)
	return result, nil
}

func (f *Fetcher) fetchChunk(ctx context.Context, chunk []string, result *BatchResult) {
	sem := semaphore.NewWeighted(f.concurrency)
	var mu sync.Mutex
	var wg sync.WaitGroup

	for _, code := range chunk {
		if err := sem.Acquire(ctx, 1); err != nil {
			mu.Lock()
			result.Failed = append(result.Failed, FailedFetch{Code: code, Message: err.Error()})
			mu.Unlock()
			continue
		}

		wg.Add(1)
		go func(code string) {
			defer wg.Done()
			defer sem.Release(1)

			price, err := f.fetchOne(ctx, code)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				f.log.Printf("fetcher: %s: %v", code, err)
				result.Failed = append(result.Failed, FailedFetch{Code: code, Message: err.Error()})
				return
			}
			result.Successful[code] = *price
		}(code)
	}

	wg.Wait()
}

// fetchOne acquires the shared rate limiter and issues one price lookup.
// Retry-with-backoff already happens inside the broker client per spec.md
// §4.4; this layer's job is admission control and chunk bookkeeping only.
func (f *Fetcher) fetchOne(ctx context.Context, code string) (*broker.PriceData, error) {
	if err := f.limiter.Acquire(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}
	return f.source.GetCurrentPrice(ctx, code)
}

func (f *Fetcher) sleepBetweenChunks(chunkBegin time.Time) {
	elapsed := time.Since(chunkBegin)
	sleep := interChunkFloor - elapsed
	if sleep <= 0 {
		return
	}
	if sleep > interChunkCeil {
		sleep = interChunkCeil
	}
	time.Sleep(sleep)
}
