package selection

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/This-HW/hantu-quant-sub002/internal/cache"
)

// marketReturnCacheKey is the session-scoped cache key for the market's
// trailing 20-day return (spec.md §4.8 stage 1: "cached for the session").
const marketReturnCacheKey = "selection:market_return_20d"
const marketReturnTTL = 6 * time.Hour

const chartCacheTTL = 10 * time.Minute
const chartLookbackDays = 60

// ChartSource supplies daily OHLCV history for momentum scoring. Satisfied
// by *broker.KISClient.
type ChartSource interface {
	GetDailyChart(ctx context.Context, code string, periodDays int) ([]cache.OhlcvBar, error)
}

// MarketIndexSource supplies the market's trailing 20-day return for
// regime detection when the caller doesn't already have it.
type MarketIndexSource interface {
	GetMarketReturn20d(ctx context.Context) (float64, error)
}

// scored is the intermediate per-candidate state carried between stages 3
// and 5.
type scored struct {
	candidate      Candidate
	returnRate20d  float64
	relativeReturn float64
	volumeSurge    float64
	priceStrength  float64
	momentumScore  float64
	percentileRank float64
	bars           []cache.OhlcvBar
}

// Selector implements the five-stage momentum pipeline of spec.md §4.8.
// Grounded in structure (injected deps, no singleton) on the teacher's
// internal/risk.Manager.
type Selector struct {
	cfg    *QuantConfig
	charts ChartSource
	market MarketIndexSource
	c      cache.Cache
	sizer  *Sizer
}

// NewSelector wires a Selector. c may be nil to skip caching (tests);
// sizer may be nil only if the caller never intends to call Select (it
// will panic otherwise, matching "construct fully or not at all").
func NewSelector(cfg *QuantConfig, charts ChartSource, market MarketIndexSource, c cache.Cache, sizer *Sizer) *Selector {
	return &Selector{cfg: cfg, charts: charts, market: market, c: c, sizer: sizer}
}

// Select runs the full pipeline and returns at most cfg.Active().MaxStocks
// results, sorted by descending momentum score (ties by ascending code).
func (sel *Selector) Select(ctx context.Context, watchlist []Candidate, totalCapital float64, marketReturn20d *float64) ([]SelectionResult, error) {
	marketReturn, err := sel.resolveMarketReturn(ctx, marketReturn20d)
	if err != nil {
		return nil, fmt.Errorf("selection: resolve market return: %w", err)
	}
	regime := sel.detectRegime(marketReturn)
	sel.cfg.Regime.Current = regime
	override := sel.cfg.Active()

	passing := sel.filterLiquidity(watchlist)

	scoredCandidates, err := sel.scoreMomentum(ctx, passing, marketReturn)
	if err != nil {
		return nil, fmt.Errorf("selection: score momentum: %w", err)
	}
	sel.assignPercentiles(scoredCandidates)

	accepted := sel.topNWithSectorCap(scoredCandidates, override)

	return sel.sizeAndBuild(accepted, totalCapital)
}

func (sel *Selector) resolveMarketReturn(ctx context.Context, supplied *float64) (float64, error) {
	if supplied != nil {
		return *supplied, nil
	}
	if sel.market == nil {
		return 0, fmt.Errorf("market return not supplied and no MarketIndexSource configured")
	}
	load := func(ctx context.Context, key string) (float64, error) {
		return sel.market.GetMarketReturn20d(ctx)
	}
	if sel.c != nil {
		load = cache.WithTTL[float64](sel.c, marketReturnTTL, load)
	}
	return load(ctx, marketReturnCacheKey)
}

// detectRegime implements spec.md §4.8 stage 1's threshold rule.
func (sel *Selector) detectRegime(marketReturn20d float64) Regime {
	switch {
	case marketReturn20d > 0.05:
		return RegimeBull
	case marketReturn20d < -0.05:
		return RegimeBear
	default:
		return RegimeSideways
	}
}

// filterLiquidity implements spec.md §4.8 stage 2.
func (sel *Selector) filterLiquidity(watchlist []Candidate) []Candidate {
	lf := sel.cfg.Liquidity
	var passing []Candidate
	for _, c := range watchlist {
		if c.effectiveTradingValue() < lf.MinAvgTradingValueKRW {
			continue
		}
		if c.effectiveMarketCap() < lf.MinMarketCapKRW {
			continue
		}
		if c.LastPrice < lf.MinLastPriceKRW {
			continue
		}
		if c.AvgVolume < lf.MinAvgVolume {
			continue
		}
		passing = append(passing, c)
	}
	return passing
}

// scoreMomentum implements spec.md §4.8 stage 3.
func (sel *Selector) scoreMomentum(ctx context.Context, passing []Candidate, marketReturn20d float64) ([]scored, error) {
	mc := sel.cfg.Momentum
	results := make([]scored, 0, len(passing))

	for _, c := range passing {
		bars, err := sel.loadChart(ctx, c.Code)
		if err != nil {
			return nil, fmt.Errorf("chart for %s: %w", c.Code, err)
		}
		minBars := mc.ReturnWindowDays + 1
		if mc.VolumeSurgeLong > minBars {
			minBars = mc.VolumeSurgeLong
		}
		if mc.PriceStrengthWindow > minBars {
			minBars = mc.PriceStrengthWindow
		}
		if len(bars) < minBars {
			continue // insufficient history, drop silently like a failed filter
		}

		n := len(bars)
		lastClose := bars[n-1].Close
		closeWindowAgo := bars[n-1-mc.ReturnWindowDays].Close
		returnRate := 0.0
		if closeWindowAgo != 0 {
			returnRate = lastClose/closeWindowAgo - 1
		}
		relativeReturn := returnRate - marketReturn20d

		volShort := meanVolume(bars, mc.VolumeSurgeShort)
		volLong := meanVolume(bars, mc.VolumeSurgeLong)
		volumeSurge := 0.0
		if volLong != 0 {
			volumeSurge = volShort / volLong
		}

		window := bars[n-mc.PriceStrengthWindow:]
		minLow, maxHigh := window[0].Low, window[0].High
		for _, b := range window {
			if b.Low < minLow {
				minLow = b.Low
			}
			if b.High > maxHigh {
				maxHigh = b.High
			}
		}
		priceStrength := 0.0
		if maxHigh != minLow {
			priceStrength = (lastClose - minLow) / (maxHigh - minLow)
		}

		momentumScore := mc.RelativeReturnWeight*relativeReturn*100 +
			mc.VolumeSurgeWeight*math.Min(20*volumeSurge, mc.VolumeSurgeCap) +
			mc.PriceStrengthWeight*100*priceStrength

		results = append(results, scored{
			candidate:      c,
			returnRate20d:  returnRate,
			relativeReturn: relativeReturn,
			volumeSurge:    volumeSurge,
			priceStrength:  priceStrength,
			momentumScore:  momentumScore,
			bars:           bars,
		})
	}
	return results, nil
}

func (sel *Selector) loadChart(ctx context.Context, code string) ([]cache.OhlcvBar, error) {
	load := func(ctx context.Context, key string) ([]cache.OhlcvBar, error) {
		return sel.charts.GetDailyChart(ctx, code, chartLookbackDays)
	}
	if sel.c != nil {
		load = cache.WithTTL[[]cache.OhlcvBar](sel.c, chartCacheTTL, load)
	}
	return load(ctx, "daily_chart:"+code)
}

func meanVolume(bars []cache.OhlcvBar, window int) float64 {
	if window <= 0 || window > len(bars) {
		return 0
	}
	var sum float64
	tail := bars[len(bars)-window:]
	for _, b := range tail {
		sum += b.Volume
	}
	return sum / float64(window)
}

// assignPercentiles ranks by ascending momentum_score (spec.md §4.8 stage 3
// tail).
func (sel *Selector) assignPercentiles(scoredCandidates []scored) {
	n := len(scoredCandidates)
	if n == 0 {
		return
	}
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(i, j int) bool {
		a, b := scoredCandidates[order[i]], scoredCandidates[order[j]]
		if a.momentumScore != b.momentumScore {
			return a.momentumScore < b.momentumScore
		}
		return a.candidate.Code < b.candidate.Code
	})
	for rank, idx := range order {
		if n == 1 {
			scoredCandidates[idx].percentileRank = 100
			continue
		}
		scoredCandidates[idx].percentileRank = float64(rank) / float64(n-1) * 100
	}
}

// topNWithSectorCap implements spec.md §4.8 stage 4.
func (sel *Selector) topNWithSectorCap(scoredCandidates []scored, override RegimeOverride) []scored {
	n := len(scoredCandidates)
	if n == 0 {
		return nil
	}

	ranked := make([]scored, n)
	copy(ranked, scoredCandidates)
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].momentumScore != ranked[j].momentumScore {
			return ranked[i].momentumScore > ranked[j].momentumScore
		}
		return ranked[i].candidate.Code < ranked[j].candidate.Code
	})

	poolSize := int(math.Ceil(sel.cfg.Momentum.TopPercentile * float64(n)))
	if poolSize > n {
		poolSize = n
	}
	if poolSize < 1 {
		poolSize = 1
	}
	pool := ranked[:poolSize]

	sectorLimit := sel.cfg.Momentum.SectorLimit
	maxStocks := override.MaxStocks

	sectorCount := make(map[string]int)
	var accepted []scored
	for _, s := range pool {
		if len(accepted) >= maxStocks {
			break
		}
		if sectorCount[s.candidate.Sector] >= sectorLimit {
			continue
		}
		accepted = append(accepted, s)
		sectorCount[s.candidate.Sector]++
	}
	return accepted
}

// sizeAndBuild implements spec.md §4.8 stage 5 and the §4.9 portfolio
// renormalization pass.
func (sel *Selector) sizeAndBuild(accepted []scored, totalCapital float64) ([]SelectionResult, error) {
	if len(accepted) == 0 {
		return nil, nil
	}

	sizes := make([]PositionSize, len(accepted))
	prices := make(map[string]float64, len(accepted))
	for i, s := range accepted {
		price := s.bars[len(s.bars)-1].Close
		ps, err := sel.sizer.Size(s.candidate.Code, price, totalCapital, s.bars)
		if err != nil {
			return nil, fmt.Errorf("size %s: %w", s.candidate.Code, err)
		}
		sizes[i] = ps
		prices[s.candidate.Code] = price
	}
	sizes = NormalizePortfolio(sizes, prices, totalCapital)

	now := time.Now()
	results := make([]SelectionResult, len(accepted))
	for i, s := range accepted {
		ps := sizes[i]
		price := prices[s.candidate.Code]
		expectedReturn := 0.0
		if price > 0 {
			expectedReturn = (ps.TargetPrice - price) / price
		}
		results[i] = SelectionResult{
			Code:            s.candidate.Code,
			Name:            s.candidate.Name,
			Sector:          s.candidate.Sector,
			SelectionDate:   now,
			SelectionReason: buildReason(s),
			MomentumScore:   s.momentumScore,
			PercentileRank:  s.percentileRank,
			EntryPrice:      price,
			TargetPrice:     ps.TargetPrice,
			StopLoss:        ps.StopLoss,
			ExpectedReturn:  expectedReturn,
			PositionWeight:  ps.Weight,
			PositionAmount:  ps.ActualAmount,
			MarketCap:       s.candidate.effectiveMarketCap(),
			Priority:        i + 1,
			ATRValue:        ps.ATR,
			DailyVolatility: ps.DailyVolatility,
		}
	}
	return results, nil
}

func buildReason(s scored) string {
	return fmt.Sprintf(
		"relative %+.1f%%, volume x%.1f, top %.0f%%",
		s.relativeReturn*100, s.volumeSurge, 100-s.percentileRank,
	)
}
