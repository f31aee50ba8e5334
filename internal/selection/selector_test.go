package selection

import (
	"context"
	"testing"

	"github.com/This-HW/hantu-quant-sub002/internal/cache"
)

type fakeCharts struct {
	bars map[string][]cache.OhlcvBar
}

func (f fakeCharts) GetDailyChart(ctx context.Context, code string, periodDays int) ([]cache.OhlcvBar, error) {
	return f.bars[code], nil
}

type fakeMarket struct {
	ret float64
}

func (f fakeMarket) GetMarketReturn20d(ctx context.Context) (float64, error) {
	return f.ret, nil
}

func chartFor(n int, start, step float64) []cache.OhlcvBar {
	return trendingBars(n, start, step)
}

func baseWatchlist() []Candidate {
	return []Candidate{
		{Code: "AAA", Name: "Alpha", Sector: "tech", LastPrice: 10000, AvgVolume: 50_000, AvgTradingValueKRW: 1_000_000_000, MarketCapKRW: 100_000_000_000},
		{Code: "BBB", Name: "Beta", Sector: "tech", LastPrice: 20000, AvgVolume: 60_000, AvgTradingValueKRW: 1_500_000_000, MarketCapKRW: 200_000_000_000},
		{Code: "CCC", Name: "Gamma", Sector: "finance", LastPrice: 15000, AvgVolume: 40_000, AvgTradingValueKRW: 900_000_000, MarketCapKRW: 80_000_000_000},
		{Code: "DDD", Name: "Delta", Sector: "tech", LastPrice: 500, AvgVolume: 100, AvgTradingValueKRW: 1_000, MarketCapKRW: 1_000_000}, // fails liquidity
	}
}

func TestSelector_FiltersIlliquidCandidate(t *testing.T) {
	cfg := Default()
	charts := fakeCharts{bars: map[string][]cache.OhlcvBar{
		"AAA": chartFor(60, 10000, 30),
		"BBB": chartFor(60, 20000, 10),
		"CCC": chartFor(60, 15000, -5),
		"DDD": chartFor(60, 500, 1),
	}}
	sizer := NewSizer(cfg)
	sel := NewSelector(cfg, charts, fakeMarket{ret: 0.01}, nil, sizer)

	results, err := sel.Select(context.Background(), baseWatchlist(), 10_000_000, nil)
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	for _, r := range results {
		if r.Code == "DDD" {
			t.Error("DDD should have been dropped by the liquidity filter")
		}
	}
}

func TestSelector_RespectsSectorCapAndMaxStocks(t *testing.T) {
	cfg := Default()
	cfg.Momentum.SectorLimit = 1
	cfg.Regime.Overrides[RegimeSideways] = RegimeOverride{MaxStocks: 5, MaxPositionPct: 0.15, StopLossATR: 1.5}

	charts := fakeCharts{bars: map[string][]cache.OhlcvBar{
		"AAA": chartFor(60, 10000, 40),
		"BBB": chartFor(60, 20000, 30),
		"CCC": chartFor(60, 15000, 20),
		"DDD": chartFor(60, 500, 1),
	}}
	sizer := NewSizer(cfg)
	sel := NewSelector(cfg, charts, fakeMarket{ret: 0.01}, nil, sizer)

	results, err := sel.Select(context.Background(), baseWatchlist(), 10_000_000, nil)
	if err != nil {
		t.Fatalf("Select: %v", err)
	}

	techCount := 0
	for _, r := range results {
		if r.Sector == "tech" {
			techCount++
		}
	}
	if techCount > 1 {
		t.Errorf("tech sector count = %d, want <= sector_limit 1", techCount)
	}
}

func TestSelector_DetectsRegimeFromSuppliedReturn(t *testing.T) {
	cfg := Default()
	sel := NewSelector(cfg, fakeCharts{}, nil, nil, NewSizer(cfg))

	bull := 0.10
	if r := sel.detectRegime(bull); r != RegimeBull {
		t.Errorf("detectRegime(%v) = %v, want BULL", bull, r)
	}
	bear := -0.10
	if r := sel.detectRegime(bear); r != RegimeBear {
		t.Errorf("detectRegime(%v) = %v, want BEAR", bear, r)
	}
	side := 0.01
	if r := sel.detectRegime(side); r != RegimeSideways {
		t.Errorf("detectRegime(%v) = %v, want SIDEWAYS", side, r)
	}
}

func TestSelector_FallsBackToMarketSourceWhenReturnNotSupplied(t *testing.T) {
	cfg := Default()
	charts := fakeCharts{bars: map[string][]cache.OhlcvBar{
		"AAA": chartFor(60, 10000, 30),
		"BBB": chartFor(60, 20000, 10),
		"CCC": chartFor(60, 15000, -5),
		"DDD": chartFor(60, 500, 1),
	}}
	market := fakeMarket{ret: 0.08} // BULL regime -> max_stocks 8
	sel := NewSelector(cfg, charts, market, nil, NewSizer(cfg))

	results, err := sel.Select(context.Background(), baseWatchlist(), 10_000_000, nil)
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if len(results) == 0 {
		t.Fatal("expected at least one result")
	}
	if cfg.Regime.Current != RegimeBull {
		t.Errorf("regime = %v, want BULL after detection", cfg.Regime.Current)
	}
}

func TestSelector_ResultsSortedByMomentumDescending(t *testing.T) {
	cfg := Default()
	charts := fakeCharts{bars: map[string][]cache.OhlcvBar{
		"AAA": chartFor(60, 10000, 50),
		"BBB": chartFor(60, 20000, 5),
		"CCC": chartFor(60, 15000, 25),
	}}
	watchlist := []Candidate{
		{Code: "AAA", Sector: "a", LastPrice: 10000, AvgVolume: 50_000, AvgTradingValueKRW: 1_000_000_000, MarketCapKRW: 100_000_000_000},
		{Code: "BBB", Sector: "b", LastPrice: 20000, AvgVolume: 50_000, AvgTradingValueKRW: 1_000_000_000, MarketCapKRW: 100_000_000_000},
		{Code: "CCC", Sector: "c", LastPrice: 15000, AvgVolume: 50_000, AvgTradingValueKRW: 1_000_000_000, MarketCapKRW: 100_000_000_000},
	}
	sel := NewSelector(cfg, charts, nil, nil, NewSizer(cfg))

	ret := 0.0
	results, err := sel.Select(context.Background(), watchlist, 10_000_000, &ret)
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	for i := 1; i < len(results); i++ {
		if results[i-1].MomentumScore < results[i].MomentumScore {
			t.Errorf("results not sorted descending by momentum_score at index %d", i)
		}
	}
}
