package selection

import (
	"testing"
	"time"

	"github.com/This-HW/hantu-quant-sub002/internal/cache"
)

func makeBars(closes, highs, lows []float64) []cache.OhlcvBar {
	bars := make([]cache.OhlcvBar, len(closes))
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := range closes {
		bars[i] = cache.OhlcvBar{
			Date:  base.AddDate(0, 0, i),
			Open:  closes[i],
			High:  highs[i],
			Low:   lows[i],
			Close: closes[i],
		}
	}
	return bars
}

func trendingBars(n int, start, step float64) []cache.OhlcvBar {
	closes := make([]float64, n)
	highs := make([]float64, n)
	lows := make([]float64, n)
	for i := 0; i < n; i++ {
		closes[i] = start + step*float64(i)
		highs[i] = closes[i] + 1
		lows[i] = closes[i] - 1
	}
	return makeBars(closes, highs, lows)
}

func TestSizer_ClampsWeightToRange(t *testing.T) {
	cfg := Default()
	sizer := NewSizer(cfg)

	bars := trendingBars(30, 10000, 5) // small ATR relative to price -> raw_weight should clamp to max
	ps, err := sizer.Size("005930", 10150, 10_000_000, bars)
	if err != nil {
		t.Fatalf("Size: %v", err)
	}
	if ps.Weight > cfg.PositionSizing.MaxPositionPct+0.001 {
		t.Errorf("weight %v exceeds max_position_pct %v", ps.Weight, cfg.PositionSizing.MaxPositionPct)
	}
	if ps.Shares <= 0 {
		t.Error("expected a positive share count")
	}
	if ps.StopLoss >= 10150 {
		t.Errorf("stop_loss %v should be below current price", ps.StopLoss)
	}
	if ps.TargetPrice <= 10150 {
		t.Errorf("target_price %v should be above current price", ps.TargetPrice)
	}
}

func TestSizer_ConservativeDefaultWhenATRUnavailable(t *testing.T) {
	cfg := Default()
	sizer := NewSizer(cfg)

	ps, err := sizer.Size("005930", 10000, 1_000_000, nil)
	if err != nil {
		t.Fatalf("Size: %v", err)
	}
	if ps.Weight != conservativeWeight {
		t.Errorf("weight = %v, want conservative default %v", ps.Weight, conservativeWeight)
	}
	wantStop := 10000 * (1 - conservativeStopPct)
	if ps.StopLoss != wantStop {
		t.Errorf("stop_loss = %v, want %v", ps.StopLoss, wantStop)
	}
}

func TestSizer_RegimeOverrideAppliesMaxPositionPct(t *testing.T) {
	cfg := Default()
	cfg.Regime.Current = RegimeBear // 10% max per Default()
	sizer := NewSizer(cfg)

	bars := trendingBars(30, 10000, 1) // tiny ATR -> raw_weight wants to be huge, clamp kicks in
	ps, err := sizer.Size("005930", 10029, 10_000_000, bars)
	if err != nil {
		t.Fatalf("Size: %v", err)
	}
	if ps.Weight > cfg.Regime.Overrides[RegimeBear].MaxPositionPct+0.001 {
		t.Errorf("weight %v exceeds BEAR regime cap %v", ps.Weight, cfg.Regime.Overrides[RegimeBear].MaxPositionPct)
	}
}

func TestSizer_RiskMetrics(t *testing.T) {
	cfg := Default()
	sizer := NewSizer(cfg)
	bars := trendingBars(30, 10000, 20)

	ps, err := sizer.Size("005930", 10580, 10_000_000, bars)
	if err != nil {
		t.Fatalf("Size: %v", err)
	}
	wantRR := cfg.PositionSizing.TakeProfitATR / cfg.PositionSizing.StopLossATR
	if ps.RiskReward != wantRR {
		t.Errorf("risk_reward = %v, want %v", ps.RiskReward, wantRR)
	}
	wantRisk := (10580 - ps.StopLoss) * float64(ps.Shares)
	if ps.RiskAmount != wantRisk {
		t.Errorf("risk_amount = %v, want %v", ps.RiskAmount, wantRisk)
	}
}

func TestSizer_UpdateTrailingStop(t *testing.T) {
	cfg := Default()
	sizer := NewSizer(cfg)

	active, level := sizer.UpdateTrailingStop(10000, 10100, 10100, 200)
	if active {
		t.Error("trailing stop should not activate below trailing_activation_pct")
	}

	active, level = sizer.UpdateTrailingStop(10000, 10400, 10400, 200)
	if !active {
		t.Fatal("trailing stop should activate once return exceeds trailing_activation_pct")
	}
	wantLevel := 10400 - 200*cfg.PositionSizing.TrailingATR
	if level != wantLevel {
		t.Errorf("trailing level = %v, want %v", level, wantLevel)
	}
}

func TestNormalizePortfolio_ScalesDownWhenOverCommitted(t *testing.T) {
	sizes := []PositionSize{
		{Code: "A", Shares: 100, ActualAmount: 500_000, Weight: 0.5, StopLoss: 4900},
		{Code: "B", Shares: 100, ActualAmount: 600_000, Weight: 0.6, StopLoss: 5900},
	}
	prices := map[string]float64{"A": 5000, "B": 6000}

	out := NormalizePortfolio(sizes, prices, 1_000_000)

	var sum float64
	for _, ps := range out {
		sum += ps.Weight
	}
	if sum > 0.951 {
		t.Errorf("total weight after normalization = %v, want <= 0.95", sum)
	}
}

func TestNormalizePortfolio_NoOpWhenUnderCommitted(t *testing.T) {
	sizes := []PositionSize{
		{Code: "A", Shares: 10, ActualAmount: 50_000, Weight: 0.3},
	}
	prices := map[string]float64{"A": 5000}

	out := NormalizePortfolio(sizes, prices, 1_000_000)
	if out[0].Weight != 0.3 {
		t.Errorf("weight changed on an under-committed portfolio: %v", out[0].Weight)
	}
}
