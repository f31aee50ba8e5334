package selection

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Regime classifies the market condition used to parameterize the selector
// and sizer (spec.md §3, §4.8 stage 1).
type Regime string

const (
	RegimeBull     Regime = "BULL"
	RegimeBear     Regime = "BEAR"
	RegimeSideways Regime = "SIDEWAYS"
	RegimeHighVol  Regime = "HIGH_VOL"
)

// LiquidityFilter holds the hard pre-filter thresholds (spec.md §4.8 stage 2).
type LiquidityFilter struct {
	MinAvgTradingValueKRW float64 `yaml:"min_avg_trading_value_krw"`
	MinMarketCapKRW       float64 `yaml:"min_market_cap_krw"`
	MinLastPriceKRW       float64 `yaml:"min_last_price_krw"`
	MinAvgVolume          float64 `yaml:"min_avg_volume"`
}

// MomentumConfig tunes the momentum scoring stage (spec.md §4.8 stage 3-4).
type MomentumConfig struct {
	ReturnWindowDays     int     `yaml:"return_window_days"`
	VolumeSurgeShort     int     `yaml:"volume_surge_short_days"`
	VolumeSurgeLong      int     `yaml:"volume_surge_long_days"`
	PriceStrengthWindow  int     `yaml:"price_strength_window_days"`
	RelativeReturnWeight float64 `yaml:"relative_return_weight"`
	VolumeSurgeWeight    float64 `yaml:"volume_surge_weight"`
	VolumeSurgeCap       float64 `yaml:"volume_surge_cap"`
	PriceStrengthWeight  float64 `yaml:"price_strength_weight"`
	TopPercentile        float64 `yaml:"top_percentile"`
	SectorLimit          int     `yaml:"sector_limit"`
	// NeutralSectorScore is the fallback value used when a sector ETF
	// ticker is unknown (spec.md §9 Open Question: kept as a policy knob,
	// not a hardcoded literal).
	NeutralSectorScore float64 `yaml:"neutral_sector_score"`
}

// PositionSizingConfig tunes ATR-based volatility-parity sizing (spec.md §4.9).
type PositionSizingConfig struct {
	TargetDailyVolPct    float64 `yaml:"target_daily_vol_pct"`
	MinPositionPct       float64 `yaml:"min_position_pct"`
	MaxPositionPct       float64 `yaml:"max_position_pct"`
	StopLossATR          float64 `yaml:"stop_loss_atr"`
	TakeProfitATR        float64 `yaml:"take_profit_atr"`
	TrailingActivationPct float64 `yaml:"trailing_activation_pct"`
	TrailingATR          float64 `yaml:"trailing_atr"`
	CashBufferPct        float64 `yaml:"cash_buffer_pct"`
}

// FeedbackConfig reserves space for future regime-feedback tuning; no
// operation in this spec reads it yet beyond validation.
type FeedbackConfig struct {
	Enabled bool `yaml:"enabled"`
}

// RegimeOverride holds the per-regime parameter overrides (spec.md §3).
type RegimeOverride struct {
	MaxStocks      int     `yaml:"max_stocks"`
	MaxPositionPct float64 `yaml:"max_position_pct"`
	StopLossATR    float64 `yaml:"stop_loss_atr"`
}

// RegimeConfig holds the active regime and its per-regime overrides.
type RegimeConfig struct {
	Current   Regime                    `yaml:"current"`
	Overrides map[Regime]RegimeOverride `yaml:"overrides"`
}

// QuantConfig composes every regime-aware knob used by the selector and
// sizer. Constructed explicitly via Load/LoadDefault — no package-level
// singleton (spec.md §9 redesign flag).
type QuantConfig struct {
	Liquidity      LiquidityFilter      `yaml:"liquidity"`
	Momentum       MomentumConfig       `yaml:"momentum"`
	PositionSizing PositionSizingConfig `yaml:"position_sizing"`
	Feedback       FeedbackConfig       `yaml:"feedback"`
	Regime         RegimeConfig         `yaml:"regime"`
}

// Default returns a QuantConfig with the literal thresholds spec.md names.
func Default() *QuantConfig {
	return &QuantConfig{
		Liquidity: LiquidityFilter{
			MinAvgTradingValueKRW: 500_000_000,
			MinMarketCapKRW:       50_000_000_000,
			MinLastPriceKRW:       1000,
			MinAvgVolume:          10_000,
		},
		Momentum: MomentumConfig{
			ReturnWindowDays:     20,
			VolumeSurgeShort:     5,
			VolumeSurgeLong:      20,
			PriceStrengthWindow:  20,
			RelativeReturnWeight: 0.5,
			VolumeSurgeWeight:    0.3,
			VolumeSurgeCap:       40,
			PriceStrengthWeight:  0.2,
			TopPercentile:        0.2,
			SectorLimit:          3,
			NeutralSectorScore:   50.0,
		},
		PositionSizing: PositionSizingConfig{
			TargetDailyVolPct:     0.02,
			MinPositionPct:        0.02,
			MaxPositionPct:        0.20,
			StopLossATR:           1.5,
			TakeProfitATR:         2.5,
			TrailingActivationPct: 0.03,
			TrailingATR:           1.5,
			CashBufferPct:         0.05,
		},
		Regime: RegimeConfig{
			Current: RegimeSideways,
			Overrides: map[Regime]RegimeOverride{
				RegimeBull:     {MaxStocks: 8, MaxPositionPct: 0.20, StopLossATR: 1.5},
				RegimeBear:     {MaxStocks: 3, MaxPositionPct: 0.10, StopLossATR: 1.0},
				RegimeSideways: {MaxStocks: 5, MaxPositionPct: 0.15, StopLossATR: 1.5},
				RegimeHighVol:  {MaxStocks: 3, MaxPositionPct: 0.08, StopLossATR: 1.0},
			},
		},
	}
}

// Load reads a QuantConfig from a YAML file, starting from Default() so
// unset fields keep sane values.
func Load(path string) (*QuantConfig, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read quant config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse quant config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: validate quant config: %w", err)
	}
	return cfg, nil
}

// Validate checks that the configuration is internally sane.
func (q *QuantConfig) Validate() error {
	if q.Momentum.SectorLimit <= 0 {
		return fmt.Errorf("momentum.sector_limit must be positive")
	}
	if q.PositionSizing.MinPositionPct <= 0 || q.PositionSizing.MinPositionPct > q.PositionSizing.MaxPositionPct {
		return fmt.Errorf("position_sizing min/max_position_pct out of order")
	}
	if _, ok := q.Regime.Overrides[q.Regime.Current]; !ok {
		return fmt.Errorf("regime.current %q has no override entry", q.Regime.Current)
	}
	return nil
}

// ForRegime returns the override for the given regime, falling back to
// SIDEWAYS if the regime has no explicit entry.
func (q *QuantConfig) ForRegime(r Regime) RegimeOverride {
	if o, ok := q.Regime.Overrides[r]; ok {
		return o
	}
	return q.Regime.Overrides[RegimeSideways]
}

// Active returns the override for the currently configured regime.
func (q *QuantConfig) Active() RegimeOverride {
	return q.ForRegime(q.Regime.Current)
}
