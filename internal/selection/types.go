package selection

import "time"

// Candidate is one watchlist entry fed into Selector.Select. Fields left
// zero are imputed conservatively during the liquidity filter stage
// (spec.md §4.8 stage 2).
type Candidate struct {
	Code   string
	Name   string
	Sector string

	LastPrice float64
	AvgVolume float64 // average daily share volume

	// AvgTradingValueKRW is average daily trading value in KRW. If zero,
	// it is imputed as AvgVolume * LastPrice.
	AvgTradingValueKRW float64

	// MarketCapKRW is market capitalization. If MarketCapIn100M is true,
	// the value is stated in units of 100,000,000 KRW (the conventional
	// Korean "억원" unit) and is converted before filtering.
	MarketCapKRW    float64
	MarketCapIn100M bool
}

// effectiveTradingValue applies the trading_value imputation rule.
func (c Candidate) effectiveTradingValue() float64 {
	if c.AvgTradingValueKRW > 0 {
		return c.AvgTradingValueKRW
	}
	return c.AvgVolume * c.LastPrice
}

// effectiveMarketCap applies the 100M-unit heuristic.
func (c Candidate) effectiveMarketCap() float64 {
	if c.MarketCapIn100M {
		return c.MarketCapKRW * 1e8
	}
	return c.MarketCapKRW
}

// PositionSize is the output of Sizer.Size (spec.md §4.9).
type PositionSize struct {
	Code         string
	Shares       int
	ActualAmount float64
	Weight       float64 // actual_weight after quantization (and portfolio renormalization)

	StopLoss    float64
	TargetPrice float64

	TrailingActive    bool
	TrailingStopPrice float64

	RiskAmount float64
	RiskReward float64

	ATR             float64
	DailyVolatility float64
}

// SelectionResult is one accepted candidate carrying its sizing outputs
// (spec.md §3).
type SelectionResult struct {
	Code            string
	Name            string
	Sector          string
	SelectionDate   time.Time
	SelectionReason string

	MomentumScore  float64
	PercentileRank float64

	EntryPrice     float64
	TargetPrice    float64
	StopLoss       float64
	ExpectedReturn float64

	PositionWeight  float64
	PositionAmount  float64

	MarketCap float64
	Priority  int

	ATRValue        float64
	DailyVolatility float64
}
