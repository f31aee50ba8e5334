package selection

import (
	"math"

	"github.com/This-HW/hantu-quant-sub002/internal/cache"
	"github.com/This-HW/hantu-quant-sub002/internal/indicators"
)

const atrPeriod = 14

// conservativeDefault is returned when ATR cannot be computed at all
// (spec.md §4.9 step 1: "if unavailable, return a conservative default
// position").
const (
	conservativeWeight  = 0.05
	conservativeStopPct = 0.03
	conservativeTakePct = 0.05
)

// Sizer turns a candidate's ATR into a volatility-parity position weight,
// share count, stops, and targets (spec.md §4.9). Grounded on the teacher's
// internal/risk.Manager: explicit struct, explicit float64 math driven by
// an injected config, no hidden state.
type Sizer struct {
	cfg *QuantConfig
}

// NewSizer builds a Sizer against the given config. The config is read at
// call time, so a hot-reloaded QuantConfig (via QuantConfigWatcher) is
// picked up on the next Size call without reconstructing the Sizer.
func NewSizer(cfg *QuantConfig) *Sizer {
	return &Sizer{cfg: cfg}
}

// Size implements spec.md §4.9 steps 1-6, plus the (inactive-at-entry)
// trailing-stop fields of step 7. Portfolio-level renormalization (step 8
// overflow rule) is applied across a batch of results by
// NormalizePortfolio, not here, since it needs every candidate's weight at
// once.
func (s *Sizer) Size(code string, currentPrice, totalCapital float64, bars []cache.OhlcvBar) (PositionSize, error) {
	atr := indicators.ATR(bars, atrPeriod)
	if atr <= 0 {
		return s.conservativeSize(code, currentPrice, totalCapital), nil
	}

	ps := s.cfg.PositionSizing
	regime := s.cfg.Active()

	dailyVol := atr / currentPrice
	rawWeight := ps.TargetDailyVolPct / dailyVol

	maxPct := ps.MaxPositionPct
	if regime.MaxPositionPct > 0 {
		maxPct = regime.MaxPositionPct
	}
	weight := clamp(rawWeight, ps.MinPositionPct, maxPct)

	shares := int(math.Floor(totalCapital * weight / currentPrice))
	actualAmount := float64(shares) * currentPrice
	actualWeight := 0.0
	if totalCapital > 0 {
		actualWeight = actualAmount / totalCapital
	}

	stopLossATR := ps.StopLossATR
	if regime.StopLossATR > 0 {
		stopLossATR = regime.StopLossATR
	}
	stopLoss := currentPrice - atr*stopLossATR
	targetPrice := currentPrice + atr*ps.TakeProfitATR

	riskAmount := (currentPrice - stopLoss) * float64(shares)
	riskReward := 0.0
	if stopLossATR > 0 {
		riskReward = ps.TakeProfitATR / stopLossATR
	}

	return PositionSize{
		Code:            code,
		Shares:          shares,
		ActualAmount:    actualAmount,
		Weight:          actualWeight,
		StopLoss:        stopLoss,
		TargetPrice:     targetPrice,
		RiskAmount:      riskAmount,
		RiskReward:      riskReward,
		ATR:             atr,
		DailyVolatility: dailyVol,
	}, nil
}

func (s *Sizer) conservativeSize(code string, currentPrice, totalCapital float64) PositionSize {
	weight := conservativeWeight
	shares := int(math.Floor(totalCapital * weight / currentPrice))
	actualAmount := float64(shares) * currentPrice
	actualWeight := 0.0
	if totalCapital > 0 {
		actualWeight = actualAmount / totalCapital
	}
	stopLoss := currentPrice * (1 - conservativeStopPct)
	targetPrice := currentPrice * (1 + conservativeTakePct)

	return PositionSize{
		Code:         code,
		Shares:       shares,
		ActualAmount: actualAmount,
		Weight:       actualWeight,
		StopLoss:     stopLoss,
		TargetPrice:  targetPrice,
		RiskAmount:   (currentPrice - stopLoss) * float64(shares),
		RiskReward:   conservativeTakePct / conservativeStopPct,
	}
}

// UpdateTrailingStop recomputes a position's trailing stop once its
// unrealized return crosses the activation threshold (spec.md §4.9 step
// 7). The caller passes the highest price observed since entry and the
// current ATR; the level is highestSinceEntry - atr*TrailingATR. Earlier
// levels are not remembered, so a smaller atr, or a return back below the
// threshold (which yields false, 0), gives a lower result than a previous
// call; Position.SetTrailingStop ignores any level below the current one.
func (s *Sizer) UpdateTrailingStop(entryPrice, currentPrice, highestSinceEntry, atr float64) (active bool, level float64) {
	ps := s.cfg.PositionSizing
	if entryPrice <= 0 {
		return false, 0
	}
	unrealizedReturn := (currentPrice - entryPrice) / entryPrice
	if unrealizedReturn < ps.TrailingActivationPct {
		return false, 0
	}
	return true, highestSinceEntry - atr*ps.TrailingATR
}

// clamp bounds v to [lo, hi].
func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// NormalizePortfolio applies spec.md §4.9's portfolio-level overflow rule:
// if the sum of weights exceeds 1.0, scale every weight by 0.95/sum
// (keeping a 5% cash buffer) and re-quantize share counts. prices must
// contain an entry for every size's Code.
func NormalizePortfolio(sizes []PositionSize, prices map[string]float64, totalCapital float64) []PositionSize {
	var sum float64
	for _, ps := range sizes {
		sum += ps.Weight
	}
	if sum <= 1.0 || sum == 0 {
		return sizes
	}

	scale := 0.95 / sum
	out := make([]PositionSize, len(sizes))
	for i, ps := range sizes {
		price := prices[ps.Code]
		newWeight := ps.Weight * scale
		shares := ps.Shares
		actualAmount := ps.ActualAmount
		actualWeight := newWeight
		if price > 0 {
			shares = int(math.Floor(totalCapital * newWeight / price))
			actualAmount = float64(shares) * price
			if totalCapital > 0 {
				actualWeight = actualAmount / totalCapital
			}
		}
		ps.Shares = shares
		ps.ActualAmount = actualAmount
		ps.Weight = actualWeight
		ps.RiskAmount = (price - ps.StopLoss) * float64(shares)
		out[i] = ps
	}
	return out
}
