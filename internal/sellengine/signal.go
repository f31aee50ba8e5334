package sellengine

// SignalKind names one row of the exit signal table (spec.md §4.10).
type SignalKind string

const (
	SignalStopLoss          SignalKind = "STOP_LOSS"
	SignalTrailingStop      SignalKind = "TRAILING_STOP"
	SignalTakeProfit        SignalKind = "TAKE_PROFIT"
	SignalRSIOverbought     SignalKind = "RSI_OVERBOUGHT"
	SignalBollingerReversal SignalKind = "BOLLINGER_REVERSAL"
	SignalMACDBearish       SignalKind = "MACD_BEARISH"
	SignalTimeBased         SignalKind = "TIME_BASED"
	SignalMarketCondition   SignalKind = "MARKET_CONDITION"
)

// urgent reports whether a signal demands immediate full-quantity exit,
// bypassing the strength/confidence gate (spec.md §4.10 action-selection
// policy).
func (k SignalKind) urgent() bool {
	return k == SignalStopLoss || k == SignalTrailingStop
}

// Signal is one triggered row from Engine.Evaluate.
type Signal struct {
	Kind       SignalKind
	Strength   float64
	Confidence float64
	// Ratio is the fraction of the position's quantity this signal
	// recommends selling (1.0 for a full exit).
	Ratio float64
}

// scaleRatio maps strength onto [loRatio, hiRatio] proportionally to
// strength/maxStrength, clamped to the range. Used by the signals whose
// table entry reads "ratio 0.3..0.8 by strength."
func scaleRatio(strength, maxStrength, loRatio, hiRatio float64) float64 {
	if maxStrength <= 0 {
		return loRatio
	}
	frac := strength / maxStrength
	if frac < 0 {
		frac = 0
	}
	if frac > 1 {
		frac = 1
	}
	return loRatio + frac*(hiRatio-loRatio)
}
