// Package indicators computes technical indicators over OHLCV bar
// sequences (spec.md §4.7). It is a direct generalization of the teacher's
// internal/strategy/indicators.go `Calculate*(candles []Candle, period
// int) float64` family: the same insufficient-data guards (neutral RSI,
// last-bar-range ATR fallback) extended to the full indicator set the
// selector and sell engine need, and retargeted from `strategy.Candle` to
// `cache.OhlcvBar` so this package has no dependency on the strategy
// framework it supersedes.
package indicators

import (
	"fmt"
	"math"

	"github.com/This-HW/hantu-quant-sub002/internal/cache"
)

// validatePeriod enforces spec.md §4.7's "1 <= period <= len(bars)" rule
// shared by every indicator in this package.
func validatePeriod(bars []cache.OhlcvBar, period int) error {
	if period < 1 {
		return fmt.Errorf("indicators: period must be >= 1, got %d", period)
	}
	if period > len(bars) {
		return fmt.Errorf("indicators: period %d exceeds %d bars", period, len(bars))
	}
	return nil
}

// FillMissing forward-fills, then back-fills, any NaN OHLC/volume field in
// bars, mirroring the spec's "missing values propagate via forward-then-
// back-fill before computation" rule. It returns a new slice; the input is
// not mutated.
func FillMissing(bars []cache.OhlcvBar) []cache.OhlcvBar {
	out := make([]cache.OhlcvBar, len(bars))
	copy(out, bars)

	fill := func(get func(int) float64, set func(int, float64)) {
		var last float64
		haveLast := false
		for i := range out {
			v := get(i)
			if math.IsNaN(v) {
				if haveLast {
					set(i, last)
				}
				continue
			}
			last = v
			haveLast = true
		}
		var next float64
		haveNext := false
		for i := len(out) - 1; i >= 0; i-- {
			v := get(i)
			if math.IsNaN(v) {
				if haveNext {
					set(i, next)
				}
				continue
			}
			next = v
			haveNext = true
		}
	}

	fill(func(i int) float64 { return out[i].Open }, func(i int, v float64) { out[i].Open = v })
	fill(func(i int) float64 { return out[i].High }, func(i int, v float64) { out[i].High = v })
	fill(func(i int) float64 { return out[i].Low }, func(i int, v float64) { out[i].Low = v })
	fill(func(i int) float64 { return out[i].Close }, func(i int, v float64) { out[i].Close = v })
	fill(func(i int) float64 { return out[i].Volume }, func(i int, v float64) { out[i].Volume = v })
	return out
}

// RSI computes the Relative Strength Index over period using Wilder
// smoothing, returning 50 (neutral) when there isn't enough history —
// grounded on the teacher's CalculateRSI.
func RSI(bars []cache.OhlcvBar, period int) float64 {
	if len(bars) < period+1 {
		return 50
	}
	bars = FillMissing(bars)

	var gainSum, lossSum float64
	for i := 1; i <= period; i++ {
		change := bars[i].Close - bars[i-1].Close
		if change > 0 {
			gainSum += change
		} else {
			lossSum += math.Abs(change)
		}
	}
	avgGain := gainSum / float64(period)
	avgLoss := lossSum / float64(period)

	for i := period + 1; i < len(bars); i++ {
		change := bars[i].Close - bars[i-1].Close
		var gain, loss float64
		if change > 0 {
			gain = change
		} else {
			loss = math.Abs(change)
		}
		avgGain = (avgGain*float64(period-1) + gain) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + loss) / float64(period)
	}

	if avgLoss == 0 {
		return 100
	}
	rs := avgGain / avgLoss
	return 100 - 100/(1+rs)
}

// MAType selects the moving-average flavor (spec.md §4.7).
type MAType string

const (
	MASimple     MAType = "SMA"
	MAExponential MAType = "EMA"
	MAWeighted   MAType = "WMA"
)

// SMA computes the simple moving average of closes over the last period bars.
func SMA(bars []cache.OhlcvBar, period int) float64 {
	if err := validatePeriod(bars, period); err != nil {
		return 0
	}
	bars = FillMissing(bars)
	var sum float64
	for i := len(bars) - period; i < len(bars); i++ {
		sum += bars[i].Close
	}
	return sum / float64(period)
}

// EMA computes the exponential moving average of closes with α=2/(period+1),
// seeded by the SMA of the first period bars.
func EMA(bars []cache.OhlcvBar, period int) float64 {
	series := EMASeries(bars, period)
	if len(series) == 0 {
		return 0
	}
	return series[len(series)-1]
}

// EMASeries returns the full EMA sequence aligned to bars[period-1:], seeded
// by the SMA of the first period closes.
func EMASeries(bars []cache.OhlcvBar, period int) []float64 {
	if err := validatePeriod(bars, period); err != nil {
		return nil
	}
	bars = FillMissing(bars)
	alpha := 2.0 / float64(period+1)

	var seed float64
	for i := 0; i < period; i++ {
		seed += bars[i].Close
	}
	seed /= float64(period)

	out := make([]float64, 0, len(bars)-period+1)
	out = append(out, seed)
	prev := seed
	for i := period; i < len(bars); i++ {
		v := bars[i].Close*alpha + prev*(1-alpha)
		out = append(out, v)
		prev = v
	}
	return out
}

// WMA computes the linearly-weighted moving average (weights 1..period,
// most recent bar weighted heaviest).
func WMA(bars []cache.OhlcvBar, period int) float64 {
	if err := validatePeriod(bars, period); err != nil {
		return 0
	}
	bars = FillMissing(bars)
	var weightedSum, weightTotal float64
	start := len(bars) - period
	for i := 0; i < period; i++ {
		weight := float64(i + 1)
		weightedSum += bars[start+i].Close * weight
		weightTotal += weight
	}
	return weightedSum / weightTotal
}

// MA dispatches to SMA/EMA/WMA by kind.
func MA(bars []cache.OhlcvBar, period int, kind MAType) float64 {
	switch kind {
	case MAExponential:
		return EMA(bars, period)
	case MAWeighted:
		return WMA(bars, period)
	default:
		return SMA(bars, period)
	}
}

// MACDResult bundles the MACD line, its signal line, and their histogram.
type MACDResult struct {
	MACD      float64
	Signal    float64
	Histogram float64
}

// MACD computes the standard 12/26/9 configuration by default; callers
// needing different spans use MACDWithPeriods.
func MACD(bars []cache.OhlcvBar) MACDResult {
	return MACDWithPeriods(bars, 12, 26, 9)
}

// MACDWithPeriods computes MACD = EMA(fast) - EMA(slow), its `signalPeriod`
// EMA (the "signal" line), and their difference (the histogram).
func MACDWithPeriods(bars []cache.OhlcvBar, fast, slow, signalPeriod int) MACDResult {
	if len(bars) < slow+signalPeriod {
		return MACDResult{}
	}
	bars = FillMissing(bars)

	fastSeries := EMASeries(bars, fast)
	slowSeries := EMASeries(bars, slow)
	// fastSeries is longer (starts earlier) than slowSeries; align on the
	// tail, which is what the slow series' length dictates.
	offset := len(fastSeries) - len(slowSeries)
	macdSeries := make([]float64, len(slowSeries))
	for i := range slowSeries {
		macdSeries[i] = fastSeries[i+offset] - slowSeries[i]
	}

	if len(macdSeries) < signalPeriod {
		return MACDResult{MACD: macdSeries[len(macdSeries)-1]}
	}

	// EMA of the MACD series itself, seeded the same way EMASeries seeds
	// from raw closes: SMA of the first signalPeriod values.
	alpha := 2.0 / float64(signalPeriod+1)
	var seed float64
	for i := 0; i < signalPeriod; i++ {
		seed += macdSeries[i]
	}
	seed /= float64(signalPeriod)
	signal := seed
	for i := signalPeriod; i < len(macdSeries); i++ {
		signal = macdSeries[i]*alpha + signal*(1-alpha)
	}

	macdLatest := macdSeries[len(macdSeries)-1]
	return MACDResult{
		MACD:      macdLatest,
		Signal:    signal,
		Histogram: macdLatest - signal,
	}
}

// BollingerResult bundles the mid/upper/lower bands at the latest bar.
type BollingerResult struct {
	Mid   float64
	Upper float64
	Lower float64
}

// Bollinger computes the classic 20-period, 2-sigma bands.
func Bollinger(bars []cache.OhlcvBar) BollingerResult {
	return BollingerWithParams(bars, 20, 2.0)
}

// BollingerWithParams computes mid = SMA(period), upper/lower = mid ± numStd*stddev(period).
func BollingerWithParams(bars []cache.OhlcvBar, period int, numStd float64) BollingerResult {
	if err := validatePeriod(bars, period); err != nil {
		return BollingerResult{}
	}
	bars = FillMissing(bars)
	mid := SMA(bars, period)

	start := len(bars) - period
	var variance float64
	for i := start; i < len(bars); i++ {
		d := bars[i].Close - mid
		variance += d * d
	}
	variance /= float64(period)
	stddev := math.Sqrt(variance)

	return BollingerResult{
		Mid:   mid,
		Upper: mid + numStd*stddev,
		Lower: mid - numStd*stddev,
	}
}

// BBPosition returns where price sits within the Bollinger band, clamped to
// [0,1]: 0 at the lower band, 1 at the upper band. Used by the sell
// engine's BOLLINGER_REVERSAL signal (spec.md §4.10).
func BBPosition(price float64, b BollingerResult) float64 {
	width := b.Upper - b.Lower
	if width <= 0 {
		return 0.5
	}
	pos := (price - b.Lower) / width
	if pos < 0 {
		return 0
	}
	if pos > 1 {
		return 1
	}
	return pos
}

// StochasticResult bundles the smoothed %K and %D lines.
type StochasticResult struct {
	K float64
	D float64
}

// Stochastic computes the classic 14/3/3 fast-K → slow-K → slow-D chain.
func Stochastic(bars []cache.OhlcvBar) StochasticResult {
	return StochasticWithParams(bars, 14, 3, 3)
}

// StochasticWithParams computes fast %K over kPeriod, smooths it by smoothK
// (producing slow %K), then smooths that by dPeriod (producing %D).
func StochasticWithParams(bars []cache.OhlcvBar, kPeriod, dPeriod, smoothK int) StochasticResult {
	need := kPeriod + smoothK + dPeriod
	if len(bars) < need {
		return StochasticResult{}
	}
	bars = FillMissing(bars)

	fastK := make([]float64, 0, len(bars)-kPeriod+1)
	for i := kPeriod - 1; i < len(bars); i++ {
		window := bars[i-kPeriod+1 : i+1]
		hh, ll := window[0].High, window[0].Low
		for _, b := range window {
			if b.High > hh {
				hh = b.High
			}
			if b.Low < ll {
				ll = b.Low
			}
		}
		if hh == ll {
			fastK = append(fastK, 50)
			continue
		}
		fastK = append(fastK, 100*(bars[i].Close-ll)/(hh-ll))
	}

	slowK := smoothSeries(fastK, smoothK)
	slowD := smoothSeries(slowK, dPeriod)
	if len(slowK) == 0 || len(slowD) == 0 {
		return StochasticResult{}
	}

	return StochasticResult{K: slowK[len(slowK)-1], D: slowD[len(slowD)-1]}
}

// smoothSeries returns the simple moving average of series over a sliding
// window of size period, one output per valid window.
func smoothSeries(series []float64, period int) []float64 {
	if len(series) < period {
		return nil
	}
	out := make([]float64, 0, len(series)-period+1)
	var sum float64
	for i, v := range series {
		sum += v
		if i >= period {
			sum -= series[i-period]
		}
		if i >= period-1 {
			out = append(out, sum/float64(period))
		}
	}
	return out
}

// trueRange computes True Range for bar i against the previous close.
func trueRange(curr, prev cache.OhlcvBar) float64 {
	tr1 := curr.High - curr.Low
	tr2 := math.Abs(curr.High - prev.Close)
	tr3 := math.Abs(curr.Low - prev.Close)
	return math.Max(tr1, math.Max(tr2, tr3))
}

// ATR computes the Average True Range as an EMA of True Range with span =
// period (spec.md §4.7: a deliberate change from the teacher's simple
// rolling mean — see DESIGN.md REDESIGN note). Falls back to the latest
// bar's high-low range when there isn't enough history, same guard as the
// teacher's CalculateATR.
func ATR(bars []cache.OhlcvBar, period int) float64 {
	if len(bars) == 0 {
		return 0
	}
	if len(bars) < period+1 {
		last := bars[len(bars)-1]
		return last.High - last.Low
	}
	bars = FillMissing(bars)

	trs := make([]float64, 0, len(bars)-1)
	for i := 1; i < len(bars); i++ {
		trs = append(trs, trueRange(bars[i], bars[i-1]))
	}

	alpha := 2.0 / float64(period+1)
	var seed float64
	for i := 0; i < period; i++ {
		seed += trs[i]
	}
	seed /= float64(period)
	atr := seed
	for i := period; i < len(trs); i++ {
		atr = trs[i]*alpha + atr*(1-alpha)
	}
	return atr
}

// OBV computes the On-Balance Volume series, one value per bar: cumulative
// sum of +volume when close rises, -volume when it falls, 0 when flat.
func OBV(bars []cache.OhlcvBar) []float64 {
	if len(bars) == 0 {
		return nil
	}
	bars = FillMissing(bars)
	out := make([]float64, len(bars))
	for i := 1; i < len(bars); i++ {
		switch {
		case bars[i].Close > bars[i-1].Close:
			out[i] = out[i-1] + bars[i].Volume
		case bars[i].Close < bars[i-1].Close:
			out[i] = out[i-1] - bars[i].Volume
		default:
			out[i] = out[i-1]
		}
	}
	return out
}

// Divergence classifies the relationship between price and OBV trend over
// a lookback window (spec.md §4.7).
type Divergence string

const (
	DivergenceBearish    Divergence = "BEARISH_DIVERGENCE"
	DivergenceBullish    Divergence = "BULLISH_DIVERGENCE"
	DivergenceConfirming Divergence = "CONFIRMING"
	DivergenceNeutral    Divergence = "NEUTRAL"
)

// OBVDivergence classifies price/OBV divergence over the last lookback
// bars: Δprice > 0 ∧ Δobv < 0 → bearish divergence (price rising on fading
// volume conviction); Δprice < 0 ∧ Δobv > 0 → bullish divergence; same sign
// → confirming; otherwise neutral.
func OBVDivergence(bars []cache.OhlcvBar, lookback int) Divergence {
	if lookback < 1 || len(bars) <= lookback {
		return DivergenceNeutral
	}
	obv := OBV(bars)

	n := len(bars)
	deltaPrice := bars[n-1].Close - bars[n-1-lookback].Close
	deltaOBV := obv[n-1] - obv[n-1-lookback]

	switch {
	case deltaPrice > 0 && deltaOBV < 0:
		return DivergenceBearish
	case deltaPrice < 0 && deltaOBV > 0:
		return DivergenceBullish
	case (deltaPrice > 0 && deltaOBV > 0) || (deltaPrice < 0 && deltaOBV < 0):
		return DivergenceConfirming
	default:
		return DivergenceNeutral
	}
}

// Snapshot bundles every indicator value the sell engine needs at the
// latest bar, so C10's signal table can be evaluated from one struct
// instead of recomputing each indicator inline.
type Snapshot struct {
	RSI        float64
	MACD       MACDResult
	Bollinger  BollingerResult
	BBPosition float64
	Stochastic StochasticResult
	ATR        float64
	OBVDiverge Divergence
}

// Compute builds a Snapshot from a daily bar sequence ending at the
// position's latest price. Returns an error if there isn't enough history
// for the longest-window indicator (MACD's 26+9), so callers can drop the
// candidate rather than act on a half-computed snapshot (spec.md §7:
// "catch indicator-computation errors per candidate").
func Compute(bars []cache.OhlcvBar) (Snapshot, error) {
	if len(bars) < 35 {
		return Snapshot{}, fmt.Errorf("indicators: need at least 35 bars for a full snapshot, got %d", len(bars))
	}
	bb := Bollinger(bars)
	price := bars[len(bars)-1].Close
	return Snapshot{
		RSI:        RSI(bars, 14),
		MACD:       MACD(bars),
		Bollinger:  bb,
		BBPosition: BBPosition(price, bb),
		Stochastic: Stochastic(bars),
		ATR:        ATR(bars, 14),
		OBVDiverge: OBVDivergence(bars, 20),
	}, nil
}
