package indicators

import (
	"math"
	"testing"
	"time"

	"github.com/This-HW/hantu-quant-sub002/internal/cache"
)

func makeBars(closes []float64) []cache.OhlcvBar {
	bars := make([]cache.OhlcvBar, len(closes))
	for i, c := range closes {
		bars[i] = cache.OhlcvBar{
			Date:   time.Date(2026, 1, 1+i, 0, 0, 0, 0, time.UTC),
			Open:   c - 1,
			High:   c + 2,
			Low:    c - 2,
			Close:  c,
			Volume: 100000 + float64(i*1000),
		}
	}
	return bars
}

func almostEqual(a, b, tolerance float64) bool {
	return math.Abs(a-b) < tolerance
}

func TestATR_Basic(t *testing.T) {
	bars := makeBars([]float64{
		100, 102, 104, 103, 105, 107, 106, 108, 110, 109,
		111, 113, 112, 114, 116, 115,
	})
	atr := ATR(bars, 14)
	if atr <= 0 {
		t.Errorf("expected positive ATR, got %.4f", atr)
	}
}

func TestATR_InsufficientData(t *testing.T) {
	bars := makeBars([]float64{100, 102, 104})
	atr := ATR(bars, 14)
	last := bars[len(bars)-1]
	expected := last.High - last.Low
	if atr != expected {
		t.Errorf("expected fallback ATR %.4f, got %.4f", expected, atr)
	}
}

func TestATR_EmptyBars(t *testing.T) {
	if atr := ATR(nil, 14); atr != 0 {
		t.Errorf("expected 0 ATR for empty bars, got %.4f", atr)
	}
}

func TestRSI_Neutral(t *testing.T) {
	bars := makeBars([]float64{100, 102, 104})
	if rsi := RSI(bars, 14); rsi != 50 {
		t.Errorf("expected RSI=50 for insufficient data, got %.2f", rsi)
	}
}

func TestRSI_AllGains(t *testing.T) {
	prices := make([]float64, 20)
	for i := range prices {
		prices[i] = 100 + float64(i)*2
	}
	bars := makeBars(prices)
	if rsi := RSI(bars, 14); rsi < 95 {
		t.Errorf("expected RSI near 100 for all gains, got %.2f", rsi)
	}
}

func TestRSI_AllLosses(t *testing.T) {
	prices := make([]float64, 20)
	for i := range prices {
		prices[i] = 200 - float64(i)*2
	}
	bars := makeBars(prices)
	if rsi := RSI(bars, 14); rsi > 5 {
		t.Errorf("expected RSI near 0 for all losses, got %.2f", rsi)
	}
}

func TestSMA(t *testing.T) {
	bars := makeBars([]float64{10, 20, 30, 40, 50})
	if sma := SMA(bars, 5); !almostEqual(sma, 30, 0.001) {
		t.Errorf("expected SMA=30, got %.4f", sma)
	}
}

func TestEMA_ConvergesTowardTrend(t *testing.T) {
	prices := make([]float64, 50)
	for i := range prices {
		prices[i] = 100
	}
	bars := makeBars(prices)
	if ema := EMA(bars, 12); !almostEqual(ema, 100, 0.01) {
		t.Errorf("expected EMA to converge to flat price 100, got %.4f", ema)
	}
}

func TestWMA_WeightsRecentMore(t *testing.T) {
	bars := makeBars([]float64{10, 20, 30})
	wma := WMA(bars, 3)
	sma := SMA(bars, 3)
	if wma <= sma {
		t.Errorf("expected WMA (%.4f) > SMA (%.4f) for a rising series", wma, sma)
	}
}

func TestMACD_FlatSeriesIsZero(t *testing.T) {
	prices := make([]float64, 40)
	for i := range prices {
		prices[i] = 100
	}
	bars := makeBars(prices)
	m := MACD(bars)
	if !almostEqual(m.MACD, 0, 0.01) || !almostEqual(m.Histogram, 0, 0.01) {
		t.Errorf("expected ~0 MACD/histogram on a flat series, got %+v", m)
	}
}

func TestMACD_InsufficientData(t *testing.T) {
	bars := makeBars([]float64{100, 101, 102})
	m := MACD(bars)
	if m != (MACDResult{}) {
		t.Errorf("expected zero-value MACD for insufficient data, got %+v", m)
	}
}

func TestBollinger_BandsStraddleMid(t *testing.T) {
	prices := []float64{100, 102, 98, 101, 99, 103, 97, 100, 102, 98,
		101, 99, 103, 97, 100, 102, 98, 101, 99, 103}
	bars := makeBars(prices)
	b := BollingerWithParams(bars, 20, 2.0)
	if b.Lower >= b.Mid || b.Mid >= b.Upper {
		t.Errorf("expected lower < mid < upper, got %+v", b)
	}
}

func TestBBPosition_ClampedToUnitRange(t *testing.T) {
	b := BollingerResult{Mid: 100, Upper: 110, Lower: 90}
	if pos := BBPosition(200, b); pos != 1 {
		t.Errorf("expected clamp to 1 above the upper band, got %.4f", pos)
	}
	if pos := BBPosition(0, b); pos != 0 {
		t.Errorf("expected clamp to 0 below the lower band, got %.4f", pos)
	}
	if pos := BBPosition(100, b); !almostEqual(pos, 0.5, 0.001) {
		t.Errorf("expected 0.5 at the mid band, got %.4f", pos)
	}
}

func TestStochastic_BoundedZeroToHundred(t *testing.T) {
	prices := make([]float64, 30)
	for i := range prices {
		prices[i] = 100 + float64(i%5)
	}
	bars := makeBars(prices)
	s := Stochastic(bars)
	if s.K < 0 || s.K > 100 || s.D < 0 || s.D > 100 {
		t.Errorf("expected %%K/%%D in [0,100], got %+v", s)
	}
}

func TestOBV_CumulativeDirection(t *testing.T) {
	bars := makeBars([]float64{100, 105, 102, 110})
	obv := OBV(bars)
	if len(obv) != 4 {
		t.Fatalf("expected 4 OBV values, got %d", len(obv))
	}
	if obv[1] <= obv[0] {
		t.Errorf("expected OBV to rise when close rises, got %v", obv)
	}
	if obv[2] >= obv[1] {
		t.Errorf("expected OBV to fall when close falls, got %v", obv)
	}
}

func TestOBVDivergence_Bearish(t *testing.T) {
	// Price rises steadily but volume shrinks each bar → OBV falls even as
	// price climbs (when a down-day's volume outweighs up-days' thin volume
	// is not required here; OBVDivergence only looks at sign of cumulative
	// delta, so construct a clean case: first half down on heavy volume,
	// second half up on thin volume).
	bars := make([]cache.OhlcvBar, 0, 30)
	price := 120.0
	for i := 0; i < 10; i++ {
		price -= 1
		bars = append(bars, cache.OhlcvBar{
			Date: time.Date(2026, 1, 1+i, 0, 0, 0, 0, time.UTC),
			Open: price + 1, High: price + 2, Low: price - 1, Close: price,
			Volume: 10000,
		})
	}
	for i := 10; i < 20; i++ {
		price += 1
		bars = append(bars, cache.OhlcvBar{
			Date: time.Date(2026, 1, 1+i, 0, 0, 0, 0, time.UTC),
			Open: price - 1, High: price + 1, Low: price - 2, Close: price,
			Volume: 1,
		})
	}
	d := OBVDivergence(bars, 19)
	if d != DivergenceBearish {
		t.Errorf("expected bearish divergence, got %s", d)
	}
}

func TestFillMissing_ForwardThenBackFill(t *testing.T) {
	bars := makeBars([]float64{10, 20, 30})
	bars[1].Close = math.NaN()
	filled := FillMissing(bars)
	if filled[1].Close != 10 {
		t.Errorf("expected forward-fill from bar 0, got %.4f", filled[1].Close)
	}

	bars2 := makeBars([]float64{10, 20, 30})
	bars2[0].Close = math.NaN()
	filled2 := FillMissing(bars2)
	if filled2[0].Close != 20 {
		t.Errorf("expected back-fill from bar 1, got %.4f", filled2[0].Close)
	}
}

func TestCompute_ErrorsOnShortHistory(t *testing.T) {
	bars := makeBars([]float64{100, 101, 102})
	if _, err := Compute(bars); err == nil {
		t.Error("expected an error for a history shorter than the longest indicator window")
	}
}

func TestCompute_FullSnapshot(t *testing.T) {
	prices := make([]float64, 60)
	for i := range prices {
		prices[i] = 100 + float64(i%7)
	}
	bars := makeBars(prices)
	snap, err := Compute(bars)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if snap.RSI < 0 || snap.RSI > 100 {
		t.Errorf("expected RSI in [0,100], got %.2f", snap.RSI)
	}
	if snap.ATR <= 0 {
		t.Errorf("expected positive ATR, got %.4f", snap.ATR)
	}
}
