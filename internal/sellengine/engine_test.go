package sellengine

import (
	"testing"
	"time"

	"github.com/This-HW/hantu-quant-sub002/internal/broker"
	"github.com/This-HW/hantu-quant-sub002/internal/indicators"
)

func TestEngine_StopLossSignalFires(t *testing.T) {
	pos := NewPosition("005930", "Samsung", "tech", 10000, time.Now(), 100, 9700, 10500)
	pos.UpdatePrice(9650)
	e := NewEngine(DefaultConfig(), nil)

	signals := e.Evaluate(pos, indicators.Snapshot{}, broker.Orderbook{}, false)
	if len(signals) == 0 || signals[0].Kind != SignalStopLoss {
		t.Fatalf("expected STOP_LOSS as the top signal, got %+v", signals)
	}
	if signals[0].Strength != 1.0 || signals[0].Ratio != 1.0 {
		t.Errorf("STOP_LOSS signal = %+v, want strength=1.0 ratio=1.0", signals[0])
	}
}

func TestEngine_TrailingStopRequiresPositiveReturn(t *testing.T) {
	pos := NewPosition("005930", "Samsung", "tech", 10000, time.Now(), 100, 8000, 10500)
	pos.SetTrailingStop(9900)
	pos.UpdatePrice(9800) // below trailing stop but return is negative
	e := NewEngine(DefaultConfig(), nil)

	signals := e.Evaluate(pos, indicators.Snapshot{}, broker.Orderbook{}, false)
	for _, s := range signals {
		if s.Kind == SignalTrailingStop {
			t.Error("TRAILING_STOP should not fire when current_return <= 0")
		}
	}
}

func TestEngine_TakeProfitPicksSmallestMatchingLevel(t *testing.T) {
	pos := NewPosition("005930", "Samsung", "tech", 10000, time.Now(), 100, 9000, 20000)
	pos.UpdatePrice(10600) // +6% return, clears level 0 (5%) but not level 1 (10%)
	e := NewEngine(DefaultConfig(), nil)

	signals := e.Evaluate(pos, indicators.Snapshot{}, broker.Orderbook{}, false)
	found := false
	for _, s := range signals {
		if s.Kind == SignalTakeProfit {
			found = true
			if s.Ratio != 0.3 {
				t.Errorf("TAKE_PROFIT ratio = %v, want 0.3 (level 0's partial ratio)", s.Ratio)
			}
		}
	}
	if !found {
		t.Fatal("expected a TAKE_PROFIT signal")
	}
}

func TestEngine_RSIOverboughtScalesWithStrength(t *testing.T) {
	pos := NewPosition("005930", "Samsung", "tech", 10000, time.Now(), 100, 9000, 20000)
	pos.UpdatePrice(10100)
	e := NewEngine(DefaultConfig(), nil)

	snap := indicators.Snapshot{RSI: 85}
	signals := e.Evaluate(pos, snap, broker.Orderbook{}, false)
	var sig *Signal
	for i := range signals {
		if signals[i].Kind == SignalRSIOverbought {
			sig = &signals[i]
		}
	}
	if sig == nil {
		t.Fatal("expected an RSI_OVERBOUGHT signal for rsi=85")
	}
	wantStrength := 0.6 * (85.0 - 70.0) / 30.0
	if !almostEqualF(sig.Strength, wantStrength, 1e-9) {
		t.Errorf("strength = %v, want %v", sig.Strength, wantStrength)
	}
}

func TestEngine_TimeBasedFiresAfterMaxHoldDays(t *testing.T) {
	entry := time.Now().Add(-11 * 24 * time.Hour)
	pos := NewPosition("005930", "Samsung", "tech", 10000, entry, 100, 9000, 20000)
	pos.UpdatePrice(10050)
	e := NewEngine(DefaultConfig(), nil)

	signals := e.Evaluate(pos, indicators.Snapshot{}, broker.Orderbook{}, false)
	found := false
	for _, s := range signals {
		if s.Kind == SignalTimeBased {
			found = true
		}
	}
	if !found {
		t.Fatal("expected TIME_BASED to fire after max_hold_days")
	}
}

func TestEngine_MarketConditionFiresOnImbalance(t *testing.T) {
	pos := NewPosition("005930", "Samsung", "tech", 10000, time.Now(), 100, 9000, 20000)
	pos.UpdatePrice(10010)
	e := NewEngine(DefaultConfig(), nil)

	book := broker.Orderbook{TotalAskVolume: 800, TotalBidVolume: 200} // imbalance = 0.6
	signals := e.Evaluate(pos, indicators.Snapshot{}, book, false)
	found := false
	for _, s := range signals {
		if s.Kind == SignalMarketCondition {
			found = true
		}
	}
	if !found {
		t.Fatal("expected MARKET_CONDITION to fire on a lopsided orderbook")
	}
}

func TestEngine_SignalsSortedByStrengthDescending(t *testing.T) {
	entry := time.Now().Add(-11 * 24 * time.Hour)
	pos := NewPosition("005930", "Samsung", "tech", 10000, entry, 100, 9700, 20000)
	pos.UpdatePrice(9650) // triggers STOP_LOSS (strength 1.0)
	e := NewEngine(DefaultConfig(), nil)

	signals := e.Evaluate(pos, indicators.Snapshot{RSI: 75}, broker.Orderbook{}, false)
	for i := 1; i < len(signals); i++ {
		if signals[i-1].Strength < signals[i].Strength {
			t.Fatalf("signals not sorted by descending strength: %+v", signals)
		}
	}
	if signals[0].Kind != SignalStopLoss {
		t.Errorf("expected STOP_LOSS first, got %s", signals[0].Kind)
	}
}

func TestEngine_SelectAction_UrgentBypassesGates(t *testing.T) {
	e := NewEngine(DefaultConfig(), nil)
	signals := []Signal{{Kind: SignalStopLoss, Strength: 1.0, Confidence: 0.95, Ratio: 1.0}}

	action := e.SelectAction(signals, 100, 3, false, 100) // market closed, trade count over limit
	if action == nil || !action.Urgent {
		t.Fatal("STOP_LOSS should execute regardless of market hours or trade count")
	}
	if action.Quantity != 100 {
		t.Errorf("urgent action quantity = %d, want full 100", action.Quantity)
	}
}

func TestEngine_SelectAction_OtherSignalsGatedByMarketHoursAndTradeCount(t *testing.T) {
	e := NewEngine(DefaultConfig(), nil)
	signals := []Signal{{Kind: SignalRSIOverbought, Strength: 0.5, Confidence: 0.7, Ratio: 0.5}}

	if a := e.SelectAction(signals, 0, 3, false, 100); a != nil {
		t.Error("expected nil action outside market hours")
	}
	if a := e.SelectAction(signals, 3, 3, true, 100); a != nil {
		t.Error("expected nil action once daily trade count is exhausted")
	}
	a := e.SelectAction(signals, 0, 3, true, 100)
	if a == nil {
		t.Fatal("expected an action when gates pass")
	}
}

func TestEngine_SelectAction_RejectsWeakSignal(t *testing.T) {
	e := NewEngine(DefaultConfig(), nil)
	signals := []Signal{{Kind: SignalMACDBearish, Strength: 0.1, Confidence: 0.65, Ratio: 0.3}}
	if a := e.SelectAction(signals, 0, 3, true, 100); a != nil {
		t.Error("expected nil action for a signal below min strength")
	}
}

func TestEngine_Execute_DecrementsQuantityAndSetsTerminalStatus(t *testing.T) {
	pos := NewPosition("005930", "Samsung", "tech", 10000, time.Now(), 100, 9700, 20000)
	e := NewEngine(DefaultConfig(), nil)
	action := &Action{Signal: Signal{Kind: SignalTakeProfit, Ratio: 0.3}, Quantity: 30}

	event, err := e.Execute(pos, action, 10600)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if event.QuantitySold != 30 || event.RemainingQty != 70 {
		t.Errorf("event = %+v, want sold=30 remaining=70", event)
	}
	if pos.Quantity != 70 {
		t.Errorf("position quantity = %d, want 70", pos.Quantity)
	}
	if pos.Status != StatusTPTriggered {
		t.Errorf("status = %s, want TP_TRIGGERED", pos.Status)
	}
}

func TestEngine_Execute_EmitsExitEvent(t *testing.T) {
	pos := NewPosition("005930", "Samsung", "tech", 10000, time.Now(), 100, 9700, 20000)
	events := make(chan ExitEvent, 1)
	e := NewEngine(DefaultConfig(), events)
	action := &Action{Signal: Signal{Kind: SignalStopLoss, Ratio: 1.0}, Urgent: true, Quantity: 100}

	if _, err := e.Execute(pos, action, 9600); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	select {
	case ev := <-events:
		if ev.NewStatus != StatusStopTriggered {
			t.Errorf("event status = %s, want STOP_TRIGGERED", ev.NewStatus)
		}
	default:
		t.Fatal("expected an ExitEvent on the channel")
	}
}

func almostEqualF(a, b, tolerance float64) bool {
	d := a - b
	if d < 0 {
		d = -d
	}
	return d <= tolerance
}
