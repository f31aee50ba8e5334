package sellengine

import (
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/This-HW/hantu-quant-sub002/internal/broker"
	"github.com/This-HW/hantu-quant-sub002/internal/indicators"
)

// ExitEvent is the structured record emitted on execution (spec.md §9's
// "typed event bus" redesign flag), consumed by internal/monitor, whose
// callbacks in cmd/engine record exits through internal/storage.
type ExitEvent struct {
	Code         string
	Signal       Signal
	QuantitySold int
	RemainingQty int
	Price        float64
	NewStatus    Status
	Time         time.Time
}

// Action is the recommendation Engine.SelectAction derives from a ranked
// signal set: which signal to act on, and how much quantity to sell.
type Action struct {
	Signal   Signal
	Urgent   bool
	Quantity int
}

// Engine evaluates the exit signal table for a position and executes the
// resulting action. Grounded, in its "named independent checks feeding one
// result" shape, on the teacher's internal/risk.Manager.Validate; in its
// atomic mutate-then-emit execution step, on
// internal/risk.CircuitBreaker.RecordFailure's lock-guarded state change.
type Engine struct {
	cfg Config

	mu     sync.Mutex
	events chan ExitEvent
}

// NewEngine builds an Engine. events may be nil; Execute then drops the
// event instead of blocking, which keeps the engine usable in tests and in
// any caller that doesn't need the event stream.
func NewEngine(cfg Config, events chan ExitEvent) *Engine {
	return &Engine{cfg: cfg, events: events}
}

// Evaluate computes every signal row that fires for pos given the current
// indicator snapshot, orderbook, and foreign-flow flag, sorted by
// descending strength (spec.md §4.10).
func (e *Engine) Evaluate(pos *Position, ind indicators.Snapshot, book broker.Orderbook, foreignNetSelling bool) []Signal {
	snap := pos.Snapshot()
	var signals []Signal

	if snap.CurrentPrice <= snap.StopLossPrice {
		signals = append(signals, Signal{Kind: SignalStopLoss, Strength: 1.0, Confidence: 0.95, Ratio: 1.0})
	}

	if snap.TrailingStopPrice > 0 && snap.CurrentPrice <= snap.TrailingStopPrice && snap.CurrentReturn > 0 {
		signals = append(signals, Signal{Kind: SignalTrailingStop, Strength: 0.9, Confidence: 0.9, Ratio: 1.0})
	}

	if sig, ok := e.takeProfitSignal(snap); ok {
		signals = append(signals, sig)
	}

	if ind.RSI >= 70 {
		strength := 0.6 * math.Min(1, (ind.RSI-70)/30)
		signals = append(signals, Signal{
			Kind:       SignalRSIOverbought,
			Strength:   strength,
			Confidence: 0.7,
			Ratio:      scaleRatio(strength, 0.6, 0.3, 0.8),
		})
	}

	if ind.BBPosition >= 0.8 && snap.CurrentPrice < ind.Bollinger.Upper {
		strength := 0.7 * ind.BBPosition
		signals = append(signals, Signal{
			Kind:       SignalBollingerReversal,
			Strength:   strength,
			Confidence: 0.6,
			Ratio:      scaleRatio(strength, 0.7, 0.3, 0.8),
		})
	}

	if ind.MACD.MACD < ind.MACD.Signal && ind.MACD.Histogram < 0 {
		strength := math.Min(0.8, 0.6*math.Abs(ind.MACD.Histogram))
		signals = append(signals, Signal{
			Kind:       SignalMACDBearish,
			Strength:   strength,
			Confidence: 0.65,
			Ratio:      scaleRatio(strength, 0.8, 0.3, 0.8),
		})
	}

	holdDays := pos.HoldDays(time.Now())
	if e.cfg.MaxHoldDays > 0 && holdDays >= e.cfg.MaxHoldDays {
		strength := 0.5 * math.Min(1, float64(holdDays)/float64(e.cfg.MaxHoldDays))
		signals = append(signals, Signal{Kind: SignalTimeBased, Strength: strength, Confidence: 0.5, Ratio: 0.25})
	}

	if e.orderbookImbalance(book) > e.cfg.OrderbookImbalanceThreshold || foreignNetSelling {
		signals = append(signals, Signal{Kind: SignalMarketCondition, Strength: 0.6, Confidence: 0.6, Ratio: 0.5})
	}

	sort.SliceStable(signals, func(i, j int) bool { return signals[i].Strength > signals[j].Strength })
	return signals
}

func (e *Engine) takeProfitSignal(snap PositionSnapshot) (Signal, bool) {
	for i, level := range e.cfg.TakeProfitLevels {
		if snap.CurrentReturn >= level {
			ratio := 1.0
			if i < len(e.cfg.PartialSellRatios) {
				ratio = e.cfg.PartialSellRatios[i]
			}
			return Signal{Kind: SignalTakeProfit, Strength: 0.8, Confidence: 0.85, Ratio: ratio}, true
		}
	}
	return Signal{}, false
}

// orderbookImbalance is positive when asks dominate bids (selling
// pressure), matching "orderbook imbalance > 0.2" in spec.md §4.10.
func (e *Engine) orderbookImbalance(book broker.Orderbook) float64 {
	total := book.TotalAskVolume + book.TotalBidVolume
	if total == 0 {
		return 0
	}
	return (book.TotalAskVolume - book.TotalBidVolume) / total
}

// SelectAction applies spec.md §4.10's action-selection policy: urgent
// signals always fire; TAKE_PROFIT fires per its partial ratio; any other
// signal fires only if it clears the strength/confidence gate and the
// daily trade-count and market-hours checks pass. Returns nil if no signal
// clears the policy.
func (e *Engine) SelectAction(signals []Signal, todaysTradeCount, maxTradesPerDay int, marketHours bool, quantity int) *Action {
	for _, sig := range signals {
		if sig.Kind.urgent() {
			return &Action{Signal: sig, Urgent: true, Quantity: quantity}
		}
	}

	for _, sig := range signals {
		if sig.Kind == SignalTakeProfit {
			return &Action{Signal: sig, Quantity: partialQuantity(quantity, sig.Ratio)}
		}
	}

	if !marketHours {
		return nil
	}
	if maxTradesPerDay > 0 && todaysTradeCount >= maxTradesPerDay {
		return nil
	}

	for _, sig := range signals {
		if sig.Strength >= e.cfg.MinActionStrength && sig.Confidence >= e.cfg.MinActionConfidence {
			return &Action{Signal: sig, Quantity: partialQuantity(quantity, sig.Ratio)}
		}
	}
	return nil
}

func partialQuantity(total int, ratio float64) int {
	q := int(math.Floor(float64(total) * ratio))
	if q < 1 {
		q = 1
	}
	if q > total {
		q = total
	}
	return q
}

// Execute atomically decrements pos's quantity (or fully closes it), sets
// the terminal status implied by action.Signal.Kind, and emits an
// ExitEvent (spec.md §4.10 "on execution"). Returns the event even when
// the event channel is nil or full, so the caller can still record it.
func (e *Engine) Execute(pos *Position, action *Action, price float64) (ExitEvent, error) {
	if action == nil {
		return ExitEvent{}, fmt.Errorf("sellengine: nil action")
	}

	newStatus := StatusTPTriggered
	if action.Signal.Kind == SignalStopLoss || action.Signal.Kind == SignalTrailingStop {
		newStatus = StatusStopTriggered
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	pos.mu.Lock()
	sold := action.Quantity
	if sold > pos.Quantity {
		sold = pos.Quantity
	}
	remaining := pos.Quantity - sold
	pos.Quantity = remaining
	pos.mu.Unlock()

	if err := pos.Transition(newStatus); err != nil {
		return ExitEvent{}, err
	}

	event := ExitEvent{
		Code:         pos.Code,
		Signal:       action.Signal,
		QuantitySold: sold,
		RemainingQty: remaining,
		Price:        price,
		NewStatus:    newStatus,
		Time:         time.Now(),
	}

	if e.events != nil {
		select {
		case e.events <- event:
		default:
		}
	}
	return event, nil
}
