// Package monitor owns open positions and turns price ticks into exit
// decisions. One goroutine per tracked code consumes that code's ticks in
// arrival order (spec.md §5: "a single-writer discipline, one task owns a
// given position at a time"), runs the sell engine's signal table, and
// executes whatever action clears the policy.
package monitor

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/This-HW/hantu-quant-sub002/internal/broker"
	"github.com/This-HW/hantu-quant-sub002/internal/cache"
	"github.com/This-HW/hantu-quant-sub002/internal/indicators"
	"github.com/This-HW/hantu-quant-sub002/internal/market"
	"github.com/This-HW/hantu-quant-sub002/internal/sellengine"
	"github.com/This-HW/hantu-quant-sub002/internal/stream"
)

// mailboxBuffer bounds how many ticks can queue for a code before OnTick
// starts blocking its caller (the websocket read loop). Sized generously
// since a single code rarely ticks faster than once a second.
const mailboxBuffer = 64

// chartTTL controls how often a position's indicator snapshot is refreshed
// from daily bars; intraday signals don't need a fresh daily bar every tick.
const chartTTL = 10 * time.Minute

// Tick is one price update routed to a position's mailbox, whether it came
// from a WebSocket trade frame or a polling fallback.
type Tick struct {
	Code  string
	Price float64
	Time  time.Time
}

// ChartSource supplies the daily bars a position's indicator snapshot is
// computed from. Satisfied by *broker.KISClient.
type ChartSource interface {
	GetDailyChart(ctx context.Context, code string, periodDays int) ([]cache.OhlcvBar, error)
}

// OrderbookSource supplies the latest orderbook for the market-condition
// signal. Satisfied by *broker.KISClient.
type OrderbookSource interface {
	GetOrderbook(ctx context.Context, code string) (*broker.Orderbook, error)
}

type mailbox struct {
	ticks chan Tick
	done  chan struct{}
}

// Monitor tracks open positions and drives them through the sell engine.
// Grounded, in its register/fan-out shape, on the teacher's
// dashboard.Broadcaster; generalized from one shared channel to one mailbox
// per code, and from a central loop to per-code goroutines, since positions
// (unlike WebSocket clients) need independent, ordered processing.
type Monitor struct {
	engine *sellengine.Engine
	charts ChartSource
	books  OrderbookSource
	cal    *market.Calendar
	c      cache.Cache
	log    *log.Logger

	maxTradesPerDay int

	mu        sync.Mutex
	positions map[string]*sellengine.Position
	mailboxes map[string]*mailbox

	tradeMu    sync.Mutex
	tradeCount map[string]int // trading-day string -> count, reset daily

	cbMu                sync.Mutex
	stopLossCallbacks   []func(sellengine.ExitEvent)
	takeProfitCallbacks []func(sellengine.ExitEvent)
	alertCallbacks      []func(sellengine.ExitEvent)
}

// New builds a Monitor. Constructed explicitly per run, never a package
// singleton (spec.md §9's redesign flag, already applied throughout this
// codebase).
func New(engine *sellengine.Engine, charts ChartSource, books OrderbookSource, cal *market.Calendar, c cache.Cache, maxTradesPerDay int, logger *log.Logger) *Monitor {
	if logger == nil {
		logger = log.Default()
	}
	return &Monitor{
		engine:          engine,
		charts:          charts,
		books:           books,
		cal:             cal,
		c:               c,
		log:             logger,
		maxTradesPerDay: maxTradesPerDay,
		positions:       make(map[string]*sellengine.Position),
		mailboxes:       make(map[string]*mailbox),
		tradeCount:      make(map[string]int),
	}
}

// OnStopLoss registers a callback invoked after a STOP_LOSS or
// TRAILING_STOP execution.
func (m *Monitor) OnStopLoss(cb func(sellengine.ExitEvent)) {
	m.cbMu.Lock()
	defer m.cbMu.Unlock()
	m.stopLossCallbacks = append(m.stopLossCallbacks, cb)
}

// OnTakeProfit registers a callback invoked after a TAKE_PROFIT execution.
func (m *Monitor) OnTakeProfit(cb func(sellengine.ExitEvent)) {
	m.cbMu.Lock()
	defer m.cbMu.Unlock()
	m.takeProfitCallbacks = append(m.takeProfitCallbacks, cb)
}

// OnAlert registers a callback invoked after every execution, regardless of
// signal kind.
func (m *Monitor) OnAlert(cb func(sellengine.ExitEvent)) {
	m.cbMu.Lock()
	defer m.cbMu.Unlock()
	m.alertCallbacks = append(m.alertCallbacks, cb)
}

// Track adds pos to the monitored set and starts its mailbox goroutine.
// ctx governs the goroutine's lifetime; it is not stored on the Monitor,
// only closed over by the goroutine itself.
func (m *Monitor) Track(ctx context.Context, pos *sellengine.Position) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.positions[pos.Code]; exists {
		return
	}
	box := &mailbox{ticks: make(chan Tick, mailboxBuffer), done: make(chan struct{})}
	m.positions[pos.Code] = pos
	m.mailboxes[pos.Code] = box
	go m.run(ctx, pos.Code, box)
}

// Untrack stops monitoring code and shuts down its mailbox goroutine.
func (m *Monitor) Untrack(code string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if box, ok := m.mailboxes[code]; ok {
		close(box.done)
		delete(m.mailboxes, code)
	}
	delete(m.positions, code)
}

// TrackedCodes returns the codes currently tracked, for callers that need
// to drive a polling fallback across every open position.
func (m *Monitor) TrackedCodes() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	codes := make([]string, 0, len(m.positions))
	for code := range m.positions {
		codes = append(codes, code)
	}
	return codes
}

// OnTick routes a raw price update (e.g. from a polling fallback) to code's
// mailbox. Drops silently if code isn't tracked (spec.md §4.11 point 1).
func (m *Monitor) OnTick(code string, price float64) {
	m.deliver(Tick{Code: code, Price: price, Time: time.Now()})
}

// OnTradeFrame routes a parsed WebSocket trade frame to its code's mailbox.
func (m *Monitor) OnTradeFrame(f stream.TradeFrame) {
	t := f.Time
	if t.IsZero() {
		t = time.Now()
	}
	m.deliver(Tick{Code: f.Code, Price: f.Price, Time: t})
}

func (m *Monitor) deliver(tick Tick) {
	m.mu.Lock()
	box, ok := m.mailboxes[tick.Code]
	m.mu.Unlock()
	if !ok {
		return
	}
	select {
	case box.ticks <- tick:
	case <-box.done:
	}
}

// run is the single-writer goroutine for one code: it owns that position's
// processing for as long as the position is tracked.
func (m *Monitor) run(ctx context.Context, code string, box *mailbox) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-box.done:
			return
		case tick := <-box.ticks:
			m.process(ctx, code, tick)
		}
	}
}

func (m *Monitor) process(ctx context.Context, code string, tick Tick) {
	m.mu.Lock()
	pos, ok := m.positions[code]
	m.mu.Unlock()
	if !ok {
		return
	}
	if pos.Snapshot().Status != sellengine.StatusActive {
		return
	}

	pos.UpdatePrice(tick.Price)

	snap, ok := m.indicatorSnapshot(ctx, code)
	if !ok {
		return
	}

	book := broker.Orderbook{}
	if m.books != nil {
		if b, err := m.books.GetOrderbook(ctx, code); err == nil && b != nil {
			book = *b
		}
	}

	signals := m.engine.Evaluate(pos, snap, book, false)
	if len(signals) == 0 {
		return
	}

	marketHours := m.cal == nil || m.cal.IsMarketOpen(tick.Time)
	tradeCount := m.todaysTradeCount(tick.Time)

	action := m.engine.SelectAction(signals, tradeCount, m.maxTradesPerDay, marketHours, pos.Quantity)
	if action == nil {
		return
	}

	event, err := m.engine.Execute(pos, action, tick.Price)
	if err != nil {
		m.log.Printf("monitor: execute %s: %v", code, err)
		return
	}
	m.recordTrade(tick.Time)
	m.dispatch(event)

	if event.RemainingQty == 0 {
		m.Untrack(code)
	}
}

func (m *Monitor) indicatorSnapshot(ctx context.Context, code string) (indicators.Snapshot, bool) {
	load := func(ctx context.Context, key string) (indicators.Snapshot, error) {
		bars, err := m.charts.GetDailyChart(ctx, code, 90)
		if err != nil {
			return indicators.Snapshot{}, err
		}
		return indicators.Compute(bars)
	}
	if m.c != nil {
		load = cache.WithTTL[indicators.Snapshot](m.c, chartTTL, load)
	}
	snap, err := load(ctx, "monitor:snapshot:"+code)
	if err != nil {
		return indicators.Snapshot{}, false
	}
	return snap, true
}

func (m *Monitor) todaysTradeCount(now time.Time) int {
	day := now.Format("2006-01-02")
	m.tradeMu.Lock()
	defer m.tradeMu.Unlock()
	return m.tradeCount[day]
}

func (m *Monitor) recordTrade(now time.Time) {
	day := now.Format("2006-01-02")
	m.tradeMu.Lock()
	defer m.tradeMu.Unlock()
	m.tradeCount[day]++
}

// dispatch runs every callback registered for event's outcome, in
// registration order, isolating each call so one callback's panic can't
// stop the others (spec.md §4.11 point 5) — grounded on
// dashboard.Broadcaster's per-client fan-out loop, extended with recover()
// since the teacher's loop has no such requirement.
func (m *Monitor) dispatch(event sellengine.ExitEvent) {
	m.cbMu.Lock()
	var targeted []func(sellengine.ExitEvent)
	switch event.NewStatus {
	case sellengine.StatusStopTriggered:
		targeted = append(targeted, m.stopLossCallbacks...)
	case sellengine.StatusTPTriggered:
		targeted = append(targeted, m.takeProfitCallbacks...)
	}
	alerts := append([]func(sellengine.ExitEvent){}, m.alertCallbacks...)
	m.cbMu.Unlock()

	for _, cb := range targeted {
		m.invoke(cb, event)
	}
	for _, cb := range alerts {
		m.invoke(cb, event)
	}
}

func (m *Monitor) invoke(cb func(sellengine.ExitEvent), event sellengine.ExitEvent) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Printf("monitor: callback panic for %s: %v", event.Code, r)
		}
	}()
	cb(event)
}
