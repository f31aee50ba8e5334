// Package sellengine implements the multi-signal exit state machine and
// per-position risk bookkeeping (spec.md §4.10): a Position's one-way
// status transitions, the signal table that reads a price tick plus an
// indicator snapshot, and action selection under urgency/strength/
// confidence policy.
package sellengine

import (
	"fmt"
	"sync"
	"time"
)

// Status is a Position's lifecycle state (spec.md §3). Transitions are
// one-way: ACTIVE -> {STOP_TRIGGERED, TP_TRIGGERED} -> CLOSED, never back
// to ACTIVE.
type Status string

const (
	StatusActive        Status = "ACTIVE"
	StatusStopTriggered Status = "STOP_TRIGGERED"
	StatusTPTriggered   Status = "TP_TRIGGERED"
	StatusClosed        Status = "CLOSED"
)

var allowedTransitions = map[Status]map[Status]bool{
	StatusActive:        {StatusStopTriggered: true, StatusTPTriggered: true},
	StatusStopTriggered: {StatusClosed: true},
	StatusTPTriggered:   {StatusClosed: true},
	StatusClosed:        {},
}

// Position is held by the Sell Engine and the Monitor (spec.md §3).
// Grounded, in shape, on the teacher's CircuitBreaker: a mutex-guarded
// struct whose state only moves forward through an explicit transition
// method, never reset except by design (here: never reset at all).
type Position struct {
	mu sync.Mutex

	Code   string
	Name   string
	Sector string

	EntryPrice float64
	EntryTime  time.Time
	Quantity   int

	CurrentPrice  float64
	CurrentReturn float64

	StopLossPrice     float64
	TrailingStopPrice float64
	TakeProfitPrice   float64

	HighestPriceSinceEntry float64

	Status Status
}

// NewPosition constructs an ACTIVE position with its initial stops set
// from a sizing decision.
func NewPosition(code, name, sector string, entryPrice float64, entryTime time.Time, quantity int, stopLoss, takeProfit float64) *Position {
	return &Position{
		Code:                   code,
		Name:                   name,
		Sector:                 sector,
		EntryPrice:             entryPrice,
		EntryTime:              entryTime,
		Quantity:               quantity,
		CurrentPrice:           entryPrice,
		StopLossPrice:          stopLoss,
		TakeProfitPrice:        takeProfit,
		HighestPriceSinceEntry: entryPrice,
		Status:                 StatusActive,
	}
}

// Transition moves the position to a new status, rejecting any move not in
// allowedTransitions (spec.md §3 invariant: one-way state machine).
func (p *Position) Transition(to Status) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !allowedTransitions[p.Status][to] {
		return fmt.Errorf("sellengine: illegal transition %s -> %s", p.Status, to)
	}
	p.Status = to
	return nil
}

// PositionSnapshot is a lock-free copy of a Position's fields, for callers
// that read the position's state without holding its mutex (e.g. signal
// evaluation). Copying a Position by value would also copy its embedded
// sync.Mutex, which go vet's copylocks check rightly flags — this type
// carries none.
type PositionSnapshot struct {
	Code   string
	Name   string
	Sector string

	EntryPrice float64
	EntryTime  time.Time
	Quantity   int

	CurrentPrice  float64
	CurrentReturn float64

	StopLossPrice     float64
	TrailingStopPrice float64
	TakeProfitPrice   float64

	HighestPriceSinceEntry float64

	Status Status
}

// Snapshot returns a copy of the position's fields for read-only use by
// callers that shouldn't hold the lock (e.g. signal evaluation).
func (p *Position) Snapshot() PositionSnapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return PositionSnapshot{
		Code:                   p.Code,
		Name:                   p.Name,
		Sector:                 p.Sector,
		EntryPrice:             p.EntryPrice,
		EntryTime:              p.EntryTime,
		Quantity:               p.Quantity,
		CurrentPrice:           p.CurrentPrice,
		CurrentReturn:          p.CurrentReturn,
		StopLossPrice:          p.StopLossPrice,
		TrailingStopPrice:      p.TrailingStopPrice,
		TakeProfitPrice:        p.TakeProfitPrice,
		HighestPriceSinceEntry: p.HighestPriceSinceEntry,
		Status:                 p.Status,
	}
}

// UpdatePrice applies a new tick: recomputes current_return, bumps
// highest_price_since_entry if higher (spec.md §4.11 point 3). It is a
// no-op once the position has left ACTIVE, since a dropped position
// doesn't update (spec.md §4.11 point 2).
func (p *Position) UpdatePrice(price float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Status != StatusActive {
		return
	}
	p.CurrentPrice = price
	if p.EntryPrice != 0 {
		p.CurrentReturn = (price - p.EntryPrice) / p.EntryPrice
	}
	if price > p.HighestPriceSinceEntry {
		p.HighestPriceSinceEntry = price
	}
}

// SetTrailingStop raises the trailing stop to level if it is higher than
// the current value (monotonically non-decreasing, spec.md §3 invariant),
// and never below the hard stop-loss once active.
func (p *Position) SetTrailingStop(level float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if level < p.StopLossPrice {
		level = p.StopLossPrice
	}
	if level > p.TrailingStopPrice {
		p.TrailingStopPrice = level
	}
}

// HoldDays reports how many whole days the position has been open as of
// now.
func (p *Position) HoldDays(now time.Time) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.EntryTime.IsZero() {
		return 0
	}
	return int(now.Sub(p.EntryTime).Hours() / 24)
}
