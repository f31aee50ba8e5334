// Package storage defines the persisted-state interface the engine reads
// and writes across restarts: synced OHLCV bars, trade and selection
// history, and the notification audit trail (spec.md §4.12). Nothing in
// this package decides trades — it only remembers what already happened.
package storage

import (
	"context"
	"encoding/json"
	"time"

	"github.com/This-HW/hantu-quant-sub002/internal/alert"
	"github.com/This-HW/hantu-quant-sub002/internal/cache"
)

// TradeRecord represents a completed or active trade in the database.
// ExitReason records what closed it; the record holds no reference to the
// selection that produced it.
type TradeRecord struct {
	ID         int64
	Code       string
	Side       string // "BUY" or "SELL"
	Quantity   int
	EntryPrice float64
	ExitPrice  float64
	StopLoss   float64
	Target     float64
	EntryTime  time.Time
	ExitTime   *time.Time // nil if still open
	ExitReason string     // "stop_loss" or "take_profit", as cmd/engine's exit callbacks write it
	PnL        float64
	Status     string // "open", "closed"
	CreatedAt  time.Time
}

// SelectionRecord persists one accepted candidate from a selector run,
// mirroring selection.SelectionResult plus the guardrail's pass/reject
// verdict for that day.
type SelectionRecord struct {
	ID              int64
	Code            string
	Name            string
	Sector          string
	SelectionDate   time.Time
	SelectionReason string
	MomentumScore   float64
	PercentileRank  float64
	EntryPrice      float64
	TargetPrice     float64
	StopLoss        float64
	PositionWeight  float64
	PositionAmount  float64
	Priority        int
	Approved        bool
	RejectionReason string
	CreatedAt       time.Time
}

// TradeLog is a structured audit entry: one row per decision the engine
// made, with a JSON snapshot of the inputs that drove it so a later
// review can reconstruct why.
type TradeLog struct {
	ID         int64
	Timestamp  time.Time
	Code       string
	Action     string
	ReasonCode string
	Message    string
	InputsJSON string
}

// NotificationRecord is the stored form of an alert.Event (see
// NotificationFromEvent and Store.SaveNotification). alert.Notifier does
// not write these records; a record exists only where a caller saves one.
type NotificationRecord struct {
	ID        int64
	Severity  string
	Source    string
	Message   string
	TraceID   string
	CreatedAt time.Time
}

// Store defines the complete persistence interface for the trading system.
type Store interface {
	// Candle operations keep a durable copy of OHLCV bars; internal/cache
	// does not read from or write to them.
	SaveCandles(ctx context.Context, code string, bars []cache.OhlcvBar) error
	GetCandles(ctx context.Context, code string, from, to time.Time) ([]cache.OhlcvBar, error)
	GetLatestCandleDate(ctx context.Context, code string) (time.Time, error)

	// Trade operations.
	SaveTrade(ctx context.Context, trade *TradeRecord) error
	GetOpenTrades(ctx context.Context) ([]TradeRecord, error)
	GetTradesByCode(ctx context.Context, code string) ([]TradeRecord, error)
	CloseTrade(ctx context.Context, tradeID int64, exitPrice float64, exitReason string) error

	// Selection operations.
	SaveSelection(ctx context.Context, sel *SelectionRecord) error
	GetSelectionsByDate(ctx context.Context, date time.Time) ([]SelectionRecord, error)

	// Trade log operations.
	SaveTradeLog(ctx context.Context, log *TradeLog) error
	GetTradeLogs(ctx context.Context, from, to time.Time) ([]TradeLog, error)

	// Notification operations.
	SaveNotification(ctx context.Context, n *NotificationRecord) error
	GetNotifications(ctx context.Context, from, to time.Time) ([]NotificationRecord, error)

	// Daily P&L.
	GetDailyPnL(ctx context.Context, date time.Time) (float64, error)

	// Health check.
	Ping(ctx context.Context) error
}

// tradeLogInputs is the shape serialized into TradeLog.InputsJSON — a
// snapshot of whatever decision state produced the log entry.
type tradeLogInputs struct {
	Code    string    `json:"code"`
	Regime  string    `json:"regime"`
	AsOf    time.Time `json:"as_of"`
	Details any       `json:"details,omitempty"`
}

// EncodeTradeLogInputs serializes the decision context for a TradeLog
// entry. Returns "{}" rather than an error on marshal failure, since a log
// entry with an empty snapshot is still worth writing — callers shouldn't
// lose the Message/ReasonCode half of the record over a serialization bug.
func EncodeTradeLogInputs(code, regime string, asOf time.Time, details any) string {
	data, err := json.Marshal(tradeLogInputs{Code: code, Regime: regime, AsOf: asOf, Details: details})
	if err != nil {
		return "{}"
	}
	return string(data)
}

// NotificationFromEvent converts an alert.Event into the record shape
// SaveNotification persists.
func NotificationFromEvent(e alert.Event, now time.Time) *NotificationRecord {
	return &NotificationRecord{
		Severity:  string(e.Severity),
		Source:    e.Source,
		Message:   e.Message,
		TraceID:   e.TraceID,
		CreatedAt: now,
	}
}
