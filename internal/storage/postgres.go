// Package storage - postgres.go is the Postgres implementation of Store,
// built on jackc/pgx/v5's connection pool. cmd/engine depends only on the
// Store interface; nothing outside this file imports pgx directly.
package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/This-HW/hantu-quant-sub002/internal/cache"
)

// PostgresStore implements Store using a pgxpool.Pool.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore parses connStr and opens a pool against it. The pool is
// lazy (pgxpool.New doesn't dial eagerly), so construction only fails on a
// malformed DSN; callers should call Ping once at startup to confirm the
// database is actually reachable.
func NewPostgresStore(ctx context.Context, connStr string) (*PostgresStore, error) {
	if connStr == "" {
		return nil, fmt.Errorf("postgres store: connection string is required")
	}
	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, fmt.Errorf("postgres store: parse connection string: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

// Close releases the underlying connection pool.
func (ps *PostgresStore) Close() {
	ps.pool.Close()
}

func (ps *PostgresStore) Ping(ctx context.Context) error {
	return ps.pool.Ping(ctx)
}

func (ps *PostgresStore) SaveCandles(ctx context.Context, code string, bars []cache.OhlcvBar) error {
	batch := &pgx.Batch{}
	for _, b := range bars {
		batch.Queue(
			`INSERT INTO candles (code, date, open, high, low, close, volume)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)
			 ON CONFLICT (code, date) DO UPDATE SET
			   open = EXCLUDED.open, high = EXCLUDED.high, low = EXCLUDED.low,
			   close = EXCLUDED.close, volume = EXCLUDED.volume`,
			code, b.Date, b.Open, b.High, b.Low, b.Close, b.Volume,
		)
	}
	br := ps.pool.SendBatch(ctx, batch)
	defer br.Close()
	for range bars {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("postgres store: save candles: %w", err)
		}
	}
	return nil
}

func (ps *PostgresStore) GetCandles(ctx context.Context, code string, from, to time.Time) ([]cache.OhlcvBar, error) {
	rows, err := ps.pool.Query(ctx,
		`SELECT date, open, high, low, close, volume FROM candles
		 WHERE code = $1 AND date >= $2 AND date <= $3
		 ORDER BY date ASC`,
		code, from, to,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres store: get candles: %w", err)
	}
	defer rows.Close()

	var bars []cache.OhlcvBar
	for rows.Next() {
		var b cache.OhlcvBar
		if err := rows.Scan(&b.Date, &b.Open, &b.High, &b.Low, &b.Close, &b.Volume); err != nil {
			return nil, fmt.Errorf("postgres store: scan candle: %w", err)
		}
		bars = append(bars, b)
	}
	return bars, rows.Err()
}

func (ps *PostgresStore) GetLatestCandleDate(ctx context.Context, code string) (time.Time, error) {
	var date time.Time
	err := ps.pool.QueryRow(ctx,
		`SELECT date FROM candles WHERE code = $1 ORDER BY date DESC LIMIT 1`, code,
	).Scan(&date)
	if err == pgx.ErrNoRows {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("postgres store: get latest candle date: %w", err)
	}
	return date, nil
}

func (ps *PostgresStore) SaveTrade(ctx context.Context, t *TradeRecord) error {
	return ps.pool.QueryRow(ctx,
		`INSERT INTO trades
		   (code, side, quantity, entry_price, exit_price, stop_loss, target,
		    entry_time, exit_time, exit_reason, pnl, status, created_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,now())
		 RETURNING id, created_at`,
		t.Code, t.Side, t.Quantity, t.EntryPrice, t.ExitPrice, t.StopLoss, t.Target,
		t.EntryTime, t.ExitTime, t.ExitReason, t.PnL, t.Status,
	).Scan(&t.ID, &t.CreatedAt)
}

func (ps *PostgresStore) GetOpenTrades(ctx context.Context) ([]TradeRecord, error) {
	return ps.queryTrades(ctx, `SELECT id, code, side, quantity, entry_price, exit_price,
		stop_loss, target, entry_time, exit_time, exit_reason, pnl, status, created_at
		FROM trades WHERE status = 'open' ORDER BY entry_time ASC`)
}

func (ps *PostgresStore) GetTradesByCode(ctx context.Context, code string) ([]TradeRecord, error) {
	return ps.queryTrades(ctx, `SELECT id, code, side, quantity, entry_price, exit_price,
		stop_loss, target, entry_time, exit_time, exit_reason, pnl, status, created_at
		FROM trades WHERE code = $1 ORDER BY entry_time DESC`, code)
}

func (ps *PostgresStore) queryTrades(ctx context.Context, sql string, args ...any) ([]TradeRecord, error) {
	rows, err := ps.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres store: query trades: %w", err)
	}
	defer rows.Close()

	var out []TradeRecord
	for rows.Next() {
		var t TradeRecord
		if err := rows.Scan(&t.ID, &t.Code, &t.Side, &t.Quantity, &t.EntryPrice, &t.ExitPrice,
			&t.StopLoss, &t.Target, &t.EntryTime, &t.ExitTime, &t.ExitReason, &t.PnL, &t.Status, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres store: scan trade: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (ps *PostgresStore) CloseTrade(ctx context.Context, tradeID int64, exitPrice float64, exitReason string) error {
	tag, err := ps.pool.Exec(ctx,
		`UPDATE trades SET exit_price = $2, exit_reason = $3, exit_time = now(),
		   status = 'closed', pnl = ($2 - entry_price) * quantity
		 WHERE id = $1 AND status = 'open'`,
		tradeID, exitPrice, exitReason,
	)
	if err != nil {
		return fmt.Errorf("postgres store: close trade: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres store: close trade: no open trade with id %d", tradeID)
	}
	return nil
}

func (ps *PostgresStore) SaveSelection(ctx context.Context, s *SelectionRecord) error {
	return ps.pool.QueryRow(ctx,
		`INSERT INTO selections
		   (code, name, sector, selection_date, selection_reason, momentum_score,
		    percentile_rank, entry_price, target_price, stop_loss, position_weight,
		    position_amount, priority, approved, rejection_reason, created_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,now())
		 RETURNING id, created_at`,
		s.Code, s.Name, s.Sector, s.SelectionDate, s.SelectionReason, s.MomentumScore,
		s.PercentileRank, s.EntryPrice, s.TargetPrice, s.StopLoss, s.PositionWeight,
		s.PositionAmount, s.Priority, s.Approved, s.RejectionReason,
	).Scan(&s.ID, &s.CreatedAt)
}

func (ps *PostgresStore) GetSelectionsByDate(ctx context.Context, date time.Time) ([]SelectionRecord, error) {
	rows, err := ps.pool.Query(ctx,
		`SELECT id, code, name, sector, selection_date, selection_reason, momentum_score,
		   percentile_rank, entry_price, target_price, stop_loss, position_weight,
		   position_amount, priority, approved, rejection_reason, created_at
		 FROM selections WHERE selection_date::date = $1::date ORDER BY priority ASC`,
		date,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres store: get selections by date: %w", err)
	}
	defer rows.Close()

	var out []SelectionRecord
	for rows.Next() {
		var s SelectionRecord
		if err := rows.Scan(&s.ID, &s.Code, &s.Name, &s.Sector, &s.SelectionDate, &s.SelectionReason,
			&s.MomentumScore, &s.PercentileRank, &s.EntryPrice, &s.TargetPrice, &s.StopLoss,
			&s.PositionWeight, &s.PositionAmount, &s.Priority, &s.Approved, &s.RejectionReason, &s.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres store: scan selection: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (ps *PostgresStore) SaveTradeLog(ctx context.Context, l *TradeLog) error {
	return ps.pool.QueryRow(ctx,
		`INSERT INTO trade_logs (timestamp, code, action, reason_code, message, inputs_json)
		 VALUES ($1,$2,$3,$4,$5,$6) RETURNING id`,
		l.Timestamp, l.Code, l.Action, l.ReasonCode, l.Message, l.InputsJSON,
	).Scan(&l.ID)
}

func (ps *PostgresStore) GetTradeLogs(ctx context.Context, from, to time.Time) ([]TradeLog, error) {
	rows, err := ps.pool.Query(ctx,
		`SELECT id, timestamp, code, action, reason_code, message, inputs_json
		 FROM trade_logs WHERE timestamp >= $1 AND timestamp <= $2 ORDER BY timestamp ASC`,
		from, to,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres store: get trade logs: %w", err)
	}
	defer rows.Close()

	var out []TradeLog
	for rows.Next() {
		var l TradeLog
		if err := rows.Scan(&l.ID, &l.Timestamp, &l.Code, &l.Action, &l.ReasonCode, &l.Message, &l.InputsJSON); err != nil {
			return nil, fmt.Errorf("postgres store: scan trade log: %w", err)
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (ps *PostgresStore) SaveNotification(ctx context.Context, n *NotificationRecord) error {
	return ps.pool.QueryRow(ctx,
		`INSERT INTO notifications (severity, source, message, trace_id, created_at)
		 VALUES ($1,$2,$3,$4,now()) RETURNING id, created_at`,
		n.Severity, n.Source, n.Message, n.TraceID,
	).Scan(&n.ID, &n.CreatedAt)
}

func (ps *PostgresStore) GetNotifications(ctx context.Context, from, to time.Time) ([]NotificationRecord, error) {
	rows, err := ps.pool.Query(ctx,
		`SELECT id, severity, source, message, trace_id, created_at
		 FROM notifications WHERE created_at >= $1 AND created_at <= $2 ORDER BY created_at ASC`,
		from, to,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres store: get notifications: %w", err)
	}
	defer rows.Close()

	var out []NotificationRecord
	for rows.Next() {
		var n NotificationRecord
		if err := rows.Scan(&n.ID, &n.Severity, &n.Source, &n.Message, &n.TraceID, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres store: scan notification: %w", err)
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func (ps *PostgresStore) GetDailyPnL(ctx context.Context, date time.Time) (float64, error) {
	var pnl float64
	err := ps.pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(pnl), 0) FROM trades WHERE status = 'closed' AND exit_time::date = $1::date`,
		date,
	).Scan(&pnl)
	if err != nil {
		return 0, fmt.Errorf("postgres store: get daily pnl: %w", err)
	}
	return pnl, nil
}
