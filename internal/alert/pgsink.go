package alert

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/lib/pq"
)

// pgNotifyChannel is the single Postgres NOTIFY channel every severity
// publishes to; subscribers (an ops dashboard, a paging bridge) filter by
// the Severity field in the JSON payload rather than by channel name.
const pgNotifyChannel = "hantu_alerts"

// PostgresSink delivers Events as Postgres NOTIFY payloads via
// pg_notify(), so any external listener (outside this engine's scope) can
// react without polling a table. Grounded on the teacher's
// dashboard.EventListener, which drives the corresponding LISTEN side of
// the same channel convention with lib/pq's pq.Listener.
type PostgresSink struct {
	db *sql.DB
}

// NewPostgresSink opens a lib/pq-backed *sql.DB against connStr. The
// driver is registered via its side-effecting import; connections are
// opened lazily by database/sql, matching the "fail at first use, not at
// construction" rule Sink implementations follow elsewhere in this
// package.
func NewPostgresSink(connStr string) (*PostgresSink, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("alert: open postgres sink: %w", err)
	}
	return &PostgresSink{db: db}, nil
}

// Close releases the underlying connection pool.
func (s *PostgresSink) Close() error {
	return s.db.Close()
}

// Send publishes e as a NOTIFY payload. pg_notify's payload limit is 8000
// bytes; Event bodies are small structured fields, well under that.
func (s *PostgresSink) Send(ctx context.Context, e Event) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("alert: marshal event: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `SELECT pg_notify($1, $2)`, pgNotifyChannel, string(payload))
	if err != nil {
		return fmt.Errorf("alert: pg_notify: %w", err)
	}
	return nil
}
