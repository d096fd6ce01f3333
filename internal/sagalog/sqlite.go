package sagalog

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	// Pure-Go SQLite driver; no CGO, so the services build on Alpine images.
	_ "modernc.org/sqlite"

	"github.com/jcmexdev/ecommerce-choreography/internal/saga"
)

// schema is applied once on Open. The table is append-only: each row is an
// immutable transition, never updated.
const schema = `
CREATE TABLE IF NOT EXISTS saga_transitions (
    id           INTEGER PRIMARY KEY AUTOINCREMENT,

    -- Business identifier: the order id, joinable with the shared saga record.
    order_id     TEXT NOT NULL,

    -- Event whose handling caused the transition.
    event_id     TEXT NOT NULL,
    event_type   TEXT NOT NULL,

    from_status  TEXT NOT NULL,
    to_status    TEXT NOT NULL,

    -- Saga record version after the transition.
    version      INTEGER NOT NULL,

    -- W3C trace/span ids from the active OTel span, for jumping from a row
    -- to the distributed trace.
    trace_id     TEXT NOT NULL DEFAULT '',
    span_id      TEXT NOT NULL DEFAULT '',

    -- RFC3339 stored as TEXT, SQLite idiom.
    recorded_at  TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_saga_transitions_order ON saga_transitions(order_id, id);
CREATE INDEX IF NOT EXISTS idx_saga_transitions_trace ON saga_transitions(trace_id);
`

// SQLiteRecorder is the sqlite implementation of Recorder.
type SQLiteRecorder struct {
	db *sql.DB
}

// Open opens (or creates) the audit database at path and applies the schema.
// WAL mode keeps the consumer's writes from blocking ad-hoc reads.
func Open(path string) (*SQLiteRecorder, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sagalog: open %q: %w", path, err)
	}

	// SQLite performs best with a single writer connection.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sagalog: apply schema: %w", err)
	}
	return &SQLiteRecorder{db: db}, nil
}

// Close releases the database connection. Call it with defer in main().
func (r *SQLiteRecorder) Close() error {
	return r.db.Close()
}

// Record appends one transition row. Safe to call concurrently.
func (r *SQLiteRecorder) Record(ctx context.Context, tr *Transition) error {
	const q = `
		INSERT INTO saga_transitions
			(order_id, event_id, event_type, from_status, to_status, version, trace_id, span_id, recorded_at)
		VALUES
			(?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := r.db.ExecContext(ctx, q,
		tr.OrderID,
		tr.EventID,
		tr.EventType,
		string(tr.FromStatus),
		string(tr.ToStatus),
		tr.Version,
		tr.TraceID,
		tr.SpanID,
		tr.RecordedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("sagalog: record transition for %q: %w", tr.OrderID, err)
	}
	return nil
}

// History returns every transition recorded for an order, oldest first.
func (r *SQLiteRecorder) History(ctx context.Context, orderID string) ([]*Transition, error) {
	const q = `
		SELECT order_id, event_id, event_type, from_status, to_status, version, trace_id, span_id, recorded_at
		FROM   saga_transitions
		WHERE  order_id = ?
		ORDER  BY id`

	rows, err := r.db.QueryContext(ctx, q, orderID)
	if err != nil {
		return nil, fmt.Errorf("sagalog: history for %q: %w", orderID, err)
	}
	defer rows.Close()

	var out []*Transition
	for rows.Next() {
		var tr Transition
		var from, to, recordedAt string
		if err := rows.Scan(
			&tr.OrderID, &tr.EventID, &tr.EventType,
			&from, &to, &tr.Version,
			&tr.TraceID, &tr.SpanID, &recordedAt,
		); err != nil {
			return nil, fmt.Errorf("sagalog: scan transition: %w", err)
		}
		tr.FromStatus = saga.Status(from)
		tr.ToStatus = saga.Status(to)
		if tr.RecordedAt, err = time.Parse(time.RFC3339Nano, recordedAt); err != nil {
			return nil, fmt.Errorf("sagalog: parse recorded_at %q: %w", recordedAt, err)
		}
		out = append(out, &tr)
	}
	return out, rows.Err()
}
