package persistence

import (
	"LendLedger/internal/core"
	"LendLedger/internal/observability"
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// eventColumns is the column list of event_log.events in insert order.
const eventColumns = 8

// EventRow represents a row in event_log.events
type EventRow struct {
	Sequence       int64
	EventID        uuid.UUID
	EventType      string
	IdempotencyKey string // empty is stored as NULL
	Payload        []byte // JSON-encoded event
	StateHash      []byte
	PrevHash       []byte
	Timestamp      time.Time
}

// RowFromOutput flattens a committed core output into an event_log row.
func RowFromOutput(output core.CoreOutput) (EventRow, error) {
	env := output.Envelope
	if env == nil {
		return EventRow{}, fmt.Errorf("core output without envelope")
	}
	payload, err := env.Payload()
	if err != nil {
		return EventRow{}, fmt.Errorf("encode seq=%d: %w", env.Sequence, err)
	}
	return EventRow{
		Sequence:       env.Sequence,
		EventID:        env.EventID,
		EventType:      env.EventType.String(),
		IdempotencyKey: env.IdempotencyKey,
		Payload:        payload,
		StateHash:      append([]byte(nil), env.StateHash[:]...),
		PrevHash:       append([]byte(nil), env.PrevHash[:]...),
		Timestamp:      env.Timestamp,
	}, nil
}

// BatchWriter persists a batch atomically. Implemented by EventLogWriter;
// tests substitute in-memory writers.
type BatchWriter interface {
	WriteBatch(ctx context.Context, rows []EventRow) error
}

// EventLogWriter writes events to Postgres using multi-row INSERT.
type EventLogWriter struct {
	db      *sql.DB
	metrics *observability.Metrics
}

func NewEventLogWriter(db *sql.DB, metrics *observability.Metrics) *EventLogWriter {
	return &EventLogWriter{db: db, metrics: metrics}
}

// WriteBatch writes rows in a single transaction.
func (w *EventLogWriter) WriteBatch(ctx context.Context, rows []EventRow) error {
	if len(rows) == 0 {
		return nil
	}

	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		w.countError("tx_begin")
		return err
	}
	defer tx.Rollback()

	if err := WriteEventBatch(ctx, tx, rows); err != nil {
		w.countError("write_events")
		return err
	}

	if err := tx.Commit(); err != nil {
		w.countError("tx_commit")
		return err
	}
	return nil
}

func (w *EventLogWriter) countError(stage string) {
	if w.metrics != nil {
		w.metrics.PersistErrors.WithLabelValues(stage).Inc()
	}
}

// WriteEventBatch inserts rows through tx. Rows whose sequence is already
// stored are skipped, so replaying a batch is harmless.
func WriteEventBatch(ctx context.Context, tx *sql.Tx, rows []EventRow) error {
	if len(rows) == 0 {
		return nil
	}
	query, args := buildEventInsert(rows)
	_, err := tx.ExecContext(ctx, query, args...)
	return err
}

func buildEventInsert(rows []EventRow) (string, []any) {
	var b strings.Builder
	b.WriteString(`INSERT INTO event_log.events
		(sequence, event_id, event_type, idempotency_key, payload, state_hash, prev_hash, timestamp)
		VALUES `)

	args := make([]any, 0, len(rows)*eventColumns)
	for i, r := range rows {
		if i > 0 {
			b.WriteString(", ")
		}
		base := i * eventColumns
		fmt.Fprintf(&b, "($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8)

		args = append(args,
			r.Sequence, r.EventID, r.EventType, nullString(r.IdempotencyKey),
			string(r.Payload), r.StateHash, r.PrevHash, r.Timestamp,
		)
	}
	b.WriteString(" ON CONFLICT (sequence) DO NOTHING")
	return b.String(), args
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
