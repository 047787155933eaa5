package persistence

import (
	"LendLedger/internal/event"
	"context"
	"database/sql"
	"fmt"
)

// EventLogReader reads the event log back for projection rebuilds and
// audits.
type EventLogReader struct {
	db *sql.DB
}

func NewEventLogReader(db *sql.DB) *EventLogReader {
	return &EventLogReader{db: db}
}

// LoadEventsFrom loads up to limit events with sequence >= fromSequence in
// sequence order.
func (r *EventLogReader) LoadEventsFrom(ctx context.Context, fromSequence int64, limit int) ([]EventRow, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT sequence, event_id, event_type, COALESCE(idempotency_key, ''),
		       payload, state_hash, prev_hash, timestamp
		FROM event_log.events
		WHERE sequence >= $1
		ORDER BY sequence ASC
		LIMIT $2
	`, fromSequence, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []EventRow
	for rows.Next() {
		var e EventRow
		if err := rows.Scan(
			&e.Sequence, &e.EventID, &e.EventType, &e.IdempotencyKey,
			&e.Payload, &e.StateHash, &e.PrevHash, &e.Timestamp,
		); err != nil {
			return nil, err
		}
		events = append(events, e)
	}

	return events, rows.Err()
}

// GetLatestSequence returns the highest sequence in the event log, 0 when empty.
func (r *EventLogReader) GetLatestSequence(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	err := r.db.QueryRowContext(ctx, `
		SELECT MAX(sequence) FROM event_log.events
	`).Scan(&seq)
	if err != nil {
		return 0, err
	}
	if !seq.Valid {
		return 0, nil
	}
	return seq.Int64, nil
}

// Envelope rebuilds the typed envelope stored in row.
func (row EventRow) Envelope() (*event.EventEnvelope, error) {
	et, ok := event.ParseEventType(row.EventType)
	if !ok {
		return nil, fmt.Errorf("seq=%d: unknown event type %q", row.Sequence, row.EventType)
	}
	evt, err := event.DecodePayload(et, row.Payload)
	if err != nil {
		return nil, fmt.Errorf("seq=%d: %w", row.Sequence, err)
	}

	env := &event.EventEnvelope{
		Sequence:       row.Sequence,
		EventID:        row.EventID,
		IdempotencyKey: row.IdempotencyKey,
		EventType:      et,
		Timestamp:      row.Timestamp,
		Event:          evt,
	}
	copy(env.StateHash[:], row.StateHash)
	copy(env.PrevHash[:], row.PrevHash)
	return env, nil
}

// EventSource pages through the stored event log.
type EventSource interface {
	LoadEventsFrom(ctx context.Context, fromSequence int64, limit int) ([]EventRow, error)
}

// Replayer re-applies stored events to in-memory state.
type Replayer interface {
	Replay(env *event.EventEnvelope) error
}

const replayPageSize = 1000

// ReplayEventLog feeds every stored event to r in sequence order and
// returns how many were applied. It stops at the first event r rejects.
func ReplayEventLog(ctx context.Context, source EventSource, r Replayer) (int64, error) {
	var replayed int64
	from := int64(1)

	for {
		rows, err := source.LoadEventsFrom(ctx, from, replayPageSize)
		if err != nil {
			return replayed, fmt.Errorf("load events from seq %d: %w", from, err)
		}
		if len(rows) == 0 {
			return replayed, nil
		}

		for _, row := range rows {
			env, err := row.Envelope()
			if err != nil {
				return replayed, err
			}
			if err := r.Replay(env); err != nil {
				return replayed, err
			}
			replayed++
		}
		from = rows[len(rows)-1].Sequence + 1
	}
}
