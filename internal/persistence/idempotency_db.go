package persistence

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

const commandLookupTimeout = 500 * time.Millisecond

// PostgresCommandChecker is the durable dedup tier. A command is a
// duplicate once an event carrying its id reached the event log.
type PostgresCommandChecker struct {
	db *sql.DB
}

func NewPostgresCommandChecker(db *sql.DB) *PostgresCommandChecker {
	return &PostgresCommandChecker{db: db}
}

// IsDuplicate checks if commandID is already recorded in the event log.
func (c *PostgresCommandChecker) IsDuplicate(commandID string) (bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), commandLookupTimeout)
	defer cancel()

	var exists int
	err := c.db.QueryRowContext(ctx, `
		SELECT 1
		FROM event_log.events
		WHERE idempotency_key = $1
		LIMIT 1
	`, commandID).Scan(&exists)

	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// RecentCommandIDs returns up to limit command ids, newest first, for
// warming the in-memory dedup tier at boot.
func (c *PostgresCommandChecker) RecentCommandIDs(ctx context.Context, limit int) ([]string, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT idempotency_key
		FROM event_log.events
		WHERE idempotency_key IS NOT NULL
		ORDER BY sequence DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
