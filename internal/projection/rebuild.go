package projection

import (
	"LendLedger/internal/persistence"
	"context"
	"fmt"
)

const rebuildPageSize = 500

// Rebuild truncates the projection tables and replays the whole event log.
func (pw *ProjectionWorker) Rebuild(ctx context.Context, source persistence.EventSource) (int64, error) {
	for _, stmt := range []string{
		`TRUNCATE projections.positions`,
		`TRUNCATE projections.liquidations`,
		`DELETE FROM projections.watermark WHERE worker_id = '` + watermarkWorkerID + `'`,
	} {
		if _, err := pw.db.ExecContext(ctx, stmt); err != nil {
			return 0, fmt.Errorf("truncate failed: %w", err)
		}
	}
	pw.price = pw.initial.Clone()

	var applied int64
	next := int64(1)
	for {
		rows, err := source.LoadEventsFrom(ctx, next, rebuildPageSize)
		if err != nil {
			return applied, fmt.Errorf("load from %d: %w", next, err)
		}
		for _, row := range rows {
			env, err := row.Envelope()
			if err != nil {
				return applied, err
			}
			if err := pw.Apply(ctx, env); err != nil {
				return applied, fmt.Errorf("apply seq=%d: %w", row.Sequence, err)
			}
			applied++
			next = row.Sequence + 1
		}
		if len(rows) < rebuildPageSize {
			break
		}
	}

	pw.log.Info().Int64("events", applied).Int64("last_sequence", pw.LastSequence()).Msg("projection rebuild complete")
	return applied, nil
}
