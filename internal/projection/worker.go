package projection

import (
	"LendLedger/internal/core"
	"LendLedger/internal/event"
	"LendLedger/internal/observability"
	"LendLedger/internal/state"
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/rs/zerolog"
)

const watermarkWorkerID = "positions"

// positionUpdate is the post-event state of one account.
type positionUpdate struct {
	Account      common.Address
	Collateral   *uint256.Int
	Debt         *uint256.Int
	HealthFactor *uint256.Int // nil when the ratio is unbounded
	Liquidatable bool
}

// ProjectionWorker maintains the projections schema from committed events.
// Its input is fed with non-blocking sends, so it may miss events under
// load; Rebuild restores it from the event log.
type ProjectionWorker struct {
	db        *sql.DB
	inputChan <-chan core.CoreOutput
	risk      state.RiskParams
	initial   *uint256.Int
	price     *uint256.Int
	lastSeq   atomic.Int64
	metrics   *observability.Metrics
	log       zerolog.Logger
}

func NewProjectionWorker(
	db *sql.DB,
	inputChan <-chan core.CoreOutput,
	risk state.RiskParams,
	initialPrice *uint256.Int,
	metrics *observability.Metrics,
) *ProjectionWorker {
	return &ProjectionWorker{
		db:        db,
		inputChan: inputChan,
		risk:      risk,
		initial:   initialPrice.Clone(),
		price:     initialPrice.Clone(),
		metrics:   metrics,
		log:       observability.NewLogger("projection"),
	}
}

// Run applies outputs until ctx is cancelled or the input closes.
func (pw *ProjectionWorker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case output, ok := <-pw.inputChan:
			if !ok {
				return nil
			}
			if output.Envelope == nil {
				continue
			}
			if err := pw.Apply(ctx, output.Envelope); err != nil {
				// Projections are eventually consistent and rebuildable.
				pw.log.Warn().Err(err).Int64("sequence", output.Envelope.Sequence).Msg("projection update failed")
				if pw.metrics != nil {
					pw.metrics.ProjectionErrors.WithLabelValues(watermarkWorkerID).Inc()
				}
			}
		}
	}
}

// LastSequence returns the sequence of the last event applied.
func (pw *ProjectionWorker) LastSequence() int64 {
	return pw.lastSeq.Load()
}

// Apply writes the effect of one event in a single transaction.
func (pw *ProjectionWorker) Apply(ctx context.Context, env *event.EventEnvelope) error {
	start := time.Now()

	updates, price, err := pw.updatesFor(env)
	if err != nil {
		return err
	}

	tx, err := pw.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, ok := env.Event.(*event.PriceUpdated); ok {
		repriced, err := pw.repriceDebtors(ctx, tx, price)
		if err != nil {
			return fmt.Errorf("reprice: %w", err)
		}
		updates = append(updates, repriced...)
	}

	for _, u := range updates {
		if err := upsertPosition(ctx, tx, u, env.Sequence); err != nil {
			return fmt.Errorf("position %s: %w", u.Account.Hex(), err)
		}
	}

	if liq, ok := env.Event.(*event.Liquidate); ok {
		if err := insertLiquidation(ctx, tx, env, liq); err != nil {
			return fmt.Errorf("liquidation history: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.watermark (worker_id, last_sequence, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (worker_id) DO UPDATE SET last_sequence = $2, updated_at = NOW()
	`, watermarkWorkerID, env.Sequence); err != nil {
		return fmt.Errorf("watermark update: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	pw.price = price
	pw.lastSeq.Store(env.Sequence)
	if pw.metrics != nil {
		pw.metrics.ProjectionUpdateDur.WithLabelValues(watermarkWorkerID).Observe(time.Since(start).Seconds())
	}
	return nil
}

// updatesFor derives the position rows touched directly by env and the
// price in effect after it. A price update touches no row directly. The
// tracked price only moves once the event is committed.
func (pw *ProjectionWorker) updatesFor(env *event.EventEnvelope) ([]positionUpdate, *uint256.Int, error) {
	var change *event.PositionChange
	switch evt := env.Event.(type) {
	case *event.Deposit:
		change = &evt.PositionChange
	case *event.Withdraw:
		change = &evt.PositionChange
	case *event.Borrow:
		change = &evt.PositionChange
	case *event.Repay:
		change = &evt.PositionChange
	case *event.Liquidate:
		price := pw.priceOr(evt.Price)
		return []positionUpdate{pw.evaluate(evt.Target, evt.RemainingCollateral, evt.RemainingDebt, price)}, price, nil
	case *event.PriceUpdated:
		return nil, evt.NewPrice.Clone(), nil
	default:
		return nil, nil, fmt.Errorf("seq=%d: unsupported event %T", env.Sequence, env.Event)
	}
	price := pw.priceOr(change.Price)
	return []positionUpdate{pw.evaluate(change.Account, change.Collateral, change.Debt, price)}, price, nil
}

// priceOr prefers the price recorded on the event over the tracked one.
func (pw *ProjectionWorker) priceOr(recorded *uint256.Int) *uint256.Int {
	if recorded != nil && !recorded.IsZero() {
		return recorded.Clone()
	}
	return pw.price.Clone()
}

func (pw *ProjectionWorker) evaluate(account common.Address, collateral, debt, price *uint256.Int) positionUpdate {
	u := positionUpdate{Account: account, Collateral: collateral, Debt: debt}
	pos := &state.Position{Account: account, Collateral: collateral, Debt: debt}
	if !pos.HasDebt() {
		return u
	}
	hf, err := pw.risk.HealthFactor(pos, price)
	if err != nil {
		// Only an overflowing collateral value fails here, which is healthy.
		return u
	}
	u.HealthFactor = hf
	u.Liquidatable = pw.risk.StateOf(pos, hf) == state.LiquidationStateLiquidatable
	return u
}

// repriceDebtors recomputes every indebted row at price.
func (pw *ProjectionWorker) repriceDebtors(ctx context.Context, tx *sql.Tx, price *uint256.Int) ([]positionUpdate, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT account, collateral::text, debt::text
		FROM projections.positions
		WHERE debt > 0
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var updates []positionUpdate
	for rows.Next() {
		var account, collateral, debt string
		if err := rows.Scan(&account, &collateral, &debt); err != nil {
			return nil, err
		}
		c, err := uint256.FromDecimal(collateral)
		if err != nil {
			return nil, fmt.Errorf("collateral of %s: %w", account, err)
		}
		d, err := uint256.FromDecimal(debt)
		if err != nil {
			return nil, fmt.Errorf("debt of %s: %w", account, err)
		}
		updates = append(updates, pw.evaluate(common.HexToAddress(account), c, d, price))
	}
	return updates, rows.Err()
}

func upsertPosition(ctx context.Context, tx *sql.Tx, u positionUpdate, sequence int64) error {
	var hf sql.NullString
	if u.HealthFactor != nil {
		hf = sql.NullString{String: u.HealthFactor.Dec(), Valid: true}
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO projections.positions
			(account, collateral, debt, health_factor, liquidatable, last_sequence, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
		ON CONFLICT (account) DO UPDATE SET
			collateral = EXCLUDED.collateral,
			debt = EXCLUDED.debt,
			health_factor = EXCLUDED.health_factor,
			liquidatable = EXCLUDED.liquidatable,
			last_sequence = EXCLUDED.last_sequence,
			updated_at = NOW()
	`, AccountKey(u.Account), u.Collateral.Dec(), u.Debt.Dec(), hf, u.Liquidatable, sequence)
	return err
}

func insertLiquidation(ctx context.Context, tx *sql.Tx, env *event.EventEnvelope, liq *event.Liquidate) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO projections.liquidations
			(event_id, sequence, liquidator, target, debt_covered, collateral_seized, price, health_factor, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (event_id) DO NOTHING
	`, env.EventID, env.Sequence, AccountKey(liq.Liquidator), AccountKey(liq.Target),
		liq.DebtCovered.Dec(), liq.CollateralSeized.Dec(), liq.Price.Dec(), liq.HealthFactor.Dec(),
		env.Timestamp)
	return err
}

// AccountKey is the stored form of an address: 0x-prefixed lower-case hex.
func AccountKey(a common.Address) string {
	return strings.ToLower(a.Hex())
}
