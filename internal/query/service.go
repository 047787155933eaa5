package query

import (
	"LendLedger/internal/core"
	"LendLedger/internal/ledger"
	fpmath "LendLedger/internal/math"
	"LendLedger/internal/projection"
	"LendLedger/internal/state"
	"context"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// ErrNoDatabase is returned by history queries when persistence is disabled.
var ErrNoDatabase = errors.New("projection database not configured")

// ErrUnknownAsset is returned for an asset that is neither base nor quote.
var ErrUnknownAsset = errors.New("unknown asset")

const maxHistoryLimit = 500

// QueryService serves reads. Position, price and stats reads come from the
// engine and are always current; liquidation history comes from the
// projection tables and is as fresh as the projection watermark.
type QueryService struct {
	engine *core.Engine
	base   *ledger.Token
	quote  *ledger.Token
	db     *sql.DB // nil when persistence is disabled
}

func NewQueryService(engine *core.Engine, base, quote *ledger.Token, db *sql.DB) *QueryService {
	return &QueryService{engine: engine, base: base, quote: quote, db: db}
}

// GetPosition returns the position view of account.
func (qs *QueryService) GetPosition(account common.Address) (*PositionView, error) {
	snap, err := qs.engine.GetPosition(account)
	if err != nil {
		return nil, err
	}
	price := qs.engine.Price()
	value, err := fpmath.MulDivDown(snap.Collateral, price, fpmath.Wad)
	if err != nil {
		value = fpmath.MaxUint256()
	}

	return &PositionView{
		Account:           projection.AccountKey(account),
		Collateral:        snap.Collateral,
		Debt:              snap.Debt,
		CollateralDecimal: fpmath.ToDecimal(snap.Collateral, fpmath.WadConfig),
		DebtDecimal:       fpmath.ToDecimal(snap.Debt, fpmath.WadConfig),
		CollateralValue:   fpmath.ToDecimal(value, fpmath.WadConfig),
		HealthFactor:      snap.HealthFactor,
		HealthUnbounded:   snap.Debt.IsZero(),
		Liquidatable:      snap.State == state.LiquidationStateLiquidatable,
		State:             snap.State.String(),
		Version:           snap.Version,
		AsOfSequence:      qs.engine.Sequence(),
	}, nil
}

// GetHealth returns the health factor of account.
func (qs *QueryService) GetHealth(account common.Address) (*HealthView, error) {
	snap, err := qs.engine.GetPosition(account)
	if err != nil {
		return nil, err
	}
	return &HealthView{
		Account:         projection.AccountKey(account),
		HealthFactor:    snap.HealthFactor,
		HealthUnbounded: snap.Debt.IsZero(),
		Liquidatable:    snap.State == state.LiquidationStateLiquidatable,
		AsOfSequence:    qs.engine.Sequence(),
	}, nil
}

// GetBalances returns token holdings of account and its allowances to the
// ledger.
func (qs *QueryService) GetBalances(account common.Address) *BalancesView {
	return &BalancesView{
		Account: projection.AccountKey(account),
		Base:    qs.tokenBalance(qs.base, account),
		Quote:   qs.tokenBalance(qs.quote, account),
	}
}

func (qs *QueryService) tokenBalance(t *ledger.Token, account common.Address) TokenBalance {
	name, _ := ledger.GetAssetName(t.AssetID())
	balance := t.BalanceOf(account)
	return TokenBalance{
		Asset:           name,
		Symbol:          t.Symbol(),
		Balance:         balance,
		BalanceDecimal:  fpmath.ToDecimal(balance, fpmath.WadConfig),
		LedgerAllowance: t.Allowance(account, qs.engine.LedgerAddress()),
	}
}

// ScanLiquidatable returns every position currently below the floor.
func (qs *QueryService) ScanLiquidatable() []PositionView {
	snaps := qs.engine.ScanLiquidatable()
	seq := qs.engine.Sequence()
	views := make([]PositionView, 0, len(snaps))
	for _, s := range snaps {
		views = append(views, PositionView{
			Account:           projection.AccountKey(s.Account),
			Collateral:        s.Collateral,
			Debt:              s.Debt,
			CollateralDecimal: fpmath.ToDecimal(s.Collateral, fpmath.WadConfig),
			DebtDecimal:       fpmath.ToDecimal(s.Debt, fpmath.WadConfig),
			HealthFactor:      s.HealthFactor,
			Liquidatable:      true,
			State:             s.State.String(),
			Version:           s.Version,
			AsOfSequence:      seq,
		})
	}
	return views
}

// QuoteLiquidation is a read-only dry run of a liquidation.
func (qs *QueryService) QuoteLiquidation(target common.Address, debtToCover *uint256.Int) *QuoteView {
	q := qs.engine.QuoteLiquidation(target, debtToCover)
	view := &QuoteView{
		Target:       projection.AccountKey(q.Target),
		DebtToCover:  q.DebtToCover,
		Price:        q.Price,
		HealthFactor: q.HealthFactor,
		Executable:   q.Err == nil,
	}
	if q.Err != nil {
		view.Reason = q.Err.Error()
		view.ErrorKind = core.Kind(q.Err)
		return view
	}
	view.CollateralValueOfDebt = q.CollateralValueOfDebt
	view.Seize = q.Seize
	view.SeizeDecimal = fpmath.ToDecimal(q.Seize, fpmath.WadConfig)
	view.Bonus = q.Bonus
	view.CollateralAfter = q.CollateralAfter
	view.DebtAfter = q.DebtAfter
	return view
}

func (qs *QueryService) GetPrice() *PriceView {
	ps := qs.engine.PriceState()
	view := &PriceView{
		Price:        ps.Price,
		PriceDecimal: fpmath.ToDecimal(ps.Price, fpmath.WadConfig),
		Sequence:     ps.Sequence,
	}
	if ps.UpdatedBy != (common.Address{}) {
		view.UpdatedBy = projection.AccountKey(ps.UpdatedBy)
	}
	return view
}

func (qs *QueryService) GetStats() *StatsView {
	st := qs.engine.Stats()
	ledgerAddr := qs.engine.LedgerAddress()
	return &StatsView{
		Positions:        st.Positions,
		Liquidatable:     len(qs.engine.ScanLiquidatable()),
		TotalCollateral:  st.TotalCollateral,
		TotalDebt:        st.TotalDebt,
		TotalDebtDecimal: fpmath.ToDecimal(st.TotalDebt, fpmath.WadConfig),
		Price:            st.Price,
		LedgerBase:       qs.base.BalanceOf(ledgerAddr),
		LedgerQuote:      qs.quote.BalanceOf(ledgerAddr),
		Sequence:         st.Sequence,
		StateHash:        hex.EncodeToString(st.StateHash[:]),
	}
}

// LiquidationHistory returns recent liquidations, newest first, optionally
// filtered by target.
func (qs *QueryService) LiquidationHistory(ctx context.Context, target *common.Address, limit int) (*LiquidationHistory, error) {
	if qs.db == nil {
		return nil, ErrNoDatabase
	}
	if limit <= 0 || limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}

	asOf, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}

	query := `
		SELECT event_id, sequence, liquidator, target, debt_covered::text,
		       collateral_seized::text, price::text, health_factor::text, timestamp
		FROM projections.liquidations`
	args := []any{limit}
	if target != nil {
		query += ` WHERE target = $2`
		args = append(args, projection.AccountKey(*target))
	}
	query += ` ORDER BY sequence DESC LIMIT $1`

	rows, err := qs.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	history := &LiquidationHistory{Liquidations: []LiquidationRecord{}, AsOfSequence: asOf}
	for rows.Next() {
		var r LiquidationRecord
		var debt, seized, price, hf string
		if err := rows.Scan(&r.EventID, &r.Sequence, &r.Liquidator, &r.Target,
			&debt, &seized, &price, &hf, &r.Timestamp); err != nil {
			return nil, err
		}
		if r.DebtCovered, err = uint256.FromDecimal(debt); err != nil {
			return nil, err
		}
		if r.CollateralSeized, err = uint256.FromDecimal(seized); err != nil {
			return nil, err
		}
		if r.Price, err = uint256.FromDecimal(price); err != nil {
			return nil, err
		}
		if r.HealthFactor, err = uint256.FromDecimal(hf); err != nil {
			return nil, err
		}
		history.Liquidations = append(history.Liquidations, r)
	}
	return history, rows.Err()
}

func (qs *QueryService) getWatermark(ctx context.Context) (int64, error) {
	var seq int64
	err := qs.db.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(last_sequence), 0) FROM projections.watermark
	`).Scan(&seq)
	return seq, err
}

// Token resolves an asset name ("base", "quote") or symbol.
func (qs *QueryService) Token(asset string) (*ledger.Token, error) {
	if id, ok := ledger.GetAssetID(asset); ok {
		switch id {
		case ledger.AssetBase:
			return qs.base, nil
		case ledger.AssetQuote:
			return qs.quote, nil
		}
	}
	for _, t := range []*ledger.Token{qs.base, qs.quote} {
		if strings.EqualFold(t.Symbol(), asset) {
			return t, nil
		}
	}
	return nil, fmt.Errorf("%w %q", ErrUnknownAsset, asset)
}
