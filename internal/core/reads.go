package core

import (
	"LendLedger/internal/state"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// PositionSnapshot is a consistent read of one account.
type PositionSnapshot struct {
	Account      common.Address
	Collateral   *uint256.Int
	Debt         *uint256.Int
	HealthFactor *uint256.Int // 2^256-1 when debt is zero
	State        state.LiquidationState
	Version      int64
}

// Stats summarises the whole ledger.
type Stats struct {
	Positions       int
	TotalCollateral *uint256.Int
	TotalDebt       *uint256.Int
	Price           *uint256.Int
	Sequence        int64
	StateHash       [32]byte
}

// GetPosition returns collateral, debt and health factor of account.
// Accounts never seen read as zero/zero.
func (e *Engine) GetPosition(account common.Address) (PositionSnapshot, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.snapshotLocked(e.positions.GetPosition(account))
}

// GetHealthFactor returns the scaled solvency ratio of account.
func (e *Engine) GetHealthFactor(account common.Address) (*uint256.Int, error) {
	snap, err := e.GetPosition(account)
	if err != nil {
		return nil, err
	}
	return snap.HealthFactor, nil
}

// IsLiquidatable reports debt > 0 and health factor < 100.
func (e *Engine) IsLiquidatable(account common.Address) (bool, error) {
	snap, err := e.GetPosition(account)
	if err != nil {
		return false, err
	}
	return snap.State == state.LiquidationStateLiquidatable, nil
}

// Price returns the current price.
func (e *Engine) Price() *uint256.Int {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.price.Current()
}

// PriceState returns a copy of the price record.
func (e *Engine) PriceState() state.PriceState {
	e.mu.Lock()
	defer e.mu.Unlock()

	return state.PriceState{
		Price:     e.price.Current(),
		Sequence:  e.price.Sequence,
		UpdatedBy: e.price.UpdatedBy,
	}
}

// ScanLiquidatable returns every liquidatable position in address order.
// Positions whose health factor overflows are far above the floor and are
// skipped.
func (e *Engine) ScanLiquidatable() []PositionSnapshot {
	e.mu.Lock()
	defer e.mu.Unlock()

	var out []PositionSnapshot
	for _, pos := range e.positions.GetAllPositions() {
		if !pos.HasDebt() {
			continue
		}
		snap, err := e.snapshotLocked(pos)
		if err != nil {
			e.log.Warn().Err(err).Str("account", pos.Account.Hex()).Msg("health factor not computable")
			continue
		}
		if snap.State == state.LiquidationStateLiquidatable {
			out = append(out, snap)
		}
	}

	if e.metrics != nil {
		e.metrics.Liquidatable.Set(float64(len(out)))
	}
	return out
}

// Stats returns ledger-wide totals.
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()

	collateral, debt := e.positions.Totals()
	return Stats{
		Positions:       e.positions.Len(),
		TotalCollateral: collateral,
		TotalDebt:       debt,
		Price:           e.price.Current(),
		Sequence:        e.sequence,
		StateHash:       e.hasher.GetPrevHash(),
	}
}

// Sequence returns the sequence of the last committed mutation.
func (e *Engine) Sequence() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.sequence
}

func (e *Engine) snapshotLocked(pos *state.Position) (PositionSnapshot, error) {
	hf, err := e.risk.HealthFactor(pos, e.price.Price)
	if err != nil {
		return PositionSnapshot{}, arithmeticErr("health factor", err)
	}
	return PositionSnapshot{
		Account:      pos.Account,
		Collateral:   pos.Collateral,
		Debt:         pos.Debt,
		HealthFactor: hf,
		State:        e.risk.StateOf(pos, hf),
		Version:      pos.Version,
	}, nil
}
