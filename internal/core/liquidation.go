package core

import (
	fpmath "LendLedger/internal/math"
	"LendLedger/internal/state"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// liquidationPlan is the fully validated outcome of a liquidation before
// any transfer runs.
type liquidationPlan struct {
	Before                *state.Position
	After                 *state.Position
	HealthFactor          *uint256.Int
	CollateralValueOfDebt *uint256.Int
	Seize                 *uint256.Int
}

// planLiquidation checks, in order: target has debt, target health factor
// is below the floor, 0 < debtToCover <= debt, seize <= collateral. There
// is no partial seizure: a seize above the target's collateral fails the
// whole liquidation.
func (e *Engine) planLiquidation(target common.Address, debtToCover *uint256.Int) (*liquidationPlan, error) {
	pos := e.positions.GetPosition(target)
	price := e.price.Price

	if !pos.HasDebt() {
		return nil, fmt.Errorf("%w: %s has no debt", ErrNotLiquidatable, target.Hex())
	}

	hf, err := e.risk.HealthFactor(pos, price)
	if err != nil {
		return nil, arithmeticErr("liquidate health factor", err)
	}
	plan := &liquidationPlan{Before: pos, HealthFactor: hf}

	if !hf.Lt(e.risk.HealthyFloor()) {
		return plan, fmt.Errorf("%w: %s health factor is %s", ErrNotLiquidatable, target.Hex(), hf.Dec())
	}

	if debtToCover.IsZero() {
		return plan, fmt.Errorf("%w: debt to cover must be > 0", ErrInvalidLiquidationAmount)
	}
	if debtToCover.Gt(pos.Debt) {
		return plan, fmt.Errorf("%w: debt to cover %s exceeds debt %s",
			ErrInvalidLiquidationAmount, debtToCover.Dec(), pos.Debt.Dec())
	}

	plan.CollateralValueOfDebt, err = fpmath.MulDivDown(debtToCover, fpmath.Wad, price)
	if err != nil {
		return plan, arithmeticErr("collateral value of debt", err)
	}
	plan.Seize, err = e.risk.SeizeFor(debtToCover, price)
	if err != nil {
		return plan, arithmeticErr("seize amount", err)
	}
	if plan.Seize.Gt(pos.Collateral) {
		return plan, fmt.Errorf("%w: seize %s exceeds collateral %s",
			ErrInvalidLiquidationAmount, plan.Seize.Dec(), pos.Collateral.Dec())
	}

	after := pos.Clone()
	after.Debt.Sub(after.Debt, debtToCover)
	after.Collateral.Sub(after.Collateral, plan.Seize)
	plan.After = after

	return plan, nil
}

// LiquidationQuote is a dry run of Liquidate.
type LiquidationQuote struct {
	Target       common.Address
	DebtToCover  *uint256.Int
	Price        *uint256.Int
	HealthFactor *uint256.Int // nil when the target has no debt

	// Set only when the liquidation would succeed
	CollateralValueOfDebt *uint256.Int
	Seize                 *uint256.Int
	Bonus                 *uint256.Int // Seize - CollateralValueOfDebt
	CollateralAfter       *uint256.Int
	DebtAfter             *uint256.Int

	// The error Liquidate would return for the same inputs
	Err error
}

// QuoteLiquidation evaluates a liquidation against current state without
// moving tokens or mutating positions.
func (e *Engine) QuoteLiquidation(target common.Address, debtToCover *uint256.Int) *LiquidationQuote {
	e.mu.Lock()
	defer e.mu.Unlock()

	q := &LiquidationQuote{
		Target:      target,
		DebtToCover: debtToCover,
		Price:       e.price.Current(),
	}
	if debtToCover == nil {
		q.Err = fmt.Errorf("%w: missing debt to cover", ErrInvalidInput)
		return q
	}
	if err := e.checkAccount(target); err != nil {
		q.Err = err
		return q
	}

	plan, err := e.planLiquidation(target, debtToCover)
	if plan != nil {
		q.HealthFactor = plan.HealthFactor
	}
	if err != nil {
		q.Err = err
		return q
	}

	q.CollateralValueOfDebt = plan.CollateralValueOfDebt
	q.Seize = plan.Seize
	q.Bonus = new(uint256.Int).Sub(plan.Seize, plan.CollateralValueOfDebt)
	q.CollateralAfter = plan.After.Collateral
	q.DebtAfter = plan.After.Debt
	return q
}
