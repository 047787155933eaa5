package state

import (
	fpmath "LendLedger/internal/math"
	"fmt"

	"github.com/holiman/uint256"
)

// RiskParams are the fixed protocol constants.
type RiskParams struct {
	ThresholdPercent        uint64 // minimum collateral value / debt, in Precision units
	LiquidationBonusPercent uint64 // collateral awarded per unit of debt value covered
	Precision               uint64 // 100 = 1.0
}

// DefaultRiskParams: 150% threshold, 10% bonus, percent precision.
var DefaultRiskParams = RiskParams{
	ThresholdPercent:        150,
	LiquidationBonusPercent: 110,
	Precision:               100,
}

// ValidateRiskParams checks that risk parameters are within valid ranges.
func ValidateRiskParams(params RiskParams) error {
	if params.Precision == 0 {
		return fmt.Errorf("precision must be > 0")
	}
	if params.ThresholdPercent == 0 {
		return fmt.Errorf("threshold_percent must be > 0")
	}
	if params.LiquidationBonusPercent < params.Precision {
		return fmt.Errorf("liquidation_bonus_percent (%d) must be >= precision (%d)",
			params.LiquidationBonusPercent, params.Precision)
	}
	return nil
}

// HealthFactor applies the calculator with these parameters.
func (rp RiskParams) HealthFactor(pos *Position, price *uint256.Int) (*uint256.Int, error) {
	return fpmath.HealthFactor(pos.Collateral, pos.Debt, price, rp.ThresholdPercent, rp.Precision)
}

// SeizeFor returns the collateral seized for covering debtToCover at price.
func (rp RiskParams) SeizeFor(debtToCover, price *uint256.Int) (*uint256.Int, error) {
	return fpmath.SeizeAmount(debtToCover, price, rp.LiquidationBonusPercent, rp.Precision)
}

// HealthyFloor is the health factor at exactly the threshold boundary.
func (rp RiskParams) HealthyFloor() *uint256.Int {
	return uint256.NewInt(rp.Precision)
}

// StateOf derives the liquidation state: Liquidatable iff debt > 0 and hf < precision.
func (rp RiskParams) StateOf(pos *Position, hf *uint256.Int) LiquidationState {
	if pos.HasDebt() && hf.Lt(rp.HealthyFloor()) {
		return LiquidationStateLiquidatable
	}
	return LiquidationStateHealthy
}
