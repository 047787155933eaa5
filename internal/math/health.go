package math

import "github.com/holiman/uint256"

// HealthFactor computes the scaled solvency ratio of a position.
//
//	collateralValue = collateral * price / 1e18
//	maxSafeDebt     = collateralValue * precision / thresholdPercent
//	healthFactor    = maxSafeDebt * precision / debt
//
// Every division truncates, in this order. A zero debt returns the
// 2^256-1 sentinel.
func HealthFactor(collateral, debt, price *uint256.Int, thresholdPercent, precision uint64) (*uint256.Int, error) {
	if debt.IsZero() {
		return MaxUint256(), nil
	}
	if thresholdPercent == 0 {
		return nil, ErrDivisionByZero
	}

	collateralValue, err := MulDivDown(collateral, price, Wad)
	if err != nil {
		return nil, err
	}

	prec := uint256.NewInt(precision)
	maxSafeDebt, err := MulDivDown(collateralValue, prec, uint256.NewInt(thresholdPercent))
	if err != nil {
		return nil, err
	}

	return MulDivDown(maxSafeDebt, prec, debt)
}

// SeizeAmount returns the collateral awarded for covering debtToCover:
//
//	collateralValueOfDebt = debtToCover * 1e18 / price
//	seize                 = collateralValueOfDebt * bonusPercent / precision
func SeizeAmount(debtToCover, price *uint256.Int, bonusPercent, precision uint64) (*uint256.Int, error) {
	collateralValueOfDebt, err := MulDivDown(debtToCover, Wad, price)
	if err != nil {
		return nil, err
	}
	return MulDivDown(collateralValueOfDebt, uint256.NewInt(bonusPercent), uint256.NewInt(precision))
}
