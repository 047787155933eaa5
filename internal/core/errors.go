package core

import (
	fpmath "LendLedger/internal/math"
	"errors"
	"fmt"
)

// Every ledger failure wraps exactly one of these. The operation that
// returned it had no observable effect.
var (
	ErrInvalidInput             = errors.New("invalid input")
	ErrUndercollateralized      = errors.New("undercollateralized action")
	ErrNotLiquidatable          = errors.New("not liquidatable")
	ErrInvalidLiquidationAmount = errors.New("invalid liquidation amount")
	ErrExternalTransfer         = errors.New("external transfer failure")
)

// Kind returns the taxonomy name of err, "" for nil and "Internal" for
// errors that did not come from the ledger.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidInput):
		return "InvalidInput"
	case errors.Is(err, ErrUndercollateralized):
		return "UndercollateralizedAction"
	case errors.Is(err, ErrNotLiquidatable):
		return "NotLiquidatable"
	case errors.Is(err, ErrInvalidLiquidationAmount):
		return "InvalidLiquidationAmount"
	case errors.Is(err, ErrExternalTransfer):
		return "ExternalTransferFailure"
	default:
		return "Internal"
	}
}

// arithmeticErr maps a fixed-point failure (overflow) onto InvalidInput.
func arithmeticErr(what string, err error) error {
	if errors.Is(err, fpmath.ErrOverflow) || errors.Is(err, fpmath.ErrDivisionByZero) {
		return fmt.Errorf("%w: %s: %w", ErrInvalidInput, what, err)
	}
	return fmt.Errorf("%s: %w", what, err)
}

func transferErr(what string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrExternalTransfer, what, err)
}
