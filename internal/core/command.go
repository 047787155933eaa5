package core

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Op names a mutating ledger operation.
type Op string

const (
	OpDeposit   Op = "deposit"
	OpWithdraw  Op = "withdraw"
	OpBorrow    Op = "borrow"
	OpRepay     Op = "repay"
	OpLiquidate Op = "liquidate"
	OpSetPrice  Op = "set_price"
)

func ParseOp(s string) (Op, bool) {
	switch op := Op(s); op {
	case OpDeposit, OpWithdraw, OpBorrow, OpRepay, OpLiquidate, OpSetPrice:
		return op, true
	}
	return "", false
}

// Command is the transport-neutral form of a mutation.
//
// Account is the caller: the depositor/borrower, the liquidator for
// OpLiquidate, and the setter for OpSetPrice. Amount is debtToCover for
// OpLiquidate and the new price for OpSetPrice.
type Command struct {
	ID      string // idempotency key, may be empty
	Op      Op
	Account common.Address
	Target  common.Address // OpLiquidate only
	Amount  *uint256.Int
}

// Validate checks the fields required by Op.
func (c Command) Validate() error {
	if _, ok := ParseOp(string(c.Op)); !ok {
		return fmt.Errorf("%w: unknown op %q", ErrInvalidInput, c.Op)
	}
	if c.Amount == nil {
		return fmt.Errorf("%w: %s: missing amount", ErrInvalidInput, c.Op)
	}
	if c.Op == OpLiquidate && c.Target == (common.Address{}) {
		return fmt.Errorf("%w: liquidate: missing target", ErrInvalidInput)
	}
	return nil
}
