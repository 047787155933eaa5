package event

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// PositionChange is the common body of the four single-account mutations.
// Collateral and Debt are the account's values after the change; Price is
// the price in effect when it was applied.
type PositionChange struct {
	Account    common.Address `json:"account"`
	Amount     *uint256.Int   `json:"amount"`
	Collateral *uint256.Int   `json:"collateral"`
	Debt       *uint256.Int   `json:"debt"`
	Price      *uint256.Int   `json:"price"`
}

func (p *PositionChange) Accounts() []common.Address {
	return []common.Address{p.Account}
}

// Deposit: base asset pulled from the account into the ledger.
type Deposit struct {
	PositionChange
}

func (d *Deposit) EventType() EventType {
	return EventTypeDeposit
}

// Withdraw: base asset paid out of the ledger to the account.
type Withdraw struct {
	PositionChange
}

func (w *Withdraw) EventType() EventType {
	return EventTypeWithdraw
}

// Borrow: quote asset paid out against collateral.
type Borrow struct {
	PositionChange
	HealthFactor *uint256.Int `json:"health_factor"`
}

func (b *Borrow) EventType() EventType {
	return EventTypeBorrow
}

// Repay: quote asset pulled back from the account.
type Repay struct {
	PositionChange
}

func (r *Repay) EventType() EventType {
	return EventTypeRepay
}
