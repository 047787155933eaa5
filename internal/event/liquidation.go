package event

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

// Liquidate is the settlement record of a successful liquidation.
type Liquidate struct {
	LiquidationID    uuid.UUID      `json:"liquidation_id"`
	Liquidator       common.Address `json:"liquidator"`
	Target           common.Address `json:"target"`
	DebtCovered      *uint256.Int   `json:"debt_covered"`
	CollateralSeized *uint256.Int   `json:"collateral_seized"`
	Price            *uint256.Int   `json:"price"`

	// Target health factor before settlement
	HealthFactor *uint256.Int `json:"health_factor"`

	// Target position after settlement
	RemainingCollateral *uint256.Int `json:"remaining_collateral"`
	RemainingDebt       *uint256.Int `json:"remaining_debt"`
}

func (l *Liquidate) EventType() EventType {
	return EventTypeLiquidate
}

// Accounts returns the target only: the liquidator's position is untouched.
func (l *Liquidate) Accounts() []common.Address {
	return []common.Address{l.Target}
}
