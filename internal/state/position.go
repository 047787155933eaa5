// internal/state/position.go
package state

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// LiquidationState is derived from a position and the current price.
// Liquidatable is not terminal: repay or a price recovery returns the
// account to Healthy.
type LiquidationState int32

const (
	LiquidationStateHealthy LiquidationState = iota
	LiquidationStateLiquidatable
)

func (ls LiquidationState) String() string {
	switch ls {
	case LiquidationStateHealthy:
		return "Healthy"
	case LiquidationStateLiquidatable:
		return "Liquidatable"
	default:
		return "Unknown"
	}
}

// Position is an account's collateral/debt pair.
type Position struct {
	Account    common.Address
	Collateral *uint256.Int // base asset, smallest unit
	Debt       *uint256.Int // quote asset, 18-decimal fixed point
	Version    int64        // bumped on every commit
}

// NewPosition returns the implicit zero/zero position of an account.
func NewPosition(account common.Address) *Position {
	return &Position{
		Account:    account,
		Collateral: new(uint256.Int),
		Debt:       new(uint256.Int),
	}
}

// Clone returns a working copy that can be mutated without touching the store.
func (p *Position) Clone() *Position {
	return &Position{
		Account:    p.Account,
		Collateral: p.Collateral.Clone(),
		Debt:       p.Debt.Clone(),
		Version:    p.Version,
	}
}

// HasDebt reports debt > 0.
func (p *Position) HasDebt() bool {
	return !p.Debt.IsZero()
}

// IsEmpty reports a zero/zero position.
func (p *Position) IsEmpty() bool {
	return p.Collateral.IsZero() && p.Debt.IsZero()
}

// CanonicalBytes returns deterministic serialization for hashing
func (p *Position) CanonicalBytes() []byte {
	buf := make([]byte, 0, 20+32+32)

	// account (20 bytes)
	buf = append(buf, p.Account.Bytes()...)

	// collateral (32 bytes BE)
	c := p.Collateral.Bytes32()
	buf = append(buf, c[:]...)

	// debt (32 bytes BE)
	d := p.Debt.Bytes32()
	buf = append(buf, d[:]...)

	return buf
}
