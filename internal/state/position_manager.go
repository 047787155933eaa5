package state

import (
	"bytes"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// PositionManager is the keyed store of account positions.
// Not thread-safe: the core engine serializes all access.
type PositionManager struct {
	positions map[common.Address]*Position
}

func NewPositionManager() *PositionManager {
	return &PositionManager{
		positions: make(map[common.Address]*Position),
	}
}

// GetPosition returns a working copy of the account's position.
// Accounts never referenced before read as zero/zero.
func (pm *PositionManager) GetPosition(account common.Address) *Position {
	if pos, ok := pm.positions[account]; ok {
		return pos.Clone()
	}
	return NewPosition(account)
}

// Commit stores a working copy as the account's position.
func (pm *PositionManager) Commit(pos *Position) {
	committed := pos.Clone()
	committed.Version++
	pm.positions[pos.Account] = committed
	pos.Version = committed.Version
}

// Exists reports whether the account has ever been committed.
func (pm *PositionManager) Exists(account common.Address) bool {
	_, ok := pm.positions[account]
	return ok
}

// GetAllPositions returns copies of every position ordered by account.
func (pm *PositionManager) GetAllPositions() []*Position {
	out := make([]*Position, 0, len(pm.positions))
	for _, pos := range pm.positions {
		out = append(out, pos.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		return bytes.Compare(out[i].Account.Bytes(), out[j].Account.Bytes()) < 0
	})
	return out
}

// Len returns the number of tracked positions.
func (pm *PositionManager) Len() int {
	return len(pm.positions)
}

// Totals sums collateral and debt across all positions.
func (pm *PositionManager) Totals() (collateral, debt *uint256.Int) {
	collateral, debt = new(uint256.Int), new(uint256.Int)
	for _, pos := range pm.positions {
		collateral.Add(collateral, pos.Collateral)
		debt.Add(debt, pos.Debt)
	}
	return collateral, debt
}
