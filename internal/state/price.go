package state

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// PriceState is the single process-wide price of one base unit in quote
// units (18 decimals). Last write wins; there is no history and no
// authorisation on writes.
type PriceState struct {
	Price     *uint256.Int
	Sequence  int64 // ledger sequence of the last update, 0 for the initial price
	UpdatedBy common.Address
}

func NewPriceState(initial *uint256.Int) *PriceState {
	return &PriceState{Price: initial.Clone()}
}

// Update replaces the price and returns the previous one.
func (ps *PriceState) Update(price *uint256.Int, sequence int64, setter common.Address) *uint256.Int {
	old := ps.Price
	ps.Price = price.Clone()
	ps.Sequence = sequence
	ps.UpdatedBy = setter
	return old
}

// Restore sets the price without recording an update. Used when rebuilding
// state from a log that started at a different price.
func (ps *PriceState) Restore(price *uint256.Int) {
	ps.Price = price.Clone()
}

// Current returns a copy of the current price.
func (ps *PriceState) Current() *uint256.Int {
	return ps.Price.Clone()
}
