package event

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// PriceUpdated records a write to the process-wide price. Setter is
// informational only; writes are not authorised.
type PriceUpdated struct {
	Setter   common.Address `json:"setter"`
	OldPrice *uint256.Int   `json:"old_price"`
	NewPrice *uint256.Int   `json:"new_price"`
}

func (p *PriceUpdated) EventType() EventType {
	return EventTypePriceUpdated
}

func (p *PriceUpdated) Accounts() []common.Address {
	return nil
}
