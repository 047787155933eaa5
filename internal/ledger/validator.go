package ledger

import (
	"fmt"

	"github.com/holiman/uint256"
)

// InvariantValidator checks ledger invariants
type InvariantValidator struct {
	tracker *BalanceTracker
}

func NewInvariantValidator(tracker *BalanceTracker) *InvariantValidator {
	return &InvariantValidator{
		tracker: tracker,
	}
}

// ValidateJournal verifies the journal can be applied
func (v *InvariantValidator) ValidateJournal(j Journal) error {
	if err := j.Validate(); err != nil {
		return err
	}
	if j.CreditAccount.Scope == AccountScopeExternal {
		return nil
	}
	balance := v.tracker.GetBalance(j.CreditAccount)
	if balance.Lt(j.Amount) {
		return fmt.Errorf("%w: %s has %s, needs %s", ErrInsufficientBalance,
			j.CreditAccount.AccountPath(), balance.Dec(), j.Amount.Dec())
	}
	return nil
}

// ValidateSupply verifies that the holder balances of an asset add up to
// exactly what was minted.
func (v *InvariantValidator) ValidateSupply(assetID AssetID) error {
	issued := v.tracker.Issued(assetID)
	held := v.tracker.ComputeHolderSupply()[assetID]
	if held == nil {
		if issued.IsZero() {
			return nil
		}
		held = new(uint256.Int)
	}

	if !held.Eq(issued) {
		assetName, _ := GetAssetName(assetID)
		return fmt.Errorf("supply mismatch for %s: held %s, issued %s", assetName, held.Dec(), issued.Dec())
	}
	return nil
}
