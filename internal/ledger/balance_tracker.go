package ledger

import (
	"fmt"

	"github.com/holiman/uint256"
)

// BalanceTracker maintains in-memory account balances. Holder balances are
// unsigned and never go below zero; the issuance account instead counts
// how much has been minted out of it.
type BalanceTracker struct {
	balances map[AccountKey]*uint256.Int
	issued   map[AssetID]*uint256.Int
}

func NewBalanceTracker() *BalanceTracker {
	return &BalanceTracker{
		balances: make(map[AccountKey]*uint256.Int),
		issued:   make(map[AssetID]*uint256.Int),
	}
}

// ApplyJournal applies a single journal entry to balances. The entry is
// rejected without effect if the credit account cannot cover it.
func (bt *BalanceTracker) ApplyJournal(j Journal) error {
	if err := j.Validate(); err != nil {
		return fmt.Errorf("invalid journal: %w", err)
	}

	debit := bt.GetBalance(j.DebitAccount)
	newDebit, overflow := new(uint256.Int).AddOverflow(debit, j.Amount)
	if overflow {
		return fmt.Errorf("balance overflow on %s", j.DebitAccount.AccountPath())
	}

	if j.CreditAccount.Scope == AccountScopeExternal {
		issued := bt.Issued(j.AssetID)
		newIssued, overflow := new(uint256.Int).AddOverflow(issued, j.Amount)
		if overflow {
			return fmt.Errorf("issuance overflow for asset %d", j.AssetID)
		}
		bt.issued[j.AssetID] = newIssued
	} else {
		credit := bt.GetBalance(j.CreditAccount)
		if credit.Lt(j.Amount) {
			return fmt.Errorf("%w: %s has %s, needs %s", ErrInsufficientBalance,
				j.CreditAccount.AccountPath(), credit.Dec(), j.Amount.Dec())
		}
		bt.balances[j.CreditAccount] = new(uint256.Int).Sub(credit, j.Amount)
	}

	bt.balances[j.DebitAccount] = newDebit
	return nil
}

// RevertJournal moves a holder-to-holder entry back. Issuance entries
// cannot be reverted.
func (bt *BalanceTracker) RevertJournal(j Journal) error {
	if j.CreditAccount.Scope == AccountScopeExternal {
		return fmt.Errorf("cannot revert issuance journal %s", j.JournalID)
	}

	debit := bt.GetBalance(j.DebitAccount)
	if debit.Lt(j.Amount) {
		return fmt.Errorf("%w: %s has %s, needs %s", ErrInsufficientBalance,
			j.DebitAccount.AccountPath(), debit.Dec(), j.Amount.Dec())
	}
	credit, overflow := new(uint256.Int).AddOverflow(bt.GetBalance(j.CreditAccount), j.Amount)
	if overflow {
		return fmt.Errorf("balance overflow on %s", j.CreditAccount.AccountPath())
	}

	bt.balances[j.DebitAccount] = new(uint256.Int).Sub(debit, j.Amount)
	bt.balances[j.CreditAccount] = credit
	return nil
}

// GetBalance returns a copy of the current balance for an account
func (bt *BalanceTracker) GetBalance(key AccountKey) *uint256.Int {
	if b, ok := bt.balances[key]; ok {
		return b.Clone()
	}
	return new(uint256.Int)
}

// Issued returns the total amount minted for an asset
func (bt *BalanceTracker) Issued(assetID AssetID) *uint256.Int {
	if v, ok := bt.issued[assetID]; ok {
		return v.Clone()
	}
	return new(uint256.Int)
}

// ComputeHolderSupply sums every holder balance per asset
func (bt *BalanceTracker) ComputeHolderSupply() map[AssetID]*uint256.Int {
	totals := make(map[AssetID]*uint256.Int)

	for key, balance := range bt.balances {
		if key.Scope != AccountScopeHolder {
			continue
		}
		if _, ok := totals[key.AssetID]; !ok {
			totals[key.AssetID] = new(uint256.Int)
		}
		totals[key.AssetID].Add(totals[key.AssetID], balance)
	}

	return totals
}

// Snapshot returns a copy of all balances
func (bt *BalanceTracker) Snapshot() map[AccountKey]*uint256.Int {
	snapshot := make(map[AccountKey]*uint256.Int, len(bt.balances))
	for k, v := range bt.balances {
		snapshot[k] = v.Clone()
	}
	return snapshot
}
