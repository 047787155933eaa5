package ledger

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

// JournalType represents the purpose of a journal entry
type JournalType int32

const (
	JournalTypeMint JournalType = iota
	JournalTypeTransfer
	JournalTypeTransferFrom
)

func (jt JournalType) String() string {
	switch jt {
	case JournalTypeMint:
		return "mint"
	case JournalTypeTransfer:
		return "transfer"
	case JournalTypeTransferFrom:
		return "transfer_from"
	default:
		return "unknown"
	}
}

// Journal represents a single double-entry journal entry
type Journal struct {
	JournalID     uuid.UUID      // Unique identifier
	Sequence      int64          // Per-token sequence
	DebitAccount  AccountKey     // Account receiving debit (balance increases)
	CreditAccount AccountKey     // Account receiving credit (balance decreases)
	AssetID       AssetID        // Asset being transferred
	Amount        *uint256.Int   // ALWAYS positive
	JournalType   JournalType    // Entry type
	Spender       common.Address // Set for TransferFrom
}

// Validate ensures the journal is well-formed. Each entry is a balanced
// transfer by construction: a single positive amount moves from the credit
// account to the debit account.
func (j Journal) Validate() error {
	if j.Amount == nil || j.Amount.IsZero() {
		return fmt.Errorf("journal %s has non-positive amount", j.JournalID)
	}
	if j.DebitAccount == j.CreditAccount {
		return fmt.Errorf("journal %s has same debit and credit account", j.JournalID)
	}
	if j.DebitAccount.AssetID != j.AssetID || j.CreditAccount.AssetID != j.AssetID {
		return fmt.Errorf("journal %s mixes assets", j.JournalID)
	}
	if j.DebitAccount.Scope == AccountScopeExternal {
		return fmt.Errorf("journal %s debits the issuance account", j.JournalID)
	}
	return nil
}
