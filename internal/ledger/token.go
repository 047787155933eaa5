package ledger

import (
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

var (
	ErrInsufficientBalance   = errors.New("insufficient balance")
	ErrInsufficientAllowance = errors.New("insufficient allowance")
	ErrZeroAddress           = errors.New("zero address")
	ErrNoPullToRefund        = errors.New("no matching pull to refund")
)

// Gateway moves one asset on behalf of a bound holder. A non-nil error
// means the movement did not happen.
type Gateway interface {
	// Transfer moves amount from the bound holder to `to`.
	Transfer(to common.Address, amount *uint256.Int) error

	// TransferFrom moves amount from `from` to `to`, spending the bound
	// holder's allowance.
	TransferFrom(from, to common.Address, amount *uint256.Int) error

	// Refund undoes the latest matching TransferFrom made by the bound
	// holder. Balances, allowance and the journal log are restored.
	Refund(from, to common.Address, amount *uint256.Int) error

	BalanceOf(account common.Address) *uint256.Int
}

type allowanceKey struct {
	owner   common.Address
	spender common.Address
}

// Token is an in-memory fungible asset backed by a double-entry balance
// tracker. Safe for concurrent use.
type Token struct {
	mu         sync.Mutex
	assetID    AssetID
	symbol     string
	tracker    *BalanceTracker
	validator  *InvariantValidator
	allowances map[allowanceKey]*uint256.Int
	journals   []Journal
	sequence   int64
}

func NewToken(assetID AssetID, symbol string) *Token {
	tracker := NewBalanceTracker()
	return &Token{
		assetID:    assetID,
		symbol:     symbol,
		tracker:    tracker,
		validator:  NewInvariantValidator(tracker),
		allowances: make(map[allowanceKey]*uint256.Int),
	}
}

func (t *Token) Symbol() string   { return t.symbol }
func (t *Token) AssetID() AssetID { return t.assetID }

// Bind returns a Gateway acting as holder.
func (t *Token) Bind(holder common.Address) Gateway {
	return &boundToken{token: t, holder: holder}
}

// Mint credits amount to `to` out of the issuance account.
func (t *Token) Mint(to common.Address, amount *uint256.Int) error {
	if to == (common.Address{}) {
		return ErrZeroAddress
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	if amount.IsZero() {
		return nil
	}
	return t.applyLocked(NewIssuanceAccountKey(t.assetID), NewHolderAccountKey(to, t.assetID),
		amount, JournalTypeMint, common.Address{})
}

// Approve sets the amount spender may pull from owner. The max uint256
// value is treated as unlimited and never decremented.
func (t *Token) Approve(owner, spender common.Address, amount *uint256.Int) error {
	if owner == (common.Address{}) || spender == (common.Address{}) {
		return ErrZeroAddress
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	t.allowances[allowanceKey{owner, spender}] = amount.Clone()
	return nil
}

func (t *Token) Allowance(owner, spender common.Address) *uint256.Int {
	t.mu.Lock()
	defer t.mu.Unlock()

	if a, ok := t.allowances[allowanceKey{owner, spender}]; ok {
		return a.Clone()
	}
	return new(uint256.Int)
}

func (t *Token) BalanceOf(account common.Address) *uint256.Int {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.tracker.GetBalance(NewHolderAccountKey(account, t.assetID))
}

// TotalSupply returns everything minted so far.
func (t *Token) TotalSupply() *uint256.Int {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.tracker.Issued(t.assetID)
}

// ValidateSupply checks that holder balances add up to the total supply.
func (t *Token) ValidateSupply() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.validator.ValidateSupply(t.assetID)
}

// Journals returns a copy of every applied journal, oldest first.
func (t *Token) Journals() []Journal {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]Journal, len(t.journals))
	copy(out, t.journals)
	return out
}

// Transfer moves amount from `from` to `to`.
func (t *Token) Transfer(from, to common.Address, amount *uint256.Int) error {
	if to == (common.Address{}) {
		return ErrZeroAddress
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.moveLocked(from, to, amount, JournalTypeTransfer, common.Address{})
}

// TransferFrom moves amount from `from` to `to` on spender's allowance.
func (t *Token) TransferFrom(spender, from, to common.Address, amount *uint256.Int) error {
	if to == (common.Address{}) {
		return ErrZeroAddress
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	key := allowanceKey{from, spender}
	allowance, ok := t.allowances[key]
	if !ok {
		allowance = new(uint256.Int)
	}
	if allowance.Lt(amount) {
		return fmt.Errorf("%w: %s allowed %s by %s, needs %s", ErrInsufficientAllowance,
			spender.Hex(), allowance.Dec(), from.Hex(), amount.Dec())
	}

	if err := t.moveLocked(from, to, amount, JournalTypeTransferFrom, spender); err != nil {
		return err
	}

	if !allowance.Eq(maxAllowance) {
		t.allowances[key] = new(uint256.Int).Sub(allowance, amount)
	}
	return nil
}

var maxAllowance = new(uint256.Int).SetAllOne()

// Refund undoes the most recent TransferFrom of amount from `from` to `to`
// made on spender's allowance. The journal is removed rather than
// offset, so a refunded pull leaves no trace.
func (t *Token) Refund(spender, from, to common.Address, amount *uint256.Int) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !amount.IsZero() && from != to {
		fromKey := NewHolderAccountKey(from, t.assetID)
		toKey := NewHolderAccountKey(to, t.assetID)

		idx := -1
		for i := len(t.journals) - 1; i >= 0; i-- {
			j := t.journals[i]
			if j.JournalType == JournalTypeTransferFrom && j.Spender == spender &&
				j.CreditAccount == fromKey && j.DebitAccount == toKey && j.Amount.Eq(amount) {
				idx = i
				break
			}
		}
		if idx < 0 {
			return fmt.Errorf("%w: %s %s from %s to %s", ErrNoPullToRefund,
				amount.Dec(), t.symbol, from.Hex(), to.Hex())
		}
		if err := t.tracker.RevertJournal(t.journals[idx]); err != nil {
			return err
		}

		last := len(t.journals) - 1
		t.journals = append(t.journals[:idx], t.journals[idx+1:]...)
		if idx == last {
			t.sequence--
		}
	}

	key := allowanceKey{from, spender}
	allowance, ok := t.allowances[key]
	if !ok {
		allowance = new(uint256.Int)
	}
	if !allowance.Eq(maxAllowance) {
		restored, overflow := new(uint256.Int).AddOverflow(allowance, amount)
		if overflow {
			restored = maxAllowance.Clone()
		}
		t.allowances[key] = restored
	}
	return nil
}

func (t *Token) moveLocked(from, to common.Address, amount *uint256.Int, jt JournalType, spender common.Address) error {
	fromKey := NewHolderAccountKey(from, t.assetID)
	balance := t.tracker.GetBalance(fromKey)
	if balance.Lt(amount) {
		return fmt.Errorf("%w: %s has %s %s, needs %s", ErrInsufficientBalance,
			from.Hex(), balance.Dec(), t.symbol, amount.Dec())
	}
	// Zero-amount and self transfers succeed without a journal.
	if amount.IsZero() || from == to {
		return nil
	}
	return t.applyLocked(fromKey, NewHolderAccountKey(to, t.assetID), amount, jt, spender)
}

func (t *Token) applyLocked(credit, debit AccountKey, amount *uint256.Int, jt JournalType, spender common.Address) error {
	j := Journal{
		JournalID:     uuid.New(),
		Sequence:      t.sequence + 1,
		DebitAccount:  debit,
		CreditAccount: credit,
		AssetID:       t.assetID,
		Amount:        amount.Clone(),
		JournalType:   jt,
		Spender:       spender,
	}
	if err := t.validator.ValidateJournal(j); err != nil {
		return err
	}
	if err := t.tracker.ApplyJournal(j); err != nil {
		return err
	}
	t.sequence++
	t.journals = append(t.journals, j)
	return nil
}

// boundToken is a Token seen from one holder.
type boundToken struct {
	token  *Token
	holder common.Address
}

func (b *boundToken) Transfer(to common.Address, amount *uint256.Int) error {
	return b.token.Transfer(b.holder, to, amount)
}

func (b *boundToken) TransferFrom(from, to common.Address, amount *uint256.Int) error {
	return b.token.TransferFrom(b.holder, from, to, amount)
}

func (b *boundToken) Refund(from, to common.Address, amount *uint256.Int) error {
	return b.token.Refund(b.holder, from, to, amount)
}

func (b *boundToken) BalanceOf(account common.Address) *uint256.Int {
	return b.token.BalanceOf(account)
}
