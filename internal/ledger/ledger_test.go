package ledger_test

import (
	"LendLedger/internal/ledger"
	"errors"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

var (
	alice      = common.HexToAddress("0x00000000000000000000000000000000000a11ce")
	bob        = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
	ledgerAddr = common.HexToAddress("0x000000000000000000000000000000000000fee0")
)

// ============================================================================
// Test: AccountKey
// ============================================================================

func TestAccountKey_HolderPath(t *testing.T) {
	key := ledger.NewHolderAccountKey(alice, ledger.AssetBase)

	path := key.AccountPath()
	expected := "holder:0x00000000000000000000000000000000000a11ce:base"
	if path != expected {
		t.Errorf("got %q, want %q", path, expected)
	}
}

func TestAccountKey_IssuancePath(t *testing.T) {
	key := ledger.NewIssuanceAccountKey(ledger.AssetQuote)

	path := key.AccountPath()
	if path != "external:issuance:quote" {
		t.Errorf("got %q, want %q", path, "external:issuance:quote")
	}
}

func TestGetAssetID(t *testing.T) {
	id, ok := ledger.GetAssetID("QUOTE")
	if !ok || id != ledger.AssetQuote {
		t.Errorf("got %d, %v, want %d", id, ok, ledger.AssetQuote)
	}
	if _, ok := ledger.GetAssetID("DOGE"); ok {
		t.Error("DOGE should not be a known asset")
	}
}

// ============================================================================
// Test: BalanceTracker
// ============================================================================

func TestBalanceTracker_InitialBalanceZero(t *testing.T) {
	bt := ledger.NewBalanceTracker()

	balance := bt.GetBalance(ledger.NewHolderAccountKey(alice, ledger.AssetBase))
	if !balance.IsZero() {
		t.Errorf("initial balance should be 0, got %s", balance.Dec())
	}
}

func TestBalanceTracker_ApplyJournal(t *testing.T) {
	bt := ledger.NewBalanceTracker()

	j := ledger.Journal{
		JournalID:     uuid.New(),
		DebitAccount:  ledger.NewHolderAccountKey(alice, ledger.AssetBase),
		CreditAccount: ledger.NewIssuanceAccountKey(ledger.AssetBase),
		AssetID:       ledger.AssetBase,
		Amount:        uint256.NewInt(1_000_000),
		JournalType:   ledger.JournalTypeMint,
	}

	if err := bt.ApplyJournal(j); err != nil {
		t.Fatalf("apply: %v", err)
	}

	got := bt.GetBalance(ledger.NewHolderAccountKey(alice, ledger.AssetBase))
	if got.Uint64() != 1_000_000 {
		t.Errorf("balance: got %d, want 1_000_000", got.Uint64())
	}
	if bt.Issued(ledger.AssetBase).Uint64() != 1_000_000 {
		t.Errorf("issued: got %d, want 1_000_000", bt.Issued(ledger.AssetBase).Uint64())
	}
}

func TestBalanceTracker_RejectsOverdraw(t *testing.T) {
	bt := ledger.NewBalanceTracker()

	j := ledger.Journal{
		JournalID:     uuid.New(),
		DebitAccount:  ledger.NewHolderAccountKey(bob, ledger.AssetBase),
		CreditAccount: ledger.NewHolderAccountKey(alice, ledger.AssetBase),
		AssetID:       ledger.AssetBase,
		Amount:        uint256.NewInt(1),
	}

	err := bt.ApplyJournal(j)
	if !errors.Is(err, ledger.ErrInsufficientBalance) {
		t.Fatalf("got %v, want ErrInsufficientBalance", err)
	}
	if !bt.GetBalance(ledger.NewHolderAccountKey(bob, ledger.AssetBase)).IsZero() {
		t.Error("rejected journal must not credit the debit side")
	}
}

// ============================================================================
// Test: Journal validation
// ============================================================================

func TestJournal_Validate(t *testing.T) {
	base := ledger.NewHolderAccountKey(alice, ledger.AssetBase)
	other := ledger.NewHolderAccountKey(bob, ledger.AssetBase)

	tests := []struct {
		name    string
		journal ledger.Journal
		wantErr bool
	}{
		{"valid", ledger.Journal{DebitAccount: other, CreditAccount: base, AssetID: ledger.AssetBase, Amount: uint256.NewInt(1)}, false},
		{"zero amount", ledger.Journal{DebitAccount: other, CreditAccount: base, AssetID: ledger.AssetBase, Amount: new(uint256.Int)}, true},
		{"nil amount", ledger.Journal{DebitAccount: other, CreditAccount: base, AssetID: ledger.AssetBase}, true},
		{"self transfer", ledger.Journal{DebitAccount: base, CreditAccount: base, AssetID: ledger.AssetBase, Amount: uint256.NewInt(1)}, true},
		{"mixed assets", ledger.Journal{DebitAccount: ledger.NewHolderAccountKey(bob, ledger.AssetQuote), CreditAccount: base, AssetID: ledger.AssetBase, Amount: uint256.NewInt(1)}, true},
		{"debit issuance", ledger.Journal{DebitAccount: ledger.NewIssuanceAccountKey(ledger.AssetBase), CreditAccount: base, AssetID: ledger.AssetBase, Amount: uint256.NewInt(1)}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.journal.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

// ============================================================================
// Test: Token
// ============================================================================

func TestToken_MintAndTransfer(t *testing.T) {
	tok := ledger.NewToken(ledger.AssetQuote, "USD")

	if err := tok.Mint(alice, uint256.NewInt(100)); err != nil {
		t.Fatal(err)
	}
	if err := tok.Bind(alice).Transfer(bob, uint256.NewInt(40)); err != nil {
		t.Fatal(err)
	}

	if got := tok.BalanceOf(alice).Uint64(); got != 60 {
		t.Errorf("alice: got %d, want 60", got)
	}
	if got := tok.BalanceOf(bob).Uint64(); got != 40 {
		t.Errorf("bob: got %d, want 40", got)
	}
	if got := tok.TotalSupply().Uint64(); got != 100 {
		t.Errorf("supply: got %d, want 100", got)
	}
	if err := tok.ValidateSupply(); err != nil {
		t.Errorf("supply invariant: %v", err)
	}
	if n := len(tok.Journals()); n != 2 {
		t.Errorf("journals: got %d, want 2", n)
	}
}

func TestToken_TransferInsufficientBalance(t *testing.T) {
	tok := ledger.NewToken(ledger.AssetBase, "ETH")
	_ = tok.Mint(alice, uint256.NewInt(5))

	err := tok.Bind(alice).Transfer(bob, uint256.NewInt(6))
	if !errors.Is(err, ledger.ErrInsufficientBalance) {
		t.Fatalf("got %v, want ErrInsufficientBalance", err)
	}
	if got := tok.BalanceOf(alice).Uint64(); got != 5 {
		t.Errorf("alice: got %d, want 5", got)
	}
}

func TestToken_TransferFromSpendsAllowance(t *testing.T) {
	tok := ledger.NewToken(ledger.AssetBase, "ETH")
	_ = tok.Mint(alice, uint256.NewInt(10))
	_ = tok.Approve(alice, ledgerAddr, uint256.NewInt(7))

	gw := tok.Bind(ledgerAddr)
	if err := gw.TransferFrom(alice, ledgerAddr, uint256.NewInt(4)); err != nil {
		t.Fatal(err)
	}
	if got := tok.Allowance(alice, ledgerAddr).Uint64(); got != 3 {
		t.Errorf("allowance: got %d, want 3", got)
	}

	err := gw.TransferFrom(alice, ledgerAddr, uint256.NewInt(4))
	if !errors.Is(err, ledger.ErrInsufficientAllowance) {
		t.Fatalf("got %v, want ErrInsufficientAllowance", err)
	}
	if got := gw.BalanceOf(ledgerAddr).Uint64(); got != 4 {
		t.Errorf("ledger: got %d, want 4", got)
	}
}

func TestToken_RefundRestoresPull(t *testing.T) {
	tok := ledger.NewToken(ledger.AssetQuote, "USD")
	_ = tok.Mint(alice, uint256.NewInt(10))
	_ = tok.Approve(alice, ledgerAddr, uint256.NewInt(7))
	journals := len(tok.Journals())

	gw := tok.Bind(ledgerAddr)
	if err := gw.TransferFrom(alice, ledgerAddr, uint256.NewInt(7)); err != nil {
		t.Fatal(err)
	}
	if err := gw.Refund(alice, ledgerAddr, uint256.NewInt(7)); err != nil {
		t.Fatal(err)
	}

	if got := tok.BalanceOf(alice).Uint64(); got != 10 {
		t.Errorf("alice: got %d, want 10", got)
	}
	if got := tok.BalanceOf(ledgerAddr).Uint64(); got != 0 {
		t.Errorf("ledger: got %d, want 0", got)
	}
	if got := tok.Allowance(alice, ledgerAddr).Uint64(); got != 7 {
		t.Errorf("allowance: got %d, want 7", got)
	}
	if got := len(tok.Journals()); got != journals {
		t.Errorf("journals: got %d, want %d", got, journals)
	}
	if err := tok.ValidateSupply(); err != nil {
		t.Error(err)
	}

	// The next journal reuses the refunded sequence number.
	if err := gw.TransferFrom(alice, ledgerAddr, uint256.NewInt(1)); err != nil {
		t.Fatal(err)
	}
	all := tok.Journals()
	if got := all[len(all)-1].Sequence; got != int64(journals+1) {
		t.Errorf("sequence: got %d, want %d", got, journals+1)
	}
}

func TestToken_RefundWithoutPullFails(t *testing.T) {
	tok := ledger.NewToken(ledger.AssetQuote, "USD")
	_ = tok.Mint(alice, uint256.NewInt(10))
	_ = tok.Approve(alice, ledgerAddr, uint256.NewInt(5))

	gw := tok.Bind(ledgerAddr)
	if err := tok.Transfer(alice, ledgerAddr, uint256.NewInt(5)); err != nil {
		t.Fatal(err)
	}
	err := gw.Refund(alice, ledgerAddr, uint256.NewInt(5))
	if !errors.Is(err, ledger.ErrNoPullToRefund) {
		t.Fatalf("got %v, want ErrNoPullToRefund", err)
	}
	if got := tok.Allowance(alice, ledgerAddr).Uint64(); got != 5 {
		t.Errorf("allowance: got %d, want 5", got)
	}
}

func TestToken_UnlimitedAllowanceNotDecremented(t *testing.T) {
	tok := ledger.NewToken(ledger.AssetQuote, "USD")
	_ = tok.Mint(alice, uint256.NewInt(10))
	unlimited := new(uint256.Int).SetAllOne()
	_ = tok.Approve(alice, ledgerAddr, unlimited)

	if err := tok.Bind(ledgerAddr).TransferFrom(alice, bob, uint256.NewInt(10)); err != nil {
		t.Fatal(err)
	}
	if !tok.Allowance(alice, ledgerAddr).Eq(unlimited) {
		t.Error("unlimited allowance must not be decremented")
	}
}

func TestToken_AllowanceCheckedBeforeBalance(t *testing.T) {
	tok := ledger.NewToken(ledger.AssetQuote, "USD")
	_ = tok.Approve(alice, ledgerAddr, uint256.NewInt(10))

	err := tok.Bind(ledgerAddr).TransferFrom(alice, ledgerAddr, uint256.NewInt(10))
	if !errors.Is(err, ledger.ErrInsufficientBalance) {
		t.Fatalf("got %v, want ErrInsufficientBalance", err)
	}
	if got := tok.Allowance(alice, ledgerAddr).Uint64(); got != 10 {
		t.Errorf("failed pull must not spend allowance: got %d", got)
	}
}

func TestToken_ZeroAddressRejected(t *testing.T) {
	tok := ledger.NewToken(ledger.AssetBase, "ETH")

	if err := tok.Mint(common.Address{}, uint256.NewInt(1)); !errors.Is(err, ledger.ErrZeroAddress) {
		t.Errorf("mint: got %v", err)
	}
	if err := tok.Approve(alice, common.Address{}, uint256.NewInt(1)); !errors.Is(err, ledger.ErrZeroAddress) {
		t.Errorf("approve: got %v", err)
	}
}

func TestToken_ZeroAmountTransferIsNoop(t *testing.T) {
	tok := ledger.NewToken(ledger.AssetBase, "ETH")

	if err := tok.Bind(alice).Transfer(bob, new(uint256.Int)); err != nil {
		t.Fatalf("zero transfer: %v", err)
	}
	if n := len(tok.Journals()); n != 0 {
		t.Errorf("journals: got %d, want 0", n)
	}
}

func TestToken_ConcurrentTransfersPreserveSupply(t *testing.T) {
	tok := ledger.NewToken(ledger.AssetQuote, "USD")
	_ = tok.Mint(alice, uint256.NewInt(1_000))
	_ = tok.Mint(bob, uint256.NewInt(1_000))

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = tok.Bind(alice).Transfer(bob, uint256.NewInt(3))
		}()
		go func() {
			defer wg.Done()
			_ = tok.Bind(bob).Transfer(alice, uint256.NewInt(2))
		}()
	}
	wg.Wait()

	if err := tok.ValidateSupply(); err != nil {
		t.Fatalf("supply invariant: %v", err)
	}
	sum := new(uint256.Int).Add(tok.BalanceOf(alice), tok.BalanceOf(bob))
	if sum.Uint64() != 2_000 {
		t.Errorf("sum: got %d, want 2000", sum.Uint64())
	}
}
