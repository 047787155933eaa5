package query_test

import (
	"LendLedger/internal/core"
	"LendLedger/internal/ledger"
	"LendLedger/internal/query"
	"LendLedger/internal/state"
	"LendLedger/internal/testutil"
	"context"
	"encoding/json"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	ledgerAddr = testutil.Addr(0xFFFF)
	alice      = testutil.Addr(1)
	keeper     = testutil.Addr(2)
)

type fixture struct {
	engine *core.Engine
	qs     *query.QueryService
	ts     *query.TokenService
}

func newFixture(t *testing.T, faucet bool) *fixture {
	t.Helper()
	base := ledger.NewToken(ledger.AssetBase, "WETH")
	quote := ledger.NewToken(ledger.AssetQuote, "USDC")
	require.NoError(t, quote.Mint(ledgerAddr, testutil.Units(1_000_000)))

	eng, err := core.NewEngine(core.EngineConfig{
		LedgerAddress: ledgerAddr,
		InitialPrice:  testutil.Units(2000),
		RiskParams:    state.DefaultRiskParams,
	}, base.Bind(ledgerAddr), quote.Bind(ledgerAddr), nil, nil, nil)
	require.NoError(t, err)

	qs := query.NewQueryService(eng, base, quote, nil)
	return &fixture{engine: eng, qs: qs, ts: query.NewTokenService(qs, faucet)}
}

// open funds and opens a 10 collateral / 10000 debt position at 2000.
func (f *fixture) open(t *testing.T, account common.Address) {
	t.Helper()
	_, err := f.ts.Faucet(account, "base", testutil.Units(10))
	require.NoError(t, err)
	_, err = f.ts.Approve(account, "WETH", testutil.Units(10))
	require.NoError(t, err)
	_, err = f.engine.Deposit(account, testutil.Units(10))
	require.NoError(t, err)
	_, err = f.engine.Borrow(account, testutil.Units(10_000))
	require.NoError(t, err)
}

func TestGetPosition(t *testing.T) {
	f := newFixture(t, true)
	f.open(t, alice)

	view, err := f.qs.GetPosition(alice)
	require.NoError(t, err)

	assert.Equal(t, "133", view.HealthFactor.Dec())
	assert.False(t, view.Liquidatable)
	assert.Equal(t, "Healthy", view.State)
	assert.Equal(t, "10", view.CollateralDecimal.String())
	assert.Equal(t, "10000", view.DebtDecimal.String())
	assert.Equal(t, "20000", view.CollateralValue.String())
	assert.Equal(t, int64(2), view.AsOfSequence)

	data, err := json.Marshal(view)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"debt":"10000000000000000000000"`)
	assert.Contains(t, string(data), `"debt_decimal":"10000"`)
}

func TestGetPosition_UnknownAccountIsEmpty(t *testing.T) {
	f := newFixture(t, false)

	view, err := f.qs.GetPosition(testutil.Addr(77))
	require.NoError(t, err)
	assert.True(t, view.Collateral.IsZero())
	assert.True(t, view.HealthUnbounded)
	assert.False(t, view.Liquidatable)
}

func TestScanAndQuoteAfterPriceDrop(t *testing.T) {
	f := newFixture(t, true)
	f.open(t, alice)
	_, err := f.engine.SetPrice(alice, testutil.Units(1300))
	require.NoError(t, err)

	health, err := f.qs.GetHealth(alice)
	require.NoError(t, err)
	assert.Equal(t, "86", health.HealthFactor.Dec())
	assert.True(t, health.Liquidatable)

	scan := f.qs.ScanLiquidatable()
	require.Len(t, scan, 1)
	assert.Equal(t, "0x0000000000000000000000000000000000000001", scan[0].Account)

	q := f.qs.QuoteLiquidation(alice, testutil.Units(10_000))
	require.True(t, q.Executable, q.Reason)
	assert.Equal(t, "8461538461538461537", q.Seize.Dec())
	assert.Equal(t, "7692307692307692307", q.CollateralValueOfDebt.Dec())
	assert.Equal(t, "769230769230769230", q.Bonus.Dec())
	assert.Equal(t, "1538461538461538463", q.CollateralAfter.Dec())
	assert.True(t, q.DebtAfter.IsZero())

	// A quote never mutates state.
	view, err := f.qs.GetPosition(alice)
	require.NoError(t, err)
	assert.Equal(t, "10000", view.DebtDecimal.String())

	over := f.qs.QuoteLiquidation(alice, testutil.Units(20_000))
	assert.False(t, over.Executable)
	assert.Equal(t, "InvalidLiquidationAmount", over.ErrorKind)
}

func TestQuoteHealthyTarget(t *testing.T) {
	f := newFixture(t, true)
	f.open(t, alice)

	q := f.qs.QuoteLiquidation(alice, testutil.Units(1))
	assert.False(t, q.Executable)
	assert.Equal(t, "NotLiquidatable", q.ErrorKind)
	assert.Equal(t, "133", q.HealthFactor.Dec())
}

func TestBalancesAndStats(t *testing.T) {
	f := newFixture(t, true)
	f.open(t, alice)

	b := f.qs.GetBalances(alice)
	assert.Equal(t, "base", b.Base.Asset)
	assert.Equal(t, "WETH", b.Base.Symbol)
	assert.True(t, b.Base.Balance.IsZero())
	assert.True(t, b.Base.LedgerAllowance.IsZero())
	assert.Equal(t, "10000", b.Quote.BalanceDecimal.String())

	st := f.qs.GetStats()
	assert.Equal(t, 1, st.Positions)
	assert.Equal(t, 0, st.Liquidatable)
	assert.Equal(t, testutil.Units(10).Dec(), st.LedgerBase.Dec())
	assert.Equal(t, testutil.Units(990_000).Dec(), st.LedgerQuote.Dec())
	assert.Equal(t, int64(2), st.Sequence)
	assert.Len(t, st.StateHash, 64)

	p := f.qs.GetPrice()
	assert.Equal(t, "2000", p.PriceDecimal.String())
	assert.Empty(t, p.UpdatedBy)
}

func TestTokenService(t *testing.T) {
	f := newFixture(t, false)

	_, err := f.ts.Faucet(alice, "base", testutil.Units(1))
	assert.ErrorIs(t, err, query.ErrFaucetDisabled)

	_, err = f.ts.Approve(alice, "dai", testutil.Units(1))
	assert.ErrorIs(t, err, query.ErrUnknownAsset)

	b, err := f.ts.Approve(keeper, "quote", testutil.Units(5))
	require.NoError(t, err)
	assert.Equal(t, testutil.Units(5).Dec(), b.Quote.LedgerAllowance.Dec())
}

func TestLiquidationHistoryNeedsDatabase(t *testing.T) {
	f := newFixture(t, false)
	_, err := f.qs.LiquidationHistory(context.Background(), nil, 10)
	assert.ErrorIs(t, err, query.ErrNoDatabase)
}
