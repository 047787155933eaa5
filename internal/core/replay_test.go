package core_test

import (
	"LendLedger/internal/core"
	"LendLedger/internal/event"
	"LendLedger/internal/ledger"
	"LendLedger/internal/state"
	"LendLedger/internal/testutil"
	"errors"
	"testing"
)

// drain collects every output the engine emitted so far, round-tripping
// payloads through their stored JSON form.
func (env *testEnv) drain(t *testing.T) []*event.EventEnvelope {
	t.Helper()
	var out []*event.EventEnvelope
	for {
		select {
		case o := <-env.persistCh:
			payload, err := o.Envelope.Payload()
			if err != nil {
				t.Fatal(err)
			}
			decoded, err := event.DecodePayload(o.Envelope.EventType, payload)
			if err != nil {
				t.Fatal(err)
			}
			stored := *o.Envelope
			stored.Event = decoded
			out = append(out, &stored)
		default:
			return out
		}
	}
}

func freshEngine(t *testing.T) *core.Engine {
	t.Helper()
	return freshEngineAt(t, 2000)
}

func freshEngineAt(t *testing.T, price uint64) *core.Engine {
	t.Helper()
	base := ledger.NewToken(ledger.AssetBase, "ETH")
	quote := ledger.NewToken(ledger.AssetQuote, "USD")
	eng, err := core.NewEngine(core.EngineConfig{
		LedgerAddress: ledgerAddr,
		InitialPrice:  testutil.Units(price),
		RiskParams:    state.DefaultRiskParams,
	}, base.Bind(ledgerAddr), quote.Bind(ledgerAddr), nil, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	return eng
}

func TestReplay_RebuildsState(t *testing.T) {
	env := newTestEnv(t)
	env.openPosition(t, alice, 10, 10_000)
	env.openPosition(t, bob, 5, 1_000)
	if _, err := env.eng.SetPrice(carol, testutil.Units(1300)); err != nil {
		t.Fatal(err)
	}
	env.fund(t, carol, 0, 10_000)
	if _, err := env.eng.Liquidate(carol, alice, testutil.Units(10_000)); err != nil {
		t.Fatalf("liquidate: %v", err)
	}

	stored := env.drain(t)
	if len(stored) != 6 {
		t.Fatalf("expected 6 events, got %d", len(stored))
	}

	replica := freshEngine(t)
	for _, e := range stored {
		if err := replica.Replay(e); err != nil {
			t.Fatalf("replay seq=%d: %v", e.Sequence, err)
		}
	}

	want, got := env.eng.Stats(), replica.Stats()
	if got.Sequence != want.Sequence {
		t.Errorf("sequence: got %d, want %d", got.Sequence, want.Sequence)
	}
	if got.StateHash != want.StateHash {
		t.Errorf("state hash diverged: %x vs %x", got.StateHash, want.StateHash)
	}
	if !got.TotalCollateral.Eq(want.TotalCollateral) || !got.TotalDebt.Eq(want.TotalDebt) {
		t.Errorf("totals diverged")
	}
	if !replica.Price().Eq(testutil.Units(1300)) {
		t.Errorf("price not restored: %s", replica.Price().Dec())
	}

	snap, err := replica.GetPosition(alice)
	if err != nil {
		t.Fatal(err)
	}
	if snap.Collateral.Dec() != "1538461538461538463" || !snap.Debt.IsZero() {
		t.Errorf("alice after replay: %s / %s", snap.Collateral.Dec(), snap.Debt.Dec())
	}
}

func TestReplay_RejectsGapAndTamper(t *testing.T) {
	env := newTestEnv(t)
	env.openPosition(t, alice, 10, 1_000)
	stored := env.drain(t)
	if len(stored) != 2 {
		t.Fatalf("expected 2 events, got %d", len(stored))
	}

	replica := freshEngine(t)
	if err := replica.Replay(stored[1]); !errors.Is(err, core.ErrReplayMismatch) {
		t.Fatalf("gap: expected ErrReplayMismatch, got %v", err)
	}

	tampered := *stored[0]
	dep := *tampered.Event.(*event.Deposit)
	dep.Collateral = testutil.Units(11)
	tampered.Event = &dep
	if err := replica.Replay(&tampered); !errors.Is(err, core.ErrReplayMismatch) {
		t.Fatalf("tamper: expected ErrReplayMismatch, got %v", err)
	}
	if replica.Sequence() != 0 {
		t.Errorf("rejected replay advanced sequence to %d", replica.Sequence())
	}

	for _, e := range stored {
		if err := replica.Replay(e); err != nil {
			t.Fatalf("replay seq=%d: %v", e.Sequence, err)
		}
	}
	if replica.Sequence() != 2 {
		t.Errorf("sequence: got %d, want 2", replica.Sequence())
	}
}

func TestReplay_IgnoresChangedStartingPrice(t *testing.T) {
	env := newTestEnv(t)
	env.openPosition(t, alice, 10, 10_000)
	stored := env.drain(t)

	replica := freshEngineAt(t, 2100)
	for _, e := range stored {
		if err := replica.Replay(e); err != nil {
			t.Fatalf("replay seq=%d: %v", e.Sequence, err)
		}
	}

	if got := replica.Price(); !got.Eq(testutil.Units(2000)) {
		t.Errorf("price: got %s, want the logged 2000", got.Dec())
	}
	if replica.Stats().StateHash != env.eng.Stats().StateHash {
		t.Error("state hash diverged")
	}
	hf, err := replica.GetHealthFactor(alice)
	if err != nil {
		t.Fatal(err)
	}
	if hf.Uint64() != 133 {
		t.Errorf("health factor: got %s, want 133", hf.Dec())
	}
}

func TestReplay_RejectsPositionEventWithoutPrice(t *testing.T) {
	env := newTestEnv(t)
	env.openPosition(t, alice, 10, 0)
	stored := env.drain(t)

	stripped := *stored[0]
	dep := *stripped.Event.(*event.Deposit)
	dep.Price = nil
	stripped.Event = &dep

	replica := freshEngine(t)
	if err := replica.Replay(&stripped); !errors.Is(err, core.ErrReplayMismatch) {
		t.Fatalf("expected ErrReplayMismatch, got %v", err)
	}
}
