package math_test

import (
	fpmath "LendLedger/internal/math"
	"errors"
	"testing"

	"github.com/holiman/uint256"
)

func TestHealthFactor_Scenarios(t *testing.T) {
	tests := []struct {
		name       string
		collateral *uint256.Int
		debt       *uint256.Int
		price      *uint256.Int
		want       uint64
	}{
		{"healthy at 2000", fpmath.FromWhole(10), fpmath.FromWhole(10_000), fpmath.FromWhole(2000), 133},
		{"underwater at 1300", fpmath.FromWhole(10), fpmath.FromWhole(10_000), fpmath.FromWhole(1300), 86},
		{"exactly at threshold", fpmath.FromWhole(3), fpmath.FromWhole(4000), fpmath.FromWhole(2000), 100},
		{"zero collateral", uint256.NewInt(0), fpmath.FromWhole(1), fpmath.FromWhole(2000), 0},
		{"zero price", fpmath.FromWhole(10), fpmath.FromWhole(1), uint256.NewInt(0), 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hf, err := fpmath.HealthFactor(tt.collateral, tt.debt, tt.price, 150, 100)
			if err != nil {
				t.Fatalf("HealthFactor: %v", err)
			}
			if !hf.Eq(uint256.NewInt(tt.want)) {
				t.Errorf("got %s, want %d", hf.Dec(), tt.want)
			}
		})
	}
}

func TestHealthFactor_ZeroDebtIsMax(t *testing.T) {
	hf, err := fpmath.HealthFactor(fpmath.FromWhole(1), uint256.NewInt(0), fpmath.FromWhole(1), 150, 100)
	if err != nil {
		t.Fatalf("HealthFactor: %v", err)
	}
	if !fpmath.IsMax(hf) {
		t.Errorf("zero debt should return max sentinel, got %s", hf.Dec())
	}
}

// Truncation happens at every step, not once at the end.
func TestHealthFactor_TruncatesEachStep(t *testing.T) {
	// collateralValue = 1 * 1 / 1e18 = 0 -> hf 0, whereas the exact ratio is tiny but non-zero.
	hf, err := fpmath.HealthFactor(uint256.NewInt(1), uint256.NewInt(1), uint256.NewInt(1), 150, 100)
	if err != nil {
		t.Fatalf("HealthFactor: %v", err)
	}
	if !hf.IsZero() {
		t.Errorf("got %s, want 0", hf.Dec())
	}

	// 20_000e18 * 100 / 150 = 13_333.333... -> 13_333.333...e18 floored, then * 100 / 10_000e18 = 133
	hf, _ = fpmath.HealthFactor(fpmath.FromWhole(10), fpmath.FromWhole(10_000), fpmath.FromWhole(2000), 150, 100)
	if hf.Uint64() != 133 {
		t.Errorf("got %d, want 133", hf.Uint64())
	}
}

func TestHealthFactor_Overflow(t *testing.T) {
	_, err := fpmath.HealthFactor(fpmath.MaxUint256(), uint256.NewInt(1), fpmath.FromWhole(2), 150, 100)
	if !errors.Is(err, fpmath.ErrOverflow) {
		t.Errorf("expected ErrOverflow, got %v", err)
	}
}

func TestSeizeAmount_Scenario3(t *testing.T) {
	seize, err := fpmath.SeizeAmount(fpmath.FromWhole(10_000), fpmath.FromWhole(1300), 110, 100)
	if err != nil {
		t.Fatalf("SeizeAmount: %v", err)
	}
	want := uint256.MustFromDecimal("8461538461538461537")
	if !seize.Eq(want) {
		t.Errorf("seize: got %s, want %s", seize.Dec(), want.Dec())
	}

	remaining := new(uint256.Int).Sub(fpmath.FromWhole(10), seize)
	if remaining.Dec() != "1538461538461538463" {
		t.Errorf("remaining collateral: got %s", remaining.Dec())
	}
}

func TestSeizeAmount_ZeroPrice(t *testing.T) {
	_, err := fpmath.SeizeAmount(fpmath.FromWhole(1), uint256.NewInt(0), 110, 100)
	if !errors.Is(err, fpmath.ErrDivisionByZero) {
		t.Errorf("expected ErrDivisionByZero, got %v", err)
	}
}

func TestMulDivDown(t *testing.T) {
	got, err := fpmath.MulDivDown(uint256.NewInt(7), uint256.NewInt(3), uint256.NewInt(2))
	if err != nil {
		t.Fatalf("MulDivDown: %v", err)
	}
	if got.Uint64() != 10 {
		t.Errorf("got %d, want 10", got.Uint64())
	}
}

func TestCheckedSub_NeverWraps(t *testing.T) {
	if _, ok := fpmath.CheckedSub(uint256.NewInt(1), uint256.NewInt(2)); ok {
		t.Error("1 - 2 should be rejected")
	}
	diff, ok := fpmath.CheckedSub(uint256.NewInt(5), uint256.NewInt(5))
	if !ok || !diff.IsZero() {
		t.Errorf("5 - 5: got %v ok=%v", diff, ok)
	}
}

func TestFormatWad(t *testing.T) {
	v := uint256.MustFromDecimal("1538461538461538463")
	if got := fpmath.FormatWad(v); got != "1.538461538461538463" {
		t.Errorf("got %s", got)
	}
	if got := fpmath.FormatWad(fpmath.FromWhole(2000)); got != "2000" {
		t.Errorf("got %s", got)
	}
}

func TestParseAmount(t *testing.T) {
	v, err := fpmath.ParseAmount("10000000000000000000")
	if err != nil {
		t.Fatalf("ParseAmount: %v", err)
	}
	if !v.Eq(fpmath.FromWhole(10)) {
		t.Errorf("got %s", v.Dec())
	}
	if _, err := fpmath.ParseAmount("-1"); err == nil {
		t.Error("negative amount should fail")
	}
	if _, err := fpmath.ParseAmount(""); err == nil {
		t.Error("empty amount should fail")
	}
}
