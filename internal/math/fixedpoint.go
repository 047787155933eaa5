// internal/math/fixedpoint.go
package math

import (
	"errors"

	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
)

// DecimalConfig defines fixed-point precision
type DecimalConfig struct {
	DecimalPrecision int32        // Number of decimal places
	Scale            *uint256.Int // 10^DecimalPrecision
}

var (
	// WadConfig is the 18-decimal scale shared by prices, collateral and debt.
	WadConfig = DecimalConfig{DecimalPrecision: 18, Scale: uint256.NewInt(1_000_000_000_000_000_000)}

	// Wad is 1e18.
	Wad = WadConfig.Scale
)

// ErrOverflow is returned when an intermediate product does not fit in 256 bits.
var ErrOverflow = errors.New("fixed-point overflow")

// ErrDivisionByZero is returned for a zero denominator.
var ErrDivisionByZero = errors.New("fixed-point division by zero")

// MaxUint256 returns a fresh copy of 2^256-1.
func MaxUint256() *uint256.Int {
	return new(uint256.Int).SetAllOne()
}

// IsMax reports whether v is the 2^256-1 sentinel.
func IsMax(v *uint256.Int) bool {
	return v.Eq(MaxUint256())
}

// MulDivDown computes floor(a * b / d) with a checked 256-bit product.
// The product is evaluated before the division so the rounding matches
// the reference integer semantics exactly.
func MulDivDown(a, b, d *uint256.Int) (*uint256.Int, error) {
	if d.IsZero() {
		return nil, ErrDivisionByZero
	}
	product, overflow := new(uint256.Int).MulOverflow(a, b)
	if overflow {
		return nil, ErrOverflow
	}
	return product.Div(product, d), nil
}

// CheckedAdd returns a + b or ErrOverflow.
func CheckedAdd(a, b *uint256.Int) (*uint256.Int, error) {
	sum, overflow := new(uint256.Int).AddOverflow(a, b)
	if overflow {
		return nil, ErrOverflow
	}
	return sum, nil
}

// CheckedSub returns a - b, and false when b > a (never wraps).
func CheckedSub(a, b *uint256.Int) (*uint256.Int, bool) {
	if a.Lt(b) {
		return nil, false
	}
	return new(uint256.Int).Sub(a, b), true
}

// FromUint64 is a convenience constructor used by config and tests.
func FromUint64(v uint64) *uint256.Int {
	return uint256.NewInt(v)
}

// FromWhole scales a whole-unit amount to 18 decimals (e.g. 2000 -> 2000e18).
func FromWhole(units uint64) *uint256.Int {
	return new(uint256.Int).Mul(uint256.NewInt(units), Wad)
}

// ParseAmount parses a base-10 integer string in smallest units.
func ParseAmount(s string) (*uint256.Int, error) {
	if s == "" {
		return nil, errors.New("empty amount")
	}
	return uint256.FromDecimal(s)
}

// ToDecimal renders a smallest-unit amount as a human-readable decimal.
func ToDecimal(v *uint256.Int, cfg DecimalConfig) decimal.Decimal {
	if v == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(v.ToBig(), -cfg.DecimalPrecision)
}

// FormatWad renders an 18-decimal amount, e.g. "1.538461538461538463".
func FormatWad(v *uint256.Int) string {
	return ToDecimal(v, WadConfig).String()
}
