package query

import (
	"time"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
)

// PositionView is an account's position for API queries. Integer fields are
// 18-decimal smallest units; *Decimal fields are the same values in whole
// units.
type PositionView struct {
	Account           string          `json:"account"`
	Collateral        *uint256.Int    `json:"collateral"`
	Debt              *uint256.Int    `json:"debt"`
	CollateralDecimal decimal.Decimal `json:"collateral_decimal"`
	DebtDecimal       decimal.Decimal `json:"debt_decimal"`
	CollateralValue   decimal.Decimal `json:"collateral_value"` // in quote at the current price
	HealthFactor      *uint256.Int    `json:"health_factor"`    // precision units, 100 = 1.0
	HealthUnbounded   bool            `json:"health_unbounded"` // no debt
	Liquidatable      bool            `json:"liquidatable"`
	State             string          `json:"state"`
	Version           int64           `json:"version"`
	AsOfSequence      int64           `json:"as_of_sequence"`
}

// HealthView is the health factor of one account.
type HealthView struct {
	Account         string       `json:"account"`
	HealthFactor    *uint256.Int `json:"health_factor"`
	HealthUnbounded bool         `json:"health_unbounded"`
	Liquidatable    bool         `json:"liquidatable"`
	AsOfSequence    int64        `json:"as_of_sequence"`
}

// TokenBalance is one asset holding plus the allowance granted to the ledger.
type TokenBalance struct {
	Asset           string          `json:"asset"`
	Symbol          string          `json:"symbol"`
	Balance         *uint256.Int    `json:"balance"`
	BalanceDecimal  decimal.Decimal `json:"balance_decimal"`
	LedgerAllowance *uint256.Int    `json:"ledger_allowance"`
}

type BalancesView struct {
	Account string       `json:"account"`
	Base    TokenBalance `json:"base"`
	Quote   TokenBalance `json:"quote"`
}

// QuoteView is a liquidation dry run. Seize and the post-state are present
// only when Executable is set.
type QuoteView struct {
	Target                string          `json:"target"`
	DebtToCover           *uint256.Int    `json:"debt_to_cover"`
	Price                 *uint256.Int    `json:"price"`
	HealthFactor          *uint256.Int    `json:"health_factor,omitempty"`
	Executable            bool            `json:"executable"`
	Reason                string          `json:"reason,omitempty"`
	ErrorKind             string          `json:"error_kind,omitempty"`
	CollateralValueOfDebt *uint256.Int    `json:"collateral_value_of_debt,omitempty"`
	Seize                 *uint256.Int    `json:"seize,omitempty"`
	SeizeDecimal          decimal.Decimal `json:"seize_decimal"`
	Bonus                 *uint256.Int    `json:"bonus,omitempty"`
	CollateralAfter       *uint256.Int    `json:"collateral_after,omitempty"`
	DebtAfter             *uint256.Int    `json:"debt_after,omitempty"`
}

type PriceView struct {
	Price        *uint256.Int    `json:"price"`
	PriceDecimal decimal.Decimal `json:"price_decimal"`
	Sequence     int64           `json:"sequence"` // ledger sequence of the last write, 0 for the boot price
	UpdatedBy    string          `json:"updated_by,omitempty"`
}

type StatsView struct {
	Positions        int             `json:"positions"`
	Liquidatable     int             `json:"liquidatable"`
	TotalCollateral  *uint256.Int    `json:"total_collateral"`
	TotalDebt        *uint256.Int    `json:"total_debt"`
	TotalDebtDecimal decimal.Decimal `json:"total_debt_decimal"`
	Price            *uint256.Int    `json:"price"`
	LedgerBase       *uint256.Int    `json:"ledger_base"`
	LedgerQuote      *uint256.Int    `json:"ledger_quote"`
	Sequence         int64           `json:"sequence"`
	StateHash        string          `json:"state_hash"`
}

// LiquidationRecord is one row of liquidation history.
type LiquidationRecord struct {
	EventID          uuid.UUID    `json:"event_id"`
	Sequence         int64        `json:"sequence"`
	Liquidator       string       `json:"liquidator"`
	Target           string       `json:"target"`
	DebtCovered      *uint256.Int `json:"debt_covered"`
	CollateralSeized *uint256.Int `json:"collateral_seized"`
	Price            *uint256.Int `json:"price"`
	HealthFactor     *uint256.Int `json:"health_factor"`
	Timestamp        time.Time    `json:"timestamp"`
}

type LiquidationHistory struct {
	Liquidations []LiquidationRecord `json:"liquidations"`
	AsOfSequence int64               `json:"as_of_sequence"`
}
