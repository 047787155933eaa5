package ingestion

import (
	"LendLedger/internal/core"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// commandJSON is the wire format published on lend.commands.<op>.
// Amounts are base-10 integer strings in smallest units.
type commandJSON struct {
	CommandID   string `json:"command_id"`
	Op          string `json:"op"`
	Account     string `json:"account"`
	Amount      string `json:"amount"`
	Target      string `json:"target"`
	DebtToCover string `json:"debt_to_cover"`
	Price       string `json:"price"`
}

// ParseCommand decodes a command delivered on subject. When the body has no
// op, the last subject token names it.
func ParseCommand(subject string, data []byte) (core.Command, error) {
	var j commandJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return core.Command{}, fmt.Errorf("parse command: %w", err)
	}

	if j.CommandID == "" {
		return core.Command{}, errors.New("parse command: command_id is required")
	}

	opName := j.Op
	if opName == "" {
		opName = subjectOp(subject)
	}
	op, ok := core.ParseOp(opName)
	if !ok {
		return core.Command{}, fmt.Errorf("parse command %s: unknown op %q", j.CommandID, opName)
	}

	account, err := parseAddress("account", j.Account)
	if err != nil {
		return core.Command{}, fmt.Errorf("parse command %s: %w", j.CommandID, err)
	}

	cmd := core.Command{ID: j.CommandID, Op: op, Account: account}

	amountField, amountText := "amount", j.Amount
	switch op {
	case core.OpLiquidate:
		if cmd.Target, err = parseAddress("target", j.Target); err != nil {
			return core.Command{}, fmt.Errorf("parse command %s: %w", j.CommandID, err)
		}
		if j.DebtToCover != "" {
			amountField, amountText = "debt_to_cover", j.DebtToCover
		}
	case core.OpSetPrice:
		if j.Price != "" {
			amountField, amountText = "price", j.Price
		}
	}

	if cmd.Amount, err = parseAmount(amountField, amountText); err != nil {
		return core.Command{}, fmt.Errorf("parse command %s: %w", j.CommandID, err)
	}
	return cmd, nil
}

// subjectOp returns the token after "lend.commands.".
func subjectOp(subject string) string {
	rest, ok := strings.CutPrefix(subject, "lend.commands.")
	if !ok {
		return ""
	}
	op, _, _ := strings.Cut(rest, ".")
	return op
}

func parseAddress(field, s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("%s: invalid address %q", field, s)
	}
	return common.HexToAddress(s), nil
}

func parseAmount(field, s string) (*uint256.Int, error) {
	if s == "" {
		return nil, fmt.Errorf("%s: required", field)
	}
	v, err := uint256.FromDecimal(s)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", field, err)
	}
	return v, nil
}
