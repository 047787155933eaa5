package ingestion_test

import (
	"LendLedger/internal/core"
	"LendLedger/internal/ingestion"
	"encoding/json"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

const (
	aliceHex = "0x00000000000000000000000000000000000A11CE"
	bobHex   = "0x0000000000000000000000000000000000000B0B"
)

func commandJSON(t *testing.T, v map[string]any) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return data
}

func TestParseCommand_PositionOps(t *testing.T) {
	for _, op := range []core.Op{core.OpDeposit, core.OpWithdraw, core.OpBorrow, core.OpRepay} {
		data := commandJSON(t, map[string]any{
			"command_id": "cmd-" + string(op),
			"op":         string(op),
			"account":    aliceHex,
			"amount":     "10000000000000000000",
		})

		cmd, err := ingestion.ParseCommand("lend.commands."+string(op), data)
		if err != nil {
			t.Fatalf("%s: parse failed: %v", op, err)
		}
		if cmd.Op != op {
			t.Errorf("op: got %s, want %s", cmd.Op, op)
		}
		if cmd.ID != "cmd-"+string(op) {
			t.Errorf("id: got %s", cmd.ID)
		}
		if cmd.Account != common.HexToAddress(aliceHex) {
			t.Errorf("account: got %s", cmd.Account.Hex())
		}
		if cmd.Amount.Dec() != "10000000000000000000" {
			t.Errorf("amount: got %s", cmd.Amount.Dec())
		}
		if err := cmd.Validate(); err != nil {
			t.Errorf("validate: %v", err)
		}
	}
}

func TestParseCommand_Liquidate(t *testing.T) {
	data := commandJSON(t, map[string]any{
		"command_id":    "liq-1",
		"op":            "liquidate",
		"account":       bobHex,
		"target":        aliceHex,
		"debt_to_cover": "10000000000000000000000",
	})

	cmd, err := ingestion.ParseCommand("lend.commands.liquidate", data)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if cmd.Account != common.HexToAddress(bobHex) {
		t.Errorf("liquidator: got %s", cmd.Account.Hex())
	}
	if cmd.Target != common.HexToAddress(aliceHex) {
		t.Errorf("target: got %s", cmd.Target.Hex())
	}
	if cmd.Amount.Dec() != "10000000000000000000000" {
		t.Errorf("debt_to_cover: got %s", cmd.Amount.Dec())
	}
}

func TestParseCommand_SetPriceFromSubject(t *testing.T) {
	data := commandJSON(t, map[string]any{
		"command_id": "px-1",
		"account":    aliceHex,
		"price":      "1300000000000000000000",
	})

	cmd, err := ingestion.ParseCommand("lend.commands.set_price", data)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if cmd.Op != core.OpSetPrice {
		t.Errorf("op: got %s, want set_price", cmd.Op)
	}
	if cmd.Amount.Dec() != "1300000000000000000000" {
		t.Errorf("price: got %s", cmd.Amount.Dec())
	}
}

func TestParseCommand_Errors(t *testing.T) {
	tests := []struct {
		name    string
		subject string
		body    string
		wantErr string
	}{
		{"not json", "lend.commands.deposit", `{`, "parse command"},
		{"missing id", "lend.commands.deposit", `{"account":"` + aliceHex + `","amount":"1"}`, "command_id"},
		{"unknown op", "lend.commands.mint", `{"command_id":"c","account":"` + aliceHex + `","amount":"1"}`, "unknown op"},
		{"bad account", "lend.commands.deposit", `{"command_id":"c","account":"alice","amount":"1"}`, "account"},
		{"missing amount", "lend.commands.deposit", `{"command_id":"c","account":"` + aliceHex + `"}`, "amount: required"},
		{"negative amount", "lend.commands.deposit", `{"command_id":"c","account":"` + aliceHex + `","amount":"-1"}`, "amount"},
		{"fractional amount", "lend.commands.deposit", `{"command_id":"c","account":"` + aliceHex + `","amount":"1.5"}`, "amount"},
		{"amount over 2^256", "lend.commands.deposit", `{"command_id":"c","account":"` + aliceHex + `","amount":"` + strings.Repeat("9", 80) + `"}`, "amount"},
		{"liquidate without target", "lend.commands.liquidate", `{"command_id":"c","account":"` + bobHex + `","debt_to_cover":"1"}`, "target"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ingestion.ParseCommand(tt.subject, []byte(tt.body))
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestParseCommand_ZeroAmountIsLeftToTheLedger(t *testing.T) {
	data := commandJSON(t, map[string]any{
		"command_id": "zero",
		"op":         "deposit",
		"account":    aliceHex,
		"amount":     "0",
	})
	cmd, err := ingestion.ParseCommand("lend.commands.deposit", data)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if !cmd.Amount.IsZero() {
		t.Errorf("amount: got %s, want 0", cmd.Amount.Dec())
	}
}
