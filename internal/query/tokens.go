package query

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// ErrFaucetDisabled is returned by Faucet unless minting was enabled.
var ErrFaucetDisabled = errors.New("faucet disabled")

// TokenService performs the wallet-side token actions that precede ledger
// calls: granting the ledger an allowance and, in test deployments, minting.
type TokenService struct {
	qs     *QueryService
	faucet bool
}

func NewTokenService(qs *QueryService, faucet bool) *TokenService {
	return &TokenService{qs: qs, faucet: faucet}
}

// Approve sets owner's allowance to the ledger for asset.
func (ts *TokenService) Approve(owner common.Address, asset string, amount *uint256.Int) (*BalancesView, error) {
	token, err := ts.qs.Token(asset)
	if err != nil {
		return nil, err
	}
	if err := token.Approve(owner, ts.qs.engine.LedgerAddress(), amount); err != nil {
		return nil, fmt.Errorf("approve %s: %w", token.Symbol(), err)
	}
	return ts.qs.GetBalances(owner), nil
}

// Faucet mints amount of asset to account.
func (ts *TokenService) Faucet(account common.Address, asset string, amount *uint256.Int) (*BalancesView, error) {
	if !ts.faucet {
		return nil, ErrFaucetDisabled
	}
	token, err := ts.qs.Token(asset)
	if err != nil {
		return nil, err
	}
	if err := token.Mint(account, amount); err != nil {
		return nil, fmt.Errorf("mint %s: %w", token.Symbol(), err)
	}
	return ts.qs.GetBalances(account), nil
}
