package ledger

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// AccountScope represents the top-level account namespace
type AccountScope uint8

const (
	AccountScopeHolder AccountScope = iota
	AccountScopeExternal
)

// AssetID identifies one of the two fungible assets of the market
type AssetID uint16

const (
	AssetUnknown AssetID = iota
	AssetBase            // collateral asset
	AssetQuote           // borrowed asset
)

var (
	assetToID = map[string]AssetID{
		"base":  AssetBase,
		"quote": AssetQuote,
	}
	idToAsset = map[AssetID]string{
		AssetBase:  "base",
		AssetQuote: "quote",
	}
)

func GetAssetID(asset string) (AssetID, bool) {
	id, ok := assetToID[strings.ToLower(asset)]
	return id, ok
}

func GetAssetName(id AssetID) (string, bool) {
	name, ok := idToAsset[id]
	return name, ok
}

// AccountKey is the in-memory key for balance tracking
type AccountKey struct {
	Scope   AccountScope
	Holder  common.Address // zero for external accounts
	AssetID AssetID
}

// NewHolderAccountKey creates a key for an address holding the asset
func NewHolderAccountKey(holder common.Address, assetID AssetID) AccountKey {
	return AccountKey{
		Scope:   AccountScopeHolder,
		Holder:  holder,
		AssetID: assetID,
	}
}

// NewIssuanceAccountKey creates the external boundary account that mints are credited from
func NewIssuanceAccountKey(assetID AssetID) AccountKey {
	return AccountKey{
		Scope:   AccountScopeExternal,
		AssetID: assetID,
	}
}

// AccountPath returns the string representation for storage/logging
func (k AccountKey) AccountPath() string {
	assetName, _ := GetAssetName(k.AssetID)

	switch k.Scope {
	case AccountScopeHolder:
		return fmt.Sprintf("holder:%s:%s", strings.ToLower(k.Holder.Hex()), assetName)
	case AccountScopeExternal:
		return fmt.Sprintf("external:issuance:%s", assetName)
	}
	return "unknown"
}
