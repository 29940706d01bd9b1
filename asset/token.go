// Package asset holds the value types the engine computes with: tokens
// identified by chain and contract address, and monetary amounts expressed
// as arbitrary-precision integers in a token's base units. Decimal strings
// exist only at the presentation boundary.
package asset

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/ittarek/swap-engine/swaperr"
)

// Token identifies a fungible ERC-20 asset on one chain. Immutable once
// constructed.
type Token struct {
	ChainID  int64
	Address  common.Address
	Symbol   string
	Decimals uint8
}

func NewToken(chainID int64, address, symbol string, decimals uint8) (Token, error) {
	if chainID <= 0 {
		return Token{}, swaperr.New(swaperr.CodeValidation, "token chain id must be positive")
	}
	if !common.IsHexAddress(address) {
		return Token{}, swaperr.New(swaperr.CodeValidation, fmt.Sprintf("invalid token contract address %q", address))
	}
	symbol = strings.TrimSpace(symbol)
	if symbol == "" {
		return Token{}, swaperr.New(swaperr.CodeValidation, "token symbol is required")
	}
	return Token{
		ChainID:  chainID,
		Address:  common.HexToAddress(address),
		Symbol:   symbol,
		Decimals: decimals,
	}, nil
}

// Equal treats chain id plus contract address as identity; symbol and
// decimals are display metadata.
func (t Token) Equal(other Token) bool {
	return t.ChainID == other.ChainID && t.Address == other.Address
}

func (t Token) IsZero() bool {
	return t == Token{}
}

func (t Token) String() string {
	return fmt.Sprintf("%s@%d", t.Symbol, t.ChainID)
}
