package asset

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/ittarek/swap-engine/swaperr"
)

// ParseBaseUnits parses a non-negative integer amount expressed in a
// token's smallest unit.
func ParseBaseUnits(v string) (*big.Int, error) {
	n, ok := new(big.Int).SetString(strings.TrimSpace(v), 10)
	if !ok {
		return nil, swaperr.New(swaperr.CodeValidation, fmt.Sprintf("amount %q is not an integer", v))
	}
	if n.Sign() < 0 {
		return nil, swaperr.New(swaperr.CodeValidation, "amount must be non-negative")
	}
	return n, nil
}

// ParseDecimal converts a display amount like "1.25" into base units. This
// is the only place a non-integer representation enters the engine.
func ParseDecimal(v string, decimals uint8) (*big.Int, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(v))
	if err != nil {
		return nil, swaperr.Wrap(swaperr.CodeValidation, fmt.Sprintf("amount %q is not a decimal number", v), err)
	}
	if d.IsNegative() {
		return nil, swaperr.New(swaperr.CodeValidation, "amount must be non-negative")
	}
	shifted := d.Shift(int32(decimals))
	if !shifted.Equal(shifted.Truncate(0)) {
		return nil, swaperr.New(swaperr.CodeValidation, fmt.Sprintf("amount precision exceeds token decimals (%d)", decimals))
	}
	return shifted.BigInt(), nil
}

// FormatBaseUnits renders base units as a display decimal string with
// trailing zeros trimmed. Formatting lives at this boundary so the engine
// never handles fractional values.
func FormatBaseUnits(v *big.Int, decimals uint8) string {
	if v == nil {
		return "0"
	}
	return decimal.NewFromBigInt(v, -int32(decimals)).String()
}
