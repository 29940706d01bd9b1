package asset

import (
	"math/big"

	"github.com/ittarek/swap-engine/swaperr"
)

// BpsDenominator is the basis-point scale: 10000 bps = 100%.
const BpsDenominator = 10_000

// ValidSlippageBps reports whether v lies in the closed [0, 10000] range.
func ValidSlippageBps(v int64) bool {
	return v >= 0 && v <= BpsDenominator
}

// MinOutput applies a slippage bound to a quoted output:
// quotedOut * (10000 - slippageBps) / 10000 with integer division.
// The result never exceeds quotedOut.
func MinOutput(quotedOut *big.Int, slippageBps int64) (*big.Int, error) {
	if quotedOut == nil || quotedOut.Sign() <= 0 {
		return nil, swaperr.New(swaperr.CodeValidation, "quoted output must be positive")
	}
	if !ValidSlippageBps(slippageBps) {
		return nil, swaperr.New(swaperr.CodeValidation, "slippage bps must be between 0 and 10000")
	}
	minOut := new(big.Int).Mul(quotedOut, big.NewInt(BpsDenominator-slippageBps))
	minOut.Div(minOut, big.NewInt(BpsDenominator))
	return minOut, nil
}

// ImpactBps returns how far execOut falls below refOut in basis points,
// clamped at zero when execution meets or beats the reference.
func ImpactBps(refOut, execOut *big.Int) int64 {
	if refOut == nil || execOut == nil || refOut.Sign() <= 0 {
		return 0
	}
	diff := new(big.Int).Sub(refOut, execOut)
	if diff.Sign() <= 0 {
		return 0
	}
	diff.Mul(diff, big.NewInt(BpsDenominator))
	diff.Div(diff, refOut)
	return diff.Int64()
}
