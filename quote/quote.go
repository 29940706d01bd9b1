// Package quote fetches exchange-rate quotes for token pairs, coalescing
// rapid input changes and discarding responses that arrive after a newer
// request has been reserved.
package quote

import (
	"context"
	"math/big"
	"time"

	"github.com/ittarek/swap-engine/asset"
)

// Quote is a point-in-time exchange estimate. RequestID orders quotes within
// one engine; a quote whose RequestID is below the engine's latest is stale.
type Quote struct {
	RequestID      uint64
	TokenIn        asset.Token
	TokenOut       asset.Token
	AmountIn       *big.Int
	AmountOut      *big.Int
	PriceImpactBps int64
	FeeTier        uint32
	Route          string
	GasEstimate    *big.Int
	FetchedAt      time.Time
}

// Source produces a raw quote for a token pair. Implementations return
// swaperr.CodeNoLiquidityPath when no route exists for the pair.
type Source interface {
	Quote(ctx context.Context, tokenIn, tokenOut asset.Token, amountIn *big.Int) (SourceResult, error)
}

// SourceResult is the source's view of one quote. ReferenceOut, when set, is
// the spot-price-scaled output used to derive price impact; sources that
// cannot probe it leave it nil and the impact reads as zero.
type SourceResult struct {
	AmountOut    *big.Int
	ReferenceOut *big.Int
	FeeTier      uint32
	Route        string
	GasEstimate  *big.Int
}
