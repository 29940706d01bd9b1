package quote

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/ittarek/swap-engine/asset"
	"github.com/ittarek/swap-engine/chain"
	"github.com/ittarek/swap-engine/registry"
	"github.com/ittarek/swap-engine/swaperr"
)

// feeTiers are the pool fee levels scanned per quote, in hundredths of a bip.
var feeTiers = []uint32{100, 500, 3000, 10000}

// probeShift sizes the spot-price probe at amountIn/1024.
const probeShift = 10

type quoteExactInputSingleParams struct {
	TokenIn           common.Address `abi:"tokenIn"`
	TokenOut          common.Address `abi:"tokenOut"`
	AmountIn          *big.Int       `abi:"amountIn"`
	Fee               *big.Int       `abi:"fee"`
	SqrtPriceLimitX96 *big.Int       `abi:"sqrtPriceLimitX96"`
}

// UniswapSource quotes through a Uniswap V3 QuoterV2 contract, scanning the
// standard fee tiers and keeping the one with the highest output.
type UniswapSource struct {
	reader chain.Reader
	quoter common.Address
	log    *zap.Logger
}

// NewUniswapSource builds a source against one chain's quoter contract.
func NewUniswapSource(reader chain.Reader, quoter common.Address, log *zap.Logger) *UniswapSource {
	if log == nil {
		log = zap.NewNop()
	}
	return &UniswapSource{reader: reader, quoter: quoter, log: log.Named("uniswap")}
}

type tierQuote struct {
	out *big.Int
	gas *big.Int
	fee uint32
}

// Quote scans the fee tiers for the best output and probes a small notional
// at the winning tier to estimate the pair's spot price for impact.
func (s *UniswapSource) Quote(ctx context.Context, tokenIn, tokenOut asset.Token, amountIn *big.Int) (SourceResult, error) {
	best, err := s.bestTier(ctx, tokenIn.Address, tokenOut.Address, amountIn)
	if err != nil {
		return SourceResult{}, err
	}
	return SourceResult{
		AmountOut:    best.out,
		ReferenceOut: s.referenceOut(ctx, tokenIn.Address, tokenOut.Address, amountIn, best.fee),
		FeeTier:      best.fee,
		Route:        fmt.Sprintf("uniswap-v3-fee-%d", best.fee),
		GasEstimate:  best.gas,
	}, nil
}

func (s *UniswapSource) bestTier(ctx context.Context, tokenIn, tokenOut common.Address, amountIn *big.Int) (tierQuote, error) {
	var best tierQuote
	for _, fee := range feeTiers {
		out, gas, err := s.quoteTier(ctx, tokenIn, tokenOut, amountIn, fee)
		if err != nil {
			// A missing pool reverts; anything transient means the chain
			// itself is unreachable and scanning further tiers would lie.
			if swaperr.Transient(swaperr.CodeOf(err)) || ctx.Err() != nil {
				return tierQuote{}, err
			}
			s.log.Debug("fee tier unavailable", zap.Uint32("fee", fee), zap.Error(err))
			continue
		}
		if out.Sign() <= 0 {
			continue
		}
		if best.out == nil || out.Cmp(best.out) > 0 || (out.Cmp(best.out) == 0 && gas.Cmp(best.gas) < 0) {
			best = tierQuote{out: out, gas: gas, fee: fee}
		}
	}
	if best.out == nil {
		return tierQuote{}, swaperr.New(swaperr.CodeNoLiquidityPath, "no liquidity path for token pair")
	}
	return best, nil
}

func (s *UniswapSource) quoteTier(ctx context.Context, tokenIn, tokenOut common.Address, amountIn *big.Int, fee uint32) (*big.Int, *big.Int, error) {
	callData, err := registry.QuoterABI.Pack("quoteExactInputSingle", quoteExactInputSingleParams{
		TokenIn:           tokenIn,
		TokenOut:          tokenOut,
		AmountIn:          amountIn,
		Fee:               big.NewInt(int64(fee)),
		SqrtPriceLimitX96: new(big.Int),
	})
	if err != nil {
		return nil, nil, swaperr.Wrap(swaperr.CodeUnknown, "pack quoter calldata", err)
	}
	raw, err := s.reader.Call(ctx, s.quoter, callData)
	if err != nil {
		return nil, nil, err
	}
	decoded, err := registry.QuoterABI.Unpack("quoteExactInputSingle", raw)
	if err != nil || len(decoded) < 4 {
		return nil, nil, swaperr.Wrap(swaperr.CodeUnknown, "decode quoter output", err)
	}
	amountOut, ok := decoded[0].(*big.Int)
	if !ok || amountOut == nil {
		return nil, nil, swaperr.New(swaperr.CodeUnknown, "quoter returned malformed output amount")
	}
	gasEstimate, ok := decoded[3].(*big.Int)
	if !ok || gasEstimate == nil {
		gasEstimate = new(big.Int)
	}
	return amountOut, gasEstimate, nil
}

// referenceOut quotes a small probe at the chosen tier and scales it to
// amountIn, approximating the output at spot price. Probe failures degrade
// to a nil reference rather than failing the quote.
func (s *UniswapSource) referenceOut(ctx context.Context, tokenIn, tokenOut common.Address, amountIn *big.Int, fee uint32) *big.Int {
	probeIn := new(big.Int).Rsh(amountIn, probeShift)
	if probeIn.Sign() == 0 {
		probeIn = big.NewInt(1)
	}
	if probeIn.Cmp(amountIn) == 0 {
		return nil
	}
	probeOut, _, err := s.quoteTier(ctx, tokenIn, tokenOut, probeIn, fee)
	if err != nil || probeOut.Sign() <= 0 {
		s.log.Debug("spot probe unavailable", zap.Uint32("fee", fee), zap.Error(err))
		return nil
	}
	ref := new(big.Int).Mul(probeOut, amountIn)
	return ref.Div(ref, probeIn)
}
