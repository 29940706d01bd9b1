package quote

import (
	"context"
	"errors"
	"math/big"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/ittarek/swap-engine/asset"
	"github.com/ittarek/swap-engine/swaperr"
)

// ErrSuperseded reports that a newer id was reserved while this request was
// debouncing or in flight. Callers drop the result without surfacing an
// error to the holder.
var ErrSuperseded = errors.New("quote request superseded by a newer one")

const (
	// DefaultDebounce delays the fetch so rapid input edits coalesce into
	// one upstream call.
	DefaultDebounce = 500 * time.Millisecond
	// DefaultTimeout bounds a single quote fetch.
	DefaultTimeout = 10 * time.Second
)

// Options tunes the engine. Zero values fall back to the defaults.
type Options struct {
	Debounce time.Duration
	Timeout  time.Duration
}

func (o Options) normalized() Options {
	if o.Debounce == 0 {
		o.Debounce = DefaultDebounce
	}
	if o.Timeout == 0 {
		o.Timeout = DefaultTimeout
	}
	return o
}

// Engine serializes quote intent: Reserve hands out monotonically increasing
// ids, Request waits out the debounce window under one of them, and any
// request holding less than the newest reserved id is dropped.
type Engine struct {
	source Source
	opts   Options
	log    *zap.Logger
	now    func() time.Time

	latest atomic.Uint64
}

// New builds an engine over a source. A nil logger disables logging.
func New(source Source, opts Options, log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{
		source: source,
		opts:   opts.normalized(),
		log:    log.Named("quote"),
		now:    time.Now,
	}
}

// Reserve claims the next request id. Reservation, not Request scheduling,
// decides which request is newest: callers serialize Reserve with their own
// request bookkeeping so that a replaced request always holds a lower id
// than its replacement, no matter when the two goroutines run.
func (e *Engine) Reserve() uint64 {
	return e.latest.Add(1)
}

// Request fetches a quote for amountIn of tokenIn against tokenOut under a
// previously reserved id. It returns ErrSuperseded when a newer id was
// reserved before this request completed; both success and failure of a
// superseded request are discarded.
func (e *Engine) Request(ctx context.Context, id uint64, tokenIn, tokenOut asset.Token, amountIn *big.Int) (Quote, error) {
	if amountIn == nil || amountIn.Sign() <= 0 {
		return Quote{}, swaperr.New(swaperr.CodeValidation, "quote amount must be positive")
	}
	if tokenIn.ChainID != tokenOut.ChainID {
		return Quote{}, swaperr.New(swaperr.CodeValidation, "token pair spans different chains")
	}
	if tokenIn.Equal(tokenOut) {
		return Quote{}, swaperr.New(swaperr.CodeValidation, "token pair must use distinct tokens")
	}

	timer := time.NewTimer(e.opts.Debounce)
	select {
	case <-ctx.Done():
		timer.Stop()
		if errors.Is(ctx.Err(), context.Canceled) {
			return Quote{}, ctx.Err()
		}
		return Quote{}, swaperr.Classify(ctx.Err())
	case <-timer.C:
	}
	if e.latest.Load() != id {
		return Quote{}, ErrSuperseded
	}

	fetchCtx, cancel := context.WithTimeout(ctx, e.opts.Timeout)
	defer cancel()
	res, err := e.source.Quote(fetchCtx, tokenIn, tokenOut, amountIn)

	// Supersession wins over whatever the source returned.
	if e.latest.Load() != id {
		return Quote{}, ErrSuperseded
	}
	if err != nil {
		// Deliberate cancellation stays transparent to the caller.
		if errors.Is(err, context.Canceled) {
			return Quote{}, err
		}
		return Quote{}, swaperr.Classify(err)
	}

	q := Quote{
		RequestID:      id,
		TokenIn:        tokenIn,
		TokenOut:       tokenOut,
		AmountIn:       new(big.Int).Set(amountIn),
		AmountOut:      res.AmountOut,
		PriceImpactBps: asset.ImpactBps(res.ReferenceOut, res.AmountOut),
		FeeTier:        res.FeeTier,
		Route:          res.Route,
		GasEstimate:    res.GasEstimate,
		FetchedAt:      e.now().UTC(),
	}
	e.log.Debug("quote fetched",
		zap.Uint64("request_id", id),
		zap.Stringer("amount_out", q.AmountOut),
		zap.Int64("price_impact_bps", q.PriceImpactBps),
		zap.String("route", q.Route))
	return q, nil
}
