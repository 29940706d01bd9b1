package chain

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/ittarek/swap-engine/swaperr"
)

// Options tune the resilience stack around one RPC endpoint.
type Options struct {
	// MaxAttempts bounds retries of transient failures per call.
	MaxAttempts uint
	// RetryInitialInterval seeds the exponential backoff between attempts.
	RetryInitialInterval time.Duration
	// RequestsPerSecond enables client-side rate limiting when positive.
	RequestsPerSecond float64
	// Burst is the rate limiter bucket size; defaults to 1 when limited.
	Burst int
	// BreakerThreshold is the consecutive-failure count that opens the
	// circuit; BreakerCooldown is how long it stays open.
	BreakerThreshold uint32
	BreakerCooldown  time.Duration
}

func DefaultOptions() Options {
	return Options{
		MaxAttempts:          3,
		RetryInitialInterval: 500 * time.Millisecond,
		BreakerThreshold:     5,
		BreakerCooldown:      30 * time.Second,
	}
}

func (o Options) normalized() Options {
	if o.MaxAttempts == 0 {
		o.MaxAttempts = 3
	}
	if o.RetryInitialInterval <= 0 {
		o.RetryInitialInterval = 500 * time.Millisecond
	}
	if o.BreakerThreshold == 0 {
		o.BreakerThreshold = 5
	}
	if o.BreakerCooldown <= 0 {
		o.BreakerCooldown = 30 * time.Second
	}
	if o.RequestsPerSecond > 0 && o.Burst <= 0 {
		o.Burst = 1
	}
	return o
}

// Client implements Reader over an ethclient connection.
type Client struct {
	rpc     *ethclient.Client
	breaker *gobreaker.CircuitBreaker[any]
	limiter *rate.Limiter
	opts    Options
	log     *zap.Logger
}

// Dial connects to a JSON-RPC endpoint and wraps it with the resilience
// stack. Pass a nil logger to disable logging.
func Dial(ctx context.Context, endpoint string, opts Options, log *zap.Logger) (*Client, error) {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("chain")
	rpc, err := ethclient.DialContext(ctx, endpoint)
	if err != nil {
		return nil, swaperr.Wrap(swaperr.CodeNetworkUnavailable, "connect rpc endpoint", err)
	}
	opts = opts.normalized()

	var limiter *rate.Limiter
	if opts.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), opts.Burst)
	}
	breaker := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        endpoint,
		MaxRequests: 1,
		Timeout:     opts.BreakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= opts.BreakerThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("rpc circuit breaker state change",
				zap.String("endpoint", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
	})
	return &Client{rpc: rpc, breaker: breaker, limiter: limiter, opts: opts, log: log}, nil
}

func (c *Client) Close() {
	c.rpc.Close()
}

// Call executes a read-only contract call with retry on transient failures.
func (c *Client) Call(ctx context.Context, to common.Address, input []byte) ([]byte, error) {
	op := func() ([]byte, error) {
		out, err := c.guarded(ctx, func() (any, error) {
			return c.rpc.CallContract(ctx, ethereum.CallMsg{To: &to, Data: input}, nil)
		})
		if err != nil {
			return nil, retryable(err)
		}
		return out.([]byte), nil
	}
	out, err := backoff.Retry(ctx, op, c.retryOptions()...)
	if err != nil {
		c.log.Debug("eth_call failed", zap.Stringer("to", to), zap.Error(err))
		return nil, swaperr.Classify(err)
	}
	return out, nil
}

// ReceiptStatus looks up a transaction receipt. A missing receipt is not a
// failure: it reports TxStatusPending and must not trip the breaker.
func (c *Client) ReceiptStatus(ctx context.Context, hash common.Hash) (TxStatus, error) {
	op := func() (TxStatus, error) {
		out, err := c.guarded(ctx, func() (any, error) {
			receipt, err := c.rpc.TransactionReceipt(ctx, hash)
			if errors.Is(err, ethereum.NotFound) {
				return nil, nil
			}
			if err != nil {
				return nil, err
			}
			return receipt, nil
		})
		if err != nil {
			return "", retryable(err)
		}
		if out == nil {
			return TxStatusPending, nil
		}
		if out.(*types.Receipt).Status == types.ReceiptStatusSuccessful {
			return TxStatusConfirmed, nil
		}
		return TxStatusReverted, nil
	}
	status, err := backoff.Retry(ctx, op, c.retryOptions()...)
	if err != nil {
		c.log.Debug("receipt lookup failed", zap.Stringer("hash", hash), zap.Error(err))
		return "", swaperr.Classify(err)
	}
	return status, nil
}

func (c *Client) guarded(ctx context.Context, call func() (any, error)) (any, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}
	return c.breaker.Execute(call)
}

func (c *Client) retryOptions() []backoff.RetryOption {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.opts.RetryInitialInterval
	return []backoff.RetryOption{
		backoff.WithBackOff(bo),
		backoff.WithMaxTries(c.opts.MaxAttempts),
	}
}

// retryable marks terminal failures permanent so the backoff loop stops
// immediately; transient transport failures keep retrying.
func retryable(err error) error {
	classified := swaperr.Classify(err)
	if !swaperr.Transient(classified.Code) {
		return backoff.Permanent(classified)
	}
	return err
}
