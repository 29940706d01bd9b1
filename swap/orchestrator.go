package swap

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/ittarek/swap-engine/allowance"
	"github.com/ittarek/swap-engine/asset"
	"github.com/ittarek/swap-engine/chain"
	"github.com/ittarek/swap-engine/quote"
	"github.com/ittarek/swap-engine/registry"
	"github.com/ittarek/swap-engine/swaperr"
	"github.com/ittarek/swap-engine/wallet"
)

// DefaultSlippageBps bounds execution price movement when the holder sets no
// explicit tolerance.
const DefaultSlippageBps = 50

// Options tunes submission and confirmation tracking. Zero values fall back
// to the defaults.
type Options struct {
	// DeadlineWindow is embedded in exchange calldata; the chain rejects the
	// transaction if it is mined later than now + window.
	DeadlineWindow time.Duration
	// ConfirmInterval is the receipt polling cadence.
	ConfirmInterval time.Duration
	// ConfirmTimeout caps how long a submitted transaction is tracked before
	// the cycle fails with a timeout.
	ConfirmTimeout time.Duration
}

// DefaultOptions returns the production tuning.
func DefaultOptions() Options {
	return Options{
		DeadlineWindow:  20 * time.Minute,
		ConfirmInterval: 2 * time.Second,
		ConfirmTimeout:  5 * time.Minute,
	}
}

func (o Options) normalized() Options {
	def := DefaultOptions()
	if o.DeadlineWindow <= 0 {
		o.DeadlineWindow = def.DeadlineWindow
	}
	if o.ConfirmInterval <= 0 {
		o.ConfirmInterval = def.ConfirmInterval
	}
	if o.ConfirmTimeout <= 0 {
		o.ConfirmTimeout = def.ConfirmTimeout
	}
	return o
}

// State is the observable side of the orchestrator. Snapshot returns a deep
// copy, so holders can read it without racing the machine.
type State struct {
	Phase        Phase
	TokenIn      asset.Token
	TokenOut     asset.Token
	AmountIn     *big.Int
	SlippageBps  int64
	Quote        *quote.Quote
	Allowance    *allowance.Record
	Err          *swaperr.Error
	Transactions []TransactionRecord
}

func (s State) clone() State {
	out := s
	if s.AmountIn != nil {
		out.AmountIn = new(big.Int).Set(s.AmountIn)
	}
	if s.Quote != nil {
		q := *s.Quote
		if q.AmountIn != nil {
			q.AmountIn = new(big.Int).Set(q.AmountIn)
		}
		if q.AmountOut != nil {
			q.AmountOut = new(big.Int).Set(q.AmountOut)
		}
		if q.GasEstimate != nil {
			q.GasEstimate = new(big.Int).Set(q.GasEstimate)
		}
		out.Quote = &q
	}
	if s.Allowance != nil {
		rec := *s.Allowance
		if rec.Amount != nil {
			rec.Amount = new(big.Int).Set(rec.Amount)
		}
		out.Allowance = &rec
	}
	out.Transactions = append([]TransactionRecord(nil), s.Transactions...)
	return out
}

// Deps are the collaborators the orchestrator composes. All are required.
type Deps struct {
	Engine   *quote.Engine
	Monitor  *allowance.Monitor
	Session  wallet.Session
	Reader   chain.Reader
	Registry *registry.Registry
}

// Orchestrator drives one exchange intent through the phase machine. All
// exported methods are safe for concurrent use.
type Orchestrator struct {
	engine  *quote.Engine
	monitor *allowance.Monitor
	session wallet.Session
	reader  chain.Reader
	reg     *registry.Registry
	opts    Options
	log     *zap.Logger
	now     func() time.Time

	mu          sync.Mutex
	gen         uint64
	cycleCtx    context.Context
	cancelCycle context.CancelFunc
	router      common.Address
	state       State
}

// New wires an orchestrator and registers for wallet session changes. A nil
// logger disables logging.
func New(deps Deps, opts Options, log *zap.Logger) (*Orchestrator, error) {
	if deps.Engine == nil || deps.Monitor == nil || deps.Session == nil || deps.Reader == nil || deps.Registry == nil {
		return nil, swaperr.New(swaperr.CodeValidation, "orchestrator requires engine, monitor, session, reader, and registry")
	}
	if log == nil {
		log = zap.NewNop()
	}
	o := &Orchestrator{
		engine:  deps.Engine,
		monitor: deps.Monitor,
		session: deps.Session,
		reader:  deps.Reader,
		reg:     deps.Registry,
		opts:    opts.normalized(),
		log:     log.Named("swap"),
		now:     time.Now,
		state:   State{Phase: PhaseIdle, SlippageBps: DefaultSlippageBps},
	}
	deps.Session.OnChange(o.handleSessionChange)
	return o, nil
}

// Snapshot returns a read-only copy of the current state.
func (o *Orchestrator) Snapshot() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state.clone()
}

// SetTokenPair replaces the traded pair and restarts quoting. Both tokens
// must live on the session's active chain.
func (o *Orchestrator) SetTokenPair(tokenIn, tokenOut asset.Token) error {
	if tokenIn.IsZero() || tokenOut.IsZero() {
		return swaperr.New(swaperr.CodeValidation, "token pair must be fully specified")
	}
	if tokenIn.ChainID != tokenOut.ChainID {
		return swaperr.New(swaperr.CodeValidation, "token pair spans different chains")
	}
	if tokenIn.Equal(tokenOut) {
		return swaperr.New(swaperr.CodeValidation, "token pair must use distinct tokens")
	}
	if active := o.session.ChainID(); tokenIn.ChainID != active {
		return swaperr.New(swaperr.CodeValidation,
			fmt.Sprintf("token pair is on chain %d but the session is on chain %d", tokenIn.ChainID, active))
	}
	cfg, err := o.reg.Resolve(tokenIn.ChainID)
	if err != nil {
		return err
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state.Phase.Busy() {
		return errBusy()
	}
	o.state.TokenIn, o.state.TokenOut = tokenIn, tokenOut
	o.router = cfg.Router
	o.clearDerivedLocked()
	return o.beginQuoteLocked()
}

// SetAmountIn replaces the input amount in base units and restarts quoting.
func (o *Orchestrator) SetAmountIn(amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return swaperr.New(swaperr.CodeValidation, "input amount must be positive")
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state.Phase.Busy() {
		return errBusy()
	}
	o.state.AmountIn = new(big.Int).Set(amount)
	o.clearDerivedLocked()
	return o.beginQuoteLocked()
}

// SetSlippageBps replaces the slippage tolerance and restarts quoting.
func (o *Orchestrator) SetSlippageBps(bps int64) error {
	if !asset.ValidSlippageBps(bps) {
		return swaperr.New(swaperr.CodeValidation, "slippage must be between 0 and 10000 basis points")
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state.Phase.Busy() {
		return errBusy()
	}
	o.state.SlippageBps = bps
	o.clearDerivedLocked()
	return o.beginQuoteLocked()
}

// RefreshQuote re-runs the quote cycle for the current request.
func (o *Orchestrator) RefreshQuote() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state.Phase.Busy() {
		return errBusy()
	}
	if o.state.TokenIn.IsZero() || o.state.TokenOut.IsZero() || o.state.AmountIn == nil {
		return swaperr.New(swaperr.CodeValidation, "token pair and input amount must be set before quoting")
	}
	o.clearDerivedLocked()
	return o.beginQuoteLocked()
}

// Cancel abandons the current cycle. Nothing submitted leaves no residue; a
// transaction already broadcast keeps its record but is no longer tracked.
func (o *Orchestrator) Cancel() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.resetLocked(false)
	o.log.Debug("cycle cancelled")
}

// Approve submits an exact-amount spending authorization and blocks until it
// is confirmed and the refreshed allowance has been re-checked. Legal only
// in PhaseNeedsApproval.
func (o *Orchestrator) Approve(ctx context.Context) error {
	o.mu.Lock()
	if o.state.Phase != PhaseNeedsApproval {
		o.mu.Unlock()
		return swaperr.New(swaperr.CodeValidation, "approval is only legal in phase "+string(PhaseNeedsApproval))
	}
	owner, ok := o.session.Account()
	if !ok {
		o.mu.Unlock()
		return swaperr.New(swaperr.CodeValidation, "wallet session has no active account")
	}
	if err := o.setPhaseLocked(PhaseApproving); err != nil {
		o.mu.Unlock()
		return err
	}
	gen := o.gen
	cycleCtx := o.cycleCtx
	token := o.state.TokenIn
	amount := new(big.Int).Set(o.state.AmountIn)
	spender := o.router
	o.mu.Unlock()

	ctx, cancel := joinCancel(ctx, cycleCtx)
	defer cancel()

	data, err := registry.ERC20ABI.Pack("approve", spender, amount)
	if err != nil {
		serr := swaperr.Wrap(swaperr.CodeUnknown, "pack approve calldata", err)
		o.failLeg(gen, serr)
		return serr
	}
	o.log.Info("submitting authorization",
		zap.String("token", token.String()),
		zap.Stringer("spender", spender),
		zap.Stringer("amount", amount))
	hash, err := o.session.SignAndSend(ctx, wallet.TxRequest{To: token.Address, Data: data})
	if err != nil {
		return o.legFailure(gen, err, PhaseNeedsApproval)
	}
	o.recordTx(gen, TransactionRecord{
		Hash:        hash,
		Kind:        TxKindApproval,
		SubmittedAt: o.now().UTC(),
		Status:      chain.TxStatusPending,
	})

	status, err := o.awaitReceipt(ctx, hash)
	if err != nil {
		return o.legFailure(gen, err, PhaseIdle)
	}
	if status == chain.TxStatusReverted {
		o.finishTx(gen, hash, chain.TxStatusReverted)
		serr := swaperr.New(swaperr.CodeReverted, "authorization transaction reverted")
		o.failLeg(gen, serr)
		return serr
	}
	o.finishTx(gen, hash, chain.TxStatusConfirmed)

	// The cached record predates the approval; the re-check must not join a
	// read that was already in flight.
	o.monitor.Invalidate(owner, spender, token)
	sufficient, rec, err := o.monitor.IsSufficient(ctx, owner, spender, token, amount)
	if err != nil {
		return o.legFailure(gen, err, PhaseIdle)
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if gen != o.gen {
		return nil
	}
	o.state.Allowance = &rec
	next := PhaseReadyToSwap
	if !sufficient {
		next = PhaseNeedsApproval
	}
	return o.setPhaseLocked(next)
}

// ExecuteSwap re-verifies the allowance, submits the bounded-slippage
// exchange, and blocks until the chain settles it. Legal only in
// PhaseReadyToSwap.
func (o *Orchestrator) ExecuteSwap(ctx context.Context) error {
	o.mu.Lock()
	if o.state.Phase != PhaseReadyToSwap {
		o.mu.Unlock()
		return swaperr.New(swaperr.CodeValidation, "swap execution is only legal in phase "+string(PhaseReadyToSwap))
	}
	owner, ok := o.session.Account()
	if !ok {
		o.mu.Unlock()
		return swaperr.New(swaperr.CodeValidation, "wallet session has no active account")
	}
	if o.state.Quote == nil || o.state.Quote.AmountOut == nil {
		o.mu.Unlock()
		return swaperr.New(swaperr.CodeValidation, "no quote held for the current request")
	}
	if err := o.setPhaseLocked(PhaseSwapping); err != nil {
		o.mu.Unlock()
		return err
	}
	gen := o.gen
	cycleCtx := o.cycleCtx
	tokenIn, tokenOut := o.state.TokenIn, o.state.TokenOut
	amount := new(big.Int).Set(o.state.AmountIn)
	quoted := new(big.Int).Set(o.state.Quote.AmountOut)
	feeTier := o.state.Quote.FeeTier
	slippage := o.state.SlippageBps
	router := o.router
	o.mu.Unlock()

	ctx, cancel := joinCancel(ctx, cycleCtx)
	defer cancel()

	// Fresh read immediately before submission; the phase machine owns the
	// fallback to NeedsApproval when authorization no longer covers amount.
	sufficient, rec, err := o.monitor.IsSufficient(ctx, owner, router, tokenIn, amount)
	if err != nil {
		return o.legFailure(gen, err, PhaseReadyToSwap)
	}
	if !sufficient {
		o.mu.Lock()
		if gen == o.gen {
			o.state.Allowance = &rec
			_ = o.setPhaseLocked(PhaseNeedsApproval)
		}
		o.mu.Unlock()
		return swaperr.New(swaperr.CodeInsufficientAllowance, "authorization no longer covers the input amount")
	}

	minOut, err := asset.MinOutput(quoted, slippage)
	if err != nil {
		serr := swaperr.Classify(err)
		o.failLeg(gen, serr)
		return serr
	}
	deadline := big.NewInt(o.now().Add(o.opts.DeadlineWindow).Unix())
	data, err := registry.RouterABI.Pack("exactInputSingle", exactInputSingleParams{
		TokenIn:           tokenIn.Address,
		TokenOut:          tokenOut.Address,
		Fee:               big.NewInt(int64(feeTier)),
		Recipient:         owner,
		Deadline:          deadline,
		AmountIn:          amount,
		AmountOutMinimum:  minOut,
		SqrtPriceLimitX96: new(big.Int),
	})
	if err != nil {
		serr := swaperr.Wrap(swaperr.CodeUnknown, "pack swap calldata", err)
		o.failLeg(gen, serr)
		return serr
	}
	o.log.Info("submitting exchange",
		zap.String("token_in", tokenIn.String()),
		zap.String("token_out", tokenOut.String()),
		zap.Stringer("amount_in", amount),
		zap.Stringer("min_out", minOut),
		zap.Stringer("deadline", deadline))
	hash, err := o.session.SignAndSend(ctx, wallet.TxRequest{To: router, Data: data})
	if err != nil {
		return o.legFailure(gen, err, PhaseReadyToSwap)
	}
	o.recordTx(gen, TransactionRecord{
		Hash:        hash,
		Kind:        TxKindSwap,
		SubmittedAt: o.now().UTC(),
		Status:      chain.TxStatusPending,
	})

	status, err := o.awaitReceipt(ctx, hash)
	if err != nil {
		return o.legFailure(gen, err, PhaseIdle)
	}
	if status == chain.TxStatusReverted {
		o.finishTx(gen, hash, chain.TxStatusReverted)
		serr := swaperr.New(swaperr.CodeReverted, "exchange transaction reverted")
		o.failLeg(gen, serr)
		return serr
	}
	o.finishTx(gen, hash, chain.TxStatusConfirmed)
	o.monitor.Invalidate(owner, router, tokenIn)

	o.mu.Lock()
	defer o.mu.Unlock()
	if gen != o.gen {
		return nil
	}
	return o.setPhaseLocked(PhaseConfirmed)
}

// beginQuoteLocked starts a quote cycle when the request is complete. It is
// a no-op while the token pair or amount is still unset.
func (o *Orchestrator) beginQuoteLocked() error {
	if o.state.TokenIn.IsZero() || o.state.TokenOut.IsZero() || o.state.AmountIn == nil {
		return nil
	}
	owner, ok := o.session.Account()
	if !ok {
		return swaperr.New(swaperr.CodeValidation, "wallet session has no active account")
	}
	if err := o.setPhaseLocked(PhaseQuoting); err != nil {
		return err
	}
	gen, ctx := o.newCycleLocked()
	// Reserved under the lock so a leg from a cancelled cycle always holds
	// a lower id than the live one, whatever order the goroutines run in.
	id := o.engine.Reserve()
	tokenIn, tokenOut := o.state.TokenIn, o.state.TokenOut
	amount := new(big.Int).Set(o.state.AmountIn)
	spender := o.router
	go o.quoteLeg(ctx, gen, id, owner, spender, tokenIn, tokenOut, amount)
	return nil
}

func (o *Orchestrator) quoteLeg(ctx context.Context, gen, id uint64, owner, spender common.Address, tokenIn, tokenOut asset.Token, amountIn *big.Int) {
	q, err := o.engine.Request(ctx, id, tokenIn, tokenOut, amountIn)
	if err != nil {
		if errors.Is(err, quote.ErrSuperseded) || errors.Is(err, context.Canceled) {
			return
		}
		o.failLeg(gen, swaperr.Classify(err))
		return
	}
	sufficient, rec, err := o.monitor.IsSufficient(ctx, owner, spender, tokenIn, amountIn)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		o.failLeg(gen, swaperr.Classify(err))
		return
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if gen != o.gen {
		return
	}
	o.state.Quote = &q
	o.state.Allowance = &rec
	o.state.Err = nil
	next := PhaseReadyToSwap
	if !sufficient {
		next = PhaseNeedsApproval
	}
	if err := o.setPhaseLocked(next); err != nil {
		o.log.Error("quote result could not be applied", zap.Error(err))
	}
}

// awaitReceipt polls until the transaction settles or the ceiling passes.
// Poll failures are tolerated; the endpoint may recover within the window.
func (o *Orchestrator) awaitReceipt(ctx context.Context, hash common.Hash) (chain.TxStatus, error) {
	ctx, cancel := context.WithTimeout(ctx, o.opts.ConfirmTimeout)
	defer cancel()
	ticker := time.NewTicker(o.opts.ConfirmInterval)
	defer ticker.Stop()
	for {
		status, err := o.reader.ReceiptStatus(ctx, hash)
		if err == nil && status != chain.TxStatusPending {
			return status, nil
		}
		if err != nil && ctx.Err() == nil {
			o.log.Debug("receipt poll failed", zap.Stringer("hash", hash), zap.Error(err))
		}
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return chain.TxStatusPending, swaperr.Wrap(swaperr.CodeTimeout, "confirmation polling timed out", ctx.Err())
			}
			return chain.TxStatusPending, ctx.Err()
		case <-ticker.C:
		}
	}
}

// legFailure applies a leg's terminal error under the generation guard.
// Plain cancellation abandons to the given phase instead of failing: the
// holder walked away, nothing broke.
func (o *Orchestrator) legFailure(gen uint64, err error, abandonTo Phase) error {
	if errors.Is(err, context.Canceled) {
		o.mu.Lock()
		defer o.mu.Unlock()
		if gen == o.gen && o.state.Phase != abandonTo {
			_ = o.setPhaseLocked(abandonTo)
		}
		return err
	}
	serr := swaperr.Classify(err)
	o.failLeg(gen, serr)
	return serr
}

func (o *Orchestrator) failLeg(gen uint64, serr *swaperr.Error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if gen != o.gen {
		return
	}
	o.state.Err = serr
	if err := o.setPhaseLocked(PhaseFailed); err != nil {
		o.log.Error("failure could not be applied", zap.Error(err))
		return
	}
	o.log.Warn("cycle failed", zap.String("code", string(serr.Code)), zap.Error(serr))
}

func (o *Orchestrator) recordTx(gen uint64, rec TransactionRecord) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if gen != o.gen {
		// Reset raced the broadcast; the chain has the transaction but the
		// request it belonged to is gone.
		o.log.Warn("transaction submitted after cycle reset", zap.Stringer("hash", rec.Hash))
		return
	}
	o.state.Transactions = append(o.state.Transactions, rec)
}

func (o *Orchestrator) finishTx(gen uint64, hash common.Hash, status chain.TxStatus) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if gen != o.gen {
		return
	}
	for i := range o.state.Transactions {
		if o.state.Transactions[i].Hash == hash {
			o.state.Transactions[i].Status = status
			o.state.Transactions[i].SettledAt = o.now().UTC()
			return
		}
	}
}

func (o *Orchestrator) setPhaseLocked(next Phase) error {
	if !o.state.Phase.CanTransition(next) {
		return swaperr.New(swaperr.CodeValidation,
			fmt.Sprintf("illegal phase transition %s to %s", o.state.Phase, next))
	}
	o.log.Debug("phase transition",
		zap.String("from", string(o.state.Phase)),
		zap.String("to", string(next)))
	o.state.Phase = next
	return nil
}

func (o *Orchestrator) newCycleLocked() (uint64, context.Context) {
	if o.cancelCycle != nil {
		o.cancelCycle()
	}
	ctx, cancel := context.WithCancel(context.Background())
	o.cycleCtx, o.cancelCycle = ctx, cancel
	o.gen++
	return o.gen, ctx
}

func (o *Orchestrator) clearDerivedLocked() {
	o.state.Quote = nil
	o.state.Allowance = nil
	o.state.Err = nil
}

// resetLocked abandons the cycle and lands in Idle. wipeRequest additionally
// clears the request inputs and transaction history, for session changes.
func (o *Orchestrator) resetLocked(wipeRequest bool) {
	if o.cancelCycle != nil {
		o.cancelCycle()
		o.cancelCycle = nil
		o.cycleCtx = nil
	}
	o.gen++
	if o.state.Phase != PhaseIdle {
		_ = o.setPhaseLocked(PhaseIdle)
	}
	if wipeRequest {
		slippage := o.state.SlippageBps
		o.state = State{Phase: PhaseIdle, SlippageBps: slippage}
		o.router = common.Address{}
		return
	}
	o.clearDerivedLocked()
}

// handleSessionChange reacts to account or chain switches: everything keyed
// to the old identity is dropped.
func (o *Orchestrator) handleSessionChange() {
	o.monitor.Purge()
	o.mu.Lock()
	o.resetLocked(true)
	o.mu.Unlock()
	o.log.Info("wallet session changed; request reset")
}

func errBusy() error {
	return swaperr.New(swaperr.CodeValidation, "cannot edit the request while a transaction is in flight")
}

// joinCancel derives a context cancelled when either parent is.
func joinCancel(ctx, other context.Context) (context.Context, context.CancelFunc) {
	merged, cancel := context.WithCancel(ctx)
	if other == nil {
		return merged, cancel
	}
	stop := context.AfterFunc(other, cancel)
	return merged, func() { stop(); cancel() }
}

type exactInputSingleParams struct {
	TokenIn           common.Address `abi:"tokenIn"`
	TokenOut          common.Address `abi:"tokenOut"`
	Fee               *big.Int       `abi:"fee"`
	Recipient         common.Address `abi:"recipient"`
	Deadline          *big.Int       `abi:"deadline"`
	AmountIn          *big.Int       `abi:"amountIn"`
	AmountOutMinimum  *big.Int       `abi:"amountOutMinimum"`
	SqrtPriceLimitX96 *big.Int       `abi:"sqrtPriceLimitX96"`
}
