// Package swap orchestrates a token exchange end to end: quoting,
// spending authorization, bounded-slippage submission, and confirmation
// tracking, behind a tagged-phase state machine.
package swap

import (
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/ittarek/swap-engine/chain"
)

// Phase tags the orchestrator's position in the exchange lifecycle.
type Phase string

const (
	PhaseIdle          Phase = "idle"
	PhaseQuoting       Phase = "quoting"
	PhaseNeedsApproval Phase = "needs_approval"
	PhaseReadyToSwap   Phase = "ready_to_swap"
	PhaseApproving     Phase = "approving"
	PhaseSwapping      Phase = "swapping"
	PhaseConfirmed     Phase = "confirmed"
	PhaseFailed        Phase = "failed"
)

// transitions is the complete set of legal phase moves. Anything absent is
// rejected, never silently coerced.
var transitions = map[Phase][]Phase{
	PhaseIdle:          {PhaseQuoting},
	PhaseQuoting:       {PhaseQuoting, PhaseNeedsApproval, PhaseReadyToSwap, PhaseFailed, PhaseIdle},
	PhaseNeedsApproval: {PhaseApproving, PhaseQuoting, PhaseIdle},
	PhaseApproving:     {PhaseReadyToSwap, PhaseNeedsApproval, PhaseFailed, PhaseIdle},
	PhaseReadyToSwap:   {PhaseSwapping, PhaseQuoting, PhaseIdle},
	PhaseSwapping:      {PhaseConfirmed, PhaseFailed, PhaseNeedsApproval, PhaseReadyToSwap, PhaseIdle},
	PhaseConfirmed:     {PhaseQuoting, PhaseIdle},
	PhaseFailed:        {PhaseQuoting, PhaseIdle},
}

// CanTransition reports whether moving from p to next is legal.
func (p Phase) CanTransition(next Phase) bool {
	for _, allowed := range transitions[p] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Busy reports whether a transaction is actively being submitted or tracked,
// during which request edits are rejected.
func (p Phase) Busy() bool {
	return p == PhaseApproving || p == PhaseSwapping
}

// TxKind separates the two transaction shapes the orchestrator submits.
type TxKind string

const (
	TxKindApproval TxKind = "approval"
	TxKindSwap     TxKind = "swap"
)

// TransactionRecord is the orchestrator's ledger entry for one submitted
// transaction. Status stays pending when tracking was abandoned before the
// chain settled it.
type TransactionRecord struct {
	Hash        common.Hash
	Kind        TxKind
	SubmittedAt time.Time
	SettledAt   time.Time
	Status      chain.TxStatus
}
