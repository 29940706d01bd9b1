// Package chain provides read-only chain access: contract calls and
// transaction receipt lookups over JSON-RPC, wrapped with bounded retry, a
// circuit breaker, and optional rate limiting.
package chain

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
)

// TxStatus is the observed confirmation state of a submitted transaction.
type TxStatus string

const (
	TxStatusPending   TxStatus = "pending"
	TxStatusConfirmed TxStatus = "confirmed"
	TxStatusReverted  TxStatus = "reverted"
)

// Reader is the read-only chain-access capability the engine consumes.
// Implementations must be safe for concurrent use.
type Reader interface {
	// Call executes a read-only contract call and returns the raw output.
	Call(ctx context.Context, to common.Address, input []byte) ([]byte, error)
	// ReceiptStatus reports the confirmation status of a transaction.
	// It returns TxStatusPending while the transaction is unmined.
	ReceiptStatus(ctx context.Context, hash common.Hash) (TxStatus, error)
}
