// Package wallet defines the session capability the engine consumes for
// account identity and transaction submission, plus a local private-key
// implementation for hosts that run without an external wallet.
package wallet

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// TxRequest describes a transaction to sign and broadcast. A zero GasLimit
// asks the session to estimate one.
type TxRequest struct {
	To       common.Address
	Data     []byte
	Value    *big.Int
	GasLimit uint64
}

// Session is the wallet capability consumed by the orchestrator.
//
// SignAndSend suspends until the transaction is accepted by the network and
// fails with swaperr.CodeUserRejected when the holder declines to sign.
// OnChange registers a callback fired whenever the active account or chain
// changes; implementations with a fixed identity never fire it.
type Session interface {
	Account() (common.Address, bool)
	ChainID() int64
	SignAndSend(ctx context.Context, req TxRequest) (common.Hash, error)
	OnChange(func())
}
