package swaperr

import (
	"bytes"
	"context"
	"errors"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// revertSelector is the 4-byte selector of the solidity Error(string) type
// that carries human-readable revert reasons.
var revertSelector = common.FromHex("0x08c379a0")

var revertStringArgs = abi.Arguments{{Type: mustType("string")}}

// dataError matches the interface go-ethereum RPC errors expose for revert
// payloads returned by eth_call and eth_estimateGas.
type dataError interface {
	Error() string
	ErrorData() interface{}
}

// codedError matches the interface go-ethereum RPC errors expose for numeric
// JSON-RPC and EIP-1193 provider codes.
type codedError interface {
	Error() string
	ErrorCode() int
}

// eip1193UserRejected is the provider code for a request the holder declined.
const eip1193UserRejected = 4001

// Classify maps a raw failure into the engine taxonomy. Already-typed
// errors pass through unchanged. Classification is pure: it never performs
// I/O and never retries; retry policy lives with the caller.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}
	if typed, ok := As(err); ok {
		return typed
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Wrap(CodeTimeout, "operation timed out", err)
	}
	var coded codedError
	if errors.As(err, &coded) && coded.ErrorCode() == eip1193UserRejected {
		return Wrap(CodeUserRejected, "user rejected the request", err)
	}
	if typed, ok := classifyRevertData(err); ok {
		return typed
	}
	return classifyMessage(err)
}

func classifyRevertData(err error) (*Error, bool) {
	var de dataError
	if !errors.As(err, &de) {
		return nil, false
	}
	data := revertBytes(de.ErrorData())
	if len(data) == 0 {
		return nil, false
	}
	reason, ok := decodeRevertReason(data)
	if !ok {
		return Wrap(CodeReverted, "execution reverted", err), true
	}
	if isSlippageReason(reason) {
		return Wrap(CodeSlippageExceeded, "execution reverted: "+reason, err), true
	}
	return Wrap(CodeReverted, "execution reverted: "+reason, err), true
}

func revertBytes(data interface{}) []byte {
	switch v := data.(type) {
	case string:
		return common.FromHex(v)
	case hexutil.Bytes:
		return v
	case []byte:
		return v
	default:
		return nil
	}
}

func decodeRevertReason(data []byte) (string, bool) {
	if len(data) <= 4 || !bytes.Equal(data[:4], revertSelector) {
		return "", false
	}
	values, err := revertStringArgs.Unpack(data[4:])
	if err != nil || len(values) != 1 {
		return "", false
	}
	reason, ok := values[0].(string)
	return reason, ok
}

func isSlippageReason(reason string) bool {
	return containsAny(strings.ToLower(reason),
		"too little received",
		"insufficient output amount",
		"slippage",
	)
}

func classifyMessage(err error) *Error {
	msg := strings.ToLower(err.Error())
	switch {
	case containsAny(msg, "user rejected", "user denied", "rejected by user", "request rejected", "code 4001"):
		return Wrap(CodeUserRejected, "user rejected the request", err)
	case containsAny(msg, "insufficient allowance", "exceeds allowance"):
		return Wrap(CodeInsufficientAllowance, "spender allowance is insufficient", err)
	case containsAny(msg, "insufficient funds", "insufficient balance"):
		return Wrap(CodeInsufficientFunds, "account balance cannot cover the transaction", err)
	case isSlippageReason(msg):
		return Wrap(CodeSlippageExceeded, "output fell below the slippage bound", err)
	case strings.Contains(msg, "revert"):
		return Wrap(CodeReverted, "execution reverted", err)
	case containsAny(msg, "timeout", "timed out", "deadline exceeded"):
		return Wrap(CodeTimeout, "operation timed out", err)
	case containsAny(msg,
		"connection refused", "connection reset", "no such host", "network is unreachable",
		"eof", "bad gateway", "service unavailable", "too many requests", "rate limit",
		"circuit breaker is open"):
		return Wrap(CodeNetworkUnavailable, "network endpoint unavailable", err)
	default:
		return Wrap(CodeUnknown, "unclassified failure", err)
	}
}

func containsAny(msg string, needles ...string) bool {
	for _, needle := range needles {
		if strings.Contains(msg, needle) {
			return true
		}
	}
	return false
}

func mustType(t string) abi.Type {
	typ, err := abi.NewType(t, "", nil)
	if err != nil {
		panic(err)
	}
	return typ
}
