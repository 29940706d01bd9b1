// Package swaperr defines the closed failure taxonomy shared by every
// component of the swap engine and the classifier that maps raw wallet,
// node, and transport failures into it.
package swaperr

import (
	"errors"
	"fmt"
)

// Code is a stable, machine-readable failure category.
type Code string

const (
	CodeUserRejected          Code = "user_rejected"
	CodeInsufficientFunds     Code = "insufficient_funds"
	CodeInsufficientAllowance Code = "insufficient_allowance"
	CodeSlippageExceeded      Code = "slippage_exceeded"
	CodeReverted              Code = "reverted"
	CodeNetworkUnavailable    Code = "network_unavailable"
	CodeTimeout               Code = "timeout"
	CodeUnsupportedChain      Code = "unsupported_chain"
	CodeNoLiquidityPath       Code = "no_liquidity_path"
	CodeValidation            Code = "validation"
	CodeUnknown               Code = "unknown"
)

// Error is a typed engine error that carries a stable failure code.
type Error struct {
	Code    Code
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause == nil {
		return e.Message
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Cause)
}

func (e *Error) Unwrap() error { return e.Cause }

func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

func As(err error) (*Error, bool) {
	var target *Error
	if errors.As(err, &target) {
		return target, true
	}
	return nil, false
}

// CodeOf returns the failure code carried by err, CodeUnknown for foreign
// errors, and the empty code for nil.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	if typed, ok := As(err); ok {
		return typed.Code
	}
	return CodeUnknown
}

// Is reports whether err carries the given failure code.
func Is(err error, code Code) bool {
	return CodeOf(err) == code
}

// Transient reports whether failures with this code may be retried.
// UserRejected and Reverted are terminal: funds or chain state may have
// changed, so the caller must re-quote instead.
func Transient(code Code) bool {
	return code == CodeNetworkUnavailable || code == CodeTimeout
}
