package arcrelay

import (
	"errors"
	"fmt"
	"math/big"
)

// Kind labels an error with its taxonomy class. Kinds are stable,
// client-facing strings; response bodies carry them verbatim.
type Kind string

const (
	// KindValidation marks malformed or missing request fields. Always
	// local, never retried.
	KindValidation Kind = "validation_error"
	// KindOfferMismatch marks an unknown or expired nonce, or requirement
	// fields that do not match the payload. The client must re-fetch an
	// offer rather than retry blindly.
	KindOfferMismatch Kind = "offer_mismatch"
	// KindSignature marks a malformed, malleable, or non-matching
	// signature. Fatal, never retried.
	KindSignature Kind = "signature_error"
	// KindReplay marks an authorization already consumed on-chain.
	KindReplay Kind = "replay_error"
	// KindTiming marks an authorization outside its validity window. The
	// client must re-request with fresh timestamps.
	KindTiming Kind = "timing_error"
	// KindExecution marks an on-chain revert or denial.
	KindExecution Kind = "execution_failure"
	// KindTimeout marks exhausted confirmation or indexing polling. The
	// transaction may still land; safe to re-query later, never treated
	// as success.
	KindTimeout Kind = "timeout"
	// KindInsufficientBalance marks a funding selection that cannot cover
	// the requested amount.
	KindInsufficientBalance Kind = "insufficient_balance"
)

// Error is a taxonomy-labeled error. Message is safe for client-facing
// text; wrapped causes stay internal.
type Error struct {
	Kind    Kind
	Message string
	cause   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.cause
}

// NewError builds a taxonomy error from a format string.
func NewError(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WrapError attaches a taxonomy label to an underlying cause. The cause is
// reachable through errors.Unwrap but never rendered in client-facing text.
func WrapError(kind Kind, cause error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), cause: cause}
}

// InsufficientBalanceError reports that the available balances cannot cover
// a requested amount. Required and Available are base-unit totals.
type InsufficientBalanceError struct {
	Required  *big.Int
	Available *big.Int
}

// Shortfall is the missing amount, Required - Available.
func (e *InsufficientBalanceError) Shortfall() *big.Int {
	return new(big.Int).Sub(e.Required, e.Available)
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("%s: required %s, available %s, short %s",
		KindInsufficientBalance, e.Required, e.Available, e.Shortfall())
}

// KindOf extracts the taxonomy kind from an error chain, or "" when the
// error carries none.
func KindOf(err error) Kind {
	var te *Error
	if errors.As(err, &te) {
		return te.Kind
	}
	var ibe *InsufficientBalanceError
	if errors.As(err, &ibe) {
		return KindInsufficientBalance
	}
	return ""
}

// IsKind reports whether the error chain carries the given taxonomy kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}
