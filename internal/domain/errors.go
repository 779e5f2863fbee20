package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrLockHeld      = errors.New("lock already held")
	ErrContextDone   = errors.New("context cancelled")
)

// ErrorCode is a stable, machine-readable failure classification. Codes are
// persisted on trade records and surfaced to the UI, so they must never be
// renamed.
type ErrorCode string

const (
	// CodeConfig: missing or malformed secrets/addresses. Fatal for the flow.
	CodeConfig ErrorCode = "ERR_CONFIG"
	// CodePrecondition: the user is not trade-ready (no custodial wallet, no
	// delegated signer, security setup incomplete). Stops that user only.
	CodePrecondition ErrorCode = "ERR_PRECONDITION"
	// CodeNoLiquidity: no opposing quotes on the book for the asset.
	CodeNoLiquidity ErrorCode = "ERR_NO_LIQUIDITY"
	// CodeBalance: the venue reported insufficient funds. Distinct from
	// CodeNoLiquidity so the UI can suggest funding instead of waiting.
	CodeBalance ErrorCode = "ERR_BALANCE"
	// CodeValidation: policy limits rejected the trade before any network call.
	CodeValidation ErrorCode = "ERR_VALIDATION"
	// CodeVenue: malformed order or other venue-side rejection.
	CodeVenue ErrorCode = "ERR_VENUE"
	// CodeUnmatched: the venue accepted the order but nothing filled. The
	// order id is kept for later reconciliation.
	CodeUnmatched ErrorCode = "ERR_UNMATCHED"
	// CodeUnconfirmed: an on-chain wait timed out; the transaction may still
	// land, so the attempt must not be blindly retried.
	CodeUnconfirmed ErrorCode = "ERR_UNCONFIRMED"
)

// CodedError pairs a stable error code with a human-readable message. Every
// failure that reaches a trade record or a caller crosses this type.
type CodedError struct {
	Code    ErrorCode
	Message string
	Err     error // underlying cause, optional
}

func (e *CodedError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *CodedError) Unwrap() error { return e.Err }

// NewCodedError builds a CodedError with a formatted message.
func NewCodedError(code ErrorCode, format string, args ...any) *CodedError {
	return &CodedError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WrapCoded attaches a code and message to an underlying error.
func WrapCoded(code ErrorCode, err error, format string, args ...any) *CodedError {
	return &CodedError{Code: code, Message: fmt.Sprintf(format, args...), Err: err}
}

// CodeOf extracts the ErrorCode from err, walking the wrap chain. Errors that
// never received a code are classified as venue-side failures.
func CodeOf(err error) ErrorCode {
	var ce *CodedError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return CodeVenue
}
