// Package apperrors defines the error taxonomy shared by the submission,
// verification, ledger and marketplace services.
package apperrors

import (
	"errors"
	"fmt"
)

// Code is a machine-readable error code.
type Code string

const (
	CodeUnknown                Code = "UNKNOWN"
	CodeValidation             Code = "VALIDATION_ERROR"
	CodeNotFound               Code = "NOT_FOUND"
	CodeInvalidStateTransition Code = "INVALID_STATE_TRANSITION"
	CodeUnauthorized           Code = "UNAUTHORIZED"
	CodeForbidden              Code = "FORBIDDEN"

	// Lost optimistic-concurrency races. Callers re-query instead of retrying.
	CodeAlreadyDecided     Code = "ALREADY_DECIDED"
	CodeDoubleMintAttempt  Code = "DOUBLE_MINT_ATTEMPT"
	CodeListingUnavailable Code = "LISTING_UNAVAILABLE"

	CodeInsufficientBalance Code = "INSUFFICIENT_BALANCE"

	// Internal defect: the transaction that detected it is rolled back.
	CodeInvariantViolation Code = "INVARIANT_VIOLATION"
)

// Error carries a Code plus a human readable message.
type Error struct {
	Code    Code
	Message string
	Err     error
}

// Sentinels for errors.Is matching. Matching is by Code only.
var (
	ErrValidation             = &Error{Code: CodeValidation}
	ErrNotFound               = &Error{Code: CodeNotFound}
	ErrInvalidStateTransition = &Error{Code: CodeInvalidStateTransition}
	ErrAlreadyDecided         = &Error{Code: CodeAlreadyDecided}
	ErrDoubleMint             = &Error{Code: CodeDoubleMintAttempt}
	ErrInsufficientBalance    = &Error{Code: CodeInsufficientBalance}
	ErrListingUnavailable     = &Error{Code: CodeListingUnavailable}
	ErrUnauthorized           = &Error{Code: CodeUnauthorized}
	ErrForbidden              = &Error{Code: CodeForbidden}
	ErrInvariantViolation     = &Error{Code: CodeInvariantViolation}
)

func (e *Error) Error() string {
	switch {
	case e.Message != "" && e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	case e.Message != "":
		return e.Message
	case e.Err != nil:
		return e.Err.Error()
	default:
		return string(e.Code)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error with the same Code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// New creates an error with the given code and formatted message.
func New(code Code, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code and message to an underlying error.
func Wrap(err error, code Code, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Err: err}
}

func Validation(format string, args ...interface{}) *Error {
	return New(CodeValidation, format, args...)
}

func NotFound(entity string, id interface{}) *Error {
	return New(CodeNotFound, "%s %v not found", entity, id)
}

func InvalidStateTransition(format string, args ...interface{}) *Error {
	return New(CodeInvalidStateTransition, format, args...)
}

func InvariantViolation(format string, args ...interface{}) *Error {
	return New(CodeInvariantViolation, format, args...)
}

// CodeOf extracts the Code of err, or CodeUnknown.
func CodeOf(err error) Code {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return CodeUnknown
}

// IsConcurrencyLoss reports whether err is the expected outcome of losing a
// compare-and-set race.
func IsConcurrencyLoss(err error) bool {
	switch CodeOf(err) {
	case CodeAlreadyDecided, CodeDoubleMintAttempt, CodeListingUnavailable:
		return true
	default:
		return false
	}
}
