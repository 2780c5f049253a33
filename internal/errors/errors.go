// Package errors provides standardized domain errors with codes for the Bookhaven API.
//
// Services return typed errors; handlers check them with errors.Is or switch
// on the Code to map them to HTTP responses:
//
//	if errors.Is(err, errors.ErrOutOfStock) {
//	    response.Conflict(w, err.Error(), logger)
//	    return
//	}
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Re-export standard library functions for convenience.
var (
	Is     = errors.Is
	As     = errors.As
	Unwrap = errors.Unwrap
	Join   = errors.Join
)

// Code represents a machine-readable error code.
type Code string

// Error codes used throughout the application.
const (
	CodeNotFound             Code = "NOT_FOUND"
	CodeInvalidState         Code = "INVALID_STATE"
	CodeOutOfStock           Code = "OUT_OF_STOCK"
	CodeAvailable            Code = "AVAILABLE"
	CodeDuplicateLoan        Code = "DUPLICATE_LOAN"
	CodeDuplicateReservation Code = "DUPLICATE_RESERVATION"
	CodeForbidden            Code = "FORBIDDEN"
	CodeValidation           Code = "VALIDATION"
	CodeLedgerCorruption     Code = "LEDGER_CORRUPTION"
	CodeInternal             Code = "INTERNAL"
)

// HTTPStatus returns the appropriate HTTP status code for an error code.
func (c Code) HTTPStatus() int {
	switch c {
	case CodeNotFound:
		return http.StatusNotFound
	case CodeInvalidState, CodeOutOfStock, CodeDuplicateLoan, CodeDuplicateReservation:
		return http.StatusConflict
	case CodeAvailable, CodeValidation:
		return http.StatusBadRequest
	case CodeForbidden:
		return http.StatusForbidden
	default:
		// LEDGER_CORRUPTION is deliberately a 500: it signals a bug or
		// storage inconsistency, never a caller mistake.
		return http.StatusInternalServerError
	}
}

// Error is a domain error with a code, message, and optional cause.
type Error struct {
	Code    Code              `json:"code"`
	Message string            `json:"message"`
	Details map[string]string `json:"details,omitempty"`
	cause   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.cause)
	}
	return e.Message
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.cause
}

// Is reports whether target matches this error.
// Matches if target is an *Error with the same Code.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Code == t.Code
	}
	return false
}

// HTTPStatus returns the HTTP status code for this error.
func (e *Error) HTTPStatus() int {
	return e.Code.HTTPStatus()
}

// WithCause wraps an underlying error.
func (e *Error) WithCause(err error) *Error {
	return &Error{
		Code:    e.Code,
		Message: e.Message,
		Details: e.Details,
		cause:   err,
	}
}

// Sentinel errors for use with errors.Is().
var (
	ErrNotFound             = &Error{Code: CodeNotFound, Message: "not found"}
	ErrInvalidState         = &Error{Code: CodeInvalidState, Message: "invalid state"}
	ErrOutOfStock           = &Error{Code: CodeOutOfStock, Message: "no available copies"}
	ErrAvailable            = &Error{Code: CodeAvailable, Message: "copies available, no reservation needed"}
	ErrDuplicateLoan        = &Error{Code: CodeDuplicateLoan, Message: "active loan already exists"}
	ErrDuplicateReservation = &Error{Code: CodeDuplicateReservation, Message: "active reservation already exists"}
	ErrForbidden            = &Error{Code: CodeForbidden, Message: "forbidden"}
	ErrValidation           = &Error{Code: CodeValidation, Message: "validation error"}
	ErrLedgerCorruption     = &Error{Code: CodeLedgerCorruption, Message: "ledger invariant violated"}
	ErrInternal             = &Error{Code: CodeInternal, Message: "internal error"}
)

// Constructor functions for creating errors with custom messages.

// NotFound creates a not found error.
func NotFound(msg string) *Error {
	return &Error{Code: CodeNotFound, Message: msg}
}

// NotFoundf creates a not found error with formatted message.
func NotFoundf(format string, args ...any) *Error {
	return &Error{Code: CodeNotFound, Message: fmt.Sprintf(format, args...)}
}

// InvalidState creates an invalid state error.
func InvalidState(msg string) *Error {
	return &Error{Code: CodeInvalidState, Message: msg}
}

// InvalidStatef creates an invalid state error with formatted message.
func InvalidStatef(format string, args ...any) *Error {
	return &Error{Code: CodeInvalidState, Message: fmt.Sprintf(format, args...)}
}

// OutOfStock creates an out of stock error.
func OutOfStock(msg string) *Error {
	return &Error{Code: CodeOutOfStock, Message: msg}
}

// Available creates an error for reserving a title that still has copies.
func Available(msg string) *Error {
	return &Error{Code: CodeAvailable, Message: msg}
}

// DuplicateLoan creates a duplicate loan error.
func DuplicateLoan(msg string) *Error {
	return &Error{Code: CodeDuplicateLoan, Message: msg}
}

// DuplicateReservation creates a duplicate reservation error.
func DuplicateReservation(msg string) *Error {
	return &Error{Code: CodeDuplicateReservation, Message: msg}
}

// Forbidden creates a forbidden error.
func Forbidden(msg string) *Error {
	return &Error{Code: CodeForbidden, Message: msg}
}

// Validation creates a validation error.
func Validation(msg string) *Error {
	return &Error{Code: CodeValidation, Message: msg}
}

// ValidationWithDetails creates a validation error carrying per-field messages.
func ValidationWithDetails(msg string, details map[string]string) *Error {
	return &Error{Code: CodeValidation, Message: msg, Details: details}
}

// LedgerCorruptionf creates a ledger corruption error with formatted message.
// Callers must log these at error severity; the counts are never silently clamped.
func LedgerCorruptionf(format string, args ...any) *Error {
	return &Error{Code: CodeLedgerCorruption, Message: fmt.Sprintf(format, args...)}
}

// Internal creates an internal error.
func Internal(msg string) *Error {
	return &Error{Code: CodeInternal, Message: msg}
}

// Internalf creates an internal error with formatted message.
func Internalf(format string, args ...any) *Error {
	return &Error{Code: CodeInternal, Message: fmt.Sprintf(format, args...)}
}

// Wrap wraps an error with a code and message.
func Wrap(err error, code Code, msg string) *Error {
	return &Error{Code: code, Message: msg, cause: err}
}
