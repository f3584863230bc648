// Package errors provides the error codes shared by the reconciliation engine,
// the CRUD boundary and the HTTP transport.
package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
)

// ErrorCode identifies a class of failure. Codes are stable strings so they can
// be surfaced to clients and stored in outbox entries.
type ErrorCode string

const (
	// General errors
	ErrInternal ErrorCode = "INTERNAL_ERROR"
	ErrInvalid  ErrorCode = "INVALID_INPUT"
	ErrNotFound ErrorCode = "NOT_FOUND"

	// Database errors
	ErrDatabase  ErrorCode = "DATABASE_ERROR"
	ErrMigration ErrorCode = "MIGRATION_FAILED"

	// Reconciliation errors
	ErrMalformedPayload  ErrorCode = "MALFORMED_PAYLOAD"
	ErrMissingIdentifier ErrorCode = "MISSING_IDENTIFIER"
	ErrUnknownOperation  ErrorCode = "UNKNOWN_OPERATION"

	// Outbox errors
	ErrRetryExhausted ErrorCode = "RETRY_EXHAUSTED"
	ErrInFlight       ErrorCode = "ENTRY_IN_FLIGHT"
)

// AppError represents an application error with code and message.
type AppError struct {
	Code    ErrorCode
	Message string
	Err     error
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Detail returns the message without the code prefix, including the cause
// when one is wrapped.
func (e *AppError) Detail() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the underlying error.
func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates a new AppError.
func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Newf creates a new AppError with a formatted message.
func Newf(code ErrorCode, format string, args ...any) *AppError {
	return New(code, fmt.Sprintf(format, args...))
}

// Wrap wraps an existing error with an error code.
func Wrap(code ErrorCode, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// Is checks if err, or any error it wraps, is an AppError with the given code.
func Is(err error, code ErrorCode) bool {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

// Parse rebuilds an AppError from the "[CODE] message" text that Error
// produces, as stored on a failed outbox entry. Text without a code prefix
// becomes an INTERNAL_ERROR carrying the whole string.
func Parse(text string) *AppError {
	if strings.HasPrefix(text, "[") {
		if end := strings.Index(text, "] "); end > 1 {
			return New(ErrorCode(text[1:end]), text[end+2:])
		}
	}
	return New(ErrInternal, text)
}

// From converts any error into an AppError. Errors that already carry a code
// are returned as is; anything else is wrapped with the fallback code.
func From(err error, fallback ErrorCode) *AppError {
	if err == nil {
		return nil
	}
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr
	}
	return Wrap(fallback, "unexpected failure", err)
}
