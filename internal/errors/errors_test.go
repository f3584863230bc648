// Package errors tests for error code definitions and error handling.
package errors

import (
	"database/sql"
	"errors"
	"fmt"
	"testing"
)

// TestErrorCodeValues verifies all error codes have non-empty, distinct values.
func TestErrorCodeValues(t *testing.T) {
	codes := []ErrorCode{
		ErrInternal, ErrInvalid, ErrNotFound,
		ErrDatabase, ErrMigration,
		ErrMalformedPayload, ErrMissingIdentifier, ErrUnknownOperation,
		ErrRetryExhausted, ErrInFlight,
	}

	seen := make(map[ErrorCode]bool)
	for _, code := range codes {
		if code == "" {
			t.Error("error code should not be empty")
		}
		if seen[code] {
			t.Errorf("duplicate error code %q", code)
		}
		seen[code] = true
	}
}

// TestAppError_Error verifies message formatting with and without a cause.
func TestAppError_Error(t *testing.T) {
	plain := New(ErrUnknownOperation, "unknown operation: BOGUS")
	if got := plain.Error(); got != "[UNKNOWN_OPERATION] unknown operation: BOGUS" {
		t.Errorf("Error() = %q", got)
	}

	wrapped := Wrap(ErrDatabase, "save task", fmt.Errorf("disk full"))
	if got := wrapped.Error(); got != "[DATABASE_ERROR] save task: disk full" {
		t.Errorf("Error() = %q", got)
	}
}

// TestAppError_Detail verifies the code prefix is dropped.
func TestAppError_Detail(t *testing.T) {
	if got := New(ErrMissingIdentifier, "update requires task id").Detail(); got != "update requires task id" {
		t.Errorf("Detail() = %q", got)
	}
	if got := Wrap(ErrMalformedPayload, "decode snapshot", fmt.Errorf("unexpected EOF")).Detail(); got != "decode snapshot: unexpected EOF" {
		t.Errorf("Detail() = %q", got)
	}
}

// TestWrap_Unwrap verifies the wrapped cause stays reachable.
func TestWrap_Unwrap(t *testing.T) {
	err := Wrap(ErrNotFound, "task not found", sql.ErrNoRows)
	if !errors.Is(err, sql.ErrNoRows) {
		t.Error("errors.Is should find sql.ErrNoRows through AppError")
	}
}

// TestIs checks code matching through wrapping layers.
func TestIs(t *testing.T) {
	base := New(ErrNotFound, "task not found")
	outer := fmt.Errorf("load: %w", base)

	tests := []struct {
		name string
		err  error
		code ErrorCode
		want bool
	}{
		{"direct match", base, ErrNotFound, true},
		{"wrapped match", outer, ErrNotFound, true},
		{"different code", base, ErrDatabase, false},
		{"plain error", errors.New("boom"), ErrNotFound, false},
		{"nil error", nil, ErrNotFound, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Is(tt.err, tt.code); got != tt.want {
				t.Errorf("Is() = %v, want %v", got, tt.want)
			}
		})
	}
}

// TestParse verifies stored error text maps back to the same code and text.
func TestParse(t *testing.T) {
	stored := Wrap(ErrDatabase, "save task", fmt.Errorf("disk full")).Error()
	got := Parse(stored)
	if got.Code != ErrDatabase {
		t.Errorf("Parse().Code = %s, want DATABASE_ERROR", got.Code)
	}
	if got.Error() != stored {
		t.Errorf("Parse().Error() = %q, want %q", got.Error(), stored)
	}

	if got := Parse("boom"); got.Code != ErrInternal || got.Message != "boom" {
		t.Errorf("Parse(uncoded) = %+v", got)
	}
}

// TestFrom verifies coded errors pass through and others are wrapped.
func TestFrom(t *testing.T) {
	if From(nil, ErrDatabase) != nil {
		t.Error("From(nil) should be nil")
	}

	coded := New(ErrInvalid, "bad")
	if got := From(fmt.Errorf("ctx: %w", coded), ErrDatabase); got != coded {
		t.Errorf("From() = %v, want original AppError", got)
	}

	plain := errors.New("locked")
	got := From(plain, ErrDatabase)
	if got.Code != ErrDatabase || !errors.Is(got, plain) {
		t.Errorf("From() = %v, want DATABASE_ERROR wrapping cause", got)
	}
}
