// Package uuid provides identifier generation and validation for tasks and
// outbox entries.
package uuid

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// canonicalLen is the length of the dashed 8-4-4-4-12 form.
const canonicalLen = 36

// New generates a new random (v4) UUID.
func New() string {
	return uuid.New().String()
}

// Parse validates s and returns its canonical lower-case form. Any RFC 4122
// version is accepted because ids are minted by clients, but only the dashed
// form is allowed.
func Parse(s string) (string, error) {
	if len(s) != canonicalLen {
		return "", fmt.Errorf("invalid UUID format: %q", s)
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return "", fmt.Errorf("invalid UUID: %w", err)
	}
	if id == uuid.Nil {
		return "", fmt.Errorf("nil UUID is not a valid identifier")
	}
	return strings.ToLower(id.String()), nil
}
