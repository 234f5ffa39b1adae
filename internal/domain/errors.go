package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a referenced activity, session, or
	// annotation does not exist or has been soft-deleted.
	ErrNotFound = errors.New("resource not found")
	// ErrForbidden is returned when the acting user fails the ownership check.
	ErrForbidden = errors.New("actor may not access this resource")
	// ErrConflict is returned when the per-owner open-session constraint
	// rejects a write; the command is safe to retry.
	ErrConflict = errors.New("open session conflict")
	// ErrTransient is returned when the durable store is unavailable; no
	// partial state was applied and the command may be retried.
	ErrTransient = errors.New("storage temporarily unavailable")
)

// ValidationError carries a field-level message for rejected input.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}
