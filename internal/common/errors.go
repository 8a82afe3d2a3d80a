// Package common defines shared constants and sentinel errors used across
// client and server layers of FoodAI. Callers should use errors.Is to
// match these values.
package common

import (
	"errors"
	"fmt"
)

var (
	// Write-path errors.
	ErrValidation = errors.New("validation error")

	// Persistence-layer errors (local KV, SQL).
	ErrStorage  = errors.New("storage error")
	ErrNotFound = errors.New("not found")

	// Remote errors returned by reconcilers and provider clients.
	ErrNetwork        = errors.New("network error")
	ErrRemoteRejected = errors.New("remote rejected")

	// Outbox errors.
	ErrRetryExhausted    = errors.New("retry exhausted")
	ErrQueueFull         = errors.New("sync queue is full")
	ErrInvalidTransition = errors.New("invalid status transition")

	// Auth errors.
	ErrUnauthorized = errors.New("unauthorized")
	ErrInvalidToken = errors.New("invalid token")
)

// ValidationError reports a missing or malformed field on a write.
// It matches ErrValidation with errors.Is.
type ValidationError struct {
	Field  string
	Reason string
}

// NewValidationError returns a *ValidationError for field.
func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// StorageError wraps err so that it matches ErrStorage while keeping the
// original cause reachable through errors.Is / errors.As.
func StorageError(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", op, ErrStorage, err)
}
