// Package common provides shared utilities and types used across the application.
package common

import (
	"errors"
	"fmt"
)

// Common application errors.
var (
	// Storage errors.
	ErrNotFound       = errors.New("not found")
	ErrDuplicateEntry = errors.New("duplicate entry")

	// Ingestion errors.
	ErrMalformedRecord = errors.New("malformed record")
	// ErrDuplicateIngestion is never surfaced to callers; re-ingestion reports a skipped outcome.
	ErrDuplicateIngestion = errors.New("record already ingested")

	// Lookup errors. Each wraps ErrNotFound so callers can match either.
	ErrUnknownUser         = fmt.Errorf("unknown user: %w", ErrNotFound)
	ErrUnknownCandidate    = fmt.Errorf("unknown candidate: %w", ErrNotFound)
	ErrUnknownSubscription = fmt.Errorf("unknown subscription: %w", ErrNotFound)

	// Lifecycle errors.
	ErrUnauthorized      = errors.New("unauthorized")
	ErrInvalidTransition = errors.New("invalid transition")

	// Provider errors.
	ErrProviderConnection = errors.New("provider connection failed")
	ErrProviderRateLimit  = errors.New("provider rate limit exceeded")

	// Configuration errors.
	ErrMissingConfig = errors.New("missing configuration")
	ErrInvalidConfig = errors.New("invalid configuration")
)

// UserError represents an error that should be shown to the user.
type UserError struct {
	Err         error
	UserMessage string
}

func (e *UserError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.UserMessage, e.Err)
	}
	return e.UserMessage
}

func (e *UserError) Unwrap() error {
	return e.Err
}

// NewUserError creates a new user-friendly error.
func NewUserError(userMessage string, err error) error {
	return &UserError{
		UserMessage: userMessage,
		Err:         err,
	}
}
