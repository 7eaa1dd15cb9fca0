// Package storage provides the data persistence layer for the recur application.
package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Veraticus/the-spice-must-recur/internal/model"
)

// Validation errors.
var (
	ErrNilContext          = errors.New("context cannot be nil")
	ErrEmptyString         = errors.New("string parameter cannot be empty")
	ErrNilParameter        = errors.New("parameter cannot be nil")
	ErrInvalidEvent        = errors.New("invalid raw event")
	ErrInvalidCandidate    = errors.New("invalid candidate")
	ErrInvalidSubscription = errors.New("invalid subscription")
	ErrInvalidPriceChange  = errors.New("invalid price change")
	ErrInvalidAudit        = errors.New("invalid audit entry")
)

// validateContext ensures the context is not nil.
func validateContext(ctx context.Context) error {
	if ctx == nil {
		return ErrNilContext
	}
	return nil
}

// validateString ensures a string parameter is not empty.
func validateString(s string, paramName string) error {
	if strings.TrimSpace(s) == "" {
		return fmt.Errorf("%w: %s", ErrEmptyString, paramName)
	}
	return nil
}

func validateEvent(e *model.RawEvent) error {
	if e == nil {
		return fmt.Errorf("%w: event", ErrNilParameter)
	}
	if e.ID == "" {
		return fmt.Errorf("%w: missing ID", ErrInvalidEvent)
	}
	if e.UserID == "" {
		return fmt.Errorf("%w: missing user", ErrInvalidEvent)
	}
	if !e.Source.Valid() {
		return fmt.Errorf("%w: unknown source %q", ErrInvalidEvent, e.Source)
	}
	if e.RawIdentifier == "" {
		return fmt.Errorf("%w: missing raw identifier", ErrInvalidEvent)
	}
	if e.OccurredAt.IsZero() {
		return fmt.Errorf("%w: missing date", ErrInvalidEvent)
	}
	if e.Amount.Currency == "" {
		return fmt.Errorf("%w: missing currency", ErrInvalidEvent)
	}
	return nil
}

func validateCandidate(c *model.DetectionCandidate) error {
	if c == nil {
		return fmt.Errorf("%w: candidate", ErrNilParameter)
	}
	if c.ID == "" || c.UserID == "" {
		return fmt.Errorf("%w: missing ID or user", ErrInvalidCandidate)
	}
	if c.MerchantKey == "" {
		return fmt.Errorf("%w: missing merchant key", ErrInvalidCandidate)
	}

	switch c.Status {
	case model.CandidatePending, model.CandidateDismissed:
		if c.ResultingSubscriptionID != nil {
			return fmt.Errorf("%w: %s candidate has a subscription", ErrInvalidCandidate, c.Status)
		}
	case model.CandidateAccepted:
		if c.ResultingSubscriptionID == nil {
			return fmt.Errorf("%w: accepted candidate has no subscription", ErrInvalidCandidate)
		}
	default:
		return fmt.Errorf("%w: unknown status %q", ErrInvalidCandidate, c.Status)
	}

	if c.Confidence < 0 || c.Confidence > 1 {
		return fmt.Errorf("%w: confidence must be between 0 and 1", ErrInvalidCandidate)
	}
	return nil
}

func validateSubscription(s *model.Subscription) error {
	if s == nil {
		return fmt.Errorf("%w: subscription", ErrNilParameter)
	}
	if s.ID == "" || s.UserID == "" {
		return fmt.Errorf("%w: missing ID or user", ErrInvalidSubscription)
	}
	if strings.TrimSpace(s.Name) == "" {
		return fmt.Errorf("%w: missing name", ErrInvalidSubscription)
	}
	if !s.Cadence.Valid() {
		return fmt.Errorf("%w: invalid cadence %q", ErrInvalidSubscription, s.Cadence)
	}
	if s.Cost.IsNegative() {
		return fmt.Errorf("%w: negative cost", ErrInvalidSubscription)
	}
	return nil
}

func validatePriceChange(p *model.PriceChangeEntry) error {
	if p == nil {
		return fmt.Errorf("%w: price change", ErrNilParameter)
	}
	if p.ID == "" || p.SubscriptionID == "" {
		return fmt.Errorf("%w: missing ID or subscription", ErrInvalidPriceChange)
	}
	return nil
}

func validateAudit(a *model.AuditEntry) error {
	if a == nil {
		return fmt.Errorf("%w: audit entry", ErrNilParameter)
	}
	if a.ID == "" || a.UserID == "" || a.Action == "" {
		return fmt.Errorf("%w: missing ID, user or action", ErrInvalidAudit)
	}
	return nil
}
