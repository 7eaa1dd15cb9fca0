// Package service defines the interfaces for all application services.
package service

import (
	"context"
	"time"

	"github.com/Veraticus/the-spice-must-recur/internal/model"
)

// InsertResult reports what happened when a raw event was written.
type InsertResult struct {
	// Inserted is false when an event with the same ingestion key already existed.
	Inserted bool
}

// CandidateFilter narrows candidate listings.
type CandidateFilter struct {
	Status        *model.CandidateStatus
	MinConfidence float64
	Limit         int
}

// SubscriptionFilter narrows subscription listings. An empty UserID matches all users.
type SubscriptionFilter struct {
	Active        *bool
	UserID        string
	RenewalStatus []model.RenewalStatus
	DueBefore     *time.Time
	CancelledFrom *time.Time
}

// DuplicateGroup is a set of distinct events sharing one duplicate-charge fingerprint.
type DuplicateGroup struct {
	Fingerprint string
	Events      []model.RawEvent
}

// Store is the narrow persistence contract of the detection core.
// Every method may be called on the value passed to Atomically; calls made there
// belong to the same atomic unit.
type Store interface {
	// Users
	EnsureUser(ctx context.Context, userID string) error
	UserExists(ctx context.Context, userID string) (bool, error)

	// Raw events
	InsertRawEvent(ctx context.Context, event *model.RawEvent) (InsertResult, error)
	GetRawEvent(ctx context.Context, id string) (*model.RawEvent, error)
	GetRawEventsByMerchant(ctx context.Context, userID string, key model.MerchantKey) ([]model.RawEvent, error)
	GetRawEventsByFingerprint(ctx context.Context, userID, fingerprint string) ([]model.RawEvent, error)
	GetDuplicateGroups(ctx context.Context, userID string) ([]DuplicateGroup, error)

	// Candidates
	GetCandidate(ctx context.Context, id string) (*model.DetectionCandidate, error)
	GetCandidateByMerchant(ctx context.Context, userID string, key model.MerchantKey) (*model.DetectionCandidate, error)
	PutCandidate(ctx context.Context, candidate *model.DetectionCandidate) error
	ListCandidates(ctx context.Context, userID string, filter CandidateFilter) ([]model.DetectionCandidate, error)

	// Subscriptions
	GetSubscription(ctx context.Context, id string) (*model.Subscription, error)
	PutSubscription(ctx context.Context, subscription *model.Subscription) error
	ListSubscriptions(ctx context.Context, filter SubscriptionFilter) ([]model.Subscription, error)
	AppendPriceChange(ctx context.Context, entry *model.PriceChangeEntry) error
	ListPriceChanges(ctx context.Context, subscriptionID string) ([]model.PriceChangeEntry, error)

	// Audit trail
	AppendAudit(ctx context.Context, entry *model.AuditEntry) error
	ListAudit(ctx context.Context, userID string) ([]model.AuditEntry, error)

	// Atomically runs fn as a single read-modify-write unit. If fn returns an error,
	// none of its writes are kept.
	Atomically(ctx context.Context, fn func(tx Store) error) error
}

// RecordFetcher delivers raw provider records from an upstream feed.
type RecordFetcher interface {
	FetchRecords(ctx context.Context, startDate, endDate time.Time) ([]model.ProviderRecord, error)
}

// RetryOptions configures retry behavior for operations.
type RetryOptions struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}
