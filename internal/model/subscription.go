package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// RenewalStatus tracks renewal confirmation for a subscription.
type RenewalStatus string

const (
	// RenewalUnset means no renewal is awaiting confirmation.
	RenewalUnset RenewalStatus = ""
	// RenewalPendingConfirmation means the renewal date passed and the user must confirm.
	RenewalPendingConfirmation RenewalStatus = "pending_confirmation"
	// RenewalConfirmedRenewed means the user confirmed the subscription renewed.
	RenewalConfirmedRenewed RenewalStatus = "confirmed_renewed"
	// RenewalConfirmedCancelled means the user confirmed the subscription was cancelled.
	RenewalConfirmedCancelled RenewalStatus = "confirmed_cancelled"
)

// Subscription is a user-confirmed recurring charge.
type Subscription struct {
	NextOccurrence         time.Time
	CreatedAt              time.Time
	UpdatedAt              time.Time
	CancelledAt            *time.Time
	OriginatingCandidateID *string
	ID                     string
	UserID                 string
	Name                   string
	Currency               string
	Cadence                Cadence
	RenewalStatus          RenewalStatus
	Cost                   decimal.Decimal
	IsActive               bool
}

// PriceChangeEntry records an observed cost change. Entries are append-only.
type PriceChangeEntry struct {
	DetectedAt     time.Time
	ID             string
	SubscriptionID string
	Currency       string
	OldPrice       decimal.Decimal
	NewPrice       decimal.Decimal
}

// AuditAction names an audited lifecycle action.
type AuditAction string

// AuditCandidateAccepted is written whenever a candidate becomes a subscription.
const AuditCandidateAccepted AuditAction = "candidate.accepted"

// AuditEntry is one line of the acceptance audit trail.
type AuditEntry struct {
	CreatedAt      time.Time
	ID             string
	UserID         string
	Action         AuditAction
	CandidateID    string
	SubscriptionID string
	MerchantName   string
	Confidence     float64
}

// User is the owner of events, candidates and subscriptions.
type User struct {
	CreatedAt time.Time
	ID        string
}
