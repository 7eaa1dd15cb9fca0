package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Cadence is a recurring billing period.
type Cadence string

const (
	// CadenceNone means no billing period could be inferred.
	CadenceNone Cadence = ""
	// CadenceDaily bills every day.
	CadenceDaily Cadence = "daily"
	// CadenceWeekly bills every week.
	CadenceWeekly Cadence = "weekly"
	// CadenceMonthly bills every month.
	CadenceMonthly Cadence = "monthly"
	// CadenceYearly bills every year.
	CadenceYearly Cadence = "yearly"
)

// Days returns the fixed length of one cadence unit.
func (c Cadence) Days() int {
	switch c {
	case CadenceDaily:
		return 1
	case CadenceWeekly:
		return 7
	case CadenceMonthly:
		return 30
	case CadenceYearly:
		return 365
	default:
		return 0
	}
}

// Valid reports whether c is a concrete cadence.
func (c Cadence) Valid() bool {
	return c.Days() > 0
}

// ParseCadence converts user input into a Cadence.
func ParseCadence(s string) (Cadence, bool) {
	c := Cadence(s)
	return c, c.Valid()
}

// CandidateStatus is the lifecycle state of a detection candidate.
type CandidateStatus string

const (
	// CandidatePending awaits a user decision.
	CandidatePending CandidateStatus = "pending"
	// CandidateAccepted has been turned into a subscription.
	CandidateAccepted CandidateStatus = "accepted"
	// CandidateDismissed was rejected by the user.
	CandidateDismissed CandidateStatus = "dismissed"
)

// Terminal reports whether no further transitions are allowed.
func (s CandidateStatus) Terminal() bool {
	return s == CandidateAccepted || s == CandidateDismissed
}

// DetectionCandidate is a proposed recurring charge.
type DetectionCandidate struct {
	ProposedNextOccurrence  time.Time
	CreatedAt               time.Time
	UpdatedAt               time.Time
	ReviewedAt              *time.Time
	ResultingSubscriptionID *string
	ID                      string
	UserID                  string
	MerchantKey             MerchantKey
	ProposedName            string
	ProposedCurrency        string
	ProposedCadence         Cadence
	Status                  CandidateStatus
	SupportingEventIDs      []string
	ProposedAmount          decimal.Decimal
	Confidence              float64
	PeriodicityScore        float64
	AmountStabilityScore    float64
}
