package lifecycle

import (
	"fmt"
	"strings"
	"time"

	"github.com/Veraticus/the-spice-must-recur/internal/model"
	"github.com/shopspring/decimal"
)

// Overrides replaces proposed values when a candidate is accepted. Nil fields keep
// the candidate's proposal.
type Overrides struct {
	Name           *string          `json:"name,omitempty"`
	Amount         *decimal.Decimal `json:"amount,omitempty"`
	Cadence        *model.Cadence   `json:"cadence,omitempty"`
	NextOccurrence *time.Time       `json:"next_occurrence,omitempty"`
}

// AcceptCandidate turns a pending candidate into a subscription.
type AcceptCandidate struct {
	UserID      string
	CandidateID string
	Overrides   Overrides
}

// DismissCandidate rejects a pending candidate.
type DismissCandidate struct {
	UserID      string
	CandidateID string
}

// apply merges the overrides into a new subscription built from c.
func (o Overrides) apply(c *model.DetectionCandidate, now time.Time) (*model.Subscription, error) {
	name := c.ProposedName
	if o.Name != nil {
		name = strings.TrimSpace(*o.Name)
		if name == "" {
			return nil, fmt.Errorf("%w: empty name", ErrInvalidOverride)
		}
	}

	cost := c.ProposedAmount
	if o.Amount != nil {
		if o.Amount.IsNegative() {
			return nil, fmt.Errorf("%w: negative amount", ErrInvalidOverride)
		}
		cost = *o.Amount
	}

	cadence := c.ProposedCadence
	if o.Cadence != nil {
		if !o.Cadence.Valid() {
			return nil, fmt.Errorf("%w: cadence %q", ErrInvalidOverride, *o.Cadence)
		}
		cadence = *o.Cadence
	}
	if !cadence.Valid() {
		return nil, fmt.Errorf("%w: candidate has no cadence", ErrInvalidOverride)
	}

	next := c.ProposedNextOccurrence
	if o.NextOccurrence != nil {
		next = o.NextOccurrence.UTC()
	}
	if next.IsZero() {
		next = now.AddDate(0, 0, cadence.Days())
	}

	candidateID := c.ID
	return &model.Subscription{
		UserID:                 c.UserID,
		Name:                   name,
		Cost:                   cost,
		Currency:               c.ProposedCurrency,
		Cadence:                cadence,
		NextOccurrence:         next,
		IsActive:               true,
		RenewalStatus:          model.RenewalUnset,
		OriginatingCandidateID: &candidateID,
		CreatedAt:              now,
		UpdatedAt:              now,
	}, nil
}
