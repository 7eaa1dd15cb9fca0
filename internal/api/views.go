package api

import (
	"time"

	"github.com/Veraticus/the-spice-must-recur/internal/model"
	"github.com/Veraticus/the-spice-must-recur/internal/renewal"
	"github.com/shopspring/decimal"
)

type candidateView struct {
	ProposedNextOccurrence  time.Time       `json:"proposed_next_occurrence"`
	CreatedAt               time.Time       `json:"created_at"`
	UpdatedAt               time.Time       `json:"updated_at"`
	ReviewedAt              *time.Time      `json:"reviewed_at,omitempty"`
	ResultingSubscriptionID *string         `json:"resulting_subscription_id,omitempty"`
	ID                      string          `json:"id"`
	MerchantKey             string          `json:"merchant_key"`
	Name                    string          `json:"name"`
	Currency                string          `json:"currency"`
	Cadence                 string          `json:"cadence"`
	Status                  string          `json:"status"`
	SupportingEventIDs      []string        `json:"supporting_event_ids"`
	Amount                  decimal.Decimal `json:"amount"`
	Confidence              float64         `json:"confidence"`
	PeriodicityScore        float64         `json:"periodicity_score"`
	AmountStabilityScore    float64         `json:"amount_stability_score"`
}

func newCandidateView(c model.DetectionCandidate) candidateView {
	return candidateView{
		ProposedNextOccurrence:  c.ProposedNextOccurrence,
		CreatedAt:               c.CreatedAt,
		UpdatedAt:               c.UpdatedAt,
		ReviewedAt:              c.ReviewedAt,
		ResultingSubscriptionID: c.ResultingSubscriptionID,
		ID:                      c.ID,
		MerchantKey:             string(c.MerchantKey),
		Name:                    c.ProposedName,
		Currency:                c.ProposedCurrency,
		Cadence:                 string(c.ProposedCadence),
		Status:                  string(c.Status),
		SupportingEventIDs:      c.SupportingEventIDs,
		Amount:                  c.ProposedAmount,
		Confidence:              c.Confidence,
		PeriodicityScore:        c.PeriodicityScore,
		AmountStabilityScore:    c.AmountStabilityScore,
	}
}

type subscriptionView struct {
	NextOccurrence         time.Time       `json:"next_occurrence"`
	CreatedAt              time.Time       `json:"created_at"`
	UpdatedAt              time.Time       `json:"updated_at"`
	CancelledAt            *time.Time      `json:"cancelled_at,omitempty"`
	OriginatingCandidateID *string         `json:"originating_candidate_id,omitempty"`
	ID                     string          `json:"id"`
	Name                   string          `json:"name"`
	Currency               string          `json:"currency"`
	Cadence                string          `json:"cadence"`
	RenewalStatus          string          `json:"renewal_status,omitempty"`
	Cost                   decimal.Decimal `json:"cost"`
	IsActive               bool            `json:"is_active"`
}

func newSubscriptionView(s model.Subscription) subscriptionView {
	return subscriptionView{
		NextOccurrence:         s.NextOccurrence,
		CreatedAt:              s.CreatedAt,
		UpdatedAt:              s.UpdatedAt,
		CancelledAt:            s.CancelledAt,
		OriginatingCandidateID: s.OriginatingCandidateID,
		ID:                     s.ID,
		Name:                   s.Name,
		Currency:               s.Currency,
		Cadence:                string(s.Cadence),
		RenewalStatus:          string(s.RenewalStatus),
		Cost:                   s.Cost,
		IsActive:               s.IsActive,
	}
}

func subscriptionViews(subs []model.Subscription) []subscriptionView {
	out := make([]subscriptionView, 0, len(subs))
	for _, s := range subs {
		out = append(out, newSubscriptionView(s))
	}
	return out
}

type priceChangeView struct {
	DetectedAt time.Time       `json:"detected_at"`
	ID         string          `json:"id"`
	Currency   string          `json:"currency"`
	OldPrice   decimal.Decimal `json:"old_price"`
	NewPrice   decimal.Decimal `json:"new_price"`
}

func newPriceChangeView(p model.PriceChangeEntry) priceChangeView {
	return priceChangeView{
		DetectedAt: p.DetectedAt,
		ID:         p.ID,
		Currency:   p.Currency,
		OldPrice:   p.OldPrice,
		NewPrice:   p.NewPrice,
	}
}

type priceHistoryView struct {
	Subscription  subscriptionView  `json:"subscription"`
	Changes       []priceChangeView `json:"changes"`
	Current       decimal.Decimal   `json:"current"`
	Starting      decimal.Decimal   `json:"starting"`
	PercentChange float64           `json:"percent_change"`
	Count         int               `json:"count"`
}

func newPriceHistoryView(h *renewal.PriceHistory) priceHistoryView {
	changes := make([]priceChangeView, 0, len(h.Changes))
	for _, c := range h.Changes {
		changes = append(changes, newPriceChangeView(c))
	}
	return priceHistoryView{
		Subscription:  newSubscriptionView(h.Subscription),
		Changes:       changes,
		Current:       h.Current,
		Starting:      h.Starting,
		PercentChange: h.PercentChange,
		Count:         h.Count,
	}
}

type confirmationView struct {
	Subscription subscriptionView `json:"subscription"`
	PriceChange  *priceChangeView `json:"price_change,omitempty"`
	Savings      *renewal.Figures `json:"savings,omitempty"`
}

func newConfirmationView(c *renewal.Confirmation) confirmationView {
	v := confirmationView{
		Subscription: newSubscriptionView(*c.Subscription),
		Savings:      c.Savings,
	}
	if c.PriceChange != nil {
		pc := newPriceChangeView(*c.PriceChange)
		v.PriceChange = &pc
	}
	return v
}

type auditView struct {
	CreatedAt      time.Time `json:"created_at"`
	ID             string    `json:"id"`
	Action         string    `json:"action"`
	CandidateID    string    `json:"candidate_id"`
	SubscriptionID string    `json:"subscription_id"`
	MerchantName   string    `json:"merchant_name"`
	Confidence     float64   `json:"confidence"`
}

type eventView struct {
	OccurredAt    time.Time       `json:"occurred_at"`
	ID            string          `json:"id"`
	RawIdentifier string          `json:"raw_identifier"`
	MerchantKey   string          `json:"merchant_key"`
	Currency      string          `json:"currency"`
	Amount        decimal.Decimal `json:"amount"`
}

type duplicateGroupView struct {
	Fingerprint string      `json:"fingerprint"`
	Events      []eventView `json:"events"`
}

type errorResponse struct {
	Error string `json:"error"`
}
