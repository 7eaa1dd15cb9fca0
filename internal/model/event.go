package model

import (
	"time"

	"github.com/google/uuid"
)

// EventSource identifies which kind of upstream feed produced a record.
type EventSource string

const (
	// SourceEmail marks receipt-like email messages.
	SourceEmail EventSource = "email"
	// SourceTransaction marks bank or card transaction rows.
	SourceTransaction EventSource = "transaction"
)

// Valid reports whether the source is one of the known feeds.
func (s EventSource) Valid() bool {
	return s == SourceEmail || s == SourceTransaction
}

// MerchantKey is the canonical identity string of a biller.
type MerchantKey string

// FilterTier is the confidence tier assigned by the pre-filter.
type FilterTier string

const (
	// TierHigh is assigned to records with explicit recurring-billing language.
	TierHigh FilterTier = "high"
	// TierMedium is assigned to records accepted by weaker fallbacks.
	TierMedium FilterTier = "medium"
	// TierLow is assigned to rejected records.
	TierLow FilterTier = "low"
)

// ProviderRecord is one record as delivered by an upstream feed, before normalization.
// Amount and OccurredAt are kept as provider text so the normalizer owns parsing.
type ProviderRecord struct {
	Source               EventSource `json:"source" yaml:"source"`
	SubjectOrDescription string      `json:"subject_or_description" yaml:"subject_or_description"`
	BodyOrMerchantString string      `json:"body_or_merchant_string" yaml:"body_or_merchant_string"`
	SenderOrAccountRef   string      `json:"sender_or_account_ref" yaml:"sender_or_account_ref"`
	Amount               string      `json:"amount" yaml:"amount"`
	Currency             string      `json:"currency" yaml:"currency"`
	OccurredAt           string      `json:"occurred_at" yaml:"occurred_at"`
	RawIdentifier        string      `json:"raw_identifier" yaml:"raw_identifier"`
	// MerchantHint is an optional cleaned merchant name supplied by the provider.
	MerchantHint string `json:"merchant_hint,omitempty" yaml:"merchant_hint,omitempty"`
}

// RawEvent is one observed payment-like signal. It is never mutated once stored.
type RawEvent struct {
	OccurredAt           time.Time
	IngestedAt           time.Time
	Amount               Money
	ID                   string
	UserID               string
	Source               EventSource
	SubjectOrDescription string
	BodyOrMerchantString string
	SenderOrAccountRef   string
	RawIdentifier        string
	MerchantKey          MerchantKey
	Fingerprint          string
	FilterTier           FilterTier
}

var eventNamespace = uuid.MustParse("6f1c9a52-7d1e-4c55-9a43-2b8f0e4d7c31")

// EventID derives the stable identifier of a raw event from its ingestion key.
func EventID(userID string, source EventSource, rawIdentifier string) string {
	return uuid.NewSHA1(eventNamespace, []byte(userID+"\x00"+string(source)+"\x00"+rawIdentifier)).String()
}
