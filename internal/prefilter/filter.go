package prefilter

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/Veraticus/the-spice-must-recur/internal/merchant"
	"github.com/Veraticus/the-spice-must-recur/internal/model"
)

// AmountPattern matches a currency symbol followed by digits and an optional two-digit fraction.
var AmountPattern = regexp.MustCompile(`[$£€]\s?\d+(?:\.\d{2})?`)

// Input is the text the pre-filter looks at. Case does not matter.
type Input struct {
	Subject string
	Body    string
	Sender  string
}

// Decision is the outcome of evaluating one record.
type Decision struct {
	Rule   string
	Reason string
	Tier   model.FilterTier
	Accept bool
}

// Rule names, in evaluation order.
const (
	RuleHighConfidenceSubject = "high_confidence_subject"
	RuleBillingKeyword        = "billing_keyword"
	RuleBillingWithAmount     = "billing_keyword_with_amount"
	RuleReceiptFrom           = "receipt_from"
	RuleRenewalLanguage       = "renewal_language"
	RuleOneTimePurchase       = "one_time_purchase"
	RuleMarketing             = "marketing"
	RulePaymentConfirmation   = "payment_confirmation"
	RuleKnownMerchant         = "known_merchant"
	RuleNoSignal              = "no_signal"
)

type signals struct {
	subject   string
	body      string
	domain    string
	hasAmount bool
	marketing bool
}

type rule struct {
	match  func(s *signals) bool
	name   string
	reason string
	tier   model.FilterTier
	accept bool
}

// Filter evaluates records against an ordered rule table; the first matching rule wins.
// A Filter is immutable after construction and safe for concurrent use.
type Filter struct {
	knownDomains map[string]bool
	marketing    []*regexp.Regexp
	rules        []rule
}

// New compiles cfg into a Filter.
func New(cfg Config) (*Filter, error) {
	highSubject, err := compileKeywords(cfg.HighConfidenceSubjectKeywords)
	if err != nil {
		return nil, fmt.Errorf("failed to compile high confidence keywords: %w", err)
	}
	billingOptional, err := compileKeywords(cfg.BillingKeywords.AmountOptional)
	if err != nil {
		return nil, fmt.Errorf("failed to compile billing keywords: %w", err)
	}
	billingRequired, err := compileKeywords(cfg.BillingKeywords.AmountRequired)
	if err != nil {
		return nil, fmt.Errorf("failed to compile billing keywords: %w", err)
	}
	exclusions, err := compileKeywords(cfg.ExclusionKeywords)
	if err != nil {
		return nil, fmt.Errorf("failed to compile exclusion keywords: %w", err)
	}
	confirmations, err := compileKeywords(cfg.PaymentConfirmationPhrases)
	if err != nil {
		return nil, fmt.Errorf("failed to compile payment confirmation phrases: %w", err)
	}
	renewals, err := compilePatterns(cfg.RenewalPatterns)
	if err != nil {
		return nil, fmt.Errorf("failed to compile renewal patterns: %w", err)
	}
	marketing, err := compilePatterns(cfg.MarketingPatterns)
	if err != nil {
		return nil, fmt.Errorf("failed to compile marketing patterns: %w", err)
	}

	var receiptFrom *regexp.Regexp
	if cfg.ReceiptFromPattern != "" {
		receiptFrom, err = regexp.Compile("(?i)" + cfg.ReceiptFromPattern)
		if err != nil {
			return nil, fmt.Errorf("failed to compile receipt pattern: %w", err)
		}
	}

	override := strings.ToLower(strings.TrimSpace(cfg.ExclusionOverride))

	known := make(map[string]bool, len(cfg.KnownMerchantDomains))
	for _, d := range cfg.KnownMerchantDomains {
		known[strings.ToLower(strings.TrimSpace(d))] = true
	}

	f := &Filter{knownDomains: known, marketing: marketing}
	f.rules = []rule{
		{
			name:   RuleHighConfidenceSubject,
			reason: "subject mentions recurring billing",
			tier:   model.TierHigh,
			accept: true,
			match:  func(s *signals) bool { return anyMatch(highSubject, s.subject) },
		},
		{
			name:   RuleBillingKeyword,
			reason: "subject contains a billing keyword",
			tier:   model.TierMedium,
			accept: true,
			match:  func(s *signals) bool { return anyMatch(billingOptional, s.subject) },
		},
		{
			// Promotional copy outranks amount-gated billing words.
			name:   RuleBillingWithAmount,
			reason: "subject contains a billing keyword and an amount is present",
			tier:   model.TierMedium,
			accept: true,
			match: func(s *signals) bool {
				return s.hasAmount && !s.marketing && anyMatch(billingRequired, s.subject)
			},
		},
		{
			name:   RuleReceiptFrom,
			reason: "subject is a receipt from a merchant",
			tier:   model.TierMedium,
			accept: true,
			match:  func(s *signals) bool { return receiptFrom != nil && receiptFrom.MatchString(s.subject) },
		},
		{
			name:   RuleRenewalLanguage,
			reason: "body describes an upcoming renewal",
			tier:   model.TierHigh,
			accept: true,
			match:  func(s *signals) bool { return anyMatch(renewals, s.body) },
		},
		{
			name:   RuleOneTimePurchase,
			reason: "looks like a one-time purchase",
			tier:   model.TierLow,
			match: func(s *signals) bool {
				if override != "" && (strings.Contains(s.subject, override) || strings.Contains(s.body, override)) {
					return false
				}
				return anyMatch(exclusions, s.subject) || anyMatch(exclusions, s.body)
			},
		},
		{
			name:   RuleMarketing,
			reason: "promotional or marketing message",
			tier:   model.TierLow,
			match:  func(s *signals) bool { return s.marketing },
		},
		{
			name:   RulePaymentConfirmation,
			reason: "payment confirmation with an amount",
			tier:   model.TierMedium,
			accept: true,
			match: func(s *signals) bool {
				return s.hasAmount && (anyMatch(confirmations, s.subject) || anyMatch(confirmations, s.body))
			},
		},
		{
			name:   RuleKnownMerchant,
			reason: "known subscription merchant with an amount",
			tier:   model.TierMedium,
			accept: true,
			match:  func(s *signals) bool { return s.hasAmount && f.KnownDomain(s.domain) },
		},
	}

	return f, nil
}

// Evaluate classifies one record. It has no side effects.
func (f *Filter) Evaluate(in Input) Decision {
	s := &signals{
		subject: strings.ToLower(in.Subject),
		body:    strings.ToLower(in.Body),
		domain:  merchant.Domain(in.Sender),
	}
	s.hasAmount = AmountPattern.MatchString(s.subject) || AmountPattern.MatchString(s.body)
	s.marketing = anyMatch(f.marketing, s.subject) || anyMatch(f.marketing, s.body)

	for _, r := range f.rules {
		if r.match(s) {
			return Decision{Accept: r.accept, Tier: r.tier, Rule: r.name, Reason: r.reason}
		}
	}

	return Decision{
		Accept: false,
		Tier:   model.TierLow,
		Rule:   RuleNoSignal,
		Reason: "no recurring-charge signal found",
	}
}

// KnownDomain reports whether domain or one of its parents is on the known-merchant list.
func (f *Filter) KnownDomain(domain string) bool {
	domain = strings.ToLower(domain)
	for domain != "" {
		if f.knownDomains[domain] {
			return true
		}
		dot := strings.IndexByte(domain, '.')
		if dot < 0 {
			return false
		}
		domain = domain[dot+1:]
	}
	return false
}

// KnownMerchantKeys returns the merchant keys derived from the known-merchant domains.
func (f *Filter) KnownMerchantKeys() map[model.MerchantKey]bool {
	keys := make(map[model.MerchantKey]bool, len(f.knownDomains))
	for d := range f.knownDomains {
		keys[merchant.Normalize(d)] = true
	}
	return keys
}

// RuleNames lists the rule table in evaluation order.
func (f *Filter) RuleNames() []string {
	names := make([]string, 0, len(f.rules)+1)
	for _, r := range f.rules {
		names = append(names, r.name)
	}
	return append(names, RuleNoSignal)
}

func compileKeywords(keywords []string) ([]*regexp.Regexp, error) {
	patterns := make([]string, 0, len(keywords))
	for _, kw := range keywords {
		kw = strings.TrimSpace(strings.ToLower(kw))
		if kw == "" {
			continue
		}
		patterns = append(patterns, `\b`+regexp.QuoteMeta(kw)+`\b`)
	}
	return compilePatterns(patterns)
}

func compilePatterns(patterns []string) ([]*regexp.Regexp, error) {
	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile("(?i)" + p)
		if err != nil {
			return nil, fmt.Errorf("invalid pattern %q: %w", p, err)
		}
		compiled = append(compiled, re)
	}
	return compiled, nil
}

func anyMatch(patterns []*regexp.Regexp, text string) bool {
	if text == "" {
		return false
	}
	for _, re := range patterns {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}
