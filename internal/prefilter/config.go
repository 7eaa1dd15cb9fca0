// Package prefilter implements the cheap rule-based screen that runs before parsing and scoring.
package prefilter

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// BillingKeywords splits billing words by whether they need a visible amount.
type BillingKeywords struct {
	// AmountOptional keywords imply a charge on their own ("invoice", "receipt").
	AmountOptional []string `yaml:"amount_optional"`
	// AmountRequired keywords only count when a currency amount is present ("payment").
	AmountRequired []string `yaml:"amount_required"`
}

// Config is the injectable keyword and pattern data behind the rule table.
type Config struct {
	HighConfidenceSubjectKeywords []string        `yaml:"high_confidence_subject_keywords"`
	BillingKeywords               BillingKeywords `yaml:"billing_keywords"`
	ReceiptFromPattern            string          `yaml:"receipt_from_pattern"`
	RenewalPatterns               []string        `yaml:"renewal_patterns"`
	ExclusionKeywords             []string        `yaml:"exclusion_keywords"`
	ExclusionOverride             string          `yaml:"exclusion_override"`
	MarketingPatterns             []string        `yaml:"marketing_patterns"`
	PaymentConfirmationPhrases    []string        `yaml:"payment_confirmation_phrases"`
	KnownMerchantDomains          []string        `yaml:"known_merchant_domains"`
}

// DefaultConfig returns the built-in rule data.
func DefaultConfig() Config {
	return Config{
		HighConfidenceSubjectKeywords: []string{
			"subscription",
			"recurring payment",
			"auto-renewal",
			"auto renewal",
			"your plan renewed",
			"membership renewal",
			"renewal confirmation",
		},
		BillingKeywords: BillingKeywords{
			AmountOptional: []string{"invoice", "receipt", "your bill", "statement is ready"},
			AmountRequired: []string{"payment", "billing", "charged", "charge"},
		},
		ReceiptFromPattern: `^(?:your\s+)?receipt\s+from\s+\S+`,
		RenewalPatterns: []string{
			`next\s+billing\s+(?:date|cycle)?`,
			`renews?\s+on`,
			`will\s+(?:be\s+)?(?:automatically\s+)?(?:charged|billed|renew)\s+on`,
			`next\s+payment\s+(?:is\s+)?(?:due|scheduled)`,
			`billed\s+(?:monthly|annually|yearly|weekly)`,
		},
		ExclusionKeywords: []string{
			"tracking number",
			"order shipped",
			"has shipped",
			"out for delivery",
			"order confirmation",
			"delivered",
		},
		ExclusionOverride: "subscription",
		MarketingPatterns: []string{
			`\b\d{1,2}\s?%\s?off\b`,
			`\bflash\s+sale\b`,
			`\bblack\s+friday\b`,
			`\bcyber\s+monday\b`,
			`\bpay\s+only\s+[$£€]\s?\d`,
			`\blimited[-\s]time\s+offer\b`,
			`\bsave\s+up\s+to\b`,
		},
		PaymentConfirmationPhrases: []string{
			"thank you for your payment",
			"thanks for your payment",
			"payment received",
			"we received your payment",
		},
		KnownMerchantDomains: []string{
			"netflix.com",
			"spotify.com",
			"hulu.com",
			"disneyplus.com",
			"apple.com",
			"youtube.com",
			"amazon.com",
			"adobe.com",
			"dropbox.com",
			"microsoft.com",
			"github.com",
			"openai.com",
			"nytimes.com",
			"audible.com",
		},
	}
}

// LoadConfig reads a YAML rule file and merges it over DefaultConfig.
// List fields present in the file replace the defaults wholesale.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path) // #nosec G304
	if err != nil {
		return Config{}, fmt.Errorf("failed to read rules file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse rules file %s: %w", path, err)
	}

	return cfg, nil
}
