package normalize

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/Veraticus/the-spice-must-recur/internal/common"
	"github.com/Veraticus/the-spice-must-recur/internal/model"
	"github.com/shopspring/decimal"
)

var currencySymbols = []struct {
	symbol string
	code   string
}{
	{"$", "USD"},
	{"£", "GBP"},
	{"€", "EUR"},
}

var isoCodeRegex = regexp.MustCompile(`\b([A-Z]{3})\b`)

// ParseAmount parses provider amount text into a currency-tagged decimal.
// Accepted forms include "12.34", "$12.34", "1,234.56", "-9.99", "(9.99)" and "9.99 USD".
// The sign is dropped; charges and refunds are both recorded as magnitudes.
// An explicit currency wins over a symbol or code found in the text, which in turn
// wins over defaultCurrency. Text carrying two different currency symbols is malformed.
func ParseAmount(text, currency, defaultCurrency string) (model.Money, error) {
	s := strings.TrimSpace(text)
	if s == "" {
		return model.Money{}, fmt.Errorf("empty amount: %w", common.ErrMalformedRecord)
	}

	detected := ""
	for _, cs := range currencySymbols {
		if !strings.Contains(s, cs.symbol) {
			continue
		}
		if detected != "" {
			return model.Money{}, fmt.Errorf("mixed currency symbols in %q: %w", text, common.ErrMalformedRecord)
		}
		detected = cs.code
		s = strings.ReplaceAll(s, cs.symbol, "")
	}
	if m := isoCodeRegex.FindStringSubmatch(strings.ToUpper(s)); m != nil {
		if detected == "" {
			detected = m[1]
		}
		s = isoCodeRegex.ReplaceAllString(strings.ToUpper(s), "")
	}

	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "(")
	s = strings.TrimSuffix(s, ")")
	s = strings.TrimPrefix(s, "-")
	s = strings.TrimPrefix(s, "+")
	s = strings.ReplaceAll(s, ",", "")
	s = strings.ReplaceAll(s, " ", "")

	amount, err := decimal.NewFromString(s)
	if err != nil {
		return model.Money{}, fmt.Errorf("unparseable amount %q: %w", text, common.ErrMalformedRecord)
	}

	code := strings.ToUpper(strings.TrimSpace(currency))
	if code == "" {
		code = detected
	}
	if code == "" {
		code = defaultCurrency
	}
	if len(code) != 3 {
		return model.Money{}, fmt.Errorf("invalid currency %q: %w", code, common.ErrMalformedRecord)
	}

	return model.NewMoney(amount.Abs(), code), nil
}
