package model

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Money is a currency-tagged decimal amount.
type Money struct {
	Amount   decimal.Decimal
	Currency string
}

// NewMoney creates a Money value from a decimal amount and ISO currency code.
func NewMoney(amount decimal.Decimal, currency string) Money {
	return Money{Amount: amount, Currency: currency}
}

// MustMoney parses a decimal string. It panics on malformed input and is meant for fixtures.
func MustMoney(amount, currency string) Money {
	return Money{Amount: decimal.RequireFromString(amount), Currency: currency}
}

// Equal reports whether both amount and currency match.
func (m Money) Equal(other Money) bool {
	return m.Currency == other.Currency && m.Amount.Equal(other.Amount)
}

func (m Money) String() string {
	return fmt.Sprintf("%s %s", m.Amount.StringFixed(2), m.Currency)
}
