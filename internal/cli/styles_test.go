package cli

import (
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestFormatMoney(t *testing.T) {
	assert.Equal(t, "15.49 USD", FormatMoney(decimal.RequireFromString("15.49"), "USD"))
	assert.Equal(t, "7.00", FormatMoney(decimal.NewFromInt(7), ""))
}

func TestFormatConfidence(t *testing.T) {
	assert.Contains(t, FormatConfidence(0.934), "93%")
	assert.Contains(t, FormatConfidence(0.5), "50%")
}

func TestRenderTable(t *testing.T) {
	out := RenderTable([]string{"Name", "Cost"}, [][]string{
		{"Netflix", "15.49 USD"},
		{"Spotify", "10.99 GBP"},
	})

	assert.Contains(t, out, "Name")
	assert.Contains(t, out, "Netflix")
	assert.Contains(t, out, "10.99 GBP")
	assert.Less(t, strings.Index(out, "Netflix"), strings.Index(out, "Spotify"))
}
