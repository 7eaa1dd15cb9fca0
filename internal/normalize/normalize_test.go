package normalize

import (
	"testing"
	"time"

	"github.com/Veraticus/the-spice-must-recur/internal/common"
	"github.com/Veraticus/the-spice-must-recur/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAmount(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		currency string
		want     string
		wantCode string
		wantErr  bool
	}{
		{name: "plain decimal", text: "12.34", want: "12.34", wantCode: "USD"},
		{name: "dollar symbol", text: "$12.34", want: "12.34", wantCode: "USD"},
		{name: "thousands separator", text: "1,234.56", want: "1234.56", wantCode: "USD"},
		{name: "negative sign dropped", text: "-9.99", want: "9.99", wantCode: "USD"},
		{name: "accounting negative", text: "(15.00)", want: "15", wantCode: "USD"},
		{name: "pound symbol", text: "£7.99", want: "7.99", wantCode: "GBP"},
		{name: "euro symbol with space", text: "€ 4.50", want: "4.5", wantCode: "EUR"},
		{name: "trailing iso code", text: "10.00 cad", want: "10", wantCode: "CAD"},
		{name: "explicit currency wins", text: "$5.00", currency: "aud", want: "5", wantCode: "AUD"},
		{name: "empty", text: "  ", wantErr: true},
		{name: "garbage", text: "twelve dollars", wantErr: true},
		{name: "bad currency field", text: "5.00", currency: "DOLLARS", wantErr: true},
		{name: "mixed currency symbols", text: "€4.00$", wantErr: true},
		{name: "mixed symbols with explicit currency", text: "$5 €", currency: "USD", wantErr: true},
		{name: "symbol beats iso code", text: "£3.00 USD", want: "3", wantCode: "GBP"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseAmount(tt.text, tt.currency, "USD")
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, common.ErrMalformedRecord)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.Amount.String())
			assert.Equal(t, tt.wantCode, got.Currency)
		})
	}
}

func TestParseDate(t *testing.T) {
	jan5 := time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		text    string
		want    time.Time
		wantErr bool
	}{
		{name: "iso date", text: "2024-01-05", want: jan5},
		{name: "compact date", text: "20240105", want: jan5},
		{name: "rfc3339 with offset", text: "2024-01-05T02:00:00+02:00", want: jan5},
		{name: "email date", text: "Fri, 05 Jan 2024 00:00:00 +0000", want: jan5},
		{name: "email date with zone comment", text: "Fri, 5 Jan 2024 00:00:00 +0000 (UTC)", want: jan5},
		{name: "unix seconds", text: "1704412800", want: jan5},
		{name: "us slashes", text: "01/05/2024", want: jan5},
		{name: "missing", text: "", wantErr: true},
		{name: "garbage", text: "last tuesday", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseDate(tt.text)
			if tt.wantErr {
				assert.ErrorIs(t, err, common.ErrMalformedRecord)
				return
			}
			require.NoError(t, err)
			assert.True(t, tt.want.Equal(got), "got %s", got)
			assert.Equal(t, time.UTC, got.Location())
		})
	}
}

func TestNormalizer_Transaction(t *testing.T) {
	n := New(Config{})
	fixed := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	n.now = func() time.Time { return fixed }

	event, err := n.Normalize("user-1", model.ProviderRecord{
		Source:               model.SourceTransaction,
		SubjectOrDescription: " NETFLIX.COM 866-579-7172 ",
		BodyOrMerchantString: "NETFLIX.COM *1234",
		SenderOrAccountRef:   "acct-checking",
		Amount:               "-15.49",
		OccurredAt:           "2024-05-03",
		RawIdentifier:        "txn-001",
	})
	require.NoError(t, err)

	assert.Equal(t, model.EventID("user-1", model.SourceTransaction, "txn-001"), event.ID)
	assert.Equal(t, "user-1", event.UserID)
	assert.Equal(t, "NETFLIX.COM 866-579-7172", event.SubjectOrDescription)
	assert.Equal(t, "NETFLIX.COM *1234", event.BodyOrMerchantString)
	assert.Equal(t, "acct-checking", event.SenderOrAccountRef)
	assert.True(t, model.MustMoney("15.49", "USD").Equal(event.Amount))
	assert.Equal(t, time.Date(2024, 5, 3, 0, 0, 0, 0, time.UTC), event.OccurredAt)
	assert.Equal(t, fixed, event.IngestedAt)
	assert.Empty(t, event.MerchantKey)
}

func TestNormalizer_MerchantHintReplacesMerchantString(t *testing.T) {
	n := New(Config{})

	event, err := n.Normalize("u", model.ProviderRecord{
		Source:               model.SourceTransaction,
		BodyOrMerchantString: "SQ *BLUE BOTTLE #0042",
		MerchantHint:         "Blue Bottle Coffee",
		Amount:               "4.50",
		OccurredAt:           "2024-05-03",
		RawIdentifier:        "txn-2",
	})
	require.NoError(t, err)
	assert.Equal(t, "Blue Bottle Coffee", event.BodyOrMerchantString)
}

func TestNormalizer_EmailAmountExtraction(t *testing.T) {
	n := New(Config{DefaultCurrency: "gbp"})

	event, err := n.Normalize("u", model.ProviderRecord{
		Source:               model.SourceEmail,
		SubjectOrDescription: "Your Spotify receipt",
		BodyOrMerchantString: "Premium Individual £10.99 renews on 3 June",
		SenderOrAccountRef:   "Spotify <no-reply@spotify.com>",
		OccurredAt:           "Mon, 03 Jun 2024 09:12:00 +0000",
		RawIdentifier:        "msg-1",
	})
	require.NoError(t, err)
	assert.True(t, model.MustMoney("10.99", "GBP").Equal(event.Amount))
}

func TestNormalizer_EmailWithoutAmountIsMalformed(t *testing.T) {
	n := New(Config{})

	_, err := n.Normalize("u", model.ProviderRecord{
		Source:               model.SourceEmail,
		SubjectOrDescription: "Welcome aboard",
		BodyOrMerchantString: "Thanks for signing up",
		OccurredAt:           "2024-05-03",
		RawIdentifier:        "msg-2",
	})
	assert.ErrorIs(t, err, common.ErrMalformedRecord)
}

func TestNormalizer_HTMLBody(t *testing.T) {
	n := New(Config{})

	event, err := n.Normalize("u", model.ProviderRecord{
		Source:               model.SourceEmail,
		SubjectOrDescription: "Receipt",
		BodyOrMerchantString: `<html><body><div><p>Your plan <b>renews on</b> July 1.</p><p>Total: $9.99</p></div></body></html>`,
		Amount:               "9.99",
		OccurredAt:           "2024-06-01",
		RawIdentifier:        "msg-3",
	})
	require.NoError(t, err)
	assert.NotContains(t, event.BodyOrMerchantString, "<")
	assert.Contains(t, event.BodyOrMerchantString, "renews on")
	assert.Contains(t, event.BodyOrMerchantString, "$9.99")
}

func TestNormalizer_PlainTextPassesThrough(t *testing.T) {
	n := New(Config{})
	assert.Equal(t, "amount < 10 and > 5", n.PlainText("amount < 10 and > 5"))
}

func TestNormalizer_Rejects(t *testing.T) {
	n := New(Config{})

	base := model.ProviderRecord{
		Source:        model.SourceTransaction,
		Amount:        "1.00",
		OccurredAt:    "2024-01-01",
		RawIdentifier: "x",
	}

	tests := []struct {
		name   string
		mutate func(r *model.ProviderRecord)
	}{
		{name: "unknown source", mutate: func(r *model.ProviderRecord) { r.Source = "fax" }},
		{name: "missing identifier", mutate: func(r *model.ProviderRecord) { r.RawIdentifier = " " }},
		{name: "bad amount", mutate: func(r *model.ProviderRecord) { r.Amount = "n/a" }},
		{name: "bad date", mutate: func(r *model.ProviderRecord) { r.OccurredAt = "soon" }},
		{name: "missing transaction amount", mutate: func(r *model.ProviderRecord) { r.Amount = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := base
			tt.mutate(&rec)
			_, err := n.Normalize("u", rec)
			assert.ErrorIs(t, err, common.ErrMalformedRecord)
		})
	}
}
