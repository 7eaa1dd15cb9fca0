package merchant

import (
	"math/rand/v2"
	"strings"
	"testing"

	"github.com/Veraticus/the-spice-must-recur/internal/model"
	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  model.MerchantKey
	}{
		{name: "domain suffix", input: "NETFLIX.COM", want: "NETFLIX"},
		{name: "lower case domain", input: "Netflix.com", want: "NETFLIX"},
		{name: "masked card suffix", input: "SPOTIFY USA *1234", want: "SPOTIFY USA"},
		{name: "alphanumeric reference suffix", input: "Amazon Prime*2K4L9", want: "AMAZON PRIME"},
		{name: "masked account tail", input: "COMCAST CABLE XXXX4821", want: "COMCAST CABLE"},
		{name: "processor prefix and store number", input: "SQ *BLUE BOTTLE COFFEE #123", want: "BLUE BOTTLE COFFEE"},
		{name: "google processor prefix", input: "GOOGLE *YouTube Premium", want: "YOUTUBE PREMIUM"},
		{name: "date suffix and corporate suffix", input: "Hulu LLC 03/15", want: "HULU"},
		{name: "iso date suffix", input: "DROPBOX 2024-03-01", want: "DROPBOX"},
		{name: "long reference number", input: "POS PURCHASE GYM MEMBERSHIP 123456789", want: "GYM MEMBERSHIP"},
		{name: "whitespace collapse", input: "  adobe   systems  inc. ", want: "ADOBE SYSTEMS"},
		{name: "domain with path", input: "APPLE.COM/BILL", want: "APPLE"},
		{name: "sender with display name", input: "Netflix <info@mailer.netflix.com>", want: "NETFLIX"},
		{name: "bare sender address", input: "billing@spotify.com", want: "SPOTIFY"},
		{name: "two part public suffix", input: "receipts@bbc.co.uk", want: "BBC"},
		{name: "unrecognized input", input: "  corner deli ", want: "CORNER DELI"},
		{name: "empty", input: "", want: ""},
		{name: "stacked card suffixes", input: "ACME" + strings.Repeat(" *1", 12), want: "ACME"},
		{name: "mixed stacked suffixes", input: "GYM #12 03/15 *99 XXXX1234 #7 2024-01-01 *A1", want: "GYM"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Normalize(tt.input))
		})
	}
}

func TestNormalize_Idempotent(t *testing.T) {
	inputs := []string{
		"NETFLIX.COM",
		"SQ *BLUE BOTTLE COFFEE #123",
		"Hulu LLC 03/15",
		"AMAZON.COM*AB12CD 12/01",
		"TST* THE PIZZA PLACE # 42",
		"Spotify <no-reply@spotify.com>",
		"weird ** string ## with *** stars *",
		"ÉPICERIE ＦＵＬＬＷＩＤＴＨ",
		"paypal *paypal *netflix.com",
		"   ",
		"*1234",
		"#99",
	}

	for _, in := range inputs {
		t.Run(in, func(t *testing.T) {
			once := Normalize(in)
			assert.Equal(t, once, Normalize(string(once)))
		})
	}
}

func TestNormalize_IdempotentGenerated(t *testing.T) {
	alphabet := []string{"A", "1", " ", "*", "#", "/", "-", ".", "X", "@", "COM", "STORE", "SQ", "INC", "2024-01-01"}
	rng := rand.New(rand.NewPCG(7, 11))

	for range 20000 {
		var b strings.Builder
		for range rng.IntN(40) {
			b.WriteString(alphabet[rng.IntN(len(alphabet))])
		}
		in := b.String()
		once := Normalize(in)
		if !assert.Equal(t, once, Normalize(string(once)), "input %q", in) {
			return
		}
	}
}

func TestDomain(t *testing.T) {
	assert.Equal(t, "mailer.netflix.com", Domain("Netflix <info@Mailer.Netflix.com>"))
	assert.Equal(t, "spotify.com", Domain("billing@spotify.com"))
	assert.Equal(t, "", Domain("NETFLIX.COM"))
}

func TestDomainLabel(t *testing.T) {
	assert.Equal(t, "netflix", DomainLabel("billing.netflix.com"))
	assert.Equal(t, "bbc", DomainLabel("bbc.co.uk"))
	assert.Equal(t, "abc", DomainLabel("mail.abc.io"))
	assert.Equal(t, "localhost", DomainLabel("localhost"))
}

func TestDisplayName(t *testing.T) {
	assert.Equal(t, "Youtube Premium", DisplayName("YOUTUBE PREMIUM"))
	assert.Equal(t, "Blue Bottle Coffee", DisplayName("BLUE BOTTLE COFFEE"))
	assert.Equal(t, "", DisplayName(""))
}
