// Package merchant normalizes free-text sender and merchant strings into stable merchant keys.
package merchant

import (
	"net/mail"
	"regexp"
	"strings"
	"unicode"

	"github.com/Veraticus/the-spice-must-recur/internal/model"
	"golang.org/x/text/unicode/norm"
)

var (
	whitespaceRegex = regexp.MustCompile(`\s+`)
	// "*1234", "* 1234", "*2K4L9" at the end of the string.
	maskedCardRegex = regexp.MustCompile(`\s*\*+\s*[A-Z0-9]*[0-9][A-Z0-9]*$`)
	// "XXXX1234" masked account tails.
	maskedAccountRegex = regexp.MustCompile(`\s+X{2,}[0-9]{2,}$`)
	storeNumberRegex   = regexp.MustCompile(`\s*(?:STORE\s*)?#\s*[0-9]+$|\s+STORE\s+[0-9]+$`)
	dateSuffixRegex    = regexp.MustCompile(`\s+(?:[0-9]{1,2}[/-][0-9]{1,2}(?:[/-][0-9]{2,4})?|[0-9]{4}-[0-9]{2}-[0-9]{2}|[0-9]{6,})$`)
	// Processor tokens that precede the real merchant, e.g. "SQ *BLUE BOTTLE".
	processorPrefixRegex = regexp.MustCompile(`^(?:SQ|TST|PAYPAL|PP|SP|PY|IC|GOOGLE|STRIPE|CKO|DD|BT)\s*\*\s*`)
	domainSuffixRegex    = regexp.MustCompile(`\.(?:COM|NET|ORG|IO|CO|TV|APP|CO\.UK)(?:/\S*)?$`)
	corporateSuffixRegex = regexp.MustCompile(`[\s,]+(?:INC|LLC|LTD|CORP|CORPORATION|LIMITED|GMBH)\.?$`)
)

// Trailing noise stripped repeatedly until none matches. Every pattern consumes at
// least one character.
var noiseSuffixes = []*regexp.Regexp{maskedCardRegex, maskedAccountRegex, storeNumberRegex, dateSuffixRegex}

// Descriptor prefixes banks put in front of card and ACH rows.
var textPrefixes = []string{
	"POS PURCHASE ",
	"PURCHASE AUTHORIZED ON ",
	"DEBIT CARD PURCHASE ",
	"RECURRING PAYMENT ",
	"ACH DEBIT ",
	"CHECK CARD ",
	"VISA PURCHASE ",
	"MC PURCHASE ",
	"DEBIT PURCHASE ",
}

// Normalize converts a raw sender or merchant string into a MerchantKey.
// It never fails and is idempotent: Normalize(string(Normalize(x))) == Normalize(x).
func Normalize(raw string) model.MerchantKey {
	current := normalizeOnce(raw)
	for {
		next := normalizeOnce(current)
		if next == current {
			return model.MerchantKey(current)
		}
		current = next
	}
}

func normalizeOnce(raw string) string {
	s := fromSender(raw)
	s = norm.NFKC.String(strings.ToUpper(s))
	s = strings.ToUpper(s)
	s = collapse(s)

	s = trimNoise(s)

	s = processorPrefixRegex.ReplaceAllString(s, "")
	for _, prefix := range textPrefixes {
		if strings.HasPrefix(s, prefix) && len(s) > len(prefix) {
			s = s[len(prefix):]
			break
		}
	}

	s = domainSuffixRegex.ReplaceAllString(s, "")
	s = corporateSuffixRegex.ReplaceAllString(s, "")

	s = strings.Trim(s, " .,-_*#:;/")
	return collapse(s)
}

func trimNoise(s string) string {
	for {
		before := s
		for _, re := range noiseSuffixes {
			s = re.ReplaceAllString(s, "")
		}
		if s == before {
			return s
		}
	}
}

// fromSender reduces an e-mail style sender to its most merchant-like part:
// the display name if present, otherwise the second-level domain label.
func fromSender(raw string) string {
	if !strings.Contains(raw, "@") {
		return raw
	}

	addr, err := mail.ParseAddress(raw)
	if err != nil {
		return raw
	}
	if name := strings.TrimSpace(addr.Name); name != "" {
		return name
	}
	return DomainLabel(Domain(addr.Address))
}

// Domain returns the lower-cased domain part of an e-mail sender, or "" if none.
func Domain(sender string) string {
	sender = strings.TrimSpace(sender)
	if addr, err := mail.ParseAddress(sender); err == nil {
		sender = addr.Address
	}
	at := strings.LastIndex(sender, "@")
	if at < 0 || at == len(sender)-1 {
		return ""
	}
	return strings.ToLower(strings.Trim(sender[at+1:], "> "))
}

// DomainLabel returns the registrable label of a domain: "billing.netflix.com" → "netflix".
func DomainLabel(domain string) string {
	parts := strings.Split(strings.Trim(domain, "."), ".")
	switch {
	case len(parts) >= 3 && secondLevelSuffixes[parts[len(parts)-2]] && len(parts[len(parts)-1]) == 2:
		return parts[len(parts)-3]
	case len(parts) >= 2:
		return parts[len(parts)-2]
	default:
		return domain
	}
}

// Labels that form two-part public suffixes such as co.uk or com.au.
var secondLevelSuffixes = map[string]bool{
	"co":  true,
	"com": true,
	"net": true,
	"org": true,
	"ac":  true,
	"gov": true,
}

func collapse(s string) string {
	return strings.TrimSpace(whitespaceRegex.ReplaceAllString(s, " "))
}

// DisplayName turns a merchant key into a human-friendly proposed name.
func DisplayName(key model.MerchantKey) string {
	words := strings.Fields(strings.ToLower(string(key)))
	for i, word := range words {
		runes := []rune(word)
		for j := range runes {
			if j == 0 || !unicode.IsLetter(runes[j-1]) {
				runes[j] = unicode.ToUpper(runes[j])
			}
		}
		words[i] = string(runes)
	}
	return strings.Join(words, " ")
}
