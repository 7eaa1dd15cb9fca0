package normalize

import (
	"fmt"
	"net/mail"
	"strconv"
	"strings"
	"time"

	"github.com/Veraticus/the-spice-must-recur/internal/common"
)

var dateLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
	"20060102",
	"01/02/2006",
	time.RFC1123Z,
	time.RFC1123,
	time.RFC822Z,
	time.RFC822,
}

// ParseDate parses provider date text. Dates without a zone are taken as UTC.
// Runs of nine or more digits are read as Unix seconds.
func ParseDate(text string) (time.Time, error) {
	s := strings.TrimSpace(text)
	if s == "" {
		return time.Time{}, fmt.Errorf("missing date: %w", common.ErrMalformedRecord)
	}

	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}

	if t, err := mail.ParseDate(s); err == nil {
		return t.UTC(), nil
	}

	if len(s) >= 9 && isDigits(s) {
		secs, err := strconv.ParseInt(s, 10, 64)
		if err == nil {
			return time.Unix(secs, 0).UTC(), nil
		}
	}

	return time.Time{}, fmt.Errorf("unparseable date %q: %w", text, common.ErrMalformedRecord)
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
