package utils

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// NNTPDateLayouts lists the date formats seen in overview data, most
// common first. All parses are converted to UTC.
var NNTPDateLayouts = []string{
	time.RFC1123Z,                      // "Mon, 02 Jan 2006 15:04:05 -0700"
	time.RFC1123,                       // "Mon, 02 Jan 2006 15:04:05 MST"
	"2 Jan 2006 15:04:05 -0700",        // RFC 822 without weekday
	"2 Jan 2006 15:04:05 MST",
	"Mon, 2 Jan 2006 15:04:05 -0700",   // single-digit day
	"Mon, 2 Jan 2006 15:04:05 MST",
	"Mon, 02 Jan 2006 15:04:05 -0700 (MST)",
	"Mon, 2 Jan 2006 15:04 -0700",      // missing seconds
	"02 Jan 06 15:04:05 MST",           // two-digit year
	"02 Jan 06 15:04:05 -0700",
}

var (
	parenTzRe      = regexp.MustCompile(`\s*\([^)]*\)\s*$`)
	threeDigitTzRe = regexp.MustCompile(`\s([+-])(\d{3})$`)
)

// ParseNNTPDate parses an RFC 2822 style date header to UTC.
// Articles whose date cannot be parsed are rejected, so unlike the
// rest of the decode path this returns an error.
func ParseNNTPDate(dateStr string) (time.Time, error) {
	s := strings.TrimSpace(dateStr)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty date header")
	}

	// Remove trailing parenthesized timezone, e.g. " (NZDT)"
	s = strings.TrimSpace(parenTzRe.ReplaceAllString(s, ""))

	// Fix 3-digit timezone formats like +200 -> +0200
	if m := threeDigitTzRe.FindStringSubmatch(s); len(m) == 3 {
		s = threeDigitTzRe.ReplaceAllString(s, " "+m[1]+"0"+m[2])
	}

	for _, layout := range NNTPDateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable date header: %q", dateStr)
}
