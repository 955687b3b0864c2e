package transactions

import (
	"strings"
	"time"
)

// TimestampLayout is how scored transactions are stamped.
const TimestampLayout = "2006-01-02T15:04:05.000000"

// Layouts tried in order. Day-first layouts come before month-first ones so
// "08-10-2024" reads as 8 October. Values without a zone are UTC.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04",
	"2006-01-02 15:04",
	"2006-01-02",
	"02-01-2006 15:04:05",
	"02-01-2006 15:04",
	"02-01-2006",
	"02/01/2006 15:04:05",
	"02/01/2006 15:04",
	"02/01/2006",
	"2-1-2006 15:04",
	"2/1/2006 15:04",
}

// ParseTimestamp parses the timestamp formats found in the historical
// dataset and the scored log.
func ParseTimestamp(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}
