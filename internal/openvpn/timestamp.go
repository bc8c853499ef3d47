package openvpn

import (
	"fmt"
	"strings"
	"time"
)

// timeLayouts lists accepted timestamp layouts, most specific first.
// The first two are the UTCTime and GeneralizedTime forms found in an
// easy-rsa index.txt; the rest cover what agents emit for event times.
var timeLayouts = []string{
	"060102150405Z",
	"20060102150405Z",
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParseTime parses an index.txt or ISO-8601 timestamp and returns it in UTC.
// Timestamps without a zone are taken as UTC.
func ParseTime(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, fmt.Errorf("empty timestamp")
	}

	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised timestamp %q", value)
}

// FirstTime returns the first of values that parses, or fallback if none do.
func FirstTime(fallback time.Time, values ...string) time.Time {
	for _, v := range values {
		if t, err := ParseTime(v); err == nil {
			return t
		}
	}
	return fallback
}
