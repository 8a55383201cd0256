// Package datetime provides date and time utility functions.
package datetime

import (
	"time"
)

// DateLayout is the plain date format accepted in filters and rate updates.
const DateLayout = "2006-01-02"

// MustParseTime parses a date string using the given layout and panics on error.
// This is intended for use in tests where the date string is known to be valid.
func MustParseTime(layout, dateStr string) time.Time {
	t, err := time.Parse(layout, dateStr)
	if err != nil {
		panic(err)
	}
	return t
}

// ParseBound parses a filter bound given as an RFC 3339 timestamp or a plain
// date. A plain upper bound covers the whole day.
func ParseBound(value string, upper bool) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t, nil
	}
	t, err := time.Parse(DateLayout, value)
	if err != nil {
		return time.Time{}, err
	}
	if upper {
		t = EndOfDay(t)
	}
	return t, nil
}

// StartOfDay returns midnight UTC of the day t falls on in UTC.
func StartOfDay(t time.Time) time.Time {
	return t.UTC().Truncate(24 * time.Hour)
}

// EndOfDay returns the last representable instant of the UTC day of t.
func EndOfDay(t time.Time) time.Time {
	return StartOfDay(t).Add(24*time.Hour - time.Nanosecond)
}

// EffectiveDate resolves an optional plain date, falling back to the day of now.
func EffectiveDate(value string, now time.Time) (time.Time, error) {
	if value == "" {
		return StartOfDay(now), nil
	}
	return time.Parse(DateLayout, value)
}
