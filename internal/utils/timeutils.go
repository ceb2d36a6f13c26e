package utils

import (
	"fmt"
	"time"
)

// CommitClock returns the UTC hour and day of week of t, with Monday as day 0.
func CommitClock(t time.Time) (hour, dayOfWeek int) {
	utc := t.UTC()
	return utc.Hour(), (int(utc.Weekday()) + 6) % 7
}

// ParseRFC3339 returns a UTC time from the provided string. An empty value yields the
// zero time without error.
func ParseRFC3339(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse time: %w", err)
	}
	return t.UTC(), nil
}

// FormatRFC3339 renders t in UTC, or "" for the zero time.
func FormatRFC3339(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
