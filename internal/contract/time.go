package contract

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// relativeTimeRe captures "N [units] ago", e.g. "2 years ago" or "1 week ago".
var relativeTimeRe = regexp.MustCompile(`^(\d+)\s+(year|month|week|day|hour|minute)s?\s+ago$`)

// ParseRelativeTime converts strings like "2 years ago" into a time.Time in the past.
func ParseRelativeTime(s string, now time.Time) (time.Time, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	matches := relativeTimeRe.FindStringSubmatch(s)
	if len(matches) == 0 {
		return time.Time{}, fmt.Errorf("invalid relative time format: %s", s)
	}

	value, _ := strconv.Atoi(matches[1])
	switch matches[2] {
	case "year":
		return now.AddDate(-value, 0, 0), nil
	case "month":
		return now.AddDate(0, -value, 0), nil
	case "week":
		return now.Add(time.Duration(-value) * 7 * 24 * time.Hour), nil
	case "day":
		return now.Add(time.Duration(-value) * 24 * time.Hour), nil
	case "hour":
		return now.Add(time.Duration(-value) * time.Hour), nil
	default: // minute
		return now.Add(time.Duration(-value) * time.Minute), nil
	}
}

// lookbackDurationRe captures "N [units]".
var lookbackDurationRe = regexp.MustCompile(`^(\d+)\s+(year|month|week|day|hour|minute)s?$`)

// ParseLookbackDuration converts strings like "3 months" or "720h" into a single time.Duration.
// It first tries Go's built-in time.ParseDuration, then falls back to human-readable formats.
// Months are 30 days and years are 365 days.
func ParseLookbackDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)

	if duration, err := time.ParseDuration(s); err == nil {
		if duration <= 0 {
			return 0, errors.New("duration must be positive")
		}
		return duration, nil
	}

	s = strings.ToLower(s)
	matches := lookbackDurationRe.FindStringSubmatch(s)
	if len(matches) == 0 {
		return 0, fmt.Errorf("invalid duration format: %s", s)
	}

	value, _ := strconv.Atoi(matches[1])
	const day = 24 * time.Hour

	var total time.Duration
	switch matches[2] {
	case "year":
		total = time.Duration(value) * 365 * day
	case "month":
		total = time.Duration(value) * 30 * day
	case "week":
		total = time.Duration(value) * 7 * day
	case "day":
		total = time.Duration(value) * day
	case "hour":
		total = time.Duration(value) * time.Hour
	default: // minute
		total = time.Duration(value) * time.Minute
	}

	if total == 0 {
		return 0, errors.New("duration must be positive")
	}
	return total, nil
}

// ParseTimeInput accepts an absolute RFC3339 timestamp, a YYYY-MM-DD date or "N [units] ago".
// An empty string yields the zero time.
func ParseTimeInput(s string, now time.Time) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(DateTimeFormat, s); err == nil {
		return t, nil
	}
	if t, err := time.Parse(time.DateOnly, s); err == nil {
		return t, nil
	}
	t, err := ParseRelativeTime(s, now)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid time %q. Expected absolute ISO8601, YYYY-MM-DD or 'N [units] ago'", s)
	}
	return t, nil
}

// DaysBetween returns the non-negative number of fractional days from a to b.
func DaysBetween(a, b time.Time) float64 {
	if b.Before(a) {
		return 0
	}
	return b.Sub(a).Hours() / 24
}
