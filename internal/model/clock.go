package model

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// DateLayout is the calendar date format used across storage and the API.
const DateLayout = "2006-01-02"

// ParseClock converts "HH:MM" to minutes after midnight.
// "24:00" is accepted as the end of day.
func ParseClock(s string) (int, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 2 || len(parts[0]) == 0 || len(parts[1]) != 2 {
		return 0, fmt.Errorf("invalid time format: %q", s)
	}

	hour, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, fmt.Errorf("invalid hour: %w", err)
	}
	minute, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, fmt.Errorf("invalid minute: %w", err)
	}

	if hour < 0 || minute < 0 || minute > 59 || hour > 24 || (hour == 24 && minute != 0) {
		return 0, fmt.Errorf("time out of range: %q", s)
	}
	return hour*60 + minute, nil
}

// FormatClock renders minutes after midnight as "HH:MM".
func FormatClock(minutes int) string {
	return fmt.Sprintf("%02d:%02d", minutes/60, minutes%60)
}

// ParseDate parses a YYYY-MM-DD date in loc.
func ParseDate(s string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.Local
	}
	return time.ParseInLocation(DateLayout, strings.TrimSpace(s), loc)
}

// CanonicalDate returns s in DateLayout. Storage keys appointments by this form.
func CanonicalDate(s string) (string, error) {
	d, err := ParseDate(s, time.UTC)
	if err != nil {
		return "", fmt.Errorf("%w: date %q must be YYYY-MM-DD", ErrInvalidInput, s)
	}
	return d.Format(DateLayout), nil
}
