package services

import (
	"fmt"
	"time"
)

// DayKeyLayout is the canonical calendar-day key format.
const DayKeyLayout = "2006-01-02"

const (
	minOffsetMinutes = -12 * 60
	maxOffsetMinutes = 14 * 60
)

// All calendar-day arithmetic in the engine goes through the helpers in this
// file. Keys are compared as strings; the fixed-width layout keeps string
// order equal to date order.

// TodayKey returns the viewer's calendar day for nowUTC.
func TodayKey(nowUTC time.Time, offsetMinutes int) string {
	return nowUTC.UTC().Add(time.Duration(offsetMinutes) * time.Minute).Format(DayKeyLayout)
}

// IsPast reports whether key is strictly before the viewer's today.
func IsPast(key string, nowUTC time.Time, offsetMinutes int) bool {
	return key < TodayKey(nowUTC, offsetMinutes)
}

// IsFutureOrToday is the complement of IsPast.
func IsFutureOrToday(key string, nowUTC time.Time, offsetMinutes int) bool {
	return !IsPast(key, nowUTC, offsetMinutes)
}

// ParseDayKey accepts only the canonical form, so "2024-3-1" is rejected.
func ParseDayKey(key string) (time.Time, error) {
	t, err := time.Parse(DayKeyLayout, key)
	if err != nil || t.Format(DayKeyLayout) != key {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidDateKey, key)
	}
	return t, nil
}

// AddDays moves a valid key by n calendar days.
func AddDays(key string, n int) (string, error) {
	t, err := ParseDayKey(key)
	if err != nil {
		return "", err
	}
	return t.AddDate(0, 0, n).Format(DayKeyLayout), nil
}

// NextBoundary returns the UTC instant at which the viewer's day rolls over.
func NextBoundary(nowUTC time.Time, offsetMinutes int) time.Time {
	shift := time.Duration(offsetMinutes) * time.Minute
	local := nowUTC.UTC().Add(shift)
	midnight := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, 1)
	return midnight.Add(-shift)
}

// ValidateOffset checks a timezone offset against the range real zones use.
func ValidateOffset(offsetMinutes int) error {
	if offsetMinutes < minOffsetMinutes || offsetMinutes > maxOffsetMinutes {
		return fmt.Errorf("%w: %d", ErrInvalidTimezone, offsetMinutes)
	}
	return nil
}
