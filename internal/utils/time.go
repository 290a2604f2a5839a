package utils

import (
	"errors"
	"time"
)

// DateLayout is the calendar date format shared by the storefront and the tables.
const DateLayout = "2006-01-02"

var ErrInvalidDate = errors.New("invalid date, expected YYYY-MM-DD")

// ParseDate parses a YYYY-MM-DD string into midnight UTC of that day.
func ParseDate(s string) (time.Time, error) {
	t, err := time.ParseInLocation(DateLayout, s, time.UTC)
	if err != nil {
		return time.Time{}, ErrInvalidDate
	}
	return t, nil
}

func FormatDate(t time.Time) string {
	return t.Format(DateLayout)
}

// TruncateDay drops the clock part of t, keeping its calendar day.
func TruncateDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// IsBeforeDay reports whether date falls on a calendar day earlier than now.
func IsBeforeDay(date, now time.Time) bool {
	return TruncateDay(date).Before(TruncateDay(now))
}
