package base

import (
	"regexp"
	"strings"
	"time"
)

// Layouts for the date and clock-time fields carried as strings on the wire.
const (
	DateLayout = "2006-01-02"
	TimeLayout = "15:04"
)

// contentHashRegex matches a lowercase hex SHA-256 digest, the only form of
// blob reference stored on the ledger.
var contentHashRegex = regexp.MustCompile(`^[0-9a-f]{64}$`)

// Require returns a validation error when value is blank.
func Require(field, value string) error {
	if strings.TrimSpace(value) == "" {
		return NewValidationError("MISSING_FIELD", "%s is required", field)
	}
	return nil
}

// ValidContentHash reports whether h is a well-formed content hash.
func ValidContentHash(h string) bool {
	return contentHashRegex.MatchString(h)
}

// ParseDate parses a YYYY-MM-DD calendar date.
func ParseDate(field, value string) (time.Time, error) {
	t, err := time.Parse(DateLayout, value)
	if err != nil {
		return time.Time{}, NewValidationError("INVALID_DATE", "%s must be a %s date, got %q", field, DateLayout, value)
	}
	return t, nil
}

// ParseClockTime validates an HH:MM time-of-day string. Values in this format
// compare correctly as plain strings, which the interval checks rely on.
func ParseClockTime(field, value string) error {
	if _, err := time.Parse(TimeLayout, value); err != nil {
		return NewValidationError("INVALID_TIME", "%s must be a %s time, got %q", field, TimeLayout, value)
	}
	return nil
}

// ParseTimestamp parses an RFC3339 timestamp.
func ParseTimestamp(field, value string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, NewValidationError("INVALID_TIMESTAMP", "%s must be an RFC3339 timestamp, got %q", field, value)
	}
	return t.UTC(), nil
}

// Contains checks if a string is in a slice.
func Contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
