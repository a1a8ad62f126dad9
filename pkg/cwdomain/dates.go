package cwdomain

import (
	"time"
)

// canonical storage format for expiry dates. comparisons are date-only.
const DateFormat = "2006-01-02"

// spreadsheets arrive with dates in whatever format the author's locale
// produced. ordering matters: DD/MM/YYYY is tried before MM/DD/YYYY, so an
// ambiguous "04/05/2026" reads as 4 May.
var acceptedDateLayouts = []string{
	DateFormat,
	"02/01/2006",
	"01/02/2006",
	"02-01-2006",
	"2006/01/02",
	"2 January 2006",
	"January 2, 2006",
	"2 Jan 2006",
}

// ParseExpiry canonicalizes a raw date value to YYYY-MM-DD. An unparsable
// value is a DataQualityError - never silently coerced to a default.
func ParseExpiry(raw string) (string, error) {
	if raw == "" {
		return "", &DataQualityError{Field: "ExpiryDate", Raw: raw}
	}

	for _, layout := range acceptedDateLayouts {
		if parsed, err := time.Parse(layout, raw); err == nil {
			return parsed.Format(DateFormat), nil
		}
	}

	return "", &DataQualityError{Field: "ExpiryDate", Raw: raw}
}

// DaysUntil computes whole days from today until the given canonical expiry
// date. Negative when already expired. Time-of-day is ignored on both sides.
func DaysUntil(expiry string, today time.Time) (int, error) {
	exp, err := time.Parse(DateFormat, expiry)
	if err != nil {
		return 0, &DataQualityError{Field: "ExpiryDate", Raw: expiry}
	}

	midnight := time.Date(today.Year(), today.Month(), today.Day(), 0, 0, 0, 0, time.UTC)

	return int(exp.Sub(midnight).Hours() / 24), nil
}
