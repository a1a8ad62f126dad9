package reconcile

import (
	"time"

	"github.com/function61/certwatch/pkg/cwdomain"
)

// Reconcile derives the record's next lifecycle status from its expiry date
// and previous status. Sticky (manually set) statuses are returned
// unchanged regardless of the date. An unparsable expiry date yields a
// DataQualityError and the caller must leave the stored record untouched.
func Reconcile(rec cwdomain.Record, today time.Time, policy Policy) (cwdomain.Status, bool, error) {
	if rec.Status.Sticky() {
		return rec.Status, false, nil
	}

	days, err := cwdomain.DaysUntil(rec.ExpiryDate, today)
	if err != nil {
		return rec.Status, false, err
	}

	newStatus := policy.statusForDays(days)

	return newStatus, newStatus != rec.Status, nil
}
