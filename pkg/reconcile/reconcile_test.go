package reconcile

import (
	"testing"
	"time"

	"github.com/function61/certwatch/pkg/cwdomain"
	"github.com/function61/gokit/assert"
)

var t0 = time.Date(2026, 3, 15, 11, 30, 0, 0, time.UTC)

func record(expiry string, status cwdomain.Status) cwdomain.Record {
	return cwdomain.Record{
		ID:         "cert-dummy1",
		CommonName: "prod4.example.net",
		ExpiryDate: expiry,
		Status:     status,
	}
}

func TestReconcileExpired(t *testing.T) {
	// expired 10 days ago
	status, changed, err := Reconcile(record("2026-03-05", cwdomain.StatusActive), t0, DefaultPolicy())

	assert.Ok(t, err)
	assert.EqualString(t, string(status), "Expired")
	assert.Assert(t, changed)
}

func TestReconcileStillActive(t *testing.T) {
	// 45 days out with a 30-day threshold
	status, changed, err := Reconcile(record("2026-04-29", cwdomain.StatusActive), t0, DefaultPolicy())

	assert.Ok(t, err)
	assert.EqualString(t, string(status), "Active")
	assert.Assert(t, !changed)
}

func TestReconcileDueForRenewal(t *testing.T) {
	status, changed, err := Reconcile(record("2026-04-01", cwdomain.StatusActive), t0, DefaultPolicy())

	assert.Ok(t, err)
	assert.EqualString(t, string(status), "Due for Renewal")
	assert.Assert(t, changed)

	// expiring today is still within the window, not yet expired
	status, _, err = Reconcile(record("2026-03-15", cwdomain.StatusActive), t0, DefaultPolicy())
	assert.Ok(t, err)
	assert.EqualString(t, string(status), "Due for Renewal")
}

func TestReconcileChangedFalseWhenStatusAlreadyCorrect(t *testing.T) {
	status, changed, err := Reconcile(record("2026-04-01", cwdomain.StatusDueForRenewal), t0, DefaultPolicy())

	assert.Ok(t, err)
	assert.EqualString(t, string(status), "Due for Renewal")
	assert.Assert(t, !changed)
}

func TestReconcileStickyStatuses(t *testing.T) {
	for _, sticky := range []cwdomain.Status{cwdomain.StatusRenewalInProgress, cwdomain.StatusRenewalDone} {
		// even a long-expired cert keeps its manual status
		status, changed, err := Reconcile(record("2020-01-01", sticky), t0, DefaultPolicy())

		assert.Ok(t, err)
		assert.EqualString(t, string(status), string(sticky))
		assert.Assert(t, !changed)
	}
}

func TestReconcileTwoTier(t *testing.T) {
	policy := TwoTierPolicy()

	// 17 days out: inside the 30-day tier
	status, _, err := Reconcile(record("2026-04-01", cwdomain.StatusActive), t0, policy)
	assert.Ok(t, err)
	assert.EqualString(t, string(status), "Expiring Soon")

	// 62 days out: inside the 90-day tier
	status, _, err = Reconcile(record("2026-05-16", cwdomain.StatusActive), t0, policy)
	assert.Ok(t, err)
	assert.EqualString(t, string(status), "Due for Renewal")

	// 120 days out: neither
	status, _, err = Reconcile(record("2026-07-13", cwdomain.StatusActive), t0, policy)
	assert.Ok(t, err)
	assert.EqualString(t, string(status), "Active")
}

func TestReconcileUnparsableExpiry(t *testing.T) {
	rec := record("not-a-date", cwdomain.StatusActive)

	status, changed, err := Reconcile(rec, t0, DefaultPolicy())

	assert.Assert(t, err != nil)
	assert.Assert(t, cwdomain.IsDataQuality(err))
	// stored status must stay untouched
	assert.EqualString(t, string(status), "Active")
	assert.Assert(t, !changed)
}

func TestDaysUntil(t *testing.T) {
	days, err := cwdomain.DaysUntil("2026-03-25", t0)
	assert.Ok(t, err)
	assert.Assert(t, days == 10)

	days, err = cwdomain.DaysUntil("2026-03-10", t0)
	assert.Ok(t, err)
	assert.Assert(t, days == -5)

	// time-of-day on "today" must not shave a day off
	lateEvening := time.Date(2026, 3, 15, 23, 59, 0, 0, time.UTC)
	days, err = cwdomain.DaysUntil("2026-03-16", lateEvening)
	assert.Ok(t, err)
	assert.Assert(t, days == 1)
}

func TestParseExpiry(t *testing.T) {
	for _, tc := range []struct {
		in  string
		out string
	}{
		{"2026-01-01", "2026-01-01"},
		{"15/04/2026", "2026-04-15"},
		{"04/15/2026", "2026-04-15"}, // month 15 invalid, falls through to MM/DD
		{"15-04-2026", "2026-04-15"},
		{"2026/04/15", "2026-04-15"},
		{"15 April 2026", "2026-04-15"},
		{"April 15, 2026", "2026-04-15"},
		{"15 Apr 2026", "2026-04-15"},
	} {
		got, err := cwdomain.ParseExpiry(tc.in)
		assert.Ok(t, err)
		assert.EqualString(t, got, tc.out)
	}

	_, err := cwdomain.ParseExpiry("not-a-date")
	assert.Assert(t, cwdomain.IsDataQuality(err))

	_, err = cwdomain.ParseExpiry("")
	assert.Assert(t, cwdomain.IsDataQuality(err))
}
