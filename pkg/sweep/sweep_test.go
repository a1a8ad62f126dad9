package sweep

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/function61/certwatch/pkg/cwdomain"
	"github.com/function61/certwatch/pkg/reconcile"
	"github.com/function61/gokit/assert"
	"github.com/function61/gokit/logex"
)

var t0 = time.Date(2026, 3, 15, 11, 30, 0, 0, time.UTC)

type fakeStore struct {
	records   []cwdomain.Record
	statuses  map[string]cwdomain.Status
	incidents map[string]string
	logs      []cwdomain.LogEntry
}

func newFakeStore(records ...cwdomain.Record) *fakeStore {
	return &fakeStore{
		records:   records,
		statuses:  map[string]cwdomain.Status{},
		incidents: map[string]string{},
	}
}

func (f *fakeStore) All(_ context.Context) ([]cwdomain.Record, error) {
	return f.records, nil
}

func (f *fakeStore) UpdateStatus(_ context.Context, id string, status cwdomain.Status, _ time.Time) error {
	f.statuses[id] = status
	return nil
}

func (f *fakeStore) SetIncident(_ context.Context, id string, incidentNumber string, _ time.Time) error {
	f.incidents[id] = incidentNumber
	return nil
}

func (f *fakeStore) AppendLog(_ context.Context, entry cwdomain.LogEntry) error {
	f.logs = append(f.logs, entry)
	return nil
}

type fakeNotifier struct {
	alerts map[string][]cwdomain.Record
}

func (f *fakeNotifier) SendExpiryAlert(_ context.Context, recipient string, records []cwdomain.Record, _ time.Time) error {
	if f.alerts == nil {
		f.alerts = map[string][]cwdomain.Record{}
	}
	f.alerts[recipient] = records
	return nil
}

type fakeTicketer struct {
	created []string
}

func (f *fakeTicketer) CreateTicket(_ context.Context, rec cwdomain.Record, _ int) (string, error) {
	f.created = append(f.created, rec.ID)
	return fmt.Sprintf("INC%07d", len(f.created)), nil
}

func testFleet() []cwdomain.Record {
	return []cwdomain.Record{
		{
			ID:         "cert-healthy",
			CommonName: "healthy.example.com",
			ExpiryDate: "2026-04-29", // 45 days out
			Status:     cwdomain.StatusActive,
			OwnerEmail: "alice@example.com",
		},
		{
			ID:         "cert-due",
			CommonName: "due.example.com",
			ExpiryDate: "2026-04-01", // 17 days out
			Status:     cwdomain.StatusActive,
			OwnerEmail: "alice@example.com",
		},
		{
			ID:           "cert-expired",
			CommonName:   "expired.example.com",
			ExpiryDate:   "2026-03-05", // 10 days ago
			Status:       cwdomain.StatusActive,
			OwnerEmail:   "alice@example.com",
			SupportEmail: "team@example.com",
		},
		{
			ID:         "cert-inprogress",
			CommonName: "inprogress.example.com",
			ExpiryDate: "2026-03-01",
			Status:     cwdomain.StatusRenewalInProgress,
			OwnerEmail: "alice@example.com",
		},
		{
			ID:             "cert-ticketed",
			CommonName:     "ticketed.example.com",
			ExpiryDate:     "2026-04-01",
			Status:         cwdomain.StatusDueForRenewal,
			OwnerEmail:     "alice@example.com",
			IncidentNumber: "INC0817937",
		},
		{
			ID:         "cert-baddate",
			CommonName: "baddate.example.com",
			ExpiryDate: "someday soon",
			Status:     cwdomain.StatusActive,
		},
	}
}

func TestRun(t *testing.T) {
	store := newFakeStore(testFleet()...)
	notifier := &fakeNotifier{}
	ticketer := &fakeTicketer{}

	report, err := New(store, notifier, ticketer, Options{
		Notify:  true,
		Tickets: true,
		Policy:  reconcile.DefaultPolicy(),
	}, logex.Discard).Run(context.Background(), t0)
	assert.Ok(t, err)

	assert.Assert(t, report.Total == 6)
	assert.Assert(t, report.StatusChanges == 2)
	assert.Assert(t, report.DataQuality == 1)
	assert.Assert(t, report.Errors == 0)

	// only the two changed records got status writes
	assert.Assert(t, len(store.statuses) == 2)
	assert.EqualString(t, string(store.statuses["cert-due"]), "Due for Renewal")
	assert.EqualString(t, string(store.statuses["cert-expired"]), "Expired")

	// alice gets ONE email covering both of her changed certificates
	assert.Assert(t, report.NotificationsSent == 2)
	assert.Assert(t, len(notifier.alerts["alice@example.com"]) == 2)
	assert.Assert(t, len(notifier.alerts["team@example.com"]) == 1)

	// tickets for both needs-action records; cert-ticketed is suppressed by
	// its existing incident, cert-inprogress by its sticky status
	assert.Assert(t, report.TicketsCreated == 2)
	assert.Assert(t, len(ticketer.created) == 2)
	assert.Assert(t, store.incidents["cert-due"] != "")
	assert.Assert(t, store.incidents["cert-expired"] != "")
	_, ticketedAgain := store.incidents["cert-ticketed"]
	assert.Assert(t, !ticketedAgain)
	_, inProgressTicketed := store.incidents["cert-inprogress"]
	assert.Assert(t, !inProgressTicketed)
}

func TestRunIsIdempotent(t *testing.T) {
	store := newFakeStore(testFleet()...)

	report, err := New(store, nil, nil, Options{
		Policy: reconcile.DefaultPolicy(),
	}, logex.Discard).Run(context.Background(), t0)
	assert.Ok(t, err)
	assert.Assert(t, report.StatusChanges == 2)

	// simulate the writes having landed, then sweep again
	for idx, rec := range store.records {
		if status, changed := store.statuses[rec.ID]; changed {
			store.records[idx].Status = status
		}
	}
	store.statuses = map[string]cwdomain.Status{}

	report, err = New(store, nil, nil, Options{
		Policy: reconcile.DefaultPolicy(),
	}, logex.Discard).Run(context.Background(), t0)
	assert.Ok(t, err)
	assert.Assert(t, report.StatusChanges == 0)
	assert.Assert(t, len(store.statuses) == 0)
}

func TestRunDryRun(t *testing.T) {
	store := newFakeStore(testFleet()...)
	notifier := &fakeNotifier{}
	ticketer := &fakeTicketer{}

	report, err := New(store, notifier, ticketer, Options{
		Notify:  true,
		Tickets: true,
		DryRun:  true,
		Policy:  reconcile.DefaultPolicy(),
	}, logex.Discard).Run(context.Background(), t0)
	assert.Ok(t, err)

	// changes are reported but nothing is written or sent
	assert.Assert(t, report.StatusChanges == 2)
	assert.Assert(t, report.NotificationsSent == 0)
	assert.Assert(t, report.TicketsCreated == 0)
	assert.Assert(t, len(store.statuses) == 0)
	assert.Assert(t, len(store.incidents) == 0)
	assert.Assert(t, len(store.logs) == 0)
	assert.Assert(t, len(notifier.alerts) == 0)
	assert.Assert(t, len(ticketer.created) == 0)
}
