// The scheduled sweep: reconciles every record's lifecycle status against
// today's date, persists changes and fires the notification and ticketing
// actuators. Runs daily from a timer, but is safe to run any number of times.
package sweep

import (
	"context"
	"log"
	"sort"
	"strconv"
	"time"

	"github.com/function61/certwatch/pkg/cwdomain"
	"github.com/function61/certwatch/pkg/reconcile"
	"github.com/function61/gokit/logex"
)

// Store is the slice of the registry the sweep needs.
type Store interface {
	All(ctx context.Context) ([]cwdomain.Record, error)
	UpdateStatus(ctx context.Context, id string, status cwdomain.Status, now time.Time) error
	SetIncident(ctx context.Context, id string, incidentNumber string, now time.Time) error
	AppendLog(ctx context.Context, entry cwdomain.LogEntry) error
}

type Notifier interface {
	SendExpiryAlert(ctx context.Context, recipient string, records []cwdomain.Record, today time.Time) error
}

type Ticketer interface {
	CreateTicket(ctx context.Context, rec cwdomain.Record, daysUntilExpiry int) (string, error)
}

type Options struct {
	Notify  bool
	Tickets bool
	DryRun  bool // report what would change, write and send nothing
	Policy  reconcile.Policy
}

// Report summarizes one sweep run.
type Report struct {
	Total             int `json:"total"`
	StatusChanges     int `json:"status_changes"`
	NotificationsSent int `json:"notifications_sent"`
	TicketsCreated    int `json:"tickets_created"`
	DataQuality       int `json:"data_quality"`
	Errors            int `json:"errors"`
}

type Sweep struct {
	store    Store
	notifier Notifier
	ticketer Ticketer
	opts     Options
	logl     *logex.Leveled
}

// notifier and ticketer may be nil; the corresponding actuation is then off
// regardless of options.
func New(store Store, notifier Notifier, ticketer Ticketer, opts Options, logger *log.Logger) *Sweep {
	return &Sweep{
		store:    store,
		notifier: notifier,
		ticketer: ticketer,
		opts:     opts,
		logl:     logex.Levels(logger),
	}
}

// Run reconciles all records. Per-record failures are counted and logged
// but never abort the rest of the sweep.
func (s *Sweep) Run(ctx context.Context, today time.Time) (*Report, error) {
	records, err := s.store.All(ctx)
	if err != nil {
		return nil, err
	}

	report := &Report{Total: len(records)}

	// recipient -> the records they get alerted about, one email per recipient
	pendingAlerts := map[string][]cwdomain.Record{}

	for _, rec := range records {
		s.sweepOne(ctx, rec, today, report, pendingAlerts)
	}

	s.sendAlerts(ctx, pendingAlerts, today, report)

	s.logl.Info.Printf(
		"%d record(s): %d status change(s), %d notification(s), %d ticket(s), %d data quality, %d error(s)",
		report.Total,
		report.StatusChanges,
		report.NotificationsSent,
		report.TicketsCreated,
		report.DataQuality,
		report.Errors)

	return report, nil
}

func (s *Sweep) sweepOne(
	ctx context.Context,
	rec cwdomain.Record,
	today time.Time,
	report *Report,
	pendingAlerts map[string][]cwdomain.Record,
) {
	oldStatus := rec.Status

	newStatus, changed, err := reconcile.Reconcile(rec, today, s.opts.Policy)
	if err != nil {
		if cwdomain.IsDataQuality(err) {
			report.DataQuality++
			s.logl.Error.Printf("%s (%s): %v", rec.ID, rec.Name(), err)
		} else {
			report.Errors++
			s.logl.Error.Printf("%s: reconcile: %v", rec.ID, err)
		}
		return
	}

	if changed {
		report.StatusChanges++

		if s.opts.DryRun {
			s.logl.Info.Printf("[dry-run] %s (%s): %s -> %s", rec.ID, rec.Name(), oldStatus, newStatus)
		} else {
			if err := s.store.UpdateStatus(ctx, rec.ID, newStatus, today); err != nil {
				report.Errors++
				s.logl.Error.Printf("%s: update status: %v", rec.ID, err)
				return
			}

			_ = s.store.AppendLog(ctx, cwdomain.LogEntry{
				CertificateID: rec.ID,
				Action:        cwdomain.ActionStatusChanged,
				Source:        "Sweep",
				Details: map[string]string{
					"old_status": string(oldStatus),
					"new_status": string(newStatus),
				},
			})
		}

		rec.Status = newStatus
	}

	// sticky statuses already returned before this; days is parsable here
	days, err := cwdomain.DaysUntil(rec.ExpiryDate, today)
	if err != nil {
		return
	}

	actions := reconcile.DecideActions(oldStatus, newStatus, rec, days, s.opts.Policy)

	if actions.Notify && s.opts.Notify && s.notifier != nil {
		for _, addr := range rec.ContactAddresses() {
			pendingAlerts[addr] = append(pendingAlerts[addr], rec)
		}
	}

	if actions.CreateTicket && s.opts.Tickets && s.ticketer != nil {
		s.createTicket(ctx, rec, days, today, report)
	}
}

func (s *Sweep) createTicket(ctx context.Context, rec cwdomain.Record, days int, today time.Time, report *Report) {
	if s.opts.DryRun {
		s.logl.Info.Printf("[dry-run] %s (%s): would create ticket", rec.ID, rec.Name())
		return
	}

	incidentNumber, err := s.ticketer.CreateTicket(ctx, rec, days)
	if err != nil {
		report.Errors++
		s.logl.Error.Printf("%s: create ticket: %v", rec.ID, err)
		return
	}

	if err := s.store.SetIncident(ctx, rec.ID, incidentNumber, today); err != nil {
		report.Errors++
		s.logl.Error.Printf("%s: set incident: %v", rec.ID, err)
		return
	}

	_ = s.store.AppendLog(ctx, cwdomain.LogEntry{
		CertificateID: rec.ID,
		Action:        cwdomain.ActionTicketCreated,
		Source:        "Sweep",
		Details: map[string]string{
			"incident_number":   incidentNumber,
			"days_until_expiry": strconv.Itoa(days),
		},
	})

	report.TicketsCreated++
}

func (s *Sweep) sendAlerts(
	ctx context.Context,
	pendingAlerts map[string][]cwdomain.Record,
	today time.Time,
	report *Report,
) {
	recipients := make([]string, 0, len(pendingAlerts))
	for recipient := range pendingAlerts {
		recipients = append(recipients, recipient)
	}
	sort.Strings(recipients)

	for _, recipient := range recipients {
		records := pendingAlerts[recipient]

		if s.opts.DryRun {
			s.logl.Info.Printf("[dry-run] would alert %s about %d certificate(s)", recipient, len(records))
			continue
		}

		if err := s.notifier.SendExpiryAlert(ctx, recipient, records, today); err != nil {
			report.Errors++
			s.logl.Error.Printf("alert %s: %v", recipient, err)
			continue
		}

		report.NotificationsSent++

		for _, rec := range records {
			_ = s.store.AppendLog(ctx, cwdomain.LogEntry{
				CertificateID: rec.ID,
				Action:        cwdomain.ActionNotified,
				Source:        "Sweep",
				Details: map[string]string{
					"recipient": recipient,
					"status":    string(rec.Status),
				},
			})
		}
	}
}
