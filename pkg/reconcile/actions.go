package reconcile

import (
	"github.com/function61/certwatch/pkg/cwdomain"
)

// Actions are the side effects a caller should trigger after reconciling a
// record. Actuation failures are the caller's problem and never roll back
// the status write.
type Actions struct {
	Notify       bool
	CreateTicket bool
}

// DecideActions decides which actuators to fire for a reconciled record.
//
// Notify fires when the status actually changed and someone is reachable.
// CreateTicket fires when the record crossed into the needs-action range
// and no ticket exists yet - IncidentNumber presence suppresses duplicates
// until an external process clears it. Sticky statuses mean a human is
// already on it, so no new ticket either.
func DecideActions(
	oldStatus cwdomain.Status,
	newStatus cwdomain.Status,
	rec cwdomain.Record,
	daysUntilExpiry int,
	policy Policy,
) Actions {
	actions := Actions{}

	if oldStatus != newStatus && len(rec.ContactAddresses()) > 0 {
		actions.Notify = true
	}

	needsAction := daysUntilExpiry <= policy.ActionThresholdDays()
	if needsAction && rec.IncidentNumber == "" && !newStatus.Sticky() {
		actions.CreateTicket = true
	}

	return actions
}

// TicketPriority maps days-until-expiry to a ticket priority tier. The
// mapping is exact and monotonic: fewer days never yields a lower priority.
//
//	expired       -> "1" (critical)
//	< 7 days      -> "2" (high)
//	< 14 days     -> "3" (medium)
//	< 30 days     -> "4" (low)
//	>= 30 days    -> "5" (planning)
func TicketPriority(daysUntilExpiry int) string {
	switch {
	case daysUntilExpiry < 0:
		return "1"
	case daysUntilExpiry < 7:
		return "2"
	case daysUntilExpiry < 14:
		return "3"
	case daysUntilExpiry < 30:
		return "4"
	default:
		return "5"
	}
}

// UrgencyLabel is the human-readable companion of TicketPriority, used in
// ticket descriptions and notification emails.
func UrgencyLabel(daysUntilExpiry int) string {
	switch {
	case daysUntilExpiry < 0:
		return "CRITICAL - EXPIRED"
	case daysUntilExpiry < 7:
		return "HIGH - Less than 1 week"
	case daysUntilExpiry < 14:
		return "MEDIUM - 1-2 weeks"
	case daysUntilExpiry < 30:
		return "LOW - 2-4 weeks"
	default:
		return "PLANNING - More than 30 days"
	}
}
