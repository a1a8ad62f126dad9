package reconcile

import (
	"github.com/function61/certwatch/pkg/cwdomain"
)

// MergeObservation folds facts reported by an automated source (CA sync,
// host scan, spreadsheet import) into an existing record. Preserved fields
// keep the existing value when non-empty - automated passes must never
// clobber manually curated data. Everything else is observed-side
// authoritative. Pure and idempotent; neither input is mutated.
func MergeObservation(existing cwdomain.Record, observed cwdomain.Record) cwdomain.Record {
	merged := observed

	// identity and creation metadata always come from the existing record
	merged.ID = existing.ID
	merged.CreatedAt = existing.CreatedAt
	if existing.Version > 0 {
		merged.Version = existing.Version
	}

	merged.OwnerEmail = preferExisting(existing.OwnerEmail, observed.OwnerEmail)
	merged.SupportEmail = preferExisting(existing.SupportEmail, observed.SupportEmail)
	merged.Application = preferExisting(existing.Application, observed.Application)
	merged.Notes = preferExisting(existing.Notes, observed.Notes)
	merged.RenewalLog = preferExisting(existing.RenewalLog, observed.RenewalLog)
	merged.CustomTags = preferExisting(existing.CustomTags, observed.CustomTags)
	merged.IncidentNumber = preferExisting(existing.IncidentNumber, observed.IncidentNumber)

	// sticky statuses survive merges the same way they survive reconciliation
	if existing.Status.Sticky() {
		merged.Status = existing.Status
	}

	return merged
}

func preferExisting(existing string, observed string) string {
	if existing != "" {
		return existing
	}

	return observed
}
