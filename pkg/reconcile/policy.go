// Pure status-derivation and merge logic. Nothing in this package does I/O -
// callers persist results and invoke actuators.
package reconcile

import (
	"github.com/function61/certwatch/pkg/cwdomain"
)

// Tier maps "expires within N days" to a status. Tiers are checked in order,
// first match wins, so they must be sorted tightest-first.
type Tier struct {
	WithinDays int
	Status     cwdomain.Status
}

type Policy struct {
	Tiers []Tier
}

// DefaultPolicy is the single 30-day cutoff.
func DefaultPolicy() Policy {
	return Policy{Tiers: []Tier{
		{WithinDays: 30, Status: cwdomain.StatusDueForRenewal},
	}}
}

// TwoTierPolicy splits the renewal window: inside a month it's urgent,
// inside a quarter it's at least visible.
func TwoTierPolicy() Policy {
	return Policy{Tiers: []Tier{
		{WithinDays: 30, Status: cwdomain.StatusExpiringSoon},
		{WithinDays: 90, Status: cwdomain.StatusDueForRenewal},
	}}
}

// ActionThresholdDays is the widest tier: a record whose days-until-expiry
// is at or under this is in the "needs action" range.
func (p Policy) ActionThresholdDays() int {
	if len(p.Tiers) == 0 {
		return 0
	}

	return p.Tiers[len(p.Tiers)-1].WithinDays
}

func (p Policy) statusForDays(days int) cwdomain.Status {
	if days < 0 {
		return cwdomain.StatusExpired
	}

	for _, tier := range p.Tiers {
		if days <= tier.WithinDays {
			return tier.Status
		}
	}

	return cwdomain.StatusActive
}
