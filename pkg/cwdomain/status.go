package cwdomain

type Status string

const (
	StatusActive            Status = "Active"
	StatusExpiringSoon      Status = "Expiring Soon"
	StatusDueForRenewal     Status = "Due for Renewal"
	StatusExpired           Status = "Expired"
	StatusPendingAssignment Status = "Pending Assignment"
	StatusRenewalInProgress Status = "Renewal in Progress"
	StatusOnHold            Status = "On Hold"
	StatusRenewalDone       Status = "Renewal Done"
	StatusRenewalCanceled   Status = "Renewal Canceled"
	StatusUnknown           Status = "Unknown"
)

// Sticky statuses are set by humans (or by the ticketing system on their
// behalf) and must survive automated reconciliation.
func (s Status) Sticky() bool {
	return s == StatusRenewalInProgress || s == StatusRenewalDone
}
