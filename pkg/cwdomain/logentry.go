package cwdomain

// LogEntry is one audit trail row. Every automated mutation (import, sync,
// status change, notification, ticket) appends one.
type LogEntry struct {
	LogID         string            `json:"LogID"`
	CertificateID string            `json:"CertificateID"`
	Timestamp     string            `json:"Timestamp"` // RFC3339
	Action        string            `json:"Action"`
	Details       map[string]string `json:"Details,omitempty"`
	Source        string            `json:"Source,omitempty"`
}

// audit actions
const (
	ActionImported      = "INITIAL_IMPORT"
	ActionStatusChanged = "STATUS_CHANGED"
	ActionNotified      = "EMAIL_NOTIFICATION_SENT"
	ActionTicketCreated = "TICKET_CREATED"
	ActionIncidentSync  = "INCIDENT_STATE_SYNCED"
	ActionFieldsMerged  = "OBSERVATION_MERGED"
)
