package snowticket

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/function61/certwatch/pkg/certregistry"
	"github.com/function61/certwatch/pkg/cwdomain"
)

// WebhookPayload is what a ServiceNow business rule POSTs us when an
// incident changes state or gets assigned. correlation_id is our record ID.
type WebhookPayload struct {
	IncidentNumber   string     `json:"incident_number"`
	SysID            string     `json:"sys_id"`
	State            string     `json:"state"`
	AssignedTo       AssignedTo `json:"assigned_to"`
	CorrelationID    string     `json:"correlation_id"`
	ShortDescription string     `json:"short_description"`
	Priority         string     `json:"priority"`
	UpdatedOn        string     `json:"updated_on"`
}

type AssignedTo struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	SysID string `json:"sys_id"`
}

func (p *WebhookPayload) Validate() error {
	if p.CorrelationID == "" {
		return fmt.Errorf("webhook payload: missing correlation_id")
	}
	if p.IncidentNumber == "" {
		return fmt.Errorf("webhook payload: missing incident_number")
	}

	return nil
}

// incident state -> certificate status. This is a fixed lookup, not
// computed logic.
var statusForIncidentState = map[string]cwdomain.Status{
	"1": cwdomain.StatusPendingAssignment, // New
	"2": cwdomain.StatusRenewalInProgress, // In Progress
	"3": cwdomain.StatusOnHold,            // On Hold
	"6": cwdomain.StatusRenewalDone,       // Resolved
	"7": cwdomain.StatusRenewalDone,       // Closed
	"8": cwdomain.StatusRenewalCanceled,   // Canceled
}

var incidentStateNames = map[string]string{
	"1": "New",
	"2": "In Progress",
	"3": "On Hold",
	"6": "Resolved",
	"7": "Closed",
	"8": "Canceled",
}

func StatusForIncidentState(state string) (cwdomain.Status, string) {
	status, found := statusForIncidentState[state]
	if !found {
		return cwdomain.StatusUnknown, "Unknown"
	}

	return status, incidentStateNames[state]
}

// ValidateSignature checks the HMAC-SHA256 hex signature the sender computed
// over the raw request body. Empty secret means validation is not configured.
func ValidateSignature(secret string, body []byte, signature string) bool {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))

	return hmac.Equal([]byte(expected), []byte(signature))
}

// IncidentStore is the slice of the registry the webhook needs.
type IncidentStore interface {
	ApplyIncidentUpdate(ctx context.Context, id string, upd certregistry.IncidentUpdate) error
	AppendLog(ctx context.Context, entry cwdomain.LogEntry) error
}

// ProcessWebhook maps the incident state to a certificate status and
// persists it. Returns the new status for the HTTP response.
func ProcessWebhook(ctx context.Context, store IncidentStore, payload WebhookPayload) (cwdomain.Status, error) {
	if err := payload.Validate(); err != nil {
		return "", err
	}

	newStatus, stateName := StatusForIncidentState(payload.State)

	updatedOn := payload.UpdatedOn
	if updatedOn == "" {
		updatedOn = time.Now().UTC().Format(time.RFC3339)
	}

	if err := store.ApplyIncidentUpdate(ctx, payload.CorrelationID, certregistry.IncidentUpdate{
		IncidentNumber:  payload.IncidentNumber,
		IncidentState:   stateName,
		Status:          newStatus,
		AssignedTo:      payload.AssignedTo.Name,
		AssignedToEmail: payload.AssignedTo.Email,
		UpdatedOn:       updatedOn,
	}); err != nil {
		return "", fmt.Errorf("ProcessWebhook %s: %w", payload.CorrelationID, err)
	}

	// audit failure does not undo the update
	_ = store.AppendLog(ctx, cwdomain.LogEntry{
		CertificateID: payload.CorrelationID,
		Action:        cwdomain.ActionIncidentSync,
		Source:        "ServiceNow Webhook",
		Details: map[string]string{
			"incident_number": payload.IncidentNumber,
			"incident_state":  stateName,
			"new_status":      string(newStatus),
			"assignee":        payload.AssignedTo.Name,
		},
	})

	return newStatus, nil
}
