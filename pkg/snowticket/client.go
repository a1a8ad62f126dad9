package snowticket

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io/ioutil"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/function61/certwatch/pkg/cwdomain"
	"github.com/function61/certwatch/pkg/reconcile"
	"github.com/function61/gokit/jsonfile"
	"github.com/function61/gokit/logex"
)

type Client struct {
	creds      *Credentials
	httpClient *http.Client
	logl       *logex.Leveled
}

func NewClient(creds *Credentials, logger *log.Logger) *Client {
	return &Client{
		creds:      creds,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logl:       logex.Levels(logger),
	}
}

// CreateTicket opens a renewal incident for the given certificate and
// returns the incident number. The certificate's record ID goes out as the
// incident's correlation ID so the inbound webhook can find its way back.
func (c *Client) CreateTicket(ctx context.Context, rec cwdomain.Record, daysUntilExpiry int) (string, error) {
	token, err := c.oauthToken(ctx)
	if err != nil {
		return "", fmt.Errorf("CreateTicket: %w", err)
	}

	incident := incidentRequest{
		Interface:        "incident",
		Sender:           "certificate_monitoring",
		ShortDescription: fmt.Sprintf("Certificate Expiring: %s (%s)", rec.Name(), orNotSpecified(rec.Environment)),
		Description:      ticketDescription(rec, daysUntilExpiry),
		Caller:           c.creds.callerOrUsername(),
		CorrelationID:    rec.ID,
		BusinessService:  c.creds.BusinessService,
		ServiceOffering:  c.creds.ServiceOffering,
		Company:          c.creds.Company,
		Priority:         reconcile.TicketPriority(daysUntilExpiry),

		CertificateID:   rec.ID,
		ExpiryDate:      rec.ExpiryDate,
		Environment:     rec.Environment,
		Application:     orNotSpecified(rec.Application),
		DaysUntilExpiry: strconv.Itoa(daysUntilExpiry),
	}

	body := &bytes.Buffer{}
	if err := jsonfile.Marshal(body, incident); err != nil {
		return "", fmt.Errorf("CreateTicket: %w", err)
	}

	req, err := http.NewRequestWithContext(
		ctx,
		http.MethodPost,
		fmt.Sprintf("https://%s.service-now.com/api/x_lsmcb_sca/sc", c.creds.Instance),
		body)
	if err != nil {
		return "", fmt.Errorf("CreateTicket: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("CreateTicket: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		detail, _ := ioutil.ReadAll(resp.Body)
		return "", fmt.Errorf("CreateTicket: ticketing API returned %d: %s", resp.StatusCode, detail)
	}

	created := struct {
		Result struct {
			Number string `json:"number"`
		} `json:"result"`
	}{}
	if err := jsonfile.Unmarshal(resp.Body, &created, false); err != nil {
		return "", fmt.Errorf("CreateTicket: %w", err)
	}

	if created.Result.Number == "" {
		return "", fmt.Errorf("CreateTicket: no incident number in response")
	}

	c.logl.Info.Printf("created incident %s for %s", created.Result.Number, rec.ID)

	return created.Result.Number, nil
}

func (c *Client) oauthToken(ctx context.Context) (string, error) {
	form := url.Values{}
	form.Set("grant_type", "password")
	form.Set("username", c.creds.Username)
	form.Set("password", c.creds.Password)
	form.Set("scope", "useraccount")

	req, err := http.NewRequestWithContext(
		ctx,
		http.MethodPost,
		fmt.Sprintf("https://%s.service-now.com/oauth_token.do", c.creds.Instance),
		strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}

	basicAuth := base64.StdEncoding.EncodeToString([]byte(c.creds.ClientID + ":" + c.creds.ClientSecret))
	req.Header.Set("Authorization", "Basic "+basicAuth)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("oauth token: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := ioutil.ReadAll(resp.Body)
		return "", fmt.Errorf("oauth token: HTTP %d: %s", resp.StatusCode, detail)
	}

	token := struct {
		AccessToken string `json:"access_token"`
	}{}
	if err := jsonfile.Unmarshal(resp.Body, &token, false); err != nil {
		return "", fmt.Errorf("oauth token: %w", err)
	}

	if token.AccessToken == "" {
		return "", fmt.Errorf("oauth token: no access_token in response")
	}

	return token.AccessToken, nil
}

type incidentRequest struct {
	Interface        string `json:"interface"`
	Sender           string `json:"sender"`
	ShortDescription string `json:"short_description"`
	Description      string `json:"description"`
	Caller           string `json:"caller"`
	CorrelationID    string `json:"correlation_id"`
	BusinessService  string `json:"business_service,omitempty"`
	ServiceOffering  string `json:"service_offering,omitempty"`
	Company          string `json:"company,omitempty"`
	Priority         string `json:"priority"`

	// custom incident fields
	CertificateID   string `json:"u_certificate_id"`
	ExpiryDate      string `json:"u_expiry_date"`
	Environment     string `json:"u_environment,omitempty"`
	Application     string `json:"u_application"`
	DaysUntilExpiry string `json:"u_days_until_expiry"`
}

func ticketDescription(rec cwdomain.Record, daysUntilExpiry int) string {
	return fmt.Sprintf(`CERTIFICATE EXPIRY ALERT

A certificate is approaching its expiration date and requires renewal action.

Certificate Details:
- Certificate Name: %s
- Environment: %s
- Application: %s
- Current Status: %s

Expiry Information:
- Expiry Date: %s
- Days Until Expiry: %d days
- Urgency: %s

Certificate Owner:
- Owner Email: %s
- Support Email: %s

Provenance:
- Certificate ID: %s
- Account Number: %s
- Common Name: %s
- ACM ARN: %s

Update the certificate status to "Renewal Done" in the dashboard once the
renewal is complete; this incident's state changes are synced back
automatically.

Auto-generated by the certificate lifecycle tracker.
`,
		rec.Name(),
		orNotSpecified(rec.Environment),
		orNotSpecified(rec.Application),
		orNotSpecified(string(rec.Status)),
		orNotSpecified(rec.ExpiryDate),
		daysUntilExpiry,
		reconcile.UrgencyLabel(daysUntilExpiry),
		orNotSpecified(rec.OwnerEmail),
		orNotSpecified(rec.SupportEmail),
		rec.ID,
		orNotSpecified(rec.AccountNumber),
		orNotSpecified(rec.CommonName),
		orNotSpecified(rec.ACMArn))
}

func orNotSpecified(value string) string {
	if value == "" {
		return "Not specified"
	}

	return value
}
