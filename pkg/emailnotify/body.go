package emailnotify

import (
	"bytes"
	"fmt"
	"html/template"
	"strings"
	"time"

	"github.com/function61/certwatch/pkg/cwdomain"
	"github.com/function61/certwatch/pkg/reconcile"
)

func textBody(records []cwdomain.Record, thresholdDays int, today time.Time) string {
	b := &strings.Builder{}

	fmt.Fprintf(b, `Certificate Expiry Alert

This is an automated notification that %d certificate(s) are expiring within the next %d days.

Please take immediate action to renew the following certificates:

`, len(records), thresholdDays)

	for _, rec := range records {
		days, _ := cwdomain.DaysUntil(rec.ExpiryDate, today)

		fmt.Fprintf(b, `Certificate: %s
Environment: %s
Application: %s
Expiry Date: %s
Days Until Expiry: %d
Status: %s
---
`, rec.Name(), orUnknown(rec.Environment), orUnknown(rec.Application), rec.ExpiryDate, days, rec.Status)
	}

	b.WriteString(`
Next Steps:
1. Review the renewal ticket for the certificate (one is opened automatically)
2. Update the certificate status to "Renewal in Progress" in the dashboard
3. Coordinate with the certificate authority for renewal
4. Upload the new certificate once renewed

This is an automated message from the certificate lifecycle tracker.
`)

	return b.String()
}

type htmlRow struct {
	Name        string
	Environment string
	Application string
	ExpiryDate  string
	Days        int
	Owner       string
	Status      cwdomain.Status
	Urgent      bool
}

var htmlTemplate = template.Must(template.New("alert").Parse(`<html>
<head>
	<style>
		body { font-family: Arial, sans-serif; margin: 20px; }
		.header { background-color: #f44336; color: white; padding: 15px; border-radius: 5px; }
		table { border-collapse: collapse; width: 100%; }
		th, td { border: 1px solid #ddd; padding: 8px; text-align: left; }
		th { background-color: #f2f2f2; }
		tr.urgent td { background-color: #ffe0db; }
	</style>
</head>
<body>
	<div class="header">
		<h2>Certificate Expiry Alert</h2>
		<p>{{.Count}} certificate(s) are expiring within the next {{.ThresholdDays}} days.</p>
	</div>

	<table>
		<tr>
			<th>Certificate</th><th>Environment</th><th>Application</th>
			<th>Expiry Date</th><th>Days Until Expiry</th><th>Owner</th><th>Status</th>
		</tr>
		{{range .Rows}}<tr{{if .Urgent}} class="urgent"{{end}}>
			<td>{{.Name}}</td><td>{{.Environment}}</td><td>{{.Application}}</td>
			<td>{{.ExpiryDate}}</td><td>{{.Days}}</td><td>{{.Owner}}</td><td>{{.Status}}</td>
		</tr>{{end}}
	</table>

	<p><strong>Important:</strong> this is an automated message from the certificate lifecycle tracker.</p>
</body>
</html>
`))

func htmlBody(records []cwdomain.Record, thresholdDays int, today time.Time) (string, error) {
	rows := []htmlRow{}
	for _, rec := range records {
		days, _ := cwdomain.DaysUntil(rec.ExpiryDate, today)

		rows = append(rows, htmlRow{
			Name:        rec.Name(),
			Environment: orUnknown(rec.Environment),
			Application: orUnknown(rec.Application),
			ExpiryDate:  rec.ExpiryDate,
			Days:        days,
			Owner:       orUnknown(rec.OwnerEmail),
			Status:      rec.Status,
			Urgent:      reconcile.TicketPriority(days) <= "2",
		})
	}

	out := &bytes.Buffer{}
	if err := htmlTemplate.Execute(out, struct {
		Count         int
		ThresholdDays int
		Rows          []htmlRow
	}{len(records), thresholdDays, rows}); err != nil {
		return "", err
	}

	return out.String(), nil
}

func orUnknown(value string) string {
	if value == "" {
		return "Unknown"
	}

	return value
}
