// Spreadsheet ingestion: .xlsx workbooks uploaded to the uploads bucket.
package excelimport

import (
	"strings"
)

// spreadsheet authors never agree on column names; map the usual suspects
// to our canonical field names. unknown columns are ignored.
var columnAliases = map[string][]string{
	"CertificateName": {"certificate_name", "certificatename", "cert_name", "name", "certificate", "domain"},
	"CommonName":      {"common_name", "commonname", "cn"},
	"ExpiryDate":      {"exp_date", "expiry_date", "expirydate", "expiration_date", "expires", "expiry"},
	"AccountNumber":   {"account_number", "accountnumber", "account", "acc_number"},
	"Application":     {"application", "app", "service", "system"},
	"Environment":     {"env", "environment", "stage"},
	"Status":          {"status", "state", "condition"},
	"OwnerEmail":      {"owner_email", "owneremail", "owner", "contact_email", "contact"},
	"SupportEmail":    {"support_email", "supportemail", "support"},
	"IncidentNumber":  {"incident_number", "incidentnumber", "incident", "ticket_number"},
	"Notes":           {"notes", "comment", "comments", "remarks"},
	"RenewalLog":      {"renewal_log", "renewallog", "log"},
}

// mapColumns resolves a header row to canonical field names by position.
func mapColumns(headers []string) map[int]string {
	mapping := map[int]string{}

	for idx, header := range headers {
		normalized := strings.ReplaceAll(strings.TrimSpace(strings.ToLower(header)), " ", "_")
		if normalized == "" {
			continue
		}

		for canonical, aliases := range columnAliases {
			if normalized == strings.ToLower(canonical) {
				mapping[idx] = canonical
				break
			}

			for _, alias := range aliases {
				if normalized == alias {
					mapping[idx] = canonical
					break
				}
			}

			if _, done := mapping[idx]; done {
				break
			}
		}
	}

	return mapping
}
