package hostscan

import (
	"regexp"
	"strings"
	"time"

	"github.com/function61/certwatch/pkg/cwdomain"
)

// HostCertificate is one certificate found in a server's local store.
type HostCertificate struct {
	Subject    string
	Issuer     string
	CommonName string
	Thumbprint string
	ExpiryDate string // canonical YYYY-MM-DD, empty if the scan output was unusable
}

var commonNameRe = regexp.MustCompile(`CN\s*=\s*([^,/]+)`)

func commonNameFromSubject(subject string) string {
	match := commonNameRe.FindStringSubmatch(subject)
	if match == nil {
		return ""
	}

	return strings.TrimSpace(match[1])
}

// parseWindowsOutput reads the block format our PowerShell scan script
// emits, one certificate per "---"-terminated block:
//
//	Subject: CN=web.example.com, O=Example
//	Issuer: CN=Example CA
//	Valid Until: 04/15/2027 11:59:59 PM
//	Thumbprint: AB12CD34...
//	---
func parseWindowsOutput(output string) []HostCertificate {
	certs := []HostCertificate{}

	for _, block := range strings.Split(output, "---") {
		cert := HostCertificate{}

		for _, line := range strings.Split(block, "\n") {
			line = strings.TrimSpace(line)

			switch {
			case strings.HasPrefix(line, "Subject: "):
				cert.Subject = strings.TrimPrefix(line, "Subject: ")
			case strings.HasPrefix(line, "Issuer: "):
				cert.Issuer = strings.TrimPrefix(line, "Issuer: ")
			case strings.HasPrefix(line, "Valid Until: "):
				cert.ExpiryDate = parseWindowsTimestamp(strings.TrimPrefix(line, "Valid Until: "))
			case strings.HasPrefix(line, "Thumbprint: "):
				cert.Thumbprint = strings.TrimPrefix(line, "Thumbprint: ")
			}
		}

		if cert.Thumbprint == "" {
			continue
		}

		cert.CommonName = commonNameFromSubject(cert.Subject)
		certs = append(certs, cert)
	}

	return certs
}

func parseWindowsTimestamp(raw string) string {
	parsed, err := time.Parse("01/02/2006 03:04:05 PM", strings.TrimSpace(raw))
	if err != nil {
		return ""
	}

	return parsed.Format(cwdomain.DateFormat)
}

// parseLinuxOutput reads what our shell scan script emits, which is the
// openssl x509 text output plus a block separator:
//
//	subject=CN = web.example.com
//	issuer=CN = Example CA
//	notAfter=Apr 15 23:59:59 2027 GMT
//	SHA1 Fingerprint=AB:12:CD:34:...
//	---
func parseLinuxOutput(output string) []HostCertificate {
	certs := []HostCertificate{}

	for _, block := range strings.Split(output, "---") {
		cert := HostCertificate{}

		for _, line := range strings.Split(block, "\n") {
			line = strings.TrimSpace(line)

			switch {
			case strings.HasPrefix(line, "subject="):
				cert.Subject = strings.TrimPrefix(line, "subject=")
			case strings.HasPrefix(line, "issuer="):
				cert.Issuer = strings.TrimPrefix(line, "issuer=")
			case strings.HasPrefix(line, "notAfter="):
				cert.ExpiryDate = parseOpensslTimestamp(strings.TrimPrefix(line, "notAfter="))
			case strings.HasPrefix(line, "SHA1 Fingerprint="):
				cert.Thumbprint = strings.ReplaceAll(strings.TrimPrefix(line, "SHA1 Fingerprint="), ":", "")
			}
		}

		if cert.Thumbprint == "" {
			continue
		}

		cert.CommonName = commonNameFromSubject(cert.Subject)
		certs = append(certs, cert)
	}

	return certs
}

func parseOpensslTimestamp(raw string) string {
	// openssl pads single-digit days with an extra space
	normalized := strings.Join(strings.Fields(strings.TrimSpace(raw)), " ")

	parsed, err := time.Parse("Jan 2 15:04:05 2006 MST", normalized)
	if err != nil {
		return ""
	}

	return parsed.UTC().Format(cwdomain.DateFormat)
}

// environmentFromServerName guesses the environment from naming conventions
// like "web-prod-01" or "apptst3". Unknown stays empty.
func environmentFromServerName(name string) string {
	lower := strings.ToLower(name)

	switch {
	case strings.Contains(lower, "prod") || strings.Contains(lower, "prd"):
		return "Production"
	case strings.Contains(lower, "stg") || strings.Contains(lower, "stage") || strings.Contains(lower, "staging"):
		return "Staging"
	case strings.Contains(lower, "tst") || strings.Contains(lower, "test") || strings.Contains(lower, "qa"):
		return "Test"
	case strings.Contains(lower, "dev"):
		return "Development"
	}

	return ""
}
