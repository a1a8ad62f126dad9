// Structure of data for tracked certificates
package cwdomain

// Record is one tracked certificate instance. The ID is the storage key and
// is immutable once created; the natural keys (account + common name,
// server + thumbprint) only exist to match incoming observations to records.
type Record struct {
	ID              string `json:"CertificateID"`
	CommonName      string `json:"CommonName,omitempty"`
	DisplayName     string `json:"CertificateName,omitempty"`
	ExpiryDate      string `json:"ExpiryDate,omitempty"` // canonical YYYY-MM-DD
	Status          Status `json:"Status,omitempty"`
	OwnerEmail      string `json:"OwnerEmail,omitempty"`
	SupportEmail    string `json:"SupportEmail,omitempty"`
	Application     string `json:"Application,omitempty"`
	Environment     string `json:"Environment,omitempty"`
	Notes           string `json:"Notes,omitempty"`
	CustomTags      string `json:"CustomTags,omitempty"`
	RenewalLog      string `json:"RenewalLog,omitempty"`
	IncidentNumber  string `json:"IncidentNumber,omitempty"`
	IncidentState   string `json:"IncidentState,omitempty"`
	AssignedTo      string `json:"AssignedTo,omitempty"`
	AssignedToEmail string `json:"AssignedToEmail,omitempty"`
	Source          Source `json:"Source,omitempty"`
	AccountNumber   string `json:"AccountNumber,omitempty"`
	Region          string `json:"Region,omitempty"`
	ServerID        string `json:"ServerID,omitempty"`
	ServerName      string `json:"ServerName,omitempty"`
	ServerIP        string `json:"ServerIP,omitempty"`
	Thumbprint      string `json:"Thumbprint,omitempty"`
	Subject         string `json:"Subject,omitempty"`
	Issuer          string `json:"Issuer,omitempty"`
	ACMArn          string `json:"ACM_ARN,omitempty"`
	ACMStatus       string `json:"ACM_Status,omitempty"`
	LastScannedAt   string `json:"LastScannedOn,omitempty"` // RFC3339
	CreatedAt       string `json:"CreatedOn,omitempty"`     // RFC3339
	UpdatedAt       string `json:"LastUpdatedOn,omitempty"` // RFC3339
	Version         int    `json:"Version,omitempty"`
}

// Name returns the best human-readable identifier we have for the record.
func (r *Record) Name() string {
	if r.DisplayName != "" {
		return r.DisplayName
	}
	if r.CommonName != "" {
		return r.CommonName
	}

	return r.ID
}

// ContactAddresses returns owner and support addresses, deduplicated,
// skipping empties. Order is owner first.
func (r *Record) ContactAddresses() []string {
	addrs := []string{}
	if r.OwnerEmail != "" {
		addrs = append(addrs, r.OwnerEmail)
	}
	if r.SupportEmail != "" && r.SupportEmail != r.OwnerEmail {
		addrs = append(addrs, r.SupportEmail)
	}

	return addrs
}

type Source string

const (
	SourceManual      Source = "Manual"
	SourceCASync      Source = "CA-Sync"
	SourceServerScan  Source = "Server-Scan"
	SourceExcelImport Source = "Excel-Import"
)
