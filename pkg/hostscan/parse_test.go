package hostscan

import (
	"context"
	"testing"
	"time"

	"github.com/function61/certwatch/pkg/cwdomain"
	"github.com/function61/certwatch/pkg/reconcile"
	"github.com/function61/gokit/assert"
	"github.com/function61/gokit/logex"
)

func TestParseWindowsOutput(t *testing.T) {
	certs := parseWindowsOutput(`Subject: CN=web.example.com, O=Example Corp
Issuer: CN=Example Issuing CA
Valid Until: 04/15/2027 11:59:59 PM
Thumbprint: AB12CD34EF56
---
Subject: CN=internal.example.com
Issuer: CN=Example Issuing CA
Valid Until: garbage
Thumbprint: FF00FF00FF00
---
Subject: CN=no-thumbprint.example.com
---
`)

	assert.Assert(t, len(certs) == 2)

	assert.EqualString(t, certs[0].CommonName, "web.example.com")
	assert.EqualString(t, certs[0].Issuer, "CN=Example Issuing CA")
	assert.EqualString(t, certs[0].ExpiryDate, "2027-04-15")
	assert.EqualString(t, certs[0].Thumbprint, "AB12CD34EF56")

	// unparsable timestamp keeps the cert but flags it with empty expiry
	assert.EqualString(t, certs[1].CommonName, "internal.example.com")
	assert.EqualString(t, certs[1].ExpiryDate, "")
}

func TestParseLinuxOutput(t *testing.T) {
	certs := parseLinuxOutput(`subject=CN = api.example.com, O = Example Corp
issuer=CN = Example Issuing CA
notAfter=Apr  5 23:59:59 2027 GMT
SHA1 Fingerprint=AB:12:CD:34:EF:56
---
`)

	assert.Assert(t, len(certs) == 1)
	assert.EqualString(t, certs[0].CommonName, "api.example.com")
	assert.EqualString(t, certs[0].ExpiryDate, "2027-04-05")
	assert.EqualString(t, certs[0].Thumbprint, "AB12CD34EF56")
}

func TestEnvironmentFromServerName(t *testing.T) {
	for _, tc := range []struct {
		name        string
		environment string
	}{
		{"web-prod-01", "Production"},
		{"APPPRD3", "Production"},
		{"db-stg-02", "Staging"},
		{"apptst1", "Test"},
		{"qa-runner", "Test"},
		{"devbox", "Development"},
		{"mystery-host", ""},
	} {
		assert.EqualString(t, environmentFromServerName(tc.name), tc.environment)
	}
}

type fakeStore struct {
	records map[string]cwdomain.Record
	logs    []cwdomain.LogEntry
}

func (f *fakeStore) FindByServerAndThumbprint(_ context.Context, serverID string, thumbprint string) (*cwdomain.Record, error) {
	for _, rec := range f.records {
		if rec.ServerID == serverID && rec.Thumbprint == thumbprint {
			found := rec
			return &found, nil
		}
	}

	return nil, cwdomain.ErrNotFound
}

func (f *fakeStore) Put(_ context.Context, rec cwdomain.Record) error {
	f.records[rec.ID] = rec
	return nil
}

func (f *fakeStore) AppendLog(_ context.Context, entry cwdomain.LogEntry) error {
	f.logs = append(f.logs, entry)
	return nil
}

func TestIngest(t *testing.T) {
	store := &fakeStore{records: map[string]cwdomain.Record{}}

	scanner := &Scanner{
		store:  store,
		policy: reconcile.DefaultPolicy(),
		logl:   logex.Levels(logex.Discard),
	}

	srv := server{ID: "i-0abc", Name: "web-prod-01", IP: "10.0.1.5", Platform: "Windows"}
	now := time.Date(2026, 3, 15, 11, 30, 0, 0, time.UTC)

	added, err := scanner.ingest(context.Background(), srv, HostCertificate{
		Subject:    "CN=web.example.com",
		CommonName: "web.example.com",
		Issuer:     "CN=Example Issuing CA",
		Thumbprint: "AB12CD34EF56",
		ExpiryDate: "2027-04-15",
	}, now)
	assert.Ok(t, err)
	assert.Assert(t, added)

	for _, rec := range store.records {
		assert.EqualString(t, rec.ServerID, "i-0abc")
		assert.EqualString(t, rec.Environment, "Production")
		assert.EqualString(t, string(rec.Status), "Active")
		assert.EqualString(t, string(rec.Source), "Server-Scan")
	}

	// second scan of the same cert updates instead of duplicating
	added, err = scanner.ingest(context.Background(), srv, HostCertificate{
		Subject:    "CN=web.example.com",
		CommonName: "web.example.com",
		Issuer:     "CN=Example Issuing CA",
		Thumbprint: "AB12CD34EF56",
		ExpiryDate: "2027-04-15",
	}, now)
	assert.Ok(t, err)
	assert.Assert(t, !added)
	assert.Assert(t, len(store.records) == 1)

	// missing expiry is a data quality rejection
	_, err = scanner.ingest(context.Background(), srv, HostCertificate{
		Thumbprint: "FF00FF00FF00",
	}, now)
	assert.Assert(t, cwdomain.IsDataQuality(err))
}
