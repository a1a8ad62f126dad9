package acmsync

import (
	"context"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/acm"
	"github.com/function61/certwatch/pkg/cwdomain"
	"github.com/function61/certwatch/pkg/reconcile"
	"github.com/function61/gokit/assert"
	"github.com/function61/gokit/logex"
)

func TestRecordFromACM(t *testing.T) {
	notAfter := time.Date(2027, 4, 15, 23, 59, 59, 0, time.UTC)

	rec := recordFromACM(&acm.CertificateDetail{
		CertificateArn: aws.String("arn:aws:acm:eu-west-1:111122223333:certificate/abcd"),
		DomainName:     aws.String("web.example.com"),
		Subject:        aws.String("CN=web.example.com"),
		Issuer:         aws.String("Amazon"),
		Status:         aws.String(acm.CertificateStatusIssued),
		NotAfter:       &notAfter,
	}, "111122223333", "eu-west-1")

	assert.EqualString(t, rec.CommonName, "web.example.com")
	assert.EqualString(t, rec.ExpiryDate, "2027-04-15")
	assert.EqualString(t, rec.ACMArn, "arn:aws:acm:eu-west-1:111122223333:certificate/abcd")
	assert.EqualString(t, rec.ACMStatus, "ISSUED")
	assert.EqualString(t, rec.Issuer, "Amazon")
	assert.EqualString(t, rec.AccountNumber, "111122223333")
	assert.EqualString(t, rec.Region, "eu-west-1")
	assert.EqualString(t, string(rec.Source), "CA-Sync")
}

func TestRecordFromACMPendingValidationHasNoExpiry(t *testing.T) {
	rec := recordFromACM(&acm.CertificateDetail{
		DomainName: aws.String("pending.example.com"),
		Status:     aws.String(acm.CertificateStatusPendingValidation),
	}, "111122223333", "eu-west-1")

	assert.EqualString(t, rec.ExpiryDate, "")
	assert.EqualString(t, rec.ACMStatus, "PENDING_VALIDATION")
}

type fakeStore struct {
	records map[string]cwdomain.Record
	logs    []cwdomain.LogEntry
}

func (f *fakeStore) FindByAccountAndCommonName(_ context.Context, accountNumber string, commonName string) (*cwdomain.Record, error) {
	for _, rec := range f.records {
		if rec.AccountNumber == accountNumber && rec.CommonName == commonName {
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

func TestSyncOnePreservesCuratedFields(t *testing.T) {
	store := &fakeStore{records: map[string]cwdomain.Record{
		"cert-existing1": {
			ID:             "cert-existing1",
			CommonName:     "web.example.com",
			AccountNumber:  "111122223333",
			ExpiryDate:     "2026-01-01",
			OwnerEmail:     "alice@example.com",
			IncidentNumber: "INC0817937",
			CreatedAt:      "2025-06-01T00:00:00Z",
			Version:        2,
		},
	}}

	syncer := &Syncer{
		store:  store,
		policy: reconcile.DefaultPolicy(),
		logl:   logex.Levels(logex.Discard),
	}

	added, err := syncer.syncOne(context.Background(), cwdomain.Record{
		CommonName:    "web.example.com",
		AccountNumber: "111122223333",
		ExpiryDate:    "2027-04-15",
		ACMArn:        "arn:aws:acm:eu-west-1:111122223333:certificate/abcd",
		ACMStatus:     "ISSUED",
		Source:        cwdomain.SourceCASync,
	}, time.Date(2026, 3, 15, 11, 30, 0, 0, time.UTC))
	assert.Ok(t, err)
	assert.Assert(t, !added)

	merged := store.records["cert-existing1"]
	assert.EqualString(t, merged.ExpiryDate, "2027-04-15")
	assert.EqualString(t, merged.OwnerEmail, "alice@example.com")
	assert.EqualString(t, merged.IncidentNumber, "INC0817937")
	assert.EqualString(t, merged.ACMStatus, "ISSUED")
	assert.EqualString(t, string(merged.Status), "Active")
	assert.Assert(t, merged.Version == 3)
}

func TestSyncOneCreatesNewRecord(t *testing.T) {
	store := &fakeStore{records: map[string]cwdomain.Record{}}

	syncer := &Syncer{
		store:  store,
		policy: reconcile.DefaultPolicy(),
		logl:   logex.Levels(logex.Discard),
	}

	added, err := syncer.syncOne(context.Background(), cwdomain.Record{
		CommonName:    "new.example.com",
		AccountNumber: "111122223333",
		ExpiryDate:    "2026-03-25",
		Source:        cwdomain.SourceCASync,
	}, time.Date(2026, 3, 15, 11, 30, 0, 0, time.UTC))
	assert.Ok(t, err)
	assert.Assert(t, added)

	assert.Assert(t, len(store.records) == 1)
	for _, rec := range store.records {
		assert.EqualString(t, string(rec.Status), "Due for Renewal")
		assert.Assert(t, rec.Version == 1)
	}

	assert.Assert(t, len(store.logs) == 1)
	assert.EqualString(t, store.logs[0].Action, cwdomain.ActionImported)
}

func TestSyncOneRejectsMissingCommonName(t *testing.T) {
	syncer := &Syncer{
		store:  &fakeStore{records: map[string]cwdomain.Record{}},
		policy: reconcile.DefaultPolicy(),
		logl:   logex.Levels(logex.Discard),
	}

	_, err := syncer.syncOne(context.Background(), cwdomain.Record{
		ACMArn: "arn:aws:acm:eu-west-1:111122223333:certificate/abcd",
	}, time.Now())
	assert.Assert(t, cwdomain.IsDataQuality(err))
}
