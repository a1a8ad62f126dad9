// Pulls certificate inventory from AWS Certificate Manager into the
// registry. ACM is authoritative for expiry and ARN; curated contact and
// ticketing fields on existing records are left alone.
package acmsync

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/acm"
	"github.com/aws/aws-sdk-go/service/sts"
	"github.com/function61/certwatch/pkg/certregistry"
	"github.com/function61/certwatch/pkg/cwdomain"
	"github.com/function61/certwatch/pkg/reconcile"
	"github.com/function61/gokit/logex"
)

// Store is the slice of the registry the syncer needs.
type Store interface {
	FindByAccountAndCommonName(ctx context.Context, accountNumber string, commonName string) (*cwdomain.Record, error)
	Put(ctx context.Context, rec cwdomain.Record) error
	AppendLog(ctx context.Context, entry cwdomain.LogEntry) error
}

type Syncer struct {
	acm    *acm.ACM
	sts    *sts.STS
	store  Store
	region string
	policy reconcile.Policy
	logl   *logex.Leveled
}

func New(sess *session.Session, store Store, policy reconcile.Policy, logger *log.Logger) *Syncer {
	return &Syncer{
		acm:    acm.New(sess),
		sts:    sts.New(sess),
		store:  store,
		region: aws.StringValue(sess.Config.Region),
		policy: policy,
		logl:   logex.Levels(logger),
	}
}

type Stats struct {
	Found   int `json:"found"`
	Added   int `json:"added"`
	Updated int `json:"updated"`
	Skipped int `json:"skipped"`
}

// Sync walks every ACM certificate in the account (issued, pending,
// inactive and expired ones included) and merges each into the registry.
func (s *Syncer) Sync(ctx context.Context) (*Stats, error) {
	identity, err := s.sts.GetCallerIdentityWithContext(ctx, &sts.GetCallerIdentityInput{})
	if err != nil {
		return nil, fmt.Errorf("Sync: caller identity: %w", err)
	}
	accountNumber := aws.StringValue(identity.Account)

	arns := []string{}

	if err := s.acm.ListCertificatesPagesWithContext(ctx, &acm.ListCertificatesInput{
		CertificateStatuses: aws.StringSlice([]string{
			acm.CertificateStatusIssued,
			acm.CertificateStatusPendingValidation,
			acm.CertificateStatusInactive,
			acm.CertificateStatusExpired,
		}),
	}, func(page *acm.ListCertificatesOutput, lastPage bool) bool {
		for _, summary := range page.CertificateSummaryList {
			arns = append(arns, aws.StringValue(summary.CertificateArn))
		}
		return true
	}); err != nil {
		return nil, fmt.Errorf("Sync: list certificates: %w", err)
	}

	now := time.Now().UTC()
	stats := &Stats{Found: len(arns)}

	for _, arn := range arns {
		described, err := s.acm.DescribeCertificateWithContext(ctx, &acm.DescribeCertificateInput{
			CertificateArn: aws.String(arn),
		})
		if err != nil {
			s.logl.Error.Printf("describe %s: %v", arn, err)
			stats.Skipped++
			continue
		}

		added, err := s.syncOne(ctx, recordFromACM(described.Certificate, accountNumber, s.region), now)
		if err != nil {
			s.logl.Error.Printf("sync %s: %v", arn, err)
			stats.Skipped++
			continue
		}

		if added {
			stats.Added++
		} else {
			stats.Updated++
		}
	}

	s.logl.Info.Printf(
		"account %s: %d certificate(s): %d added, %d updated, %d skipped",
		accountNumber,
		stats.Found,
		stats.Added,
		stats.Updated,
		stats.Skipped)

	return stats, nil
}

func (s *Syncer) syncOne(ctx context.Context, observed cwdomain.Record, now time.Time) (bool, error) {
	if observed.CommonName == "" {
		return false, &cwdomain.DataQualityError{Field: "CommonName", Raw: observed.ACMArn}
	}

	existing, err := s.store.FindByAccountAndCommonName(ctx, observed.AccountNumber, observed.CommonName)
	if err != nil && !errors.Is(err, cwdomain.ErrNotFound) {
		return false, err
	}

	if existing != nil {
		merged := reconcile.MergeObservation(*existing, observed)
		merged.Version++
		merged.UpdatedAt = now.Format(time.RFC3339)

		if status, _, err := reconcile.Reconcile(merged, now, s.policy); err == nil {
			merged.Status = status
		}

		if err := s.store.Put(ctx, merged); err != nil {
			return false, err
		}

		_ = s.store.AppendLog(ctx, cwdomain.LogEntry{
			CertificateID: merged.ID,
			Action:        cwdomain.ActionFieldsMerged,
			Source:        string(cwdomain.SourceCASync),
			Details: map[string]string{
				"acm_arn":     merged.ACMArn,
				"expiry_date": merged.ExpiryDate,
			},
		})

		return false, nil
	}

	observed.ID = certregistry.NewRecordID()
	observed.CreatedAt = now.Format(time.RFC3339)
	observed.UpdatedAt = observed.CreatedAt
	observed.Version = 1

	if status, _, err := reconcile.Reconcile(observed, now, s.policy); err == nil {
		observed.Status = status
	}

	if err := s.store.Put(ctx, observed); err != nil {
		return false, err
	}

	_ = s.store.AppendLog(ctx, cwdomain.LogEntry{
		CertificateID: observed.ID,
		Action:        cwdomain.ActionImported,
		Source:        string(cwdomain.SourceCASync),
		Details: map[string]string{
			"acm_arn":     observed.ACMArn,
			"expiry_date": observed.ExpiryDate,
		},
	})

	return true, nil
}

// recordFromACM converts an ACM DescribeCertificate result into an
// observation. Pending-validation certificates have no NotAfter yet; their
// expiry is left empty and the sweep will report it as a data quality issue.
func recordFromACM(cert *acm.CertificateDetail, accountNumber string, region string) cwdomain.Record {
	expiryDate := ""
	if cert.NotAfter != nil {
		expiryDate = cert.NotAfter.UTC().Format(cwdomain.DateFormat)
	}

	return cwdomain.Record{
		CommonName:    aws.StringValue(cert.DomainName),
		DisplayName:   aws.StringValue(cert.DomainName),
		ExpiryDate:    expiryDate,
		Subject:       aws.StringValue(cert.Subject),
		Issuer:        aws.StringValue(cert.Issuer),
		ACMArn:        aws.StringValue(cert.CertificateArn),
		ACMStatus:     aws.StringValue(cert.Status),
		AccountNumber: accountNumber,
		Region:        region,
		Source:        cwdomain.SourceCASync,
		LastScannedAt: time.Now().UTC().Format(time.RFC3339),
	}
}
