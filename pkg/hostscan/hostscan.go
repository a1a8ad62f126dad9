// Discovers certificates installed on managed servers by running scan
// scripts over SSM Run Command, then merges the findings into the registry.
package hostscan

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/ssm"
	"github.com/function61/certwatch/pkg/certregistry"
	"github.com/function61/certwatch/pkg/cwdomain"
	"github.com/function61/certwatch/pkg/reconcile"
	"github.com/function61/gokit/logex"
)

const windowsScanScript = `Get-ChildItem -Path Cert:\LocalMachine\My | ForEach-Object {
    "Subject: $($_.Subject)"
    "Issuer: $($_.Issuer)"
    "Valid Until: $($_.NotAfter.ToString('MM/dd/yyyy hh:mm:ss tt'))"
    "Thumbprint: $($_.Thumbprint)"
    "---"
}`

const linuxScanScript = `for cert in /etc/ssl/certs/*.pem /etc/pki/tls/certs/*.crt; do
    [ -f "$cert" ] || continue
    openssl x509 -in "$cert" -noout -subject -issuer -enddate -fingerprint -sha1 2>/dev/null
    echo "---"
done`

// Store is the slice of the registry the scanner needs.
type Store interface {
	FindByServerAndThumbprint(ctx context.Context, serverID string, thumbprint string) (*cwdomain.Record, error)
	Put(ctx context.Context, rec cwdomain.Record) error
	AppendLog(ctx context.Context, entry cwdomain.LogEntry) error
}

type Scanner struct {
	ssm          *ssm.SSM
	store        Store
	policy       reconcile.Policy
	pollInterval time.Duration
	pollTimeout  time.Duration
	logl         *logex.Leveled
}

func New(sess *session.Session, store Store, policy reconcile.Policy, logger *log.Logger) *Scanner {
	return &Scanner{
		ssm:          ssm.New(sess),
		store:        store,
		policy:       policy,
		pollInterval: 3 * time.Second,
		pollTimeout:  2 * time.Minute,
		logl:         logex.Levels(logger),
	}
}

type Stats struct {
	Servers           int `json:"servers"`
	CertificatesFound int `json:"certificates_found"`
	Added             int `json:"added"`
	Updated           int `json:"updated"`
	Skipped           int `json:"skipped"`
}

type server struct {
	ID       string
	Name     string
	IP       string
	Platform string // "Windows" | "Linux"
}

// Scan runs the certificate discovery script on every online managed
// instance. A server that fails to scan is logged and skipped; the rest of
// the fleet still gets scanned.
func (s *Scanner) Scan(ctx context.Context) (*Stats, error) {
	servers, err := s.onlineServers(ctx)
	if err != nil {
		return nil, fmt.Errorf("Scan: %w", err)
	}

	now := time.Now().UTC()
	stats := &Stats{Servers: len(servers)}

	for _, srv := range servers {
		output, err := s.runScanCommand(ctx, srv)
		if err != nil {
			s.logl.Error.Printf("scan %s (%s): %v", srv.Name, srv.ID, err)
			continue
		}

		var certs []HostCertificate
		if srv.Platform == "Windows" {
			certs = parseWindowsOutput(output)
		} else {
			certs = parseLinuxOutput(output)
		}

		stats.CertificatesFound += len(certs)

		for _, cert := range certs {
			added, err := s.ingest(ctx, srv, cert, now)
			if err != nil {
				s.logl.Error.Printf("ingest %s on %s: %v", cert.Thumbprint, srv.Name, err)
				stats.Skipped++
				continue
			}

			if added {
				stats.Added++
			} else {
				stats.Updated++
			}
		}
	}

	s.logl.Info.Printf(
		"%d server(s), %d certificate(s): %d added, %d updated, %d skipped",
		stats.Servers,
		stats.CertificatesFound,
		stats.Added,
		stats.Updated,
		stats.Skipped)

	return stats, nil
}

func (s *Scanner) onlineServers(ctx context.Context) ([]server, error) {
	servers := []server{}

	err := s.ssm.DescribeInstanceInformationPagesWithContext(ctx, &ssm.DescribeInstanceInformationInput{
		Filters: []*ssm.InstanceInformationStringFilter{
			{
				Key:    aws.String("PingStatus"),
				Values: aws.StringSlice([]string{"Online"}),
			},
		},
	}, func(page *ssm.DescribeInstanceInformationOutput, lastPage bool) bool {
		for _, info := range page.InstanceInformationList {
			servers = append(servers, server{
				ID:       aws.StringValue(info.InstanceId),
				Name:     aws.StringValue(info.ComputerName),
				IP:       aws.StringValue(info.IPAddress),
				Platform: aws.StringValue(info.PlatformType),
			})
		}
		return true
	})
	if err != nil {
		return nil, err
	}

	return servers, nil
}

func (s *Scanner) runScanCommand(ctx context.Context, srv server) (string, error) {
	document := "AWS-RunShellScript"
	script := linuxScanScript
	if srv.Platform == "Windows" {
		document = "AWS-RunPowerShellScript"
		script = windowsScanScript
	}

	sent, err := s.ssm.SendCommandWithContext(ctx, &ssm.SendCommandInput{
		DocumentName: aws.String(document),
		InstanceIds:  aws.StringSlice([]string{srv.ID}),
		Parameters: map[string][]*string{
			"commands": aws.StringSlice(strings.Split(script, "\n")),
		},
		TimeoutSeconds: aws.Int64(60),
	})
	if err != nil {
		return "", err
	}

	commandId := aws.StringValue(sent.Command.CommandId)
	deadline := time.Now().Add(s.pollTimeout)

	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(s.pollInterval):
		}

		invocation, err := s.ssm.GetCommandInvocationWithContext(ctx, &ssm.GetCommandInvocationInput{
			CommandId:  aws.String(commandId),
			InstanceId: aws.String(srv.ID),
		})
		if err != nil {
			// the invocation record appears a moment after SendCommand
			if time.Now().After(deadline) {
				return "", err
			}
			continue
		}

		switch aws.StringValue(invocation.Status) {
		case ssm.CommandInvocationStatusSuccess:
			return aws.StringValue(invocation.StandardOutputContent), nil
		case ssm.CommandInvocationStatusFailed,
			ssm.CommandInvocationStatusCancelled,
			ssm.CommandInvocationStatusTimedOut:
			return "", fmt.Errorf(
				"command %s: %s: %s",
				commandId,
				aws.StringValue(invocation.Status),
				aws.StringValue(invocation.StandardErrorContent))
		}

		if time.Now().After(deadline) {
			return "", fmt.Errorf("command %s: poll timeout", commandId)
		}
	}
}

func (s *Scanner) ingest(ctx context.Context, srv server, cert HostCertificate, now time.Time) (bool, error) {
	if cert.ExpiryDate == "" {
		return false, &cwdomain.DataQualityError{Field: "ExpiryDate", Raw: cert.Thumbprint}
	}

	observed := cwdomain.Record{
		CommonName:    cert.CommonName,
		DisplayName:   cert.CommonName,
		ExpiryDate:    cert.ExpiryDate,
		Subject:       cert.Subject,
		Issuer:        cert.Issuer,
		Thumbprint:    cert.Thumbprint,
		ServerID:      srv.ID,
		ServerName:    srv.Name,
		ServerIP:      srv.IP,
		Environment:   environmentFromServerName(srv.Name),
		Source:        cwdomain.SourceServerScan,
		LastScannedAt: now.Format(time.RFC3339),
	}

	existing, err := s.store.FindByServerAndThumbprint(ctx, srv.ID, cert.Thumbprint)
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
			Source:        string(cwdomain.SourceServerScan),
			Details: map[string]string{
				"server_id":   srv.ID,
				"thumbprint":  cert.Thumbprint,
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
		Source:        string(cwdomain.SourceServerScan),
		Details: map[string]string{
			"server_id":   srv.ID,
			"thumbprint":  cert.Thumbprint,
			"expiry_date": observed.ExpiryDate,
		},
	})

	return true, nil
}
