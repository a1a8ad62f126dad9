package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/function61/certwatch/pkg/acmsync"
	"github.com/function61/certwatch/pkg/certregistry"
	"github.com/function61/certwatch/pkg/cwdomain"
	"github.com/function61/certwatch/pkg/cwserver"
	"github.com/function61/certwatch/pkg/emailnotify"
	"github.com/function61/certwatch/pkg/excelimport"
	"github.com/function61/certwatch/pkg/hostscan"
	"github.com/function61/certwatch/pkg/reconcile"
	"github.com/function61/certwatch/pkg/snowticket"
	"github.com/function61/certwatch/pkg/sweep"
	"github.com/function61/gokit/jsonfile"
	"github.com/function61/gokit/logex"
	"github.com/scylladb/termtables"
)

func registryFromEnv(logger *log.Logger) (*certregistry.Registry, *session.Session, error) {
	conf, err := certregistry.ConfigFromEnv()
	if err != nil {
		return nil, nil, err
	}

	sess, err := session.NewSession(&aws.Config{Region: aws.String(conf.Region)})
	if err != nil {
		return nil, nil, err
	}

	return certregistry.New(sess, *conf, logger), sess, nil
}

func policyFor(twoTier bool) reconcile.Policy {
	if twoTier {
		return reconcile.TwoTierPolicy()
	}

	return reconcile.DefaultPolicy()
}

func server(ctx context.Context, addr string) error {
	rootLogger := logex.StandardLogger()

	registry, _, err := registryFromEnv(rootLogger)
	if err != nil {
		return err
	}

	api := cwserver.New(
		registry,
		os.Getenv("WEBHOOK_SECRET"),
		policyFor(os.Getenv("TWO_TIER_POLICY") != ""),
		logex.Prefix("cwserver", rootLogger))

	return cwserver.Serve(ctx, addr, api, rootLogger)
}

type sweepFlags struct {
	dryRun    bool
	noNotify  bool
	noTickets bool
	twoTier   bool
}

func runSweep(ctx context.Context, flags sweepFlags) error {
	rootLogger := logex.StandardLogger()

	registry, sess, err := registryFromEnv(rootLogger)
	if err != nil {
		return err
	}

	policy := policyFor(flags.twoTier)

	// notifications and tickets also require their configuration to be
	// present; absence just turns the actuator off
	var notifier sweep.Notifier
	if senderEmail := os.Getenv("SENDER_EMAIL"); senderEmail != "" && !flags.noNotify {
		notifier = emailnotify.New(
			sess,
			senderEmail,
			policy.ActionThresholdDays(),
			logex.Prefix("emailnotify", rootLogger))
	}

	var ticketer sweep.Ticketer
	if secretName := os.Getenv("SNOW_SECRET_NAME"); secretName != "" && !flags.noTickets {
		creds, err := snowticket.CredentialsFromSecretsManager(ctx, sess, secretName)
		if err != nil {
			return err
		}

		ticketer = snowticket.NewClient(creds, logex.Prefix("snowticket", rootLogger))
	}

	report, err := sweep.New(registry, notifier, ticketer, sweep.Options{
		Notify:  notifier != nil,
		Tickets: ticketer != nil,
		DryRun:  flags.dryRun,
		Policy:  policy,
	}, logex.Prefix("sweep", rootLogger)).Run(ctx, time.Now().UTC())
	if err != nil {
		return err
	}

	return jsonfile.Marshal(os.Stdout, report)
}

func importExcel(ctx context.Context, bucket string, key string) error {
	rootLogger := logex.StandardLogger()

	registry, sess, err := registryFromEnv(rootLogger)
	if err != nil {
		return err
	}

	summary, err := excelimport.New(
		sess,
		registry,
		os.Getenv("PROCESSING_LOGS_BUCKET"),
		policyFor(false),
		logex.Prefix("excelimport", rootLogger)).ImportFromS3(ctx, bucket, key)
	if err != nil {
		return err
	}

	return jsonfile.Marshal(os.Stdout, summary)
}

func acmSync(ctx context.Context) error {
	rootLogger := logex.StandardLogger()

	registry, sess, err := registryFromEnv(rootLogger)
	if err != nil {
		return err
	}

	stats, err := acmsync.New(
		sess,
		registry,
		policyFor(false),
		logex.Prefix("acmsync", rootLogger)).Sync(ctx)
	if err != nil {
		return err
	}

	return jsonfile.Marshal(os.Stdout, stats)
}

func hostScan(ctx context.Context) error {
	rootLogger := logex.StandardLogger()

	registry, sess, err := registryFromEnv(rootLogger)
	if err != nil {
		return err
	}

	stats, err := hostscan.New(
		sess,
		registry,
		policyFor(false),
		logex.Prefix("hostscan", rootLogger)).Scan(ctx)
	if err != nil {
		return err
	}

	return jsonfile.Marshal(os.Stdout, stats)
}

func list(ctx context.Context) error {
	registry, _, err := registryFromEnv(logex.StandardLogger())
	if err != nil {
		return err
	}

	records, err := registry.All(ctx)
	if err != nil {
		return err
	}

	now := time.Now().UTC()

	view := termtables.CreateTable()
	view.AddHeaders("ID", "Name", "Expiry", "Days", "Status", "Owner")

	for _, rec := range records {
		days := "?"
		if d, err := cwdomain.DaysUntil(rec.ExpiryDate, now); err == nil {
			days = strconv.Itoa(d)
		}

		view.AddRow(rec.ID, rec.Name(), rec.ExpiryDate, days, string(rec.Status), rec.OwnerEmail)
	}

	fmt.Println(view.Render())

	return nil
}

func inspect(ctx context.Context, id string) error {
	registry, _, err := registryFromEnv(logex.StandardLogger())
	if err != nil {
		return err
	}

	rec, err := registry.Get(ctx, id)
	if err != nil {
		return err
	}

	return jsonfile.Marshal(os.Stdout, rec)
}

func set(ctx context.Context, id string, owner string, support string, status string) error {
	rootLogger := logex.StandardLogger()

	registry, _, err := registryFromEnv(rootLogger)
	if err != nil {
		return err
	}

	// fail early on unknown ID instead of upserting a half-empty record
	rec, err := registry.Get(ctx, id)
	if err != nil {
		return err
	}

	now := time.Now().UTC()

	if owner != "" || support != "" {
		if err := registry.UpdateContacts(ctx, id, owner, support, now); err != nil {
			return err
		}
	}

	if status != "" {
		if err := registry.UpdateStatus(ctx, id, cwdomain.Status(status), now); err != nil {
			return err
		}

		_ = registry.AppendLog(ctx, cwdomain.LogEntry{
			CertificateID: id,
			Action:        cwdomain.ActionStatusChanged,
			Source:        string(cwdomain.SourceManual),
			Details: map[string]string{
				"old_status": string(rec.Status),
				"new_status": status,
			},
		})
	}

	return nil
}
