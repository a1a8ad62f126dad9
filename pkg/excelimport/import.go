package excelimport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/ioutil"
	"log"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/function61/certwatch/pkg/certregistry"
	"github.com/function61/certwatch/pkg/cwdomain"
	"github.com/function61/certwatch/pkg/reconcile"
	"github.com/function61/gokit/jsonfile"
	"github.com/function61/gokit/logex"
	"github.com/xuri/excelize/v2"
)

// Store is the slice of the registry the importer needs.
type Store interface {
	FindByAccountAndCommonName(ctx context.Context, accountNumber string, commonName string) (*cwdomain.Record, error)
	Put(ctx context.Context, rec cwdomain.Record) error
	AppendLog(ctx context.Context, entry cwdomain.LogEntry) error
}

type Importer struct {
	s3         *s3.S3
	store      Store
	logsBucket string
	policy     reconcile.Policy
	logl       *logex.Leveled
}

// logsBucket may be empty, in which case processing summaries are only logged.
func New(sess *session.Session, store Store, logsBucket string, policy reconcile.Policy, logger *log.Logger) *Importer {
	return &Importer{
		s3:         s3.New(sess),
		store:      store,
		logsBucket: logsBucket,
		policy:     policy,
		logl:       logex.Levels(logger),
	}
}

// Summary reports what one workbook import did. Stored as JSON in the logs
// bucket so a rejected-row investigation doesn't need CloudWatch access.
type Summary struct {
	SourceFile  string     `json:"source_file"`
	ProcessedAt string     `json:"processed_at"`
	TotalRows   int        `json:"total_rows"`
	Added       int        `json:"added"`
	Updated     int        `json:"updated"`
	Rejected    int        `json:"rejected"`
	RowErrors   []RowError `json:"row_errors,omitempty"`
}

type RowError struct {
	Row    int    `json:"row"` // 1-based, as seen in the spreadsheet
	Reason string `json:"reason"`
}

// ImportFromS3 downloads an uploaded workbook and imports it. This is the
// entrypoint the S3 upload notification lands on.
func (i *Importer) ImportFromS3(ctx context.Context, bucket string, key string) (*Summary, error) {
	obj, err := i.s3.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("ImportFromS3 %s/%s: %w", bucket, key, err)
	}
	defer obj.Body.Close()

	content, err := ioutil.ReadAll(obj.Body)
	if err != nil {
		return nil, fmt.Errorf("ImportFromS3 %s/%s: %w", bucket, key, err)
	}

	summary, err := i.ImportWorkbook(ctx, bytes.NewReader(content), key)
	if err != nil {
		return nil, err
	}

	if err := i.writeSummary(ctx, summary); err != nil {
		// the import itself succeeded; don't fail it over a missing receipt
		i.logl.Error.Printf("writeSummary: %v", err)
	}

	return summary, nil
}

// ImportWorkbook reads the first sheet of an .xlsx workbook, one certificate
// per row. Rows with unusable data are rejected individually - a single bad
// date does not sink the upload.
func (i *Importer) ImportWorkbook(ctx context.Context, workbook io.Reader, sourceFile string) (*Summary, error) {
	xlsx, err := excelize.OpenReader(workbook)
	if err != nil {
		return nil, fmt.Errorf("ImportWorkbook %s: %w", sourceFile, err)
	}
	defer xlsx.Close()

	sheets := xlsx.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("ImportWorkbook %s: workbook has no sheets", sourceFile)
	}

	rows, err := xlsx.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("ImportWorkbook %s: %w", sourceFile, err)
	}

	if len(rows) < 2 {
		return nil, fmt.Errorf("ImportWorkbook %s: no data rows below header", sourceFile)
	}

	columns := mapColumns(rows[0])
	if len(columns) == 0 {
		return nil, fmt.Errorf("ImportWorkbook %s: no recognizable columns in header", sourceFile)
	}

	now := time.Now().UTC()

	summary := &Summary{
		SourceFile:  sourceFile,
		ProcessedAt: now.Format(time.RFC3339),
		TotalRows:   len(rows) - 1,
	}

	for rowIdx, row := range rows[1:] {
		// spreadsheet row number: header is row 1
		rowNum := rowIdx + 2

		fields := map[string]string{}
		for colIdx, canonical := range columns {
			if colIdx < len(row) {
				fields[canonical] = strings.TrimSpace(row[colIdx])
			}
		}

		if emptyRow(fields) {
			summary.TotalRows--
			continue
		}

		added, err := i.importRow(ctx, fields, now)
		if err != nil {
			summary.Rejected++
			summary.RowErrors = append(summary.RowErrors, RowError{Row: rowNum, Reason: err.Error()})
			i.logl.Error.Printf("%s row %d: %v", sourceFile, rowNum, err)
			continue
		}

		if added {
			summary.Added++
		} else {
			summary.Updated++
		}
	}

	i.logl.Info.Printf(
		"%s: %d row(s): %d added, %d updated, %d rejected",
		sourceFile,
		summary.TotalRows,
		summary.Added,
		summary.Updated,
		summary.Rejected)

	return summary, nil
}

// importRow merges one spreadsheet row into the registry. Returns whether a
// new record was created (as opposed to an existing one updated).
func (i *Importer) importRow(ctx context.Context, fields map[string]string, now time.Time) (bool, error) {
	observed, err := recordFromRow(fields)
	if err != nil {
		return false, err
	}

	existing, err := i.store.FindByAccountAndCommonName(ctx, observed.AccountNumber, observed.CommonName)
	if err != nil && !errors.Is(err, cwdomain.ErrNotFound) {
		return false, err
	}

	if existing != nil {
		merged := reconcile.MergeObservation(*existing, observed)
		merged.Version++
		merged.UpdatedAt = now.Format(time.RFC3339)

		if status, _, err := reconcile.Reconcile(merged, now, i.policy); err == nil {
			merged.Status = status
		}

		if err := i.store.Put(ctx, merged); err != nil {
			return false, err
		}

		_ = i.store.AppendLog(ctx, cwdomain.LogEntry{
			CertificateID: merged.ID,
			Action:        cwdomain.ActionFieldsMerged,
			Source:        string(cwdomain.SourceExcelImport),
			Details: map[string]string{
				"common_name": merged.CommonName,
				"expiry_date": merged.ExpiryDate,
			},
		})

		return false, nil
	}

	observed.ID = certregistry.NewRecordID()
	observed.CreatedAt = now.Format(time.RFC3339)
	observed.UpdatedAt = observed.CreatedAt
	observed.Version = 1

	if status, _, err := reconcile.Reconcile(observed, now, i.policy); err == nil {
		observed.Status = status
	}

	if err := i.store.Put(ctx, observed); err != nil {
		return false, err
	}

	_ = i.store.AppendLog(ctx, cwdomain.LogEntry{
		CertificateID: observed.ID,
		Action:        cwdomain.ActionImported,
		Source:        string(cwdomain.SourceExcelImport),
		Details: map[string]string{
			"common_name": observed.CommonName,
			"expiry_date": observed.ExpiryDate,
		},
	})

	return true, nil
}

func recordFromRow(fields map[string]string) (cwdomain.Record, error) {
	commonName := fields["CommonName"]
	if commonName == "" {
		commonName = fields["CertificateName"]
	}
	if commonName == "" {
		return cwdomain.Record{}, &cwdomain.DataQualityError{Field: "CommonName", Raw: ""}
	}

	expiryDate, err := cwdomain.ParseExpiry(fields["ExpiryDate"])
	if err != nil {
		return cwdomain.Record{}, err
	}

	// a spreadsheet can legitimately claim "Renewal in Progress"; any other
	// status it carries gets recomputed from the expiry date anyway
	status := cwdomain.Status(fields["Status"])
	if !status.Sticky() {
		status = ""
	}

	return cwdomain.Record{
		CommonName:     commonName,
		DisplayName:    fields["CertificateName"],
		ExpiryDate:     expiryDate,
		Status:         status,
		OwnerEmail:     fields["OwnerEmail"],
		SupportEmail:   fields["SupportEmail"],
		Application:    fields["Application"],
		Environment:    fields["Environment"],
		Notes:          fields["Notes"],
		RenewalLog:     fields["RenewalLog"],
		IncidentNumber: fields["IncidentNumber"],
		AccountNumber:  fields["AccountNumber"],
		Source:         cwdomain.SourceExcelImport,
	}, nil
}

func emptyRow(fields map[string]string) bool {
	for _, value := range fields {
		if value != "" {
			return false
		}
	}

	return true
}

func (i *Importer) writeSummary(ctx context.Context, summary *Summary) error {
	if i.logsBucket == "" {
		return nil
	}

	asJson := &bytes.Buffer{}
	if err := jsonfile.Marshal(asJson, summary); err != nil {
		return err
	}

	key := fmt.Sprintf(
		"excel-processing/%s_processing_log.json",
		time.Now().UTC().Format("20060102T150405Z"))

	if _, err := i.s3.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(i.logsBucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(asJson.Bytes()),
		ContentType: aws.String("application/json"),
	}); err != nil {
		return err
	}

	return nil
}
