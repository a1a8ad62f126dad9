// DynamoDB-backed registry of certificate records + their audit trail.
// Writes are independent per record, last write wins - the sweep and the
// ingestion paths deliberately need no coordination beyond that.
package certregistry

import (
	"context"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/dynamodb"
	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbattribute"
	"github.com/function61/certwatch/pkg/cwdomain"
	"github.com/function61/gokit/cryptorandombytes"
	"github.com/function61/gokit/logex"
	"github.com/google/uuid"
)

type Registry struct {
	dynamo            *dynamodb.DynamoDB
	certificatesTable string
	logsTable         string
	logl              *logex.Leveled
}

func New(sess *session.Session, conf Config, logger *log.Logger) *Registry {
	return &Registry{
		dynamo:            dynamodb.New(sess),
		certificatesTable: conf.CertificatesTable,
		logsTable:         conf.LogsTable,
		logl:              logex.Levels(logger),
	}
}

func (r *Registry) Get(ctx context.Context, id string) (*cwdomain.Record, error) {
	out, err := r.dynamo.GetItemWithContext(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(r.certificatesTable),
		Key:       recordKey(id),
	})
	if err != nil {
		return nil, fmt.Errorf("Get %s: %w", id, err)
	}

	if out.Item == nil {
		return nil, fmt.Errorf("%s: %w", id, cwdomain.ErrNotFound)
	}

	rec, err := unmarshalRecord(out.Item)
	if err != nil {
		return nil, fmt.Errorf("Get %s: %w", id, err)
	}

	return rec, nil
}

func unmarshalRecord(item map[string]*dynamodb.AttributeValue) (*cwdomain.Record, error) {
	rec := &cwdomain.Record{}
	if err := dynamodbattribute.UnmarshalMap(item, rec); err != nil {
		return nil, fmt.Errorf("unmarshal record: %w", err)
	}

	return rec, nil
}

func (r *Registry) Put(ctx context.Context, rec cwdomain.Record) error {
	item, err := dynamodbattribute.MarshalMap(rec)
	if err != nil {
		return fmt.Errorf("Put %s: marshal: %w", rec.ID, err)
	}

	if _, err := r.dynamo.PutItemWithContext(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(r.certificatesTable),
		Item:      item,
	}); err != nil {
		return fmt.Errorf("Put %s: %w", rec.ID, err)
	}

	return nil
}

// All returns every record, following scan pagination. The table is small
// (thousands of certificates, not millions), so a full scan per sweep is fine.
func (r *Registry) All(ctx context.Context) ([]cwdomain.Record, error) {
	records := []cwdomain.Record{}

	var unmarshalErr error

	err := r.dynamo.ScanPagesWithContext(ctx, &dynamodb.ScanInput{
		TableName: aws.String(r.certificatesTable),
	}, func(page *dynamodb.ScanOutput, lastPage bool) bool {
		pageRecords := []cwdomain.Record{}
		if unmarshalErr = dynamodbattribute.UnmarshalListOfMaps(page.Items, &pageRecords); unmarshalErr != nil {
			return false
		}

		records = append(records, pageRecords...)
		return true
	})
	if err != nil {
		return nil, fmt.Errorf("All: %w", err)
	}
	if unmarshalErr != nil {
		return nil, fmt.Errorf("All: %w", unmarshalErr)
	}

	return records, nil
}

func (r *Registry) UpdateStatus(ctx context.Context, id string, status cwdomain.Status, now time.Time) error {
	return r.update(ctx, id, map[string]interface{}{
		"Status":        string(status),
		"LastUpdatedOn": now.UTC().Format(time.RFC3339),
	})
}

func (r *Registry) SetIncident(ctx context.Context, id string, incidentNumber string, now time.Time) error {
	return r.update(ctx, id, map[string]interface{}{
		"IncidentNumber": incidentNumber,
		"LastUpdatedOn":  now.UTC().Format(time.RFC3339),
	})
}

// IncidentUpdate carries the fields an inbound ticketing webhook may change.
type IncidentUpdate struct {
	IncidentNumber  string
	IncidentState   string
	Status          cwdomain.Status
	AssignedTo      string
	AssignedToEmail string
	UpdatedOn       string // RFC3339
}

func (r *Registry) ApplyIncidentUpdate(ctx context.Context, id string, upd IncidentUpdate) error {
	sets := map[string]interface{}{
		"IncidentNumber": upd.IncidentNumber,
		"IncidentState":  upd.IncidentState,
		"Status":         string(upd.Status),
		"LastUpdatedOn":  upd.UpdatedOn,
	}

	if upd.AssignedTo != "" {
		sets["AssignedTo"] = upd.AssignedTo
		sets["AssignedToEmail"] = upd.AssignedToEmail
		sets["AssignedOn"] = upd.UpdatedOn
	}

	return r.update(ctx, id, sets)
}

func (r *Registry) UpdateContacts(ctx context.Context, id string, ownerEmail string, supportEmail string, now time.Time) error {
	sets := map[string]interface{}{
		"LastUpdatedOn": now.UTC().Format(time.RFC3339),
	}

	if ownerEmail != "" {
		sets["OwnerEmail"] = ownerEmail
	}
	if supportEmail != "" {
		sets["SupportEmail"] = supportEmail
	}

	return r.update(ctx, id, sets)
}

// FindByAccountAndCommonName matches an incoming CA observation to an
// existing record. Natural key only - the storage key stays the opaque ID.
func (r *Registry) FindByAccountAndCommonName(ctx context.Context, accountNumber string, commonName string) (*cwdomain.Record, error) {
	return r.findOne(ctx, "AccountNumber = :a AND CommonName = :c", map[string]*dynamodb.AttributeValue{
		":a": {S: aws.String(accountNumber)},
		":c": {S: aws.String(commonName)},
	})
}

// FindByServerAndThumbprint matches an incoming host-scan observation.
func (r *Registry) FindByServerAndThumbprint(ctx context.Context, serverID string, thumbprint string) (*cwdomain.Record, error) {
	return r.findOne(ctx, "ServerID = :s AND Thumbprint = :t", map[string]*dynamodb.AttributeValue{
		":s": {S: aws.String(serverID)},
		":t": {S: aws.String(thumbprint)},
	})
}

func (r *Registry) findOne(ctx context.Context, filter string, values map[string]*dynamodb.AttributeValue) (*cwdomain.Record, error) {
	var found *cwdomain.Record
	var unmarshalErr error

	err := r.dynamo.ScanPagesWithContext(ctx, &dynamodb.ScanInput{
		TableName:                 aws.String(r.certificatesTable),
		FilterExpression:          aws.String(filter),
		ExpressionAttributeValues: values,
	}, func(page *dynamodb.ScanOutput, lastPage bool) bool {
		if len(page.Items) == 0 {
			return true
		}

		found, unmarshalErr = unmarshalRecord(page.Items[0])
		return false
	})
	if err != nil {
		return nil, fmt.Errorf("findOne: %w", err)
	}

	// an unreadable item must not read as "not found" - the find-or-create
	// callers would mint a duplicate record
	if unmarshalErr != nil {
		return nil, fmt.Errorf("findOne: %w", unmarshalErr)
	}

	if found == nil {
		return nil, cwdomain.ErrNotFound
	}

	return found, nil
}

func (r *Registry) AppendLog(ctx context.Context, entry cwdomain.LogEntry) error {
	if entry.LogID == "" {
		entry.LogID = uuid.New().String()
	}
	if entry.Timestamp == "" {
		entry.Timestamp = time.Now().UTC().Format(time.RFC3339)
	}

	item, err := dynamodbattribute.MarshalMap(entry)
	if err != nil {
		return fmt.Errorf("AppendLog: marshal: %w", err)
	}

	if _, err := r.dynamo.PutItemWithContext(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(r.logsTable),
		Item:      item,
	}); err != nil {
		return fmt.Errorf("AppendLog: %w", err)
	}

	return nil
}

// update builds "SET #f0 = :v0, ..." with every attribute name aliased,
// since several of ours (Status, Region, Source) are DynamoDB reserved words.
func (r *Registry) update(ctx context.Context, id string, sets map[string]interface{}) error {
	fields := make([]string, 0, len(sets))
	for field := range sets {
		fields = append(fields, field)
	}
	sort.Strings(fields)

	expr := "SET "
	names := map[string]*string{}
	values := map[string]*dynamodb.AttributeValue{}

	for idx, field := range fields {
		namePlaceholder := fmt.Sprintf("#f%d", idx)
		valuePlaceholder := fmt.Sprintf(":v%d", idx)

		if idx > 0 {
			expr += ", "
		}
		expr += namePlaceholder + " = " + valuePlaceholder

		names[namePlaceholder] = aws.String(field)

		value, err := dynamodbattribute.Marshal(sets[field])
		if err != nil {
			return fmt.Errorf("update %s: marshal %s: %w", id, field, err)
		}
		values[valuePlaceholder] = value
	}

	r.logl.Debug.Printf("update %s: %d field(s)", id, len(sets))

	if _, err := r.dynamo.UpdateItemWithContext(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(r.certificatesTable),
		Key:                       recordKey(id),
		UpdateExpression:          aws.String(expr),
		ExpressionAttributeNames:  names,
		ExpressionAttributeValues: values,
	}); err != nil {
		return fmt.Errorf("update %s: %w", id, err)
	}

	return nil
}

func recordKey(id string) map[string]*dynamodb.AttributeValue {
	return map[string]*dynamodb.AttributeValue{
		"CertificateID": {S: aws.String(id)},
	}
}

// The prefix keeps IDs recognizable in logs and tickets, and guarantees a
// CLI argument never starts with a dash.
func NewRecordID() string {
	return "cert-" + cryptorandombytes.Base64Url(8)
}
