package cwserver

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/function61/certwatch/pkg/certregistry"
	"github.com/function61/certwatch/pkg/cwdomain"
	"github.com/function61/certwatch/pkg/reconcile"
	"github.com/function61/gokit/assert"
	"github.com/function61/gokit/jsonfile"
	"github.com/function61/gokit/logex"
)

type fakeStore struct {
	records map[string]cwdomain.Record
	updates map[string]certregistry.IncidentUpdate
	logs    []cwdomain.LogEntry
}

func (f *fakeStore) All(_ context.Context) ([]cwdomain.Record, error) {
	records := []cwdomain.Record{}
	for _, rec := range f.records {
		records = append(records, rec)
	}

	return records, nil
}

func (f *fakeStore) Get(_ context.Context, id string) (*cwdomain.Record, error) {
	rec, found := f.records[id]
	if !found {
		return nil, fmt.Errorf("%s: %w", id, cwdomain.ErrNotFound)
	}

	return &rec, nil
}

func (f *fakeStore) ApplyIncidentUpdate(_ context.Context, id string, upd certregistry.IncidentUpdate) error {
	f.updates[id] = upd
	return nil
}

func (f *fakeStore) AppendLog(_ context.Context, entry cwdomain.LogEntry) error {
	f.logs = append(f.logs, entry)
	return nil
}

func testServer(secret string) (*Server, *fakeStore) {
	store := &fakeStore{
		records: map[string]cwdomain.Record{
			"cert-12345": {
				ID:         "cert-12345",
				CommonName: "web.example.com",
				ExpiryDate: "2030-01-01",
				Status:     cwdomain.StatusActive,
				OwnerEmail: "alice@example.com",
			},
		},
		updates: map[string]certregistry.IncidentUpdate{},
	}

	return New(store, secret, reconcile.DefaultPolicy(), logex.Discard), store
}

func TestGetCertificate(t *testing.T) {
	server, _ := testServer("")

	rec := httptest.NewRecorder()
	server.Routes().ServeHTTP(rec, httptest.NewRequest("GET", "/api/certificates/cert-12345", nil))

	assert.Assert(t, rec.Code == 200)

	view := struct {
		CommonName      string
		Status          string
		DaysUntilExpiry *int
	}{}
	assert.Ok(t, jsonfile.Unmarshal(rec.Body, &view, false))
	assert.EqualString(t, view.CommonName, "web.example.com")
	assert.EqualString(t, view.Status, "Active")
	assert.Assert(t, view.DaysUntilExpiry != nil)

	rec = httptest.NewRecorder()
	server.Routes().ServeHTTP(rec, httptest.NewRequest("GET", "/api/certificates/cert-unknown", nil))
	assert.Assert(t, rec.Code == 404)
}

func TestListCertificates(t *testing.T) {
	server, _ := testServer("")

	rec := httptest.NewRecorder()
	server.Routes().ServeHTTP(rec, httptest.NewRequest("GET", "/api/certificates", nil))

	assert.Assert(t, rec.Code == 200)

	views := []struct{ CommonName string }{}
	assert.Ok(t, jsonfile.Unmarshal(rec.Body, &views, false))
	assert.Assert(t, len(views) == 1)
	assert.EqualString(t, views[0].CommonName, "web.example.com")
}

func TestWebhook(t *testing.T) {
	server, store := testServer("")

	body := `{"incident_number":"INC0817937","state":"2","correlation_id":"cert-12345"}`

	rec := httptest.NewRecorder()
	server.Routes().ServeHTTP(rec, httptest.NewRequest("POST", "/api/webhooks/servicenow", strings.NewReader(body)))

	assert.Assert(t, rec.Code == 200)
	assert.EqualString(t, store.updates["cert-12345"].IncidentNumber, "INC0817937")
}

func TestWebhookSignature(t *testing.T) {
	server, store := testServer("hunter2")

	body := `{"incident_number":"INC0817937","state":"2","correlation_id":"cert-12345"}`

	// no signature
	rec := httptest.NewRecorder()
	server.Routes().ServeHTTP(rec, httptest.NewRequest("POST", "/api/webhooks/servicenow", strings.NewReader(body)))
	assert.Assert(t, rec.Code == 401)
	assert.Assert(t, len(store.updates) == 0)

	// signature in the wrong header is as good as no signature
	mac := hmac.New(sha256.New, []byte("hunter2"))
	mac.Write([]byte(body))
	signature := hex.EncodeToString(mac.Sum(nil))

	req := httptest.NewRequest("POST", "/api/webhooks/servicenow", strings.NewReader(body))
	req.Header.Set("X-Signature", signature)

	rec = httptest.NewRecorder()
	server.Routes().ServeHTTP(rec, req)
	assert.Assert(t, rec.Code == 401)

	// valid signature in the header ServiceNow actually sends
	req = httptest.NewRequest("POST", "/api/webhooks/servicenow", strings.NewReader(body))
	req.Header.Set("X-ServiceNow-Signature", signature)

	rec = httptest.NewRecorder()
	server.Routes().ServeHTTP(rec, req)
	assert.Assert(t, rec.Code == 200)
	assert.EqualString(t, store.updates["cert-12345"].IncidentNumber, "INC0817937")
}
