// HTTP API for the certificate dashboard plus the inbound ticketing webhook.
package cwserver

import (
	"bytes"
	"context"
	"errors"
	"io/ioutil"
	"log"
	"net/http"
	"time"

	"github.com/function61/certwatch/pkg/certregistry"
	"github.com/function61/certwatch/pkg/cwdomain"
	"github.com/function61/certwatch/pkg/reconcile"
	"github.com/function61/certwatch/pkg/snowticket"
	"github.com/function61/gokit/jsonfile"
	"github.com/function61/gokit/logex"
	"github.com/function61/gokit/taskrunner"
	"github.com/gorilla/mux"
)

// Store is the slice of the registry the API needs.
type Store interface {
	All(ctx context.Context) ([]cwdomain.Record, error)
	Get(ctx context.Context, id string) (*cwdomain.Record, error)
	ApplyIncidentUpdate(ctx context.Context, id string, upd certregistry.IncidentUpdate) error
	AppendLog(ctx context.Context, entry cwdomain.LogEntry) error
}

type Server struct {
	store         Store
	webhookSecret string // empty disables signature validation
	policy        reconcile.Policy
	logl          *logex.Leveled
}

func New(store Store, webhookSecret string, policy reconcile.Policy, logger *log.Logger) *Server {
	return &Server{
		store:         store,
		webhookSecret: webhookSecret,
		policy:        policy,
		logl:          logex.Levels(logger),
	}
}

func (s *Server) Routes() http.Handler {
	routes := mux.NewRouter()
	routes.HandleFunc("/api/certificates", s.listCertificates).Methods(http.MethodGet)
	routes.HandleFunc("/api/certificates/{id}", s.getCertificate).Methods(http.MethodGet)
	routes.HandleFunc("/api/webhooks/servicenow", s.serviceNowWebhook).Methods(http.MethodPost)

	return routes
}

// Serve runs the API until the context is cancelled, then shuts down
// gracefully.
func Serve(ctx context.Context, addr string, server *Server, logger *log.Logger) error {
	srv := &http.Server{
		Addr:    addr,
		Handler: server.Routes(),
	}

	tasks := taskrunner.New(ctx, logger)

	tasks.Start("http server ("+addr+")", func(_ context.Context) error {
		return removeGracefulServerClosedError(srv.ListenAndServe())
	})

	// Go's HTTP server doesn't support stopping via context cancel, so we'll need
	// additional goroutine to map cancellation to Shutdown() call
	tasks.Start("http server shutdowner", httpShutdownTask(srv))

	return tasks.Wait()
}

// certificateView is a Record with its status derived for display time -
// the stored status can be a day stale between sweeps.
type certificateView struct {
	cwdomain.Record
	Status          cwdomain.Status `json:"Status"`
	DaysUntilExpiry *int            `json:"DaysUntilExpiry,omitempty"`
}

func (s *Server) viewOf(rec cwdomain.Record, now time.Time) certificateView {
	view := certificateView{Record: rec, Status: rec.Status}

	if status, _, err := reconcile.Reconcile(rec, now, s.policy); err == nil {
		view.Status = status
	}

	if days, err := cwdomain.DaysUntil(rec.ExpiryDate, now); err == nil {
		view.DaysUntilExpiry = &days
	}

	return view
}

func (s *Server) listCertificates(w http.ResponseWriter, r *http.Request) {
	records, err := s.store.All(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	now := time.Now().UTC()

	views := []certificateView{}
	for _, rec := range records {
		views = append(views, s.viewOf(rec, now))
	}

	respondJson(w, views)
}

func (s *Server) getCertificate(w http.ResponseWriter, r *http.Request) {
	rec, err := s.store.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		if errorIsNotFound(err) {
			http.Error(w, err.Error(), http.StatusNotFound)
		} else {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
		return
	}

	respondJson(w, s.viewOf(*rec, time.Now().UTC()))
}

func (s *Server) serviceNowWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := ioutil.ReadAll(r.Body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if s.webhookSecret != "" {
		if !snowticket.ValidateSignature(s.webhookSecret, body, r.Header.Get("X-ServiceNow-Signature")) {
			s.logl.Error.Printf("webhook: invalid signature from %s", r.RemoteAddr)
			http.Error(w, "invalid signature", http.StatusUnauthorized)
			return
		}
	}

	payload := snowticket.WebhookPayload{}
	if err := jsonfile.Unmarshal(bytes.NewReader(body), &payload, false); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	newStatus, err := snowticket.ProcessWebhook(r.Context(), s.store, payload)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	respondJson(w, struct {
		CertificateID string `json:"certificate_id"`
		NewStatus     string `json:"new_status"`
	}{
		CertificateID: payload.CorrelationID,
		NewStatus:     string(newStatus),
	})
}

func respondJson(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = jsonfile.Marshal(w, data)
}

func errorIsNotFound(err error) bool {
	return errors.Is(err, cwdomain.ErrNotFound)
}

// helper for making HTTP shutdown task. Go's http.Server is weird that we cannot use
// context cancellation to stop it, but instead we have to call srv.Shutdown()
func httpShutdownTask(server *http.Server) func(context.Context) error {
	return func(ctx context.Context) error {
		<-ctx.Done()
		// can't use task ctx b/c it'd cancel the Shutdown() itself
		return server.Shutdown(context.Background())
	}
}

func removeGracefulServerClosedError(httpServerError error) error {
	if httpServerError == http.ErrServerClosed {
		return nil
	} else {
		return httpServerError
	}
}
