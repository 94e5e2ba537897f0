// Package api is the Control Surface (C11): a gorilla/mux REST server
// exposing address/transaction/webhook management and a Prometheus
// scrape endpoint.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/bsv-watch/address-tracker/internal/model"
	"github.com/bsv-watch/address-tracker/internal/txparse"
)

// membershipSet is the subset of membership.Set the API mutates directly
// so address add/remove is reflected before the HTTP response is sent
// (spec.md §8 "the set reflects that change before the HTTP response").
type membershipSet interface {
	Add(addr string)
	Remove(addr string)
}

// backfiller is the subset of backfill.Backfiller the address-add
// endpoint kicks off for newly registered or force-refetched addresses.
type backfiller interface {
	Run(ctx context.Context, addr string) error
}

// tracker is the subset of tracker.Tracker the on-demand trigger
// endpoint invokes.
type tracker interface {
	ProcessNewBlock(ctx context.Context)
}

// store is the combined read/write surface the Control Surface needs
// across addresses, transactions, and webhooks.
type store interface {
	UpsertAddress(ctx context.Context, addr *model.WatchedAddress) (bool, error)
	GetAddress(ctx context.Context, addr string) (*model.WatchedAddress, error)
	ListAddresses(ctx context.Context, activeOnly bool, limit, offset int64) ([]model.WatchedAddress, error)
	DeactivateAddress(ctx context.Context, addr string) (bool, error)
	MarkHistoricalFetched(ctx context.Context, addr string, at time.Time) error

	ListActiveTransactions(ctx context.Context, status string, limit, offset int64) ([]model.ActiveTransaction, error)
	RecentActiveTransactionsForAddress(ctx context.Context, addr string, limit int64) ([]model.ActiveTransaction, error)
	GetActiveTransaction(ctx context.Context, txid string) (*model.ActiveTransaction, error)
	GetArchivedTransaction(ctx context.Context, txid string) (*model.ArchivedTransaction, error)
	CountActive(ctx context.Context, status string) (int64, error)
	CountArchived(ctx context.Context) (int64, error)

	InsertWebhook(ctx context.Context, wh *model.Webhook) error
	GetWebhook(ctx context.Context, id string) (*model.Webhook, error)
	ListWebhooks(ctx context.Context, activeOnly bool, limit, offset int64) ([]model.Webhook, error)
	UpdateWebhook(ctx context.Context, id string, fields map[string]any) (bool, error)
	DeleteWebhook(ctx context.Context, id string) (bool, error)
	CancelDeliveriesForWebhook(ctx context.Context, webhookID string) error
	RecentDeliveriesForWebhook(ctx context.Context, webhookID string, limit int64) ([]model.WebhookDelivery, error)
}

// Config bundles the API's own tunables, spec.md §6.
type Config struct {
	RequireAPIKey bool
	APIKey        string
	Network       txparse.Network
}

// Server implements C11.
type Server struct {
	cfg        Config
	store      store
	membership membershipSet
	backfill   backfiller
	tracker    tracker
	log        *logrus.Logger
	router     *mux.Router
}

// New constructs a Server and registers every route from spec.md §6.
func New(cfg Config, st store, ms membershipSet, bf backfiller, tr tracker, log *logrus.Logger) *Server {
	s := &Server{cfg: cfg, store: st, membership: ms, backfill: bf, tracker: tr, log: log, router: mux.NewRouter()}
	s.routes()
	return s
}

// ServeHTTP implements http.Handler so a caller can hand Server straight
// to http.Server.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() {
	s.router.Use(s.jsonHeaders)

	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	s.router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	protected := s.router.NewRoute().Subrouter()
	protected.Use(s.requireAPIKey)

	protected.HandleFunc("/addresses", s.handleAddAddresses).Methods(http.MethodPost)
	protected.HandleFunc("/addresses", s.handleListAddresses).Methods(http.MethodGet)
	protected.HandleFunc("/addresses/{addr}", s.handleGetAddress).Methods(http.MethodGet)
	protected.HandleFunc("/addresses/{addr}", s.handleDeleteAddress).Methods(http.MethodDelete)

	protected.HandleFunc("/transactions", s.handleListTransactions).Methods(http.MethodGet)
	protected.HandleFunc("/transaction/{txid}", s.handleGetTransaction).Methods(http.MethodGet)

	protected.HandleFunc("/stats", s.handleStats).Methods(http.MethodGet)

	protected.HandleFunc("/webhooks", s.handleCreateWebhook).Methods(http.MethodPost)
	protected.HandleFunc("/webhooks", s.handleListWebhooks).Methods(http.MethodGet)
	protected.HandleFunc("/webhooks/{id}", s.handleGetWebhook).Methods(http.MethodGet)
	protected.HandleFunc("/webhooks/{id}", s.handleUpdateWebhook).Methods(http.MethodPut)
	protected.HandleFunc("/webhooks/{id}", s.handleDeleteWebhook).Methods(http.MethodDelete)

	protected.HandleFunc("/trigger/confirmations", s.handleTriggerConfirmations).Methods(http.MethodPost)
}

// jsonHeaders sets the response content type for every route, matching
// the teacher's router-wide JSONHeaders middleware.
func (s *Server) jsonHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

// requireAPIKey enforces the X-API-Key header or api_key query parameter
// when REQUIRE_API_KEY is set (spec.md §6, /health exempt by route
// placement above).
func (s *Server) requireAPIKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.cfg.RequireAPIKey {
			next.ServeHTTP(w, r)
			return
		}
		key := r.Header.Get("X-API-Key")
		if key == "" {
			key = r.URL.Query().Get("api_key")
		}
		if key == "" || key != s.cfg.APIKey {
			writeError(w, http.StatusUnauthorized, "missing or invalid API key")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": time.Now(),
	})
}
