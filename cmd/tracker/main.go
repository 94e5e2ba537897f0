// Command tracker runs the full address-tracking daemon: ZMQ intake,
// confirmation tracking, historical backfill, webhook delivery, and the
// REST control surface, wired against a single Mongo-backed store.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/bsv-watch/address-tracker/internal/api"
	"github.com/bsv-watch/address-tracker/internal/backfill"
	"github.com/bsv-watch/address-tracker/internal/explorer"
	"github.com/bsv-watch/address-tracker/internal/intake"
	"github.com/bsv-watch/address-tracker/internal/logging"
	"github.com/bsv-watch/address-tracker/internal/membership"
	"github.com/bsv-watch/address-tracker/internal/metrics"
	"github.com/bsv-watch/address-tracker/internal/nodeclient"
	"github.com/bsv-watch/address-tracker/internal/store"
	"github.com/bsv-watch/address-tracker/internal/tracker"
	"github.com/bsv-watch/address-tracker/internal/txparse"
	"github.com/bsv-watch/address-tracker/internal/webhook"
	"github.com/bsv-watch/address-tracker/internal/zmqlistener"
	"github.com/bsv-watch/address-tracker/pkg/config"
)

// storeLoader adapts store.Store's context-taking ActiveAddresses to the
// membership.Loader interface, which predates context plumbing and is
// only ever called once at startup.
type storeLoader struct {
	ctx context.Context
	st  interface {
		ActiveAddresses(ctx context.Context) ([]string, error)
	}
}

func (l storeLoader) ActiveAddresses() ([]string, error) {
	return l.st.ActiveAddresses(l.ctx)
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("invalid configuration")
	}

	log := logging.New(cfg.Logging.Level, cfg.Logging.Format)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	network, err := txparse.ParseNetwork(cfg.Network.BSVNetwork)
	if err != nil {
		log.WithError(err).Fatal("invalid network configuration")
	}

	st, err := store.Connect(ctx, cfg.Store.MongoURL, cfg.Store.Database)
	if err != nil {
		log.WithError(err).Fatal("failed to connect to store")
	}
	defer st.Close(context.Background())

	mets := metrics.New(prometheus.DefaultRegisterer)

	ms := membership.New()
	if err := ms.LoadFromStore(storeLoader{ctx: ctx, st: st}); err != nil {
		log.WithError(err).Fatal("failed to load membership set from store")
	}
	log.WithField("count", ms.Size()).Info("tracker: membership set loaded")

	rpc := nodeclient.New(cfg.RPC.Host, cfg.RPC.Port, cfg.RPC.User, cfg.RPC.Password, cfg.RPC.Timeout, log)
	exp := explorer.New(cfg.Explorer.BaseURL, cfg.Explorer.APIKey, cfg.Explorer.RateLimit, cfg.Explorer.RequestTimeout, cfg.Explorer.PageSize, log)

	whDispatcher := webhook.New(st, log)
	whProcessor := webhook.NewProcessor(webhook.Config{
		ProcessingInterval: cfg.Webhook.ProcessingInterval,
		RequestTimeout:     cfg.Webhook.Timeout,
		MaxAttempts:        cfg.Webhook.MaxRetries,
		BatchSize:          cfg.Webhook.BatchSize,
		CleanupAfter:       time.Duration(cfg.Webhook.CleanupDays) * 24 * time.Hour,
	}, st).WithMetrics(mets)

	in := intake.New(network, cfg.Tx.MaxSizeBytes, ms, st, st, whDispatcher, log).WithMetrics(mets)

	trk := tracker.New(tracker.Config{
		ArchiveThreshold: int64(cfg.Tracker.AutoArchiveAfter),
		PendingTxLimit:   int64(cfg.Tracker.PendingTxLimit),
		RPCConcurrency:   cfg.Tracker.RPCConcurrency,
		RPCBatchInterval: cfg.Tracker.RPCBatchInterval,
		RetryDelay:       cfg.Tracker.RetryDelay,
		MaxRetries:       cfg.Tracker.MaxRetries,
		RetryBatchSize:   cfg.Tracker.RetryBatchSize,
	}, rpc, st, whDispatcher, log).WithMetrics(mets)

	bf := backfill.New(backfill.Config{
		MaxHistoryPerAddress: cfg.Backfill.MaxHistoryPerAddress,
		ArchiveThreshold:     int64(cfg.Tracker.AutoArchiveAfter),
	}, exp, rpc, st, log).WithMetrics(mets)

	zl := zmqlistener.New(zmqlistener.Config{
		RawTxEndpoint:     cfg.ZMQ.RawTxEndpoint,
		HashBlockEndpoint: cfg.ZMQ.HashBlockEndpoint,
	}, in, trk, log)

	apiSrv := api.New(api.Config{
		RequireAPIKey: cfg.API.RequireAPIKey,
		APIKey:        cfg.API.APIKey,
		Network:       network,
	}, st, ms, bf, trk, log)

	httpSrv := &http.Server{
		Addr:    cfg.API.Host + ":" + strconv.Itoa(cfg.API.Port),
		Handler: apiSrv,
	}

	go runStartupBackfill(ctx, st, bf, log)

	if cfg.Webhook.Enabled {
		go whProcessor.Run(ctx)
		go runDailyCleanup(ctx, whProcessor, log)
	}

	go func() {
		log.WithField("addr", httpSrv.Addr).Info("tracker: control surface listening")
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("control surface failed")
		}
	}()

	go zl.Run(ctx)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Info("tracker: shutdown signal received")

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("control surface shutdown did not complete cleanly")
	}
}

// runStartupBackfill drives backfill for every address the store marks as
// never having had its history fetched, spec.md §4.6's startup sweep.
func runStartupBackfill(ctx context.Context, st *store.Store, bf *backfill.Backfiller, log *logrus.Logger) {
	addrs, err := st.AddressesNeedingBackfill(ctx)
	if err != nil {
		log.WithError(err).Warn("tracker: failed to list addresses needing backfill")
		return
	}
	for _, addr := range addrs {
		if err := bf.Run(ctx, addr); err != nil {
			log.WithError(err).WithField("address", addr).Warn("tracker: startup backfill failed")
		}
	}
}

func runDailyCleanup(ctx context.Context, p *webhook.Processor, log *logrus.Logger) {
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := p.Cleanup(ctx)
			if err != nil {
				log.WithError(err).Warn("tracker: webhook delivery cleanup failed")
				continue
			}
			log.WithField("deleted", n).Info("tracker: webhook delivery cleanup complete")
		}
	}
}
