// Package backfill is the historical backfill pipeline (C8): it pages a
// newly registered address's confirmed transaction history from the
// block explorer and inserts the records the live intake pipeline would
// never otherwise see.
package backfill

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/bsv-watch/address-tracker/internal/explorer"
	"github.com/bsv-watch/address-tracker/internal/metrics"
	"github.com/bsv-watch/address-tracker/internal/model"
)

// Config bundles the tunables spec.md §4.6/§6 expose as environment
// variables.
type Config struct {
	MaxHistoryPerAddress int
	ArchiveThreshold     int64
}

// DefaultConfig mirrors spec.md §6's defaults.
func DefaultConfig() Config {
	return Config{MaxHistoryPerAddress: 500, ArchiveThreshold: 144}
}

// explorerClient is the subset of explorer.Client backfill depends on.
type explorerClient interface {
	Paginate(ctx context.Context, addr string, maxTx int) ([]explorer.HistoryEntry, error)
}

// nodeRPC is the subset of nodeclient.Client backfill depends on — just
// enough to read the current tip once per run.
type nodeRPC interface {
	GetBlockCount(ctx context.Context) (int64, error)
}

// txStore is the subset of store.Store/store.Memory backfill depends on.
type txStore interface {
	ExistsActiveOrArchived(ctx context.Context, txid string) (bool, error)
	InsertActiveTransaction(ctx context.Context, tx *model.ActiveTransaction) error
	InsertArchivedTransaction(ctx context.Context, tx *model.ArchivedTransaction) error
	MarkHistoricalFetched(ctx context.Context, addr string, at time.Time) error
}

// Backfiller implements C8.
type Backfiller struct {
	cfg      Config
	explorer explorerClient
	rpc      nodeRPC
	store    txStore
	log      *logrus.Logger
	metrics  *metrics.Metrics
}

// New constructs a Backfiller.
func New(cfg Config, exp explorerClient, rpc nodeRPC, st txStore, log *logrus.Logger) *Backfiller {
	return &Backfiller{cfg: cfg, explorer: exp, rpc: rpc, store: st, log: log}
}

// WithMetrics attaches a metrics collector. Safe to skip.
func (b *Backfiller) WithMetrics(m *metrics.Metrics) *Backfiller {
	b.metrics = m
	return b
}

// Run backfills one address: it pages the explorer for confirmed history
// up to MaxHistoryPerAddress entries, skips any txid already tracked as
// active or archived, and classifies each new entry by the node's
// current tip height at the moment the run started (spec.md §4.6 steps
// 2-5). It always marks the address as historical-fetched on success,
// even when the address has no history at all, so the startup sweep
// never retries it.
func (b *Backfiller) Run(ctx context.Context, addr string) error {
	tipHeight, err := b.rpc.GetBlockCount(ctx)
	if err != nil {
		b.log.WithError(err).WithField("address", addr).Warn("backfill: getblockcount failed, treating tip as unknown")
		tipHeight = 0
	}

	entries, err := b.explorer.Paginate(ctx, addr, b.cfg.MaxHistoryPerAddress)
	if err != nil {
		b.log.WithError(err).WithField("address", addr).Warn("backfill: explorer pagination failed")
		b.recordOutcome("explorer_error")
		return err
	}

	now := time.Now()
	for _, e := range entries {
		if err := b.ingestOne(ctx, addr, e, tipHeight); err != nil {
			b.log.WithError(err).WithFields(logrus.Fields{"address": addr, "txid": e.TxHash}).Warn("backfill: ingest failed, continuing")
			continue
		}
		if b.metrics != nil {
			b.metrics.BackfillEntriesTotal.Inc()
		}
	}

	if err := b.store.MarkHistoricalFetched(ctx, addr, now); err != nil {
		b.log.WithError(err).WithField("address", addr).Warn("backfill: mark historical fetched failed")
		b.recordOutcome("store_error")
		return err
	}
	b.recordOutcome("ok")
	return nil
}

func (b *Backfiller) recordOutcome(outcome string) {
	if b.metrics != nil {
		b.metrics.BackfillAddressesTotal.WithLabelValues(outcome).Inc()
	}
}

func (b *Backfiller) ingestOne(ctx context.Context, addr string, e explorer.HistoryEntry, tipHeight int64) error {
	exists, err := b.store.ExistsActiveOrArchived(ctx, e.TxHash)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	firstSeen := time.Unix(e.Time, 0).UTC()
	confirmations := int64(0)
	if tipHeight > 0 && e.Height > 0 && tipHeight >= e.Height {
		confirmations = tipHeight - e.Height + 1
	}

	if confirmations >= b.cfg.ArchiveThreshold {
		archived := &model.ArchivedTransaction{
			TxID:               e.TxHash,
			Addresses:          []string{addr},
			BlockHeight:        e.Height,
			BlockHash:          "",
			FinalConfirmations: confirmations,
			FirstSeen:          firstSeen,
			IsHistorical:       true,
			ArchivedAt:         time.Now(),
			ArchiveHeight:      tipHeight,
		}
		return b.store.InsertArchivedTransaction(ctx, archived)
	}

	status := model.StatusPending
	if confirmations > 0 {
		status = model.StatusConfirming
	}
	blockHeight := e.Height
	active := &model.ActiveTransaction{
		TxID:          e.TxHash,
		Addresses:     []string{addr},
		BlockHeight:   &blockHeight,
		Confirmations: confirmations,
		FirstSeen:     firstSeen,
		Status:        status,
		IsHistorical:  true,
	}
	return b.store.InsertActiveTransaction(ctx, active)
}
