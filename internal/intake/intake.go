// Package intake is the transaction intake pipeline (C6): it consumes raw
// transaction bytes from the ZMQ listener, runs the address extractor,
// screens the result through the membership set, and upserts matching
// transactions into the store.
package intake

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/bsv-watch/address-tracker/internal/errs"
	"github.com/bsv-watch/address-tracker/internal/metrics"
	"github.com/bsv-watch/address-tracker/internal/model"
	"github.com/bsv-watch/address-tracker/internal/txparse"
)

// membershipFilter is the subset of membership.Set intake depends on.
type membershipFilter interface {
	Filter(candidates []string) []string
}

// addressStore is the subset of store.Store/store.Memory intake uses to
// look up and update watched addresses.
type addressStore interface {
	GetAddress(ctx context.Context, addr string) (*model.WatchedAddress, error)
	BumpActivity(ctx context.Context, addrs []string, at time.Time) error
}

// txStore is the subset used to persist active transactions.
type txStore interface {
	UpsertActiveTransaction(ctx context.Context, tx *model.ActiveTransaction) error
}

// webhookEnqueuer is the subset of the webhook dispatcher's enqueue API
// intake uses to notify subscribers of a new transaction.
type webhookEnqueuer interface {
	EnqueueForAddresses(ctx context.Context, addrs []string, txid string, payload model.WebhookPayload) error
}

// Intake implements the per-transaction procedure of spec.md §4.3.
type Intake struct {
	network     txparse.Network
	maxTxSize   int64
	membership  membershipFilter
	addresses   addressStore
	txs         txStore
	webhooks    webhookEnqueuer
	log         *logrus.Logger
	metrics     *metrics.Metrics
}

// WithMetrics attaches a metrics collector. Safe to skip.
func (i *Intake) WithMetrics(m *metrics.Metrics) *Intake {
	i.metrics = m
	return i
}

// New constructs an Intake.
func New(network txparse.Network, maxTxSize int64, membership membershipFilter, addresses addressStore, txs txStore, webhooks webhookEnqueuer, log *logrus.Logger) *Intake {
	return &Intake{
		network:    network,
		maxTxSize:  maxTxSize,
		membership: membership,
		addresses:  addresses,
		txs:        txs,
		webhooks:   webhooks,
		log:        log,
	}
}

// HandleRawTx runs the full intake procedure for one ZMQ rawtx frame.
// Per-frame errors are logged and swallowed; the caller's receive loop
// must never be interrupted by a single malformed or unmatched
// transaction (spec.md §4.3 "Failure").
func (i *Intake) HandleRawTx(ctx context.Context, raw []byte) {
	ext, err := txparse.Extract(raw, i.network, i.maxTxSize)
	if err != nil {
		i.log.WithError(err).Debug("intake: dropping unparseable frame")
		i.recordOutcome("malformed")
		return
	}

	candidates := i.membership.Filter(ext.AllAddresses)
	if len(candidates) == 0 {
		i.recordOutcome("no_match")
		return
	}

	tracked := i.loadTracked(ctx, candidates)
	if len(tracked) == 0 {
		i.recordOutcome("no_match")
		return
	}

	now := time.Now()
	tx := &model.ActiveTransaction{
		TxID:      ext.TxID,
		Addresses: tracked,
		FirstSeen: now,
		Status:    model.StatusPending,
	}
	if err := i.txs.UpsertActiveTransaction(ctx, tx); err != nil {
		i.log.WithError(err).WithField("txid", ext.TxID).Warn("intake: upsert failed")
		i.recordOutcome("store_error")
		return
	}
	i.recordOutcome("matched")

	if err := i.addresses.BumpActivity(ctx, tracked, now); err != nil {
		i.log.WithError(err).WithField("txid", ext.TxID).Warn("intake: bump activity failed")
	}

	payload := model.WebhookPayload{
		Timestamp: now,
		Transaction: model.WebhookTransaction{
			ID:            ext.TxID,
			Addresses:     tracked,
			Confirmations: 0,
			Status:        string(model.StatusPending),
			FirstSeen:     now,
		},
		Changes: map[string]any{"status": "new"},
	}
	if err := i.webhooks.EnqueueForAddresses(ctx, tracked, ext.TxID, payload); err != nil {
		i.log.WithError(err).WithField("txid", ext.TxID).Warn("intake: webhook enqueue failed")
	}
}

func (i *Intake) recordOutcome(outcome string) {
	if i.metrics != nil {
		i.metrics.IntakeFramesTotal.WithLabelValues(outcome).Inc()
	}
}

// loadTracked resolves candidates to the subset whose store record is
// still active=true, guarding against a stale positive from the
// membership set (spec.md §4.2 "a stale positive is acceptable and is
// resolved by the store lookup in C6").
func (i *Intake) loadTracked(ctx context.Context, candidates []string) []string {
	var tracked []string
	for _, addr := range candidates {
		wa, err := i.addresses.GetAddress(ctx, addr)
		if err == errs.ErrNotFound {
			continue
		}
		if err != nil {
			i.log.WithError(err).WithField("address", addr).Warn("intake: address lookup failed")
			continue
		}
		if wa.Active {
			tracked = append(tracked, addr)
		}
	}
	return tracked
}
