// Package tracker is the confirmation tracker (C7): on every new block
// hash it re-verifies active transactions against the node under a
// bounded worker pool, advances the confirmation state machine, archives
// mature records, and retries transient RPC failures with capped
// attempts.
package tracker

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/bsv-watch/address-tracker/internal/metrics"
	"github.com/bsv-watch/address-tracker/internal/model"
	"github.com/bsv-watch/address-tracker/internal/nodeclient"
	"github.com/bsv-watch/address-tracker/internal/store"
)

// Config bundles the tunables spec.md §4.7/§6 expose as environment
// variables.
type Config struct {
	ArchiveThreshold int64
	PendingTxLimit   int64
	RPCConcurrency   int
	RPCBatchInterval time.Duration
	RetryDelay       time.Duration
	MaxRetries       int
	RetryBatchSize   int
}

// DefaultConfig mirrors spec.md §6's defaults.
func DefaultConfig() Config {
	return Config{
		ArchiveThreshold: 144,
		PendingTxLimit:   50,
		RPCConcurrency:   4,
		RPCBatchInterval: 200 * time.Millisecond,
		RetryDelay:       30 * time.Second,
		MaxRetries:       3,
		RetryBatchSize:   10,
	}
}

// nodeRPC is the NodeClient seam spec.md §9 calls essential.
type nodeRPC interface {
	GetBlockCount(ctx context.Context) (int64, error)
	GetRawTransaction(ctx context.Context, txid string) (*nodeclient.RawTransaction, error)
}

// txStore is the subset of store.Store/store.Memory the tracker depends
// on. Both concrete types satisfy it because they share the same method
// signatures over the store package's named types.
type txStore interface {
	ActiveTransactionsByStatus(ctx context.Context, statuses []model.TxStatus, limit int64) ([]model.ActiveTransaction, error)
	ApplyVerification(ctx context.Context, txid string, u store.VerificationUpdate) error
	ConfirmingBelowTip(ctx context.Context, tipHeight, archiveThreshold int64) ([]model.ActiveTransaction, error)
	ArchiveTransaction(ctx context.Context, archived *model.ArchivedTransaction) error
	BumpActivity(ctx context.Context, addrs []string, at time.Time) error
}

// webhookEnqueuer mirrors the enqueue contract intake also depends on.
type webhookEnqueuer interface {
	EnqueueForAddresses(ctx context.Context, addrs []string, txid string, payload model.WebhookPayload) error
}

type retryEntry struct {
	tx          model.ActiveTransaction
	attempts    int
	nextRetryAt time.Time
}

// Tracker implements C7. A single instance must not run ProcessNewBlock
// concurrently with itself; the inProgress gate enforces this even if the
// caller's dispatch loop races (spec.md §4.7 "single-flight").
type Tracker struct {
	cfg      Config
	rpc      nodeRPC
	store    txStore
	webhooks webhookEnqueuer
	log      *logrus.Logger
	metrics  *metrics.Metrics

	inProgress atomic.Bool

	retryMu sync.Mutex
	retry   []retryEntry
}

// New constructs a Tracker.
func New(cfg Config, rpc nodeRPC, st txStore, webhooks webhookEnqueuer, log *logrus.Logger) *Tracker {
	return &Tracker{cfg: cfg, rpc: rpc, store: st, webhooks: webhooks, log: log}
}

// WithMetrics attaches a metrics collector. Safe to skip — a Tracker with
// no attached collector simply records nothing.
func (t *Tracker) WithMetrics(m *metrics.Metrics) *Tracker {
	t.metrics = m
	return t
}
