package tracker

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/bsv-watch/address-tracker/internal/errs"
	"github.com/bsv-watch/address-tracker/internal/model"
	"github.com/bsv-watch/address-tracker/internal/store"
)

// ProcessNewBlock runs one C7 cycle. If a cycle is already running, this
// call is a dropped no-op — the next block hash's tip read subsumes the
// dropped frame (spec.md §4.7).
func (t *Tracker) ProcessNewBlock(ctx context.Context) {
	if !t.inProgress.CompareAndSwap(false, true) {
		t.log.Debug("tracker: cycle already in progress, dropping frame")
		return
	}
	defer t.inProgress.Store(false)

	start := time.Now()
	defer func() {
		if t.metrics != nil {
			t.metrics.TrackerCycleDuration.Observe(time.Since(start).Seconds())
		}
	}()

	tipHeight, err := t.rpc.GetBlockCount(ctx)
	if err != nil {
		t.log.WithError(err).Warn("tracker: getblockcount failed, skipping cycle")
		if t.metrics != nil {
			t.metrics.TrackerCycleTotal.WithLabelValues("rpc_unavailable").Inc()
		}
		return
	}

	pending, err := t.store.ActiveTransactionsByStatus(ctx, []model.TxStatus{model.StatusPending, model.StatusConfirming}, t.cfg.PendingTxLimit)
	if err != nil {
		t.log.WithError(err).Warn("tracker: loading active transactions failed")
		pending = nil
	}

	t.verifyBatch(ctx, pending, tipHeight)
	t.sweepArchival(ctx, tipHeight)
	t.processRetryQueue(ctx, tipHeight)

	if t.metrics != nil {
		t.metrics.TrackerCycleTotal.WithLabelValues("ok").Inc()
	}
}

// verifyBatch submits each pending transaction to a bounded worker pool,
// pacing batches by RPCBatchInterval (spec.md §4.7 step 3).
func (t *Tracker) verifyBatch(ctx context.Context, txs []model.ActiveTransaction, tipHeight int64) {
	if len(txs) == 0 {
		return
	}

	concurrency := t.cfg.RPCConcurrency
	if concurrency <= 0 {
		concurrency = 1
	}

	for start := 0; start < len(txs); start += concurrency {
		end := start + concurrency
		if end > len(txs) {
			end = len(txs)
		}
		batch := txs[start:end]

		g, gctx := errgroup.WithContext(ctx)
		for _, tx := range batch {
			tx := tx
			g.Go(func() error {
				t.verifyOne(gctx, tx, tipHeight)
				return nil
			})
		}
		_ = g.Wait()

		if end < len(txs) {
			select {
			case <-ctx.Done():
				return
			case <-time.After(t.cfg.RPCBatchInterval):
			}
		}
	}
}

// verifyOne re-verifies a single transaction and applies the resulting
// state transition (spec.md §4.7 step 3b/c).
func (t *Tracker) verifyOne(ctx context.Context, tx model.ActiveTransaction, tipHeight int64) {
	raw, err := t.rpc.GetRawTransaction(ctx, tx.TxID)
	if err != nil {
		if errors.Is(err, errs.ErrRpcTimeout) || errors.Is(err, errs.ErrRpcUnavailable) {
			t.enqueueRetry(tx)
			return
		}
		t.log.WithError(err).WithField("txid", tx.TxID).Warn("tracker: verification failed")
		return
	}

	now := time.Now()
	if raw.BlockHash == "" {
		// Reorg or not-yet-mined: clear block fields, revert to pending.
		update := store.VerificationUpdate{
			Confirmations: 0,
			Status:        model.StatusPending,
			LastVerified:  now,
		}
		if err := t.store.ApplyVerification(ctx, tx.TxID, update); err != nil {
			t.log.WithError(err).WithField("txid", tx.TxID).Warn("tracker: apply verification failed")
			return
		}
		t.emitDelta(ctx, tx, model.StatusPending, 0, nil, nil)
		return
	}

	confirmations := raw.Confirmations
	status := model.StatusPending
	if confirmations > 0 {
		status = model.StatusConfirming
	}

	blockHash := raw.BlockHash
	blockHeight := raw.BlockHeight
	var blockTime *time.Time
	if raw.BlockTime != nil {
		bt := time.Unix(*raw.BlockTime, 0).UTC()
		blockTime = &bt
	}
	hex := raw.Hex

	update := store.VerificationUpdate{
		BlockHash:     &blockHash,
		BlockHeight:   blockHeight,
		BlockTime:     blockTime,
		Confirmations: confirmations,
		Hex:           &hex,
		Status:        status,
		LastVerified:  now,
	}
	if err := t.store.ApplyVerification(ctx, tx.TxID, update); err != nil {
		t.log.WithError(err).WithField("txid", tx.TxID).Warn("tracker: apply verification failed")
		return
	}

	if status == model.StatusConfirming && blockHeight != nil && confirmations >= t.cfg.ArchiveThreshold {
		t.archiveOne(ctx, tx, *blockHeight, blockHash, confirmations, tipHeight)
		return
	}

	t.emitDelta(ctx, tx, status, confirmations, blockHeight, &blockHash)
}

// archiveOne moves a mature transaction from active to archived and bumps
// transaction_count on each of its addresses (spec.md §4.7 transition).
func (t *Tracker) archiveOne(ctx context.Context, tx model.ActiveTransaction, blockHeight int64, blockHash string, confirmations, tipHeight int64) {
	archived := &model.ArchivedTransaction{
		TxID:               tx.TxID,
		Addresses:          tx.Addresses,
		BlockHeight:        blockHeight,
		BlockHash:          blockHash,
		FinalConfirmations: confirmations,
		FirstSeen:          tx.FirstSeen,
		IsHistorical:       tx.IsHistorical,
		ArchivedAt:         time.Now(),
		ArchiveHeight:      tipHeight,
	}
	if err := t.store.ArchiveTransaction(ctx, archived); err != nil {
		t.log.WithError(err).WithField("txid", tx.TxID).Warn("tracker: archive failed")
		return
	}
	if err := t.store.BumpActivity(ctx, tx.Addresses, archived.ArchivedAt); err != nil {
		t.log.WithError(err).WithField("txid", tx.TxID).Warn("tracker: bump activity on archive failed")
	}

	t.enqueue(ctx, tx.Addresses, tx.TxID, map[string]any{"status": "archived", "confirmations": confirmations}, "archived", confirmations, &blockHeight, &blockHash, tx.FirstSeen)
}

// sweepArchival finds confirming transactions mature enough to archive
// even if verifyBatch's cap didn't reach them this cycle (spec.md §4.7
// step 4).
func (t *Tracker) sweepArchival(ctx context.Context, tipHeight int64) {
	mature, err := t.store.ConfirmingBelowTip(ctx, tipHeight, t.cfg.ArchiveThreshold)
	if err != nil {
		t.log.WithError(err).Warn("tracker: archival sweep query failed")
		return
	}
	for _, tx := range mature {
		if tx.BlockHeight == nil || tx.BlockHash == nil {
			continue
		}
		t.archiveOne(ctx, tx, *tx.BlockHeight, *tx.BlockHash, tx.Confirmations, tipHeight)
	}
}

// emitDelta enqueues a webhook event describing a non-archival state
// change (spec.md §4.7 step 6, §4.9 payload shape).
func (t *Tracker) emitDelta(ctx context.Context, tx model.ActiveTransaction, status model.TxStatus, confirmations int64, blockHeight *int64, blockHash *string) {
	changes := map[string]any{"confirmations": confirmations, "status": string(status)}
	t.enqueue(ctx, tx.Addresses, tx.TxID, changes, string(status), confirmations, blockHeight, blockHash, tx.FirstSeen)
}

func (t *Tracker) enqueue(ctx context.Context, addrs []string, txid string, changes map[string]any, status string, confirmations int64, blockHeight *int64, blockHash *string, firstSeen time.Time) {
	payload := model.WebhookPayload{
		Timestamp: time.Now(),
		Transaction: model.WebhookTransaction{
			ID:            txid,
			Addresses:     addrs,
			Confirmations: confirmations,
			Status:        status,
			BlockHeight:   blockHeight,
			BlockHash:     blockHash,
			FirstSeen:     firstSeen,
		},
		Changes: changes,
	}
	if err := t.webhooks.EnqueueForAddresses(ctx, addrs, txid, payload); err != nil {
		t.log.WithError(err).WithField("txid", txid).Warn("tracker: webhook enqueue failed")
	}
}
