package tracker

import (
	"context"
	"time"

	"github.com/bsv-watch/address-tracker/internal/model"
)

// enqueueRetry adds or re-schedules a retry-queue entry for tx. The retry
// queue is process-local memory, never persisted, by design (spec.md §9
// "Retry storage": RPC failures are block-driven and self-healing).
func (t *Tracker) enqueueRetry(tx model.ActiveTransaction) {
	t.retryMu.Lock()
	defer t.retryMu.Unlock()

	for i := range t.retry {
		if t.retry[i].tx.TxID == tx.TxID {
			t.retry[i].attempts++
			t.retry[i].nextRetryAt = time.Now().Add(t.cfg.RetryDelay)
			return
		}
	}
	t.retry = append(t.retry, retryEntry{
		tx:          tx,
		attempts:    1,
		nextRetryAt: time.Now().Add(t.cfg.RetryDelay),
	})
}

// processRetryQueue re-verifies up to RetryBatchSize ready entries,
// dropping any that has exhausted MaxRetries+1 attempts (spec.md §4.7
// step 3c/5).
func (t *Tracker) processRetryQueue(ctx context.Context, tipHeight int64) {
	now := time.Now()

	t.retryMu.Lock()
	var ready []retryEntry
	var remaining []retryEntry
	for _, e := range t.retry {
		if len(ready) >= t.cfg.RetryBatchSize {
			remaining = append(remaining, e)
			continue
		}
		if e.nextRetryAt.After(now) {
			remaining = append(remaining, e)
			continue
		}
		if e.attempts > t.cfg.MaxRetries {
			t.log.WithField("txid", e.tx.TxID).Warn("tracker: dropping txid from retry queue after max attempts")
			continue
		}
		ready = append(ready, e)
	}
	t.retry = remaining
	t.retryMu.Unlock()

	for _, e := range ready {
		t.verifyOne(ctx, e.tx, tipHeight)

		// A failed re-verification re-enqueues the txid as a fresh entry;
		// carry the earlier failures over so the MaxRetries cap applies.
		t.retryMu.Lock()
		for i := range t.retry {
			if t.retry[i].tx.TxID == e.tx.TxID {
				t.retry[i].attempts += e.attempts
				break
			}
		}
		t.retryMu.Unlock()
	}
}
