package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/bsv-watch/address-tracker/internal/metrics"
	"github.com/bsv-watch/address-tracker/internal/model"
)

// deliveryStore is the subset of the durable queue the processing loop
// claims, completes, and retries against.
type deliveryStore interface {
	ClaimDeliveries(ctx context.Context, limit int64, now time.Time) ([]model.WebhookDelivery, error)
	CompleteDelivery(ctx context.Context, id string, statusCode int, body string, at time.Time) error
	FailOrRetryDelivery(ctx context.Context, id string, attempts int, lastErr string, terminal bool, nextRetry, at time.Time) error
	CleanupTerminalDeliveries(ctx context.Context, olderThan time.Time) (int64, error)
}

// Processor runs the C9 delivery loop against a deliveryStore. It is kept
// separate from Dispatcher so intake/tracker can depend on the narrower
// enqueue-only contract.
type Processor struct {
	cfg     Config
	store   deliveryStore
	http    *http.Client
	metrics *metrics.Metrics
}

// NewProcessor constructs a Processor.
func NewProcessor(cfg Config, st deliveryStore) *Processor {
	return &Processor{cfg: cfg, store: st, http: &http.Client{Timeout: cfg.RequestTimeout}}
}

// WithMetrics attaches a metrics collector. Safe to skip.
func (p *Processor) WithMetrics(m *metrics.Metrics) *Processor {
	p.metrics = m
	return p
}

// Run blocks, ticking every ProcessingInterval, until ctx is cancelled.
// Call it from its own goroutine.
func (p *Processor) Run(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.ProcessingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.ProcessBatch(ctx)
		}
	}
}

// ProcessBatch claims and attempts delivery of up to BatchSize ready
// deliveries (spec.md §4.9 processing loop).
func (p *Processor) ProcessBatch(ctx context.Context) {
	now := time.Now()
	claimed, err := p.store.ClaimDeliveries(ctx, int64(p.cfg.BatchSize), now)
	if err != nil {
		return
	}
	for _, d := range claimed {
		p.attempt(ctx, d, now)
	}
}

func (p *Processor) attempt(ctx context.Context, d model.WebhookDelivery, now time.Time) {
	body, err := json.Marshal(d.Payload)
	if err != nil {
		p.store.FailOrRetryDelivery(ctx, d.ID, d.Attempts+1, err.Error(), true, time.Time{}, now)
		p.recordOutcome("failed")
		return
	}

	reqCtx, cancel := context.WithTimeout(ctx, p.cfg.RequestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, d.URL, bytes.NewReader(body))
	if err != nil {
		p.store.FailOrRetryDelivery(ctx, d.ID, d.Attempts+1, err.Error(), true, time.Time{}, now)
		p.recordOutcome("failed")
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.http.Do(req)
	attempts := d.Attempts + 1
	if err != nil {
		p.retryOrFail(ctx, d.ID, attempts, err.Error(), now)
		return
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		p.store.CompleteDelivery(ctx, d.ID, resp.StatusCode, string(respBody), now)
		p.recordOutcome("completed")
		return
	}
	p.retryOrFail(ctx, d.ID, attempts, fmt.Sprintf("http %d: %s", resp.StatusCode, string(respBody)), now)
}

func (p *Processor) retryOrFail(ctx context.Context, id string, attempts int, lastErr string, now time.Time) {
	if attempts >= p.cfg.MaxAttempts {
		p.store.FailOrRetryDelivery(ctx, id, attempts, lastErr, true, time.Time{}, now)
		p.recordOutcome("failed")
		return
	}
	nextRetry := now.Add(model.NextBackoff(attempts))
	p.store.FailOrRetryDelivery(ctx, id, attempts, lastErr, false, nextRetry, now)
	p.recordOutcome("retry")
}

func (p *Processor) recordOutcome(outcome string) {
	if p.metrics != nil {
		p.metrics.WebhookDeliveriesTotal.WithLabelValues(outcome).Inc()
	}
}

// Cleanup deletes deliveries that reached a terminal state more than
// CleanupAfter ago. Intended to be run on a daily schedule from main.
func (p *Processor) Cleanup(ctx context.Context) (int64, error) {
	return p.store.CleanupTerminalDeliveries(ctx, time.Now().Add(-p.cfg.CleanupAfter))
}
