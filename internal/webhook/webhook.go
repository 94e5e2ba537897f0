// Package webhook is the webhook dispatcher (C9): it fans out transaction
// lifecycle events to registered subscribers through a durable delivery
// queue with coalescing and capped exponential backoff.
package webhook

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/bsv-watch/address-tracker/internal/model"
)

// Config bundles the tunables spec.md §4.9/§6 expose as environment
// variables.
type Config struct {
	ProcessingInterval time.Duration
	RequestTimeout     time.Duration
	MaxAttempts        int
	BatchSize          int
	CleanupAfter       time.Duration
}

// DefaultConfig mirrors spec.md §6's defaults.
func DefaultConfig() Config {
	return Config{
		ProcessingInterval: 5 * time.Second,
		RequestTimeout:     10 * time.Second,
		MaxAttempts:        len(model.BackoffSchedule),
		BatchSize:          10,
		CleanupAfter:       7 * 24 * time.Hour,
	}
}

// webhookStore is the subset of store.Store/store.Memory the dispatcher
// uses to resolve subscribers and enqueue new deliveries.
type webhookStore interface {
	MatchingWebhooks(ctx context.Context, addrs []string) ([]model.Webhook, error)
	InsertDelivery(ctx context.Context, d *model.WebhookDelivery) error
	BumpWebhookTrigger(ctx context.Context, id string, at time.Time) error
}

// Dispatcher implements C9's enqueue half. EnqueueForAddresses is the
// contract intake and tracker depend on.
type Dispatcher struct {
	store webhookStore
	log   *logrus.Logger
}

// New constructs a Dispatcher.
func New(st webhookStore, log *logrus.Logger) *Dispatcher {
	return &Dispatcher{store: st, log: log}
}

// EnqueueForAddresses resolves every webhook matching addrs (monitor_all
// or address intersection) and inserts one delivery per webhook. Delivery
// insertion itself coalesces any prior non-terminal delivery for the same
// (webhook_id, transaction_id) pair (spec.md §4.9, §8 scenario 5).
func (d *Dispatcher) EnqueueForAddresses(ctx context.Context, addrs []string, txid string, payload model.WebhookPayload) error {
	matches, err := d.store.MatchingWebhooks(ctx, addrs)
	if err != nil {
		d.log.WithError(err).Warn("webhook: matching lookup failed")
		return err
	}
	if len(matches) == 0 {
		return nil
	}

	now := time.Now()
	for _, wh := range matches {
		whPayload := payload
		if !wh.MonitorAll {
			whPayload.Transaction.Addresses = intersect(addrs, wh.Addresses)
		}

		delivery := &model.WebhookDelivery{
			ID:            uuid.NewString(),
			WebhookID:     wh.ID,
			URL:           wh.URL,
			Payload:       whPayload,
			TransactionID: &txid,
			Status:        model.DeliveryPending,
			NextRetry:     now,
			CreatedAt:     now,
		}
		if err := d.store.InsertDelivery(ctx, delivery); err != nil {
			d.log.WithError(err).WithField("webhook_id", wh.ID).Warn("webhook: enqueue failed")
			continue
		}
		if err := d.store.BumpWebhookTrigger(ctx, wh.ID, now); err != nil {
			d.log.WithError(err).WithField("webhook_id", wh.ID).Warn("webhook: trigger bump failed")
		}
	}
	return nil
}

// intersect returns the addresses present in both addrs and subscribed,
// preserving addrs' order, so a non-monitor_all webhook's payload only
// ever names the addresses it actually subscribes to (spec.md §4.9,
// §8's "payload.transaction.addresses ⊆ webhook.addresses" invariant).
func intersect(addrs, subscribed []string) []string {
	set := make(map[string]struct{}, len(subscribed))
	for _, a := range subscribed {
		set[a] = struct{}{}
	}
	var out []string
	for _, a := range addrs {
		if _, ok := set[a]; ok {
			out = append(out, a)
		}
	}
	return out
}
