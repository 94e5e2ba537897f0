package webhook

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bsv-watch/address-tracker/internal/model"
	"github.com/bsv-watch/address-tracker/internal/store"
)

func TestProcessBatchCompletesOn2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	ctx := context.Background()
	mem := store.NewMemory()
	txid := "tx1"
	if err := mem.InsertDelivery(ctx, &model.WebhookDelivery{
		ID: "d1", WebhookID: "wh1", URL: srv.URL, TransactionID: &txid,
		Status: model.DeliveryPending, NextRetry: time.Now(), CreatedAt: time.Now(),
	}); err != nil {
		t.Fatalf("InsertDelivery: %v", err)
	}

	p := NewProcessor(DefaultConfig(), mem)
	p.ProcessBatch(ctx)

	deliveries, err := mem.RecentDeliveriesForWebhook(ctx, "wh1", 10)
	if err != nil {
		t.Fatalf("RecentDeliveriesForWebhook: %v", err)
	}
	if len(deliveries) != 1 || deliveries[0].Status != model.DeliveryCompleted {
		t.Fatalf("expected one completed delivery, got %+v", deliveries)
	}
}

func TestProcessBatchRetriesOn5xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	ctx := context.Background()
	mem := store.NewMemory()
	txid := "tx1"
	if err := mem.InsertDelivery(ctx, &model.WebhookDelivery{
		ID: "d1", WebhookID: "wh1", URL: srv.URL, TransactionID: &txid,
		Status: model.DeliveryPending, NextRetry: time.Now(), CreatedAt: time.Now(),
	}); err != nil {
		t.Fatalf("InsertDelivery: %v", err)
	}

	p := NewProcessor(DefaultConfig(), mem)
	p.ProcessBatch(ctx)

	deliveries, err := mem.RecentDeliveriesForWebhook(ctx, "wh1", 10)
	if err != nil {
		t.Fatalf("RecentDeliveriesForWebhook: %v", err)
	}
	if len(deliveries) != 1 {
		t.Fatalf("expected one delivery record, got %d", len(deliveries))
	}
	if deliveries[0].Status != model.DeliveryRetry {
		t.Errorf("status = %s, want retry", deliveries[0].Status)
	}
	if deliveries[0].Attempts != 1 {
		t.Errorf("attempts = %d, want 1", deliveries[0].Attempts)
	}
}

func TestProcessBatchTerminatesAfterMaxAttempts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	ctx := context.Background()
	mem := store.NewMemory()
	txid := "tx1"
	cfg := DefaultConfig()
	if err := mem.InsertDelivery(ctx, &model.WebhookDelivery{
		ID: "d1", WebhookID: "wh1", URL: srv.URL, TransactionID: &txid,
		Status: model.DeliveryPending, Attempts: cfg.MaxAttempts - 1, NextRetry: time.Now(), CreatedAt: time.Now(),
	}); err != nil {
		t.Fatalf("InsertDelivery: %v", err)
	}

	p := NewProcessor(cfg, mem)
	p.ProcessBatch(ctx)

	deliveries, err := mem.RecentDeliveriesForWebhook(ctx, "wh1", 10)
	if err != nil {
		t.Fatalf("RecentDeliveriesForWebhook: %v", err)
	}
	if len(deliveries) != 1 || deliveries[0].Status != model.DeliveryFailed {
		t.Fatalf("expected delivery to terminally fail after reaching MaxAttempts, got %+v", deliveries)
	}
}

func TestCleanupDeletesOldTerminalDeliveries(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	old := time.Now().Add(-60 * 24 * time.Hour)
	if err := mem.InsertDelivery(ctx, &model.WebhookDelivery{
		ID: "d1", WebhookID: "wh1", URL: "http://example.test", Status: model.DeliveryCompleted,
		CreatedAt: old, CompletedAt: &old,
	}); err != nil {
		t.Fatalf("InsertDelivery: %v", err)
	}

	p := NewProcessor(DefaultConfig(), mem)
	n, err := p.Cleanup(ctx)
	if err != nil {
		t.Fatalf("Cleanup: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 deletion, got %d", n)
	}
}
