package store

import (
	"context"
	"testing"
	"time"

	"github.com/bsv-watch/address-tracker/internal/model"
)

func TestMemoryUpsertActiveTransactionUnionsAddresses(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	firstSeen := time.Now()

	err := m.UpsertActiveTransaction(ctx, &model.ActiveTransaction{
		TxID: "tx1", Addresses: []string{"a"}, FirstSeen: firstSeen, Status: model.StatusPending,
	})
	if err != nil {
		t.Fatalf("first upsert: %v", err)
	}

	err = m.UpsertActiveTransaction(ctx, &model.ActiveTransaction{
		TxID: "tx1", Addresses: []string{"b"}, FirstSeen: firstSeen.Add(time.Hour), Status: model.StatusPending,
	})
	if err != nil {
		t.Fatalf("second upsert: %v", err)
	}

	got, err := m.GetActiveTransaction(ctx, "tx1")
	if err != nil {
		t.Fatalf("GetActiveTransaction: %v", err)
	}
	if len(got.Addresses) != 2 {
		t.Fatalf("addresses = %v, want union of 2", got.Addresses)
	}
	if !got.FirstSeen.Equal(firstSeen) {
		t.Error("first_seen must not regress on repeated upsert")
	}
}

func TestMemoryDeliveryCoalescing(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	txid := "tx1"

	ids := []string{"d1", "d2", "d3"}
	for _, id := range ids {
		d := &model.WebhookDelivery{
			ID: id, WebhookID: "w1", TransactionID: &txid,
			Status: model.DeliveryPending, CreatedAt: time.Now(),
		}
		if err := m.InsertDelivery(ctx, d); err != nil {
			t.Fatalf("InsertDelivery(%s): %v", id, err)
		}
	}

	deliveries, err := m.RecentDeliveriesForWebhook(ctx, "w1", 0)
	if err != nil {
		t.Fatalf("RecentDeliveriesForWebhook: %v", err)
	}

	var pending, cancelled int
	for _, d := range deliveries {
		switch d.Status {
		case model.DeliveryPending:
			pending++
		case model.DeliveryCancelled:
			cancelled++
		}
	}
	if pending != 1 || cancelled != 2 {
		t.Fatalf("pending=%d cancelled=%d, want 1 and 2", pending, cancelled)
	}
}

func TestMemoryArchiveTransactionRemovesFromActive(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	m.active["tx1"] = &model.ActiveTransaction{TxID: "tx1", Status: model.StatusConfirming}
	err := m.ArchiveTransaction(ctx, &model.ArchivedTransaction{TxID: "tx1", FinalConfirmations: 144})
	if err != nil {
		t.Fatalf("ArchiveTransaction: %v", err)
	}

	if _, err := m.GetActiveTransaction(ctx, "tx1"); err == nil {
		t.Error("txid should no longer be active after archival")
	}
	if _, err := m.GetArchivedTransaction(ctx, "tx1"); err != nil {
		t.Errorf("GetArchivedTransaction: %v", err)
	}

	exists, err := m.ExistsActiveOrArchived(ctx, "tx1")
	if err != nil || !exists {
		t.Errorf("ExistsActiveOrArchived = %v, %v; want true, nil", exists, err)
	}
}
