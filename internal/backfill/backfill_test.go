package backfill

import (
	"context"
	"testing"
	"time"

	"github.com/bsv-watch/address-tracker/internal/explorer"
	"github.com/bsv-watch/address-tracker/internal/logging"
	"github.com/bsv-watch/address-tracker/internal/model"
	"github.com/bsv-watch/address-tracker/internal/store"
)

type stubExplorer struct {
	entries []explorer.HistoryEntry
	err     error
}

func (s *stubExplorer) Paginate(context.Context, string, int) ([]explorer.HistoryEntry, error) {
	return s.entries, s.err
}

type stubTip struct{ height int64 }

func (s *stubTip) GetBlockCount(context.Context) (int64, error) { return s.height, nil }

func TestRunClassifiesByConfirmations(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	mem.UpsertAddress(ctx, &model.WatchedAddress{Address: "addr1", Active: true, CreatedAt: time.Now()})
	exp := &stubExplorer{entries: []explorer.HistoryEntry{
		{TxHash: "old", Height: 99900, Time: time.Now().Unix()},     // 100 confirmations, below threshold
		{TxHash: "ancient", Height: 99000, Time: time.Now().Unix()}, // 1000 confirmations, above threshold
	}}
	tip := &stubTip{height: 99999}
	b := New(DefaultConfig(), exp, tip, mem, logging.New("error", "text"))

	if err := b.Run(ctx, "addr1"); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if _, err := mem.GetActiveTransaction(ctx, "old"); err != nil {
		t.Errorf("expected 'old' to be active: %v", err)
	}
	if _, err := mem.GetArchivedTransaction(ctx, "ancient"); err != nil {
		t.Errorf("expected 'ancient' to be archived: %v", err)
	}

	addr, err := mem.GetAddress(ctx, "addr1")
	if err != nil {
		t.Fatalf("GetAddress: %v", err)
	}
	if addr.HistoricalFetchedAt == nil {
		t.Error("expected historical_fetched_at to be set after Run")
	}
}

func TestRunSkipsAlreadyTracked(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	mem.UpsertActiveTransaction(ctx, &model.ActiveTransaction{TxID: "dup", Addresses: []string{"other"}, FirstSeen: time.Now(), Status: model.StatusPending})

	exp := &stubExplorer{entries: []explorer.HistoryEntry{{TxHash: "dup", Height: 100, Time: time.Now().Unix()}}}
	tip := &stubTip{height: 200}
	b := New(DefaultConfig(), exp, tip, mem, logging.New("error", "text"))

	if err := b.Run(ctx, "addr1"); err != nil {
		t.Fatalf("Run: %v", err)
	}

	tx, err := mem.GetActiveTransaction(ctx, "dup")
	if err != nil {
		t.Fatalf("GetActiveTransaction: %v", err)
	}
	if len(tx.Addresses) != 1 || tx.Addresses[0] != "other" {
		t.Errorf("addresses should be untouched by backfill skip, got %v", tx.Addresses)
	}
}

func TestRunMarksHistoricalFetchedEvenWithNoHistory(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	mem.UpsertAddress(ctx, &model.WatchedAddress{Address: "addr1", Active: true, CreatedAt: time.Now()})

	exp := &stubExplorer{entries: nil}
	tip := &stubTip{height: 100}
	b := New(DefaultConfig(), exp, tip, mem, logging.New("error", "text"))

	if err := b.Run(ctx, "addr1"); err != nil {
		t.Fatalf("Run: %v", err)
	}
	addr, err := mem.GetAddress(ctx, "addr1")
	if err != nil {
		t.Fatalf("GetAddress: %v", err)
	}
	if addr.HistoricalFetchedAt == nil {
		t.Error("expected historical_fetched_at to be set even with zero history")
	}
}
