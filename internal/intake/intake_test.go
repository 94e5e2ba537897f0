package intake

import (
	"context"
	"encoding/hex"
	"testing"
	"time"

	"github.com/bsv-watch/address-tracker/internal/logging"
	"github.com/bsv-watch/address-tracker/internal/membership"
	"github.com/bsv-watch/address-tracker/internal/model"
	"github.com/bsv-watch/address-tracker/internal/store"
	"github.com/bsv-watch/address-tracker/internal/txparse"
)

// knownTx is spec.md §8 scenario 1/3's fixture.
const knownTx = "01000000014f226ee6c5e75ea5528219c9e98ad372fcb5cd3c9ac300d1cd25680370903dd02e0000006b483045022100e27577999098d75ae8afc04cad0253a879ef052e2776ccd9e1b921d4339a08a102203c9291d9c32ca06799d53567cb05df2ab973f4281a0a2a4bb85066e9d6964aaa41210292acdb57c788c1e8c83cdb0ae8f23e079139ba7ba1bccf67b31653c7af12c4b4ffffffff0140860100000000001976a914be83350213ab6483e111f675268b5bbaba7cdcae88ac00000000"

const watchedInputAddr = "mnai8LzKea5e3C9qgrBo7JHgpiEnHKMhwR"

type fakeWebhookEnqueuer struct {
	calls int
	addrs []string
	txid  string
}

func (f *fakeWebhookEnqueuer) EnqueueForAddresses(_ context.Context, addrs []string, txid string, _ model.WebhookPayload) error {
	f.calls++
	f.addrs = addrs
	f.txid = txid
	return nil
}

func newHarness(t *testing.T) (*Intake, *store.Memory, *fakeWebhookEnqueuer, *membership.Set) {
	t.Helper()
	mem := store.NewMemory()
	ms := membership.New()
	wh := &fakeWebhookEnqueuer{}
	i := New(txparse.Testnet, 1_000_000, ms, mem, mem, wh, logging.New("error", "text"))
	return i, mem, wh, ms
}

func TestHandleRawTxNoMatch(t *testing.T) {
	i, mem, wh, _ := newHarness(t)
	raw, _ := hex.DecodeString(knownTx)

	i.HandleRawTx(context.Background(), raw)

	n, _ := mem.CountActive(context.Background(), "")
	if n != 0 {
		t.Errorf("expected zero active transactions, got %d", n)
	}
	if wh.calls != 0 {
		t.Errorf("expected zero webhook enqueues, got %d", wh.calls)
	}
}

func TestHandleRawTxWithMatch(t *testing.T) {
	i, mem, wh, ms := newHarness(t)
	ctx := context.Background()

	ms.Add(watchedInputAddr)
	_, err := mem.UpsertAddress(ctx, &model.WatchedAddress{Address: watchedInputAddr, Active: true, CreatedAt: time.Now()})
	if err != nil {
		t.Fatalf("UpsertAddress: %v", err)
	}

	raw, _ := hex.DecodeString(knownTx)
	i.HandleRawTx(ctx, raw)

	n, _ := mem.CountActive(ctx, "")
	if n != 1 {
		t.Fatalf("expected one active transaction, got %d", n)
	}
	if wh.calls != 1 {
		t.Fatalf("expected exactly one webhook enqueue, got %d", wh.calls)
	}
	if len(wh.addrs) != 1 || wh.addrs[0] != watchedInputAddr {
		t.Errorf("webhook addrs = %v, want [%s]", wh.addrs, watchedInputAddr)
	}
}

func TestHandleRawTxIdempotent(t *testing.T) {
	i, mem, _, ms := newHarness(t)
	ctx := context.Background()

	ms.Add(watchedInputAddr)
	_, _ = mem.UpsertAddress(ctx, &model.WatchedAddress{Address: watchedInputAddr, Active: true, CreatedAt: time.Now()})

	raw, _ := hex.DecodeString(knownTx)
	i.HandleRawTx(ctx, raw)
	first, err := mem.GetActiveTransaction(ctx, "f1a7b1854ba8ea120f9cd47db7a8ff190b5c5bc2385b01cbd8fcc5a9df8598c0")
	if err != nil {
		t.Fatalf("GetActiveTransaction: %v", err)
	}
	firstSeen := first.FirstSeen

	i.HandleRawTx(ctx, raw)
	second, err := mem.GetActiveTransaction(ctx, "f1a7b1854ba8ea120f9cd47db7a8ff190b5c5bc2385b01cbd8fcc5a9df8598c0")
	if err != nil {
		t.Fatalf("GetActiveTransaction (second): %v", err)
	}
	if !second.FirstSeen.Equal(firstSeen) {
		t.Error("first_seen must be stable across repeated intake of the same tx")
	}

	n, _ := mem.CountActive(ctx, "")
	if n != 1 {
		t.Errorf("expected still one active transaction after repeat intake, got %d", n)
	}
}

func TestHandleRawTxMalformedDropsSilently(t *testing.T) {
	i, mem, wh, _ := newHarness(t)
	i.HandleRawTx(context.Background(), []byte{0x01, 0x02})

	n, _ := mem.CountActive(context.Background(), "")
	if n != 0 || wh.calls != 0 {
		t.Error("malformed frame should be dropped with no side effects")
	}
}

func TestHandleRawTxInactiveAddressNotTracked(t *testing.T) {
	i, mem, wh, ms := newHarness(t)
	ctx := context.Background()

	ms.Add(watchedInputAddr)
	_, _ = mem.UpsertAddress(ctx, &model.WatchedAddress{Address: watchedInputAddr, Active: false, CreatedAt: time.Now()})

	raw, _ := hex.DecodeString(knownTx)
	i.HandleRawTx(ctx, raw)

	n, _ := mem.CountActive(ctx, "")
	if n != 0 || wh.calls != 0 {
		t.Error("an inactive watched address should not produce an active transaction or webhook")
	}
}
