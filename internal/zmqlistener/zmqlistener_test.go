package zmqlistener

import (
	"context"
	"testing"

	"github.com/bsv-watch/address-tracker/internal/logging"
)

type fakeRawTxHandler struct {
	calls [][]byte
}

func (f *fakeRawTxHandler) HandleRawTx(_ context.Context, raw []byte) {
	f.calls = append(f.calls, raw)
}

type fakeHashBlockHandler struct {
	calls int
}

func (f *fakeHashBlockHandler) ProcessNewBlock(_ context.Context) {
	f.calls++
}

func TestDispatchRawTxForwardsFrame(t *testing.T) {
	rawtx := &fakeRawTxHandler{}
	hashblk := &fakeHashBlockHandler{}
	l := New(Config{}, rawtx, hashblk, logging.New("error", "text"))

	l.dispatchRawTx(context.Background(), []byte{0xde, 0xad})

	if len(rawtx.calls) != 1 {
		t.Fatalf("expected one HandleRawTx call, got %d", len(rawtx.calls))
	}
	if rawtx.calls[0][0] != 0xde {
		t.Errorf("frame not forwarded intact: %v", rawtx.calls[0])
	}
}

func TestDispatchHashBlockIgnoresPayload(t *testing.T) {
	rawtx := &fakeRawTxHandler{}
	hashblk := &fakeHashBlockHandler{}
	l := New(Config{}, rawtx, hashblk, logging.New("error", "text"))

	l.dispatchHashBlock(context.Background(), []byte{0x01, 0x02, 0x03})
	l.dispatchHashBlock(context.Background(), nil)

	if hashblk.calls != 2 {
		t.Fatalf("expected two ProcessNewBlock calls regardless of payload, got %d", hashblk.calls)
	}
}

func TestSleepReturnsFalseOnCancelledContext(t *testing.T) {
	rawtx := &fakeRawTxHandler{}
	hashblk := &fakeHashBlockHandler{}
	l := New(Config{}, rawtx, hashblk, logging.New("error", "text"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if l.sleep(ctx, initialBackoff) {
		t.Error("sleep should return false immediately on an already-cancelled context")
	}
}
