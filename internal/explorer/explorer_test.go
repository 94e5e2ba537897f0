package explorer

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bsv-watch/address-tracker/internal/errs"
	"github.com/bsv-watch/address-tracker/internal/logging"
)

func page(n int, nextToken string) historyPage {
	entries := make([]HistoryEntry, n)
	for i := range entries {
		entries[i] = HistoryEntry{TxHash: "tx", Height: int64(i)}
	}
	return historyPage{Result: entries, NextPageToken: nextToken}
}

func TestPaginateStopsAtMaxTx(t *testing.T) {
	call := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		call++
		var p historyPage
		switch call {
		case 1:
			p = page(100, "t1")
		case 2:
			p = page(100, "t2")
		case 3:
			p = page(100, "t3")
		case 4:
			p = page(100, "t4")
		case 5:
			p = page(100, "") // 5th page, no token
		default:
			t.Fatalf("unexpected 6th request")
		}
		_ = json.NewEncoder(w).Encode(p)
	}))
	defer srv.Close()

	c := New(srv.URL, "", time.Millisecond, time.Second, 100, logging.New("error", "text"))
	entries, err := c.Paginate(context.Background(), "addr", 500)
	if err != nil {
		t.Fatalf("Paginate: %v", err)
	}
	if len(entries) != 500 {
		t.Fatalf("len = %d, want 500", len(entries))
	}
	if call != 5 {
		t.Fatalf("calls = %d, want 5 (sixth page never requested)", call)
	}
}

func TestPaginate404IsEmpty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := New(srv.URL, "", time.Millisecond, time.Second, 100, logging.New("error", "text"))
	entries, err := c.Paginate(context.Background(), "addr", 500)
	if err != nil {
		t.Fatalf("Paginate: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("len = %d, want 0", len(entries))
	}
}

func TestPaginate429IsRateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := New(srv.URL, "", time.Millisecond, time.Second, 100, logging.New("error", "text"))
	_, err := c.Paginate(context.Background(), "addr", 500)
	if !errors.Is(err, errs.ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
}

func TestPaginateOtherErrorIsUpstream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := New(srv.URL, "", time.Millisecond, time.Second, 100, logging.New("error", "text"))
	_, err := c.Paginate(context.Background(), "addr", 500)
	if !errors.Is(err, errs.ErrUpstreamError) {
		t.Fatalf("expected ErrUpstreamError, got %v", err)
	}
}

func TestPaginateStopsOnShortPage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(page(40, "should-be-ignored"))
	}))
	defer srv.Close()

	c := New(srv.URL, "", time.Millisecond, time.Second, 100, logging.New("error", "text"))
	entries, err := c.Paginate(context.Background(), "addr", 500)
	if err != nil {
		t.Fatalf("Paginate: %v", err)
	}
	if len(entries) != 40 {
		t.Fatalf("len = %d, want 40 (short page ends pagination)", len(entries))
	}
}
