package nodeclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"
	"time"

	"github.com/bsv-watch/address-tracker/internal/errs"
	"github.com/bsv-watch/address-tracker/internal/logging"
)

func testClient(t *testing.T, srv *httptest.Server, timeout time.Duration) *Client {
	t.Helper()
	u, err := url.Parse(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	host := u.Hostname()
	port, _ := strconv.Atoi(u.Port())
	return New(host, port, "user", "pass", timeout, logging.New("error", "text"))
}

func TestGetBlockCount(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"result": 100142})
	}))
	defer srv.Close()

	c := testClient(t, srv, 2*time.Second)
	height, err := c.GetBlockCount(context.Background())
	if err != nil {
		t.Fatalf("GetBlockCount: %v", err)
	}
	if height != 100142 {
		t.Errorf("height = %d, want 100142", height)
	}
}

func TestGetRawTransactionRpcError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]any{"code": -5, "message": "No such mempool or blockchain transaction"},
		})
	}))
	defer srv.Close()

	c := testClient(t, srv, 2*time.Second)
	_, err := c.GetRawTransaction(context.Background(), "deadbeef")
	var rpcErr *errs.RpcError
	if !errors.As(err, &rpcErr) {
		t.Fatalf("expected *errs.RpcError, got %v", err)
	}
	if rpcErr.Code != -5 {
		t.Errorf("code = %d, want -5", rpcErr.Code)
	}
}

func TestCallTimesOut(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(50 * time.Millisecond)
		_ = json.NewEncoder(w).Encode(map[string]any{"result": 1})
	}))
	defer srv.Close()

	c := testClient(t, srv, 5*time.Millisecond)
	_, err := c.GetBlockCount(context.Background())
	if !errors.Is(err, errs.ErrRpcTimeout) {
		t.Fatalf("expected ErrRpcTimeout, got %v", err)
	}
}

func TestCallTransportFailure(t *testing.T) {
	c := New("127.0.0.1", 1, "u", "p", 50*time.Millisecond, logging.New("error", "text"))
	_, err := c.GetBlockCount(context.Background())
	if err == nil {
		t.Fatal("expected an error dialing a closed port")
	}
}
