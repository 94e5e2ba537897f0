package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/bsv-watch/address-tracker/internal/logging"
	"github.com/bsv-watch/address-tracker/internal/membership"
	"github.com/bsv-watch/address-tracker/internal/store"
	"github.com/bsv-watch/address-tracker/internal/txparse"
)

const testAddr = "mnai8LzKea5e3C9qgrBo7JHgpiEnHKMhwR"

type noopBackfiller struct{ ran chan string }

func (n *noopBackfiller) Run(_ context.Context, addr string) error {
	if n.ran != nil {
		n.ran <- addr
	}
	return nil
}

type stubTracker struct{ calls int }

func (s *stubTracker) ProcessNewBlock(context.Context) { s.calls++ }

func newTestServer() (*Server, *store.Memory, *membership.Set) {
	mem := store.NewMemory()
	ms := membership.New()
	cfg := Config{Network: txparse.Testnet}
	log := logging.New("error", "text")
	return New(cfg, mem, ms, &noopBackfiller{}, &stubTracker{}, log), mem, ms
}

func TestHandleHealthIsExemptFromAPIKey(t *testing.T) {
	s, _, _ := newTestServer()
	s.cfg.RequireAPIKey = true
	s.cfg.APIKey = "secret"

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	s.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
}

func TestProtectedRouteRequiresAPIKey(t *testing.T) {
	s, _, _ := newTestServer()
	s.cfg.RequireAPIKey = true
	s.cfg.APIKey = "secret"

	req := httptest.NewRequest(http.MethodGet, "/addresses", nil)
	w := httptest.NewRecorder()
	s.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", w.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/addresses?api_key=secret", nil)
	w = httptest.NewRecorder()
	s.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
}

func TestHandleAddAddressesClassifiesEachEntry(t *testing.T) {
	s, _, ms := newTestServer()

	body, _ := json.Marshal(addAddressesRequest{Addresses: []string{testAddr, "garbage"}})
	req := httptest.NewRequest(http.MethodPost, "/addresses", bytes.NewReader(body))
	w := httptest.NewRecorder()
	s.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", w.Code, w.Body.String())
	}
	var resp addAddressesResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Added) != 1 || resp.Added[0] != testAddr {
		t.Errorf("added = %v, want [%s]", resp.Added, testAddr)
	}
	if len(resp.Invalid) != 1 || resp.Invalid[0] != "garbage" {
		t.Errorf("invalid = %v, want [garbage]", resp.Invalid)
	}
	if !ms.Contains(testAddr) {
		t.Error("membership set does not contain newly added address")
	}
}

func TestHandleAddAddressesRepeatWithoutForceIsAlreadyExist(t *testing.T) {
	s, _, _ := newTestServer()

	body, _ := json.Marshal(addAddressesRequest{Addresses: []string{testAddr}})
	req := httptest.NewRequest(http.MethodPost, "/addresses", bytes.NewReader(body))
	s.ServeHTTP(httptest.NewRecorder(), req)

	req2 := httptest.NewRequest(http.MethodPost, "/addresses", bytes.NewReader(body))
	w2 := httptest.NewRecorder()
	s.ServeHTTP(w2, req2)

	var resp addAddressesResponse
	json.Unmarshal(w2.Body.Bytes(), &resp)
	if len(resp.AlreadyExist) != 1 {
		t.Errorf("alreadyExist = %v, want 1 entry", resp.AlreadyExist)
	}
}

func TestHandleGetAddressNotFound(t *testing.T) {
	s, _, _ := newTestServer()
	req := httptest.NewRequest(http.MethodGet, "/addresses/unknown", nil)
	w := httptest.NewRecorder()
	s.ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
}

func TestHandleDeleteAddressRemovesFromMembership(t *testing.T) {
	s, _, ms := newTestServer()

	req := httptest.NewRequest(http.MethodPost, "/addresses", bytes.NewReader(mustJSON(addAddressesRequest{Addresses: []string{testAddr}})))
	s.ServeHTTP(httptest.NewRecorder(), req)

	del := httptest.NewRequest(http.MethodDelete, "/addresses/"+testAddr, nil)
	w := httptest.NewRecorder()
	s.ServeHTTP(w, del)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if ms.Contains(testAddr) {
		t.Error("membership set still contains deactivated address")
	}
}

func TestHandleCreateWebhookDefaultsToMonitorAll(t *testing.T) {
	s, _, _ := newTestServer()
	body, _ := json.Marshal(createWebhookRequest{URL: "http://example.com/hook"})
	req := httptest.NewRequest(http.MethodPost, "/webhooks", bytes.NewReader(body))
	w := httptest.NewRecorder()
	s.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", w.Code, w.Body.String())
	}
	var wh map[string]any
	json.Unmarshal(w.Body.Bytes(), &wh)
	if wh["monitor_all"] != true {
		t.Errorf("monitor_all = %v, want true", wh["monitor_all"])
	}
}

func TestHandleTriggerConfirmationsInvokesTracker(t *testing.T) {
	s, _, _ := newTestServer()
	tr := s.tracker.(*stubTracker)

	req := httptest.NewRequest(http.MethodPost, "/trigger/confirmations", nil)
	w := httptest.NewRecorder()
	s.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if tr.calls != 1 {
		t.Errorf("tracker calls = %d, want 1", tr.calls)
	}
}

func mustJSON(v any) []byte {
	b, _ := json.Marshal(v)
	return b
}
