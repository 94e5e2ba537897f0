package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/bsv-watch/address-tracker/internal/errs"
	"github.com/bsv-watch/address-tracker/internal/model"
	"github.com/bsv-watch/address-tracker/internal/txparse"
)

type addAddressesRequest struct {
	Addresses []string `json:"addresses"`
	Force     bool     `json:"force"`
}

type addAddressesResponse struct {
	Added         []string `json:"added"`
	AlreadyExist  []string `json:"alreadyExist"`
	ForcedRefetch []string `json:"forcedRefetch"`
	Invalid       []string `json:"invalid"`
}

// handleAddAddresses implements POST /addresses, spec.md §6: each address
// is classified and a backfill is kicked off for anything newly added or
// force-refetched.
func (s *Server) handleAddAddresses(w http.ResponseWriter, r *http.Request) {
	var req addAddressesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	resp := addAddressesResponse{
		Added:         []string{},
		AlreadyExist:  []string{},
		ForcedRefetch: []string{},
		Invalid:       []string{},
	}
	ctx := r.Context()

	for _, addr := range req.Addresses {
		if !txparse.ValidateAddress(addr, s.cfg.Network) {
			resp.Invalid = append(resp.Invalid, addr)
			continue
		}

		created, err := s.store.UpsertAddress(ctx, &model.WatchedAddress{
			Address:   addr,
			Active:    true,
			CreatedAt: time.Now(),
		})
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to add address")
			return
		}

		if created {
			resp.Added = append(resp.Added, addr)
			s.membership.Add(addr)
			go s.runBackfill(addr)
			continue
		}

		if req.Force {
			resp.ForcedRefetch = append(resp.ForcedRefetch, addr)
			s.membership.Add(addr)
			go s.runBackfill(addr)
			continue
		}

		resp.AlreadyExist = append(resp.AlreadyExist, addr)
	}

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) runBackfill(addr string) {
	if s.backfill == nil {
		return
	}
	if err := s.backfill.Run(context.Background(), addr); err != nil {
		s.log.WithError(err).WithField("address", addr).Warn("api: backfill run failed")
	}
}

// handleListAddresses implements GET /addresses?active&limit&offset.
func (s *Server) handleListAddresses(w http.ResponseWriter, r *http.Request) {
	activeOnly := r.URL.Query().Get("active") == "true"
	limit, offset := pagination(r)

	addrs, err := s.store.ListAddresses(r.Context(), activeOnly, limit, offset)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list addresses")
		return
	}
	writeJSON(w, http.StatusOK, addrs)
}

// handleGetAddress implements GET /addresses/:addr.
func (s *Server) handleGetAddress(w http.ResponseWriter, r *http.Request) {
	addr := mux.Vars(r)["addr"]
	ctx := r.Context()

	record, err := s.store.GetAddress(ctx, addr)
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			writeError(w, http.StatusNotFound, "address not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to load address")
		return
	}

	recent, err := s.store.RecentActiveTransactionsForAddress(ctx, addr, 10)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load recent transactions")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"address":              record,
		"recent_transactions": recent,
	})
}

// handleDeleteAddress implements DELETE /addresses/:addr.
func (s *Server) handleDeleteAddress(w http.ResponseWriter, r *http.Request) {
	addr := mux.Vars(r)["addr"]

	ok, err := s.store.DeactivateAddress(r.Context(), addr)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to deactivate address")
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "address not found")
		return
	}

	s.membership.Remove(addr)
	writeJSON(w, http.StatusOK, map[string]any{"status": "deleted"})
}
