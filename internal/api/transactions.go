package api

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/bsv-watch/address-tracker/internal/errs"
)

// handleListTransactions implements GET /transactions?status&limit&offset.
func (s *Server) handleListTransactions(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status")
	limit, offset := pagination(r)

	txs, err := s.store.ListActiveTransactions(r.Context(), status, limit, offset)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list transactions")
		return
	}
	writeJSON(w, http.StatusOK, txs)
}

// handleGetTransaction implements GET /transaction/:txid, checking the
// active collection first and falling back to the archive.
func (s *Server) handleGetTransaction(w http.ResponseWriter, r *http.Request) {
	txid := mux.Vars(r)["txid"]
	ctx := r.Context()

	if tx, err := s.store.GetActiveTransaction(ctx, txid); err == nil {
		writeJSON(w, http.StatusOK, map[string]any{
			"transaction": tx,
			"archived":    false,
		})
		return
	} else if !errors.Is(err, errs.ErrNotFound) {
		writeError(w, http.StatusInternalServerError, "failed to load transaction")
		return
	}

	tx, err := s.store.GetArchivedTransaction(ctx, txid)
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			writeError(w, http.StatusNotFound, "transaction not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to load transaction")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"transaction": tx,
		"archived":    true,
	})
}

// handleStats implements GET /stats.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	pending, err := s.store.CountActive(ctx, "pending")
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to compute stats")
		return
	}
	confirming, err := s.store.CountActive(ctx, "confirming")
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to compute stats")
		return
	}
	archived, err := s.store.CountArchived(ctx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to compute stats")
		return
	}
	addrs, err := s.store.ListAddresses(ctx, true, 1<<30, 0)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to compute stats")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"active_addresses":      len(addrs),
		"pending_transactions":  pending,
		"confirming_transactions": confirming,
		"archived_transactions": archived,
	})
}

// handleTriggerConfirmations implements POST /trigger/confirmations.
func (s *Server) handleTriggerConfirmations(w http.ResponseWriter, r *http.Request) {
	if s.tracker == nil {
		writeError(w, http.StatusServiceUnavailable, "confirmation tracker unavailable")
		return
	}
	s.tracker.ProcessNewBlock(r.Context())
	writeJSON(w, http.StatusOK, map[string]string{"status": "triggered"})
}
