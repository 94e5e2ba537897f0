package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/bsv-watch/address-tracker/internal/errs"
	"github.com/bsv-watch/address-tracker/internal/model"
)

type createWebhookRequest struct {
	URL        string   `json:"url"`
	Addresses  []string `json:"addresses"`
	Active     *bool    `json:"active"`
	MonitorAll bool     `json:"monitor_all"`
}

// handleCreateWebhook implements POST /webhooks, spec.md §6: an empty or
// missing addresses list subscribes to every watched address.
func (s *Server) handleCreateWebhook(w http.ResponseWriter, r *http.Request) {
	var req createWebhookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.URL == "" {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	active := true
	if req.Active != nil {
		active = *req.Active
	}

	wh := &model.Webhook{
		ID:         uuid.NewString(),
		URL:        req.URL,
		Addresses:  req.Addresses,
		MonitorAll: req.MonitorAll || len(req.Addresses) == 0,
		Active:     active,
		CreatedAt:  time.Now(),
	}

	if err := s.store.InsertWebhook(r.Context(), wh); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create webhook")
		return
	}

	writeJSON(w, http.StatusOK, wh)
}

// handleListWebhooks implements GET /webhooks?active&limit&offset.
func (s *Server) handleListWebhooks(w http.ResponseWriter, r *http.Request) {
	activeOnly := r.URL.Query().Get("active") == "true"
	limit, offset := pagination(r)

	hooks, err := s.store.ListWebhooks(r.Context(), activeOnly, limit, offset)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list webhooks")
		return
	}
	writeJSON(w, http.StatusOK, hooks)
}

// handleGetWebhook implements GET /webhooks/:id.
func (s *Server) handleGetWebhook(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	ctx := r.Context()

	wh, err := s.store.GetWebhook(ctx, id)
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			writeError(w, http.StatusNotFound, "webhook not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to load webhook")
		return
	}

	deliveries, err := s.store.RecentDeliveriesForWebhook(ctx, id, 10)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load deliveries")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"webhook":    wh,
		"deliveries": deliveries,
	})
}

type updateWebhookRequest struct {
	URL        *string  `json:"url"`
	Addresses  []string `json:"addresses"`
	Active     *bool    `json:"active"`
	MonitorAll *bool    `json:"monitor_all"`
}

// handleUpdateWebhook implements PUT /webhooks/:id.
func (s *Server) handleUpdateWebhook(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var req updateWebhookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	fields := map[string]any{}
	if req.URL != nil {
		fields["url"] = *req.URL
	}
	if req.Addresses != nil {
		fields["addresses"] = req.Addresses
	}
	if req.Active != nil {
		fields["active"] = *req.Active
	}
	if req.MonitorAll != nil {
		fields["monitor_all"] = *req.MonitorAll
	}

	ok, err := s.store.UpdateWebhook(r.Context(), id, fields)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to update webhook")
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "webhook not found")
		return
	}

	wh, err := s.store.GetWebhook(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load webhook")
		return
	}
	writeJSON(w, http.StatusOK, wh)
}

// handleDeleteWebhook implements DELETE /webhooks/:id.
func (s *Server) handleDeleteWebhook(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	ctx := r.Context()

	ok, err := s.store.DeleteWebhook(ctx, id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to delete webhook")
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "webhook not found")
		return
	}

	if err := s.store.CancelDeliveriesForWebhook(ctx, id); err != nil {
		s.log.WithError(err).WithField("webhook_id", id).Warn("api: failed to cancel pending deliveries")
	}

	writeJSON(w, http.StatusOK, map[string]any{"status": "deleted"})
}
