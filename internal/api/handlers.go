// TicketPulse - Real-Time Funnel and Presence Aggregation
// Copyright 2026 TicketPulse Ltd.
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/ticketpulse/ticketpulse

package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	json "github.com/goccy/go-json"
	gorillaws "github.com/gorilla/websocket"

	"github.com/ticketpulse/ticketpulse/internal/aggregator"
	"github.com/ticketpulse/ticketpulse/internal/logging"
	"github.com/ticketpulse/ticketpulse/internal/websocket"
)

// Handler holds the HTTP handlers.
type Handler struct {
	engine   Engine
	upgrader gorillaws.Upgrader
}

// NewHandler creates handlers over the engine. The upgrader trusts the
// router's CORS layer for origin policy.
func NewHandler(engine Engine) *Handler {
	return &Handler{
		engine: engine,
		upgrader: gorillaws.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

// Snapshot serves the current dashboard snapshot for one org. Creates
// the tenant on demand; polling keeps it warm only for the grace period.
func (h *Handler) Snapshot(w http.ResponseWriter, r *http.Request) {
	orgID := chi.URLParam(r, "orgID")

	snap, err := h.engine.CurrentSnapshot(r.Context(), orgID)
	if err != nil {
		h.writeEngineError(w, orgID, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// Stream upgrades to a websocket and streams snapshots until the client
// disconnects or the tenant is torn down.
func (h *Handler) Stream(w http.ResponseWriter, r *http.Request) {
	orgID := chi.URLParam(r, "orgID")

	sub, err := h.engine.Subscribe(r.Context(), orgID)
	if err != nil {
		h.writeEngineError(w, orgID, err)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		sub.Close()
		logging.Err(err).Str("org", orgID).Msg("websocket upgrade failed")
		return
	}

	websocket.NewClient(orgID, conn, sub).Run(r.Context())
}

// Health reports liveness and the tenant count.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "ok",
		"tenants": h.engine.TenantCount(),
	})
}

func (h *Handler) writeEngineError(w http.ResponseWriter, orgID string, err error) {
	switch {
	case errors.Is(err, aggregator.ErrInvalidOrg):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "unknown org"})
	case errors.Is(err, aggregator.ErrRegistryClosed), errors.Is(err, aggregator.ErrActorStopped):
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "engine shutting down"})
	default:
		logging.Err(err).Str("org", orgID).Msg("engine request failed")
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Err(err).Msg("encode response")
	}
}
