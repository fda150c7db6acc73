// Rallypoint - Team Engagement & Events Platform
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/rallypoint

// Package api exposes the sync layer's read-only observability
// surface: health, sync status, and prometheus metrics.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tomtom215/rallypoint/internal/engine"
	"github.com/tomtom215/rallypoint/internal/logging"
)

// Router serves the status API for one engine.
type Router struct {
	engine *engine.Engine
}

// NewRouter creates a status API router over the given engine.
func NewRouter(e *engine.Engine) *Router {
	return &Router{engine: e}
}

// Handler builds the HTTP handler tree.
func (rt *Router) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(30 * time.Second))

	r.Get("/healthz", rt.health)
	r.Route("/api/v1/sync", func(r chi.Router) {
		r.Get("/status", rt.status)
		r.Get("/pending", rt.pending)
		r.Post("/replay", rt.replay)
	})
	r.Handle("/metrics", promhttp.Handler())
	return r
}

func (rt *Router) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// statusResponse is the body of GET /api/v1/sync/status.
type statusResponse struct {
	ConnectionStatus  string   `json:"connectionStatus"`
	PendingOperations int      `json:"pendingOperations"`
	CacheKeys         []string `json:"cacheKeys"`
}

func (rt *Router) status(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, statusResponse{
		ConnectionStatus:  string(rt.engine.CurrentConnectionStatus()),
		PendingOperations: rt.engine.PendingOperationsCount(),
		CacheKeys:         rt.engine.CacheKeys(),
	})
}

// pendingResponse lists the queued operations without their payloads.
type pendingResponse struct {
	Count      int                `json:"count"`
	Operations []pendingOperation `json:"operations"`
}

type pendingOperation struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
}

func (rt *Router) pending(w http.ResponseWriter, _ *http.Request) {
	ops := rt.engine.PendingOperations()
	resp := pendingResponse{Count: len(ops), Operations: make([]pendingOperation, 0, len(ops))}
	for _, op := range ops {
		resp.Operations = append(resp.Operations, pendingOperation{
			ID:        op.ID,
			Type:      string(op.Type),
			Timestamp: op.Timestamp,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

// replay triggers an immediate drain of the pending queue.
func (rt *Router) replay(w http.ResponseWriter, _ *http.Request) {
	replayed := rt.engine.ForceSyncWhenOnline()
	writeJSON(w, http.StatusOK, map[string]int{
		"replayed":  replayed,
		"remaining": rt.engine.PendingOperationsCount(),
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Error().Err(err).Msg("encoding API response")
	}
}
