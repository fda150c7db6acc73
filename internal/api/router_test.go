// Rallypoint - Team Engagement & Events Platform
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/rallypoint

package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/goccy/go-json"

	"github.com/tomtom215/rallypoint/internal/cache"
	"github.com/tomtom215/rallypoint/internal/engine"
	"github.com/tomtom215/rallypoint/internal/models"
	"github.com/tomtom215/rallypoint/internal/queue"
	"github.com/tomtom215/rallypoint/internal/remote"
	"github.com/tomtom215/rallypoint/internal/stream"
)

// offlineStore fails every call, keeping the engine offline.
type offlineStore struct{}

func (offlineStore) GetDocument(context.Context, string, string) (*remote.Document, error) {
	return nil, remote.ErrUnavailable
}

func (offlineStore) SetDocument(context.Context, string, string, map[string]any) error {
	return remote.ErrUnavailable
}

func (offlineStore) UpdateDocument(context.Context, string, string, map[string]any) error {
	return remote.ErrUnavailable
}

func (offlineStore) QueryCollection(context.Context, remote.Query) ([]remote.Document, error) {
	return nil, remote.ErrUnavailable
}

func (offlineStore) SubscribeToQuery(context.Context, remote.Query) (remote.QuerySubscription, error) {
	return nil, remote.ErrUnavailable
}

func (offlineStore) SubscribeToDocument(context.Context, string, string) (remote.DocumentSubscription, error) {
	return nil, remote.ErrUnavailable
}

func newTestRouter(t *testing.T) (*engine.Engine, http.Handler) {
	t.Helper()
	m := stream.NewMonitor(nil)
	e := engine.New(engine.Config{}, cache.New(), queue.New(), offlineStore{}, m)
	t.Cleanup(func() {
		e.Dispose()
		m.Close()
	})
	return e, NewRouter(e).Handler()
}

func TestHealthEndpoint(t *testing.T) {
	_, h := newTestRouter(t)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestStatusEndpoint(t *testing.T) {
	e, h := newTestRouter(t)
	e.CacheData("group_posts_g1", []models.Post{{ID: "p1", GroupID: "g1"}})
	e.AddPendingOperation(queue.Operation{Type: queue.OpLikePost})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/sync/status", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var resp struct {
		ConnectionStatus  string   `json:"connectionStatus"`
		PendingOperations int      `json:"pendingOperations"`
		CacheKeys         []string `json:"cacheKeys"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.PendingOperations != 1 {
		t.Errorf("pending = %d", resp.PendingOperations)
	}
	if len(resp.CacheKeys) != 1 || resp.CacheKeys[0] != "group_posts_g1" {
		t.Errorf("cache keys = %v", resp.CacheKeys)
	}
}

func TestPendingEndpoint(t *testing.T) {
	e, h := newTestRouter(t)
	op := e.AddPendingOperation(queue.Operation{Type: queue.OpCreatePost})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/sync/pending", nil))

	var resp struct {
		Count      int `json:"count"`
		Operations []struct {
			ID   string `json:"id"`
			Type string `json:"type"`
		} `json:"operations"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Count != 1 || resp.Operations[0].ID != op.ID || resp.Operations[0].Type != "createPost" {
		t.Errorf("unexpected pending response: %+v", resp)
	}
}

func TestReplayEndpoint(t *testing.T) {
	e, h := newTestRouter(t)
	e.AddPendingOperation(queue.Operation{
		Type: queue.OpMarkNotificationRead,
		Data: map[string]any{models.FieldID: "n1"},
	})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/sync/replay", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	// The store is unreachable, so nothing replays and the operation
	// stays queued.
	var resp map[string]int
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp["replayed"] != 0 || resp["remaining"] != 1 {
		t.Errorf("unexpected replay response: %v", resp)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	_, h := newTestRouter(t)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if rec.Body.Len() == 0 {
		t.Error("empty metrics exposition")
	}
}
