// Rallypoint - Team Engagement & Events Platform
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/rallypoint

// Package remote defines the consumed remote document store capability
// and the gateway client that implements it.
//
// The sync layer deliberately collapses every remote failure mode into
// a single "unavailable" classification: a timeout, a refused
// connection, and a rejected write all route the caller to the same
// cache-fallback or queue branch. Outcome values make that contract
// explicit in signatures instead of hiding it behind caught errors.
package remote

import (
	"context"
	"errors"
)

// ErrUnavailable classifies any remote-store failure. The sync engine
// never distinguishes further.
var ErrUnavailable = errors.New("remote: store unavailable")

// Metadata describes the provenance of one snapshot: whether it was
// served from the store's own cache (the link is down) and whether
// local writes are still awaiting acknowledgment.
type Metadata struct {
	FromCache     bool `json:"fromCache"`
	PendingWrites bool `json:"pendingWrites"`
}

// Document is one remote document: a flat field map under a collection
// scoped id.
type Document struct {
	Collection string         `json:"collection"`
	ID         string         `json:"id"`
	Fields     map[string]any `json:"fields"`
}

// Filter is a single field predicate in a query.
type Filter struct {
	Field string `json:"field"`
	Op    string `json:"op"` // "==", "<", "<=", ">", ">="
	Value any    `json:"value"`
}

// Query selects documents from a collection.
type Query struct {
	Collection string   `json:"collection"`
	Filters    []Filter `json:"filters,omitempty"`
	OrderBy    string   `json:"orderBy,omitempty"`
	Descending bool     `json:"descending,omitempty"`
	Limit      int      `json:"limit,omitempty"`
}

// Snapshot is one push-delivered version of a subscribed query.
type Snapshot struct {
	Docs []Document
	Meta Metadata
}

// DocumentSnapshot is one push-delivered version of a subscribed
// document. Doc is nil when the document does not exist.
type DocumentSnapshot struct {
	Doc  *Document
	Meta Metadata
}

// QuerySubscription is a live subscription to a query. The snapshot
// channel is closed when the subscription ends, either via Close or a
// transport loss the client could not recover from.
type QuerySubscription interface {
	Snapshots() <-chan Snapshot
	Close() error
}

// DocumentSubscription is a live subscription to a single document.
type DocumentSubscription interface {
	Snapshots() <-chan DocumentSnapshot
	Close() error
}

// Store is the minimal remote document store contract the sync layer
// consumes. GetDocument returns (nil, nil) for a document that does not
// exist; absence is not an error.
type Store interface {
	GetDocument(ctx context.Context, collection, id string) (*Document, error)
	SetDocument(ctx context.Context, collection, id string, fields map[string]any) error
	UpdateDocument(ctx context.Context, collection, id string, patch map[string]any) error
	QueryCollection(ctx context.Context, q Query) ([]Document, error)
	SubscribeToQuery(ctx context.Context, q Query) (QuerySubscription, error)
	SubscribeToDocument(ctx context.Context, collection, id string) (DocumentSubscription, error)
}
