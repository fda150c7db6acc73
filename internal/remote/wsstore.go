// Rallypoint - Team Engagement & Events Platform
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/rallypoint

package remote

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/tomtom215/rallypoint/internal/logging"
)

// Gateway frame operations.
const (
	opGet         = "get"
	opSet         = "set"
	opUpdate      = "update"
	opQuery       = "query"
	opSubQuery    = "subscribe_query"
	opSubDoc      = "subscribe_document"
	opUnsubscribe = "unsubscribe"
	opResult      = "result"
	opSnapshot    = "snapshot"
)

// snapshotBuffer is the per-subscription channel depth. When a consumer
// falls behind, the oldest snapshot is dropped: only the freshest state
// matters.
const snapshotBuffer = 16

// frame is one JSON message on the gateway websocket. Request frames
// carry an ID the gateway echoes on the matching result; snapshot
// frames carry the subscription ID instead.
type frame struct {
	ID         string         `json:"id,omitempty"`
	Op         string         `json:"op"`
	Collection string         `json:"collection,omitempty"`
	DocID      string         `json:"docId,omitempty"`
	Fields     map[string]any `json:"fields,omitempty"`
	Patch      map[string]any `json:"patch,omitempty"`
	Query      *Query         `json:"query,omitempty"`
	SubID      string         `json:"subId,omitempty"`
	Docs       []Document     `json:"docs,omitempty"`
	Doc        *Document      `json:"doc,omitempty"`
	Found      bool           `json:"found,omitempty"`
	Meta       *Metadata      `json:"meta,omitempty"`
	Error      string         `json:"error,omitempty"`
}

// GatewayConfig holds the document-gateway client settings.
type GatewayConfig struct {
	// URL is the gateway endpoint (http(s) or ws(s) scheme).
	URL string

	// HandshakeTimeout bounds the websocket dial.
	HandshakeTimeout time.Duration

	// RequestTimeout bounds each request/response round trip. This is
	// the upper bound after which a remote call is treated as failed
	// rather than left hanging.
	RequestTimeout time.Duration

	// PingInterval is the keepalive ping cadence.
	PingInterval time.Duration

	// ReconnectMin/ReconnectMax bound the exponential backoff between
	// reconnection attempts.
	ReconnectMin time.Duration
	ReconnectMax time.Duration
}

func (c *GatewayConfig) withDefaults() GatewayConfig {
	out := *c
	if out.HandshakeTimeout == 0 {
		out.HandshakeTimeout = 10 * time.Second
	}
	if out.RequestTimeout == 0 {
		out.RequestTimeout = 5 * time.Second
	}
	if out.PingInterval == 0 {
		out.PingInterval = 30 * time.Second
	}
	if out.ReconnectMin == 0 {
		out.ReconnectMin = time.Second
	}
	if out.ReconnectMax == 0 {
		out.ReconnectMax = 32 * time.Second
	}
	return out
}

// GatewayStore implements Store over a single websocket connection to
// the platform's document gateway.
//
// The client reconnects automatically with exponential backoff and
// re-establishes active subscriptions after each reconnect. Requests in
// flight when the link drops fail as unavailable; subscribers see a
// gap, not an error.
type GatewayStore struct {
	cfg GatewayConfig

	connMu sync.RWMutex
	conn   *websocket.Conn

	// writeMu serializes websocket writes; gorilla allows only one
	// concurrent writer.
	writeMu sync.Mutex

	stateMu sync.Mutex
	pending map[string]chan frame
	subs    map[string]*gatewaySub
	closed  bool

	nextID   atomic.Uint64
	loopOnce sync.Once
	stopChan chan struct{}
	wg       sync.WaitGroup
}

// gatewaySub tracks one active subscription so it can be re-issued
// after a reconnect. Exactly one of queryCh/docCh is non-nil.
type gatewaySub struct {
	store *GatewayStore

	query      *Query // non-nil for query subscriptions
	collection string // set for document subscriptions
	docID      string

	mu      sync.Mutex
	id      string
	closed  bool
	queryCh chan Snapshot
	docCh   chan DocumentSnapshot
}

// gatewayQuerySub adapts gatewaySub to QuerySubscription.
type gatewayQuerySub struct{ sub *gatewaySub }

func (s gatewayQuerySub) Snapshots() <-chan Snapshot { return s.sub.queryCh }
func (s gatewayQuerySub) Close() error               { return s.sub.close() }

// gatewayDocSub adapts gatewaySub to DocumentSubscription.
type gatewayDocSub struct{ sub *gatewaySub }

func (s gatewayDocSub) Snapshots() <-chan DocumentSnapshot { return s.sub.docCh }
func (s gatewayDocSub) Close() error                       { return s.sub.close() }

// NewGatewayStore creates a client for the given gateway. Call Connect
// before use.
func NewGatewayStore(cfg GatewayConfig) *GatewayStore {
	return &GatewayStore{
		cfg:      cfg.withDefaults(),
		pending:  make(map[string]chan frame),
		subs:     make(map[string]*gatewaySub),
		stopChan: make(chan struct{}),
	}
}

// Connect establishes the websocket connection and starts the read and
// keepalive loops. The loops keep reconnecting on their own after a
// connection loss; Connect needs to succeed only once.
func (g *GatewayStore) Connect(ctx context.Context) error {
	if err := g.dial(ctx); err != nil {
		return err
	}
	g.loopOnce.Do(func() {
		g.wg.Add(2)
		go g.readLoop()
		go g.pingLoop()
	})
	return nil
}

// dial opens the websocket and re-establishes surviving subscriptions.
func (g *GatewayStore) dial(ctx context.Context) error {
	g.connMu.Lock()
	if g.conn != nil {
		g.connMu.Unlock()
		return nil
	}

	wsURL, err := g.buildURL()
	if err != nil {
		g.connMu.Unlock()
		return fmt.Errorf("build gateway url: %w", err)
	}

	dialer := websocket.Dialer{
		HandshakeTimeout:  g.cfg.HandshakeTimeout,
		EnableCompression: true,
	}
	conn, resp, err := dialer.DialContext(ctx, wsURL, nil)
	if resp != nil {
		defer resp.Body.Close()
	}
	if err != nil {
		g.connMu.Unlock()
		if resp != nil {
			return fmt.Errorf("gateway dial (HTTP %d): %w", resp.StatusCode, err)
		}
		return fmt.Errorf("gateway dial: %w", err)
	}
	g.conn = conn
	g.connMu.Unlock()

	logging.Info().Str("url", wsURL).Msg("document gateway connected")

	g.stateMu.Lock()
	subs := make([]*gatewaySub, 0, len(g.subs))
	for _, sub := range g.subs {
		subs = append(subs, sub)
	}
	g.stateMu.Unlock()
	for _, sub := range subs {
		g.resubscribe(sub)
	}

	return nil
}

// Close shuts the client down, closing all subscriptions. Safe to call
// more than once.
func (g *GatewayStore) Close() error {
	g.stateMu.Lock()
	if g.closed {
		g.stateMu.Unlock()
		return nil
	}
	g.closed = true
	subs := make([]*gatewaySub, 0, len(g.subs))
	for _, sub := range g.subs {
		subs = append(subs, sub)
	}
	g.subs = make(map[string]*gatewaySub)
	g.stateMu.Unlock()

	close(g.stopChan)
	for _, sub := range subs {
		sub.finish()
	}

	g.closeConnection()
	g.wg.Wait()
	return nil
}

// GetDocument implements Store. Returns (nil, nil) for an absent
// document.
func (g *GatewayStore) GetDocument(ctx context.Context, collection, id string) (*Document, error) {
	resp, err := g.request(ctx, frame{Op: opGet, Collection: collection, DocID: id})
	if err != nil {
		return nil, err
	}
	if !resp.Found {
		return nil, nil
	}
	return resp.Doc, nil
}

// SetDocument implements Store.
func (g *GatewayStore) SetDocument(ctx context.Context, collection, id string, fields map[string]any) error {
	_, err := g.request(ctx, frame{Op: opSet, Collection: collection, DocID: id, Fields: fields})
	return err
}

// UpdateDocument implements Store.
func (g *GatewayStore) UpdateDocument(ctx context.Context, collection, id string, patch map[string]any) error {
	_, err := g.request(ctx, frame{Op: opUpdate, Collection: collection, DocID: id, Patch: patch})
	return err
}

// QueryCollection implements Store.
func (g *GatewayStore) QueryCollection(ctx context.Context, q Query) ([]Document, error) {
	resp, err := g.request(ctx, frame{Op: opQuery, Query: &q})
	if err != nil {
		return nil, err
	}
	return resp.Docs, nil
}

// SubscribeToQuery implements Store.
func (g *GatewayStore) SubscribeToQuery(ctx context.Context, q Query) (QuerySubscription, error) {
	sub := &gatewaySub{
		store:   g,
		query:   &q,
		queryCh: make(chan Snapshot, snapshotBuffer),
	}
	if err := g.openSub(ctx, sub, frame{Op: opSubQuery, Query: &q}); err != nil {
		return nil, err
	}
	return gatewayQuerySub{sub}, nil
}

// SubscribeToDocument implements Store.
func (g *GatewayStore) SubscribeToDocument(ctx context.Context, collection, id string) (DocumentSubscription, error) {
	sub := &gatewaySub{
		store:      g,
		collection: collection,
		docID:      id,
		docCh:      make(chan DocumentSnapshot, snapshotBuffer),
	}
	if err := g.openSub(ctx, sub, frame{Op: opSubDoc, Collection: collection, DocID: id}); err != nil {
		return nil, err
	}
	return gatewayDocSub{sub}, nil
}

func (g *GatewayStore) openSub(ctx context.Context, sub *gatewaySub, req frame) error {
	resp, err := g.request(ctx, req)
	if err != nil {
		return err
	}
	if resp.SubID == "" {
		return fmt.Errorf("gateway returned no subscription id: %w", ErrUnavailable)
	}

	sub.mu.Lock()
	sub.id = resp.SubID
	sub.mu.Unlock()

	g.stateMu.Lock()
	if g.closed {
		g.stateMu.Unlock()
		return fmt.Errorf("gateway closed: %w", ErrUnavailable)
	}
	g.subs[resp.SubID] = sub
	g.stateMu.Unlock()
	return nil
}

// resubscribe re-issues the subscribe frame for a surviving sub after a
// reconnect, rebinding it to the new gateway-assigned subscription id.
func (g *GatewayStore) resubscribe(sub *gatewaySub) {
	req := frame{Op: opSubQuery, Query: sub.query}
	if sub.query == nil {
		req = frame{Op: opSubDoc, Collection: sub.collection, DocID: sub.docID}
	}

	ctx, cancel := context.WithTimeout(context.Background(), g.cfg.RequestTimeout)
	defer cancel()
	resp, err := g.request(ctx, req)
	if err != nil || resp.SubID == "" {
		logging.Warn().Err(err).Msg("resubscribe after reconnect failed")
		return
	}

	sub.mu.Lock()
	oldID := sub.id
	sub.id = resp.SubID
	sub.mu.Unlock()

	g.stateMu.Lock()
	delete(g.subs, oldID)
	g.subs[resp.SubID] = sub
	g.stateMu.Unlock()
}

// request performs one correlated request/response round trip. Any
// transport or gateway error is returned wrapping ErrUnavailable.
func (g *GatewayStore) request(ctx context.Context, req frame) (frame, error) {
	g.connMu.RLock()
	conn := g.conn
	g.connMu.RUnlock()
	if conn == nil {
		return frame{}, ErrUnavailable
	}

	req.ID = strconv.FormatUint(g.nextID.Add(1), 10)
	respCh := make(chan frame, 1)

	g.stateMu.Lock()
	if g.closed {
		g.stateMu.Unlock()
		return frame{}, ErrUnavailable
	}
	g.pending[req.ID] = respCh
	g.stateMu.Unlock()
	defer func() {
		g.stateMu.Lock()
		delete(g.pending, req.ID)
		g.stateMu.Unlock()
	}()

	if err := g.writeFrame(conn, req); err != nil {
		logging.Debug().Err(err).Str("op", req.Op).Msg("gateway write failed")
		return frame{}, ErrUnavailable
	}

	timeout := time.NewTimer(g.cfg.RequestTimeout)
	defer timeout.Stop()

	select {
	case resp := <-respCh:
		if resp.Error != "" {
			return frame{}, fmt.Errorf("gateway rejected %s: %s: %w", req.Op, resp.Error, ErrUnavailable)
		}
		return resp, nil
	case <-timeout.C:
		return frame{}, fmt.Errorf("gateway %s timed out: %w", req.Op, ErrUnavailable)
	case <-ctx.Done():
		return frame{}, fmt.Errorf("gateway %s: %w", req.Op, ErrUnavailable)
	case <-g.stopChan:
		return frame{}, ErrUnavailable
	}
}

func (g *GatewayStore) writeFrame(conn *websocket.Conn, f frame) error {
	data, err := json.Marshal(f)
	if err != nil {
		return err
	}
	g.writeMu.Lock()
	defer g.writeMu.Unlock()
	return conn.WriteMessage(websocket.TextMessage, data)
}

// readLoop consumes frames for the life of the client. When the
// connection drops it fails in-flight requests and redials with
// exponential backoff until Close is called.
func (g *GatewayStore) readLoop() {
	defer g.wg.Done()

	delay := g.cfg.ReconnectMin
	for {
		select {
		case <-g.stopChan:
			return
		default:
		}

		g.connMu.RLock()
		conn := g.conn
		g.connMu.RUnlock()

		if conn == nil {
			select {
			case <-time.After(delay):
			case <-g.stopChan:
				return
			}
			delay *= 2
			if delay > g.cfg.ReconnectMax {
				delay = g.cfg.ReconnectMax
			}

			ctx, cancel := context.WithTimeout(context.Background(), g.cfg.HandshakeTimeout)
			err := g.dial(ctx)
			cancel()
			if err != nil {
				logging.Warn().Err(err).Dur("next_retry", delay).Msg("gateway reconnect failed")
				continue
			}
			delay = g.cfg.ReconnectMin
			continue
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logging.Info().Msg("gateway closed connection")
			} else if g.isClosed() {
				return
			} else {
				logging.Warn().Err(err).Msg("gateway read error")
			}
			g.closeConnection()
			g.failPending()
			delay = g.cfg.ReconnectMin
			continue
		}

		g.dispatch(data)
	}
}

// dispatch routes one incoming frame to the matching pending request or
// subscription.
func (g *GatewayStore) dispatch(data []byte) {
	var f frame
	if err := json.Unmarshal(data, &f); err != nil {
		logging.Warn().Err(err).Msg("malformed gateway frame")
		return
	}

	switch f.Op {
	case opResult:
		g.stateMu.Lock()
		ch := g.pending[f.ID]
		g.stateMu.Unlock()
		if ch != nil {
			select {
			case ch <- f:
			default:
			}
		}
	case opSnapshot:
		g.stateMu.Lock()
		sub := g.subs[f.SubID]
		g.stateMu.Unlock()
		if sub != nil {
			sub.deliver(f)
		}
	default:
		logging.Debug().Str("op", f.Op).Msg("ignoring unexpected gateway frame")
	}
}

// failPending unblocks every in-flight request after a connection loss.
func (g *GatewayStore) failPending() {
	g.stateMu.Lock()
	defer g.stateMu.Unlock()
	for id, ch := range g.pending {
		select {
		case ch <- frame{Op: opResult, ID: id, Error: "connection lost"}:
		default:
		}
	}
}

func (g *GatewayStore) pingLoop() {
	defer g.wg.Done()

	ticker := time.NewTicker(g.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-g.stopChan:
			return
		case <-ticker.C:
			g.connMu.RLock()
			conn := g.conn
			g.connMu.RUnlock()
			if conn == nil {
				continue
			}
			g.writeMu.Lock()
			err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
			g.writeMu.Unlock()
			if err != nil {
				logging.Debug().Err(err).Msg("gateway ping failed")
			}
		}
	}
}

func (g *GatewayStore) isClosed() bool {
	g.stateMu.Lock()
	defer g.stateMu.Unlock()
	return g.closed
}

func (g *GatewayStore) closeConnection() {
	g.connMu.Lock()
	defer g.connMu.Unlock()
	if g.conn != nil {
		g.conn.Close()
		g.conn = nil
	}
}

func (g *GatewayStore) buildURL() (string, error) {
	parsed, err := url.Parse(g.cfg.URL)
	if err != nil {
		return "", err
	}
	switch parsed.Scheme {
	case "http":
		parsed.Scheme = "ws"
	case "https":
		parsed.Scheme = "wss"
	}
	return parsed.String(), nil
}

// deliver pushes one snapshot frame into the subscription channel,
// dropping the oldest snapshot if the consumer has fallen behind.
func (s *gatewaySub) deliver(f frame) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}

	meta := Metadata{}
	if f.Meta != nil {
		meta = *f.Meta
	}

	if s.queryCh != nil {
		snap := Snapshot{Docs: f.Docs, Meta: meta}
		for {
			select {
			case s.queryCh <- snap:
				return
			default:
				select {
				case <-s.queryCh:
				default:
				}
			}
		}
	}

	snap := DocumentSnapshot{Meta: meta}
	if f.Found {
		snap.Doc = f.Doc
	}
	for {
		select {
		case s.docCh <- snap:
			return
		default:
			select {
			case <-s.docCh:
			default:
			}
		}
	}
}

// finish closes the snapshot channel without contacting the gateway.
func (s *gatewaySub) finish() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	if s.queryCh != nil {
		close(s.queryCh)
	}
	if s.docCh != nil {
		close(s.docCh)
	}
}

// close tells the gateway to drop the subscription and closes the
// snapshot channel.
func (s *gatewaySub) close() error {
	s.mu.Lock()
	id := s.id
	s.mu.Unlock()

	s.store.stateMu.Lock()
	delete(s.store.subs, id)
	s.store.stateMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), s.store.cfg.RequestTimeout)
	defer cancel()
	_, err := s.store.request(ctx, frame{Op: opUnsubscribe, SubID: id})

	s.finish()
	return err
}
