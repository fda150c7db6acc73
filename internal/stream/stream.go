// Rallypoint - Team Engagement & Events Platform
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/rallypoint

// Package stream delivers live snapshot updates from the remote
// document store to in-process consumers, falling back to cached data
// while the remote is unreachable.
//
// A stream owns one remote subscription and fans snapshots out to any
// number of attached consumers. Consumers are decoupled from the
// subscription lifecycle: they see cached data immediately on attach,
// live updates while the link is up, and a cache-flagged replay when
// it drops. No error ever crosses the consumer channel.
package stream

import (
	"context"
	"sync"
	"time"

	"github.com/tomtom215/rallypoint/internal/cache"
	"github.com/tomtom215/rallypoint/internal/logging"
	"github.com/tomtom215/rallypoint/internal/metrics"
	"github.com/tomtom215/rallypoint/internal/models"
	"github.com/tomtom215/rallypoint/internal/remote"
)

// updateBuffer is the per-consumer channel depth. Drop-oldest: a slow
// consumer skips intermediate snapshots and keeps the freshest.
const updateBuffer = 16

// Default resubscribe backoff bounds.
const (
	retryMin = time.Second
	retryMax = 30 * time.Second
)

// Decoder turns a remote document into a typed entity. Model decoders
// are tolerant of missing fields, so decoding never fails outright.
type Decoder[T models.Entity] func(id string, fields map[string]any) T

// Update is one query snapshot delivered to a consumer.
type Update[T models.Entity] struct {
	Items []T
	Meta  remote.Metadata
}

// QueryStream maintains a live subscription to a remote query, keeps
// the cache entry for its key current, and fans updates out to
// attached consumers.
type QueryStream[T models.Entity] struct {
	key     string
	query   remote.Query
	store   remote.Store
	cache   *cache.Cache
	monitor *Monitor
	decode  Decoder[T]

	mu        sync.Mutex
	consumers map[int]chan Update[T]
	nextID    int
	closed    bool

	cancel context.CancelFunc
	done   chan struct{}
}

// NewQueryStream starts a stream for the given query. Snapshots are
// decoded with decode, cached under key, and reported to monitor. The
// stream keeps retrying the subscription until Close.
func NewQueryStream[T models.Entity](
	key string,
	query remote.Query,
	store remote.Store,
	c *cache.Cache,
	monitor *Monitor,
	decode Decoder[T],
) *QueryStream[T] {
	ctx, cancel := context.WithCancel(context.Background())
	s := &QueryStream[T]{
		key:       key,
		query:     query,
		store:     store,
		cache:     c,
		monitor:   monitor,
		decode:    decode,
		consumers: make(map[int]chan Update[T]),
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	go s.run(ctx)
	return s
}

// Attach registers a consumer. If a cached snapshot exists it is
// delivered immediately, flagged as cache-served. The cancel function
// detaches the consumer and closes its channel.
func (s *QueryStream[T]) Attach() (<-chan Update[T], func()) {
	ch := make(chan Update[T], updateBuffer)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	id := s.nextID
	s.nextID++
	s.consumers[id] = ch
	if items, ok := cache.Get[[]T](s.cache, s.key); ok {
		ch <- Update[T]{Items: items, Meta: remote.Metadata{FromCache: true}}
	}
	s.mu.Unlock()

	metrics.StreamSubscribers.Inc()
	var once sync.Once
	cancel := func() {
		once.Do(func() {
			metrics.StreamSubscribers.Dec()
			s.mu.Lock()
			if _, ok := s.consumers[id]; ok {
				delete(s.consumers, id)
				close(ch)
			}
			s.mu.Unlock()
		})
	}
	return ch, cancel
}

// Key returns the cache key this stream maintains.
func (s *QueryStream[T]) Key() string { return s.key }

// Close tears down the subscription and closes all consumer channels.
func (s *QueryStream[T]) Close() {
	s.cancel()
	<-s.done

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	consumers := s.consumers
	s.consumers = make(map[int]chan Update[T])
	s.mu.Unlock()

	for _, ch := range consumers {
		close(ch)
	}
}

// run holds the subscription open for the life of the stream,
// resubscribing with backoff after failures. While the subscription is
// down, consumers get the cached snapshot once per outage.
func (s *QueryStream[T]) run(ctx context.Context) {
	defer close(s.done)

	delay := retryMin
	down := false
	for {
		sub, err := s.store.SubscribeToQuery(ctx, s.query)
		if err != nil {
			if !down {
				s.onSubscriptionLoss(err)
				down = true
			}
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return
			}
			delay *= 2
			if delay > retryMax {
				delay = retryMax
			}
			continue
		}
		delay = retryMin
		down = false

		if !s.consume(ctx, sub) {
			return
		}
		down = true
	}
}

// consume drains one subscription. Returns false when the stream is
// shutting down, true when the subscription was lost and a new one is
// needed.
func (s *QueryStream[T]) consume(ctx context.Context, sub remote.QuerySubscription) bool {
	for {
		select {
		case snap, ok := <-sub.Snapshots():
			if !ok {
				s.onSubscriptionLoss(nil)
				return true
			}
			s.handle(snap)
		case <-ctx.Done():
			sub.Close()
			return false
		}
	}
}

// handle decodes one snapshot, refreshes the cache, and fans it out.
func (s *QueryStream[T]) handle(snap remote.Snapshot) {
	items := make([]T, 0, len(snap.Docs))
	for _, doc := range snap.Docs {
		items = append(items, s.decode(doc.ID, doc.Fields))
	}

	s.cache.Set(s.key, items)
	s.monitor.Report(snap.Meta)
	metrics.SnapshotsReceived.WithLabelValues(s.key).Inc()
	s.fanOut(Update[T]{Items: items, Meta: snap.Meta})
}

// onSubscriptionLoss flips the monitor to disconnected and replays the
// cached snapshot to consumers, flagged as cache-served.
func (s *QueryStream[T]) onSubscriptionLoss(err error) {
	if err != nil {
		logging.Warn().Err(err).Str("key", s.key).Msg("snapshot subscription lost")
	}
	s.monitor.Transition(StatusDisconnected)
	if items, ok := cache.Get[[]T](s.cache, s.key); ok {
		s.fanOut(Update[T]{Items: items, Meta: remote.Metadata{FromCache: true}})
	}
}

func (s *QueryStream[T]) fanOut(u Update[T]) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range s.consumers {
		for {
			select {
			case ch <- u:
			default:
				select {
				case <-ch:
				default:
				}
				continue
			}
			break
		}
	}
}

// DocUpdate is one document snapshot delivered to a consumer. Found is
// false when the document does not exist.
type DocUpdate[T models.Entity] struct {
	Value T
	Found bool
	Meta  remote.Metadata
}

// DocumentStream is the single-document counterpart of QueryStream.
type DocumentStream[T models.Entity] struct {
	key        string
	collection string
	docID      string
	store      remote.Store
	cache      *cache.Cache
	monitor    *Monitor
	decode     Decoder[T]

	mu        sync.Mutex
	consumers map[int]chan DocUpdate[T]
	nextID    int
	closed    bool

	cancel context.CancelFunc
	done   chan struct{}
}

// NewDocumentStream starts a stream for one document.
func NewDocumentStream[T models.Entity](
	key, collection, docID string,
	store remote.Store,
	c *cache.Cache,
	monitor *Monitor,
	decode Decoder[T],
) *DocumentStream[T] {
	ctx, cancel := context.WithCancel(context.Background())
	s := &DocumentStream[T]{
		key:        key,
		collection: collection,
		docID:      docID,
		store:      store,
		cache:      c,
		monitor:    monitor,
		decode:     decode,
		consumers:  make(map[int]chan DocUpdate[T]),
		cancel:     cancel,
		done:       make(chan struct{}),
	}
	go s.run(ctx)
	return s
}

// Attach registers a consumer, delivering the cached document first if
// one exists.
func (s *DocumentStream[T]) Attach() (<-chan DocUpdate[T], func()) {
	ch := make(chan DocUpdate[T], updateBuffer)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	id := s.nextID
	s.nextID++
	s.consumers[id] = ch
	if v, ok := cache.Get[T](s.cache, s.key); ok {
		ch <- DocUpdate[T]{Value: v, Found: true, Meta: remote.Metadata{FromCache: true}}
	}
	s.mu.Unlock()

	metrics.StreamSubscribers.Inc()
	var once sync.Once
	cancel := func() {
		once.Do(func() {
			metrics.StreamSubscribers.Dec()
			s.mu.Lock()
			if _, ok := s.consumers[id]; ok {
				delete(s.consumers, id)
				close(ch)
			}
			s.mu.Unlock()
		})
	}
	return ch, cancel
}

// Key returns the cache key this stream maintains.
func (s *DocumentStream[T]) Key() string { return s.key }

// Close tears down the subscription and closes all consumer channels.
func (s *DocumentStream[T]) Close() {
	s.cancel()
	<-s.done

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	consumers := s.consumers
	s.consumers = make(map[int]chan DocUpdate[T])
	s.mu.Unlock()

	for _, ch := range consumers {
		close(ch)
	}
}

func (s *DocumentStream[T]) run(ctx context.Context) {
	defer close(s.done)

	delay := retryMin
	down := false
	for {
		sub, err := s.store.SubscribeToDocument(ctx, s.collection, s.docID)
		if err != nil {
			if !down {
				s.onSubscriptionLoss(err)
				down = true
			}
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return
			}
			delay *= 2
			if delay > retryMax {
				delay = retryMax
			}
			continue
		}
		delay = retryMin
		down = false

		if !s.consume(ctx, sub) {
			return
		}
		down = true
	}
}

func (s *DocumentStream[T]) consume(ctx context.Context, sub remote.DocumentSubscription) bool {
	for {
		select {
		case snap, ok := <-sub.Snapshots():
			if !ok {
				s.onSubscriptionLoss(nil)
				return true
			}
			s.handle(snap)
		case <-ctx.Done():
			sub.Close()
			return false
		}
	}
}

func (s *DocumentStream[T]) handle(snap remote.DocumentSnapshot) {
	update := DocUpdate[T]{Meta: snap.Meta}
	if snap.Doc != nil {
		v := s.decode(snap.Doc.ID, snap.Doc.Fields)
		update.Value = v
		update.Found = true
		s.cache.Set(s.key, v)
	} else {
		s.cache.Remove(s.key)
	}

	s.monitor.Report(snap.Meta)
	metrics.SnapshotsReceived.WithLabelValues(s.key).Inc()
	s.fanOut(update)
}

func (s *DocumentStream[T]) onSubscriptionLoss(err error) {
	if err != nil {
		logging.Warn().Err(err).Str("key", s.key).Msg("document subscription lost")
	}
	s.monitor.Transition(StatusDisconnected)
	if v, ok := cache.Get[T](s.cache, s.key); ok {
		s.fanOut(DocUpdate[T]{Value: v, Found: true, Meta: remote.Metadata{FromCache: true}})
	}
}

func (s *DocumentStream[T]) fanOut(u DocUpdate[T]) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range s.consumers {
		for {
			select {
			case ch <- u:
			default:
				select {
				case <-ch:
				default:
				}
				continue
			}
			break
		}
	}
}
