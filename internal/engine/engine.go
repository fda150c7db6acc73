// Rallypoint - Team Engagement & Events Platform
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/rallypoint

// Package engine implements the offline-first sync engine: the single
// write path and read path between domain surfaces, the local cache,
// the pending-operation queue, and the remote document store.
//
// The engine's contract is that connectivity loss is invisible to
// callers. Reads fall back to cached data, writes are applied to the
// cache optimistically and queued for replay, and no remote failure
// ever surfaces as an error on a domain operation.
package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/tomtom215/rallypoint/internal/cache"
	"github.com/tomtom215/rallypoint/internal/logging"
	"github.com/tomtom215/rallypoint/internal/metrics"
	"github.com/tomtom215/rallypoint/internal/models"
	"github.com/tomtom215/rallypoint/internal/queue"
	"github.com/tomtom215/rallypoint/internal/remote"
	"github.com/tomtom215/rallypoint/internal/stream"
)

// Config holds the engine's tunables.
type Config struct {
	// RemoteTimeout bounds every individual remote call issued by the
	// engine, reads, writes, and replays alike.
	RemoteTimeout time.Duration

	// MaxReplayAttempts is how many times a queued operation may be
	// rejected with a permanent error before it is dropped. Transient
	// unavailability never counts against it.
	MaxReplayAttempts int

	// ReplayRate and ReplayBurst pace the replay of queued operations
	// after a reconnect, so a long backlog does not stampede the
	// recovering backend.
	ReplayRate  rate.Limit
	ReplayBurst int
}

func (c Config) withDefaults() Config {
	if c.RemoteTimeout == 0 {
		c.RemoteTimeout = 5 * time.Second
	}
	if c.MaxReplayAttempts == 0 {
		c.MaxReplayAttempts = 5
	}
	if c.ReplayRate == 0 {
		c.ReplayRate = 20
	}
	if c.ReplayBurst == 0 {
		c.ReplayBurst = 5
	}
	return c
}

// Engine wires the cache, queue, remote store, and status monitor into
// the offline-first read/write paths. All methods are safe for
// concurrent use.
type Engine struct {
	cfg     Config
	cache   *cache.Cache
	queue   *queue.Queue
	store   remote.Store
	monitor *stream.Monitor
	limiter *rate.Limiter

	// attempts tracks per-operation permanent replay rejections. The
	// count is deliberately in-memory only: a restart grants a dropped
	// operation a fresh set of attempts.
	attemptsMu sync.Mutex
	attempts   map[string]int

	streamsMu sync.Mutex
	streams   map[string]interface{ Close() }

	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	disposed sync.Once
}

// New creates an engine and starts watching connection status
// transitions. A transition out of disconnected triggers a replay of
// the pending-operation queue.
func New(cfg Config, c *cache.Cache, q *queue.Queue, store remote.Store, monitor *stream.Monitor) *Engine {
	cfg = cfg.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		cfg:      cfg,
		cache:    c,
		queue:    q,
		store:    store,
		monitor:  monitor,
		limiter:  rate.NewLimiter(cfg.ReplayRate, cfg.ReplayBurst),
		attempts: make(map[string]int),
		streams:  make(map[string]interface{ Close() }),
		ctx:      ctx,
		cancel:   cancel,
	}
	metrics.PendingOperations.Set(float64(q.Count()))

	// Subscribe before returning so transitions that happen between New
	// and the goroutine's first run are not missed.
	statusCh, cancelSub := monitor.Subscribe()
	e.wg.Add(1)
	go e.watchStatus(statusCh, cancelSub)
	return e
}

// watchStatus drains the queue whenever connectivity returns.
func (e *Engine) watchStatus(statusCh <-chan stream.ConnectionStatus, cancel func()) {
	defer e.wg.Done()
	defer cancel()

	previous := stream.StatusConnected
	for {
		select {
		case status, ok := <-statusCh:
			if !ok {
				return
			}
			if previous == stream.StatusDisconnected && status != stream.StatusDisconnected {
				logging.Info().Int("pending", e.queue.Count()).
					Msg("connectivity restored, replaying pending operations")
				e.drainPending()
			}
			previous = status
		case <-e.ctx.Done():
			return
		}
	}
}

// drainPending replays the queue once. Concurrent calls collapse into
// the running pass.
func (e *Engine) drainPending() int {
	n, err := e.queue.Drain(e.ctx, e.replayOne)
	switch {
	case errors.Is(err, queue.ErrDrainInProgress):
		// Another pass is already flushing the same queue.
	case errors.Is(err, context.Canceled):
	case err != nil:
		logging.Warn().Err(err).Int("replayed", n).Int("remaining", e.queue.Count()).
			Msg("replay stopped, remaining operations preserved")
	default:
		if n > 0 {
			logging.Info().Int("replayed", n).Msg("pending operations replayed")
		}
	}

	metrics.PendingOperations.Set(float64(e.queue.Count()))
	if err == nil && e.queue.IsEmpty() {
		e.monitor.Transition(stream.StatusConnected)
	}
	return n
}

// ForceSyncWhenOnline triggers an immediate replay of the pending
// queue, regardless of the monitor's current belief about
// connectivity. Returns the number of operations replayed.
func (e *Engine) ForceSyncWhenOnline() int {
	return e.drainPending()
}

// Dispose stops the engine: status watching ends, all open snapshot
// streams are closed, and no further replays run. Queued operations
// stay in the durable store for the next process.
func (e *Engine) Dispose() {
	e.disposed.Do(func() {
		e.cancel()
		e.wg.Wait()

		e.streamsMu.Lock()
		streams := e.streams
		e.streams = make(map[string]interface{ Close() })
		e.streamsMu.Unlock()
		for _, s := range streams {
			s.Close()
		}
	})
}

// statusFromQueue is the status implied by a successful remote call:
// connected when nothing is pending, degraded while the backlog is
// still flushing.
func (e *Engine) statusFromQueue() stream.ConnectionStatus {
	if e.queue.IsEmpty() {
		return stream.StatusConnected
	}
	return stream.StatusDegraded
}

// readThroughList is the generic list read path: remote first with the
// result cached, cache fallback on failure, typed empty slice when
// neither has data. Callers never see an error.
func readThroughList[T models.Entity](ctx context.Context, e *Engine, key string, fetch func(context.Context) ([]T, error)) []T {
	rctx, cancel := context.WithTimeout(ctx, e.cfg.RemoteTimeout)
	defer cancel()

	if items, ok := remote.Attempt(fetch(rctx)).Available(); ok {
		e.cache.Set(key, items)
		e.monitor.Transition(e.statusFromQueue())
		return items
	}

	e.monitor.Transition(stream.StatusDisconnected)
	if cached, ok := cache.Get[[]T](e.cache, key); ok {
		return cached
	}
	return []T{}
}

// writeThrough performs the optimistic write path's remote half: the
// caller has already patched the cache. A remote failure enqueues op
// for replay and is absorbed; the returned error is always nil, kept
// in the signature so call sites read like writes.
func (e *Engine) writeThrough(ctx context.Context, write func(context.Context) error, op queue.Operation) error {
	wctx, cancel := context.WithTimeout(ctx, e.cfg.RemoteTimeout)
	defer cancel()

	if err := write(wctx); err != nil {
		stored := e.queue.Enqueue(op)
		metrics.QueuedOperations.WithLabelValues(string(op.Type)).Inc()
		metrics.PendingOperations.Set(float64(e.queue.Count()))
		e.monitor.Transition(stream.StatusDisconnected)
		logging.Info().Str("type", string(stored.Type)).Str("op", stored.ID).
			Msg("remote write deferred to pending queue")
		return nil
	}

	e.monitor.Transition(e.statusFromQueue())
	return nil
}
