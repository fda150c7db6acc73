// Rallypoint - Team Engagement & Events Platform
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/rallypoint

// Package queue implements the pending-operation queue: the ordered,
// durable list of write intents deferred while the remote document
// store is unreachable.
//
// Operations are appended when an optimistic write fails and removed
// only after a successful in-order replay. Replay is strictly FIFO and
// single-flight: a drain stops at the first failing operation, leaving
// it and everything after it queued for the next trigger.
package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// OpType identifies which remote write a pending operation replays.
type OpType string

// Known operation types. The set is open: domain surfaces may register
// more, as long as the replay dispatcher knows them.
const (
	OpCreatePost           OpType = "createPost"
	OpLikePost             OpType = "likePost"
	OpAddComment           OpType = "addComment"
	OpMarkNotificationRead OpType = "markNotificationRead"
)

// Operation is a deferred write intent. Data carries everything the
// replay dispatcher needs to re-issue the remote write.
type Operation struct {
	ID        string         `json:"id"`
	Type      OpType         `json:"type"`
	Data      map[string]any `json:"data"`
	Timestamp time.Time      `json:"timestamp"`
}

// ReplayFunc re-attempts one queued operation against the remote store.
// A nil return removes the operation from the queue; an error stops the
// current drain with the operation preserved.
type ReplayFunc func(ctx context.Context, op Operation) error

// ErrDrainInProgress is returned by Drain when another drain pass is
// already running. Callers treat it as a no-op.
var ErrDrainInProgress = errors.New("queue: drain already in progress")

// queued pairs an operation with its durable-store sequence number.
// seq is zero for purely in-memory queues.
type queued struct {
	op  Operation
	seq uint64
}

// Queue is the FIFO pending-operation queue. All methods are safe for
// concurrent use; none of them block on I/O except through the optional
// durable store, whose writes are local and bounded.
type Queue struct {
	mu       sync.Mutex
	items    []queued
	draining bool

	// store, when set, persists every enqueue and removal so the
	// queue survives process restarts.
	store *Store
}

// New creates an empty in-memory queue.
func New() *Queue {
	return &Queue{}
}

// NewDurable creates a queue backed by the given store, loading any
// operations persisted by a previous process in their original order.
func NewDurable(store *Store) (*Queue, error) {
	persisted, err := store.Load()
	if err != nil {
		return nil, fmt.Errorf("load pending operations: %w", err)
	}

	q := &Queue{store: store}
	for _, p := range persisted {
		q.items = append(q.items, queued{op: p.Op, seq: p.Seq})
	}
	return q, nil
}

// Enqueue appends op to the queue, assigning an ID and timestamp if the
// caller left them zero, and persists it when a durable store is
// attached. Returns the operation as stored.
func (q *Queue) Enqueue(op Operation) Operation {
	if op.ID == "" {
		op.ID = uuid.New().String()
	}
	if op.Timestamp.IsZero() {
		op.Timestamp = time.Now().UTC()
	}
	if op.Data == nil {
		op.Data = map[string]any{}
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	var seq uint64
	if q.store != nil {
		seq = q.store.Append(op)
	}
	q.items = append(q.items, queued{op: op, seq: seq})
	return op
}

// Count returns the number of queued operations.
func (q *Queue) Count() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// IsEmpty reports whether the queue holds no operations.
func (q *Queue) IsEmpty() bool {
	return q.Count() == 0
}

// PeekAll returns a copy of the queued operations in FIFO order.
func (q *Queue) PeekAll() []Operation {
	q.mu.Lock()
	defer q.mu.Unlock()

	ops := make([]Operation, len(q.items))
	for i, it := range q.items {
		ops[i] = it.op
	}
	return ops
}

// Discard removes the operation with the given ID without replaying it.
// Used by the engine's replay-conflict policy to drop an operation that
// keeps failing. Returns true if the operation was found.
func (q *Queue) Discard(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.removeLocked(id)
}

// Drain replays queued operations in FIFO order.
//
// The pass covers a stable snapshot of the operations queued at the
// moment Drain is called; operations enqueued while the drain runs are
// preserved but not replayed until the next trigger. Exactly one drain
// runs at a time: a concurrent call returns ErrDrainInProgress.
//
// Each successfully replayed operation is removed from the queue (and
// the durable store) immediately, so a failure partway through loses no
// completed work. The first failure stops the pass with that operation
// and all subsequent ones left queued, in order.
//
// Returns the number of operations successfully replayed.
func (q *Queue) Drain(ctx context.Context, replay ReplayFunc) (int, error) {
	q.mu.Lock()
	if q.draining {
		q.mu.Unlock()
		return 0, ErrDrainInProgress
	}
	q.draining = true
	snapshot := make([]queued, len(q.items))
	copy(snapshot, q.items)
	q.mu.Unlock()

	defer func() {
		q.mu.Lock()
		q.draining = false
		q.mu.Unlock()
	}()

	replayed := 0
	for _, it := range snapshot {
		if err := ctx.Err(); err != nil {
			return replayed, err
		}
		if err := replay(ctx, it.op); err != nil {
			return replayed, fmt.Errorf("replay operation %s (%s): %w", it.op.ID, it.op.Type, err)
		}

		q.mu.Lock()
		q.removeLocked(it.op.ID)
		q.mu.Unlock()
		replayed++
	}
	return replayed, nil
}

// removeLocked removes the operation with the given ID from the
// in-memory list and the durable store. Must be called with mu held.
func (q *Queue) removeLocked(id string) bool {
	for i, it := range q.items {
		if it.op.ID != id {
			continue
		}
		if q.store != nil && it.seq != 0 {
			q.store.Delete(it.seq)
		}
		q.items = append(q.items[:i], q.items[i+1:]...)
		return true
	}
	return false
}
