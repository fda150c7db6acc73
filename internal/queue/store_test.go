// Rallypoint - Team Engagement & Events Platform
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/rallypoint

package queue

import (
	"context"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := OpenStore(StoreConfig{Path: t.TempDir(), SyncWrites: false})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStoreAppendLoadOrder(t *testing.T) {
	s := openTestStore(t)

	ids := []string{"op1", "op2", "op3"}
	for _, id := range ids {
		if seq := s.Append(testOp(id)); seq == 0 {
			t.Fatalf("append %s returned seq 0", id)
		}
	}

	loaded, err := s.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(loaded) != len(ids) {
		t.Fatalf("expected %d operations, got %d", len(ids), len(loaded))
	}
	for i, id := range ids {
		if loaded[i].Op.ID != id {
			t.Errorf("position %d: expected %s, got %s", i, id, loaded[i].Op.ID)
		}
	}
}

func TestStoreDelete(t *testing.T) {
	s := openTestStore(t)

	seq1 := s.Append(testOp("op1"))
	s.Append(testOp("op2"))

	s.Delete(seq1)

	loaded, err := s.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(loaded) != 1 || loaded[0].Op.ID != "op2" {
		t.Errorf("expected only op2 after delete, got %v", loaded)
	}
}

func TestStoreSurvivesReopen(t *testing.T) {
	dir := t.TempDir()

	s, err := OpenStore(StoreConfig{Path: dir, SyncWrites: true})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	s.Append(testOp("op1"))
	s.Append(testOp("op2"))
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened, err := OpenStore(StoreConfig{Path: dir, SyncWrites: true})
	if err != nil {
		t.Fatalf("reopen store: %v", err)
	}
	defer reopened.Close()

	q, err := NewDurable(reopened)
	if err != nil {
		t.Fatalf("durable queue: %v", err)
	}
	ops := q.PeekAll()
	if len(ops) != 2 || ops[0].ID != "op1" || ops[1].ID != "op2" {
		t.Errorf("expected [op1 op2] after restart, got %v", ops)
	}

	// New appends continue the sequence: order is preserved across
	// the restart boundary.
	q.Enqueue(testOp("op3"))
	loaded, err := reopened.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(loaded) != 3 || loaded[2].Op.ID != "op3" {
		t.Errorf("expected op3 last, got %v", loaded)
	}
}

func TestStoreSkipsCorruptRecord(t *testing.T) {
	s := openTestStore(t)

	s.Append(testOp("op1"))

	// Plant a corrupt record between two valid ones.
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(seqKey(s.seq.Add(1))), []byte("{not json"))
	})
	if err != nil {
		t.Fatalf("plant corrupt record: %v", err)
	}

	s.Append(testOp("op2"))

	loaded, err := s.Load()
	if err != nil {
		t.Fatalf("load must not fail on corrupt record: %v", err)
	}
	if len(loaded) != 2 || loaded[0].Op.ID != "op1" || loaded[1].Op.ID != "op2" {
		t.Errorf("expected corrupt record skipped, got %v", loaded)
	}
}

func TestDurableQueueDrainRemovesPersisted(t *testing.T) {
	s := openTestStore(t)
	q, err := NewDurable(s)
	if err != nil {
		t.Fatalf("durable queue: %v", err)
	}

	q.Enqueue(testOp("op1"))
	q.Enqueue(testOp("op2"))

	n, err := q.Drain(context.Background(), func(_ context.Context, _ Operation) error {
		return nil
	})
	if err != nil || n != 2 {
		t.Fatalf("drain: n=%d err=%v", n, err)
	}

	loaded, err := s.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(loaded) != 0 {
		t.Errorf("expected no persisted records after drain, got %d", len(loaded))
	}
}

func TestStoreRoundTripPreservesTimestamp(t *testing.T) {
	s := openTestStore(t)

	ts := time.Date(2026, 8, 15, 7, 45, 30, 500000000, time.UTC)
	op := Operation{
		ID:        "op-ts",
		Type:      OpAddComment,
		Data:      map[string]any{"postId": "post1", "content": "nice"},
		Timestamp: ts,
	}
	s.Append(op)

	loaded, err := s.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(loaded) != 1 {
		t.Fatalf("expected 1 operation, got %d", len(loaded))
	}
	if !loaded[0].Op.Timestamp.Equal(ts) {
		t.Errorf("timestamp %v != %v", loaded[0].Op.Timestamp, ts)
	}
	if loaded[0].Op.Data["content"] != "nice" {
		t.Errorf("data not preserved: %v", loaded[0].Op.Data)
	}
}
