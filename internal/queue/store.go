// Rallypoint - Team Engagement & Events Platform
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/rallypoint

package queue

import (
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/tomtom215/rallypoint/internal/logging"
)

// opPrefix namespaces pending-operation keys inside the BadgerDB
// database. The sequence number is zero-padded so lexicographic key
// order equals enqueue order.
const opPrefix = "op:"

// StoreConfig holds durable-store settings.
type StoreConfig struct {
	// Path is the directory for BadgerDB storage. Should be on a
	// durable filesystem (not tmpfs).
	Path string

	// SyncWrites forces fsync on every write. Keep enabled: a lost
	// pending operation is a silently dropped user action.
	SyncWrites bool
}

// Store persists pending operations so the queue survives process
// restarts. Records are stored as JSON under monotonically increasing
// sequence keys; load order is enqueue order.
//
// Store write failures are logged, never surfaced: durability is
// best-effort by contract, and the in-memory queue remains correct for
// the life of the process either way.
type Store struct {
	db  *badger.DB
	seq atomic.Uint64
}

// PersistedOperation is one operation recovered from disk together
// with its sequence number.
type PersistedOperation struct {
	Op  Operation
	Seq uint64
}

// OpenStore opens (or creates) the durable store at cfg.Path.
func OpenStore(cfg StoreConfig) (*Store, error) {
	opts := badger.DefaultOptions(cfg.Path)
	opts.SyncWrites = cfg.SyncWrites
	// Badger's own logger is noisy; the queue logs what matters.
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open pending-operation store: %w", err)
	}

	s := &Store{db: db}
	logging.Info().
		Str("path", cfg.Path).
		Bool("sync_writes", cfg.SyncWrites).
		Msg("pending-operation store opened")
	return s, nil
}

// Append persists op under the next sequence number and returns that
// number. On failure the error is logged and 0 is returned; the
// operation stays queued in memory.
func (s *Store) Append(op Operation) uint64 {
	data, err := json.Marshal(op.Record())
	if err != nil {
		logging.Error().Err(err).Str("op_id", op.ID).Msg("marshal pending operation")
		return 0
	}

	seq := s.seq.Add(1)
	key := []byte(seqKey(seq))
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, data)
	})
	if err != nil {
		logging.Error().Err(err).Str("op_id", op.ID).Msg("persist pending operation")
		return 0
	}
	return seq
}

// Delete removes the record stored under seq. Failures are logged; a
// leftover record is re-deduplicated by ID on the next load.
func (s *Store) Delete(seq uint64) {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(seqKey(seq)))
	})
	if err != nil {
		logging.Error().Err(err).Uint64("seq", seq).Msg("delete persisted operation")
	}
}

// Load returns all persisted operations in enqueue order. A corrupt
// record is logged and skipped; it never prevents the rest of the queue
// from loading.
func (s *Store) Load() ([]PersistedOperation, error) {
	var out []PersistedOperation
	var maxSeq uint64

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(opPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.ValidForPrefix([]byte(opPrefix)); it.Next() {
			item := it.Item()
			key := string(item.Key())

			seq, err := seqFromKey(key)
			if err != nil {
				logging.Warn().Str("key", key).Msg("skipping malformed queue key")
				continue
			}
			if seq > maxSeq {
				maxSeq = seq
			}

			err = item.Value(func(val []byte) error {
				var r Record
				if err := json.Unmarshal(val, &r); err != nil {
					logging.Warn().Err(err).Str("key", key).Msg("skipping corrupt queue record")
					return nil
				}
				if r.ID == "" {
					logging.Warn().Str("key", key).Msg("skipping queue record without id")
					return nil
				}
				out = append(out, PersistedOperation{Op: r.Operation(), Seq: seq})
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan pending-operation store: %w", err)
	}

	s.seq.Store(maxSeq)

	// A record whose removal failed in a previous run could appear
	// twice after a crash between replay and delete; keep the first.
	seen := make(map[string]struct{}, len(out))
	deduped := out[:0]
	for _, p := range out {
		if _, dup := seen[p.Op.ID]; dup {
			s.Delete(p.Seq)
			continue
		}
		seen[p.Op.ID] = struct{}{}
		deduped = append(deduped, p)
	}

	if len(deduped) > 0 {
		logging.Info().Int("count", len(deduped)).Msg("recovered pending operations")
	}
	return deduped, nil
}

// Close releases the underlying database. Persisted records are kept.
func (s *Store) Close() error {
	return s.db.Close()
}

func seqKey(seq uint64) string {
	return fmt.Sprintf("%s%020d", opPrefix, seq)
}

func seqFromKey(key string) (uint64, error) {
	raw := strings.TrimPrefix(key, opPrefix)
	return strconv.ParseUint(raw, 10, 64)
}
