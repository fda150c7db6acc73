// Rallypoint - Team Engagement & Events Platform
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/rallypoint

package queue

import "time"

// Record is the flat, serializable form of an Operation. The durable
// store persists records as JSON; the shape and field names are part of
// the on-disk contract and must round-trip exactly.
type Record struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	Data      map[string]any `json:"data"`
	Timestamp time.Time      `json:"timestamp"`
}

// Record returns the flat form of the operation.
func (op Operation) Record() Record {
	return Record{
		ID:        op.ID,
		Type:      string(op.Type),
		Data:      op.Data,
		Timestamp: op.Timestamp,
	}
}

// Operation reconstructs the operation from its flat form.
func (r Record) Operation() Operation {
	return Operation{
		ID:        r.ID,
		Type:      OpType(r.Type),
		Data:      r.Data,
		Timestamp: r.Timestamp,
	}
}

// ToRecords returns the queued operations as flat records in FIFO
// order.
func (q *Queue) ToRecords() []Record {
	ops := q.PeekAll()
	records := make([]Record, len(ops))
	for i, op := range ops {
		records[i] = op.Record()
	}
	return records
}

// FromRecords builds an in-memory queue holding the given records in
// order. The round-trip FromRecords(q.ToRecords()) reproduces the queue
// exactly: same ids, types, data, and timestamps, in the same order.
func FromRecords(records []Record) *Queue {
	q := New()
	for _, r := range records {
		q.mu.Lock()
		q.items = append(q.items, queued{op: r.Operation()})
		q.mu.Unlock()
	}
	return q
}
