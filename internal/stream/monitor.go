// Rallypoint - Team Engagement & Events Platform
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/rallypoint

package stream

import (
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/goccy/go-json"

	"github.com/tomtom215/rallypoint/internal/logging"
	"github.com/tomtom215/rallypoint/internal/metrics"
	"github.com/tomtom215/rallypoint/internal/remote"
)

// ConnectionStatus is the connectivity state derived from snapshot
// metadata. It is a best-effort signal for the UI, not a link-layer
// truth: the remote store reports whether data came from its cache and
// whether local writes are still unacknowledged, and the monitor maps
// that onto three states.
type ConnectionStatus string

const (
	// StatusConnected: live data, no unacknowledged writes.
	StatusConnected ConnectionStatus = "connected"

	// StatusDegraded: reachable but with pending unacknowledged
	// writes, typically right after connectivity returns.
	StatusDegraded ConnectionStatus = "degraded"

	// StatusDisconnected: serving cached data only.
	StatusDisconnected ConnectionStatus = "disconnected"
)

// StatusTopic is the bus topic carrying StatusEvent payloads.
const StatusTopic = "connection.status"

// StatusEvent is the JSON payload published on StatusTopic for every
// status transition.
type StatusEvent struct {
	Status   ConnectionStatus `json:"status"`
	Previous ConnectionStatus `json:"previous"`
	At       time.Time        `json:"at"`
}

// statusBuffer is the per-subscriber channel depth. A subscriber that
// falls behind loses intermediate transitions, never the latest one.
const statusBuffer = 8

// DeriveStatus maps snapshot metadata onto a connection status.
// Cache-served data means the remote is unreachable; live data with
// unacknowledged writes means the link just came back and the backlog
// is still flushing.
func DeriveStatus(meta remote.Metadata) ConnectionStatus {
	switch {
	case meta.FromCache:
		return StatusDisconnected
	case meta.PendingWrites:
		return StatusDegraded
	default:
		return StatusConnected
	}
}

// Monitor tracks the current connection status and fans transitions
// out to subscribers and the event bus.
//
// The initial status is connected: reporting disconnected before the
// first snapshot arrives would flash an offline banner on every app
// start.
type Monitor struct {
	publisher message.Publisher

	mu      sync.Mutex
	current ConnectionStatus
	subs    map[int]chan ConnectionStatus
	nextID  int
	closed  bool
}

// NewMonitor creates a monitor. publisher may be nil, in which case
// transitions are only fanned out to direct subscribers.
func NewMonitor(publisher message.Publisher) *Monitor {
	metrics.ConnectionStatus.Set(statusToFloat(StatusConnected))
	return &Monitor{
		publisher: publisher,
		current:   StatusConnected,
		subs:      make(map[int]chan ConnectionStatus),
	}
}

// Report derives a status from snapshot metadata and records it.
func (m *Monitor) Report(meta remote.Metadata) {
	m.Transition(DeriveStatus(meta))
}

// Transition records a status, notifying subscribers and the bus only
// when it actually changed.
func (m *Monitor) Transition(status ConnectionStatus) {
	m.mu.Lock()
	if m.closed || status == m.current {
		m.mu.Unlock()
		return
	}
	previous := m.current
	m.current = status
	// Fan out under the lock: pushes never block, and holding the lock
	// keeps a concurrent unsubscribe from closing a channel mid-send.
	for _, ch := range m.subs {
		push(ch, status)
	}
	m.mu.Unlock()

	logging.Info().
		Str("from", string(previous)).
		Str("to", string(status)).
		Msg("connection status transition")
	metrics.ConnectionStatus.Set(statusToFloat(status))
	m.publish(previous, status)
}

// Current returns the latest recorded status.
func (m *Monitor) Current() ConnectionStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Subscribe returns a channel that receives the current status
// immediately and every transition after it. The returned cancel
// function detaches the subscriber and closes the channel.
func (m *Monitor) Subscribe() (<-chan ConnectionStatus, func()) {
	ch := make(chan ConnectionStatus, statusBuffer)

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	id := m.nextID
	m.nextID++
	m.subs[id] = ch
	ch <- m.current
	m.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			m.mu.Lock()
			if _, ok := m.subs[id]; ok {
				delete(m.subs, id)
				close(ch)
			}
			m.mu.Unlock()
		})
	}
	return ch, cancel
}

// Close detaches and closes all subscriber channels.
func (m *Monitor) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	subs := m.subs
	m.subs = make(map[int]chan ConnectionStatus)
	m.mu.Unlock()

	for _, ch := range subs {
		close(ch)
	}
}

func (m *Monitor) publish(previous, status ConnectionStatus) {
	if m.publisher == nil {
		return
	}
	payload, err := json.Marshal(StatusEvent{
		Status:   status,
		Previous: previous,
		At:       time.Now().UTC(),
	})
	if err != nil {
		return
	}
	msg := message.NewMessage(watermill.NewUUID(), payload)
	if err := m.publisher.Publish(StatusTopic, msg); err != nil {
		logging.Warn().Err(err).Msg("status event publish failed")
	}
}

// push delivers a status without blocking, dropping the oldest queued
// value when the subscriber has fallen behind.
func push(ch chan ConnectionStatus, status ConnectionStatus) {
	for {
		select {
		case ch <- status:
			return
		default:
			select {
			case <-ch:
			default:
			}
		}
	}
}

func statusToFloat(s ConnectionStatus) float64 {
	switch s {
	case StatusDegraded:
		return 1
	case StatusDisconnected:
		return 2
	default:
		return 0
	}
}
