// Rallypoint - Team Engagement & Events Platform
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/rallypoint

package remote

import (
	"context"
	"errors"
	"fmt"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/tomtom215/rallypoint/internal/logging"
	"github.com/tomtom215/rallypoint/internal/metrics"
)

// BreakerStore wraps a Store with a circuit breaker so a dead gateway
// fails fast instead of burning a request timeout per call. An open
// circuit classifies exactly like any other remote failure: the caller
// falls back to cache or queues the write.
//
// The breaker uses real time for its interval and timeout; tests
// exercise the wrapped store directly.
type BreakerStore struct {
	inner Store
	cb    *gobreaker.CircuitBreaker[any]
}

// NewBreakerStore wraps inner with a circuit breaker. The breaker opens
// after a 60% failure rate over at least 10 requests, waits 30 seconds
// before probing, and allows 3 concurrent probes while half-open.
func NewBreakerStore(inner Store) *BreakerStore {
	const name = "document-gateway"
	metrics.CircuitBreakerState.WithLabelValues(name).Set(0)

	cb := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        name,
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,

		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < 10 {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= 0.6
		},

		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Info().
				Str("breaker", name).
				Str("from", stateToString(from)).
				Str("to", stateToString(to)).
				Msg("circuit breaker state transition")
			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateToFloat(to))
		},
	})

	return &BreakerStore{inner: inner, cb: cb}
}

func (b *BreakerStore) GetDocument(ctx context.Context, collection, id string) (*Document, error) {
	v, err := execute(b, "get_document", func() (any, error) {
		return b.inner.GetDocument(ctx, collection, id)
	})
	if err != nil {
		return nil, err
	}
	doc, _ := v.(*Document)
	return doc, nil
}

func (b *BreakerStore) SetDocument(ctx context.Context, collection, id string, fields map[string]any) error {
	_, err := execute(b, "set_document", func() (any, error) {
		return nil, b.inner.SetDocument(ctx, collection, id, fields)
	})
	return err
}

func (b *BreakerStore) UpdateDocument(ctx context.Context, collection, id string, patch map[string]any) error {
	_, err := execute(b, "update_document", func() (any, error) {
		return nil, b.inner.UpdateDocument(ctx, collection, id, patch)
	})
	return err
}

func (b *BreakerStore) QueryCollection(ctx context.Context, q Query) ([]Document, error) {
	v, err := execute(b, "query_collection", func() (any, error) {
		return b.inner.QueryCollection(ctx, q)
	})
	if err != nil {
		return nil, err
	}
	docs, _ := v.([]Document)
	return docs, nil
}

func (b *BreakerStore) SubscribeToQuery(ctx context.Context, q Query) (QuerySubscription, error) {
	v, err := execute(b, "subscribe_query", func() (any, error) {
		return b.inner.SubscribeToQuery(ctx, q)
	})
	if err != nil {
		return nil, err
	}
	sub, _ := v.(QuerySubscription)
	return sub, nil
}

func (b *BreakerStore) SubscribeToDocument(ctx context.Context, collection, id string) (DocumentSubscription, error) {
	v, err := execute(b, "subscribe_document", func() (any, error) {
		return b.inner.SubscribeToDocument(ctx, collection, id)
	})
	if err != nil {
		return nil, err
	}
	sub, _ := v.(DocumentSubscription)
	return sub, nil
}

// execute runs one call through the breaker, recording latency and
// failure metrics per operation.
func execute(b *BreakerStore, operation string, fn func() (any, error)) (any, error) {
	start := time.Now()
	v, err := b.cb.Execute(fn)
	metrics.RemoteRequestDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.RemoteFailures.WithLabelValues(operation).Inc()
		// Errors minted by the breaker itself never touched the
		// gateway, so they lack its unavailability marker. An open or
		// saturated circuit is an outage, not a rejection of the
		// operation: replays must preserve the queued write.
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			err = fmt.Errorf("gateway %s short-circuited: %w: %w", operation, err, ErrUnavailable)
		}
	}
	return v, err
}

func stateToString(state gobreaker.State) string {
	switch state {
	case gobreaker.StateClosed:
		return "closed"
	case gobreaker.StateOpen:
		return "open"
	case gobreaker.StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

func stateToFloat(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateOpen:
		return 1
	case gobreaker.StateHalfOpen:
		return 2
	default:
		return -1
	}
}
