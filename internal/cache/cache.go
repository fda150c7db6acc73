// Rallypoint - Team Engagement & Events Platform
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/rallypoint

package cache

import (
	"reflect"
	"sync"
	"sync/atomic"

	"github.com/tomtom215/rallypoint/internal/metrics"
	"github.com/tomtom215/rallypoint/internal/models"
)

// Cache is the process-wide local cache backing offline reads and
// optimistic writes. Entries are unbounded and never expire; they live
// until explicitly removed, cleared, or the process exits.
//
// Alongside the key/value map the cache maintains a coherence index:
// entity id -> set of keys whose stored value contains a copy of that
// entity. Patch uses the index to update every copy of an entity under
// a single write-lock acquisition, so readers never observe some copies
// mutated and others not.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]any

	// byEntity maps entity id -> keys containing a copy of it.
	// byKey is the reverse mapping, used to unindex a key on overwrite.
	byEntity map[string]map[string]struct{}
	byKey    map[string]map[string]struct{}

	hits   atomic.Int64
	misses atomic.Int64
}

// Stats is a point-in-time snapshot of cache counters.
type Stats struct {
	Hits   int64
	Misses int64
	Keys   int
}

// New creates an empty cache.
func New() *Cache {
	return &Cache{
		entries:  make(map[string]any),
		byEntity: make(map[string]map[string]struct{}),
		byKey:    make(map[string]map[string]struct{}),
	}
}

// Set stores value under key, overwriting any previous entry.
// The stored value is scanned for domain entities (a single entity or a
// slice of entities) to keep the coherence index current.
func (c *Cache) Set(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.unindexLocked(key)
	c.entries[key] = value
	c.indexLocked(key, value)
	metrics.CacheKeys.Set(float64(len(c.entries)))
}

// Get retrieves the value stored under key as type T. A missing key or
// a stored value of an incompatible type both return the zero value and
// false; a caller can never observe a coerced or corrupted value.
func Get[T any](c *Cache, key string) (T, bool) {
	c.mu.RLock()
	v, ok := c.entries[key]
	c.mu.RUnlock()

	var zero T
	if !ok {
		c.misses.Add(1)
		metrics.CacheMisses.Inc()
		return zero, false
	}
	t, ok := v.(T)
	if !ok {
		c.misses.Add(1)
		metrics.CacheMisses.Inc()
		return zero, false
	}
	c.hits.Add(1)
	metrics.CacheHits.Inc()
	return t, true
}

// Update atomically replaces the value under key. The fn receives the
// current typed value (zero value and false if the key is absent or
// holds another type) and returns the replacement, which is stored and
// re-indexed under the same write-lock acquisition. Concurrent updates
// of one key serialize; neither loses the other's change.
func Update[T any](c *Cache, key string, fn func(current T, ok bool) T) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cur, ok := c.entries[key].(T)
	next := fn(cur, ok)
	c.unindexLocked(key)
	c.entries[key] = next
	c.indexLocked(key, next)
	metrics.CacheKeys.Set(float64(len(c.entries)))
}

// Remove deletes the entry under key. No-op if the key is absent.
func (c *Cache) Remove(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.unindexLocked(key)
	delete(c.entries, key)
	metrics.CacheKeys.Set(float64(len(c.entries)))
}

// Clear removes all entries and resets the coherence index.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[string]any)
	c.byEntity = make(map[string]map[string]struct{})
	c.byKey = make(map[string]map[string]struct{})
	metrics.CacheKeys.Set(0)
}

// Len returns the number of cached keys.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Keys returns all cached keys in unspecified order.
func (c *Cache) Keys() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	keys := make([]string, 0, len(c.entries))
	for k := range c.entries {
		keys = append(keys, k)
	}
	return keys
}

// KeysForEntity returns the cache keys whose stored value contains a
// copy of the given entity.
func (c *Cache) KeysForEntity(entityID string) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	set := c.byEntity[entityID]
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	return keys
}

// Stats returns a snapshot of hit/miss counters and key count.
func (c *Cache) Stats() Stats {
	c.mu.RLock()
	keys := len(c.entries)
	c.mu.RUnlock()

	return Stats{
		Hits:   c.hits.Load(),
		Misses: c.misses.Load(),
		Keys:   keys,
	}
}

// Patch applies a field-level mutation to every cached copy of the
// entity identified by entityID. The apply function receives the
// current copy and returns the mutated one; it runs for each copy under
// the cache's write lock, so all copies change atomically with respect
// to concurrent readers.
//
// Slices are patched copy-on-write: readers holding a slice returned by
// an earlier Get keep their unmutated snapshot.
//
// Returns the number of copies patched.
func (c *Cache) Patch(entityID string, apply func(models.Entity) models.Entity) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	patched := 0
	for key := range c.byEntity[entityID] {
		value, ok := c.entries[key]
		if !ok {
			continue
		}

		if ent, ok := value.(models.Entity); ok && ent.EntityID() == entityID {
			c.entries[key] = apply(ent)
			patched++
			continue
		}

		rv := reflect.ValueOf(value)
		if rv.Kind() != reflect.Slice {
			continue
		}
		out := reflect.MakeSlice(rv.Type(), rv.Len(), rv.Len())
		reflect.Copy(out, rv)
		changed := false
		for i := 0; i < out.Len(); i++ {
			ent, ok := out.Index(i).Interface().(models.Entity)
			if !ok || ent.EntityID() != entityID {
				continue
			}
			next := apply(ent)
			nv := reflect.ValueOf(next)
			if !nv.Type().AssignableTo(out.Index(i).Type()) {
				continue
			}
			out.Index(i).Set(nv)
			changed = true
			patched++
		}
		if changed {
			c.entries[key] = out.Interface()
		}
	}
	return patched
}

// indexLocked records every entity contained in value as present under
// key. Must be called with mu held for writing.
func (c *Cache) indexLocked(key string, value any) {
	add := func(id string) {
		if id == "" {
			return
		}
		if c.byEntity[id] == nil {
			c.byEntity[id] = make(map[string]struct{})
		}
		c.byEntity[id][key] = struct{}{}
		if c.byKey[key] == nil {
			c.byKey[key] = make(map[string]struct{})
		}
		c.byKey[key][id] = struct{}{}
	}

	if ent, ok := value.(models.Entity); ok {
		add(ent.EntityID())
		return
	}

	rv := reflect.ValueOf(value)
	if !rv.IsValid() || rv.Kind() != reflect.Slice {
		return
	}
	for i := 0; i < rv.Len(); i++ {
		if ent, ok := rv.Index(i).Interface().(models.Entity); ok {
			add(ent.EntityID())
		}
	}
}

// unindexLocked drops the index records for key. Must be called with mu
// held for writing.
func (c *Cache) unindexLocked(key string) {
	for id := range c.byKey[key] {
		delete(c.byEntity[id], key)
		if len(c.byEntity[id]) == 0 {
			delete(c.byEntity, id)
		}
	}
	delete(c.byKey, key)
}
