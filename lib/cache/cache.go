/*
 * Triggerr
 * Copyright (C) 2025  Triggerr, Inc.
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 */

// Package cache provides the key/value store with per-entry TTL and
// tag-based invalidation used by the aggregators. A missed Get never
// triggers a build here; request coalescing is the aggregator's concern.
package cache

import (
	"context"
	"sync"
	"time"

	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
)

// Forever means the entry does not expire unless invalidated.
const Forever time.Duration = 0

// Item is a cached value with its tag set and expiry.
type Item struct {
	// Key is the cache key.
	Key string
	// Value is the cached value. Callers own the concrete type.
	Value any
	// Tags allow group invalidation, e.g. all entries for one flight.
	Tags []string
	// Expires is the absolute expiry time; zero means Forever.
	Expires time.Time
}

// expired reports whether the item is past its expiry at now.
func (i *Item) expired(now time.Time) bool {
	return !i.Expires.IsZero() && !i.Expires.After(now)
}

// Cache is the store interface the aggregators consume.
type Cache interface {
	// Get returns the value for key, or a NotFound error on miss or expiry.
	Get(ctx context.Context, key string) (any, error)
	// Put stores value under key with the given TTL and tags, replacing any
	// existing entry.
	Put(ctx context.Context, key string, value any, ttl time.Duration, tags ...string) error
	// InvalidateByTag removes every entry carrying the tag and returns how
	// many were removed.
	InvalidateByTag(ctx context.Context, tag string) (int, error)
	// Delete removes a single entry if present.
	Delete(ctx context.Context, key string) error
}

// MemoryConfig configures a Memory cache.
type MemoryConfig struct {
	// Clock is optional and can be used to control time in tests.
	Clock clockwork.Clock
}

// CheckAndSetDefaults checks and sets defaults.
func (c *MemoryConfig) CheckAndSetDefaults() error {
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	return nil
}

// NewMemory returns an in-memory Cache.
func NewMemory(cfg MemoryConfig) (*Memory, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	return &Memory{
		cfg:     cfg,
		entries: make(map[string]*Item),
		tags:    make(map[string]map[string]struct{}),
	}, nil
}

// Memory is a mutex-guarded in-process cache. Expired entries are deleted
// lazily on read.
type Memory struct {
	cfg MemoryConfig

	mu      sync.RWMutex
	entries map[string]*Item
	// tags maps a tag to the set of keys carrying it.
	tags map[string]map[string]struct{}
}

// Get returns the value for key, or a NotFound error on miss or expiry.
func (m *Memory) Get(ctx context.Context, key string) (any, error) {
	now := m.cfg.Clock.Now()

	m.mu.RLock()
	item, ok := m.entries[key]
	m.mu.RUnlock()
	if !ok {
		return nil, trace.NotFound("key %q is not cached", key)
	}
	if item.expired(now) {
		m.mu.Lock()
		// re-check under the write lock, the entry may have been replaced
		if item, ok := m.entries[key]; ok && item.expired(now) {
			m.removeLocked(item)
		}
		m.mu.Unlock()
		return nil, trace.NotFound("key %q has expired", key)
	}
	return item.Value, nil
}

// Put stores value under key with the given TTL and tags.
func (m *Memory) Put(ctx context.Context, key string, value any, ttl time.Duration, tags ...string) error {
	if key == "" {
		return trace.BadParameter("missing cache key")
	}
	var expires time.Time
	if ttl != Forever {
		expires = m.cfg.Clock.Now().UTC().Add(ttl)
	}
	item := &Item{Key: key, Value: value, Tags: tags, Expires: expires}

	m.mu.Lock()
	defer m.mu.Unlock()
	if prev, ok := m.entries[key]; ok {
		m.removeLocked(prev)
	}
	m.entries[key] = item
	for _, tag := range tags {
		keys, ok := m.tags[tag]
		if !ok {
			keys = make(map[string]struct{})
			m.tags[tag] = keys
		}
		keys[key] = struct{}{}
	}
	return nil
}

// InvalidateByTag removes every entry carrying the tag.
func (m *Memory) InvalidateByTag(ctx context.Context, tag string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys, ok := m.tags[tag]
	if !ok {
		return 0, nil
	}
	var removed int
	for key := range keys {
		if item, ok := m.entries[key]; ok {
			m.removeLocked(item)
			removed++
		}
	}
	return removed, nil
}

// Delete removes a single entry if present.
func (m *Memory) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if item, ok := m.entries[key]; ok {
		m.removeLocked(item)
	}
	return nil
}

// Len returns the number of live entries, counting expired but not yet
// collected entries as dead.
func (m *Memory) Len() int {
	now := m.cfg.Clock.Now()
	m.mu.RLock()
	defer m.mu.RUnlock()
	var n int
	for _, item := range m.entries {
		if !item.expired(now) {
			n++
		}
	}
	return n
}

func (m *Memory) removeLocked(item *Item) {
	delete(m.entries, item.Key)
	for _, tag := range item.Tags {
		if keys, ok := m.tags[tag]; ok {
			delete(keys, item.Key)
			if len(keys) == 0 {
				delete(m.tags, tag)
			}
		}
	}
}
