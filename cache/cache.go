// Copyright © by the glassdns Authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.
// SPDX-License-Identifier: Apache-2.0

// Package cache provides the TTL-bounded LRU used for resolved address sets.
package cache

import (
	"container/list"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

type entry struct {
	hostname  string
	addrs     []string
	expiresAt time.Time
}

// TTLCache is a bounded LRU where every entry expires a fixed duration
// after it was last written. The list runs MRU-first; eviction removes the
// tail. All access is serialized behind a single mutex.
type TTLCache struct {
	sync.Mutex
	log     *zap.Logger
	clock   clockwork.Clock
	ttl     time.Duration
	maxSize int
	lru     *list.List
	lookup  map[string]*list.Element
	hits    uint64
	misses  uint64
}

// Option configures a TTLCache.
type Option func(*TTLCache)

// WithClock substitutes the clock used for expiry decisions.
func WithClock(c clockwork.Clock) Option {
	return func(tc *TTLCache) { tc.clock = c }
}

// WithLogger sets the cache logger.
func WithLogger(l *zap.Logger) Option {
	return func(tc *TTLCache) { tc.log = l }
}

// New returns a TTLCache holding at most maxSize entries for at most ttl each.
func New(maxSize int, ttl time.Duration, opts ...Option) *TTLCache {
	if maxSize <= 0 {
		maxSize = 1
	}

	tc := &TTLCache{
		log:     zap.NewNop(),
		clock:   clockwork.NewRealClock(),
		ttl:     ttl,
		maxSize: maxSize,
		lru:     list.New(),
		lookup:  make(map[string]*list.Element),
	}
	for _, opt := range opts {
		opt(tc)
	}
	return tc
}

// TTL returns the per-entry lifetime.
func (tc *TTLCache) TTL() time.Duration {
	return tc.ttl
}

// Get returns the addresses for the hostname when present and unexpired,
// promoting the entry to most recently used. Expired entries encountered
// during the call are removed.
func (tc *TTLCache) Get(hostname string) ([]string, bool) {
	tc.Lock()
	defer tc.Unlock()

	tc.sweep()

	elem, found := tc.lookup[hostname]
	if !found {
		tc.misses++
		return nil, false
	}

	tc.lru.MoveToFront(elem)
	tc.hits++
	e := elem.Value.(*entry)
	return append([]string{}, e.addrs...), true
}

// Peek returns the stored addresses regardless of expiry, without touching
// the LRU order or the hit/miss counters.
func (tc *TTLCache) Peek(hostname string) ([]string, bool) {
	tc.Lock()
	defer tc.Unlock()

	if elem, found := tc.lookup[hostname]; found {
		e := elem.Value.(*entry)
		return append([]string{}, e.addrs...), true
	}
	return nil, false
}

// Put inserts or replaces the entry for the hostname and resets its expiry.
// When an insert would exceed the bound, the least recently used entry is
// evicted first.
func (tc *TTLCache) Put(hostname string, addrs []string) {
	tc.Lock()
	defer tc.Unlock()

	addrs = append([]string{}, addrs...)
	expires := tc.clock.Now().Add(tc.ttl)

	if elem, found := tc.lookup[hostname]; found {
		tc.lru.MoveToFront(elem)
		e := elem.Value.(*entry)
		e.addrs = addrs
		e.expiresAt = expires
		return
	}

	if tc.lru.Len() >= tc.maxSize {
		tc.evict()
	}

	tc.lookup[hostname] = tc.lru.PushFront(&entry{
		hostname:  hostname,
		addrs:     addrs,
		expiresAt: expires,
	})
}

// Remove deletes the entry for the hostname, if present.
func (tc *TTLCache) Remove(hostname string) {
	tc.Lock()
	defer tc.Unlock()

	if elem, found := tc.lookup[hostname]; found {
		tc.lru.Remove(elem)
		delete(tc.lookup, hostname)
	}
}

// Clear drops every entry and zeroes the hit/miss counters.
func (tc *TTLCache) Clear() {
	tc.Lock()
	defer tc.Unlock()

	tc.lru.Init()
	tc.lookup = make(map[string]*list.Element)
	tc.hits = 0
	tc.misses = 0
}

// Size returns the number of entries currently stored.
func (tc *TTLCache) Size() int {
	tc.Lock()
	defer tc.Unlock()

	return tc.lru.Len()
}

// HitRate returns hits / (hits + misses), or zero before any lookups.
func (tc *TTLCache) HitRate() float64 {
	tc.Lock()
	defer tc.Unlock()

	total := tc.hits + tc.misses
	if total == 0 {
		return 0
	}
	return float64(tc.hits) / float64(total)
}

// sweep removes every expired entry. Callers must hold the lock.
func (tc *TTLCache) sweep() {
	now := tc.clock.Now()

	var next *list.Element
	for elem := tc.lru.Front(); elem != nil; elem = next {
		next = elem.Next()

		if e := elem.Value.(*entry); !e.expiresAt.After(now) {
			tc.lru.Remove(elem)
			delete(tc.lookup, e.hostname)
			tc.log.Debug("expired cache entry removed", zap.String("hostname", e.hostname))
		}
	}
}

// evict removes the LRU tail. Callers must hold the lock.
func (tc *TTLCache) evict() {
	if tail := tc.lru.Back(); tail != nil {
		e := tail.Value.(*entry)
		tc.lru.Remove(tail)
		delete(tc.lookup, e.hostname)
	}
}
