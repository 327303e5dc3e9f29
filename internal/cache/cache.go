// Package cache memoises resolved filters by tree and value fingerprint.
package cache

import (
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/sync/singleflight"
)

const (
	DefaultSize   = 4096
	DefaultShards = 16
)

// Key identifies one resolution: the compiled tree and the canonical
// encoding of every leaf's typed values.
type Key struct {
	Tree        uint64
	Fingerprint string
}

func (k Key) String() string {
	return strconv.FormatUint(k.Tree, 10) + "\x00" + k.Fingerprint
}

type shard[V any] struct {
	mu  sync.Mutex
	lru *lru[V]
}

// Cache is a sharded LRU. Concurrent misses on one key compute once.
type Cache[V any] struct {
	shards []*shard[V]
	group  singleflight.Group

	hits   atomic.Uint64
	misses atomic.Uint64
}

// New creates a cache holding about size entries spread over shards.
func New[V any](size, shards int) *Cache[V] {
	if shards <= 0 {
		shards = DefaultShards
	}
	if size <= 0 {
		size = DefaultSize
	}
	perShard := size / shards
	if perShard < 1 {
		perShard = 1
	}
	c := &Cache[V]{shards: make([]*shard[V], shards)}
	for i := range c.shards {
		c.shards[i] = &shard[V]{lru: newLRU[V](perShard)}
	}
	return c
}

func (c *Cache[V]) shard(key Key) *shard[V] {
	h := xxhash.Sum64String(key.Fingerprint) ^ (key.Tree * 0x9E3779B97F4A7C15)
	return c.shards[h%uint64(len(c.shards))]
}

// Get returns a cached value.
func (c *Cache[V]) Get(key Key) (V, bool) {
	s := c.shard(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lru.get(key)
}

// GetOrCompute returns the cached value for key, computing and storing it on
// a miss. Errors are returned to every waiter and are not cached.
func (c *Cache[V]) GetOrCompute(key Key, compute func() (V, error)) (V, bool, error) {
	if v, ok := c.Get(key); ok {
		c.hits.Add(1)
		return v, true, nil
	}

	res, err, _ := c.group.Do(key.String(), func() (any, error) {
		if v, ok := c.Get(key); ok {
			return v, nil
		}
		c.misses.Add(1)
		v, err := compute()
		if err != nil {
			return nil, err
		}
		s := c.shard(key)
		s.mu.Lock()
		s.lru.add(key, v)
		s.mu.Unlock()
		return v, nil
	})
	if err != nil {
		var zero V
		return zero, false, err
	}
	return res.(V), false, nil
}

// Len counts entries over all shards.
func (c *Cache[V]) Len() int {
	n := 0
	for _, s := range c.shards {
		s.mu.Lock()
		n += s.lru.len()
		s.mu.Unlock()
	}
	return n
}

// Purge drops every entry.
func (c *Cache[V]) Purge() {
	for _, s := range c.shards {
		s.mu.Lock()
		s.lru.clear()
		s.mu.Unlock()
	}
}

// Stats returns hit and miss counters.
func (c *Cache[V]) Stats() (hits, misses uint64) {
	return c.hits.Load(), c.misses.Load()
}
