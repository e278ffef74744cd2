// Package cache provides a small thread-safe TTL cache with background
// expiry, used for responses that are expensive to re-fetch, such as
// pet images.
package cache

import (
	"fmt"
	"sync"
	"time"

	"github.com/c360/collarkit/errors"
)

type entry[V any] struct {
	value     V
	expiresAt time.Time
}

func (e *entry[V]) expired(now time.Time) bool {
	return now.After(e.expiresAt)
}

// Option configures a cache.
type Option[V any] func(*TTL[V])

// WithEvictCallback invokes fn for entries removed by expiry, Delete,
// or Clear. Called outside the cache lock.
func WithEvictCallback[V any](fn func(key string, value V)) Option[V] {
	return func(c *TTL[V]) {
		c.evictFn = fn
	}
}

// TTL is a thread-safe cache whose entries expire after a fixed
// duration. A background goroutine sweeps expired entries; Close stops
// it.
type TTL[V any] struct {
	mu    sync.RWMutex
	ttl   time.Duration
	items map[string]*entry[V]

	evictFn func(string, V)

	shutdown     chan struct{}
	shutdownOnce sync.Once
	done         chan struct{}
}

// New creates a TTL cache and starts its cleanup goroutine.
func New[V any](ttl, cleanupInterval time.Duration, opts ...Option[V]) (*TTL[V], error) {
	if ttl <= 0 {
		return nil, errors.WrapInvalid(
			fmt.Errorf("ttl must be positive, got %v", ttl),
			"cache", "New", "validate ttl")
	}
	if cleanupInterval <= 0 {
		cleanupInterval = ttl
	}

	c := &TTL[V]{
		ttl:      ttl,
		items:    make(map[string]*entry[V]),
		shutdown: make(chan struct{}),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}

	go c.cleanup(cleanupInterval)
	return c, nil
}

// Get retrieves a value by key. Expired entries count as misses and are
// removed on access.
func (c *TTL[V]) Get(key string) (V, bool) {
	c.mu.RLock()
	e, exists := c.items[key]
	c.mu.RUnlock()

	var zero V
	if !exists {
		return zero, false
	}

	if e.expired(time.Now()) {
		c.mu.Lock()
		// Recheck under the write lock; a concurrent Set may have
		// replaced the entry.
		if current, still := c.items[key]; still && current.expired(time.Now()) {
			delete(c.items, key)
			if c.evictFn != nil {
				defer c.evictFn(key, current.value)
			}
		}
		c.mu.Unlock()
		return zero, false
	}

	return e.value, true
}

// Set stores a value, resetting its expiry. Returns true when the key
// was not present.
func (c *TTL[V]) Set(key string, value V) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, exists := c.items[key]
	c.items[key] = &entry[V]{value: value, expiresAt: time.Now().Add(c.ttl)}
	return !exists
}

// Delete removes an entry. Returns true when something was removed.
func (c *TTL[V]) Delete(key string) bool {
	c.mu.Lock()
	e, exists := c.items[key]
	if exists {
		delete(c.items, key)
	}
	c.mu.Unlock()

	if exists && c.evictFn != nil {
		c.evictFn(key, e.value)
	}
	return exists
}

// Clear removes all entries.
func (c *TTL[V]) Clear() {
	c.mu.Lock()
	old := c.items
	c.items = make(map[string]*entry[V])
	c.mu.Unlock()

	if c.evictFn != nil {
		for key, e := range old {
			c.evictFn(key, e.value)
		}
	}
}

// Size returns the number of entries, including not yet swept expired
// ones.
func (c *TTL[V]) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// Close stops the cleanup goroutine. Safe to call more than once.
func (c *TTL[V]) Close() error {
	c.shutdownOnce.Do(func() {
		close(c.shutdown)
	})

	select {
	case <-c.done:
		return nil
	case <-time.After(5 * time.Second):
		return fmt.Errorf("timeout waiting for cleanup goroutine to finish")
	}
}

func (c *TTL[V]) cleanup(interval time.Duration) {
	defer close(c.done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.shutdown:
			return
		case <-ticker.C:
			c.removeExpired()
		}
	}
}

func (c *TTL[V]) removeExpired() {
	now := time.Now()
	var evicted []*entry[V]
	var keys []string

	c.mu.Lock()
	for key, e := range c.items {
		if e.expired(now) {
			evicted = append(evicted, e)
			keys = append(keys, key)
			delete(c.items, key)
		}
	}
	c.mu.Unlock()

	// Callbacks run outside the lock.
	if c.evictFn != nil {
		for i, e := range evicted {
			c.evictFn(keys[i], e.value)
		}
	}
}
