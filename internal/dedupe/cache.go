// ABOUTME: Thread-safe TTL cache that suppresses repeated values per key.
// ABOUTME: Used by sessions to coalesce identical typing indicators within a short window.

package dedupe

import (
	"container/list"
	"sync"
	"time"
)

// maxCleanupInterval bounds how long expired entries linger in memory.
const maxCleanupInterval = time.Minute

// cacheEntry stores the last value, its timestamp and list element for a key.
type cacheEntry struct {
	value     string
	timestamp time.Time
	element   *list.Element
}

// Cache remembers the last value recorded for each key for ttl. It answers
// one question: is this value a change from what was recorded recently?
// Size is bounded; when full, the least recently recorded key is evicted.
// Uses a doubly-linked list to maintain recency order for O(1) eviction.
type Cache struct {
	mu      sync.RWMutex
	seen    map[string]*cacheEntry
	order   *list.List // keys, least recently recorded at front
	ttl     time.Duration
	maxSize int
	now     func() time.Time
	done    chan struct{}
	closed  bool
}

// New creates a cache with the specified TTL and maximum size.
// A background goroutine periodically cleans up expired entries.
func New(ttl time.Duration, maxSize int) *Cache {
	c := &Cache{
		seen:    make(map[string]*cacheEntry),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		now:     time.Now,
		done:    make(chan struct{}),
	}
	go c.cleanup()
	return c
}

// Changed atomically compares value with the unexpired value recorded for
// key. It returns false when they are equal, suppressing the repeat. Any
// other outcome records value with a fresh timestamp and returns true.
// A suppressed repeat does not extend the window.
func (c *Cache) Changed(key, value string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if entry, ok := c.seen[key]; ok && now.Sub(entry.timestamp) < c.ttl && entry.value == value {
		return false
	}

	c.recordLocked(key, value, now)
	return true
}

// last returns the unexpired value recorded for key.
func (c *Cache) last(key string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.seen[key]
	if !ok || c.now().Sub(entry.timestamp) >= c.ttl {
		return "", false
	}
	return entry.value, true
}

// Forget drops key so the next Changed call for it always passes.
func (c *Cache) Forget(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if entry, ok := c.seen[key]; ok {
		c.order.Remove(entry.element)
		delete(c.seen, key)
	}
}

// size returns the number of keys held, expired or not.
func (c *Cache) size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.seen)
}

// recordLocked stores value for key. Must be called with mu held.
func (c *Cache) recordLocked(key, value string, now time.Time) {
	// If key already exists, update it and move to back
	if entry, exists := c.seen[key]; exists {
		entry.value = value
		entry.timestamp = now
		c.order.MoveToBack(entry.element)
		return
	}

	// Evict oldest if at capacity
	if c.maxSize > 0 && len(c.seen) >= c.maxSize {
		c.evictOldest()
	}

	elem := c.order.PushBack(key)
	c.seen[key] = &cacheEntry{
		value:     value,
		timestamp: now,
		element:   elem,
	}
}

// evictOldest removes the least recently recorded entry.
// Must be called with mu held. O(1) operation using linked list.
func (c *Cache) evictOldest() {
	front := c.order.Front()
	if front == nil {
		return
	}

	key, _ := front.Value.(string)
	c.order.Remove(front)
	delete(c.seen, key)
}

// cleanup runs in a background goroutine, periodically removing expired entries.
func (c *Cache) cleanup() {
	interval := maxCleanupInterval
	if c.ttl > 0 && c.ttl < interval {
		interval = c.ttl
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.runCleanup()
		case <-c.done:
			return
		}
	}
}

// runCleanup removes all expired entries from the cache. Entries are in
// recency order, so the sweep stops at the first live one.
func (c *Cache) runCleanup() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for e := c.order.Front(); e != nil; {
		key, _ := e.Value.(string)
		entry := c.seen[key]
		if now.Sub(entry.timestamp) < c.ttl {
			return
		}
		next := e.Next()
		c.order.Remove(e)
		delete(c.seen, key)
		e = next
	}
}

// Close stops the background cleanup goroutine. It is safe to call multiple times.
func (c *Cache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		close(c.done)
		c.closed = true
	}
}
