// ABOUTME: TTL cache for suppressing redelivered channel messages.
// ABOUTME: Messaging platforms redeliver on slow acks; each turn runs at most once.

package dedupe

import (
	"container/list"
	"sync"
	"time"
)

// seenEntry pairs a key's arrival time with its position in arrival order.
type seenEntry struct {
	at      time.Time
	element *list.Element
}

// Cache tracks recently seen message keys so redelivered turns can be
// dropped. Entries expire after a TTL and the cache is size-bounded, with
// the oldest key evicted first. Safe for concurrent use.
type Cache struct {
	mu      sync.Mutex
	seen    map[string]*seenEntry
	order   *list.List // arrival order, oldest at front
	ttl     time.Duration
	maxSize int
	done    chan struct{}
	closed  bool
}

// New creates a cache. A background goroutine sweeps expired entries.
func New(ttl time.Duration, maxSize int) *Cache {
	c := &Cache{
		seen:    make(map[string]*seenEntry),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		done:    make(chan struct{}),
	}
	go c.sweep()
	return c
}

// Seen atomically checks whether key was already recorded and records it if
// not. It reports true for a duplicate. The single lock avoids the
// check-then-mark race of separate calls.
func (c *Cache) Seen(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if entry, ok := c.seen[key]; ok && time.Since(entry.at) < c.ttl {
		return true
	}
	c.record(key)
	return false
}

// record inserts or refreshes key. Must be called with mu held.
func (c *Cache) record(key string) {
	now := time.Now()

	if entry, ok := c.seen[key]; ok {
		entry.at = now
		c.order.MoveToBack(entry.element)
		return
	}

	if len(c.seen) >= c.maxSize {
		c.evictOldest()
	}

	elem := c.order.PushBack(key)
	c.seen[key] = &seenEntry{at: now, element: elem}
}

// evictOldest drops the front of the arrival list. Must be called with mu
// held.
func (c *Cache) evictOldest() {
	front := c.order.Front()
	if front == nil {
		return
	}
	key, _ := front.Value.(string)
	c.order.Remove(front)
	delete(c.seen, key)
}

func (c *Cache) sweep() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.expire()
		case <-c.done:
			return
		}
	}
}

func (c *Cache) expire() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	for key, entry := range c.seen {
		if now.Sub(entry.at) > c.ttl {
			c.order.Remove(entry.element)
			delete(c.seen, key)
		}
	}
}

// Close stops the sweep goroutine. Safe to call multiple times.
func (c *Cache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		close(c.done)
		c.closed = true
	}
}
