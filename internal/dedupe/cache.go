// ABOUTME: Bounded TTL cache for event-id deduplication
// ABOUTME: Guarantees the same event id spawns exactly one unit of work

package dedupe

import (
	"container/list"
	"sync"
	"time"
)

// entry stores the timestamp and list element for a cached event id.
type entry struct {
	seenAt  time.Time
	element *list.Element
}

// Cache tracks recently seen event ids. Sync loops can redeliver events
// across reconnects and gappy syncs; the cache makes dispatch idempotent.
// A doubly-linked list maintains insertion order for O(1) eviction.
type Cache struct {
	mu      sync.Mutex
	seen    map[string]*entry
	order   *list.List
	ttl     time.Duration
	maxSize int
	done    chan struct{}
	closed  bool
}

// New creates an event-id cache with the given TTL and maximum size.
// A background goroutine periodically drops expired ids.
func New(ttl time.Duration, maxSize int) *Cache {
	c := &Cache{
		seen:    make(map[string]*entry),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		done:    make(chan struct{}),
	}
	go c.cleanupLoop()
	return c
}

// Seen atomically checks whether the event id was already dispatched and
// records it if not. Returns true for duplicates. Check and mark are one
// operation so two concurrent deliveries of the same id cannot both pass.
func (c *Cache) Seen(eventID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.seen[eventID]; ok && time.Since(e.seenAt) < c.ttl {
		return true
	}

	now := time.Now()
	if e, exists := c.seen[eventID]; exists {
		// Expired entry being refreshed.
		e.seenAt = now
		c.order.MoveToBack(e.element)
		return false
	}

	if len(c.seen) >= c.maxSize {
		c.evictOldest()
	}

	elem := c.order.PushBack(eventID)
	c.seen[eventID] = &entry{seenAt: now, element: elem}
	return false
}

// evictOldest removes the oldest id. Must be called with mu held.
func (c *Cache) evictOldest() {
	front := c.order.Front()
	if front == nil {
		return
	}
	eventID, _ := front.Value.(string)
	c.order.Remove(front)
	delete(c.seen, eventID)
}

// cleanupLoop periodically removes expired ids until Close.
func (c *Cache) cleanupLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.removeExpired()
		case <-c.done:
			return
		}
	}
}

// removeExpired drops every id past its TTL.
func (c *Cache) removeExpired() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	for eventID, e := range c.seen {
		if now.Sub(e.seenAt) > c.ttl {
			c.order.Remove(e.element)
			delete(c.seen, eventID)
		}
	}
}

// Close stops the cleanup goroutine. Safe to call multiple times.
func (c *Cache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		close(c.done)
		c.closed = true
	}
}
