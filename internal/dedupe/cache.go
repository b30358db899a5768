// ABOUTME: Thread-safe TTL and size bounded cache of recently delivered frame keys
// ABOUTME: Channels consult it to skip duplicate entity frames before dispatch

package dedupe

import (
	"container/list"
	"fmt"
	"sync"
	"time"
)

// FrameKey builds the cache key for an entity frame from its kind, id and a
// digest of the entity payload. Only byte-identical payloads share a key.
func FrameKey(kind string, id int64, digest uint64) string {
	return fmt.Sprintf("%s:%d:%016x", kind, id, digest)
}

type cacheEntry struct {
	seenAt  time.Time
	element *list.Element
}

// Cache tracks seen frame keys. The list keeps keys oldest first so eviction
// at capacity is O(1).
type Cache struct {
	mu      sync.Mutex
	seen    map[string]*cacheEntry
	order   *list.List
	ttl     time.Duration
	maxSize int
	now     func() time.Time
	done    chan struct{}
	closed  bool
}

// New creates a cache and starts its background sweeper. Call Close to stop it.
func New(ttl time.Duration, maxSize int) *Cache {
	if maxSize <= 0 {
		maxSize = 1
	}
	c := &Cache{
		seen:    make(map[string]*cacheEntry),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		now:     time.Now,
		done:    make(chan struct{}),
	}
	go c.sweep()
	return c
}

// Seen reports whether key was delivered within the TTL window and records
// it when it was not. The check and the mark happen under one lock.
func (c *Cache) Seen(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if entry, ok := c.seen[key]; ok {
		if now.Sub(entry.seenAt) < c.ttl {
			return true
		}
		entry.seenAt = now
		c.order.MoveToBack(entry.element)
		return false
	}

	if len(c.seen) >= c.maxSize {
		c.evictOldestLocked()
	}
	c.seen[key] = &cacheEntry{seenAt: now, element: c.order.PushBack(key)}
	return false
}

// Reset forgets every key. Channels call it after a refetch so a frame
// replayed after the refetch is applied on top of the fresh state.
func (c *Cache) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seen = make(map[string]*cacheEntry)
	c.order.Init()
}

// Len returns the number of remembered keys, expired ones included until swept.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.seen)
}

func (c *Cache) evictOldestLocked() {
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
			c.removeExpired()
		case <-c.done:
			return
		}
	}
}

func (c *Cache) removeExpired() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for e := c.order.Front(); e != nil; {
		next := e.Next()
		key, _ := e.Value.(string)
		if now.Sub(c.seen[key].seenAt) < c.ttl {
			// The list is ordered by last sighting, so the rest are fresh.
			break
		}
		c.order.Remove(e)
		delete(c.seen, key)
		e = next
	}
}

// Close stops the sweeper. It is safe to call more than once.
func (c *Cache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		close(c.done)
		c.closed = true
	}
}
