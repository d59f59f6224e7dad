package memory

import (
	"container/list"
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/superfetch/superfetch/internal/domain/cache"
)

// eventBuffer is the per-subscriber channel capacity. Events are
// advisory notifications; a slow subscriber drops events instead of
// blocking the cache.
const eventBuffer = 16

// MemoryContentCache implements outbound.ContentCache with an LRU list
// bounded by a maximum entry count. Expired entries are purged lazily
// on access and periodically by a background sweeper. Every mutation is
// fanned out to subscribers.
type MemoryContentCache struct {
	items map[cache.Key]*list.Element
	order *list.List // front is most recently used
	max   int
	mu    sync.Mutex

	subs    map[int]chan cache.Event
	nextSub int

	stopChan      chan struct{}
	wg            sync.WaitGroup
	once          sync.Once
	sweepInterval time.Duration
}

// NewContentCache creates a content cache with the default sweep
// interval.
func NewContentCache(maxEntries int) *MemoryContentCache {
	return NewContentCacheWithConfig(maxEntries, DefaultSweepInterval)
}

// NewContentCacheWithConfig creates a content cache with a custom sweep
// interval.
func NewContentCacheWithConfig(maxEntries int, sweepInterval time.Duration) *MemoryContentCache {
	if maxEntries <= 0 {
		maxEntries = cache.DefaultMaxEntries
	}
	return &MemoryContentCache{
		items:         make(map[cache.Key]*list.Element),
		order:         list.New(),
		max:           maxEntries,
		subs:          make(map[int]chan cache.Event),
		stopChan:      make(chan struct{}),
		sweepInterval: sweepInterval,
	}
}

// StartCleanup starts the background sweeper goroutine.
// It stops when ctx is cancelled or Stop() is called.
func (c *MemoryContentCache) StartCleanup(ctx context.Context) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ticker := time.NewTicker(c.sweepInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-c.stopChan:
				return
			case <-ticker.C:
				c.sweep()
			}
		}
	}()
}

// sweep removes every expired entry.
func (c *MemoryContentCache) sweep() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now().UTC()
	removed := 0
	for key, elem := range c.items {
		if expired(elem.Value.(*cache.Entry), now) {
			c.deleteLocked(key, elem)
			removed++
		}
	}
	if removed > 0 {
		slog.Debug("content cache sweep completed",
			"removed_entries", removed,
			"remaining_entries", len(c.items))
	}
}

// Stop stops the background sweeper goroutine and waits for it to exit.
// Safe to call multiple times.
func (c *MemoryContentCache) Stop() {
	c.once.Do(func() {
		close(c.stopChan)
	})
	c.wg.Wait()
}

// Get returns the live entry for key and marks it most recently used.
// An expired entry is purged on access and reported as a miss.
func (c *MemoryContentCache) Get(key cache.Key) (*cache.Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[key]
	if !ok {
		return nil, false
	}
	entry := elem.Value.(*cache.Entry)
	if expired(entry, time.Now().UTC()) {
		c.deleteLocked(key, elem)
		return nil, false
	}
	c.order.MoveToFront(elem)
	return entry, true
}

// Set inserts or overwrites the entry and marks it most recently used.
// When the cache is full the least recently used entry is evicted
// first.
func (c *MemoryContentCache) Set(entry *cache.Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[entry.Key]; ok {
		elem.Value = entry
		c.order.MoveToFront(elem)
		c.emitLocked(cache.Event{Type: cache.EventUpdated, Key: entry.Key})
		return
	}

	for len(c.items) >= c.max {
		back := c.order.Back()
		if back == nil {
			break
		}
		c.deleteLocked(back.Value.(*cache.Entry).Key, back)
	}

	c.items[entry.Key] = c.order.PushFront(entry)
	c.emitLocked(cache.Event{Type: cache.EventInserted, Key: entry.Key})
}

// Remove deletes the entry for key, if present.
func (c *MemoryContentCache) Remove(key cache.Key) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[key]
	if !ok {
		return false
	}
	c.deleteLocked(key, elem)
	return true
}

// Size returns the number of stored entries, including any expired
// entries the sweeper has not reached yet.
func (c *MemoryContentCache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Subscribe registers an event channel. The cancel function removes the
// subscription and closes the channel; it is safe to call multiple
// times.
func (c *MemoryContentCache) Subscribe() (<-chan cache.Event, func()) {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := c.nextSub
	c.nextSub++
	ch := make(chan cache.Event, eventBuffer)
	c.subs[id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.subs, id)
			c.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

// deleteLocked removes the element and emits a deleted event.
// Callers must hold c.mu.
func (c *MemoryContentCache) deleteLocked(key cache.Key, elem *list.Element) {
	c.order.Remove(elem)
	delete(c.items, key)
	c.emitLocked(cache.Event{Type: cache.EventDeleted, Key: key})
}

// emitLocked fans the event out to all subscribers without blocking.
// Callers must hold c.mu.
func (c *MemoryContentCache) emitLocked(ev cache.Event) {
	for _, ch := range c.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

func expired(entry *cache.Entry, now time.Time) bool {
	return !entry.ExpiresAt.IsZero() && !now.Before(entry.ExpiresAt)
}
