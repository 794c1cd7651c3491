package cache

import (
	"container/list"
	"context"
	"sync"
	"time"
)

// MemoryStore is the in-memory tier with LRU eviction.
// A capacity of 0 means unbounded.
type MemoryStore struct {
	capacity int64 // Maximum size in bytes
	size     int64 // Current size in bytes

	// LRU implementation
	items    map[Fingerprint]*list.Element
	eviction *list.List

	mu sync.RWMutex

	stats Stats
}

// memoryEntry represents an entry in the memory cache
type memoryEntry struct {
	fp    Fingerprint
	entry Entry
	hits  int64
}

// NewMemoryStore creates a new memory cache with the specified capacity in bytes.
func NewMemoryStore(capacity int64) *MemoryStore {
	return &MemoryStore{
		capacity: capacity,
		items:    make(map[Fingerprint]*list.Element),
		eviction: list.New(),
		stats: Stats{
			Tier:     TierMemory,
			Capacity: capacity,
		},
	}
}

// Lookup retrieves an entry and marks it most recently used.
func (c *MemoryStore) Lookup(_ context.Context, fp Fingerprint) (Entry, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.stats.LastAccess = time.Now()

	elem, ok := c.items[fp]
	if !ok {
		c.stats.Misses++
		return Entry{}, false, nil
	}

	c.eviction.MoveToFront(elem)
	me := elem.Value.(*memoryEntry)
	me.hits++

	c.stats.Hits++
	return me.entry, true, nil
}

// Put stores an entry. Existing entries are left untouched.
func (c *MemoryStore) Put(_ context.Context, fp Fingerprint, e Entry) error {
	if len(e.Audio) == 0 {
		return ErrEmptyAudio
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[fp]; ok {
		c.eviction.MoveToFront(elem)
		return nil
	}

	size := e.Size()
	if c.capacity > 0 {
		if size > c.capacity {
			return ErrItemTooLarge
		}
		for c.size+size > c.capacity && c.eviction.Len() > 0 {
			c.evictOldest()
		}
	}

	if e.Created.IsZero() {
		e.Created = time.Now()
	}

	elem := c.eviction.PushFront(&memoryEntry{fp: fp, entry: e})
	c.items[fp] = elem
	c.size += size

	return nil
}

// Delete removes an entry from the cache.
func (c *MemoryStore) Delete(_ context.Context, fp Fingerprint) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[fp]; ok {
		c.removeElement(elem)
	}
	return nil
}

// Clear removes all entries from the cache.
func (c *MemoryStore) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items = make(map[Fingerprint]*list.Element)
	c.eviction.Init()
	c.size = 0
}

// Size returns the current cache size in bytes.
func (c *MemoryStore) Size() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.size
}

// Contains checks if a key exists in the cache without updating LRU.
func (c *MemoryStore) Contains(fp Fingerprint) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	_, ok := c.items[fp]
	return ok
}

// Stats returns cache statistics.
func (c *MemoryStore) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	stats := c.stats
	stats.Size = c.size
	stats.ItemCount = int64(len(c.items))
	stats.computeHitRate()

	return stats
}

// Keys returns all fingerprints in the cache, most recently used first.
func (c *MemoryStore) Keys() []Fingerprint {
	c.mu.RLock()
	defer c.mu.RUnlock()

	keys := make([]Fingerprint, 0, len(c.items))
	for elem := c.eviction.Front(); elem != nil; elem = elem.Next() {
		keys = append(keys, elem.Value.(*memoryEntry).fp)
	}
	return keys
}

// Prune removes entries older than the specified duration.
func (c *MemoryStore) Prune(maxAge time.Duration) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	cutoff := time.Now().Add(-maxAge)
	pruned := 0

	elem := c.eviction.Back()
	for elem != nil {
		prev := elem.Prev()
		if elem.Value.(*memoryEntry).entry.Created.Before(cutoff) {
			c.removeElement(elem)
			pruned++
		}
		elem = prev
	}

	return pruned
}

// Close is a no-op for the memory tier.
func (c *MemoryStore) Close() error {
	return nil
}

// evictOldest removes the least recently used item (must be called with lock held).
func (c *MemoryStore) evictOldest() {
	elem := c.eviction.Back()
	if elem != nil {
		c.removeElement(elem)
		c.stats.Evictions++
		c.stats.LastEvict = time.Now()
	}
}

// removeElement removes an element from the cache (must be called with lock held).
func (c *MemoryStore) removeElement(elem *list.Element) {
	c.eviction.Remove(elem)
	me := elem.Value.(*memoryEntry)
	delete(c.items, me.fp)
	c.size -= me.entry.Size()
}
