// Package cache provides bounded in-process caches with LRU eviction and
// per-entry TTL. The service keeps four named caches (mappings, embeddings,
// search, fhir) in a Registry so admin endpoints can report and clear them
// uniformly.
package cache

import (
	"container/list"
	"sync"
	"time"
)

type entry struct {
	key       string
	value     interface{}
	expiresAt time.Time
}

// Cache is a thread-safe LRU cache with a fixed capacity and a fixed TTL
// applied to every entry. Expired entries are dropped lazily on access and
// by Sweep.
type Cache struct {
	name     string
	capacity int
	ttl      time.Duration

	mu    sync.Mutex
	ll    *list.List
	items map[string]*list.Element

	hits      uint64
	misses    uint64
	sets      uint64
	evictions uint64
}

// New creates a Cache with the given name, capacity and TTL. Capacity must
// be positive; a zero TTL means entries never expire.
func New(name string, capacity int, ttl time.Duration) *Cache {
	if capacity <= 0 {
		capacity = 1
	}
	return &Cache{
		name:     name,
		capacity: capacity,
		ttl:      ttl,
		ll:       list.New(),
		items:    make(map[string]*list.Element),
	}
}

// Name returns the cache's name.
func (c *Cache) Name() string {
	return c.name
}

// Get returns the value for key and whether it was present and unexpired.
// A hit refreshes the entry's recency but not its TTL.
func (c *Cache) Get(key string) (interface{}, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[key]
	if !ok {
		c.misses++
		return nil, false
	}
	ent := el.Value.(*entry)
	if !ent.expiresAt.IsZero() && time.Now().After(ent.expiresAt) {
		c.removeElement(el)
		c.misses++
		return nil, false
	}
	c.ll.MoveToFront(el)
	c.hits++
	return ent.value, true
}

// Set stores value under key, evicting the least recently used entry if the
// cache is full. Setting an existing key replaces its value and resets its
// TTL.
func (c *Cache) Set(key string, value interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var expiresAt time.Time
	if c.ttl > 0 {
		expiresAt = time.Now().Add(c.ttl)
	}

	if el, ok := c.items[key]; ok {
		ent := el.Value.(*entry)
		ent.value = value
		ent.expiresAt = expiresAt
		c.ll.MoveToFront(el)
		c.sets++
		return
	}

	el := c.ll.PushFront(&entry{key: key, value: value, expiresAt: expiresAt})
	c.items[key] = el
	c.sets++

	if c.ll.Len() > c.capacity {
		oldest := c.ll.Back()
		if oldest != nil {
			c.removeElement(oldest)
			c.evictions++
		}
	}
}

// Delete removes key from the cache if present.
func (c *Cache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.items[key]; ok {
		c.removeElement(el)
	}
}

// Clear removes every entry. Counters are preserved so hit rates remain
// meaningful across administrative clears.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ll.Init()
	c.items = make(map[string]*list.Element)
}

// Len returns the number of live entries, including any not yet swept
// expired ones.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ll.Len()
}

// Sweep removes all expired entries and returns how many were dropped.
func (c *Cache) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	removed := 0
	for el := c.ll.Back(); el != nil; {
		prev := el.Prev()
		ent := el.Value.(*entry)
		if !ent.expiresAt.IsZero() && now.After(ent.expiresAt) {
			c.removeElement(el)
			removed++
		}
		el = prev
	}
	return removed
}

// removeElement deletes an element from both the list and the index.
// Caller must hold c.mu.
func (c *Cache) removeElement(el *list.Element) {
	c.ll.Remove(el)
	ent := el.Value.(*entry)
	delete(c.items, ent.key)
}

// Stats is a point-in-time snapshot of cache counters.
type Stats struct {
	Name      string  `json:"name"`
	Size      int     `json:"size"`
	Capacity  int     `json:"capacity"`
	Hits      uint64  `json:"hits"`
	Misses    uint64  `json:"misses"`
	Sets      uint64  `json:"sets"`
	Evictions uint64  `json:"evictions"`
	HitRate   float64 `json:"hit_rate"`
	TTL       string  `json:"ttl"`
}

// Stats returns a snapshot of the cache's counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	total := c.hits + c.misses
	rate := 0.0
	if total > 0 {
		rate = float64(c.hits) / float64(total)
	}
	return Stats{
		Name:      c.name,
		Size:      c.ll.Len(),
		Capacity:  c.capacity,
		Hits:      c.hits,
		Misses:    c.misses,
		Sets:      c.sets,
		Evictions: c.evictions,
		HitRate:   rate,
		TTL:       c.ttl.String(),
	}
}
