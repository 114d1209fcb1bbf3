// Package cache implements the server-local read cache (spec section
// 3.5/4.E.5): a read-through cache of recently retrieved datum payloads,
// evicted by LRU under both an entry-count and a byte-budget bound.
// Grounded directly on turbine's cache.c, which pairs a hash table keyed
// by datum id with an LRU structure ordered by a monotonic access stamp;
// here a container/list replaces the C original's rbtree-by-stamp, giving
// the same O(1) move-to-front/evict discipline idiomatically in Go.
package cache

import "container/list"

// entry is the payload stored at each list element.
type entry struct {
	id      int64
	typ     int
	payload []byte
}

// Cache is a bounded LRU cache of datum payloads. A zero MaxEntries
// disables caching entirely (mirrors turbine_cache_init's "size 0 means
// disabled" convention) — Get always misses and Put is a no-op.
type Cache struct {
	maxEntries int
	maxBytes   int64

	bytesInUse int64
	index      map[int64]*list.Element
	order      *list.List // front = most recently used
}

// New builds a Cache bounded by maxEntries entries and maxBytes total
// payload bytes. maxBytes <= 0 means no byte bound.
func New(maxEntries int, maxBytes int64) *Cache {
	return &Cache{
		maxEntries: maxEntries,
		maxBytes:   maxBytes,
		index:      make(map[int64]*list.Element),
		order:      list.New(),
	}
}

// Get returns the cached payload for id, promoting it to most-recently-used.
func (c *Cache) Get(id int64) (typ int, payload []byte, ok bool) {
	if c.maxEntries == 0 {
		return 0, nil, false
	}
	el, found := c.index[id]
	if !found {
		return 0, nil, false
	}
	c.order.MoveToFront(el)
	e := el.Value.(*entry)
	return e.typ, e.payload, true
}

// Put inserts or replaces the cached payload for id, evicting
// least-recently-used entries as needed to satisfy both bounds. A single
// oversized payload that can never fit even in an empty cache is simply
// not cached (Get will always miss it).
func (c *Cache) Put(id int64, typ int, payload []byte) {
	if c.maxEntries == 0 {
		return
	}
	if c.maxBytes > 0 && int64(len(payload)) > c.maxBytes {
		return
	}

	if el, ok := c.index[id]; ok {
		old := el.Value.(*entry)
		c.bytesInUse -= int64(len(old.payload))
		c.order.Remove(el)
		delete(c.index, id)
	}

	c.bytesInUse += int64(len(payload))
	el := c.order.PushFront(&entry{id: id, typ: typ, payload: payload})
	c.index[id] = el

	for len(c.index) > c.maxEntries || (c.maxBytes > 0 && c.bytesInUse > c.maxBytes) {
		c.evictOldest()
	}
}

// Invalidate drops id from the cache, if present. Called when the
// underlying datum is destroyed (spec section 4.E.5: "cache entries never
// outlive the underlying datum").
func (c *Cache) Invalidate(id int64) {
	el, ok := c.index[id]
	if !ok {
		return
	}
	e := el.Value.(*entry)
	c.bytesInUse -= int64(len(e.payload))
	c.order.Remove(el)
	delete(c.index, id)
}

func (c *Cache) evictOldest() {
	el := c.order.Back()
	if el == nil {
		return
	}
	e := el.Value.(*entry)
	c.bytesInUse -= int64(len(e.payload))
	c.order.Remove(el)
	delete(c.index, e.id)
}

// Len reports the number of entries currently cached.
func (c *Cache) Len() int { return len(c.index) }
