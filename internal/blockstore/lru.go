package blockstore

import "container/list"

// cacheEntry is one in-memory block in the LRU. Dirty entries are never
// evicted (spec §4.2 "Dirty entries are never evicted").
type cacheEntry struct {
	id      uint64
	payload []byte
	dirty   bool
}

// lru is a per-database LRU cache of block payloads, directly generalized
// from the original CLI's pkg/memory/lru.go (a container/list-based
// per-scope LRU for agent memory entries). The one real addition over that
// original is the dirty flag: insertions evict the least-recently-used
// *non-dirty* entry, skipping past dirty ones, since a dirty block holds
// data not yet durable and must never be dropped silently.
type lru struct {
	capacity int
	list     *list.List
	elems    map[uint64]*list.Element
}

func newLRU(capacity int) *lru {
	if capacity <= 0 {
		capacity = 1
	}
	return &lru{
		capacity: capacity,
		list:     list.New(),
		elems:    make(map[uint64]*list.Element),
	}
}

func (c *lru) get(id uint64) (*cacheEntry, bool) {
	el, ok := c.elems[id]
	if !ok {
		return nil, false
	}
	c.list.MoveToFront(el)
	return el.Value.(*cacheEntry), true
}

// put inserts or updates an entry and moves it to the front. Eviction of
// non-dirty entries happens afterward via evictIfNeeded.
func (c *lru) put(id uint64, payload []byte, dirty bool) {
	if el, ok := c.elems[id]; ok {
		e := el.Value.(*cacheEntry)
		e.payload = payload
		if dirty {
			e.dirty = true
		}
		c.list.MoveToFront(el)
		return
	}
	e := &cacheEntry{id: id, payload: payload, dirty: dirty}
	el := c.list.PushFront(e)
	c.elems[id] = el
	c.evictIfNeeded()
}

func (c *lru) markDirty(id uint64) {
	if el, ok := c.elems[id]; ok {
		el.Value.(*cacheEntry).dirty = true
	}
}

func (c *lru) markClean(id uint64) {
	if el, ok := c.elems[id]; ok {
		el.Value.(*cacheEntry).dirty = false
	}
}

func (c *lru) remove(id uint64) {
	if el, ok := c.elems[id]; ok {
		c.list.Remove(el)
		delete(c.elems, id)
	}
}

// dirtyEntries returns every currently-dirty cache entry.
func (c *lru) dirtyEntries() []*cacheEntry {
	var out []*cacheEntry
	for el := c.list.Front(); el != nil; el = el.Next() {
		e := el.Value.(*cacheEntry)
		if e.dirty {
			out = append(out, e)
		}
	}
	return out
}

// evictIfNeeded drops least-recently-used non-dirty entries until the cache
// is back at or under capacity, or every remaining entry is dirty.
func (c *lru) evictIfNeeded() {
	for c.list.Len() > c.capacity {
		evicted := false
		for el := c.list.Back(); el != nil; el = el.Prev() {
			e := el.Value.(*cacheEntry)
			if e.dirty {
				continue
			}
			c.list.Remove(el)
			delete(c.elems, e.id)
			evicted = true
			break
		}
		if !evicted {
			// Every entry is dirty; cannot shrink further until a sync clears some.
			return
		}
	}
}

func (c *lru) len() int { return c.list.Len() }
