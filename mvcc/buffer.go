package mvcc

import (
	"container/list"
	"sync"
)

// pageIO is the storage engine's page I/O hook the cache delegates misses
// and evictions to, mirroring engine.PageCache's pageIO interface but
// keyed by (file, page id) since mvcc keeps one heap file per table
// rather than one shared multi-table file.
type pageIO interface {
	readPage(file string, pageID uint32, pageSize int) (Page, error)
	writePage(file string, pageID uint32, p Page) error
}

type cacheKey struct {
	file   string
	pageID uint32
}

type cacheEntry struct {
	key     cacheKey
	page    Page
	dirty   bool
	pinCnt  int
	element *list.Element
}

// BufferCache is the bounded, shared LRU page cache of §4.2. A page handle
// returned by GetPage stays valid across unrelated evictions because the
// entry is pinned while held; eviction only ever considers unpinned
// entries at the LRU tail.
type BufferCache struct {
	mu       sync.Mutex
	io       pageIO
	pageSize int
	capacity int
	entries  map[cacheKey]*cacheEntry
	order    *list.List // front = most recently used

	Hits      uint64
	Misses    uint64
	Evictions uint64
}

func NewBufferCache(io pageIO, pageSize, capacity int) *BufferCache {
	return &BufferCache{
		io:       io,
		pageSize: pageSize,
		capacity: capacity,
		entries:  map[cacheKey]*cacheEntry{},
		order:    list.New(),
	}
}

// PageRef is an owning, pinned handle on a cached page. Callers must call
// Unpin when done mutating or reading it.
type PageRef struct {
	cache *BufferCache
	entry *cacheEntry
}

func (r PageRef) Page() Page {
	return r.entry.page
}

// MarkDirty flags the page for writeback on eviction or FlushAll.
func (r PageRef) MarkDirty() {
	r.cache.mu.Lock()
	r.entry.dirty = true
	r.cache.mu.Unlock()
}

// Unpin releases the pin taken by GetPage; the entry becomes eligible for
// eviction once its pin count reaches zero.
func (r PageRef) Unpin() {
	r.cache.mu.Lock()
	r.entry.pinCnt--
	r.cache.mu.Unlock()
}

// GetPage returns a pinned handle on (file, pageID), reading it from
// storage on a miss and evicting the LRU tail if the cache is at capacity.
func (c *BufferCache) GetPage(file string, pageID uint32) (PageRef, error) {
	key := cacheKey{file, pageID}

	c.mu.Lock()
	if e, ok := c.entries[key]; ok {
		c.Hits++
		e.pinCnt++
		c.order.MoveToFront(e.element)
		c.mu.Unlock()
		return PageRef{cache: c, entry: e}, nil
	}
	c.Misses++
	c.mu.Unlock()

	p, err := c.io.readPage(file, pageID, c.pageSize)
	if err != nil {
		return PageRef{}, wrapError(IoError, err, "read page %s:%d", file, pageID)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	// Another goroutine may have raced us to fill this slot; prefer theirs.
	if e, ok := c.entries[key]; ok {
		e.pinCnt++
		c.order.MoveToFront(e.element)
		return PageRef{cache: c, entry: e}, nil
	}

	if len(c.entries) >= c.capacity {
		if err := c.evictLocked(); err != nil {
			return PageRef{}, err
		}
	}

	e := &cacheEntry{key: key, page: p, pinCnt: 1}
	e.element = c.order.PushFront(e)
	c.entries[key] = e
	return PageRef{cache: c, entry: e}, nil
}

// PutPage overwrites an entry's contents with a caller-owned copy and marks
// it dirty, creating the entry (and evicting if necessary) if absent.
func (c *BufferCache) PutPage(file string, pageID uint32, p Page) error {
	key := cacheKey{file, pageID}
	cp := make(Page, len(p))
	copy(cp, p)

	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[key]; ok {
		e.page = cp
		e.dirty = true
		c.order.MoveToFront(e.element)
		return nil
	}

	if len(c.entries) >= c.capacity {
		if err := c.evictLocked(); err != nil {
			return err
		}
	}
	e := &cacheEntry{key: key, page: cp, dirty: true}
	e.element = c.order.PushFront(e)
	c.entries[key] = e
	return nil
}

// evictLocked removes the LRU unpinned entry, writing it back if dirty.
// Caller must hold c.mu.
func (c *BufferCache) evictLocked() error {
	for el := c.order.Back(); el != nil; el = el.Prev() {
		e := el.Value.(*cacheEntry)
		if e.pinCnt > 0 {
			continue
		}
		if e.dirty {
			if err := c.io.writePage(e.key.file, e.key.pageID, e.page); err != nil {
				return wrapError(IoError, err, "writeback page %s:%d on eviction",
					e.key.file, e.key.pageID)
			}
		}
		c.order.Remove(el)
		delete(c.entries, e.key)
		c.Evictions++
		return nil
	}
	return newError(IoError, "buffer cache full and every entry is pinned")
}

// FlushAll writes every dirty page back through the storage engine and
// clears their dirty flags, per §4.2 and the shutdown sequence in §6.
func (c *BufferCache) FlushAll() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for el := c.order.Front(); el != nil; el = el.Next() {
		e := el.Value.(*cacheEntry)
		if !e.dirty {
			continue
		}
		if err := c.io.writePage(e.key.file, e.key.pageID, e.page); err != nil {
			return wrapError(IoError, err, "flush page %s:%d", e.key.file, e.key.pageID)
		}
		e.dirty = false
	}
	return nil
}

// Len reports the current entry count, used to assert §8 property 10.
func (c *BufferCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
