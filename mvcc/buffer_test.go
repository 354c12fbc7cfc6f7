package mvcc

import "testing"

type fakePageIO struct {
	pages      map[cacheKey]Page
	writes     int
	readErr    error
}

func newFakePageIO() *fakePageIO {
	return &fakePageIO{pages: map[cacheKey]Page{}}
}

func (f *fakePageIO) readPage(file string, pageID uint32, pageSize int) (Page, error) {
	if f.readErr != nil {
		return nil, f.readErr
	}
	if p, ok := f.pages[cacheKey{file, pageID}]; ok {
		cp := make(Page, len(p))
		copy(cp, p)
		return cp, nil
	}
	return NewPage(pageSize), nil
}

func (f *fakePageIO) writePage(file string, pageID uint32, p Page) error {
	f.writes++
	cp := make(Page, len(p))
	copy(cp, p)
	f.pages[cacheKey{file, pageID}] = cp
	return nil
}

func TestBufferCacheHitAndMiss(t *testing.T) {
	io := newFakePageIO()
	c := NewBufferCache(io, 256, 4)

	ref, err := c.GetPage("t", 0)
	if err != nil {
		t.Fatalf("GetPage: %v", err)
	}
	ref.Unpin()
	if c.Misses != 1 || c.Hits != 0 {
		t.Errorf("after first GetPage: hits=%d misses=%d, want 0, 1", c.Hits, c.Misses)
	}

	ref2, err := c.GetPage("t", 0)
	if err != nil {
		t.Fatalf("GetPage: %v", err)
	}
	ref2.Unpin()
	if c.Hits != 1 {
		t.Errorf("after second GetPage: hits=%d, want 1", c.Hits)
	}
}

func TestBufferCacheEvictsLRUAndWritesBackDirty(t *testing.T) {
	io := newFakePageIO()
	c := NewBufferCache(io, 256, 2)

	r0, _ := c.GetPage("t", 0)
	r0.MarkDirty()
	r0.Unpin()
	r1, _ := c.GetPage("t", 1)
	r1.Unpin()

	// Cache is now full with pages 0 and 1, both unpinned, 0 least recent.
	r2, err := c.GetPage("t", 2)
	if err != nil {
		t.Fatalf("GetPage triggering eviction: %v", err)
	}
	r2.Unpin()

	if c.Evictions != 1 {
		t.Errorf("Evictions = %d, want 1", c.Evictions)
	}
	if io.writes != 1 {
		t.Errorf("expected exactly one write-back for the dirty evicted page, got %d", io.writes)
	}
	if c.Len() != 2 {
		t.Errorf("Len() = %d, want 2 (capacity)", c.Len())
	}
}

func TestBufferCachePinnedPagesAreNotEvicted(t *testing.T) {
	io := newFakePageIO()
	c := NewBufferCache(io, 256, 1)

	pinned, err := c.GetPage("t", 0)
	if err != nil {
		t.Fatalf("GetPage: %v", err)
	}
	defer pinned.Unpin()

	if _, err := c.GetPage("t", 1); err == nil {
		t.Error("expected an error when the only cache slot is pinned and full")
	}
}

func TestBufferCacheFlushAllClearsDirtyFlags(t *testing.T) {
	io := newFakePageIO()
	c := NewBufferCache(io, 256, 4)

	ref, _ := c.GetPage("t", 0)
	ref.MarkDirty()
	ref.Unpin()

	if err := c.FlushAll(); err != nil {
		t.Fatalf("FlushAll: %v", err)
	}
	if io.writes != 1 {
		t.Errorf("expected one write from FlushAll, got %d", io.writes)
	}
	if err := c.FlushAll(); err != nil {
		t.Fatalf("second FlushAll: %v", err)
	}
	if io.writes != 1 {
		t.Error("second FlushAll should not re-write a page whose dirty flag was cleared")
	}
}
