package mvcc

import (
	"fmt"
	"sort"
	"testing"
)

func TestBTreeInsertAndSearch(t *testing.T) {
	bt := NewBTree(4)
	bt.Insert("apple", Tid{File: "t", PageID: 0, Slot: 0})
	bt.Insert("banana", Tid{File: "t", PageID: 0, Slot: 1})
	bt.Insert("cherry", Tid{File: "t", PageID: 0, Slot: 2})

	got := bt.Search("banana")
	if len(got) != 1 || got[0].Slot != 1 {
		t.Fatalf("Search(banana) = %v, want one tid with slot 1", got)
	}
	if len(bt.Search("missing")) != 0 {
		t.Error("Search for an absent key should return nothing")
	}
}

func TestBTreeAllowsDuplicateKeys(t *testing.T) {
	bt := NewBTree(4)
	bt.Insert("k", Tid{File: "t", PageID: 0, Slot: 0})
	bt.Insert("k", Tid{File: "t", PageID: 0, Slot: 1})
	bt.Insert("k", Tid{File: "t", PageID: 1, Slot: 0})

	got := bt.Search("k")
	if len(got) != 3 {
		t.Fatalf("Search(k) returned %d entries, want 3", len(got))
	}
}

func TestBTreeSplitsAndKeepsAllKeysSearchable(t *testing.T) {
	bt := NewBTree(3) // small degree to force splits quickly
	const n = 100
	for i := 0; i < n; i++ {
		key := fmt.Sprintf("key-%04d", i)
		bt.Insert(key, Tid{File: "t", PageID: uint32(i), Slot: 0})
	}
	for i := 0; i < n; i++ {
		key := fmt.Sprintf("key-%04d", i)
		got := bt.Search(key)
		if len(got) != 1 || got[0].PageID != uint32(i) {
			t.Fatalf("Search(%q) = %v, want exactly one tid with page %d", key, got, i)
		}
	}
}

func TestBTreeRangeReturnsSortedKeysInBounds(t *testing.T) {
	bt := NewBTree(3)
	keys := []string{"a", "c", "e", "g", "i", "k", "m"}
	for i, k := range keys {
		bt.Insert(k, Tid{File: "t", PageID: uint32(i), Slot: 0})
	}

	got := bt.Range("c", "i")
	if len(got) != 4 {
		t.Fatalf("Range(c, i) returned %d entries, want 4 (c,e,g,i)", len(got))
	}
}

func TestBTreeDeleteRemovesExactEntryAndRebalances(t *testing.T) {
	bt := NewBTree(3)
	const n = 50
	var keys []string
	for i := 0; i < n; i++ {
		key := fmt.Sprintf("key-%03d", i)
		keys = append(keys, key)
		bt.Insert(key, Tid{File: "t", PageID: uint32(i), Slot: 0})
	}

	for i := 0; i < n; i += 2 {
		if !bt.Delete(keys[i], Tid{File: "t", PageID: uint32(i), Slot: 0}) {
			t.Fatalf("Delete(%q) returned false, want true", keys[i])
		}
	}
	for i := 0; i < n; i++ {
		got := bt.Search(keys[i])
		if i%2 == 0 {
			if len(got) != 0 {
				t.Errorf("Search(%q) after delete = %v, want empty", keys[i], got)
			}
		} else {
			if len(got) != 1 {
				t.Errorf("Search(%q) = %v, want exactly one surviving entry", keys[i], got)
			}
		}
	}
}

func TestBTreeDeleteOfMissingEntryReturnsFalse(t *testing.T) {
	bt := NewBTree(4)
	bt.Insert("a", Tid{File: "t", PageID: 0, Slot: 0})
	if bt.Delete("a", Tid{File: "t", PageID: 99, Slot: 0}) {
		t.Error("Delete with a non-matching tid should return false")
	}
}

func TestBTreeLeavesStayLinkedAfterSplitsAndDeletes(t *testing.T) {
	bt := NewBTree(3)
	const n = 60
	var keys []string
	for i := 0; i < n; i++ {
		keys = append(keys, fmt.Sprintf("k-%03d", i))
	}
	sort.Strings(keys)
	for i, k := range keys {
		bt.Insert(k, Tid{File: "t", PageID: uint32(i), Slot: 0})
	}
	for i := 0; i < n; i += 3 {
		bt.Delete(keys[i], Tid{File: "t", PageID: uint32(i), Slot: 0})
	}

	got := bt.Range(keys[0], keys[n-1])
	want := 0
	for i := range keys {
		if i%3 != 0 {
			want++
		}
	}
	if len(got) != want {
		t.Errorf("Range over full key space after deletes = %d entries, want %d", len(got), want)
	}
}
