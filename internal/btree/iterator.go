package btree

import (
	"github.com/tuannm99/minibase/internal/bufferpool"
	"github.com/tuannm99/minibase/internal/storage"
)

// Iterator walks leaf entries in ascending key order. It keeps the current
// leaf pinned between calls and takes the leaf's read latch only inside
// each call, so long-lived iterators do not block writers.
//
// Callers must Close the iterator to drop the pin on the held leaf.
type Iterator struct {
	pool *bufferpool.Manager
	page *storage.Page
	idx  int
}

// Begin positions an iterator on the first entry of the tree.
func (t *BPlusTree) Begin() (*Iterator, error) {
	t.rootMu.RLock()
	if t.rootPageID == storage.InvalidPageID {
		t.rootMu.RUnlock()
		return &Iterator{pool: t.pool}, nil
	}

	page, err := t.descendRead(0, true)
	if err != nil {
		return nil, err
	}

	it := &Iterator{pool: t.pool, page: page, idx: 0}
	err = it.normalizeLatched()
	return it, err
}

// BeginAt positions an iterator on the first entry with key >= key.
func (t *BPlusTree) BeginAt(key KeyType) (*Iterator, error) {
	t.rootMu.RLock()
	if t.rootPageID == storage.InvalidPageID {
		t.rootMu.RUnlock()
		return &Iterator{pool: t.pool}, nil
	}

	page, err := t.descendRead(key, false)
	if err != nil {
		return nil, err
	}

	it := &Iterator{pool: t.pool, page: page, idx: asLeaf(page).KeyIndex(key, t.cmp)}
	err = it.normalizeLatched()
	return it, err
}

// IsEnd reports whether the iterator has run off the last leaf.
func (it *Iterator) IsEnd() bool { return it.page == nil }

// Entry returns the (key, RID) pair at the current position.
func (it *Iterator) Entry() (KeyType, storage.RID) {
	it.page.RLatch()
	leaf := asLeaf(it.page)
	key, rid := leaf.KeyAt(it.idx), leaf.RIDAt(it.idx)
	it.page.RUnlatch()
	return key, rid
}

// Next advances one entry, chaining into the next leaf when the current one
// is exhausted. Past the last leaf the iterator becomes the end sentinel.
func (it *Iterator) Next() error {
	if it.page == nil {
		return nil
	}
	it.idx++

	it.page.RLatch()
	err := it.normalizeLatched()
	return err
}

// normalizeLatched skips leaves with no entry at idx, following the sibling
// chain. The current page's read latch is held on entry and released on
// return.
func (it *Iterator) normalizeLatched() error {
	for {
		leaf := asLeaf(it.page)
		if it.idx < leaf.Size() {
			it.page.RUnlatch()
			return nil
		}

		next := leaf.Next()
		it.page.RUnlatch()
		it.pool.UnpinPage(it.page.ID(), false)

		if next == storage.InvalidPageID {
			it.page = nil
			return nil
		}

		nextPage, err := it.pool.FetchPage(next)
		if err != nil {
			it.page = nil
			return err
		}
		it.page = nextPage
		it.idx = 0
		it.page.RLatch()
	}
}

// Close releases the leaf held by the iterator. Safe to call on the end
// sentinel and more than once.
func (it *Iterator) Close() {
	if it.page != nil {
		it.pool.UnpinPage(it.page.ID(), false)
		it.page = nil
	}
}
