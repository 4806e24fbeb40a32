package btree

import (
	"github.com/tuannm99/minibase/internal/storage"
	"github.com/tuannm99/minibase/pkg/bx"
)

// InternalNode views a page holding child pointers. Slot 0 carries only a
// child id (its key slot exists but is unused); slots >= 1 carry
// (separator, child) where the separator is the lower bound of the child's
// subtree.
type InternalNode struct {
	node
}

func (n InternalNode) initInternal(id, parent storage.PageID, maxSize int) {
	n.init(pageTypeInternal, id, parent, maxSize)
}

func (n InternalNode) entryOff(i int) int {
	return nodeHeaderSize + i*internalEntrySize
}

func (n InternalNode) KeyAt(i int) KeyType {
	return bx.I64At(n.data(), n.entryOff(i))
}

func (n InternalNode) setKeyAt(i int, key KeyType) {
	bx.PutI64At(n.data(), n.entryOff(i), key)
}

func (n InternalNode) ChildAt(i int) storage.PageID {
	return storage.PageID(bx.I32At(n.data(), n.entryOff(i)+8))
}

func (n InternalNode) setChildAt(i int, child storage.PageID) {
	bx.PutI32At(n.data(), n.entryOff(i)+8, int32(child))
}

func (n InternalNode) setEntry(i int, key KeyType, child storage.PageID) {
	n.setKeyAt(i, key)
	n.setChildAt(i, child)
}

// shift moves entries [from, size) by delta slots (delta may be negative).
// Call before the size is updated.
func (n InternalNode) shift(from, delta int) {
	size := n.Size()
	src := n.entryOff(from)
	dst := n.entryOff(from + delta)
	copy(n.data()[dst:], n.data()[src:n.entryOff(size)])
}

// Lookup picks the child whose subtree may contain key: the largest slot i
// with keys[i] <= key (slot 0 when key < keys[1]).
func (n InternalNode) Lookup(key KeyType, cmp Comparator) (int, storage.PageID) {
	lo, hi := 1, n.Size()
	for lo < hi {
		mid := (lo + hi) / 2
		if cmp(n.KeyAt(mid), key) <= 0 {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	idx := lo - 1
	return idx, n.ChildAt(idx)
}

// ChildIndex locates child among the node's slots, -1 when absent.
func (n InternalNode) ChildIndex(child storage.PageID) int {
	for i := 0; i < n.Size(); i++ {
		if n.ChildAt(i) == child {
			return i
		}
	}
	return -1
}

// populateNewRoot seeds a fresh root with two children and one separator.
func (n InternalNode) populateNewRoot(left storage.PageID, key KeyType, right storage.PageID) {
	n.setEntry(0, 0, left)
	n.setEntry(1, key, right)
	n.setSize(2)
}

// insertNodeAfter places (key, newChild) in the slot immediately after
// oldChild and returns the new size.
func (n InternalNode) insertNodeAfter(oldChild storage.PageID, key KeyType, newChild storage.PageID) int {
	i := n.ChildIndex(oldChild) + 1
	n.shift(i, 1)
	n.setEntry(i, key, newChild)
	n.setSize(n.Size() + 1)
	return n.Size()
}

// removeAt drops slot i.
func (n InternalNode) removeAt(i int) {
	n.shift(i+1, -1)
	n.setSize(n.Size() - 1)
}

// removeAndReturnOnlyChild collapses a size-1 root into its single child.
func (n InternalNode) removeAndReturnOnlyChild() storage.PageID {
	child := n.ChildAt(0)
	n.setSize(0)
	return child
}

// moveHalfTo moves the upper half of n's slots into the fresh right sibling
// and returns the separator to lift into the parent. The lifted key is not
// kept in right's slot 0.
func (n InternalNode) moveHalfTo(right InternalNode, reparent func(storage.PageID) error) (KeyType, error) {
	size := n.Size()
	keep := (size + 1) / 2

	src := n.entryOff(keep)
	dst := right.entryOff(0)
	copy(right.data()[dst:], n.data()[src:n.entryOff(size)])

	right.setSize(size - keep)
	n.setSize(keep)

	separator := right.KeyAt(0)
	right.setKeyAt(0, 0)

	for i := 0; i < right.Size(); i++ {
		if err := reparent(right.ChildAt(i)); err != nil {
			return 0, err
		}
	}
	return separator, nil
}

// moveAllTo merges n into the left sibling: the parent separator between the
// two is pulled down as the key at the merge boundary.
func (n InternalNode) moveAllTo(left InternalNode, middleKey KeyType, reparent func(storage.PageID) error) error {
	size, leftSize := n.Size(), left.Size()

	src := n.entryOff(0)
	dst := left.entryOff(leftSize)
	copy(left.data()[dst:], n.data()[src:n.entryOff(size)])

	left.setKeyAt(leftSize, middleKey)
	left.setSize(leftSize + size)
	n.setSize(0)

	for i := leftSize; i < left.Size(); i++ {
		if err := reparent(left.ChildAt(i)); err != nil {
			return err
		}
	}
	return nil
}

// moveFirstToEndOf shifts n's first child onto the tail of the left sibling.
// middleKey is the parent separator for n; the returned key replaces it.
func (n InternalNode) moveFirstToEndOf(left InternalNode, middleKey KeyType, reparent func(storage.PageID) error) (KeyType, error) {
	child := n.ChildAt(0)
	left.setEntry(left.Size(), middleKey, child)
	left.setSize(left.Size() + 1)

	separator := n.KeyAt(1)
	n.shift(1, -1)
	n.setSize(n.Size() - 1)
	n.setKeyAt(0, 0)

	return separator, reparent(child)
}

// moveLastToFrontOf shifts n's last child onto the front of the right
// sibling. middleKey is the parent separator for right; the returned key
// replaces it.
func (n InternalNode) moveLastToFrontOf(right InternalNode, middleKey KeyType, reparent func(storage.PageID) error) (KeyType, error) {
	last := n.Size() - 1
	separator := n.KeyAt(last)
	child := n.ChildAt(last)
	n.setSize(last)

	right.shift(0, 1)
	right.setSize(right.Size() + 1)
	right.setEntry(0, 0, child)
	right.setKeyAt(1, middleKey)

	return separator, reparent(child)
}
