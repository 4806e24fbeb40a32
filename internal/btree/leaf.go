package btree

import (
	"github.com/tuannm99/minibase/internal/storage"
	"github.com/tuannm99/minibase/pkg/bx"
)

// LeafNode views a page holding sorted (key, RID) entries plus the id of the
// next leaf in key order.
type LeafNode struct {
	node
}

func (n LeafNode) initLeaf(id, parent storage.PageID, maxSize int) {
	n.init(pageTypeLeaf, id, parent, maxSize)
	n.SetNext(storage.InvalidPageID)
}

func (n LeafNode) Next() storage.PageID {
	return storage.PageID(bx.I32At(n.data(), offLeafNext))
}

func (n LeafNode) SetNext(id storage.PageID) {
	bx.PutI32At(n.data(), offLeafNext, int32(id))
}

func (n LeafNode) entryOff(i int) int {
	return leafHeaderSize + i*leafEntrySize
}

func (n LeafNode) KeyAt(i int) KeyType {
	return bx.I64At(n.data(), n.entryOff(i))
}

func (n LeafNode) RIDAt(i int) storage.RID {
	off := n.entryOff(i)
	return storage.RID{
		PageID: storage.PageID(bx.I32At(n.data(), off+8)),
		Slot:   bx.U16At(n.data(), off+12),
	}
}

func (n LeafNode) setEntry(i int, key KeyType, rid storage.RID) {
	off := n.entryOff(i)
	bx.PutI64At(n.data(), off, key)
	bx.PutI32At(n.data(), off+8, int32(rid.PageID))
	bx.PutU16At(n.data(), off+12, rid.Slot)
}

// shift moves entries [from, size) by delta slots (delta may be negative).
func (n LeafNode) shift(from, delta int) {
	size := n.Size()
	src := n.entryOff(from)
	dst := n.entryOff(from + delta)
	copy(n.data()[dst:], n.data()[src:n.entryOff(size)])
}

// KeyIndex returns the first slot whose key is >= target (== Size when all
// keys are smaller).
func (n LeafNode) KeyIndex(key KeyType, cmp Comparator) int {
	lo, hi := 0, n.Size()
	for lo < hi {
		mid := (lo + hi) / 2
		if cmp(n.KeyAt(mid), key) < 0 {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo
}

// Lookup finds the RID stored under key.
func (n LeafNode) Lookup(key KeyType, cmp Comparator) (storage.RID, bool) {
	i := n.KeyIndex(key, cmp)
	if i < n.Size() && cmp(n.KeyAt(i), key) == 0 {
		return n.RIDAt(i), true
	}
	return storage.RID{}, false
}

// Insert places (key, rid) in sorted position and returns the new size.
// The caller has already rejected duplicates.
func (n LeafNode) Insert(key KeyType, rid storage.RID, cmp Comparator) int {
	i := n.KeyIndex(key, cmp)
	n.shift(i, 1)
	n.setEntry(i, key, rid)
	n.setSize(n.Size() + 1)
	return n.Size()
}

// Remove deletes key if present and returns the new size.
func (n LeafNode) Remove(key KeyType, cmp Comparator) int {
	i := n.KeyIndex(key, cmp)
	if i >= n.Size() || cmp(n.KeyAt(i), key) != 0 {
		return n.Size()
	}
	n.shift(i+1, -1)
	n.setSize(n.Size() - 1)
	return n.Size()
}

// moveHalfTo moves the upper half of n's entries into the fresh right
// sibling and rewires the leaf chain.
func (n LeafNode) moveHalfTo(right LeafNode) {
	size := n.Size()
	keep := (size + 1) / 2

	src := n.entryOff(keep)
	dst := right.entryOff(0)
	copy(right.data()[dst:], n.data()[src:n.entryOff(size)])

	right.setSize(size - keep)
	n.setSize(keep)

	right.SetNext(n.Next())
	n.SetNext(right.ID())
}

// moveAllTo appends every entry of n to the left sibling and unlinks n from
// the chain. Used by coalesce; n is deleted afterwards.
func (n LeafNode) moveAllTo(left LeafNode) {
	size, leftSize := n.Size(), left.Size()

	src := n.entryOff(0)
	dst := left.entryOff(leftSize)
	copy(left.data()[dst:], n.data()[src:n.entryOff(size)])

	left.setSize(leftSize + size)
	left.SetNext(n.Next())
	n.setSize(0)
}

// moveFirstToEndOf shifts n's first entry onto the tail of the left sibling.
// Returns the key now at n's front, the parent's new separator for n.
func (n LeafNode) moveFirstToEndOf(left LeafNode) KeyType {
	key, rid := n.KeyAt(0), n.RIDAt(0)
	left.setEntry(left.Size(), key, rid)
	left.setSize(left.Size() + 1)

	n.shift(1, -1)
	n.setSize(n.Size() - 1)
	return n.KeyAt(0)
}

// moveLastToFrontOf shifts n's last entry onto the front of the right
// sibling. Returns the moved key, the parent's new separator for right.
func (n LeafNode) moveLastToFrontOf(right LeafNode) KeyType {
	last := n.Size() - 1
	key, rid := n.KeyAt(last), n.RIDAt(last)
	n.setSize(last)

	right.shift(0, 1)
	right.setEntry(0, key, rid)
	right.setSize(right.Size() + 1)
	return key
}
