package btree

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tuannm99/minibase/internal/storage"
)

// auditTree walks the whole tree single-threaded and checks the structural
// invariants: separator bounds, occupancy floors, parent pointers, and that
// the leaf chain enumerates every entry in strictly ascending order.
// Returns the total number of entries.
func auditTree(t *testing.T, tree *BPlusTree) int {
	t.Helper()

	tree.rootMu.RLock()
	root := tree.rootPageID
	tree.rootMu.RUnlock()

	if root == storage.InvalidPageID {
		return 0
	}

	subtreeCount, leftmost := auditNode(t, tree, root, storage.InvalidPageID, math.MinInt64, math.MaxInt64)

	// Walk the leaf chain from the leftmost leaf and count entries.
	chainCount := 0
	prev := KeyType(math.MinInt64)
	first := true
	for id := leftmost; id != storage.InvalidPageID; {
		page, err := tree.pool.FetchPage(id)
		require.NoError(t, err)
		leaf := asLeaf(page)
		for i := 0; i < leaf.Size(); i++ {
			k := leaf.KeyAt(i)
			if !first {
				require.Less(t, prev, k, "leaf chain must be strictly ascending")
			}
			prev, first = k, false
			chainCount++
		}
		next := leaf.Next()
		tree.pool.UnpinPage(id, false)
		id = next
	}
	require.Equal(t, subtreeCount, chainCount, "leaf chain must cover every entry")

	return chainCount
}

// auditNode checks one subtree whose keys must lie in [lower, upper).
// Returns its entry count and the page id of its leftmost leaf.
func auditNode(t *testing.T, tree *BPlusTree, id, parent storage.PageID, lower, upper KeyType) (int, storage.PageID) {
	t.Helper()

	page, err := tree.pool.FetchPage(id)
	require.NoError(t, err)
	defer tree.pool.UnpinPage(id, false)

	n := asNode(page)
	require.Equal(t, parent, n.Parent(), "parent pointer of page %d", id)

	if parent != storage.InvalidPageID {
		require.GreaterOrEqual(t, n.Size(), n.MinSize(), "occupancy floor of page %d", id)
	}
	require.LessOrEqual(t, n.Size(), n.MaxSize(), "occupancy ceiling of page %d", id)

	if n.isLeaf() {
		leaf := asLeaf(page)
		for i := 0; i < leaf.Size(); i++ {
			k := leaf.KeyAt(i)
			require.GreaterOrEqual(t, k, lower, "leaf %d key below bound", id)
			require.Less(t, k, upper, "leaf %d key above bound", id)
			if i > 0 {
				require.Less(t, leaf.KeyAt(i-1), k, "leaf %d keys out of order", id)
			}
		}
		return leaf.Size(), id
	}

	inner := asInternal(page)
	if parent == storage.InvalidPageID {
		// A root internal below two children must have been collapsed.
		require.GreaterOrEqual(t, inner.Size(), 2, "root internal %d", id)
	}

	total := 0
	var leftmost storage.PageID
	for i := 0; i < inner.Size(); i++ {
		childLower := lower
		if i > 0 {
			childLower = inner.KeyAt(i)
			require.GreaterOrEqual(t, childLower, lower, "separator %d of page %d", i, id)
		}
		childUpper := upper
		if i+1 < inner.Size() {
			childUpper = inner.KeyAt(i + 1)
		}
		if i > 0 && i+1 < inner.Size() {
			require.Less(t, inner.KeyAt(i), inner.KeyAt(i+1), "separators of page %d out of order", id)
		}

		count, lm := auditNode(t, tree, inner.ChildAt(i), id, childLower, childUpper)
		total += count
		if i == 0 {
			leftmost = lm
		}
	}
	return total, leftmost
}

// collectKeys drains an iterator into a key slice, closing it.
func collectKeys(t *testing.T, it *Iterator) []KeyType {
	t.Helper()

	var keys []KeyType
	for !it.IsEnd() {
		k, _ := it.Entry()
		keys = append(keys, k)
		require.NoError(t, it.Next())
	}
	it.Close()
	return keys
}
