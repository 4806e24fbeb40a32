package btree

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tuannm99/minibase/internal/bufferpool"
	"github.com/tuannm99/minibase/internal/storage"
)

// newTestTree builds a file-backed tree with small node capacities so
// splits and merges kick in quickly.
func newTestTree(t *testing.T, poolSize, leafMax, internalMax int) (*BPlusTree, *bufferpool.Manager) {
	t.Helper()

	dm, err := storage.NewFileDiskManager(filepath.Join(t.TempDir(), "minibase.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = dm.Close() })

	pool := bufferpool.New(dm, poolSize, nil)
	tree, err := New("test_idx", pool, DefaultComparator, leafMax, internalMax)
	require.NoError(t, err)
	return tree, pool
}

func ridFor(key KeyType) storage.RID {
	return storage.RID{PageID: storage.PageID(key), Slot: uint16(key)}
}

func insertKeys(t *testing.T, tree *BPlusTree, keys []KeyType) {
	t.Helper()
	for _, k := range keys {
		ok, err := tree.Insert(k, ridFor(k))
		require.NoError(t, err, "insert %d", k)
		require.True(t, ok, "insert %d", k)
	}
}

func TestTree_EmptyTree(t *testing.T) {
	tree, _ := newTestTree(t, 50, 4, 4)

	require.True(t, tree.IsEmpty())

	_, found, err := tree.GetValue(1)
	require.NoError(t, err)
	require.False(t, found)

	require.NoError(t, tree.Remove(1))

	it, err := tree.Begin()
	require.NoError(t, err)
	require.True(t, it.IsEnd())
	it.Close()
}

func TestTree_InsertAndGet(t *testing.T) {
	tree, pool := newTestTree(t, 50, 4, 4)

	keys := make([]KeyType, 0, 99)
	for k := KeyType(1); k <= 99; k++ {
		keys = append(keys, k)
	}
	insertKeys(t, tree, keys)
	require.False(t, tree.IsEmpty())

	for _, k := range keys {
		rid, found, err := tree.GetValue(k)
		require.NoError(t, err)
		require.True(t, found, "key %d", k)
		require.Equal(t, ridFor(k), rid, "key %d", k)
	}

	require.Equal(t, 99, auditTree(t, tree))
	require.Zero(t, pool.PinnedFrames())
}

func TestTree_ScanAscending(t *testing.T) {
	tree, _ := newTestTree(t, 50, 4, 4)

	for k := KeyType(99); k >= 1; k-- {
		ok, err := tree.Insert(k, ridFor(k))
		require.NoError(t, err)
		require.True(t, ok)
	}

	it, err := tree.BeginAt(1)
	require.NoError(t, err)

	want := KeyType(1)
	for !it.IsEnd() {
		k, rid := it.Entry()
		require.Equal(t, want, k)
		require.Equal(t, ridFor(k), rid)
		want++
		require.NoError(t, it.Next())
	}
	it.Close()
	require.Equal(t, KeyType(100), want)
}

func TestTree_DuplicateInsertIsRejected(t *testing.T) {
	tree, _ := newTestTree(t, 50, 4, 4)

	ok, err := tree.Insert(7, ridFor(7))
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = tree.Insert(7, storage.RID{PageID: 123, Slot: 9})
	require.NoError(t, err)
	require.False(t, ok)

	// The first binding survives.
	rid, found, err := tree.GetValue(7)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, ridFor(7), rid)
}

func TestTree_DeleteThenGet(t *testing.T) {
	tree, pool := newTestTree(t, 50, 4, 4)

	keys := make([]KeyType, 0, 200)
	for k := KeyType(1); k <= 200; k++ {
		keys = append(keys, k)
	}
	insertKeys(t, tree, keys)

	// Delete the odd keys.
	for k := KeyType(1); k <= 200; k += 2 {
		require.NoError(t, tree.Remove(k))
	}

	for k := KeyType(1); k <= 200; k++ {
		_, found, err := tree.GetValue(k)
		require.NoError(t, err)
		require.Equal(t, k%2 == 0, found, "key %d", k)
	}

	require.Equal(t, 100, auditTree(t, tree))
	require.Zero(t, pool.PinnedFrames())
}

func TestTree_DeleteEverything(t *testing.T) {
	tree, pool := newTestTree(t, 50, 4, 4)

	keys := make([]KeyType, 0, 100)
	for k := KeyType(1); k <= 100; k++ {
		keys = append(keys, k)
	}
	insertKeys(t, tree, keys)

	for _, k := range keys {
		require.NoError(t, tree.Remove(k))
	}

	require.True(t, tree.IsEmpty())
	require.Equal(t, 0, auditTree(t, tree))

	it, err := tree.Begin()
	require.NoError(t, err)
	require.True(t, it.IsEnd())
	it.Close()

	// The tree grows again from empty.
	insertKeys(t, tree, []KeyType{5, 3, 9})
	require.Equal(t, 3, auditTree(t, tree))
	require.Zero(t, pool.PinnedFrames())
}

func TestTree_RemoveAbsentKeyIsNoOp(t *testing.T) {
	tree, _ := newTestTree(t, 50, 4, 4)

	insertKeys(t, tree, []KeyType{1, 2, 3})
	require.NoError(t, tree.Remove(42))
	require.Equal(t, 3, auditTree(t, tree))
}

func TestTree_RangeScanFromKey(t *testing.T) {
	tree, _ := newTestTree(t, 50, 4, 4)

	// Even keys only: 2, 4, ..., 200.
	for k := KeyType(2); k <= 200; k += 2 {
		ok, err := tree.Insert(k, ridFor(k))
		require.NoError(t, err)
		require.True(t, ok)
	}

	// Start between stored keys: first entry must be the next even key.
	it, err := tree.BeginAt(51)
	require.NoError(t, err)
	keys := collectKeys(t, it)

	require.Len(t, keys, 75)
	require.Equal(t, KeyType(52), keys[0])
	require.Equal(t, KeyType(200), keys[len(keys)-1])
	for i := 1; i < len(keys); i++ {
		require.Equal(t, keys[i-1]+2, keys[i])
	}

	// Starting past the maximum yields the end sentinel immediately.
	it, err = tree.BeginAt(1000)
	require.NoError(t, err)
	require.True(t, it.IsEnd())
	it.Close()
}

func TestTree_PoolReuseUnderEviction(t *testing.T) {
	// Pool much smaller than the working set (the tree spans hundreds of
	// pages): operations constantly evict and read back.
	tree, pool := newTestTree(t, 32, 4, 4)

	const n = 1000
	for k := KeyType(1); k <= n; k++ {
		ok, err := tree.Insert(k, ridFor(k))
		require.NoError(t, err)
		require.True(t, ok)
	}

	for k := KeyType(1); k <= n; k++ {
		rid, found, err := tree.GetValue(k)
		require.NoError(t, err)
		require.True(t, found, "key %d", k)
		require.Equal(t, ridFor(k), rid)
	}

	require.Equal(t, n, auditTree(t, tree))
	require.Zero(t, pool.PinnedFrames())
}

func TestTree_RootChangesSurviveHeaderRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "minibase.db")

	dm, err := storage.NewFileDiskManager(path)
	require.NoError(t, err)

	pool := bufferpool.New(dm, 50, nil)
	tree, err := New("persist_idx", pool, DefaultComparator, 4, 4)
	require.NoError(t, err)

	keys := make([]KeyType, 0, 300)
	for k := KeyType(1); k <= 300; k++ {
		keys = append(keys, k)
	}
	insertKeys(t, tree, keys)

	pool.FlushAllPages()
	require.NoError(t, dm.Close())

	// Reopen: the header page record leads back to the same root.
	dm2, err := storage.NewFileDiskManager(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = dm2.Close() })

	pool2 := bufferpool.New(dm2, 50, nil)
	tree2, err := New("persist_idx", pool2, DefaultComparator, 4, 4)
	require.NoError(t, err)

	for _, k := range keys {
		rid, found, err := tree2.GetValue(k)
		require.NoError(t, err)
		require.True(t, found, "key %d", k)
		require.Equal(t, ridFor(k), rid)
	}
	require.Equal(t, 300, auditTree(t, tree2))
}

func TestTree_TwoIndexesShareOnePool(t *testing.T) {
	dm, err := storage.NewFileDiskManager(filepath.Join(t.TempDir(), "minibase.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = dm.Close() })

	pool := bufferpool.New(dm, 50, nil)

	a, err := New("idx_a", pool, DefaultComparator, 4, 4)
	require.NoError(t, err)
	b, err := New("idx_b", pool, DefaultComparator, 4, 4)
	require.NoError(t, err)

	for k := KeyType(1); k <= 50; k++ {
		ok, err := a.Insert(k, ridFor(k))
		require.NoError(t, err)
		require.True(t, ok)

		ok, err = b.Insert(k*10, ridFor(k*10))
		require.NoError(t, err)
		require.True(t, ok)
	}

	rid, found, err := a.GetValue(17)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, ridFor(17), rid)

	rid, found, err = b.GetValue(170)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, ridFor(170), rid)

	_, found, err = b.GetValue(17)
	require.NoError(t, err)
	require.False(t, found)

	require.Equal(t, 50, auditTree(t, a))
	require.Equal(t, 50, auditTree(t, b))
}
