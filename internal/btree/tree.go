package btree

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/tuannm99/minibase/internal/bufferpool"
	"github.com/tuannm99/minibase/internal/storage"
)

var (
	// ErrTreeOOM is returned when the buffer pool cannot supply a frame.
	// The tree treats pool exhaustion as fatal for the operation.
	ErrTreeOOM = errors.New("btree: buffer pool exhausted")

	// ErrHeaderFull is returned when the header page cannot register
	// another index.
	ErrHeaderFull = errors.New("btree: header page is full")

	// ErrCorrupted signals a structural inconsistency that should never
	// occur under correct usage.
	ErrCorrupted = errors.New("btree: tree structure corrupted")
)

// BPlusTree is a unique key->RID index whose nodes live inside buffer-pool
// pages. All node access goes through the pool; concurrency uses per-page
// latches with crabbing plus a root lock guarding rootPageID and the header
// page record.
type BPlusTree struct {
	name            string
	pool            *bufferpool.Manager
	cmp             Comparator
	leafMaxSize     int
	internalMaxSize int

	// rootMu orders root mutation (install/collapse) and acts as the
	// virtual parent latch of the root during crabbing.
	rootMu     sync.RWMutex
	rootPageID storage.PageID
}

// New opens (or registers) the index called name on pool. leafMaxSize and
// internalMaxSize default to the page-capacity bounds when non-positive.
func New(name string, pool *bufferpool.Manager, cmp Comparator, leafMaxSize, internalMaxSize int) (*BPlusTree, error) {
	if name == "" {
		return nil, fmt.Errorf("btree: empty index name")
	}
	if cmp == nil {
		cmp = DefaultComparator
	}
	if leafMaxSize <= 0 || leafMaxSize > MaxLeafEntries {
		leafMaxSize = MaxLeafEntries
	}
	if internalMaxSize <= 0 || internalMaxSize > MaxInternalEntries {
		internalMaxSize = MaxInternalEntries
	}
	if leafMaxSize < 2 || internalMaxSize < 3 {
		return nil, fmt.Errorf("btree: max sizes too small (leaf %d, internal %d)", leafMaxSize, internalMaxSize)
	}

	t := &BPlusTree{
		name:            name,
		pool:            pool,
		cmp:             cmp,
		leafMaxSize:     leafMaxSize,
		internalMaxSize: internalMaxSize,
		rootPageID:      storage.InvalidPageID,
	}

	header, err := pool.FetchPage(storage.HeaderPageID)
	if err != nil {
		return nil, fmt.Errorf("btree: fetch header page: %w", err)
	}
	header.WLatch()
	view := storage.HeaderView{Data: header.Data()}
	root, found := view.GetRootID(name)
	registered := false
	if found {
		t.rootPageID = root
	} else {
		if !view.InsertRecord(name, storage.InvalidPageID) {
			header.WUnlatch()
			t.pool.UnpinPage(storage.HeaderPageID, false)
			return nil, ErrHeaderFull
		}
		registered = true
	}
	header.WUnlatch()
	t.pool.UnpinPage(storage.HeaderPageID, registered)

	return t, nil
}

// IsEmpty reports whether the tree has no root.
func (t *BPlusTree) IsEmpty() bool {
	t.rootMu.RLock()
	defer t.rootMu.RUnlock()
	return t.rootPageID == storage.InvalidPageID
}

// ---- lookup ----

// GetValue returns the RID stored under key.
func (t *BPlusTree) GetValue(key KeyType) (storage.RID, bool, error) {
	t.rootMu.RLock()
	if t.rootPageID == storage.InvalidPageID {
		t.rootMu.RUnlock()
		return storage.RID{}, false, nil
	}

	page, err := t.descendRead(key, false)
	if err != nil {
		return storage.RID{}, false, err
	}

	leaf := asLeaf(page)
	rid, found := leaf.Lookup(key, t.cmp)
	page.RUnlatch()
	t.pool.UnpinPage(page.ID(), false)
	return rid, found, nil
}

// descendRead crabs read latches from the root to the leaf for key
// (leftmost leaf when leftmost is set). The caller holds rootMu.RLock and
// this function releases it; the returned leaf is pinned and read-latched.
func (t *BPlusTree) descendRead(key KeyType, leftmost bool) (*storage.Page, error) {
	page, err := t.fetchPage(t.rootPageID)
	if err != nil {
		t.rootMu.RUnlock()
		return nil, err
	}
	page.RLatch()
	t.rootMu.RUnlock()

	for !asNode(page).isLeaf() {
		var childID storage.PageID
		if leftmost {
			childID = asInternal(page).ChildAt(0)
		} else {
			_, childID = asInternal(page).Lookup(key, t.cmp)
		}

		child, err := t.fetchPage(childID)
		if err != nil {
			page.RUnlatch()
			t.pool.UnpinPage(page.ID(), false)
			return nil, err
		}
		child.RLatch()
		page.RUnlatch()
		t.pool.UnpinPage(page.ID(), false)
		page = child
	}
	return page, nil
}

// ---- insert ----

// Insert adds (key, rid). It returns false when key is already present;
// duplicates are rejected with no structural change.
func (t *BPlusTree) Insert(key KeyType, rid storage.RID) (bool, error) {
	ctx := newOpContext(opInsert)
	t.rootMu.Lock()
	ctx.rootLocked = true

	if t.rootPageID == storage.InvalidPageID {
		err := t.startNewTree(key, rid)
		t.releaseRootLock(ctx)
		return err == nil, err
	}

	leafPage, err := t.descendWrite(key, ctx)
	if err != nil {
		t.releaseAncestors(ctx, false)
		return false, err
	}

	leaf := asLeaf(leafPage)
	if _, exists := leaf.Lookup(key, t.cmp); exists {
		leafPage.WUnlatch()
		t.pool.UnpinPage(leafPage.ID(), false)
		t.releaseAncestors(ctx, false)
		return false, nil
	}

	leaf.Insert(key, rid, t.cmp)
	if leaf.Size() > leaf.MaxSize() {
		if err := t.splitLeaf(leafPage, ctx); err != nil {
			leafPage.WUnlatch()
			t.pool.UnpinPage(leafPage.ID(), true)
			t.releaseAncestors(ctx, true)
			return false, err
		}
	}

	leafPage.WUnlatch()
	t.pool.UnpinPage(leafPage.ID(), true)
	t.releaseAncestors(ctx, ctx.dirty)
	return true, nil
}

// startNewTree creates a root leaf holding the first entry. Caller holds
// the root lock.
func (t *BPlusTree) startNewTree(key KeyType, rid storage.RID) error {
	page, err := t.pool.NewPage()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTreeOOM, err)
	}

	leaf := asLeaf(page)
	leaf.initLeaf(page.ID(), storage.InvalidPageID, t.leafMaxSize)
	leaf.Insert(key, rid, t.cmp)

	t.rootPageID = page.ID()
	err = t.updateHeaderRoot()
	t.pool.UnpinPage(page.ID(), true)

	slog.Debug("btree: started new tree", "index", t.name, "root", t.rootPageID)
	return err
}

// splitLeaf moves the upper half of an overflowing leaf into a new right
// sibling and pushes the separator into the parent.
func (t *BPlusTree) splitLeaf(leafPage *storage.Page, ctx *opContext) error {
	newPage, err := t.pool.NewPage()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTreeOOM, err)
	}

	leaf := asLeaf(leafPage)
	right := asLeaf(newPage)
	right.initLeaf(newPage.ID(), leaf.Parent(), t.leafMaxSize)
	leaf.moveHalfTo(right)

	separator := right.KeyAt(0)
	err = t.insertIntoParent(leafPage, separator, newPage, ctx)
	t.pool.UnpinPage(newPage.ID(), true)
	return err
}

// insertIntoParent links a freshly split right sibling next to leftPage,
// growing a new root when leftPage was the root and splitting the parent
// recursively when it overflows.
func (t *BPlusTree) insertIntoParent(leftPage *storage.Page, separator KeyType, rightPage *storage.Page, ctx *opContext) error {
	left := asNode(leftPage)

	if left.isRoot() {
		rootPage, err := t.pool.NewPage()
		if err != nil {
			return fmt.Errorf("%w: %v", ErrTreeOOM, err)
		}
		root := asInternal(rootPage)
		root.initInternal(rootPage.ID(), storage.InvalidPageID, t.internalMaxSize)
		root.populateNewRoot(left.ID(), separator, rightPage.ID())
		left.SetParent(root.ID())
		asNode(rightPage).SetParent(root.ID())

		t.rootPageID = root.ID()
		err = t.updateHeaderRoot()
		t.pool.UnpinPage(rootPage.ID(), true)

		slog.Debug("btree: grew new root", "index", t.name, "root", t.rootPageID)
		return err
	}

	parentPage := ctx.findAncestor(left.Parent())
	if parentPage == nil {
		slog.Error("btree: split parent not retained by traversal",
			"index", t.name, "page", left.ID(), "parent", left.Parent())
		return ErrCorrupted
	}
	parent := asInternal(parentPage)

	asNode(rightPage).SetParent(parent.ID())
	parent.insertNodeAfter(left.ID(), separator, rightPage.ID())
	ctx.dirty = true

	if parent.Size() <= parent.MaxSize() {
		return nil
	}

	// The parent overflowed as well: split it and keep propagating.
	newPage, err := t.pool.NewPage()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTreeOOM, err)
	}
	newRight := asInternal(newPage)
	newRight.initInternal(newPage.ID(), parent.Parent(), t.internalMaxSize)

	lifted, err := parent.moveHalfTo(newRight, t.reparentTo(newPage.ID()))
	if err != nil {
		t.pool.UnpinPage(newPage.ID(), true)
		return err
	}

	err = t.insertIntoParent(parentPage, lifted, newPage, ctx)
	t.pool.UnpinPage(newPage.ID(), true)
	return err
}

// reparentTo rebinds a child's parent pointer. The new parent is
// write-latched by this traversal, so nothing else can be mutating the
// child's header concurrently.
func (t *BPlusTree) reparentTo(parentID storage.PageID) func(storage.PageID) error {
	return func(childID storage.PageID) error {
		child, err := t.fetchPage(childID)
		if err != nil {
			return err
		}
		asNode(child).SetParent(parentID)
		t.pool.UnpinPage(childID, true)
		return nil
	}
}

// ---- delete ----

// Remove deletes key. Absent keys are a silent no-op.
func (t *BPlusTree) Remove(key KeyType) error {
	ctx := newOpContext(opDelete)
	t.rootMu.Lock()
	ctx.rootLocked = true

	if t.rootPageID == storage.InvalidPageID {
		t.releaseRootLock(ctx)
		return nil
	}

	leafPage, err := t.descendWrite(key, ctx)
	if err != nil {
		t.releaseAncestors(ctx, false)
		return err
	}

	leaf := asLeaf(leafPage)
	oldSize := leaf.Size()
	newSize := leaf.Remove(key, t.cmp)
	if newSize == oldSize {
		leafPage.WUnlatch()
		t.pool.UnpinPage(leafPage.ID(), false)
		t.releaseAncestors(ctx, false)
		return nil
	}
	ctx.dirty = true

	if leaf.isRoot() || newSize >= leaf.MinSize() {
		if leaf.isRoot() {
			if _, err := t.adjustRoot(leafPage, ctx); err != nil {
				t.finishWrite(leafPage, ctx)
				return err
			}
		}
	} else if _, err := t.coalesceOrRedistribute(leafPage, ctx); err != nil {
		t.finishWrite(leafPage, ctx)
		return err
	}

	t.finishWrite(leafPage, ctx)
	return nil
}

// finishWrite releases the leaf, the retained ancestors, and then hands
// merged-away pages to the pool after their last unpin.
func (t *BPlusTree) finishWrite(leafPage *storage.Page, ctx *opContext) {
	leafPage.WUnlatch()
	t.pool.UnpinPage(leafPage.ID(), ctx.dirty)
	t.releaseAncestors(ctx, ctx.dirty)

	for _, id := range ctx.deleted {
		if !t.pool.DeletePage(id) {
			slog.Debug("btree: deferred page delete skipped", "index", t.name, "pageID", id)
		}
	}
	ctx.deleted = nil
}

// coalesceOrRedistribute restores the occupancy invariant of an underflowing
// node. Returns true when the node itself was emptied into a sibling and
// scheduled for deletion.
func (t *BPlusTree) coalesceOrRedistribute(nodePage *storage.Page, ctx *opContext) (bool, error) {
	n := asNode(nodePage)
	if n.isRoot() {
		return t.adjustRoot(nodePage, ctx)
	}

	parentPage := ctx.findAncestor(n.Parent())
	if parentPage == nil {
		slog.Error("btree: underflow parent not retained by traversal",
			"index", t.name, "page", n.ID(), "parent", n.Parent())
		return false, ErrCorrupted
	}
	parent := asInternal(parentPage)

	idx := parent.ChildIndex(nodePage.ID())
	if idx < 0 {
		return false, ErrCorrupted
	}
	sibIdx := idx - 1
	if idx == 0 {
		sibIdx = 1
	}

	sibPage, err := t.fetchPage(parent.ChildAt(sibIdx))
	if err != nil {
		return false, err
	}
	sibPage.WLatch()
	sib := asNode(sibPage)

	if sib.Size()+n.Size() <= n.MaxSize()-1 {
		nodeGone, err := t.coalesce(nodePage, sibPage, parentPage, idx, sibIdx, ctx)
		return nodeGone, err
	}

	err = t.redistribute(nodePage, sibPage, parent, idx, sibIdx)
	sibPage.WUnlatch()
	t.pool.UnpinPage(sibPage.ID(), true)
	return false, err
}

// coalesce merges the right node of the (node, sibling) pair into the left
// and removes the vanished child from the parent, recursing upward when the
// parent underflows. Always consumes the sibling latch/pin.
func (t *BPlusTree) coalesce(nodePage, sibPage, parentPage *storage.Page, idx, sibIdx int, ctx *opContext) (bool, error) {
	parent := asInternal(parentPage)

	leftPage, rightPage := sibPage, nodePage
	rightIdx := idx
	if idx == 0 {
		// Node is leftmost: merge the right sibling into it instead.
		leftPage, rightPage = nodePage, sibPage
		rightIdx = sibIdx
	}

	middleKey := parent.KeyAt(rightIdx)

	var err error
	if asNode(nodePage).isLeaf() {
		asLeaf(rightPage).moveAllTo(asLeaf(leftPage))
	} else {
		err = asInternal(rightPage).moveAllTo(asInternal(leftPage), middleKey, t.reparentTo(leftPage.ID()))
	}
	if err != nil {
		sibPage.WUnlatch()
		t.pool.UnpinPage(sibPage.ID(), true)
		return false, err
	}

	parent.removeAt(rightIdx)
	ctx.markDeleted(rightPage.ID())

	sibPage.WUnlatch()
	t.pool.UnpinPage(sibPage.ID(), true)

	if parent.isRoot() {
		if parent.Size() < 2 {
			if _, err := t.adjustRoot(parentPage, ctx); err != nil {
				return rightPage == nodePage, err
			}
		}
	} else if parent.Size() < parent.MinSize() {
		if _, err := t.coalesceOrRedistribute(parentPage, ctx); err != nil {
			return rightPage == nodePage, err
		}
	}
	return rightPage == nodePage, nil
}

// redistribute moves exactly one entry from the sibling into the node and
// refreshes the parent separator between them.
func (t *BPlusTree) redistribute(nodePage, sibPage *storage.Page, parent InternalNode, idx, sibIdx int) error {
	if asNode(nodePage).isLeaf() {
		nodeLeaf, sibLeaf := asLeaf(nodePage), asLeaf(sibPage)
		if idx == 0 {
			// Sibling is on the right: its first entry becomes our last.
			newSep := sibLeaf.moveFirstToEndOf(nodeLeaf)
			parent.setKeyAt(sibIdx, newSep)
		} else {
			// Sibling is on the left: its last entry becomes our first.
			newSep := sibLeaf.moveLastToFrontOf(nodeLeaf)
			parent.setKeyAt(idx, newSep)
		}
		return nil
	}

	nodeInt, sibInt := asInternal(nodePage), asInternal(sibPage)
	if idx == 0 {
		newSep, err := sibInt.moveFirstToEndOf(nodeInt, parent.KeyAt(sibIdx), t.reparentTo(nodeInt.ID()))
		if err != nil {
			return err
		}
		parent.setKeyAt(sibIdx, newSep)
		return nil
	}
	newSep, err := sibInt.moveLastToFrontOf(nodeInt, parent.KeyAt(idx), t.reparentTo(nodeInt.ID()))
	if err != nil {
		return err
	}
	parent.setKeyAt(idx, newSep)
	return nil
}

// adjustRoot handles underflow at the root: an empty root leaf clears the
// tree; a root internal with a single child is collapsed into that child.
// Returns true when the old root page was scheduled for deletion.
func (t *BPlusTree) adjustRoot(rootPage *storage.Page, ctx *opContext) (bool, error) {
	n := asNode(rootPage)

	if n.isLeaf() {
		if n.Size() > 0 {
			return false, nil
		}
		t.rootPageID = storage.InvalidPageID
		if err := t.updateHeaderRoot(); err != nil {
			return false, err
		}
		ctx.markDeleted(n.ID())
		slog.Debug("btree: tree emptied", "index", t.name)
		return true, nil
	}

	if n.Size() != 1 {
		return false, nil
	}

	child := asInternal(rootPage).removeAndReturnOnlyChild()
	childPage, err := t.fetchPage(child)
	if err != nil {
		return false, err
	}
	asNode(childPage).SetParent(storage.InvalidPageID)
	t.pool.UnpinPage(child, true)

	t.rootPageID = child
	if err := t.updateHeaderRoot(); err != nil {
		return false, err
	}
	ctx.markDeleted(n.ID())

	slog.Debug("btree: collapsed root", "index", t.name, "root", child)
	return true, nil
}

// ---- traversal plumbing ----

// descendWrite crabs write latches from the root to the leaf for key. The
// caller holds rootMu.Lock; the lock and all ancestor latches are released
// as soon as a safe node is reached. Unsafe ancestors stay latched and
// pinned in ctx. The returned leaf is pinned and write-latched (it is NOT
// in ctx).
func (t *BPlusTree) descendWrite(key KeyType, ctx *opContext) (*storage.Page, error) {
	page, err := t.fetchPage(t.rootPageID)
	if err != nil {
		return nil, err
	}
	page.WLatch()
	if ctx.safe(asNode(page)) {
		t.releaseRootLock(ctx)
	}

	for !asNode(page).isLeaf() {
		_, childID := asInternal(page).Lookup(key, t.cmp)
		child, err := t.fetchPage(childID)
		if err != nil {
			page.WUnlatch()
			t.pool.UnpinPage(page.ID(), false)
			return nil, err
		}
		child.WLatch()
		ctx.push(page)
		if ctx.safe(asNode(child)) {
			t.releaseAncestors(ctx, false)
		}
		page = child
	}
	return page, nil
}

// releaseAncestors unlatches and unpins the retained chain (oldest first)
// and drops the root lock when still held.
func (t *BPlusTree) releaseAncestors(ctx *opContext, dirty bool) {
	t.releaseRootLock(ctx)
	for _, p := range ctx.ancestors {
		p.WUnlatch()
		t.pool.UnpinPage(p.ID(), dirty)
	}
	ctx.ancestors = ctx.ancestors[:0]
}

func (t *BPlusTree) releaseRootLock(ctx *opContext) {
	if ctx.rootLocked {
		t.rootMu.Unlock()
		ctx.rootLocked = false
	}
}

func (t *BPlusTree) fetchPage(id storage.PageID) (*storage.Page, error) {
	page, err := t.pool.FetchPage(id)
	if err != nil {
		if errors.Is(err, bufferpool.ErrNoFreeFrame) {
			return nil, fmt.Errorf("%w: %v", ErrTreeOOM, err)
		}
		return nil, err
	}
	return page, nil
}

// updateHeaderRoot publishes rootPageID into the header page record for
// this index. Caller holds the root lock.
func (t *BPlusTree) updateHeaderRoot() error {
	header, err := t.pool.FetchPage(storage.HeaderPageID)
	if err != nil {
		return fmt.Errorf("btree: fetch header page: %w", err)
	}
	header.WLatch()
	view := storage.HeaderView{Data: header.Data()}
	ok := view.UpdateRecord(t.name, t.rootPageID)
	header.WUnlatch()
	t.pool.UnpinPage(storage.HeaderPageID, ok)
	if !ok {
		return fmt.Errorf("%w: index %q missing from header", ErrCorrupted, t.name)
	}
	return nil
}
