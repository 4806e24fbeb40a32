package btree

import (
	"github.com/tuannm99/minibase/internal/storage"
	"github.com/tuannm99/minibase/pkg/bx"
)

// Node pages share a common header, followed by kind-specific payload.
// All fields are little-endian inside the frame bytes:
//
//	+----------------+ 0
//	| pageType  u16  |
//	| (reserved) u16 |
//	| lsn       u64  |
//	| size      u32  |
//	| maxSize   u32  |
//	| parent    i32  |
//	| pageID    i32  |
//	+----------------+ 28 (nodeHeaderSize)
//	| leaf: next i32 | (leaves only)
//	+----------------+
//	| entries ...    |
//	+----------------+
//
// The views below are zero-copy: they read and write the frame bytes of a
// pinned page directly, so the caller owns pinning and latching.
type pageType uint16

const (
	pageTypeInvalid  pageType = 0
	pageTypeInternal pageType = 1
	pageTypeLeaf     pageType = 2
)

const (
	offPageType = 0
	offLSN      = 4
	offSize     = 12
	offMaxSize  = 16
	offParent   = 20
	offPageID   = 24

	nodeHeaderSize = 28

	offLeafNext    = nodeHeaderSize
	leafHeaderSize = nodeHeaderSize + 4

	// Leaf entry: key i64 + RID (pageID i32, slot u16).
	leafEntrySize = 8 + 4 + 2

	// Internal entry: key i64 + child i32. Slot 0's key is unused.
	internalEntrySize = 8 + 4
)

// MaxLeafEntries and MaxInternalEntries are the hard page-capacity bounds
// used when the caller does not configure smaller max sizes.
const (
	MaxLeafEntries     = (storage.PageSize - leafHeaderSize) / leafEntrySize
	MaxInternalEntries = (storage.PageSize - nodeHeaderSize) / internalEntrySize
)

// node is the header view shared by leaf and internal pages.
type node struct {
	page *storage.Page
}

func (n node) data() []byte { return n.page.Data() }

func (n node) kind() pageType { return pageType(bx.U16At(n.data(), offPageType)) }

func (n node) isLeaf() bool { return n.kind() == pageTypeLeaf }

func (n node) isRoot() bool { return n.Parent() == storage.InvalidPageID }

func (n node) LSN() uint64       { return bx.U64At(n.data(), offLSN) }
func (n node) SetLSN(lsn uint64) { bx.PutU64At(n.data(), offLSN, lsn) }

func (n node) Size() int        { return int(bx.U32At(n.data(), offSize)) }
func (n node) setSize(size int) { bx.PutU32At(n.data(), offSize, uint32(size)) }

func (n node) MaxSize() int { return int(bx.U32At(n.data(), offMaxSize)) }

// MinSize is the occupancy floor for non-root nodes. Using max/2 for both
// node kinds keeps the coalesce-vs-redistribute split sound for every max:
// a sibling at exactly MinSize always fits into a merge.
func (n node) MinSize() int { return n.MaxSize() / 2 }

func (n node) Parent() storage.PageID {
	return storage.PageID(bx.I32At(n.data(), offParent))
}

func (n node) SetParent(id storage.PageID) {
	bx.PutI32At(n.data(), offParent, int32(id))
}

func (n node) ID() storage.PageID {
	return storage.PageID(bx.I32At(n.data(), offPageID))
}

func (n node) init(kind pageType, id, parent storage.PageID, maxSize int) {
	bx.PutU16At(n.data(), offPageType, uint16(kind))
	bx.PutU16At(n.data(), offPageType+2, 0)
	bx.PutU64At(n.data(), offLSN, 0)
	bx.PutU32At(n.data(), offSize, 0)
	bx.PutU32At(n.data(), offMaxSize, uint32(maxSize))
	bx.PutI32At(n.data(), offParent, int32(parent))
	bx.PutI32At(n.data(), offPageID, int32(id))
}

// asNode wraps a pinned page without checking its type tag.
func asNode(page *storage.Page) node { return node{page: page} }

// asLeaf and asInternal wrap a pinned page as a leaf or internal view; like
// asNode they do not check the stored type tag.
func asLeaf(page *storage.Page) LeafNode { return LeafNode{node{page: page}} }

func asInternal(page *storage.Page) InternalNode { return InternalNode{node{page: page}} }
