package btree

import (
	"github.com/tuannm99/minibase/internal/storage"
)

type opKind int

const (
	opRead opKind = iota
	opInsert
	opDelete
)

// opContext tracks what one traversal holds: the write-latched ancestor
// chain (oldest first), whether the root lock is still held, and pages that
// must be handed to DeletePage once everything is unlatched and unpinned.
type opContext struct {
	op         opKind
	ancestors  []*storage.Page
	rootLocked bool
	dirty      bool
	deleted    []storage.PageID
}

func newOpContext(op opKind) *opContext {
	return &opContext{op: op}
}

func (c *opContext) push(page *storage.Page) {
	c.ancestors = append(c.ancestors, page)
}

// findAncestor returns the already-latched ancestor page for id, if the
// traversal retained it.
func (c *opContext) findAncestor(id storage.PageID) *storage.Page {
	for _, p := range c.ancestors {
		if p.ID() == id {
			return p
		}
	}
	return nil
}

func (c *opContext) markDeleted(id storage.PageID) {
	c.deleted = append(c.deleted, id)
}

// safe reports whether a node absorbs the operation without propagating a
// structural change to its parent.
func (c *opContext) safe(n node) bool {
	switch c.op {
	case opInsert:
		return n.Size() < n.MaxSize()
	case opDelete:
		if n.isRoot() {
			if n.isLeaf() {
				return n.Size() > 1
			}
			return n.Size() > 2
		}
		return n.Size() > n.MinSize()
	default:
		return true
	}
}
