package storage

import "fmt"

// RID locates a tuple: which heap page it lives on and which slot within it.
// The index core treats it as an opaque fixed-size value.
type RID struct {
	PageID PageID
	Slot   uint16
}

func (r RID) String() string {
	return fmt.Sprintf("(%d,%d)", r.PageID, r.Slot)
}
