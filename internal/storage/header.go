package storage

import "github.com/tuannm99/minibase/pkg/bx"

// HeaderView interprets page 0 as a table of (index name, root page id)
// records. It is a zero-copy view over the frame bytes; the caller owns
// pinning and latching of the underlying page.
//
// Layout:
//
//	+--------------+ 0
//	| recordCount  |  u32
//	+--------------+ 4
//	| name[32]     |  record 0 (NUL padded)
//	| rootPageID   |  i32
//	+--------------+ 4 + 36
//	| ...          |
type HeaderView struct {
	Data []byte
}

const (
	headerNameSize   = 32
	headerRecordSize = headerNameSize + 4
	headerCountOff   = 0
	headerRecordsOff = 4

	// MaxHeaderRecords is how many index records fit on the header page.
	MaxHeaderRecords = (PageSize - headerRecordsOff) / headerRecordSize
)

func (h HeaderView) RecordCount() int {
	return int(bx.U32At(h.Data, headerCountOff))
}

func (h HeaderView) setRecordCount(n int) {
	bx.PutU32At(h.Data, headerCountOff, uint32(n))
}

func (h HeaderView) recordOff(i int) int {
	return headerRecordsOff + i*headerRecordSize
}

func (h HeaderView) nameAt(i int) string {
	off := h.recordOff(i)
	raw := h.Data[off : off+headerNameSize]
	end := 0
	for end < len(raw) && raw[end] != 0 {
		end++
	}
	return string(raw[:end])
}

func (h HeaderView) rootAt(i int) PageID {
	return PageID(bx.I32At(h.Data, h.recordOff(i)+headerNameSize))
}

func (h HeaderView) find(name string) int {
	n := h.RecordCount()
	for i := 0; i < n; i++ {
		if h.nameAt(i) == name {
			return i
		}
	}
	return -1
}

// GetRootID looks up the root page id registered under name.
func (h HeaderView) GetRootID(name string) (PageID, bool) {
	i := h.find(name)
	if i < 0 {
		return InvalidPageID, false
	}
	return h.rootAt(i), true
}

// InsertRecord registers a new (name, root) pair. It fails when the name is
// already present, too long, or the header page is full.
func (h HeaderView) InsertRecord(name string, root PageID) bool {
	if len(name) == 0 || len(name) > headerNameSize {
		return false
	}
	if h.find(name) >= 0 {
		return false
	}
	n := h.RecordCount()
	if n >= MaxHeaderRecords {
		return false
	}

	off := h.recordOff(n)
	for i := 0; i < headerNameSize; i++ {
		h.Data[off+i] = 0
	}
	copy(h.Data[off:off+headerNameSize], name)
	bx.PutI32At(h.Data, off+headerNameSize, int32(root))
	h.setRecordCount(n + 1)
	return true
}

// UpdateRecord rebinds an existing name to a new root page id.
func (h HeaderView) UpdateRecord(name string, root PageID) bool {
	i := h.find(name)
	if i < 0 {
		return false
	}
	bx.PutI32At(h.Data, h.recordOff(i)+headerNameSize, int32(root))
	return true
}

// DeleteRecord removes a name, compacting the record array.
func (h HeaderView) DeleteRecord(name string) bool {
	i := h.find(name)
	if i < 0 {
		return false
	}
	n := h.RecordCount()
	if i < n-1 {
		src := h.recordOff(i + 1)
		dst := h.recordOff(i)
		copy(h.Data[dst:], h.Data[src:h.recordOff(n)])
	}
	// Zero the vacated tail record.
	off := h.recordOff(n - 1)
	for j := 0; j < headerRecordSize; j++ {
		h.Data[off+j] = 0
	}
	h.setRecordCount(n - 1)
	return true
}
