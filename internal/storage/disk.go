package storage

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
)

// DiskManager is the page-granular I/O collaborator of the buffer pool.
// Implementations must be safe for concurrent use.
type DiskManager interface {
	// ReadPage reads page pageID into dst (exactly PageSize bytes).
	ReadPage(pageID PageID, dst []byte) error

	// WritePage persists exactly PageSize bytes for pageID.
	WritePage(pageID PageID, data []byte) error

	// AllocatePage returns a fresh page id. Allocation is monotone except
	// that previously deallocated ids may be handed out again.
	AllocatePage() PageID

	// DeallocatePage returns pageID to the allocator.
	DeallocatePage(pageID PageID)
}

var _ DiskManager = (*FileDiskManager)(nil)

// FileDiskManager maps pageID -> offset pageID*PageSize in a single file.
type FileDiskManager struct {
	mu       sync.Mutex
	file     *os.File
	nextPage PageID
	freed    []PageID
}

// NewFileDiskManager opens (or creates) the database file at path.
func NewFileDiskManager(path string) (*FileDiskManager, error) {
	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, FileMode0644)
	if err != nil {
		return nil, fmt.Errorf("open database file: %w", err)
	}

	info, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("stat database file: %w", err)
	}

	// Page 0 is reserved for the header page and is never handed out by
	// the allocator; it materialises on first writeback.
	next := PageID(info.Size() / PageSize)
	if next < 1 {
		next = 1
	}

	return &FileDiskManager{
		file:     file,
		nextPage: next,
	}, nil
}

// ReadPage reads one page into dst. Reads past EOF are zero-filled so pages
// can be allocated lazily and materialised on first writeback.
func (d *FileDiskManager) ReadPage(pageID PageID, dst []byte) error {
	if len(dst) != PageSize {
		return fmt.Errorf("%w: dst must be exactly %d bytes", ErrInvalidOperation, PageSize)
	}
	if pageID < 0 {
		return fmt.Errorf("%w: read page %d", ErrInvalidOperation, pageID)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	n, err := d.file.ReadAt(dst, int64(pageID)*PageSize)
	if err != nil && err != io.EOF {
		return fmt.Errorf("read page %d: %w", pageID, err)
	}
	for i := n; i < PageSize; i++ {
		dst[i] = 0
	}
	return nil
}

func (d *FileDiskManager) WritePage(pageID PageID, data []byte) error {
	if len(data) != PageSize {
		return fmt.Errorf("%w: data must be exactly %d bytes", ErrInvalidOperation, PageSize)
	}
	if pageID < 0 {
		return fmt.Errorf("%w: write page %d", ErrInvalidOperation, pageID)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if _, err := d.file.WriteAt(data, int64(pageID)*PageSize); err != nil {
		return fmt.Errorf("write page %d: %w", pageID, err)
	}
	return nil
}

// AllocatePage prefers recycling a deallocated id before growing the file.
func (d *FileDiskManager) AllocatePage() PageID {
	d.mu.Lock()
	defer d.mu.Unlock()

	if n := len(d.freed); n > 0 {
		id := d.freed[n-1]
		d.freed = d.freed[:n-1]
		slog.Debug("disk: reuse freed page", "pageID", id)
		return id
	}

	id := d.nextPage
	d.nextPage++
	return id
}

func (d *FileDiskManager) DeallocatePage(pageID PageID) {
	if pageID <= HeaderPageID {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.freed = append(d.freed, pageID)
}

// Sync flushes file contents to stable storage.
func (d *FileDiskManager) Sync() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.file.Sync()
}

func (d *FileDiskManager) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.file.Close()
}
