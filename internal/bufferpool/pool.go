package bufferpool

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/tuannm99/minibase/internal/storage"
	"github.com/tuannm99/minibase/internal/wal"
)

var (
	logDebugPrefix = "bufferpool: "

	// DefaultPoolSize is used when the caller passes a non-positive size.
	DefaultPoolSize = 64

	// ErrNoFreeFrame is returned when the free list is empty and every
	// resident page is pinned.
	ErrNoFreeFrame = errors.New("bufferpool: no free frame available (all pinned)")

	// ErrInvalidPageID is returned for fetches of the INVALID sentinel.
	ErrInvalidPageID = errors.New("bufferpool: invalid page id")
)

// Manager owns a fixed array of frames and translates page ids into pinned
// in-memory pages, reading and writing through the disk manager.
//
// One coarse mutex (the pool latch) guards the page table, the free list,
// the replacer, and every frame's metadata. It is held for the full
// duration of each public method; disk I/O happens under it, which is
// acceptable at this scale.
type Manager struct {
	mu        sync.Mutex
	frames    []*storage.Page
	pageTable map[storage.PageID]storage.FrameID
	freeList  []storage.FrameID
	replacer  Replacer
	disk      storage.DiskManager
	log       *wal.Manager // optional; nil disables write-ahead flushing
}

// New builds a pool of poolSize frames over disk. log may be nil.
func New(disk storage.DiskManager, poolSize int, log *wal.Manager) *Manager {
	if poolSize <= 0 {
		poolSize = DefaultPoolSize
	}

	m := &Manager{
		frames:    make([]*storage.Page, poolSize),
		pageTable: make(map[storage.PageID]storage.FrameID, poolSize),
		freeList:  make([]storage.FrameID, 0, poolSize),
		replacer:  NewLRUReplacer(poolSize),
		disk:      disk,
		log:       log,
	}
	for i := range m.frames {
		m.frames[i] = storage.NewPage()
		m.freeList = append(m.freeList, storage.FrameID(i))
	}
	return m
}

// WithReplacer swaps the replacement policy. Only safe before first use.
func (m *Manager) WithReplacer(r Replacer) *Manager {
	m.replacer = r
	return m
}

// PoolSize reports the fixed number of frames.
func (m *Manager) PoolSize() int { return len(m.frames) }

// PinnedFrames counts frames with an outstanding pin. Diagnostic: under a
// correct pin discipline it returns to zero between operations.
func (m *Manager) PinnedFrames() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for _, page := range m.frames {
		if page.PinCount() > 0 {
			n++
		}
	}
	return n
}

// FetchPage pins and returns the in-memory page for pageID, reading it from
// disk on a miss. Returns ErrNoFreeFrame when every frame is pinned.
func (m *Manager) FetchPage(pageID storage.PageID) (*storage.Page, error) {
	if pageID == storage.InvalidPageID || pageID < 0 {
		return nil, ErrInvalidPageID
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	// 1) Hit: pin and return.
	if frameID, ok := m.pageTable[pageID]; ok {
		page := m.frames[frameID]
		page.IncPin()
		m.replacer.Pin(frameID)
		return page, nil
	}

	// 2) Miss: bind a frame and read from disk.
	frameID, err := m.obtainFrameLocked()
	if err != nil {
		slog.Debug(logDebugPrefix+"fetch miss with no usable frame", "pageID", pageID)
		return nil, err
	}

	page := m.frames[frameID]
	page.Reset(pageID)
	page.IncPin()

	if err := m.disk.ReadPage(pageID, page.Data()); err != nil {
		// The frame was never published in the page table; hand it back.
		page.Reset(storage.InvalidPageID)
		m.freeList = append([]storage.FrameID{frameID}, m.freeList...)
		return nil, fmt.Errorf("fetch page %d: %w", pageID, err)
	}

	m.pageTable[pageID] = frameID
	m.replacer.Pin(frameID)
	return page, nil
}

// NewPage allocates a fresh page id from the disk manager and binds it to a
// frame with pin count 1 and zeroed memory.
func (m *Manager) NewPage() (*storage.Page, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.freeList) == 0 && m.replacer.Size() == 0 {
		slog.Debug(logDebugPrefix + "NewPage: all frames pinned")
		return nil, ErrNoFreeFrame
	}

	pageID := m.disk.AllocatePage()

	frameID, err := m.obtainFrameLocked()
	if err != nil {
		m.disk.DeallocatePage(pageID)
		return nil, err
	}

	page := m.frames[frameID]
	page.Reset(pageID)
	page.IncPin()

	m.pageTable[pageID] = frameID
	m.replacer.Pin(frameID)

	slog.Debug(logDebugPrefix+"NewPage", "pageID", pageID, "frameID", frameID)
	return page, nil
}

// UnpinPage drops one pin on pageID. dirty=true marks the frame dirty
// (sticky; unpinning with dirty=false never clears it). Returns false when
// the page is absent or its pin count is already zero.
func (m *Manager) UnpinPage(pageID storage.PageID, dirty bool) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	frameID, ok := m.pageTable[pageID]
	if !ok {
		return false
	}
	page := m.frames[frameID]

	if dirty {
		page.SetDirty(true)
	}

	if page.PinCount() <= 0 {
		slog.Error(logDebugPrefix+"unpin of page with zero pin count",
			"pageID", pageID, "frameID", frameID)
		return false
	}

	page.DecPin()
	if page.PinCount() == 0 {
		m.replacer.Unpin(frameID)
	}
	return true
}

// FlushPage writes the frame's bytes to disk and clears the dirty flag.
// Returns false for absent pages or the INVALID sentinel.
func (m *Manager) FlushPage(pageID storage.PageID) bool {
	if pageID == storage.InvalidPageID {
		return false
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	frameID, ok := m.pageTable[pageID]
	if !ok {
		return false
	}
	if err := m.writeBackLocked(m.frames[frameID]); err != nil {
		slog.Error(logDebugPrefix+"FlushPage writeback failed", "pageID", pageID, "err", err)
		return false
	}
	return true
}

// FlushAllPages writes every resident dirty frame back to disk.
func (m *Manager) FlushAllPages() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, page := range m.frames {
		if page.ID() == storage.InvalidPageID || !page.IsDirty() {
			continue
		}
		if err := m.writeBackLocked(page); err != nil {
			slog.Error(logDebugPrefix+"FlushAllPages writeback failed",
				"pageID", page.ID(), "err", err)
		}
	}
}

// DeletePage evicts pageID from the pool and returns its id to the disk
// allocator. Absent pages are deallocated and reported as success; pinned
// pages cannot be deleted.
func (m *Manager) DeletePage(pageID storage.PageID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	frameID, ok := m.pageTable[pageID]
	if !ok {
		m.disk.DeallocatePage(pageID)
		return true
	}

	page := m.frames[frameID]
	if page.PinCount() > 0 {
		slog.Debug(logDebugPrefix+"DeletePage: page is pinned",
			"pageID", pageID, "pin", page.PinCount())
		return false
	}

	delete(m.pageTable, pageID)
	m.replacer.Pin(frameID) // drop from the candidate set
	page.Reset(storage.InvalidPageID)
	m.freeList = append([]storage.FrameID{frameID}, m.freeList...)
	m.disk.DeallocatePage(pageID)
	return true
}

// obtainFrameLocked hands out a frame from the free list, falling back to
// evicting a replacer victim (flushing it first when dirty). The returned
// frame is unbound: not in the page table, the free list, or the replacer.
func (m *Manager) obtainFrameLocked() (storage.FrameID, error) {
	if len(m.freeList) > 0 {
		frameID := m.freeList[0]
		m.freeList = m.freeList[1:]
		return frameID, nil
	}

	frameID, ok := m.replacer.Victim()
	if !ok {
		return 0, ErrNoFreeFrame
	}

	victim := m.frames[frameID]
	if victim.ID() != storage.InvalidPageID {
		if victim.IsDirty() {
			if err := m.writeBackLocked(victim); err != nil {
				// Leave the victim resident and evictable; the caller sees
				// the I/O failure.
				m.replacer.Unpin(frameID)
				return 0, err
			}
		}
		delete(m.pageTable, victim.ID())
		slog.Debug(logDebugPrefix+"evicted page", "pageID", victim.ID(), "frameID", frameID)
	}
	return frameID, nil
}

// writeBackLocked persists one frame, honouring write-ahead ordering when a
// log manager is attached.
func (m *Manager) writeBackLocked(page *storage.Page) error {
	if m.log != nil {
		if err := m.log.Flush(m.log.LastLSN()); err != nil {
			return fmt.Errorf("flush log before page %d: %w", page.ID(), err)
		}
	}
	if err := m.disk.WritePage(page.ID(), page.Data()); err != nil {
		return err
	}
	page.SetDirty(false)
	return nil
}
