package wal

import (
	"bufio"
	"errors"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/tuannm99/minibase/internal/storage"
	"github.com/tuannm99/minibase/pkg/bx"
)

var (
	ErrBadMagic  = errors.New("wal: bad magic")
	ErrBadCRC    = errors.New("wal: bad crc")
	ErrBadRecord = errors.New("wal: bad record")
	ErrNoWALFile = errors.New("wal: wal file not found")
)

const (
	magicU32   uint32 = 0x4C41424D // "MBAL"
	versionU16        = 1

	recPageImage uint8 = 1
)

// Manager is an append-only page-image log. The storage core itself never
// appends records; it only carries the handle and honours the write-ahead
// rule (Flush before page writeback). Hosts append via AppendPageImage.
type Manager struct {
	mu      sync.Mutex
	f       *os.File
	path    string
	lsn     uint64
	flushed uint64
}

func Open(dir string) (*Manager, error) {
	if err := os.MkdirAll(dir, storage.FileMode0755); err != nil {
		return nil, err
	}
	path := filepath.Join(dir, "wal.log")
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_APPEND, storage.FileMode0644)
	if err != nil {
		return nil, err
	}
	m := &Manager{f: f, path: path}
	_ = m.initLastLSN()
	return m, nil
}

func (m *Manager) Close() error {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.f == nil {
		return nil
	}
	err := m.f.Close()
	m.f = nil
	return err
}

// LastLSN returns the highest LSN appended so far.
func (m *Manager) LastLSN() uint64 {
	if m == nil {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lsn
}

// AppendPageImage logs a full page image for pageID.
func (m *Manager) AppendPageImage(pageID storage.PageID, pageBytes []byte) (uint64, error) {
	if len(pageBytes) != storage.PageSize {
		return 0, ErrBadRecord
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.f == nil {
		return 0, ErrNoWALFile
	}

	m.lsn++
	lsn := m.lsn

	// fixed fields:
	// magic(4) ver(2) typ(1) rsv(1) totalLen(4) crc(4) lsn(8) pageID(4)
	fixed := 4 + 2 + 1 + 1 + 4 + 4 + 8 + 4
	totalLen := fixed + storage.PageSize

	buf := make([]byte, totalLen)
	off := 0

	putU32 := func(v uint32) { bx.PutU32(buf[off:off+4], v); off += 4 }
	putU16 := func(v uint16) { bx.PutU16(buf[off:off+2], v); off += 2 }
	putU64 := func(v uint64) { bx.PutU64(buf[off:off+8], v); off += 8 }
	putU8 := func(v uint8) { buf[off] = v; off++ }

	putU32(magicU32)
	putU16(versionU16)
	putU8(recPageImage)
	putU8(0)

	putU32(uint32(totalLen))

	crcOff := off
	putU32(0) // placeholder

	putU64(lsn)
	putU32(uint32(pageID))

	copy(buf[off:], pageBytes)
	off += storage.PageSize

	if off != totalLen {
		return 0, ErrBadRecord
	}

	crc := crc32.ChecksumIEEE(buf[crcOff+4:])
	bx.PutU32(buf[crcOff:crcOff+4], crc)

	if _, err := m.f.Write(buf); err != nil {
		return 0, err
	}
	return lsn, nil
}

// Flush makes all records up to lsn durable. The buffer pool calls this
// before writing a dirty page back so the log never lags the data file.
func (m *Manager) Flush(upto uint64) error {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.f == nil {
		return nil
	}
	if upto == 0 || upto <= m.flushed {
		return nil
	}
	if err := m.f.Sync(); err != nil {
		return err
	}
	m.flushed = upto
	return nil
}

// Recover replays logged page images in append order through apply.
func (m *Manager) Recover(apply func(pageID storage.PageID, page []byte) error) error {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	path := m.path
	m.mu.Unlock()

	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	defer func() { _ = f.Close() }()

	r := bufio.NewReaderSize(f, 1<<20)
	for {
		rec, err := readOne(r)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			// A torn tail record means a crash mid-append; stop replay there.
			if errors.Is(err, ErrBadCRC) || errors.Is(err, ErrBadRecord) || errors.Is(err, io.ErrUnexpectedEOF) {
				return nil
			}
			return err
		}
		if rec.typ != recPageImage {
			continue
		}
		if err := apply(rec.pageID, rec.page); err != nil {
			return err
		}
	}
}

type decodedRecord struct {
	typ    uint8
	lsn    uint64
	pageID storage.PageID
	page   []byte
}

func readOne(r *bufio.Reader) (*decodedRecord, error) {
	var head [12]byte
	if _, err := io.ReadFull(r, head[:]); err != nil {
		return nil, err
	}

	if bx.U32(head[0:4]) != magicU32 {
		return nil, ErrBadMagic
	}
	if bx.U16(head[4:6]) != versionU16 {
		return nil, ErrBadRecord
	}
	tp := head[6]
	totalLen := int(bx.U32(head[8:12]))
	if totalLen < 12+4 {
		return nil, ErrBadRecord
	}

	var crcBuf [4]byte
	if _, err := io.ReadFull(r, crcBuf[:]); err != nil {
		return nil, err
	}
	wantCRC := bx.U32(crcBuf[:])

	rest := make([]byte, totalLen-12-4)
	if _, err := io.ReadFull(r, rest); err != nil {
		return nil, err
	}
	if crc32.ChecksumIEEE(rest) != wantCRC {
		return nil, ErrBadCRC
	}

	if len(rest) < 8+4+storage.PageSize {
		return nil, ErrBadRecord
	}
	lsn := bx.U64(rest[0:8])
	pageID := storage.PageID(bx.U32(rest[8:12]))

	page := make([]byte, storage.PageSize)
	copy(page, rest[12:12+storage.PageSize])

	return &decodedRecord{typ: tp, lsn: lsn, pageID: pageID, page: page}, nil
}

func (m *Manager) initLastLSN() error {
	f, err := os.Open(m.path)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	r := bufio.NewReaderSize(f, 1<<20)
	var last uint64
	for {
		rec, err := readOne(r)
		if err != nil {
			break
		}
		if rec.lsn > last {
			last = rec.lsn
		}
	}
	if last > 0 {
		m.lsn = last
		m.flushed = last
	}
	return nil
}
