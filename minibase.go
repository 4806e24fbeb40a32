// Package minibase is a disk-backed storage core: a fixed-capacity buffer
// pool over a page file, and concurrent B+Tree indexes stored inside those
// pages. It is a library; hosts embed it and drive it directly.
package minibase

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/tuannm99/minibase/internal"
	"github.com/tuannm99/minibase/internal/btree"
	"github.com/tuannm99/minibase/internal/bufferpool"
	"github.com/tuannm99/minibase/internal/storage"
	"github.com/tuannm99/minibase/internal/wal"
)

var ErrDatabaseClosed = errors.New("minibase: database is closed")

// Options configures a DB. File is required; the other zero values fall back
// to sensible defaults, and WAL is enabled only when WALDir is set.
type Options struct {
	File            string
	WALDir          string
	PoolSize        int
	Replacer        string // "lru" (default) or "clock"
	LeafMaxSize     int
	InternalMaxSize int
}

// DB owns the disk manager, the shared buffer pool, the optional log
// manager, and the indexes opened through it.
type DB struct {
	opts Options
	disk *storage.FileDiskManager
	pool *bufferpool.Manager
	log  *wal.Manager

	mu      sync.Mutex
	indexes map[string]*btree.BPlusTree
	closed  bool
}

// Open creates or opens the database file named in opts.
func Open(opts Options) (*DB, error) {
	if opts.File == "" {
		return nil, fmt.Errorf("minibase: no database file configured")
	}

	disk, err := storage.NewFileDiskManager(opts.File)
	if err != nil {
		return nil, err
	}

	var log *wal.Manager
	if opts.WALDir != "" {
		log, err = wal.Open(opts.WALDir)
		if err != nil {
			_ = disk.Close()
			return nil, err
		}
	}

	pool := bufferpool.New(disk, opts.PoolSize, log)
	if opts.Replacer == "clock" {
		pool.WithReplacer(bufferpool.NewClockReplacer(pool.PoolSize()))
	}

	slog.Debug("minibase: opened database",
		"file", opts.File,
		"poolSize", pool.PoolSize(),
		"wal", opts.WALDir != "")

	return &DB{
		opts:    opts,
		disk:    disk,
		pool:    pool,
		log:     log,
		indexes: make(map[string]*btree.BPlusTree),
	}, nil
}

// OpenConfig opens a database described by a yaml config file.
func OpenConfig(path string) (*DB, error) {
	cfg, err := internal.LoadConfig(path)
	if err != nil {
		return nil, err
	}
	return Open(Options{
		File:            cfg.Storage.File,
		WALDir:          cfg.Storage.WALDir,
		PoolSize:        cfg.Storage.PoolSize,
		Replacer:        cfg.Storage.Replacer,
		LeafMaxSize:     cfg.Index.LeafMaxSize,
		InternalMaxSize: cfg.Index.InternalMaxSize,
	})
}

// Index opens (or registers) the named B+Tree index. The mapping from name
// to root page lives on the header page, so reopening a database yields the
// same trees.
func (db *DB) Index(name string) (*btree.BPlusTree, error) {
	return db.IndexWithComparator(name, nil)
}

// IndexWithComparator is Index with a custom key ordering.
func (db *DB) IndexWithComparator(name string, cmp btree.Comparator) (*btree.BPlusTree, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	if db.closed {
		return nil, ErrDatabaseClosed
	}
	if t, ok := db.indexes[name]; ok {
		return t, nil
	}

	t, err := btree.New(name, db.pool, cmp, db.opts.LeafMaxSize, db.opts.InternalMaxSize)
	if err != nil {
		return nil, err
	}
	db.indexes[name] = t
	return t, nil
}

// Pool exposes the shared buffer pool (diagnostics, tests).
func (db *DB) Pool() *bufferpool.Manager { return db.pool }

// Log exposes the log manager handle; nil when WAL is disabled.
func (db *DB) Log() *wal.Manager { return db.log }

// Flush writes every dirty page back and syncs the data file.
func (db *DB) Flush() error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if db.closed {
		return ErrDatabaseClosed
	}
	db.pool.FlushAllPages()
	return db.disk.Sync()
}

// Close flushes and releases the database. Further use fails with
// ErrDatabaseClosed.
func (db *DB) Close() error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if db.closed {
		return nil
	}
	db.closed = true

	db.pool.FlushAllPages()
	err := db.disk.Sync()
	if cerr := db.disk.Close(); err == nil {
		err = cerr
	}
	if cerr := db.log.Close(); err == nil {
		err = cerr
	}
	return err
}
