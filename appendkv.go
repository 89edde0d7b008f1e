// Package appendkv is a single-file, append-only key-value store.
//
// Every insert, update and delete appends a checksummed record to the data
// file. Point reads go through an in-memory index of key -> record offset,
// which starts empty on Open and is rebuilt from the file by Load.
package appendkv

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"appendkv/internal/log"
	"appendkv/internal/metrics"
	"appendkv/internal/options"
	"appendkv/logfile"
)

// Options for opening a DB.
type Options = options.Options

// DefaultOptions default options for a DB at path.
func DefaultOptions(path string) Options {
	return options.DefaultOptions(path)
}

var (
	// ErrCorrupt a record failed checksum verification. The operation that
	// hit it stopped there, nothing past the corrupt record was read.
	ErrCorrupt = logfile.ErrInvalidCrc

	// ErrClosed the DB has been closed.
	ErrClosed = errors.New("appendkv: db is closed")

	// ErrFileLocked the data file is locked by another DB.
	ErrFileLocked = logfile.ErrFileLocked

	// ErrTooLarge a key or value does not fit the 32-bit length fields.
	ErrTooLarge = errors.New("appendkv: key or value exceeds 4 GiB")

	// ErrInvalidOffset an index entry points outside the data file.
	ErrInvalidOffset = errors.New("appendkv: offset outside the data file")
)

// DB is one open data file and its index.
type DB struct {
	logFile *logfile.LogFile
	index   *keyIndex
	opts    Options
	metrics *metrics.Metrics
	mu      *sync.RWMutex
	closed  bool
}

type config struct {
	Options
	registerer prometheus.Registerer
}

// Option tweaks how a DB is opened.
type Option func(*config)

// WithSync fsyncs the data file after every write.
func WithSync(sync bool) Option {
	return func(c *config) { c.Sync = sync }
}

// WithFileLock holds an advisory exclusive lock on the data file while open.
func WithFileLock(lock bool) Option {
	return func(c *config) { c.FileLock = lock }
}

// WithMMap reads full scans through a read-only memory mapping.
func WithMMap(mmap bool) Option {
	return func(c *config) {
		c.IOType = options.FileIO
		if mmap {
			c.IOType = options.MMap
		}
	}
}

// WithRegisterer registers the DB metrics with reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(c *config) { c.registerer = reg }
}

// Open opens the data file at path, creating it if absent. The index
// starts empty: call Load before Get can see records written earlier.
// You must call Close after using it.
func Open(path string, opts ...Option) (*DB, error) {
	return OpenWithOptions(DefaultOptions(path), opts...)
}

// OpenWithOptions is Open with explicit options.
func OpenWithOptions(o Options, opts ...Option) (*DB, error) {
	cfg := config{Options: o}
	for _, opt := range opts {
		opt(&cfg)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	ioType := logfile.FileIO
	if cfg.IOType == options.MMap {
		ioType = logfile.MMap
	}
	lf, err := logfile.OpenLogFile(cfg.Path, ioType)
	if err != nil {
		log.Errorf("open log file err : %v", err)
		return nil, fmt.Errorf("appendkv: open %s: %w", cfg.Path, err)
	}
	if cfg.FileLock {
		if err := lf.Lock(); err != nil {
			lf.Close()
			return nil, fmt.Errorf("appendkv: lock %s: %w", cfg.Path, err)
		}
	}

	db := &DB{
		logFile: lf,
		index:   newKeyIndex(),
		opts:    cfg.Options,
		metrics: metrics.New(cfg.registerer, cfg.MetricsNamespace, cfg.Path),
		mu:      new(sync.RWMutex),
	}
	db.metrics.IndexKeys.Set(0)
	log.Debug("opened data file", "path", cfg.Path, "size", lf.Size(), "io_type", cfg.IOType)
	return db, nil
}

// Path returns the data file path.
func (db *DB) Path() string {
	return db.opts.Path
}

// Load rebuilds the index from a full scan of the data file. The previous
// index is kept if the scan fails, a corrupt record fails the whole load.
func (db *DB) Load() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return ErrClosed
	}

	start := time.Now()
	db.metrics.Scans.WithLabelValues(metrics.ScanLoad).Inc()
	sc := db.logFile.Scan()
	defer sc.Close()

	idx, err := rebuildIndex(sc)
	if err != nil {
		db.noteCorruption(err)
		return fmt.Errorf("appendkv: load %s: %w", db.opts.Path, err)
	}
	if end, size := sc.End(), db.logFile.Size(); end < size {
		log.Warn("data file has trailing bytes after the last complete record",
			"path", db.opts.Path, "valid_size", end, "file_size", size)
	}

	db.index = idx
	db.metrics.IndexKeys.Set(float64(idx.size()))
	log.Info("index loaded", "path", db.opts.Path, "keys", idx.size(), "cost", time.Since(start))
	return nil
}

// Get returns the value of the key's most recent record known to the index.
// found is false when the index has no entry for key. A deleted key is found
// with an empty value.
func (db *DB) Get(key []byte) (value []byte, found bool, err error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	if db.closed {
		return nil, false, ErrClosed
	}

	offset, ok := db.index.lookup(key)
	if !ok {
		return nil, false, nil
	}
	e, err := db.readAt(offset)
	if err != nil {
		return nil, false, err
	}
	return e.Value, true, nil
}

// GetAt reads the record starting at offset.
func (db *DB) GetAt(offset int64) (key, value []byte, err error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	if db.closed {
		return nil, nil, ErrClosed
	}

	e, err := db.readAt(offset)
	if err != nil {
		return nil, nil, err
	}
	return e.Key, e.Value, nil
}

// Find scans the whole data file for key, ignoring the index.
// The last record for key wins.
func (db *DB) Find(key []byte) (value []byte, found bool, err error) {
	_, value, found, err = db.FindAt(key)
	return
}

// FindAt is Find that also returns the offset of the matching record.
func (db *DB) FindAt(key []byte) (offset int64, value []byte, found bool, err error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	if db.closed {
		return 0, nil, false, ErrClosed
	}

	db.metrics.Scans.WithLabelValues(metrics.ScanFind).Inc()
	sc := db.logFile.Scan()
	defer sc.Close()
	for sc.Next() {
		if e := sc.Entry(); bytes.Equal(e.Key, key) {
			offset, value, found = sc.Offset(), e.Value, true
		}
	}
	if err := sc.Err(); err != nil {
		db.noteCorruption(err)
		return 0, nil, false, fmt.Errorf("appendkv: scan %s: %w", db.opts.Path, err)
	}
	return offset, value, found, nil
}

// Insert appends a record for key and points the index at it.
func (db *DB) Insert(key, value []byte) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return ErrClosed
	}
	return db.put(key, value)
}

// Update is Insert: the new record shadows the old one.
func (db *DB) Update(key, value []byte) error {
	return db.Insert(key, value)
}

// Delete inserts key with an empty value. The key stays in the index.
func (db *DB) Delete(key []byte) error {
	return db.Insert(key, []byte{})
}

// Forget drops key from the in-memory index without writing anything.
// Its records stay in the data file and come back on the next Load.
func (db *DB) Forget(key []byte) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return
	}
	db.index.remove(key)
	db.metrics.IndexKeys.Set(float64(db.index.size()))
}

// Count returns the number of keys in the index.
func (db *DB) Count() int {
	db.mu.RLock()
	defer db.mu.RUnlock()
	if db.closed {
		return 0
	}
	return db.index.size()
}

// Keys returns the indexed keys in byte order.
func (db *DB) Keys() [][]byte {
	db.mu.RLock()
	defer db.mu.RUnlock()
	if db.closed {
		return nil
	}
	keys := make([][]byte, 0, db.index.size())
	db.index.forEach(func(key []byte, _ int64) bool {
		keys = append(keys, bytes.Clone(key))
		return true
	})
	return keys
}

// IndexEntries returns a copy of the index in key order.
func (db *DB) IndexEntries() []IndexEntry {
	db.mu.RLock()
	defer db.mu.RUnlock()
	if db.closed {
		return nil
	}
	return db.index.entries()
}

// RestoreIndex replaces the index with entries, typically a snapshot saved
// earlier in the data file itself. Offsets must fall inside the file.
func (db *DB) RestoreIndex(entries []IndexEntry) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return ErrClosed
	}

	size := db.logFile.Size()
	idx := newKeyIndex()
	for _, e := range entries {
		if e.Offset < 0 || e.Offset+logfile.HeaderSize > size {
			return fmt.Errorf("%w: key %q at %d, file size %d", ErrInvalidOffset, e.Key, e.Offset, size)
		}
		idx.insert(e.Key, e.Offset)
	}
	db.index = idx
	db.metrics.IndexKeys.Set(float64(idx.size()))
	return nil
}

// Sync commits the data file to stable storage.
func (db *DB) Sync() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return ErrClosed
	}
	return db.logFile.Sync()
}

// Close syncs and closes the data file, releasing its lock if held.
func (db *DB) Close() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return nil
	}
	db.closed = true

	if err := db.logFile.Sync(); err != nil {
		db.logFile.Close()
		return err
	}
	return db.logFile.Close()
}

func (db *DB) put(key, value []byte) error {
	if uint64(len(key)) > math.MaxUint32 || uint64(len(value)) > math.MaxUint32 {
		return ErrTooLarge
	}
	buf, size := logfile.EncodeEntry(&logfile.LogEntry{Key: key, Value: value})
	offset, err := db.logFile.Append(buf)
	if err != nil {
		return fmt.Errorf("appendkv: append to %s: %w", db.opts.Path, err)
	}
	if db.opts.Sync {
		if err := db.logFile.Sync(); err != nil {
			return fmt.Errorf("appendkv: sync %s: %w", db.opts.Path, err)
		}
	}

	db.index.insert(key, offset)
	db.metrics.RecordsAppended.Inc()
	db.metrics.BytesAppended.Add(float64(size))
	db.metrics.IndexKeys.Set(float64(db.index.size()))
	return nil
}

func (db *DB) readAt(offset int64) (*logfile.LogEntry, error) {
	db.metrics.PointReads.Inc()
	e, _, err := db.logFile.ReadLogEntry(offset)
	if err != nil {
		if errors.Is(err, logfile.ErrEndOfEntry) {
			return nil, fmt.Errorf("appendkv: no complete record at offset %d of %s: %w", offset, db.opts.Path, io.ErrUnexpectedEOF)
		}
		db.noteCorruption(err)
		return nil, fmt.Errorf("appendkv: read %s: %w", db.opts.Path, err)
	}
	return e, nil
}

func (db *DB) noteCorruption(err error) {
	if !errors.Is(err, ErrCorrupt) {
		return
	}
	db.metrics.CorruptRecords.Inc()
	log.Error("corrupt record", "path", db.opts.Path, "error", err)
}
