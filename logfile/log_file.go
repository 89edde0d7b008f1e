package logfile

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"sync/atomic"

	"appendkv/internal/util"
	"appendkv/ioselector"
)

// IOType how scans read the log file.
type IOType int8

const (
	// FileIO reads with positioned file reads.
	FileIO IOType = iota

	// MMap reads scans through a read-only memory mapping.
	MMap
)

var (
	ErrInvalidDir = errors.New("logfile: directory does not exist")

	// ErrWriteSizeNotEqual write size is not equal to entry size.
	ErrWriteSizeNotEqual = errors.New("logfile: write size is not equal to entry size")

	// ErrClosed the log file has been closed.
	ErrClosed = errors.New("logfile: log file is closed")
)

// LogFile is a single append-only file of entries.
type LogFile struct {
	path       string
	WriteAt    int64 // append point
	IoSelector ioselector.IOSelector
	ioType     IOType
	FileLock
}

// OpenLogFile open an existing or create a new log file.
// Contents are neither read nor validated, only the size is taken as the append point.
func OpenLogFile(path string, ioType IOType) (*LogFile, error) {
	if !util.PathExist(filepath.Dir(path)) {
		return nil, ErrInvalidDir
	}
	sel, err := ioselector.NewFileIOSelector(path)
	if err != nil {
		return nil, err
	}
	size, err := sel.Size()
	if err != nil {
		sel.Close()
		return nil, err
	}
	return &LogFile{
		path:       path,
		WriteAt:    size,
		IoSelector: sel,
		ioType:     ioType,
	}, nil
}

// Path returns the file path.
func (lf *LogFile) Path() string {
	return lf.path
}

// Size returns the append point, which is the size of the file.
func (lf *LogFile) Size() int64 {
	return atomic.LoadInt64(&lf.WriteAt)
}

// Append writes buf at the end of the file in a single write
// and returns the offset the write began at.
func (lf *LogFile) Append(buf []byte) (int64, error) {
	if lf.IoSelector == nil {
		return 0, ErrClosed
	}
	offset := atomic.LoadInt64(&lf.WriteAt)
	if len(buf) == 0 {
		return offset, nil
	}

	n, err := lf.IoSelector.Write(buf, offset)
	if err != nil {
		return 0, err
	}
	if n != len(buf) {
		return 0, ErrWriteSizeNotEqual
	}

	atomic.AddInt64(&lf.WriteAt, int64(n))
	return offset, nil
}

// ReadLogEntry read a LogEntry from log file at offset.
// It returns a LogEntry, entry size and an error, if any.
// If no complete entry starts at offset, the err is ErrEndOfEntry.
func (lf *LogFile) ReadLogEntry(offset int64) (*LogEntry, int64, error) {
	if lf.IoSelector == nil {
		return nil, 0, ErrClosed
	}
	end := atomic.LoadInt64(&lf.WriteAt)
	if offset < 0 || offset >= end {
		return nil, 0, ErrEndOfEntry
	}
	r := io.NewSectionReader(ioselector.ReaderAt{Selector: lf.IoSelector}, offset, end-offset)
	return decodeEntry(r, offset)
}

// Scan returns a scanner positioned at the start of the file.
func (lf *LogFile) Scan() *Scanner {
	return &Scanner{lf: lf}
}

// Sync commits the file to stable storage.
func (lf *LogFile) Sync() error {
	if lf.IoSelector == nil {
		return ErrClosed
	}
	return lf.IoSelector.Sync()
}

// Close releases the lock, if held, and closes the file.
func (lf *LogFile) Close() error {
	if lf.IoSelector == nil {
		return nil
	}
	unlockErr := lf.Unlock()
	err := lf.IoSelector.Close()
	lf.IoSelector = nil
	if err != nil {
		return err
	}
	if unlockErr != nil {
		return fmt.Errorf("logfile: release lock on %s: %w", lf.path, unlockErr)
	}
	return nil
}

// Lock takes an exclusive advisory lock on the file.
func (lf *LogFile) Lock() error {
	return lf.FileLock.lock(lf.path)
}
