package ioselector

import (
	"errors"
	"os"
)

// FilePerm default permission of a newly created data file.
const FilePerm = 0644

var (
	// ErrReadOnly is returned when writing through a read-only selector.
	ErrReadOnly = errors.New("ioselector: selector is read-only")

	// ErrMMapNotSupported is returned on platforms without mmap support.
	ErrMMapNotSupported = errors.New("ioselector: mmap not supported on this platform")
)

// IOSelector io selector for fileio and mmap, used by the log file.
// All reads and writes are positioned, there is no shared cursor.
type IOSelector interface {
	// Write a slice to log file at offset.
	// It returns the number of bytes written and an error, if any.
	Write(b []byte, offset int64) (int, error)

	// Read a slice from offset.
	// It returns the number of bytes read and any error encountered.
	// A short read at the end of the data returns io.EOF.
	Read(b []byte, offset int64) (int, error)

	// Size returns the number of bytes currently addressable.
	Size() (int64, error)

	// Sync commits the current contents of the file to stable storage.
	Sync() error

	// Close closes the File, rendering it unusable for I/O.
	Close() error
}

// ReaderAt adapts an IOSelector to io.ReaderAt.
type ReaderAt struct {
	Selector IOSelector
}

// ReadAt implements io.ReaderAt.
func (r ReaderAt) ReadAt(b []byte, off int64) (int, error) {
	return r.Selector.Read(b, off)
}

// openFile opens (creating if absent) a file for reading and writing.
func openFile(fName string) (*os.File, error) {
	return os.OpenFile(fName, os.O_CREATE|os.O_RDWR, FilePerm)
}
