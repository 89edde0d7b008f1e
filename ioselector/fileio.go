package ioselector

import (
	"os"
)

// FileIOSelector represents using standard file I/O.
type FileIOSelector struct {
	fd *os.File // system file descriptor.
}

// NewFileIOSelector opens (creating if absent) fName for positioned reads and writes.
func NewFileIOSelector(fName string) (IOSelector, error) {
	file, err := openFile(fName)
	if err != nil {
		return nil, err
	}
	return &FileIOSelector{fd: file}, nil
}

// Write a slice to the file at offset.
func (fio *FileIOSelector) Write(b []byte, offset int64) (int, error) {
	return fio.fd.WriteAt(b, offset)
}

// Read a slice from offset.
// It returns the number of bytes read and any error encountered.
func (fio *FileIOSelector) Read(b []byte, offset int64) (int, error) {
	return fio.fd.ReadAt(b, offset)
}

// Size returns the current size of the file.
func (fio *FileIOSelector) Size() (int64, error) {
	stat, err := fio.fd.Stat()
	if err != nil {
		return 0, err
	}
	return stat.Size(), nil
}

// Sync commits the current contents of the file to stable storage.
// Typically, this means flushing the file system's in-memory copy
// of recently written data to disk.
func (fio *FileIOSelector) Sync() error {
	return fio.fd.Sync()
}

// Close closes the File, rendering it unusable for I/O.
// It will return an error if it has already been closed.
func (fio *FileIOSelector) Close() error {
	return fio.fd.Close()
}
