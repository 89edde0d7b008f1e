//go:build unix

package ioselector

import (
	"io"
	"os"

	"golang.org/x/sys/unix"
)

// MMapIOSelector is a read-only memory mapping of a file.
// The mapping covers the file extent present when it was created,
// bytes appended later are not visible through it.
type MMapIOSelector struct {
	fd     *os.File
	buf    []byte
	bufLen int64
}

// NewMMapSelector maps fName read-only.
func NewMMapSelector(fName string) (IOSelector, error) {
	fd, err := os.Open(fName)
	if err != nil {
		return nil, err
	}
	stat, err := fd.Stat()
	if err != nil {
		fd.Close()
		return nil, err
	}

	sel := &MMapIOSelector{fd: fd}
	// a zero length mapping is rejected by the kernel.
	if stat.Size() == 0 {
		return sel, nil
	}
	buf, err := unix.Mmap(int(fd.Fd()), 0, int(stat.Size()), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		fd.Close()
		return nil, err
	}
	sel.buf = buf
	sel.bufLen = int64(len(buf))
	return sel, nil
}

// Write always fails, the mapping is read-only.
func (lm *MMapIOSelector) Write(b []byte, offset int64) (int, error) {
	return 0, ErrReadOnly
}

// Read copy data from mapped region(buf) into slice b at offset.
func (lm *MMapIOSelector) Read(b []byte, offset int64) (int, error) {
	if offset < 0 || offset >= lm.bufLen {
		return 0, io.EOF
	}
	n := copy(b, lm.buf[offset:])
	if n < len(b) {
		return n, io.EOF
	}
	return n, nil
}

// Size returns the length of the mapped region.
func (lm *MMapIOSelector) Size() (int64, error) {
	return lm.bufLen, nil
}

// Sync is a no-op for a read-only mapping.
func (lm *MMapIOSelector) Sync() error {
	return nil
}

// Close unmap mapped buffer and close fd.
func (lm *MMapIOSelector) Close() error {
	if lm.buf != nil {
		if err := unix.Munmap(lm.buf); err != nil {
			return err
		}
		lm.buf = nil
		lm.bufLen = 0
	}
	return lm.fd.Close()
}
