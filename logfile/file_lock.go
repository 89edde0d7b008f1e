package logfile

import (
	"errors"
	"os"
)

var (
	// ErrFileLocked the file is locked by another handle.
	ErrFileLocked = errors.New("logfile: file is locked by another process")

	// ErrLockNotSupported advisory locks are unavailable on this platform.
	ErrLockNotSupported = errors.New("logfile: file locking not supported on this platform")
)

// FileLock is an advisory exclusive lock held through its own descriptor.
type FileLock struct {
	fd *os.File
}

// Locked reports whether the lock is held.
func (l *FileLock) Locked() bool {
	return l.fd != nil
}

// Unlock releases the lock. It is a no-op when the lock is not held.
func (l *FileLock) Unlock() error {
	if l.fd == nil {
		return nil
	}
	defer func() { l.fd = nil }()
	if err := unlockFd(l.fd); err != nil {
		l.fd.Close()
		return err
	}
	return l.fd.Close()
}
