//go:build !unix

package logfile

import "os"

func (l *FileLock) lock(path string) error {
	return ErrLockNotSupported
}

func unlockFd(f *os.File) error {
	return nil
}
