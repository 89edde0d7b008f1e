//go:build unix

package logfile

import (
	"errors"
	"fmt"
	"os"

	"golang.org/x/sys/unix"

	"appendkv/ioselector"
)

func (l *FileLock) lock(path string) error {
	if l.fd != nil {
		return nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, ioselector.FilePerm)
	if err != nil {
		return err
	}
	err = unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB)
	if err != nil {
		f.Close()
		if errors.Is(err, unix.EWOULDBLOCK) {
			return ErrFileLocked
		}
		return fmt.Errorf("cannot flock %s: %w", path, err)
	}
	l.fd = f
	return nil
}

func unlockFd(f *os.File) error {
	return unix.Flock(int(f.Fd()), unix.LOCK_UN)
}
