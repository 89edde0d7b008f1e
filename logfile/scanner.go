package logfile

import (
	"bufio"
	"errors"
	"io"
	"sync/atomic"

	"appendkv/ioselector"
)

const scanBufferSize = 64 * 1024

// Scanner walks the log file from offset 0, one entry at a time.
// It stops without error at the first incomplete entry and stops with an
// error on anything else, corruption included. Use it like bufio.Scanner:
//
//	sc := lf.Scan()
//	defer sc.Close()
//	for sc.Next() {
//		off, e := sc.Offset(), sc.Entry()
//	}
//	if err := sc.Err(); err != nil { ... }
type Scanner struct {
	lf *LogFile

	sel    ioselector.IOSelector
	owned  bool // sel must be closed by the scanner
	reader *bufio.Reader

	started bool
	done    bool
	next    int64 // offset of the next entry
	offset  int64 // offset of the current entry
	entry   *LogEntry
	err     error
}

// Next advances to the next entry.
func (s *Scanner) Next() bool {
	if s.done {
		return false
	}
	if !s.started {
		if err := s.start(); err != nil {
			s.err = err
			s.finish()
			return false
		}
	}

	entry, size, err := decodeEntry(s.reader, s.next)
	if err != nil {
		if !errors.Is(err, ErrEndOfEntry) {
			s.err = err
		}
		s.entry = nil
		s.finish()
		return false
	}
	s.entry, s.offset = entry, s.next
	s.next += size
	return true
}

func (s *Scanner) start() error {
	s.started = true
	if s.lf.IoSelector == nil {
		return ErrClosed
	}
	s.sel = s.lf.IoSelector
	end := atomic.LoadInt64(&s.lf.WriteAt)

	if s.lf.ioType == MMap {
		sel, err := ioselector.NewMMapSelector(s.lf.path)
		if err != nil {
			return err
		}
		if end, err = sel.Size(); err != nil {
			sel.Close()
			return err
		}
		s.sel, s.owned = sel, true
	}

	r := io.NewSectionReader(ioselector.ReaderAt{Selector: s.sel}, 0, end)
	s.reader = bufio.NewReaderSize(r, scanBufferSize)
	return nil
}

func (s *Scanner) finish() {
	s.done = true
	if err := s.release(); err != nil && s.err == nil {
		s.err = err
	}
}

// release drops the reader and closes the selector if the scanner opened it.
func (s *Scanner) release() error {
	var err error
	if s.owned && s.sel != nil {
		err = s.sel.Close()
	}
	s.sel, s.owned, s.reader = nil, false, nil
	return err
}

// Offset returns the file offset of the current entry.
func (s *Scanner) Offset() int64 {
	return s.offset
}

// Entry returns the current entry.
func (s *Scanner) Entry() *LogEntry {
	return s.entry
}

// End returns the offset just past the last entry read so far.
// After a clean finish it is where the valid data ends.
func (s *Scanner) End() int64 {
	return s.next
}

// Err returns the error that stopped the scan, nil at a clean end of file.
func (s *Scanner) Err() error {
	return s.err
}

// Reset rewinds the scanner to offset 0.
func (s *Scanner) Reset() {
	s.release()
	*s = Scanner{lf: s.lf}
}

// Close releases resources held by an unfinished scan.
// It reports a failure to release the mapping, if any.
func (s *Scanner) Close() error {
	if s.done {
		return nil
	}
	s.done = true
	if err := s.release(); err != nil {
		if s.err == nil {
			s.err = err
		}
		return err
	}
	return nil
}
