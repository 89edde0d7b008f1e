package logfile

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
)

// HeaderSize fixed entry header size.
// crc32	kSize	vSize
//
//	4    +   4   +   4   = 12
const HeaderSize = 12

// payloads up to this size are read into a preallocated buffer,
// larger ones grow as bytes arrive so a bogus length cannot force a huge allocation.
const maxPreallocSize = 1 << 20

var (
	// ErrEndOfEntry end of entry in log file.
	// Returned when fewer bytes remain than a full header or the declared payload.
	ErrEndOfEntry = errors.New("logfile: end of entry in log file")

	// ErrInvalidCrc invalid crc.
	ErrInvalidCrc = errors.New("logfile: invalid crc")
)

// LogEntry is the data will be appended in log file.
// An entry with an empty Value is how deletes are recorded, the log itself does not interpret it.
type LogEntry struct {
	Key   []byte
	Value []byte
}

type entryHeader struct {
	crc32 uint32 // check sum
	kSize uint32
	vSize uint32
}

// CorruptEntryError reports a checksum mismatch. It matches ErrInvalidCrc with errors.Is.
type CorruptEntryError struct {
	Offset   int64 // -1 when unknown
	Stored   uint32
	Computed uint32
}

func (e *CorruptEntryError) Error() string {
	if e.Offset < 0 {
		return fmt.Sprintf("%v: stored %08x, computed %08x", ErrInvalidCrc, e.Stored, e.Computed)
	}
	return fmt.Sprintf("%v at offset %d: stored %08x, computed %08x", ErrInvalidCrc, e.Offset, e.Stored, e.Computed)
}

func (e *CorruptEntryError) Is(target error) bool {
	return target == ErrInvalidCrc
}

// EncodeEntry will encode entry into a byte slice.
// The encoded Entry looks like:
// +-------+----------+------------+-------+---------+
// |  crc  | key size | value size |  key  |  value  |
// +-------+----------+------------+-------+---------+
// |-------------HEADER------------|
//
//	|--crc check----|
func EncodeEntry(entry *LogEntry) ([]byte, int) {
	if entry == nil {
		return nil, 0
	}
	size := HeaderSize + len(entry.Key) + len(entry.Value)
	buf := make([]byte, size)

	h := entryHeader{
		crc32: getEntryCrc(entry),
		kSize: uint32(len(entry.Key)),
		vSize: uint32(len(entry.Value)),
	}
	encodeHeader(buf[:HeaderSize], h)
	copy(buf[HeaderSize:], entry.Key)
	copy(buf[HeaderSize+len(entry.Key):], entry.Value)
	return buf, size
}

// DecodeEntry reads one entry from r.
// It returns the entry, the number of bytes it occupies and an error, if any.
// A short header or payload yields ErrEndOfEntry, a checksum mismatch a *CorruptEntryError.
func DecodeEntry(r io.Reader) (*LogEntry, int64, error) {
	return decodeEntry(r, -1)
}

func decodeEntry(r io.Reader, offset int64) (*LogEntry, int64, error) {
	headerBuf := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, headerBuf); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return nil, 0, ErrEndOfEntry
		}
		return nil, 0, err
	}
	header := decodeHeader(headerBuf)

	kSize, vSize := int64(header.kSize), int64(header.vSize)
	kvBuf, err := readPayload(r, kSize+vSize)
	if err != nil {
		return nil, 0, err
	}
	e := &LogEntry{
		Key:   kvBuf[:kSize:kSize],
		Value: kvBuf[kSize:],
	}

	// crc32 check.
	if crc := getEntryCrc(e); crc != header.crc32 {
		return nil, 0, &CorruptEntryError{Offset: offset, Stored: header.crc32, Computed: crc}
	}
	return e, HeaderSize + kSize + vSize, nil
}

func readPayload(r io.Reader, n int64) ([]byte, error) {
	if n <= maxPreallocSize {
		buf := make([]byte, n)
		if _, err := io.ReadFull(r, buf); err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				return nil, ErrEndOfEntry
			}
			return nil, err
		}
		return buf, nil
	}
	buf, err := io.ReadAll(io.LimitReader(r, n))
	if err != nil {
		return nil, err
	}
	if int64(len(buf)) < n {
		return nil, ErrEndOfEntry
	}
	return buf, nil
}

func encodeHeader(buf []byte, h entryHeader) {
	binary.LittleEndian.PutUint32(buf[0:4], h.crc32)
	binary.LittleEndian.PutUint32(buf[4:8], h.kSize)
	binary.LittleEndian.PutUint32(buf[8:12], h.vSize)
}

func decodeHeader(buf []byte) entryHeader {
	return entryHeader{
		crc32: binary.LittleEndian.Uint32(buf[0:4]),
		kSize: binary.LittleEndian.Uint32(buf[4:8]),
		vSize: binary.LittleEndian.Uint32(buf[8:12]),
	}
}

func getEntryCrc(e *LogEntry) uint32 {
	crc := crc32.ChecksumIEEE(e.Key)
	return crc32.Update(crc, crc32.IEEETable, e.Value)
}
