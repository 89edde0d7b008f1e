// Package snapshot encodes the in-memory index so it can be stored as the
// value of a regular record under IndexKey.
//
//	magic "AKVI" | version u8 | count u32 |
//	count x ( key_len u32 | key | offset u64 ) |
//	murmur3-128 digest of everything before it (h1, h2)
//
// All integers are little-endian.
package snapshot

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"appendkv/internal/util"
)

const (
	version    = 1
	headerSize = 4 + 1 + 4
	digestSize = 16
)

var (
	// IndexKey reserved key the snapshot is stored under.
	IndexKey = []byte("+index")

	magic = []byte("AKVI")

	// ErrInvalidSnapshot the value is not a snapshot or fails its digest.
	ErrInvalidSnapshot = errors.New("snapshot: invalid index snapshot")
)

// Entry one key and the offset of its latest record.
type Entry struct {
	Key    []byte
	Offset int64
}

// Encode serializes entries in the given order.
func Encode(entries []Entry) []byte {
	size := headerSize + digestSize
	for _, e := range entries {
		size += 4 + len(e.Key) + 8
	}
	buf := make([]byte, 0, size)
	buf = append(buf, magic...)
	buf = append(buf, version)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(entries)))
	for _, e := range entries {
		buf = binary.LittleEndian.AppendUint32(buf, uint32(len(e.Key)))
		buf = append(buf, e.Key...)
		buf = binary.LittleEndian.AppendUint64(buf, uint64(e.Offset))
	}
	return append(buf, digest(buf)...)
}

// Decode parses a value produced by Encode. The digest is checked before
// anything else is trusted.
func Decode(data []byte) ([]Entry, error) {
	if len(data) < headerSize+digestSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrInvalidSnapshot, len(data))
	}
	body, sum := data[:len(data)-digestSize], data[len(data)-digestSize:]
	if !bytes.Equal(body[:4], magic) {
		return nil, fmt.Errorf("%w: bad magic %q", ErrInvalidSnapshot, body[:4])
	}
	if body[4] != version {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrInvalidSnapshot, body[4])
	}
	if !bytes.Equal(digest(body), sum) {
		return nil, fmt.Errorf("%w: digest mismatch", ErrInvalidSnapshot)
	}

	count := binary.LittleEndian.Uint32(body[5:headerSize])
	rest := body[headerSize:]
	// each entry takes at least 12 bytes
	if uint64(count)*12 > uint64(len(rest)) {
		return nil, fmt.Errorf("%w: %d entries in %d bytes", ErrInvalidSnapshot, count, len(rest))
	}
	entries := make([]Entry, 0, count)
	for i := uint32(0); i < count; i++ {
		if len(rest) < 4 {
			return nil, fmt.Errorf("%w: truncated entry %d", ErrInvalidSnapshot, i)
		}
		kSize := uint64(binary.LittleEndian.Uint32(rest))
		rest = rest[4:]
		if uint64(len(rest)) < kSize+8 {
			return nil, fmt.Errorf("%w: truncated entry %d", ErrInvalidSnapshot, i)
		}
		e := Entry{
			Key:    bytes.Clone(rest[:kSize]),
			Offset: int64(binary.LittleEndian.Uint64(rest[kSize:])),
		}
		if e.Offset < 0 {
			return nil, fmt.Errorf("%w: negative offset for key %q", ErrInvalidSnapshot, e.Key)
		}
		entries = append(entries, e)
		rest = rest[kSize+8:]
	}
	if len(rest) != 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrInvalidSnapshot, len(rest))
	}
	return entries, nil
}

func digest(b []byte) []byte {
	m := util.NewMurmur128()
	m.Write(b)
	return m.EncodeSum128()
}
