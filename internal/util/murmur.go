package util

import (
	"encoding/binary"

	"github.com/spaolacci/murmur3"
)

// Murmur128 wraps a 128-bit murmur3 hash.
type Murmur128 struct {
	mur murmur3.Hash128
}

// NewMurmur128 returns a zero-seeded Murmur128.
func NewMurmur128() *Murmur128 {
	return &Murmur128{mur: murmur3.New128()}
}

// Write adds data to the running hash. murmur3 writes never fail.
func (m *Murmur128) Write(p []byte) {
	m.mur.Write(p)
}

// EncodeSum128 returns the 16-byte little-endian sum, h1 first.
func (m *Murmur128) EncodeSum128() []byte {
	buf := make([]byte, 16)
	h1, h2 := m.mur.Sum128()
	binary.LittleEndian.PutUint64(buf[:8], h1)
	binary.LittleEndian.PutUint64(buf[8:], h2)
	return buf
}

// Reset clears the running hash.
func (m *Murmur128) Reset() {
	m.mur.Reset()
}
