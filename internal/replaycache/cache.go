// Package replaycache implements the fixed-size per-viewer ring buffer
// of recently transmitted SRTP packets spec.md §4.7 uses to serve
// NACK-driven resend. The cache stores packets in their already
// SRTP-protected form so resend never re-invokes the crypto layer.
package replaycache

import "encoding/binary"

const (
	// MinCapacity and MaxCapacity bound the ring size spec.md §3
	// allows (512..2048 packets).
	MinCapacity = 512
	MaxCapacity = 2048
)

type slot struct {
	seq    uint16
	valid  bool
	packet []byte
}

// Cache is a fixed-capacity ring of (sequence, SRTP packet bytes),
// indexed for O(1) lookup by sequence number. Not safe for concurrent
// use; each viewer session owns one from its single-threaded task.
type Cache struct {
	slots    []slot
	index    map[uint16]int
	writePos int
}

// New constructs a Cache with the given capacity, clamped to
// [MinCapacity, MaxCapacity].
func New(capacity int) *Cache {
	if capacity < MinCapacity {
		capacity = MinCapacity
	}
	if capacity > MaxCapacity {
		capacity = MaxCapacity
	}
	return &Cache{
		slots: make([]slot, capacity),
		index: make(map[uint16]int, capacity),
	}
}

// Capacity returns the fixed ring size.
func (c *Cache) Capacity() int { return len(c.slots) }

// Len returns the number of packets currently cached.
func (c *Cache) Len() int { return len(c.index) }

// SequenceOf extracts the RTP sequence number (bytes 2-3, big endian)
// from a raw RTP/SRTP packet. The sequence number field sits in the
// unencrypted RTP header, so this works identically on protected and
// unprotected packets.
func SequenceOf(packet []byte) (uint16, bool) {
	if len(packet) < 4 {
		return 0, false
	}
	return binary.BigEndian.Uint16(packet[2:4]), true
}

// Insert stores packet (already SRTP-protected), evicting the oldest
// slot if the cache is full. It returns false if packet is too short
// to contain an RTP sequence number.
func (c *Cache) Insert(packet []byte) bool {
	seq, ok := SequenceOf(packet)
	if !ok {
		return false
	}

	evicted := c.slots[c.writePos]
	if evicted.valid {
		delete(c.index, evicted.seq)
	}

	buf := make([]byte, len(packet))
	copy(buf, packet)

	c.slots[c.writePos] = slot{seq: seq, valid: true, packet: buf}
	c.index[seq] = c.writePos

	c.writePos++
	if c.writePos == len(c.slots) {
		c.writePos = 0
	}
	return true
}

// Get returns the cached packet bytes for seq, and whether it was
// found.
func (c *Cache) Get(seq uint16) ([]byte, bool) {
	idx, ok := c.index[seq]
	if !ok {
		return nil, false
	}
	s := c.slots[idx]
	if !s.valid || s.seq != seq {
		return nil, false
	}
	return s.packet, true
}
