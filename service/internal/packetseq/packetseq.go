// Package packetseq stamps test payloads with sequence numbers and checksums,
// so that relay tests can check payloads arrive intact and detect loss or duplication.
//
// Each packet ends with a big-endian uint64 sequence ID, followed by the
// big-endian xxHash64 digest of all preceding bytes.
// The receiver validates packets and tracks duplicates using a sliding window.
package packetseq

import (
	"encoding/binary"
	"errors"
	"math/bits"

	"github.com/cespare/xxhash/v2"
)

const (
	idSize       = 8
	checksumSize = 8

	// MinPacketSize is the minimum size of a stampable packet.
	MinPacketSize = idSize + checksumSize
)

// Sender stamps packets for sending and keeps track of the number of packets stamped.
type Sender struct {
	pid uint64
}

// Count returns the number of packets stamped.
func (s *Sender) Count() uint64 {
	return s.pid
}

// Stamp stamps the packet for sending. It panics if b is shorter than [MinPacketSize].
func (s *Sender) Stamp(b []byte) {
	if len(b) < MinPacketSize {
		panic("packetseq: packet too small")
	}
	binary.BigEndian.PutUint64(b[len(b)-MinPacketSize:], s.pid)
	s.pid++
	binary.BigEndian.PutUint64(b[len(b)-checksumSize:], xxhash.Sum64(b[:len(b)-checksumSize]))
}

// ID returns the sequence ID stamped on the packet, without validating it.
func ID(b []byte) (uint64, bool) {
	if len(b) < MinPacketSize {
		return 0, false
	}
	return binary.BigEndian.Uint64(b[len(b)-MinPacketSize:]), true
}

const (
	blockBits  = bits.UintSize
	ringBlocks = 1 << 4
	windowSize = (ringBlocks - 1) * blockBits
)

// Receiver validates stamped packets and counts the number of unique packets received.
type Receiver struct {
	last  uint64
	count uint64
	ring  [ringBlocks]uint
}

// LastID returns the last packet ID received.
func (r *Receiver) LastID() uint64 {
	return r.last
}

// Count returns the number of unique packets received.
func (r *Receiver) Count() uint64 {
	return r.count
}

var (
	ErrPacketTooSmall         = errors.New("packet too small")
	ErrPacketChecksumMismatch = errors.New("packet checksum mismatch")
	ErrPacketBehindWindow     = errors.New("packet ID behind sliding window")
	ErrPacketDuplicate        = errors.New("packet ID already received")
)

// Validate validates the packet and updates the receiver state.
func (r *Receiver) Validate(b []byte) error {
	if len(b) < MinPacketSize {
		return ErrPacketTooSmall
	}

	if xxhash.Sum64(b[:len(b)-checksumSize]) != binary.BigEndian.Uint64(b[len(b)-checksumSize:]) {
		return ErrPacketChecksumMismatch
	}

	id := binary.BigEndian.Uint64(b[len(b)-MinPacketSize:])
	unmaskedBlockIndex := id / blockBits
	blockIndex := unmaskedBlockIndex % ringBlocks
	bitIndex := id % blockBits

	switch {
	case id > r.last: // Ahead of window, clear blocks ahead.
		lastBlockIndex := r.last / blockBits
		clearBlockCount := min(unmaskedBlockIndex-lastBlockIndex, ringBlocks)
		for range clearBlockCount {
			lastBlockIndex = (lastBlockIndex + 1) % ringBlocks
			r.ring[lastBlockIndex] = 0
		}
		r.last = id

	case r.last-id >= windowSize: // Behind window.
		return ErrPacketBehindWindow

	case r.ring[blockIndex]&(1<<bitIndex) != 0: // Duplicate.
		return ErrPacketDuplicate
	}

	r.count++
	r.ring[blockIndex] |= 1 << bitIndex
	return nil
}
