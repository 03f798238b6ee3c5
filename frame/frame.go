// Package frame implements the address frame carried on the tunnel link.
//
// A frame is a player's IPv4 address and port, both in network byte order,
// followed by the payload:
//
//	+-------------+-----------+---------------------+
//	| IPv4 (4B)   | port (2B) | payload (0..65535B) |
//	+-------------+-----------+---------------------+
//
// There is no version field, checksum, or length prefix. The payload length
// is implied by the datagram boundary.
package frame

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net/netip"
	"slices"
)

const (
	// HeaderLength is the length of the address header.
	HeaderLength = 4 + 2

	// MaxPayloadLength is the maximum length of a UDP payload.
	MaxPayloadLength = 65535

	// MaxFrameLength is the maximum length of a framed packet.
	// Receive buffers sized to this value never truncate a frame.
	MaxFrameLength = HeaderLength + MaxPayloadLength
)

var (
	ErrMalformedFrame  = errors.New("frame shorter than address header")
	ErrNotIPv4         = errors.New("address is not IPv4")
	ErrPayloadTooLarge = errors.New("payload exceeds maximum UDP payload length")
)

// PlayerAddress returns addrPort with an IPv4-mapped IPv6 address unmapped,
// and reports whether the result can be carried in a frame header.
func PlayerAddress(addrPort netip.AddrPort) (netip.AddrPort, bool) {
	addr := addrPort.Addr().Unmap()
	if !addr.Is4() {
		return addrPort, false
	}
	return netip.AddrPortFrom(addr, addrPort.Port()), true
}

// PutHeader writes the address header for addrPort into the first [HeaderLength] bytes of b.
//
// addrPort must be an IPv4 or IPv4-mapped IPv6 address, and b must be at least [HeaderLength] bytes long.
func PutHeader(b []byte, addrPort netip.AddrPort) error {
	addr := addrPort.Addr().Unmap()
	if !addr.Is4() {
		return fmt.Errorf("%w: %s", ErrNotIPv4, addrPort)
	}
	_ = b[HeaderLength-1]
	ip := addr.As4()
	copy(b, ip[:])
	binary.BigEndian.PutUint16(b[4:], addrPort.Port())
	return nil
}

// Append appends the frame of payload addressed to addrPort to dst and returns the extended slice.
// If dst has sufficient capacity, no allocation is performed.
func Append(dst []byte, addrPort netip.AddrPort, payload []byte) ([]byte, error) {
	if len(payload) > MaxPayloadLength {
		return dst, ErrPayloadTooLarge
	}
	start := len(dst)
	b := slices.Grow(dst, HeaderLength+len(payload))[:start+HeaderLength]
	if err := PutHeader(b[start:], addrPort); err != nil {
		return dst, err
	}
	return append(b, payload...), nil
}

// Encode returns a newly allocated frame of payload addressed to addrPort.
func Encode(addrPort netip.AddrPort, payload []byte) ([]byte, error) {
	return Append(make([]byte, 0, HeaderLength+len(payload)), addrPort, payload)
}

// Decode parses the address header of b and returns the player address and the payload.
// The payload aliases b.
//
// Any 6-byte header is accepted. The only possible error is [ErrMalformedFrame].
func Decode(b []byte) (netip.AddrPort, []byte, error) {
	if len(b) < HeaderLength {
		return netip.AddrPort{}, nil, ErrMalformedFrame
	}
	addr := netip.AddrFrom4([4]byte(b[:4]))
	port := binary.BigEndian.Uint16(b[4:HeaderLength])
	return netip.AddrPortFrom(addr, port), b[HeaderLength:], nil
}
