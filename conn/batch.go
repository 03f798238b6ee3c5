package conn

import (
	"net"
	"net/netip"

	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"
)

// batchPacketConn is implemented by [*ipv4.PacketConn] and [*ipv6.PacketConn].
type batchPacketConn interface {
	ReadBatch(ms []ipv4.Message, flags int) (int, error)
}

// BatchReader receives multiple datagrams per call.
//
// On Linux, each [BatchReader.ReadBatch] call is a single recvmmsg(2) call.
// On other platforms, at most one message is received per call.
//
// A BatchReader is not safe for concurrent use.
type BatchReader struct {
	pc   batchPacketConn
	msgs []ipv4.Message
}

// NewBatchReader returns a [BatchReader] for c that receives up to batchSize datagrams
// of up to bufSize bytes each.
func NewBatchReader(c *net.UDPConn, batchSize, bufSize int) *BatchReader {
	var pc batchPacketConn
	if laddr, ok := c.LocalAddr().(*net.UDPAddr); ok && laddr.AddrPort().Addr().Is4() {
		pc = ipv4.NewPacketConn(c)
	} else {
		pc = ipv6.NewPacketConn(c)
	}

	msgs := make([]ipv4.Message, batchSize)
	bufs := make([]byte, batchSize*bufSize)
	for i := range msgs {
		msgs[i].Buffers = [][]byte{bufs[i*bufSize : (i+1)*bufSize : (i+1)*bufSize]}
	}

	return &BatchReader{
		pc:   pc,
		msgs: msgs,
	}
}

// ReadBatch blocks until at least one datagram is received,
// and returns the number of datagrams received.
func (r *BatchReader) ReadBatch() (int, error) {
	return r.pc.ReadBatch(r.msgs, 0)
}

// Message returns the payload, source address, and flags of the i-th received message.
func (r *BatchReader) Message(i int) (b []byte, addrPort netip.AddrPort, flags int) {
	msg := &r.msgs[i]
	b = msg.Buffers[0][:msg.N]
	if ua, ok := msg.Addr.(*net.UDPAddr); ok {
		addrPort = ua.AddrPort()
	}
	return b, addrPort, msg.Flags
}
