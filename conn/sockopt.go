package conn

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"syscall"
)

// DefaultUDPSocketBufferSize is the default send and receive buffer size of UDP sockets.
//
// We use the same value of 7 MiB as wireguard-go and quic-go.
const DefaultUDPSocketBufferSize = 7 << 20

// SocketOptions are the performance options applied to a UDP socket
// right after it is created and before it is bound or connected.
//
// Options unavailable on the current platform are skipped without error.
// Failures to set the performance options are ignored. A fwmark that cannot
// be set fails socket creation.
type SocketOptions struct {
	// SendBufferSize sets the send buffer size of the socket.
	//
	// On Linux, SO_SNDBUF is set, then SO_SNDBUFFORCE, ignoring errors from either.
	SendBufferSize int

	// ReceiveBufferSize sets the receive buffer size of the socket.
	//
	// On Linux, SO_RCVBUF is set, then SO_RCVBUFFORCE, ignoring errors from either.
	ReceiveBufferSize int

	// Fwmark sets the socket's fwmark on Linux.
	Fwmark int

	// KeepAlive sets SO_KEEPALIVE.
	KeepAlive bool

	// ReuseAddress sets SO_REUSEADDR.
	ReuseAddress bool

	// ReusePort sets SO_REUSEPORT.
	//
	// Available on Linux, macOS and the BSDs.
	ReusePort bool

	// OOBInline sets SO_OOBINLINE.
	OOBInline bool
}

// PerformanceSocketOptions enables every option supported by the platform,
// with default buffer sizes.
var PerformanceSocketOptions = SocketOptions{
	SendBufferSize:    DefaultUDPSocketBufferSize,
	ReceiveBufferSize: DefaultUDPSocketBufferSize,
	KeepAlive:         true,
	ReuseAddress:      true,
	ReusePort:         true,
	OOBInline:         true,
}

// setFunc applies a single option to the raw socket.
type setFunc = func(fd uintptr) error

type setFuncSlice []setFunc

func (fns setFuncSlice) appendIf(cond bool, fn setFunc) setFuncSlice {
	if cond {
		return append(fns, fn)
	}
	return fns
}

// bestEffort discards the error of fn, for options that only tune performance.
func bestEffort(fn setFunc) setFunc {
	return func(fd uintptr) error {
		_ = fn(fd)
		return nil
	}
}

func (so SocketOptions) buildSetFns() setFuncSlice {
	return setFuncSlice{}.
		appendIf(so.SendBufferSize > 0, func(fd uintptr) error {
			return setSendBufferSize(fd, so.SendBufferSize)
		}).
		appendIf(so.ReceiveBufferSize > 0, func(fd uintptr) error {
			return setRecvBufferSize(fd, so.ReceiveBufferSize)
		}).
		appendIf(so.Fwmark != 0, func(fd uintptr) error {
			return setFwmark(fd, so.Fwmark)
		}).
		appendIf(so.KeepAlive, bestEffort(setKeepAlive)).
		appendIf(so.ReuseAddress, bestEffort(setReuseAddress)).
		appendIf(so.ReusePort, bestEffort(setReusePort)).
		appendIf(so.OOBInline, bestEffort(setOOBInline))
}

func (fns setFuncSlice) controlFunc() func(network, address string, c syscall.RawConn) error {
	if len(fns) == 0 {
		return nil
	}
	return func(network, address string, c syscall.RawConn) (err error) {
		if cerr := c.Control(func(fd uintptr) {
			for _, fn := range fns {
				if err = fn(fd); err != nil {
					return
				}
			}
		}); cerr != nil {
			return cerr
		}
		return
	}
}

// ListenConfig creates UDP sockets with a fixed set of socket options.
//
// The zero value creates sockets without setting any options.
type ListenConfig struct {
	control func(network, address string, c syscall.RawConn) error
}

// ListenConfig returns a [ListenConfig] that applies the options.
func (so SocketOptions) ListenConfig() ListenConfig {
	return ListenConfig{
		control: so.buildSetFns().controlFunc(),
	}
}

// ListenUDP binds a UDP socket to address and applies the socket options.
func (lc ListenConfig) ListenUDP(ctx context.Context, network, address string) (*net.UDPConn, error) {
	nlc := net.ListenConfig{
		Control: lc.control,
	}
	pc, err := nlc.ListenPacket(ctx, network, address)
	if err != nil {
		return nil, err
	}
	return pc.(*net.UDPConn), nil
}

// DialUDP creates a UDP socket bound to laddr, applies the socket options,
// and connects it to raddr. An empty laddr binds to an ephemeral port.
func (lc ListenConfig) DialUDP(ctx context.Context, network, laddr string, raddr netip.AddrPort) (*net.UDPConn, error) {
	d := net.Dialer{
		Control: lc.control,
	}
	if laddr != "" {
		ua, err := net.ResolveUDPAddr(network, laddr)
		if err != nil {
			return nil, err
		}
		d.LocalAddr = ua
	}
	c, err := d.DialContext(ctx, network, raddr.String())
	if err != nil {
		return nil, err
	}
	return c.(*net.UDPConn), nil
}

// ListenConfigCache is a map of socket options to listen configs.
//
// It is not safe for concurrent use.
type ListenConfigCache map[SocketOptions]ListenConfig

// NewListenConfigCache creates a new cache for [ListenConfig] with a few default entries.
func NewListenConfigCache() ListenConfigCache {
	return ListenConfigCache{
		PerformanceSocketOptions: PerformanceSocketOptions.ListenConfig(),
	}
}

// Get returns a [ListenConfig] for the given options, building one if not already cached.
func (cache ListenConfigCache) Get(so SocketOptions) (lc ListenConfig) {
	lc, ok := cache[so]
	if ok {
		return
	}
	lc = so.ListenConfig()
	cache[so] = lc
	return
}

func wrapSockoptError(name string, err error) error {
	return fmt.Errorf("failed to set socket option %s: %w", name, err)
}
