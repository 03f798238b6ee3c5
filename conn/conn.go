// Package conn provides UDP socket creation with performance socket options,
// address helpers, and batched receiving.
package conn

import (
	"net"
	"net/netip"
	"time"
)

// ALongTimeAgo is a non-zero time, far in the past, used for immediate deadlines.
var ALongTimeAgo = time.Unix(0, 0)

// ResolveAddrPort resolves a string representation of an address to a netip.AddrPort.
//
// IP address strings are parsed directly. Domain names are resolved with the system resolver.
func ResolveAddrPort(address string) (addrPort netip.AddrPort, err error) {
	addrPort, err = netip.ParseAddrPort(address)
	if err != nil {
		var ua *net.UDPAddr
		ua, err = net.ResolveUDPAddr("udp", address)
		if err != nil {
			return
		}
		addrPort = ua.AddrPort()
	}
	return
}

// AddrPortMappedEqual returns whether the two addresses point to the same endpoint.
// An IPv4 address and an IPv4-mapped IPv6 address pointing to the same endpoint are considered equal.
// For example, 1.1.1.1:53 and [::ffff:1.1.1.1]:53 are considered equal.
func AddrPortMappedEqual(l, r netip.AddrPort) bool {
	return l.Port() == r.Port() && l.Addr().Unmap() == r.Addr().Unmap()
}

// ListenNetworkForRemoteAddr returns the network to use when binding a local socket
// that only talks to the given remote address.
func ListenNetworkForRemoteAddr(addr netip.Addr) string {
	if addr.Unmap().Is4() {
		return "udp4"
	}
	return "udp6"
}
