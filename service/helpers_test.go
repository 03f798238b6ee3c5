package service

import (
	"log/slog"
	"net"
	"net/netip"
	"testing"
	"time"

	"github.com/gametunnel/gametunnel-go/conn"
	"github.com/gametunnel/gametunnel-go/frame"
	"github.com/gametunnel/gametunnel-go/tslog"
	"github.com/gametunnel/gametunnel-go/tslogtest"
)

const testReadTimeout = 5 * time.Second

func newTestLogger(t *testing.T) *tslog.Logger {
	return tslogtest.Config{Level: slog.LevelDebug}.NewTestLogger(t)
}

// listenLoopback4 returns a UDP socket bound to an ephemeral port on 127.0.0.1.
func listenLoopback4(t *testing.T) *net.UDPConn {
	t.Helper()
	c, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("net.ListenUDP() failed: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func localAddrPort(c *net.UDPConn) netip.AddrPort {
	addrPort := c.LocalAddr().(*net.UDPAddr).AddrPort()
	return netip.AddrPortFrom(addrPort.Addr().Unmap(), addrPort.Port())
}

// loopbackAddrPort replaces an unspecified address with the IPv4 loopback address.
func loopbackAddrPort(addrPort netip.AddrPort) netip.AddrPort {
	if addrPort.Addr().IsUnspecified() {
		return netip.AddrPortFrom(netip.AddrFrom4([4]byte{127, 0, 0, 1}), addrPort.Port())
	}
	return netip.AddrPortFrom(addrPort.Addr().Unmap(), addrPort.Port())
}

// reserveLoopbackAddrPort returns a currently unused 127.0.0.1 port.
func reserveLoopbackAddrPort(t *testing.T) netip.AddrPort {
	t.Helper()
	c, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("net.ListenUDP() failed: %v", err)
	}
	addrPort := localAddrPort(c)
	_ = c.Close()
	return addrPort
}

// encodeFrame returns payload framed with the player address.
func encodeFrame(t *testing.T, player netip.AddrPort, payload []byte) []byte {
	t.Helper()
	b, err := frame.Encode(player, payload)
	if err != nil {
		t.Fatalf("frame.Encode(%v) failed: %v", player, err)
	}
	return b
}

func writeTo(t *testing.T, c *net.UDPConn, b []byte, addrPort netip.AddrPort) {
	t.Helper()
	if _, err := c.WriteToUDPAddrPort(b, addrPort); err != nil {
		t.Fatalf("WriteToUDPAddrPort(%v) failed: %v", addrPort, err)
	}
}

func readFrom(t *testing.T, c *net.UDPConn, buf []byte) ([]byte, netip.AddrPort) {
	t.Helper()
	if err := c.SetReadDeadline(time.Now().Add(testReadTimeout)); err != nil {
		t.Fatalf("SetReadDeadline() failed: %v", err)
	}
	n, addrPort, err := c.ReadFromUDPAddrPort(buf)
	if err != nil {
		t.Fatalf("ReadFromUDPAddrPort() failed: %v", err)
	}
	return buf[:n], netip.AddrPortFrom(addrPort.Addr().Unmap(), addrPort.Port())
}

// waitFor polls cond until it returns true or the read timeout elapses.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(testReadTimeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func startGameRelay(t *testing.T, gc GameRelayConfig) *gameRelay {
	t.Helper()
	r, err := gc.GameRelay(newTestLogger(t), conn.NewListenConfigCache())
	if err != nil {
		t.Fatalf("GameRelay() failed: %v", err)
	}
	if err = r.Start(t.Context()); err != nil {
		t.Fatalf("r.Start() failed: %v", err)
	}
	t.Cleanup(func() {
		if err := r.Stop(); err != nil {
			t.Errorf("r.Stop() failed: %v", err)
		}
	})
	return r
}

func startPublicRelay(t *testing.T, pc PublicRelayConfig) *publicRelay {
	t.Helper()
	r, err := pc.PublicRelay(newTestLogger(t), conn.NewListenConfigCache())
	if err != nil {
		t.Fatalf("PublicRelay() failed: %v", err)
	}
	if err = r.Start(t.Context()); err != nil {
		t.Fatalf("r.Start() failed: %v", err)
	}
	t.Cleanup(func() {
		if err := r.Stop(); err != nil {
			t.Errorf("r.Stop() failed: %v", err)
		}
	})
	return r
}
