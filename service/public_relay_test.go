package service

import (
	"net"
	"net/netip"
	"testing"

	"github.com/gametunnel/gametunnel-go/conn"
	"github.com/gametunnel/gametunnel-go/frame"
)

func newTestPublicRelayConfig(tunnelPeer netip.AddrPort) PublicRelayConfig {
	return PublicRelayConfig{
		Name:                "test",
		PublicListenNetwork: "udp4",
		PublicListenAddress: "127.0.0.1:0",
		TunnelPeerAddress:   tunnelPeer.String(),
	}
}

func TestPublicRelayFraming(t *testing.T) {
	tunnelPeer := listenLoopback4(t)
	player := listenLoopback4(t)
	r := startPublicRelay(t, newTestPublicRelayConfig(localAddrPort(tunnelPeer)))
	publicAddrPort := loopbackAddrPort(localAddrPort(r.publicConn))
	playerAddrPort := localAddrPort(player)

	writeTo(t, player, []byte("hello"), publicAddrPort)

	buf := make([]byte, 2048)
	b, relayTunnelAddrPort := readFrom(t, tunnelPeer, buf)
	framePlayer, payload, err := frame.Decode(b)
	if err != nil {
		t.Fatalf("frame.Decode() failed: %v", err)
	}
	if framePlayer != playerAddrPort {
		t.Errorf("frame player = %v, want %v", framePlayer, playerAddrPort)
	}
	if string(payload) != "hello" {
		t.Errorf("frame payload = %q, want %q", payload, "hello")
	}

	writeTo(t, tunnelPeer, encodeFrame(t, playerAddrPort, []byte("world")), relayTunnelAddrPort)

	b, from := readFrom(t, player, buf)
	if string(b) != "world" {
		t.Errorf("player received %q, want %q", b, "world")
	}
	if from != publicAddrPort {
		t.Errorf("player received from %v, want %v", from, publicAddrPort)
	}
}

func TestPublicRelayMalformedFrame(t *testing.T) {
	tunnelPeer := listenLoopback4(t)
	player := listenLoopback4(t)
	r := startPublicRelay(t, newTestPublicRelayConfig(localAddrPort(tunnelPeer)))
	relayTunnelAddrPort := loopbackAddrPort(localAddrPort(r.tunnelConn))
	playerAddrPort := localAddrPort(player)

	writeTo(t, tunnelPeer, []byte{127, 0, 0}, relayTunnelAddrPort)
	writeTo(t, tunnelPeer, encodeFrame(t, playerAddrPort, []byte("ok")), relayTunnelAddrPort)

	if b, _ := readFrom(t, player, make([]byte, 2048)); string(b) != "ok" {
		t.Errorf("player received %q, want %q", b, "ok")
	}
}

func TestPublicRelayIgnoresOtherTunnelSources(t *testing.T) {
	tunnelPeer := listenLoopback4(t)
	stranger := listenLoopback4(t)
	player := listenLoopback4(t)
	r := startPublicRelay(t, newTestPublicRelayConfig(localAddrPort(tunnelPeer)))
	relayTunnelAddrPort := loopbackAddrPort(localAddrPort(r.tunnelConn))
	playerAddrPort := localAddrPort(player)

	writeTo(t, stranger, encodeFrame(t, playerAddrPort, []byte("spoofed")), relayTunnelAddrPort)
	writeTo(t, tunnelPeer, encodeFrame(t, playerAddrPort, []byte("genuine")), relayTunnelAddrPort)

	if b, _ := readFrom(t, player, make([]byte, 2048)); string(b) != "genuine" {
		t.Errorf("player received %q, want %q", b, "genuine")
	}
}

func TestPublicRelayDropsIPv6Players(t *testing.T) {
	player6, err := net.ListenUDP("udp6", &net.UDPAddr{IP: net.IPv6loopback})
	if err != nil {
		t.Skipf("IPv6 loopback unavailable: %v", err)
	}
	defer player6.Close()

	tunnelPeer := listenLoopback4(t)
	player4 := listenLoopback4(t)

	pc := newTestPublicRelayConfig(localAddrPort(tunnelPeer))
	pc.PublicListenNetwork = "udp"
	pc.PublicListenAddress = ":0"
	r := startPublicRelay(t, pc)
	publicPort := localAddrPort(r.publicConn).Port()

	if _, err = player6.WriteToUDPAddrPort([]byte("v6"), netip.AddrPortFrom(netip.IPv6Loopback(), publicPort)); err != nil {
		t.Skipf("dual-stack public socket unavailable: %v", err)
	}
	writeTo(t, player4, []byte("v4"), netip.AddrPortFrom(netip.AddrFrom4([4]byte{127, 0, 0, 1}), publicPort))

	b, _ := readFrom(t, tunnelPeer, make([]byte, 2048))
	framePlayer, payload, err := frame.Decode(b)
	if err != nil {
		t.Fatalf("frame.Decode() failed: %v", err)
	}
	if string(payload) != "v4" {
		t.Errorf("first frame payload = %q, want %q", payload, "v4")
	}
	if want := localAddrPort(player4); framePlayer != want {
		t.Errorf("frame player = %v, want %v", framePlayer, want)
	}
}

func TestPublicRelayConfigValidation(t *testing.T) {
	logger := newTestLogger(t)
	for _, c := range []struct {
		name string
		pc   PublicRelayConfig
	}{
		{"BadListenNetwork", PublicRelayConfig{PublicListenNetwork: "ip", TunnelPeerAddress: "127.0.0.1:1"}},
		{"MissingTunnelPeer", PublicRelayConfig{}},
		{"NegativeBufferSize", PublicRelayConfig{TunnelPeerAddress: "127.0.0.1:1", TunnelSocket: SocketConfig{ReceiveBufferSize: -1}}},
	} {
		t.Run(c.name, func(t *testing.T) {
			if _, err := c.pc.PublicRelay(logger, conn.NewListenConfigCache()); err == nil {
				t.Error("PublicRelay() error = nil, want error")
			}
		})
	}
}
