package service

import (
	"crypto/rand"
	"errors"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gametunnel/gametunnel-go/jsoncfg"
	"github.com/gametunnel/gametunnel-go/service/internal/packetseq"
)

func TestManagerEndToEnd(t *testing.T) {
	for _, batchMode := range batchModeCases {
		t.Run(batchMode, func(t *testing.T) {
			gameServer := listenLoopback4(t)
			publicAddrPort := reserveLoopbackAddrPort(t)
			tunnelAddrPort := reserveLoopbackAddrPort(t)

			sc := Config{
				PublicRelays: []PublicRelayConfig{
					{
						Name:                "public",
						PublicListenNetwork: "udp4",
						PublicListenAddress: publicAddrPort.String(),
						TunnelPeerAddress:   tunnelAddrPort.String(),
					},
				},
				GameRelays: []GameRelayConfig{
					{
						Name:                "game",
						TunnelListenNetwork: "udp4",
						TunnelListenAddress: tunnelAddrPort.String(),
						GameServerAddress:   localAddrPort(gameServer).String(),
						BatchMode:           batchMode,
					},
				},
			}

			m, err := sc.Manager(newTestLogger(t))
			if err != nil {
				t.Fatalf("sc.Manager() failed: %v", err)
			}
			if err = m.Start(t.Context()); err != nil {
				t.Fatalf("m.Start() failed: %v", err)
			}
			t.Cleanup(m.Stop)

			// The game server echoes every packet back to its sender.
			echoDone := make(chan struct{})
			go func() {
				defer close(echoDone)
				buf := make([]byte, 2048)
				for {
					n, from, err := gameServer.ReadFromUDPAddrPort(buf)
					if err != nil {
						return
					}
					if _, err = gameServer.WriteToUDPAddrPort(buf[:n], from); err != nil {
						return
					}
				}
			}()
			t.Cleanup(func() {
				_ = gameServer.SetReadDeadline(time.Now())
				<-echoDone
			})

			players := []*net.UDPConn{listenLoopback4(t), listenLoopback4(t)}
			const packetsPerPlayer = 16

			for _, player := range players {
				var (
					s   packetseq.Sender
					r   packetseq.Receiver
					buf = make([]byte, 2048)
				)

				for range packetsPerPlayer {
					b := make([]byte, 64)
					rand.Read(b)
					s.Stamp(b)
					writeTo(t, player, b, publicAddrPort)

					rb, _ := readFrom(t, player, buf)
					if err := r.Validate(rb); err != nil {
						t.Fatalf("r.Validate() failed: %v", err)
					}
				}

				if got := r.Count(); got != packetsPerPlayer {
					t.Errorf("received %d unique packets, want %d", got, packetsPerPlayer)
				}
			}
		})
	}
}

func TestManagerStartFailureStopsStartedServices(t *testing.T) {
	sc := Config{
		PublicRelays: []PublicRelayConfig{
			{
				Name:                "public",
				PublicListenNetwork: "udp4",
				PublicListenAddress: "127.0.0.1:0",
				TunnelPeerAddress:   "127.0.0.1:1",
			},
		},
		GameRelays: []GameRelayConfig{
			{
				Name:                "game",
				TunnelListenNetwork: "udp4",
				TunnelListenAddress: "127.0.0.1:0",
				// Missing port.
				GameServerAddress: "127.0.0.1",
			},
		},
	}

	m, err := sc.Manager(newTestLogger(t))
	if err != nil {
		t.Fatalf("sc.Manager() failed: %v", err)
	}
	if err = m.Start(t.Context()); err == nil {
		m.Stop()
		t.Fatal("m.Start() error = nil, want error")
	}

	pr := m.services[0].(*publicRelay)
	if _, err = pr.publicConn.WriteToUDPAddrPort([]byte("x"), localAddrPort(pr.publicConn)); !errors.Is(err, net.ErrClosed) {
		t.Errorf("publicConn write error = %v, want net.ErrClosed", err)
	}
}

func TestConfigManagerValidation(t *testing.T) {
	logger := newTestLogger(t)
	for _, c := range []struct {
		name string
		sc   Config
	}{
		{"NoServices", Config{}},
		{"BadPublicRelay", Config{PublicRelays: []PublicRelayConfig{{Name: "p"}}}},
		{"BadGameRelay", Config{GameRelays: []GameRelayConfig{{Name: "g"}}}},
	} {
		t.Run(c.name, func(t *testing.T) {
			if _, err := c.sc.Manager(logger); err == nil {
				t.Error("sc.Manager() error = nil, want error")
			}
		})
	}

	sc := Config{
		GameRelays: []GameRelayConfig{{Name: "g", GameServerAddress: "127.0.0.1:1"}},
	}
	sc.Pprof.Enabled = true
	if _, err := sc.Manager(logger); err == nil {
		t.Error("sc.Manager() with pprof missing listenAddress error = nil, want error")
	}
	sc.Pprof.ListenAddress = "127.0.0.1:0"
	m, err := sc.Manager(logger)
	if err != nil {
		t.Fatalf("sc.Manager() failed: %v", err)
	}
	if got := len(m.services); got != 2 {
		t.Errorf("len(m.services) = %d, want 2", got)
	}
}

func TestConfigFromJSON(t *testing.T) {
	const configJSON = `{
    "publicRelays": [
        {
            "name": "public0",
            "publicListen": ":20220",
            "tunnelPeer": "192.0.2.10:20221",
            "publicSocket": {"fwmark": 52140, "disableReusePort": true}
        }
    ],
    "gameRelays": [
        {
            "name": "game0",
            "tunnelListen": ":20221",
            "gameServer": "127.0.0.1:27015",
            "sessionIdleTimeout": "5m",
            "batchMode": "mmsg",
            "recvBatchSize": 32
        }
    ]
}`

	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(configJSON), 0o644); err != nil {
		t.Fatal(err)
	}

	var sc Config
	if err := jsoncfg.Open(path, &sc); err != nil {
		t.Fatalf("jsoncfg.Open() failed: %v", err)
	}

	if len(sc.PublicRelays) != 1 || len(sc.GameRelays) != 1 {
		t.Fatalf("got %d public relays and %d game relays, want 1 and 1", len(sc.PublicRelays), len(sc.GameRelays))
	}

	pc := sc.PublicRelays[0]
	if pc.PublicListenAddress != ":20220" || pc.TunnelPeerAddress != "192.0.2.10:20221" {
		t.Errorf("public relay addresses = %q, %q", pc.PublicListenAddress, pc.TunnelPeerAddress)
	}
	if pc.PublicSocket.Fwmark != 52140 || !pc.PublicSocket.DisableReusePort {
		t.Errorf("public socket config = %+v", pc.PublicSocket)
	}

	gc := sc.GameRelays[0]
	if got := time.Duration(gc.SessionIdleTimeout); got != 5*time.Minute {
		t.Errorf("sessionIdleTimeout = %v, want 5m", got)
	}
	if gc.BatchMode != "mmsg" || gc.RecvBatchSize != 32 {
		t.Errorf("batchMode, recvBatchSize = %q, %d, want mmsg, 32", gc.BatchMode, gc.RecvBatchSize)
	}

	if _, err := sc.Manager(newTestLogger(t)); err != nil {
		t.Errorf("sc.Manager() failed: %v", err)
	}
}

func TestSocketConfigDefaults(t *testing.T) {
	so, err := SocketConfig{}.SocketOptions()
	if err != nil {
		t.Fatalf("SocketOptions() failed: %v", err)
	}
	if !so.KeepAlive || !so.ReuseAddress || !so.ReusePort || !so.OOBInline {
		t.Errorf("SocketOptions() = %+v, want all flags enabled", so)
	}
	if so.SendBufferSize == 0 || so.ReceiveBufferSize == 0 {
		t.Errorf("SocketOptions() = %+v, want default buffer sizes", so)
	}

	so, err = SocketConfig{DisableKeepAlive: true, DisableOOBInline: true, SendBufferSize: 4096}.SocketOptions()
	if err != nil {
		t.Fatalf("SocketOptions() failed: %v", err)
	}
	if so.KeepAlive || so.OOBInline || so.SendBufferSize != 4096 {
		t.Errorf("SocketOptions() = %+v, want keepalive and oobinline disabled with 4096 send buffer", so)
	}
}
