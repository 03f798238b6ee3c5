package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"

	"github.com/gametunnel/gametunnel-go/conn"
	"github.com/gametunnel/gametunnel-go/diag"
	"github.com/gametunnel/gametunnel-go/frame"
	"github.com/gametunnel/gametunnel-go/tslog"
)

// PublicRelayConfig is the configuration for the player-facing relay leg.
type PublicRelayConfig struct {
	// Name specifies the name of the relay.
	Name string `json:"name"`

	// PublicListenNetwork controls the address family of the public socket.
	//
	//  - "udp": Determine from system capabilities and listen address.
	//  - "udp4": AF_INET
	//  - "udp6": AF_INET6
	//
	// If unspecified, "udp" is used.
	PublicListenNetwork string `json:"publicListenNetwork,omitzero"`

	// PublicListenAddress specifies the address to bind the public socket to.
	// Players send raw game traffic to this address.
	PublicListenAddress string `json:"publicListen"`

	// PublicSocket controls the performance options of the public socket.
	PublicSocket SocketConfig `json:"publicSocket,omitzero"`

	// TunnelListenAddress optionally specifies the local address of the tunnel socket.
	// If unspecified, an ephemeral port is used.
	TunnelListenAddress string `json:"tunnelListen,omitzero"`

	// TunnelPeerAddress specifies the address of the game relay's tunnel socket.
	// It can be either an IP address or a domain name, resolved when the relay starts.
	TunnelPeerAddress string `json:"tunnelPeer"`

	// TunnelSocket controls the performance options of the tunnel socket.
	TunnelSocket SocketConfig `json:"tunnelSocket,omitzero"`
}

// publicRelay frames player datagrams onto the tunnel link,
// and unframes tunnel datagrams back to players.
type publicRelay struct {
	name                string
	publicListenNetwork string
	publicListenAddress string
	tunnelListenAddress string
	tunnelPeerAddress   string
	logger              *tslog.Logger
	publicConnConfig    conn.ListenConfig
	tunnelConnConfig    conn.ListenConfig
	publicConn          *net.UDPConn
	tunnelConn          *net.UDPConn
	wg                  sync.WaitGroup
}

// PublicRelay creates a public relay service from the config.
// Call the Start method on the returned service to start it.
func (pc *PublicRelayConfig) PublicRelay(logger *tslog.Logger, listenConfigCache conn.ListenConfigCache) (*publicRelay, error) {
	publicListenNetwork, err := checkListenNetwork(pc.PublicListenNetwork)
	if err != nil {
		return nil, err
	}

	if pc.TunnelPeerAddress == "" {
		return nil, errors.New("missing tunnelPeer address")
	}

	publicSocketOptions, err := pc.PublicSocket.SocketOptions()
	if err != nil {
		return nil, fmt.Errorf("bad publicSocket config: %w", err)
	}

	tunnelSocketOptions, err := pc.TunnelSocket.SocketOptions()
	if err != nil {
		return nil, fmt.Errorf("bad tunnelSocket config: %w", err)
	}

	return &publicRelay{
		name:                pc.Name,
		publicListenNetwork: publicListenNetwork,
		publicListenAddress: pc.PublicListenAddress,
		tunnelListenAddress: pc.TunnelListenAddress,
		tunnelPeerAddress:   pc.TunnelPeerAddress,
		logger:              logger,
		publicConnConfig:    listenConfigCache.Get(publicSocketOptions),
		tunnelConnConfig:    listenConfigCache.Get(tunnelSocketOptions),
	}, nil
}

// SlogAttr implements [Service.SlogAttr].
func (r *publicRelay) SlogAttr() slog.Attr {
	return slog.String("publicRelay", r.name)
}

// Start implements [Service.Start].
func (r *publicRelay) Start(ctx context.Context) error {
	tunnelPeerAddrPort, err := conn.ResolveAddrPort(r.tunnelPeerAddress)
	if err != nil {
		return fmt.Errorf("failed to resolve tunnel peer address %q: %w", r.tunnelPeerAddress, err)
	}

	publicConn, err := r.publicConnConfig.ListenUDP(ctx, r.publicListenNetwork, r.publicListenAddress)
	if err != nil {
		return err
	}

	tunnelConn, err := r.tunnelConnConfig.DialUDP(ctx, conn.ListenNetworkForRemoteAddr(tunnelPeerAddrPort.Addr()), r.tunnelListenAddress, tunnelPeerAddrPort)
	if err != nil {
		publicConn.Close()
		return err
	}

	r.publicConn = publicConn
	r.tunnelConn = tunnelConn
	r.publicListenAddress = publicConn.LocalAddr().String()
	r.tunnelListenAddress = tunnelConn.LocalAddr().String()

	logger := r.logger.WithAttrs(
		slog.String("publicRelay", r.name),
		slog.String("publicListenAddress", r.publicListenAddress),
		tslog.AddrPort("tunnelPeerAddress", tunnelPeerAddrPort),
	)

	r.wg.Add(2)

	go func() {
		r.relayPlayerToTunnel(logger)
		r.wg.Done()
	}()

	go func() {
		r.relayTunnelToPlayer(logger)
		r.wg.Done()
	}()

	logger.Info("Started service",
		slog.String("tunnelListenAddress", r.tunnelListenAddress),
	)
	return nil
}

// relayPlayerToTunnel receives player datagrams on the public socket,
// and sends them framed with the player's address to the tunnel peer.
func (r *publicRelay) relayPlayerToTunnel(logger *tslog.Logger) {
	// Receive directly after the header space, so framing never copies the payload.
	buf := make([]byte, frame.MaxFrameLength)

	var (
		packetsReceived      uint64
		payloadBytesReceived uint64
		packetsSent          uint64
		frameBytesSent       uint64
	)

	for {
		n, playerAddrPort, err := r.publicConn.ReadFromUDPAddrPort(buf[frame.HeaderLength:])
		if err != nil {
			if errors.Is(err, os.ErrDeadlineExceeded) || errors.Is(err, net.ErrClosed) {
				break
			}
			logger.Warn("Failed to read from publicConn",
				tslog.AddrPort("playerAddress", playerAddrPort),
				slog.Int("packetLength", n),
				tslog.Err(err),
			)
			continue
		}

		packetsReceived++
		payloadBytesReceived += uint64(n)

		framePlayerAddrPort, ok := frame.PlayerAddress(playerAddrPort)
		if !ok {
			logger.Warn("Dropping packet from player",
				tslog.AddrPort("playerAddress", playerAddrPort),
				slog.Int("packetLength", n),
				tslog.Err(ErrUnexpectedAddressFamily),
			)
			continue
		}

		if err = frame.PutHeader(buf, framePlayerAddrPort); err != nil {
			logger.Error("Failed to put frame header",
				tslog.AddrPort("playerAddress", framePlayerAddrPort),
				tslog.Err(err),
			)
			continue
		}

		if logger.Enabled(slog.LevelDebug) {
			logger.Debug("Forwarding packet player -> tunnel",
				tslog.AddrPort("playerAddress", framePlayerAddrPort),
				diag.Packet("packet", buf[frame.HeaderLength:frame.HeaderLength+n]),
			)
		}

		fn, err := r.tunnelConn.Write(buf[:frame.HeaderLength+n])
		if err != nil {
			logger.Warn("Failed to write frame to tunnelConn",
				tslog.AddrPort("playerAddress", framePlayerAddrPort),
				slog.Int("frameLength", frame.HeaderLength+n),
				tslog.Err(err),
			)
			continue
		}

		packetsSent++
		frameBytesSent += uint64(fn)
	}

	logger.Info("Finished relay publicConn -> tunnelConn",
		tslog.Uint("packetsReceived", packetsReceived),
		tslog.Uint("payloadBytesReceived", payloadBytesReceived),
		tslog.Uint("packetsSent", packetsSent),
		tslog.Uint("frameBytesSent", frameBytesSent),
	)
}

// relayTunnelToPlayer receives frames from the tunnel peer,
// and sends each payload to the player address in its header.
func (r *publicRelay) relayTunnelToPlayer(logger *tslog.Logger) {
	buf := make([]byte, frame.MaxFrameLength)

	var (
		framesReceived     uint64
		frameBytesReceived uint64
		packetsSent        uint64
		payloadBytesSent   uint64
	)

	for {
		n, err := r.tunnelConn.Read(buf)
		if err != nil {
			if errors.Is(err, os.ErrDeadlineExceeded) || errors.Is(err, net.ErrClosed) {
				break
			}
			logger.Warn("Failed to read from tunnelConn",
				slog.Int("frameLength", n),
				tslog.Err(err),
			)
			continue
		}

		framesReceived++
		frameBytesReceived += uint64(n)

		playerAddrPort, payload, err := frame.Decode(buf[:n])
		if err != nil {
			logger.Warn("Failed to decode frame from tunnelConn",
				slog.Int("frameLength", n),
				tslog.Err(err),
			)
			continue
		}

		if logger.Enabled(slog.LevelDebug) {
			logger.Debug("Forwarding packet tunnel -> player",
				tslog.AddrPort("playerAddress", playerAddrPort),
				diag.Packet("packet", payload),
			)
		}

		pn, err := r.publicConn.WriteToUDPAddrPort(payload, playerAddrPort)
		if err != nil {
			logger.Warn("Failed to write packet to publicConn",
				tslog.AddrPort("playerAddress", playerAddrPort),
				slog.Int("packetLength", len(payload)),
				tslog.Err(err),
			)
			continue
		}

		packetsSent++
		payloadBytesSent += uint64(pn)
	}

	logger.Info("Finished relay tunnelConn -> publicConn",
		tslog.Uint("framesReceived", framesReceived),
		tslog.Uint("frameBytesReceived", frameBytesReceived),
		tslog.Uint("packetsSent", packetsSent),
		tslog.Uint("payloadBytesSent", payloadBytesSent),
	)
}

// Stop implements [Service.Stop].
func (r *publicRelay) Stop() error {
	if err := r.publicConn.SetReadDeadline(conn.ALongTimeAgo); err != nil {
		return fmt.Errorf("failed to SetReadDeadline on publicConn: %w", err)
	}
	if err := r.tunnelConn.SetReadDeadline(conn.ALongTimeAgo); err != nil {
		return fmt.Errorf("failed to SetReadDeadline on tunnelConn: %w", err)
	}

	// Wait for both relay goroutines to exit before closing the sockets,
	// so in-flight packets can be written out.
	r.wg.Wait()

	if err := r.publicConn.Close(); err != nil {
		return fmt.Errorf("failed to close publicConn: %w", err)
	}
	if err := r.tunnelConn.Close(); err != nil {
		return fmt.Errorf("failed to close tunnelConn: %w", err)
	}
	return nil
}
