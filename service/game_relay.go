package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"os"
	"sync"
	"time"

	"github.com/gametunnel/gametunnel-go/conn"
	"github.com/gametunnel/gametunnel-go/diag"
	"github.com/gametunnel/gametunnel-go/frame"
	"github.com/gametunnel/gametunnel-go/jsoncfg"
	"github.com/gametunnel/gametunnel-go/tslog"
)

// GameRelayConfig is the configuration for the game-facing relay leg.
type GameRelayConfig struct {
	// Name specifies the name of the relay.
	Name string `json:"name"`

	// TunnelListenNetwork controls the address family of the tunnel socket.
	//
	//  - "udp": Determine from system capabilities and listen address.
	//  - "udp4": AF_INET
	//  - "udp6": AF_INET6
	//
	// If unspecified, "udp" is used.
	TunnelListenNetwork string `json:"tunnelListenNetwork,omitzero"`

	// TunnelListenAddress specifies the address to bind the tunnel socket to.
	// Public relays send frames to this address.
	TunnelListenAddress string `json:"tunnelListen"`

	// TunnelSocket controls the performance options of the tunnel socket.
	TunnelSocket SocketConfig `json:"tunnelSocket,omitzero"`

	// GameServerAddress specifies the address of the game server.
	// It can be either an IP address or a domain name, resolved when the relay starts.
	GameServerAddress string `json:"gameServer"`

	// GameSocket controls the performance options of per-player game server sockets.
	GameSocket SocketConfig `json:"gameSocket,omitzero"`

	// SessionIdleTimeout optionally specifies how long a player session may stay idle
	// in both directions before its socket is closed and its table entry removed.
	//
	// If zero, sessions are kept until the relay stops.
	SessionIdleTimeout jsoncfg.Duration `json:"sessionIdleTimeout,omitzero"`

	// BatchMode controls how frames are received on the tunnel socket.
	//
	//  - "": Platform default. "mmsg" on Linux, "no" elsewhere.
	//  - "no": Receive one frame per call.
	//  - "mmsg": Receive frames in batches with recvmmsg(2).
	BatchMode string `json:"batchMode,omitzero"`

	// RecvBatchSize is the maximum number of frames received by a single recvmmsg(2) call.
	// If zero, a default of 64 is used.
	RecvBatchSize int `json:"recvBatchSize,omitzero"`
}

// gameRelay demultiplexes frames from the tunnel link into per-player sessions,
// each with its own socket connected to the game server.
type gameRelay struct {
	name                string
	tunnelListenNetwork string
	tunnelListenAddress string
	gameServerAddress   string
	gameServerAddrPort  netip.AddrPort
	sessionIdleTimeout  time.Duration
	recvBatchSize       int
	logger              *tslog.Logger
	tunnelConnConfig    conn.ListenConfig
	gameConnConfig      conn.ListenConfig
	tunnelConn          *net.UDPConn
	sessions            *sessionTable
	wg                  sync.WaitGroup
	mwg                 sync.WaitGroup
}

// GameRelay creates a game relay service from the config.
// Call the Start method on the returned service to start it.
func (gc *GameRelayConfig) GameRelay(logger *tslog.Logger, listenConfigCache conn.ListenConfigCache) (*gameRelay, error) {
	tunnelListenNetwork, err := checkListenNetwork(gc.TunnelListenNetwork)
	if err != nil {
		return nil, err
	}

	if gc.GameServerAddress == "" {
		return nil, errors.New("missing gameServer address")
	}

	if gc.SessionIdleTimeout < 0 {
		return nil, fmt.Errorf("negative sessionIdleTimeout: %s", time.Duration(gc.SessionIdleTimeout))
	}

	batchMode := gc.BatchMode
	switch batchMode {
	case "":
		batchMode = defaultBatchMode
	case "no", "mmsg":
	default:
		return nil, fmt.Errorf("unknown batch mode: %s", gc.BatchMode)
	}

	var recvBatchSize int
	if batchMode == "mmsg" {
		switch {
		case gc.RecvBatchSize > 0 && gc.RecvBatchSize <= maxRecvBatchSize:
			recvBatchSize = gc.RecvBatchSize
		case gc.RecvBatchSize == 0:
			recvBatchSize = defaultRecvBatchSize
		default:
			return nil, fmt.Errorf("recv batch size out of range [0, %d]: %d", maxRecvBatchSize, gc.RecvBatchSize)
		}
	}

	tunnelSocketOptions, err := gc.TunnelSocket.SocketOptions()
	if err != nil {
		return nil, fmt.Errorf("bad tunnelSocket config: %w", err)
	}

	gameSocketOptions, err := gc.GameSocket.SocketOptions()
	if err != nil {
		return nil, fmt.Errorf("bad gameSocket config: %w", err)
	}

	return &gameRelay{
		name:                gc.Name,
		tunnelListenNetwork: tunnelListenNetwork,
		tunnelListenAddress: gc.TunnelListenAddress,
		gameServerAddress:   gc.GameServerAddress,
		sessionIdleTimeout:  time.Duration(gc.SessionIdleTimeout),
		recvBatchSize:       recvBatchSize,
		logger:              logger,
		tunnelConnConfig:    listenConfigCache.Get(tunnelSocketOptions),
		gameConnConfig:      listenConfigCache.Get(gameSocketOptions),
		sessions:            newSessionTable(defaultSessionTableCapacity),
	}, nil
}

// SlogAttr implements [Service.SlogAttr].
func (r *gameRelay) SlogAttr() slog.Attr {
	return slog.String("gameRelay", r.name)
}

// Start implements [Service.Start].
func (r *gameRelay) Start(ctx context.Context) error {
	gameServerAddrPort, err := conn.ResolveAddrPort(r.gameServerAddress)
	if err != nil {
		return fmt.Errorf("failed to resolve game server address %q: %w", r.gameServerAddress, err)
	}

	// Unmapping aligns the address family with the per-player sockets,
	// which are bound according to the game server's address family.
	r.gameServerAddrPort = netip.AddrPortFrom(gameServerAddrPort.Addr().Unmap(), gameServerAddrPort.Port())

	tunnelConn, err := r.tunnelConnConfig.ListenUDP(ctx, r.tunnelListenNetwork, r.tunnelListenAddress)
	if err != nil {
		return err
	}
	r.tunnelConn = tunnelConn
	r.tunnelListenAddress = tunnelConn.LocalAddr().String()

	logger := r.logger.WithAttrs(
		slog.String("gameRelay", r.name),
		slog.String("tunnelListenAddress", r.tunnelListenAddress),
	)

	r.mwg.Add(1)

	go func() {
		if r.recvBatchSize > 0 {
			r.recvFromTunnelConnBatch(ctx, logger)
		} else {
			r.recvFromTunnelConnGeneric(ctx, logger)
		}
		r.mwg.Done()
	}()

	logger.Info("Started service",
		tslog.AddrPort("gameServerAddress", r.gameServerAddrPort),
		slog.Duration("sessionIdleTimeout", r.sessionIdleTimeout),
		slog.Int("recvBatchSize", r.recvBatchSize),
	)
	return nil
}

// recvFromTunnelConnGeneric receives one frame per call from the tunnel socket.
func (r *gameRelay) recvFromTunnelConnGeneric(ctx context.Context, logger *tslog.Logger) {
	buf := make([]byte, frame.MaxFrameLength)

	var (
		framesReceived     uint64
		frameBytesReceived uint64
		packetsSent        uint64
		payloadBytesSent   uint64
	)

	for {
		n, tunnelAddrPort, err := r.tunnelConn.ReadFromUDPAddrPort(buf)
		if err != nil {
			if errors.Is(err, os.ErrDeadlineExceeded) || errors.Is(err, net.ErrClosed) {
				break
			}
			logger.Warn("Failed to read from tunnelConn",
				tslog.AddrPort("tunnelAddress", tunnelAddrPort),
				slog.Int("frameLength", n),
				tslog.Err(err),
			)
			continue
		}

		framesReceived++
		frameBytesReceived += uint64(n)

		if pn, ok := r.handleFrame(ctx, logger, buf[:n], tunnelAddrPort); ok {
			packetsSent++
			payloadBytesSent += uint64(pn)
		}
	}

	logger.Info("Finished receiving from tunnelConn",
		tslog.Uint("framesReceived", framesReceived),
		tslog.Uint("frameBytesReceived", frameBytesReceived),
		tslog.Uint("packetsSent", packetsSent),
		tslog.Uint("payloadBytesSent", payloadBytesSent),
		slog.Int("sessions", r.sessions.Len()),
	)
}

// recvFromTunnelConnBatch receives up to recvBatchSize frames per call from the tunnel socket.
func (r *gameRelay) recvFromTunnelConnBatch(ctx context.Context, logger *tslog.Logger) {
	br := conn.NewBatchReader(r.tunnelConn, r.recvBatchSize, frame.MaxFrameLength)

	var (
		recvmmsgCount      uint64
		framesReceived     uint64
		frameBytesReceived uint64
		packetsSent        uint64
		payloadBytesSent   uint64
		burstFrameCount    int
	)

	for {
		n, err := br.ReadBatch()
		if err != nil {
			if errors.Is(err, os.ErrDeadlineExceeded) || errors.Is(err, net.ErrClosed) {
				break
			}
			logger.Warn("Failed to batch read from tunnelConn", tslog.Err(err))
			continue
		}

		recvmmsgCount++
		burstFrameCount = max(burstFrameCount, n)

		for i := range n {
			b, tunnelAddrPort, flags := br.Message(i)
			if err = conn.ParseFlagsForError(flags); err != nil {
				logger.Warn("Failed to read from tunnelConn",
					tslog.AddrPort("tunnelAddress", tunnelAddrPort),
					slog.Int("frameLength", len(b)),
					tslog.Err(err),
				)
				continue
			}

			framesReceived++
			frameBytesReceived += uint64(len(b))

			if pn, ok := r.handleFrame(ctx, logger, b, tunnelAddrPort); ok {
				packetsSent++
				payloadBytesSent += uint64(pn)
			}
		}
	}

	logger.Info("Finished receiving from tunnelConn",
		tslog.Uint("recvmmsgCount", recvmmsgCount),
		tslog.Uint("framesReceived", framesReceived),
		tslog.Uint("frameBytesReceived", frameBytesReceived),
		tslog.Uint("packetsSent", packetsSent),
		tslog.Uint("payloadBytesSent", payloadBytesSent),
		slog.Int("burstFrameCount", burstFrameCount),
		slog.Int("sessions", r.sessions.Len()),
	)
}

// handleFrame decodes a frame received from tunnelAddrPort, and forwards the payload
// to the game server on the player's session, creating the session if necessary.
//
// It returns the number of payload bytes written, and whether the payload was forwarded.
func (r *gameRelay) handleFrame(ctx context.Context, logger *tslog.Logger, b []byte, tunnelAddrPort netip.AddrPort) (int, bool) {
	playerAddrPort, payload, err := frame.Decode(b)
	if err != nil {
		logger.Warn("Failed to decode frame from tunnelConn",
			tslog.AddrPort("tunnelAddress", tunnelAddrPort),
			slog.Int("frameLength", len(b)),
			tslog.Err(err),
		)
		return 0, false
	}

	var (
		s       *session
		created bool
	)
	for {
		s, created, err = r.sessions.GetOrCreate(playerAddrPort, func() (*session, error) {
			return r.startSession(ctx, logger, playerAddrPort, tunnelAddrPort)
		})
		if err != nil {
			logger.Warn("Failed to create session",
				tslog.AddrPort("playerAddress", playerAddrPort),
				tslog.AddrPort("tunnelAddress", tunnelAddrPort),
				tslog.Err(err),
			)
			return 0, false
		}
		if s.lockActive() {
			break
		}
		// The session expired after the lookup and is no longer in the table.
	}
	defer s.mu.Unlock()

	if !created {
		if tp := s.tunnelPeer.Load(); !conn.AddrPortMappedEqual(*tp, tunnelAddrPort) {
			newTunnelPeer := tunnelAddrPort
			s.tunnelPeer.Store(&newTunnelPeer)

			logger.Info("Updated session tunnel peer",
				tslog.AddrPort("playerAddress", playerAddrPort),
				tslog.AddrPort("oldTunnelAddress", *tp),
				tslog.AddrPort("tunnelAddress", tunnelAddrPort),
			)
		}
	}

	if r.sessionIdleTimeout > 0 {
		now := time.Now()
		s.lastUplink = now
		if err = s.gameConn.SetReadDeadline(now.Add(r.sessionIdleTimeout)); err != nil {
			logger.Warn("Failed to SetReadDeadline on gameConn",
				tslog.AddrPort("playerAddress", playerAddrPort),
				tslog.Err(err),
			)
		}
	}

	if logger.Enabled(slog.LevelDebug) {
		logger.Debug("Forwarding packet tunnel -> game",
			tslog.AddrPort("playerAddress", playerAddrPort),
			diag.Packet("packet", payload),
		)
	}

	n, err := s.gameConn.Write(payload)
	if err != nil {
		logger.Warn("Failed to write packet to gameConn",
			tslog.AddrPort("playerAddress", playerAddrPort),
			slog.Int("packetLength", len(payload)),
			tslog.Err(err),
		)
		return 0, false
	}
	return n, true
}

// startSession creates the player's socket connected to the game server,
// and starts the session's reader.
func (r *gameRelay) startSession(ctx context.Context, logger *tslog.Logger, playerAddrPort, tunnelAddrPort netip.AddrPort) (*session, error) {
	gameConn, err := r.gameConnConfig.DialUDP(ctx, conn.ListenNetworkForRemoteAddr(r.gameServerAddrPort.Addr()), "", r.gameServerAddrPort)
	if err != nil {
		return nil, fmt.Errorf("failed to create game server socket: %w", err)
	}

	s := newSession(playerAddrPort, tunnelAddrPort, gameConn)

	sesLogger := logger.WithAttrs(
		tslog.AddrPort("playerAddress", playerAddrPort),
		slog.String("gameConnListenAddress", gameConn.LocalAddr().String()),
	)

	r.wg.Add(1)

	go func() {
		r.relayGameToTunnel(sesLogger, s)
		r.wg.Done()
	}()

	sesLogger.Info("Game relay session started",
		tslog.AddrPort("tunnelAddress", tunnelAddrPort),
		tslog.AddrPort("gameServerAddress", r.gameServerAddrPort),
	)
	return s, nil
}

// relayGameToTunnel receives game server replies on the session's socket,
// and sends them framed with the player's address to the session's tunnel peer.
//
// Without an idle timeout, it runs until the session socket is closed by Stop.
// With one, it also exits once the session has seen no traffic in either direction
// for the timeout, after removing the session from the table.
func (r *gameRelay) relayGameToTunnel(logger *tslog.Logger, s *session) {
	buf := make([]byte, frame.MaxFrameLength)

	var (
		packetsReceived      uint64
		payloadBytesReceived uint64
		framesSent           uint64
		frameBytesSent       uint64
	)

	for {
		n, err := s.gameConn.Read(buf[frame.HeaderLength:])
		if err != nil {
			if errors.Is(err, os.ErrDeadlineExceeded) {
				// An uplink write may have extended the deadline after it fired.
				if !s.tryExpire(time.Now(), r.sessionIdleTimeout, r.sessions) {
					continue
				}
				break
			}
			if errors.Is(err, net.ErrClosed) {
				break
			}
			logger.Warn("Failed to read from gameConn",
				slog.Int("packetLength", n),
				tslog.Err(err),
			)
			continue
		}

		packetsReceived++
		payloadBytesReceived += uint64(n)

		if r.sessionIdleTimeout > 0 {
			if err = s.gameConn.SetReadDeadline(time.Now().Add(r.sessionIdleTimeout)); err != nil {
				logger.Warn("Failed to SetReadDeadline on gameConn", tslog.Err(err))
			}
		}

		if err = frame.PutHeader(buf, s.playerAddrPort); err != nil {
			logger.Error("Failed to put frame header", tslog.Err(err))
			continue
		}

		tunnelAddrPort := *s.tunnelPeer.Load()

		if logger.Enabled(slog.LevelDebug) {
			logger.Debug("Forwarding packet game -> tunnel",
				tslog.AddrPort("tunnelAddress", tunnelAddrPort),
				diag.Packet("packet", buf[frame.HeaderLength:frame.HeaderLength+n]),
			)
		}

		fn, err := r.tunnelConn.WriteToUDPAddrPort(buf[:frame.HeaderLength+n], tunnelAddrPort)
		if err != nil {
			logger.Warn("Failed to write frame to tunnelConn",
				tslog.AddrPort("tunnelAddress", tunnelAddrPort),
				slog.Int("frameLength", frame.HeaderLength+n),
				tslog.Err(err),
			)
			continue
		}

		framesSent++
		frameBytesSent += uint64(fn)
	}

	r.sessions.Delete(s.playerAddrPort, s)
	_ = s.gameConn.Close()
	close(s.readerDone)

	logger.Info("Finished relay gameConn -> tunnelConn",
		tslog.Uint("packetsReceived", packetsReceived),
		tslog.Uint("payloadBytesReceived", payloadBytesReceived),
		tslog.Uint("framesSent", framesSent),
		tslog.Uint("frameBytesSent", frameBytesSent),
	)
}

// Stop implements [Service.Stop].
func (r *gameRelay) Stop() error {
	if err := r.tunnelConn.SetReadDeadline(conn.ALongTimeAgo); err != nil {
		return fmt.Errorf("failed to SetReadDeadline on tunnelConn: %w", err)
	}

	// Wait for the receive goroutine to exit,
	// so there won't be any new sessions added to the table.
	r.mwg.Wait()

	r.sessions.Range(func(s *session) bool {
		if err := s.gameConn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			r.logger.Warn("Failed to close gameConn",
				slog.String("gameRelay", r.name),
				tslog.AddrPort("playerAddress", s.playerAddrPort),
				tslog.Err(err),
			)
		}
		return true
	})

	// Wait for all session readers to exit before closing tunnelConn,
	// so in-flight replies can be written out.
	r.wg.Wait()

	if err := r.tunnelConn.Close(); err != nil {
		return fmt.Errorf("failed to close tunnelConn: %w", err)
	}
	return nil
}
