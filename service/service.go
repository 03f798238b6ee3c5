// Package service implements the two relay legs of the game tunnel,
// and a manager that starts and stops them.
//
// The public relay accepts raw datagrams from players, prepends each player's
// address in a frame, and sends the frames over the tunnel link. The game relay
// receives the frames, strips the address, and forwards each payload to the game
// server through a dedicated socket per player, so that replies can be framed
// with the right player address on the way back.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/gametunnel/gametunnel-go/conn"
	"github.com/gametunnel/gametunnel-go/pprof"
	"github.com/gametunnel/gametunnel-go/tslog"
)

const (
	// defaultSessionTableCapacity is the initial capacity of a game relay's session table.
	defaultSessionTableCapacity = 128

	// defaultRecvBatchSize is the default number of frames received by a single
	// recvmmsg(2) call on the game relay's tunnel socket.
	defaultRecvBatchSize = 64

	// maxRecvBatchSize is the maximum allowed receive batch size.
	maxRecvBatchSize = 1024
)

// ErrUnexpectedAddressFamily is logged when a player sends from an address
// that cannot be carried in a frame header.
var ErrUnexpectedAddressFamily = errors.New("player address is not IPv4")

// Service is implemented by encapsulations that run a relay leg
// or another long-running component.
type Service interface {
	// SlogAttr returns a [slog.Attr] that identifies the service.
	SlogAttr() slog.Attr

	// Start starts the service.
	Start(ctx context.Context) error

	// Stop stops the service.
	Stop() error
}

// SocketConfig controls the performance options of a relay socket.
// All options are enabled by default.
type SocketConfig struct {
	// Fwmark optionally specifies the socket's fwmark on Linux.
	Fwmark int `json:"fwmark,omitzero"`

	// SendBufferSize is the socket send buffer size.
	// If zero, [conn.DefaultUDPSocketBufferSize] is used.
	SendBufferSize int `json:"sendBufferSize,omitzero"`

	// ReceiveBufferSize is the socket receive buffer size.
	// If zero, [conn.DefaultUDPSocketBufferSize] is used.
	ReceiveBufferSize int `json:"receiveBufferSize,omitzero"`

	// DisableKeepAlive disables SO_KEEPALIVE.
	DisableKeepAlive bool `json:"disableKeepAlive,omitzero"`

	// DisableReuseAddress disables SO_REUSEADDR.
	DisableReuseAddress bool `json:"disableReuseAddress,omitzero"`

	// DisableReusePort disables SO_REUSEPORT.
	DisableReusePort bool `json:"disableReusePort,omitzero"`

	// DisableOOBInline disables SO_OOBINLINE.
	DisableOOBInline bool `json:"disableOOBInline,omitzero"`
}

// SocketOptions returns the socket options for the config.
func (sc SocketConfig) SocketOptions() (conn.SocketOptions, error) {
	if sc.SendBufferSize < 0 {
		return conn.SocketOptions{}, fmt.Errorf("negative send buffer size: %d", sc.SendBufferSize)
	}
	if sc.ReceiveBufferSize < 0 {
		return conn.SocketOptions{}, fmt.Errorf("negative receive buffer size: %d", sc.ReceiveBufferSize)
	}

	so := conn.SocketOptions{
		SendBufferSize:    sc.SendBufferSize,
		ReceiveBufferSize: sc.ReceiveBufferSize,
		Fwmark:            sc.Fwmark,
		KeepAlive:         !sc.DisableKeepAlive,
		ReuseAddress:      !sc.DisableReuseAddress,
		ReusePort:         !sc.DisableReusePort,
		OOBInline:         !sc.DisableOOBInline,
	}
	if so.SendBufferSize == 0 {
		so.SendBufferSize = conn.DefaultUDPSocketBufferSize
	}
	if so.ReceiveBufferSize == 0 {
		so.ReceiveBufferSize = conn.DefaultUDPSocketBufferSize
	}
	return so, nil
}

func checkListenNetwork(network string) (string, error) {
	switch network {
	case "":
		return "udp", nil
	case "udp", "udp4", "udp6":
		return network, nil
	default:
		return "", fmt.Errorf("invalid listen network %q: not one of [udp udp4 udp6]", network)
	}
}

// Config stores configurations for a typical game tunnel deployment.
// It may be marshaled as or unmarshaled from JSON.
type Config struct {
	Pprof        pprof.Config        `json:"pprof,omitzero"`
	PublicRelays []PublicRelayConfig `json:"publicRelays"`
	GameRelays   []GameRelayConfig   `json:"gameRelays"`
}

// Manager initializes the service manager.
func (sc *Config) Manager(logger *tslog.Logger) (*Manager, error) {
	serviceCount := len(sc.PublicRelays) + len(sc.GameRelays)
	if serviceCount == 0 {
		return nil, errors.New("no services to start")
	}

	if sc.Pprof.Enabled {
		serviceCount++
	}

	services := make([]Service, 0, serviceCount)
	listenConfigCache := conn.NewListenConfigCache()

	for i := range sc.PublicRelays {
		s, err := sc.PublicRelays[i].PublicRelay(logger, listenConfigCache)
		if err != nil {
			return nil, fmt.Errorf("failed to create public relay %s: %w", sc.PublicRelays[i].Name, err)
		}
		services = append(services, s)
	}

	for i := range sc.GameRelays {
		s, err := sc.GameRelays[i].GameRelay(logger, listenConfigCache)
		if err != nil {
			return nil, fmt.Errorf("failed to create game relay %s: %w", sc.GameRelays[i].Name, err)
		}
		services = append(services, s)
	}

	if sc.Pprof.Enabled {
		s, err := sc.Pprof.NewService(logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create pprof service: %w", err)
		}
		services = append(services, s)
	}

	return &Manager{services, logger}, nil
}

// Manager manages the services.
type Manager struct {
	services []Service
	logger   *tslog.Logger
}

// Start starts all configured services.
//
// If a service fails to start, the services already started are stopped,
// and the error is returned.
func (m *Manager) Start(ctx context.Context) error {
	for i, s := range m.services {
		if err := s.Start(ctx); err != nil {
			m.stop(m.services[:i])
			return fmt.Errorf("failed to start %s: %w", s.SlogAttr().Value, err)
		}
	}
	return nil
}

// Stop stops all running services.
func (m *Manager) Stop() {
	m.stop(m.services)
}

func (m *Manager) stop(services []Service) {
	for i := len(services) - 1; i >= 0; i-- {
		s := services[i]
		if err := s.Stop(); err != nil {
			m.logger.Warn("Failed to stop service", s.SlogAttr(), tslog.Err(err))
			continue
		}
		m.logger.Info("Stopped service", s.SlogAttr())
	}
}
