// Package pprof serves the runtime profiling endpoints of [net/http/pprof]
// alongside the relays, for diagnosing forwarding hot paths in production.
package pprof

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/http/pprof"

	"github.com/gametunnel/gametunnel-go/tslog"
)

// Config is the configuration for the pprof service.
type Config struct {
	// Enabled controls whether the pprof service is enabled.
	Enabled bool `json:"enabled"`

	// ListenNetwork is the network to listen on.
	// If unspecified, "tcp" is used.
	ListenNetwork string `json:"listenNetwork,omitzero"`

	// ListenAddress is the address to listen on.
	ListenAddress string `json:"listenAddress"`
}

// NewService creates a new pprof service.
func (c Config) NewService(logger *tslog.Logger) (*Service, error) {
	network := c.ListenNetwork
	switch network {
	case "":
		network = "tcp"
	case "tcp", "tcp4", "tcp6", "unix":
	default:
		return nil, fmt.Errorf("invalid pprof listen network %q: not one of [tcp tcp4 tcp6 unix]", network)
	}

	if c.ListenAddress == "" {
		return nil, errors.New("missing pprof listenAddress")
	}

	return &Service{
		logger:        logger,
		network:       network,
		listenAddress: c.ListenAddress,
		server: http.Server{
			Handler:  logPprofRequests(logger, newMux()),
			ErrorLog: slog.NewLogLogger(logger.Handler(), slog.LevelError),
		},
	}, nil
}

// newMux returns a mux with the profiling endpoints registered under /debug/pprof/.
func newMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	return mux
}

// logPprofRequests is a middleware that logs pprof requests.
func logPprofRequests(logger *tslog.Logger, h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.ServeHTTP(w, r)
		logger.Info("Handled pprof request",
			slog.String("proto", r.Proto),
			slog.String("method", r.Method),
			slog.String("requestURI", r.RequestURI),
			slog.String("remoteAddr", r.RemoteAddr),
		)
	})
}

// Service implements [service.Service].
type Service struct {
	logger        *tslog.Logger
	network       string
	listenAddress string
	server        http.Server
}

// SlogAttr implements [service.Service.SlogAttr].
func (*Service) SlogAttr() slog.Attr {
	return slog.String("service", "pprof")
}

// Start implements [service.Service.Start].
func (s *Service) Start(ctx context.Context) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, s.network, s.listenAddress)
	if err != nil {
		return err
	}
	s.listenAddress = ln.Addr().String()

	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("Failed to serve pprof", tslog.Err(err))
		}
	}()

	s.logger.Info("Started pprof", slog.String("listenAddress", s.listenAddress))
	return nil
}

// ListenAddress returns the address the service listens on.
// After Start, it is the bound address.
func (s *Service) ListenAddress() string {
	return s.listenAddress
}

// Stop implements [service.Service.Stop].
func (s *Service) Stop() error {
	return s.server.Close()
}
