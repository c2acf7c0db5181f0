// Package transport carries the remote protocol over TCP or unix sockets.
//
// Each connection carries exactly one call: the client writes a request
// frame and half-closes its side, the server answers with one response
// frame and closes the connection.
package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pheyse/FileSystemFacade-sub001/internal/codec"
	"github.com/pheyse/FileSystemFacade-sub001/internal/logger"
	"github.com/pheyse/FileSystemFacade-sub001/internal/ratelimiter"
	"github.com/pheyse/FileSystemFacade-sub001/pkg/metrics"
	"github.com/pheyse/FileSystemFacade-sub001/pkg/remote"
	"github.com/pheyse/FileSystemFacade-sub001/pkg/vfs"
)

// ServerConfig holds the socket server settings.
//
// Default values (applied by NewServer if zero):
//   - Network: tcp
//   - Listen: :7070
//   - ReadTimeout: 30s
//   - WriteTimeout: 30s
//   - ShutdownTimeout: 10s
type ServerConfig struct {
	// Network is "tcp" or "unix"
	Network string `mapstructure:"network" yaml:"network" validate:"omitempty,oneof=tcp unix"`

	// Listen is the host:port (tcp) or socket path (unix)
	Listen string `mapstructure:"listen" yaml:"listen"`

	// MaxConnections limits concurrent connections; 0 means unlimited.
	MaxConnections int `mapstructure:"max_connections" yaml:"max_connections" validate:"min=0"`

	// ReadTimeout bounds reading one request
	ReadTimeout time.Duration `mapstructure:"read_timeout" yaml:"read_timeout" validate:"min=0"`

	// WriteTimeout bounds writing one response
	WriteTimeout time.Duration `mapstructure:"write_timeout" yaml:"write_timeout" validate:"min=0"`

	// ShutdownTimeout bounds the wait for in-flight calls on shutdown.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout" validate:"min=0"`

	// RateLimit is the sustained number of calls per second allowed per
	// client address; 0 disables limiting.
	RateLimit float64 `mapstructure:"rate_limit" yaml:"rate_limit" validate:"min=0"`

	// RateBurst is the per-client burst size
	RateBurst int `mapstructure:"rate_burst" yaml:"rate_burst" validate:"min=0"`
}

func (c *ServerConfig) applyDefaults() {
	if c.Network == "" {
		c.Network = "tcp"
	}
	if c.Listen == "" {
		c.Listen = ":7070"
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = 30 * time.Second
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = 30 * time.Second
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = 10 * time.Second
	}
	if c.RateLimit > 0 && c.RateBurst == 0 {
		c.RateBurst = int(2 * c.RateLimit)
	}
}

func (c *ServerConfig) validate() error {
	if c.Network != "tcp" && c.Network != "unix" {
		return fmt.Errorf("invalid network %q: must be tcp or unix", c.Network)
	}
	if c.MaxConnections < 0 {
		return fmt.Errorf("invalid MaxConnections %d: must be >= 0", c.MaxConnections)
	}
	if c.RateLimit < 0 {
		return fmt.Errorf("invalid RateLimit %v: must be >= 0", c.RateLimit)
	}
	return nil
}

// Server accepts socket connections and hands each one to a Responder.
//
// Shutdown flow:
//  1. Context cancelled or Stop called
//  2. Listener closed (no new connections)
//  3. In-flight calls get up to ShutdownTimeout to finish
//  4. Remaining connections are force-closed
type Server struct {
	config    ServerConfig
	responder *remote.Responder
	limiter   *ratelimiter.PerClient
	metrics   metrics.RemoteMetrics

	listener     net.Listener
	listenerMu   sync.Mutex
	activeConns  sync.WaitGroup
	connCount    atomic.Int32
	connections  sync.Map
	connSlots    chan struct{}
	shutdown     chan struct{}
	shutdownOnce sync.Once
}

// NewServer creates a stopped server. A nil m disables metrics.
func NewServer(config ServerConfig, responder *remote.Responder, m metrics.RemoteMetrics) (*Server, error) {
	config.applyDefaults()
	if err := config.validate(); err != nil {
		return nil, err
	}
	if m == nil {
		m = metrics.NewNoopRemoteMetrics()
	}

	var slots chan struct{}
	if config.MaxConnections > 0 {
		slots = make(chan struct{}, config.MaxConnections)
	}

	return &Server{
		config:    config,
		responder: responder,
		limiter:   ratelimiter.NewPerClient(config.RateLimit, config.RateBurst, 0),
		metrics:   m,
		connSlots: slots,
		shutdown:  make(chan struct{}),
	}, nil
}

// Serve listens on the configured address and blocks until ctx is
// cancelled or Stop is called.
func (s *Server) Serve(ctx context.Context) error {
	ln, err := net.Listen(s.config.Network, s.config.Listen)
	if err != nil {
		return fmt.Errorf("failed to listen on %s %s: %w", s.config.Network, s.config.Listen, err)
	}
	return s.ServeListener(ctx, ln)
}

// ServeListener serves on an existing listener, which it takes ownership
// of.
func (s *Server) ServeListener(ctx context.Context, ln net.Listener) error {
	s.listenerMu.Lock()
	s.listener = ln
	s.listenerMu.Unlock()
	logger.Info("Remote server listening on %s %s", ln.Addr().Network(), ln.Addr())

	go func() {
		select {
		case <-ctx.Done():
			logger.Info("Remote server shutdown signal received: %v", ctx.Err())
			s.initiateShutdown()
		case <-s.shutdown:
		}
	}()

	for {
		if s.connSlots != nil {
			select {
			case s.connSlots <- struct{}{}:
			case <-s.shutdown:
				return s.gracefulShutdown()
			}
		}

		conn, err := ln.Accept()
		if err != nil {
			if s.connSlots != nil {
				<-s.connSlots
			}
			select {
			case <-s.shutdown:
				return s.gracefulShutdown()
			default:
				logger.Debug("Error accepting connection: %v", err)
				continue
			}
		}

		s.activeConns.Add(1)
		active := s.connCount.Add(1)
		addr := conn.RemoteAddr().String()
		s.connections.Store(conn, addr)
		s.metrics.RecordConnectionAccepted()
		s.metrics.SetActiveConnections(active)

		go func(conn net.Conn) {
			defer func() {
				_ = conn.Close()
				s.connections.Delete(conn)
				remaining := s.connCount.Add(-1)
				if s.connSlots != nil {
					<-s.connSlots
				}
				s.metrics.RecordConnectionClosed()
				s.metrics.SetActiveConnections(remaining)
				s.activeConns.Done()
			}()
			s.handle(ctx, conn)
		}(conn)
	}
}

// handle serves the single call carried by conn.
func (s *Server) handle(ctx context.Context, conn net.Conn) {
	if s.config.ReadTimeout > 0 {
		_ = conn.SetReadDeadline(time.Now().Add(s.config.ReadTimeout))
	}

	client := clientKey(conn.RemoteAddr())
	if !s.limiter.Allow(client) {
		s.metrics.RecordRateLimited()
		logger.Warn("Rate limit exceeded for %s", client)
		// Drain the request so the client sees the reply, not a reset.
		_, _ = io.Copy(io.Discard, io.LimitReader(conn, codec.DefaultMaxFrameSize))
		s.setWriteDeadline(conn)
		resp := remote.FailureResponse(vfs.NewError(vfs.ErrBackend, "", vfs.Root, "rate limit exceeded"))
		if err := codec.WriteFrame(conn, resp, false); err != nil {
			logger.Debug("Error writing rate-limit reply to %s: %v", client, err)
		}
		return
	}

	if err := s.responder.Serve(ctx, conn, &deadlineWriter{conn: conn, server: s}); err != nil {
		logger.Debug("Call from %s failed: %v", conn.RemoteAddr(), err)
	}
}

func (s *Server) setWriteDeadline(conn net.Conn) {
	if s.config.WriteTimeout > 0 {
		_ = conn.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout))
	}
}

// deadlineWriter arms the write deadline on the first write, so that the
// time spent executing the call does not count against it.
type deadlineWriter struct {
	conn   net.Conn
	server *Server
	armed  bool
}

func (w *deadlineWriter) Write(p []byte) (int, error) {
	if !w.armed {
		w.armed = true
		w.server.setWriteDeadline(w.conn)
	}
	return w.conn.Write(p)
}

// clientKey identifies a client for rate limiting: the IP for TCP, the
// whole address otherwise.
func clientKey(addr net.Addr) string {
	if tcp, ok := addr.(*net.TCPAddr); ok {
		return tcp.IP.String()
	}
	return addr.String()
}

func (s *Server) initiateShutdown() {
	s.shutdownOnce.Do(func() {
		close(s.shutdown)
		s.listenerMu.Lock()
		defer s.listenerMu.Unlock()
		if s.listener != nil {
			if err := s.listener.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
				logger.Debug("Error closing listener: %v", err)
			}
		}
	})
}

// gracefulShutdown waits for in-flight calls, then force-closes whatever
// is left after ShutdownTimeout.
func (s *Server) gracefulShutdown() error {
	done := make(chan struct{})
	go func() {
		s.activeConns.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.Info("Remote server stopped")
		return nil
	case <-time.After(s.config.ShutdownTimeout):
		remaining := s.connCount.Load()
		logger.Warn("Remote server shutdown timeout exceeded: force-closing %d connection(s)", remaining)
		s.connections.Range(func(key, _ any) bool {
			_ = key.(net.Conn).Close()
			return true
		})
		return fmt.Errorf("remote server shutdown timeout: %d connections force-closed", remaining)
	}
}

// Stop initiates shutdown and waits for in-flight calls until ctx is done.
func (s *Server) Stop(ctx context.Context) error {
	s.initiateShutdown()

	done := make(chan struct{})
	go func() {
		s.activeConns.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Addr returns the listener address once serving, nil before.
func (s *Server) Addr() net.Addr {
	s.listenerMu.Lock()
	defer s.listenerMu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// ActiveConnections returns the number of connections being served.
func (s *Server) ActiveConnections() int32 {
	return s.connCount.Load()
}
