// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package tcp

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	mperrors "github.com/absmach/mudproxy/pkg/errors"
	"github.com/absmach/mudproxy/pkg/handler"
	"github.com/absmach/mudproxy/pkg/metrics"
	"github.com/absmach/mudproxy/pkg/ratelimit"
	"github.com/google/uuid"
)

// Protocol is the handler.Context protocol of connections accepted here.
const Protocol = "telnet"

var (
	// ErrShutdownTimeout is returned when graceful shutdown exceeds the configured timeout.
	ErrShutdownTimeout = errors.New("shutdown timeout exceeded")
)

// ConnHandler serves one accepted connection until it ends or ctx is
// cancelled.
type ConnHandler interface {
	ServeConn(ctx context.Context, conn net.Conn, hctx *handler.Context) error
}

// Config holds the TCP server configuration.
type Config struct {
	// Address is the listen address (host:port)
	Address string

	// TLSConfig is optional TLS configuration for the listener
	TLSConfig *tls.Config

	// ShutdownTimeout is the maximum time to wait for active connections to drain
	// during graceful shutdown. After this timeout, the server stops waiting.
	ShutdownTimeout time.Duration

	// RateLimiter optionally limits accepted connections per remote IP
	RateLimiter *ratelimit.Limiter

	// Metrics is optional instrumentation
	Metrics *metrics.Metrics

	// Logger for server events
	Logger *slog.Logger
}

// Server accepts Telnet clients and hands each one to a ConnHandler.
type Server struct {
	config  Config
	handler ConnHandler
	wg      sync.WaitGroup

	mu   sync.Mutex
	addr net.Addr
	up   chan struct{}
}

// New creates a new TCP server with the given configuration and connection handler.
func New(cfg Config, h ConnHandler) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}

	return &Server{
		config:  cfg,
		handler: h,
		up:      make(chan struct{}),
	}
}

// Addr blocks until the server is listening and returns the bound address.
// It returns nil if ctx ends first.
func (s *Server) Addr(ctx context.Context) net.Addr {
	select {
	case <-s.up:
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.addr
	case <-ctx.Done():
		return nil
	}
}

// Listen starts the TCP server and blocks until the context is cancelled.
// Cancelling ctx closes the listener and every accepted connection.
func (s *Server) Listen(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.config.Address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.config.Address, err)
	}

	// Wrap with TLS if configured
	if s.config.TLSConfig != nil {
		listener = tls.NewListener(listener, s.config.TLSConfig)
		s.config.Logger.Info("TLS enabled", slog.String("address", s.config.Address))
	}

	s.mu.Lock()
	s.addr = listener.Addr()
	s.mu.Unlock()
	close(s.up)

	s.config.Logger.Info("TCP server started", slog.String("address", listener.Addr().String()))

	// Accept loop
	acceptDone := make(chan struct{})
	go func() {
		defer close(acceptDone)
		for {
			conn, err := listener.Accept()
			if err != nil {
				select {
				case <-ctx.Done():
					// Expected error during shutdown
					return
				default:
				}
				if errors.Is(err, net.ErrClosed) {
					return
				}
				s.config.Logger.Error("failed to accept connection", slog.String("error", err.Error()))
				continue
			}

			if err := s.allow(conn.RemoteAddr().String()); err != nil {
				s.config.Logger.Warn("connection rate limited", slog.String("error", err.Error()))
				conn.Close()
				continue
			}

			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				if err := s.handleConn(ctx, conn); err != nil {
					s.config.Logger.Debug("connection handler error",
						slog.String("remote", conn.RemoteAddr().String()),
						slog.String("error", err.Error()))
				}
			}()
		}
	}()

	// Wait for shutdown signal
	<-ctx.Done()
	s.config.Logger.Info("shutdown signal received, closing listener")

	// Close the listener to stop accepting new connections
	if err := listener.Close(); err != nil {
		s.config.Logger.Error("error closing listener", slog.String("error", err.Error()))
	}

	// Wait for accept loop to finish
	<-acceptDone

	// Wait for active connections to drain with timeout
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.config.Logger.Info("all connections closed gracefully")
		return nil
	case <-time.After(s.config.ShutdownTimeout):
		s.config.Logger.Warn("shutdown timeout exceeded")
		return ErrShutdownTimeout
	}
}

// allow applies the accept rate limit, keyed by remote IP.
func (s *Server) allow(remote string) error {
	if s.config.RateLimiter == nil {
		return nil
	}
	ip, _, err := net.SplitHostPort(remote)
	if err != nil {
		ip = remote
	}
	if s.config.RateLimiter.Allow(ip) {
		return nil
	}
	s.config.Metrics.RateLimited(Protocol)
	return mperrors.New("accept", mperrors.SideClient, "", remote, mperrors.ErrRateLimited)
}

// handleConn creates the handler context for one connection, completes the
// TLS handshake if any, and serves the connection.
func (s *Server) handleConn(ctx context.Context, conn net.Conn) error {
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	hctx := &handler.Context{
		SessionID:  uuid.New().String(),
		RemoteAddr: conn.RemoteAddr().String(),
		Protocol:   Protocol,
	}

	if tlsConn, ok := conn.(*tls.Conn); ok {
		if err := tlsConn.HandshakeContext(ctx); err != nil {
			return fmt.Errorf("TLS handshake failed: %w", err)
		}
	}

	s.config.Logger.Debug("connection accepted",
		slog.String("session", hctx.SessionID),
		slog.String("remote", hctx.RemoteAddr))

	return s.handler.ServeConn(ctx, conn, hctx)
}
