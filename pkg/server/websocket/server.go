// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package websocket

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	mperrors "github.com/absmach/mudproxy/pkg/errors"
	"github.com/absmach/mudproxy/pkg/handler"
	"github.com/absmach/mudproxy/pkg/metrics"
	"github.com/absmach/mudproxy/pkg/ratelimit"
	"github.com/absmach/mudproxy/pkg/server/tcp"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Protocol is the handler.Context protocol of connections accepted here.
const Protocol = "websocket"

// Config holds the WebSocket server configuration.
type Config struct {
	// Address is the listen address (host:port)
	Address string

	// TLSConfig is optional TLS configuration (WSS)
	TLSConfig *tls.Config

	// CheckOrigin validates the Origin header; nil accepts every origin.
	CheckOrigin func(r *http.Request) bool

	// ShutdownTimeout bounds waiting for connections on shutdown
	ShutdownTimeout time.Duration

	// RateLimiter optionally limits upgrades per remote IP
	RateLimiter *ratelimit.Limiter

	// Metrics is optional instrumentation
	Metrics *metrics.Metrics

	// Logger for server events
	Logger *slog.Logger
}

// Server upgrades HTTP requests to WebSocket and serves each one as a
// Telnet client.
type Server struct {
	config   Config
	handler  tcp.ConnHandler
	upgrader websocket.Upgrader
	wg       sync.WaitGroup

	mu   sync.Mutex
	addr net.Addr
	up   chan struct{}
}

var _ http.Handler = (*Server)(nil)

// New creates a WebSocket server.
func New(cfg Config, h tcp.ConnHandler) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
	checkOrigin := cfg.CheckOrigin
	if checkOrigin == nil {
		checkOrigin = func(r *http.Request) bool { return true }
	}

	return &Server{
		config:  cfg,
		handler: h,
		upgrader: websocket.Upgrader{
			CheckOrigin: checkOrigin,
		},
		up: make(chan struct{}),
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

// ServeHTTP implements http.Handler interface. The upgraded connection is
// served until it ends or the request context is cancelled.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if err := s.allow(r.RemoteAddr); err != nil {
		s.config.Logger.Warn("connection rate limited", slog.String("error", err.Error()))
		http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
		return
	}

	s.wg.Add(1)
	defer s.wg.Done()

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.config.Logger.Warn("failed to upgrade client connection",
			slog.String("remote", r.RemoteAddr),
			slog.String("error", err.Error()))
		return
	}
	conn := NewConn(ws)
	defer conn.Close()

	ctx := r.Context()
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	hctx := &handler.Context{
		SessionID:  uuid.New().String(),
		RemoteAddr: r.RemoteAddr,
		Protocol:   Protocol,
	}
	s.config.Logger.Debug("websocket connection upgraded",
		slog.String("session", hctx.SessionID),
		slog.String("remote", hctx.RemoteAddr))

	if err := s.handler.ServeConn(ctx, conn, hctx); err != nil {
		s.config.Logger.Debug("connection handler error",
			slog.String("session", hctx.SessionID),
			slog.String("error", err.Error()))
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
	return mperrors.New("upgrade", mperrors.SideClient, "", remote, mperrors.ErrRateLimited)
}

// Listen starts the WebSocket server and blocks until context is cancelled.
func (s *Server) Listen(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.config.Address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.config.Address, err)
	}

	server := &http.Server{
		Handler:           s,
		TLSConfig:         s.config.TLSConfig,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	s.mu.Lock()
	s.addr = listener.Addr()
	s.mu.Unlock()
	close(s.up)

	s.config.Logger.Info("WebSocket server started", slog.String("address", listener.Addr().String()))

	errCh := make(chan error, 1)
	go func() {
		if server.TLSConfig != nil {
			// WSS
			errCh <- server.ServeTLS(listener, "", "")
			return
		}
		errCh <- server.Serve(listener)
	}()

	select {
	case <-ctx.Done():
		s.config.Logger.Info("shutdown signal received, closing WebSocket server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			s.config.Logger.Error("error during shutdown", slog.String("error", err.Error()))
			return err
		}

		// Hijacked connections are not tracked by Shutdown.
		done := make(chan struct{})
		go func() {
			s.wg.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-shutdownCtx.Done():
			return tcp.ErrShutdownTimeout
		}

		s.config.Logger.Info("WebSocket server shutdown complete")
		return nil

	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
