// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package proxy

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/absmach/mudproxy/pkg/compression"
	"github.com/absmach/mudproxy/pkg/handler"
	"github.com/absmach/mudproxy/pkg/metrics"
	"github.com/absmach/mudproxy/pkg/negotiation"
	"github.com/absmach/mudproxy/pkg/parser/telnet"
	"github.com/absmach/mudproxy/pkg/ratelimit"
	"github.com/absmach/mudproxy/pkg/server/tcp"
)

const (
	defaultBufferSize      = 4096
	defaultQueueSize       = 256
	defaultDialTimeout     = 10 * time.Second
	defaultShutdownTimeout = 30 * time.Second
)

// Config holds the multiplexer configuration.
type Config struct {
	// Negotiation holds the options that shape the answers sent to the
	// host and clients.
	Negotiation negotiation.Config

	// Rules replaces the default negotiation table when non-nil.
	Rules []negotiation.Rule

	// BufferSize is the size of each connection's read buffer.
	BufferSize int

	// QueueSize bounds the messages waiting to be written to one client.
	// A client whose queue overflows is disconnected.
	QueueSize int

	// MaxSubnegotiation bounds one buffered IAC SB sequence.
	MaxSubnegotiation int

	// DialTimeout limits connecting to the host.
	DialTimeout time.Duration

	// ShutdownTimeout is passed to the client listener.
	ShutdownTimeout time.Duration

	// TLSConfig is optional TLS configuration for the client listener.
	TLSConfig *tls.Config

	// RateLimiter optionally limits accepted connections per remote IP.
	RateLimiter *ratelimit.Limiter

	// Metrics is optional Prometheus instrumentation.
	Metrics *metrics.Metrics

	// Logger for proxy events
	Logger *slog.Logger
}

// Proxy connects any number of Telnet clients to a single MUD host. Host
// output is fanned out to every client; only the primary client drives the
// host.
type Proxy struct {
	config   Config
	policy   *negotiation.Policy
	handler  handler.Handler
	registry *registry
	gate     atomic.Pointer[compression.Gate]
}

// New creates a proxy. A nil handler is replaced by handler.NoopHandler.
func New(cfg Config, h handler.Handler) *Proxy {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = defaultBufferSize
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}
	if cfg.MaxSubnegotiation <= 0 {
		cfg.MaxSubnegotiation = telnet.DefaultMaxSubnegotiation
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = defaultDialTimeout
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = defaultShutdownTimeout
	}
	if h == nil {
		h = &handler.NoopHandler{}
	}

	policy := negotiation.New(cfg.Negotiation)
	if cfg.Rules != nil {
		policy = negotiation.NewWithRules(cfg.Negotiation, cfg.Rules)
	}

	return &Proxy{
		config:   cfg,
		policy:   policy,
		handler:  h,
		registry: newRegistry(),
	}
}

// StartListening accepts Telnet clients on port and blocks until ctx is
// cancelled or the port cannot be bound.
func (p *Proxy) StartListening(ctx context.Context, port int) error {
	return p.Server(fmt.Sprintf(":%d", port)).Listen(ctx)
}

// Server returns a TCP server feeding accepted connections to the proxy.
func (p *Proxy) Server(address string) *tcp.Server {
	cfg := tcp.Config{
		Address:         address,
		TLSConfig:       p.config.TLSConfig,
		ShutdownTimeout: p.config.ShutdownTimeout,
		RateLimiter:     p.config.RateLimiter,
		Metrics:         p.config.Metrics,
		Logger:          p.config.Logger,
	}
	return tcp.New(cfg, p)
}

// Clients returns the number of connected clients.
func (p *Proxy) Clients() int {
	return p.registry.len()
}

// Primary returns the context of the client currently driving the host.
func (p *Proxy) Primary() (*handler.Context, bool) {
	return p.registry.primaryContext()
}

// HostConnected reports whether the upstream connection is up.
func (p *Proxy) HostConnected() bool {
	return p.registry.currentHost() != nil
}

// DecompressionActive reports whether the current host stream is inflated.
func (p *Proxy) DecompressionActive() bool {
	g := p.gate.Load()
	return g != nil && g.Active()
}

func (p *Proxy) elected(ctx context.Context, e election) {
	if !e.changed {
		return
	}
	p.config.Metrics.PrimaryChanged()

	args := []any{}
	if e.prev != nil {
		args = append(args, slog.String("previous", e.prev.SessionID))
	}
	if e.next != nil {
		args = append(args, slog.String("session", e.next.SessionID), slog.Uint64("sequence", e.next.Sequence))
	}
	p.config.Logger.Info("primary client changed", args...)

	if err := p.handler.OnPrimaryChange(ctx, e.prev, e.next); err != nil {
		p.config.Logger.Warn("primary change handler error", slog.String("error", err.Error()))
	}
}
