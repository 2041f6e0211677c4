// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package proxy

import (
	"context"
	"fmt"
	"log/slog"
	"net"

	mperrors "github.com/absmach/mudproxy/pkg/errors"
	"github.com/absmach/mudproxy/pkg/handler"
	"github.com/absmach/mudproxy/pkg/parser"
	"github.com/absmach/mudproxy/pkg/parser/telnet"
	"github.com/dustin/go-humanize"
)

// ServeConn runs one client until it disconnects or ctx is cancelled. The
// client is registered for host output and, while it is primary, drives the
// host. conn is closed on return.
func (p *Proxy) ServeConn(ctx context.Context, conn net.Conn, hctx *handler.Context) error {
	defer conn.Close()

	if err := p.handler.AuthConnect(ctx, hctx); err != nil {
		p.config.Metrics.ClientRejected(hctx.Protocol)
		return mperrors.New("connect", mperrors.SideClient, hctx.SessionID, hctx.RemoteAddr,
			fmt.Errorf("%w: %w", mperrors.ErrRejected, err))
	}

	c := newClient(conn, hctx, p.config.QueueSize)
	e := p.registry.add(c)
	p.config.Metrics.ClientConnected(hctx.Protocol)
	p.config.Logger.Info("client connected",
		slog.String("session", hctx.SessionID),
		slog.String("remote", hctx.RemoteAddr),
		slog.String("protocol", hctx.Protocol),
		slog.Uint64("sequence", hctx.Sequence))
	if err := p.handler.OnClientConnect(ctx, hctx); err != nil {
		p.config.Logger.Warn("client connect handler error",
			slog.String("session", hctx.SessionID),
			slog.String("error", err.Error()))
	}
	p.elected(ctx, e)

	stop := context.AfterFunc(ctx, c.close)
	defer stop()
	defer p.disconnect(ctx, c)

	go func() {
		if err := c.drain(); err != nil {
			p.config.Logger.Debug("client write failed",
				slog.String("session", hctx.SessionID),
				slog.String("error", err.Error()))
			p.disconnect(ctx, c)
		}
	}()

	err := p.readClient(ctx, c)
	if err != nil && !isClosed(ctx, err) {
		return mperrors.New("read", mperrors.SideClient, hctx.SessionID, hctx.RemoteAddr, err)
	}
	return nil
}

// readClient evaluates everything the client sends. Answers go back to the
// client; data and forwarded commands go to the host only while the client
// is primary.
func (p *Proxy) readClient(ctx context.Context, c *peer) error {
	scanner := telnet.NewScanner(p.config.MaxSubnegotiation)
	buf := make([]byte, p.config.BufferSize)
	out := make([]byte, 0, p.config.BufferSize)

	for {
		n, err := c.conn.Read(buf)
		if n > 0 {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.rx.Add(uint64(n))
			p.config.Metrics.Read(parser.Upstream.String(), n)

			out = out[:0]
			var werr error
			scanner.Scan(buf[:n], func(seg telnet.Segment) bool {
				if seg.Command == nil {
					out = append(out, seg.Data...)
					return true
				}
				res, err := p.negotiate(ctx, c, *seg.Command, parser.Upstream)
				if err != nil {
					werr = err
					return false
				}
				if res.Forward {
					out = append(out, seg.Command.Raw...)
				}
				return true
			})
			if werr != nil {
				return werr
			}
			p.forward(c, out)
		}
		if err != nil {
			return err
		}
	}
}

// disconnect closes c and removes it from the registry. It is safe to call
// more than once; only the first call notifies.
func (p *Proxy) disconnect(ctx context.Context, c *peer) {
	c.close()

	removed, e := p.registry.remove(c)
	if !removed {
		return
	}

	hctx := c.hctx
	p.config.Metrics.ClientDisconnected(hctx.Protocol)
	p.config.Logger.Info("client disconnected",
		slog.String("session", hctx.SessionID),
		slog.String("remote", hctx.RemoteAddr),
		slog.String("received", humanize.Bytes(c.rx.Load())),
		slog.String("sent", humanize.Bytes(c.tx.Load())),
		slog.String("connected", humanize.Time(hctx.ConnectedAt)))

	// Hooks run after cancellation too.
	ctx = context.WithoutCancel(ctx)
	if err := p.handler.OnClientDisconnect(ctx, hctx); err != nil {
		p.config.Logger.Warn("client disconnect handler error",
			slog.String("session", hctx.SessionID),
			slog.String("error", err.Error()))
	}
	p.elected(ctx, e)
}
