// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package proxy

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"strconv"
	"time"

	"github.com/absmach/mudproxy/pkg/compression"
	mperrors "github.com/absmach/mudproxy/pkg/errors"
	"github.com/absmach/mudproxy/pkg/handler"
	"github.com/absmach/mudproxy/pkg/negotiation"
	"github.com/absmach/mudproxy/pkg/parser"
	"github.com/absmach/mudproxy/pkg/parser/telnet"
	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
)

// ConnectToHost dials the MUD host and starts its read loop in the
// background. Only one host may be connected at a time; a second call while
// connected returns errors.ErrHostConnected. A lost host is not re-dialed.
func (p *Proxy) ConnectToHost(ctx context.Context, hostname string, port int) error {
	if p.HostConnected() {
		return mperrors.ErrHostConnected
	}

	address := net.JoinHostPort(hostname, strconv.Itoa(port))
	dialer := net.Dialer{Timeout: p.config.DialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return mperrors.New("dial", mperrors.SideHost, "", address, err)
	}

	hctx := &handler.Context{
		SessionID:   uuid.New().String(),
		RemoteAddr:  conn.RemoteAddr().String(),
		Protocol:    "telnet",
		ConnectedAt: time.Now(),
	}
	h := newHost(conn, hctx)
	if err := p.registry.setHost(h); err != nil {
		conn.Close()
		return err
	}

	gate := compression.NewGate(conn)
	p.gate.Store(gate)
	p.config.Metrics.SetHostConnected(true)
	p.config.Logger.Info("connected to host",
		slog.String("session", hctx.SessionID),
		slog.String("address", address))

	if err := p.handler.OnHostConnect(ctx, hctx); err != nil {
		p.config.Logger.Warn("host connect handler error", slog.String("error", err.Error()))
	}

	go p.serveHost(ctx, h, gate)
	return nil
}

func (p *Proxy) serveHost(ctx context.Context, h *peer, gate *compression.Gate) {
	stop := context.AfterFunc(ctx, h.close)
	defer stop()

	err := p.readHost(ctx, h, gate)

	h.close()
	gate.Close()
	p.registry.clearHost(h)
	p.gate.CompareAndSwap(gate, nil)
	p.config.Metrics.SetHostConnected(false)

	args := []any{
		slog.String("session", h.hctx.SessionID),
		slog.String("received", humanize.Bytes(h.rx.Load())),
		slog.String("sent", humanize.Bytes(h.tx.Load())),
		slog.String("duration", time.Since(h.hctx.ConnectedAt).Round(time.Second).String()),
	}
	switch {
	case errors.Is(err, compression.ErrCorrupt):
		p.config.Metrics.DecompressionFailed()
		p.config.Logger.Error("host stream corrupt", append(args, slog.String("error", err.Error()))...)
	case err != nil && !isClosed(ctx, err):
		p.config.Logger.Warn("host connection failed", append(args, slog.String("error", err.Error()))...)
	default:
		p.config.Logger.Info("host disconnected", args...)
	}

	if herr := p.handler.OnHostDisconnect(context.Background(), h.hctx); herr != nil {
		p.config.Logger.Warn("host disconnect handler error", slog.String("error", herr.Error()))
	}
}

// readHost pumps host output to every client until the host stream ends.
// Commands are evaluated in stream order; on MCCP2 confirmation the bytes
// left in the read buffer are handed to the gate and inflated from then on.
func (p *Proxy) readHost(ctx context.Context, h *peer, gate *compression.Gate) error {
	scanner := telnet.NewScanner(p.config.MaxSubnegotiation)
	buf := make([]byte, p.config.BufferSize)
	out := make([]byte, 0, p.config.BufferSize)

	for {
		n, err := gate.Read(buf)
		if n > 0 {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			h.rx.Add(uint64(n))
			p.config.Metrics.Read(parser.Downstream.String(), n)

			chunk := buf[:n]
			out = out[:0]
			var werr error
			start := false
			consumed := scanner.Scan(chunk, func(seg telnet.Segment) bool {
				if seg.Command == nil {
					out = append(out, seg.Data...)
					return true
				}
				res, err := p.negotiate(ctx, h, *seg.Command, parser.Downstream)
				if err != nil {
					werr = err
					return false
				}
				if res.Forward {
					out = append(out, seg.Command.Raw...)
				}
				if res.Effect == negotiation.StartDecompression && !gate.Active() {
					start = true
					return false
				}
				return true
			})

			p.broadcast(ctx, out)
			if werr != nil {
				return mperrors.New("answer", mperrors.SideHost, h.hctx.SessionID, h.hctx.RemoteAddr, werr)
			}
			if start {
				// The rest of this read is the first input of the inflater. A
				// transport error, if any, is reported again by the next read.
				if err := gate.Activate(chunk[consumed:]); err != nil {
					return err
				}
				p.config.Metrics.DecompressionStarted()
				p.config.Logger.Info("host stream decompression started",
					slog.String("session", h.hctx.SessionID),
					slog.Int("buffered", len(chunk)-consumed))
				continue
			}
		}
		if err != nil {
			return err
		}
	}
}
