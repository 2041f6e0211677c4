// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package proxy

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net"

	"github.com/absmach/mudproxy/pkg/handler"
	"github.com/absmach/mudproxy/pkg/metrics"
	"github.com/absmach/mudproxy/pkg/negotiation"
	"github.com/absmach/mudproxy/pkg/parser"
	"github.com/absmach/mudproxy/pkg/parser/telnet"
)

// negotiate evaluates cmd received from a peer in dir and writes the answer, if
// any, back to that peer. The returned error is a failed answer write.
func (p *Proxy) negotiate(ctx context.Context, from *peer, cmd telnet.Command, dir parser.Direction) (negotiation.Result, error) {
	res := p.policy.Evaluate(cmd, dir)
	p.config.Metrics.Command(dir.String(), res.Action())
	if res.Rule == "" {
		return res, nil
	}

	n := handler.Negotiation{
		Direction: dir.String(),
		Command:   cmd.String(),
		Rule:      res.Rule,
		Forwarded: res.Forward,
	}
	if res.Effect != negotiation.None {
		n.Effect = res.Effect.String()
	}

	var err error
	if len(res.Response) > 0 {
		n.Response = telnet.Format(res.Response)
		if err = from.send(res.Response); err == nil {
			p.config.Metrics.Answered(res.Rule)
		}
	}

	p.config.Logger.Debug("telnet negotiation",
		slog.String("session", from.hctx.SessionID),
		slog.String("direction", n.Direction),
		slog.String("command", n.Command),
		slog.String("rule", n.Rule),
		slog.String("response", n.Response))

	if herr := p.handler.OnNegotiation(ctx, from.hctx, n); herr != nil {
		p.config.Logger.Warn("negotiation handler error",
			slog.String("session", from.hctx.SessionID),
			slog.String("error", herr.Error()))
	}
	return res, err
}

// broadcast hands b to every client in connect order. A client that cannot
// take it is disconnected; the others are unaffected.
func (p *Proxy) broadcast(ctx context.Context, b []byte) {
	if len(b) == 0 {
		return
	}
	msg := bytes.Clone(b)
	for _, c := range p.registry.snapshot() {
		if err := c.send(msg); err != nil {
			reason := metrics.ReasonWriteFailed
			if errors.Is(err, errQueueFull) {
				reason = metrics.ReasonSlowClient
			}
			p.config.Metrics.Dropped(reason, len(msg))
			p.config.Logger.Warn("dropping client",
				slog.String("session", c.hctx.SessionID),
				slog.String("error", err.Error()))
			p.disconnect(ctx, c)
		}
	}
}

// forward writes b to the host if from is the primary client.
func (p *Proxy) forward(from *peer, b []byte) {
	if len(b) == 0 {
		return
	}
	if !p.registry.isPrimary(from) {
		p.config.Metrics.Dropped(metrics.ReasonNotPrimary, len(b))
		return
	}
	h := p.registry.currentHost()
	if h == nil {
		p.config.Metrics.Dropped(metrics.ReasonHostAbsent, len(b))
		return
	}
	if err := h.write(b); err != nil {
		// The host loop observes the closed socket and cleans up.
		p.config.Logger.Warn("host write failed",
			slog.String("session", from.hctx.SessionID),
			slog.String("error", err.Error()))
		h.close()
	}
}

// isClosed reports whether err is the normal end of a connection.
func isClosed(ctx context.Context, err error) bool {
	return ctx.Err() != nil || errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed)
}
