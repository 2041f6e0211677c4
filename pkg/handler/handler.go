// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package handler

import (
	"context"
	"errors"
	"time"
)

// Context contains metadata about one proxied connection. It is passed to
// Handler methods and must be treated as read-only by them.
type Context struct {
	// SessionID is a unique identifier for this connection
	SessionID string

	// RemoteAddr is the peer's network address
	RemoteAddr string

	// Protocol is the transport the peer uses (telnet, websocket)
	Protocol string

	// Sequence is the connect order of a client; the lowest surviving
	// sequence holds primary status. Zero for the host connection.
	Sequence uint64

	// ConnectedAt is when the connection was registered
	ConnectedAt time.Time
}

// Negotiation describes one Telnet command the proxy evaluated.
type Negotiation struct {
	// Direction is "upstream" (from a client) or "downstream" (from the host)
	Direction string

	// Command is the human readable command, e.g. "IAC WILL MCCP2"
	Command string

	// Rule is the negotiation table row that matched, empty for pass-through
	Rule string

	// Response is the human readable answer written back, if any
	Response string

	// Forwarded is true when the command was passed on unchanged
	Forwarded bool

	// Effect names a side effect that was triggered, if any
	Effect string
}

// Handler defines authorization and notification callbacks for proxy events.
//
// AuthConnect is called BEFORE a client is registered; returning an error
// closes the client without it ever becoming a candidate for primary.
//
// Notification methods are called AFTER the fact for audit logging, metrics
// or event publishing. Their errors are logged but never change proxy state.
type Handler interface {
	// AuthConnect authorizes a client connection attempt.
	AuthConnect(ctx context.Context, hctx *Context) error

	// OnClientConnect is called after a client is registered.
	OnClientConnect(ctx context.Context, hctx *Context) error

	// OnClientDisconnect is called after a client is removed.
	OnClientDisconnect(ctx context.Context, hctx *Context) error

	// OnPrimaryChange is called when primary status moves. prev or next is
	// nil when there was or is no primary client.
	OnPrimaryChange(ctx context.Context, prev, next *Context) error

	// OnHostConnect is called after the upstream connection is established.
	OnHostConnect(ctx context.Context, hctx *Context) error

	// OnHostDisconnect is called after the upstream connection is closed.
	OnHostDisconnect(ctx context.Context, hctx *Context) error

	// OnNegotiation is called for every command matched by the negotiation
	// table. hctx is the connection the command arrived on.
	OnNegotiation(ctx context.Context, hctx *Context, n Negotiation) error
}

// NoopHandler is a Handler implementation that allows all operations.
// Useful for testing or when no hooks are needed.
type NoopHandler struct{}

var _ Handler = (*NoopHandler)(nil)

func (h *NoopHandler) AuthConnect(ctx context.Context, hctx *Context) error {
	return nil
}

func (h *NoopHandler) OnClientConnect(ctx context.Context, hctx *Context) error {
	return nil
}

func (h *NoopHandler) OnClientDisconnect(ctx context.Context, hctx *Context) error {
	return nil
}

func (h *NoopHandler) OnPrimaryChange(ctx context.Context, prev, next *Context) error {
	return nil
}

func (h *NoopHandler) OnHostConnect(ctx context.Context, hctx *Context) error {
	return nil
}

func (h *NoopHandler) OnHostDisconnect(ctx context.Context, hctx *Context) error {
	return nil
}

func (h *NoopHandler) OnNegotiation(ctx context.Context, hctx *Context, n Negotiation) error {
	return nil
}

// Multi calls several handlers in order. AuthConnect stops at the first
// rejection; notifications reach every handler and their errors are joined.
type Multi []Handler

var _ Handler = (Multi)(nil)

func (m Multi) AuthConnect(ctx context.Context, hctx *Context) error {
	for _, h := range m {
		if err := h.AuthConnect(ctx, hctx); err != nil {
			return err
		}
	}
	return nil
}

func (m Multi) OnClientConnect(ctx context.Context, hctx *Context) error {
	return m.each(func(h Handler) error { return h.OnClientConnect(ctx, hctx) })
}

func (m Multi) OnClientDisconnect(ctx context.Context, hctx *Context) error {
	return m.each(func(h Handler) error { return h.OnClientDisconnect(ctx, hctx) })
}

func (m Multi) OnPrimaryChange(ctx context.Context, prev, next *Context) error {
	return m.each(func(h Handler) error { return h.OnPrimaryChange(ctx, prev, next) })
}

func (m Multi) OnHostConnect(ctx context.Context, hctx *Context) error {
	return m.each(func(h Handler) error { return h.OnHostConnect(ctx, hctx) })
}

func (m Multi) OnHostDisconnect(ctx context.Context, hctx *Context) error {
	return m.each(func(h Handler) error { return h.OnHostDisconnect(ctx, hctx) })
}

func (m Multi) OnNegotiation(ctx context.Context, hctx *Context, n Negotiation) error {
	return m.each(func(h Handler) error { return h.OnNegotiation(ctx, hctx, n) })
}

func (m Multi) each(fn func(Handler) error) error {
	var errs []error
	for _, h := range m {
		if err := fn(h); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
