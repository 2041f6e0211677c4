// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package handler provides the hook interface through which mudproxy reports
// what happens on its connections.
//
// # Data Flow
//
//	Client → Server (accept) → Handler.AuthConnect → Proxy (registry)
//	Proxy → Handler.On* (connect, primary change, negotiation, disconnect)
//
// # Handler Methods
//
// Authorization:
//   - AuthConnect: accepts or rejects a client before it is registered
//
// Notifications:
//   - OnClientConnect / OnClientDisconnect: registry membership changed
//   - OnPrimaryChange: the client allowed to drive the host changed
//   - OnHostConnect / OnHostDisconnect: upstream connection lifecycle
//   - OnNegotiation: a command matched the negotiation table
//
// # Context
//
// The Context struct carries connection metadata across all handler calls:
//   - SessionID: unique identifier for this connection
//   - RemoteAddr: the peer's network address
//   - Protocol: telnet or websocket
//   - Sequence: connect order, which decides primary election
//   - ConnectedAt: registration time
//
// # Composition
//
// Multi chains several handlers, e.g. a logger and an event publisher:
//
//	h := handler.Multi{simple.New(logger), publisher}
//	p := proxy.New(cfg, h)
package handler
