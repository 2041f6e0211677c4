// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package tcp implements the Telnet client listener for mudproxy.
//
// # Overview
//
// The server accepts TCP connections, gives each one a handler.Context with
// a fresh session ID, and hands it to a ConnHandler (the proxy). It supports
// TLS, per-IP accept rate limiting and graceful shutdown.
//
// # Architecture
//
//	┌─────────┐         ┌─────────┐         ┌─────────────┐
//	│ Client  │ ←─TCP─→ │  Server │ ──────→ │ ConnHandler │
//	└─────────┘         └─────────┘         └─────────────┘
//
// # Graceful Shutdown
//
// When the context is cancelled:
//
//  1. Server stops accepting new connections
//  2. Every accepted connection is closed
//  3. Server waits for connection handlers to return (with timeout)
//  4. Returns ErrShutdownTimeout if timeout exceeded
//
// # Rate Limiting
//
// With a ratelimit.Limiter configured, each accept takes one token from the
// bucket of the remote IP. Connections without a token are closed at once.
//
// # Example
//
//	cfg := tcp.Config{
//		Address:         ":4000",
//		ShutdownTimeout: 30 * time.Second,
//	}
//
//	server := tcp.New(cfg, p)
//	if err := server.Listen(ctx); err != nil {
//		log.Fatal(err)
//	}
package tcp
