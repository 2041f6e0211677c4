// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package proxy implements the connection multiplexer at the heart of
// mudproxy: many Telnet clients share one MUD host session.
//
// # Architecture
//
//	┌──────────┐
//	│ Client A │ ←──┐
//	└──────────┘    │     ┌─────────┐        ┌──────┐
//	┌──────────┐    ├───→ │  Proxy  │ ←────→ │ Host │
//	│ Client B │ ←──┤     └─────────┘        └──────┘
//	└──────────┘    │          ↓
//	┌──────────┐    │   negotiation.Policy
//	│ Client C │ ←──┘   compression.Gate
//	└──────────┘
//
// # Routing
//
// Host output (plain data and forwarded commands) goes to every client in
// connect order. Client input goes to the host only from the primary client,
// the oldest surviving one; everything else is read and dropped. Commands
// matched by the negotiation table are answered by the proxy instead of
// being forwarded.
//
// # Compression
//
// When the host confirms MCCP2 (IAC SB MCCP2 IAC SE) and compression is
// enabled, the bytes following the confirmation, including those already in
// the read buffer, are inflated before they are scanned and fanned out.
//
// # Concurrency
//
// Each client runs a reader and a writer goroutine; the host runs a reader.
// Client writes go through a bounded queue so a stalled client never stalls
// the host. The client set, the primary and the host handle live in one
// registry guarded by a single mutex.
//
// # Example
//
//	p := proxy.New(proxy.Config{
//		Negotiation: negotiation.Config{EnableCompression: true, TerminalType: "xterm"},
//		Logger:      logger,
//	}, handler)
//
//	go p.StartListening(ctx, 4000)
//	if err := p.ConnectToHost(ctx, "mud.example.org", 23); err != nil {
//		log.Fatal(err)
//	}
package proxy
