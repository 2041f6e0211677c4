// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package websocket implements the WebSocket client listener for mudproxy.
//
// Browser MUD clients cannot open raw TCP sockets, so they reach the proxy
// over WebSocket. Each upgraded connection is wrapped in Conn, which
// satisfies net.Conn, and served exactly like a Telnet client.
//
// # Conn Adapter
//
//   - Write sends one binary message per call
//   - Read concatenates incoming text and binary messages into one stream
//   - A normal close from the peer reads as io.EOF
//
// # Shutdown
//
// Request contexts derive from the Listen context, so cancelling it closes
// every upgraded connection. Listen then waits for handlers to return, up to
// ShutdownTimeout.
//
// # Example
//
//	ws := websocket.New(websocket.Config{Address: ":4001"}, p)
//	if err := ws.Listen(ctx); err != nil {
//		log.Fatal(err)
//	}
package websocket
