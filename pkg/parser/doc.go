// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package parser holds the pieces shared by the stream parsers of mudproxy.
//
// # Direction
//
// Every byte handled by the proxy belongs to one of two streams:
//   - Upstream (Client → Host): commands typed by the operators and the
//     client's own option negotiation.
//   - Downstream (Host → Clients): game output and the server's option
//     negotiation, fanned out to every connected client.
//
// The negotiation policy keys its decisions on the direction, because the
// same sequence (for example IAC WILL MCCP2) is answered differently
// depending on who sent it.
//
// # Telnet
//
// Subpackage telnet implements the incremental command boundary scanner. It
// is fed one read buffer at a time and keeps partial commands across reads:
//
//	s := telnet.NewScanner(0)
//	for {
//		n, err := conn.Read(buf)
//		s.Scan(buf[:n], func(seg telnet.Segment) bool {
//			if seg.Command != nil {
//				// evaluate negotiation
//			} else {
//				// forward plain data
//			}
//			return true
//		})
//		...
//	}
package parser
