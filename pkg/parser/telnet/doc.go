// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package telnet detects Telnet command boundaries in a byte stream.
//
// Three command shapes are recognized:
//
//	IAC <cmd>                     two bytes (NOP, GA, IAC IAC, a stray SE, ...)
//	IAC <WILL|WONT|DO|DONT> <opt> three bytes
//	IAC SB <opt> <data...> IAC SE variable length
//
// The Scanner is a byte-at-a-time state machine. Bytes that arrive while it
// is idle and are not IAC are plain data and never enter the scanner; Scan
// takes care of that split. Inside a sub-negotiation the first IAC SE ends
// the command; IAC IAC is not treated as an escaped 0xFF.
package telnet
