// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package negotiation

import (
	"github.com/absmach/mudproxy/pkg/parser/telnet"
)

const (
	iac  = telnet.IAC
	sb   = telnet.SB
	se   = telnet.SE
	will = telnet.WILL
	wont = telnet.WONT
	do   = telnet.DO
	dont = telnet.DONT
)

// MCCP2Confirmation is sent by the host right before its stream turns into zlib.
var MCCP2Confirmation = []byte{iac, sb, telnet.OptMCCP2, iac, se}

// TermTypeIs builds the IAC SB TERMTYPE IS <name> IAC SE answer.
func TermTypeIs(name string) []byte {
	b := make([]byte, 0, len(name)+6)
	b = append(b, iac, sb, telnet.OptTermType, telnet.TermTypeIs)
	b = append(b, name...)
	return append(b, iac, se)
}

func reply(seq ...byte) Answer {
	return func(Config, telnet.Command) Result {
		return Result{Response: seq}
	}
}

// DefaultRules returns the negotiation table understood by the proxy. New
// extensions are added here.
func DefaultRules() []Rule {
	return []Rule{
		{
			Name:       "mccp1",
			Pattern:    []byte{iac, will, telnet.OptMCCP1},
			FromHost:   reply(iac, dont, telnet.OptMCCP1),
			FromClient: reply(iac, dont, telnet.OptMCCP1),
		},
		{
			Name:    "mccp2",
			Pattern: []byte{iac, will, telnet.OptMCCP2},
			FromHost: func(cfg Config, _ telnet.Command) Result {
				if cfg.EnableCompression {
					return Result{Response: []byte{iac, do, telnet.OptMCCP2}}
				}
				return Result{Response: []byte{iac, dont, telnet.OptMCCP2}}
			},
			FromClient: reply(iac, dont, telnet.OptMCCP2),
		},
		{
			Name:    "mccp2_start",
			Pattern: MCCP2Confirmation,
			FromHost: func(cfg Config, _ telnet.Command) Result {
				if cfg.EnableCompression {
					return Result{Effect: StartDecompression}
				}
				return Result{}
			},
			// Only the host may start compression; a client copy is dropped.
			FromClient: func(Config, telnet.Command) Result {
				return Result{}
			},
		},
		{
			Name:       "mccp3",
			Pattern:    []byte{iac, will, telnet.OptMCCP3},
			FromHost:   reply(iac, dont, telnet.OptMCCP3),
			FromClient: reply(iac, dont, telnet.OptMCCP3),
		},
		{
			Name:     "termtype",
			Pattern:  []byte{iac, do, telnet.OptTermType},
			FromHost: reply(iac, will, telnet.OptTermType),
		},
		{
			Name:    "termtype_send",
			Pattern: []byte{iac, sb, telnet.OptTermType, telnet.TermTypeSend, iac, se},
			FromHost: func(cfg Config, _ telnet.Command) Result {
				return Result{Response: TermTypeIs(cfg.TerminalType)}
			},
		},
		{
			Name:     "naws",
			Pattern:  []byte{iac, do, telnet.OptNAWS},
			FromHost: reply(iac, wont, telnet.OptNAWS),
		},
		{
			Name:     "new_environ",
			Pattern:  []byte{iac, do, telnet.OptNewEnvironment},
			FromHost: reply(iac, wont, telnet.OptNewEnvironment),
		},
		{
			Name:    "mxp",
			Pattern: []byte{iac, do, telnet.OptMXP},
			FromHost: func(cfg Config, _ telnet.Command) Result {
				if cfg.EnableMXP {
					return Result{Response: []byte{iac, will, telnet.OptMXP}}
				}
				return Result{Response: []byte{iac, wont, telnet.OptMXP}}
			},
		},
		{
			Name:     "gmcp",
			Pattern:  []byte{iac, will, telnet.OptGMCP},
			FromHost: reply(iac, dont, telnet.OptGMCP),
		},
		{
			Name:     "zmp",
			Pattern:  []byte{iac, will, telnet.OptZMP},
			FromHost: reply(iac, dont, telnet.OptZMP),
		},
		{
			Name:     "mssp",
			Pattern:  []byte{iac, will, telnet.OptMSSP},
			FromHost: reply(iac, dont, telnet.OptMSSP),
		},
	}
}
