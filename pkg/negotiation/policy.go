// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package negotiation

import (
	"bytes"

	"github.com/absmach/mudproxy/pkg/parser"
	"github.com/absmach/mudproxy/pkg/parser/telnet"
)

// Config holds the options that shape the proxy's answers. It is read-only
// for the lifetime of a proxy.
type Config struct {
	// EnableCompression accepts MCCP2 from the host.
	EnableCompression bool

	// EnableMXP accepts MXP from the host.
	EnableMXP bool

	// TerminalType is reported in TERMTYPE IS answers.
	TerminalType string
}

// Effect is a side effect requested by a rule.
type Effect int

const (
	// None requests nothing beyond forwarding or answering.
	None Effect = iota

	// StartDecompression switches the host stream to MCCP2 inflation at the
	// byte following the triggering command.
	StartDecompression
)

// String returns a string representation of the effect.
func (e Effect) String() string {
	switch e {
	case None:
		return "none"
	case StartDecompression:
		return "start_decompression"
	default:
		return "unknown"
	}
}

// Result is the decision for one command.
type Result struct {
	// Forward is true when the command must be passed on unchanged.
	Forward bool

	// Response, when non-empty, is written back to the sender of the command.
	// It may be shared between results and must not be modified.
	Response []byte

	// Effect is a side effect the multiplexer must apply.
	Effect Effect

	// Rule names the table row that matched, empty for pass-through.
	Rule string
}

// Action returns a label used for metrics and logs.
func (r Result) Action() string {
	switch {
	case r.Forward:
		return "forward"
	case len(r.Response) > 0:
		return "answer"
	default:
		return "suppress"
	}
}

var passThrough = Result{Forward: true}

// Answer decides a matched command for one direction.
type Answer func(cfg Config, cmd telnet.Command) Result

// Rule is one row of the negotiation table. A nil answer means the row does
// not apply in that direction.
type Rule struct {
	Name       string
	Pattern    []byte
	FromHost   Answer
	FromClient Answer
}

func (r Rule) answer(dir parser.Direction) Answer {
	if dir == parser.Downstream {
		return r.FromHost
	}
	return r.FromClient
}

// Policy evaluates commands against an ordered rule table.
type Policy struct {
	cfg   Config
	rules []Rule
}

// New returns a policy over DefaultRules.
func New(cfg Config) *Policy {
	return NewWithRules(cfg, DefaultRules())
}

// NewWithRules returns a policy over a custom table. Rules are matched in
// order; the first whose pattern is a byte prefix of the command and which
// applies to the command's direction wins.
func NewWithRules(cfg Config, rules []Rule) *Policy {
	return &Policy{
		cfg:   cfg,
		rules: rules,
	}
}

// Config returns the policy configuration.
func (p *Policy) Config() Config {
	return p.cfg
}

// Evaluate decides what to do with a complete command received from dir.
// Commands matching no row are forwarded unchanged.
func (p *Policy) Evaluate(cmd telnet.Command, dir parser.Direction) Result {
	for _, rule := range p.rules {
		if !bytes.HasPrefix(cmd.Raw, rule.Pattern) {
			continue
		}
		answer := rule.answer(dir)
		if answer == nil {
			continue
		}
		res := answer(p.cfg, cmd)
		res.Rule = rule.Name
		return res
	}
	return passThrough
}
