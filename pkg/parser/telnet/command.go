// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package telnet

import (
	"bytes"
	"fmt"
	"strings"
)

// Command is a complete IAC-prefixed sequence as it appeared on the wire.
// Raw must not be modified once the command has been emitted.
type Command struct {
	// Raw holds every byte of the command, including the leading IAC and,
	// for sub-negotiations, the trailing IAC SE.
	Raw []byte

	// Payload holds the printable ASCII bytes of a sub-negotiation body,
	// e.g. the terminal name of a TERMTYPE IS answer.
	Payload []byte
}

// Verb returns the byte following IAC, or 0 for a truncated command.
func (c Command) Verb() byte {
	if len(c.Raw) < 2 {
		return 0
	}
	return c.Raw[1]
}

// Option returns the option byte of a negotiation or sub-negotiation.
func (c Command) Option() (byte, bool) {
	if len(c.Raw) < 3 {
		return 0, false
	}
	if v := c.Verb(); !IsNegotiation(v) && v != SB {
		return 0, false
	}
	return c.Raw[2], true
}

// IsSubnegotiation reports whether the command is an IAC SB ... sequence.
func (c Command) IsSubnegotiation() bool {
	return c.Verb() == SB
}

// Equal reports whether c carries exactly the bytes b.
func (c Command) Equal(b []byte) bool {
	return bytes.Equal(c.Raw, b)
}

// String renders the command with mnemonics, e.g. "IAC WILL MCCP2" or
// "IAC SB TERMTYPE IS xterm IAC SE".
func (c Command) String() string {
	return Format(c.Raw)
}

// Format renders a raw IAC sequence with mnemonics. Unknown bytes are shown in hex.
func Format(raw []byte) string {
	if len(raw) == 0 {
		return ""
	}

	var sb strings.Builder
	sb.WriteString(CommandName(raw[0]))
	if len(raw) < 2 {
		return sb.String()
	}

	verb := raw[1]
	sb.WriteByte(' ')
	sb.WriteString(CommandName(verb))

	switch {
	case IsNegotiation(verb) && len(raw) >= 3:
		sb.WriteByte(' ')
		sb.WriteString(OptionName(raw[2]))
	case verb == SB && len(raw) >= 3:
		opt := raw[2]
		sb.WriteByte(' ')
		sb.WriteString(OptionName(opt))

		body := raw[3:]
		terminated := bytes.HasSuffix(body, []byte{IAC, SE})
		if terminated {
			body = body[:len(body)-2]
		}

		var text []byte
		flush := func() {
			if len(text) > 0 {
				sb.WriteByte(' ')
				sb.Write(text)
				text = text[:0]
			}
		}
		for i, b := range body {
			if isPrintable(b) {
				text = append(text, b)
				continue
			}
			flush()
			sb.WriteByte(' ')
			switch {
			case opt == OptTermType && i == 0 && b == TermTypeIs:
				sb.WriteString("IS")
			case opt == OptTermType && i == 0 && b == TermTypeSend:
				sb.WriteString("SEND")
			case b == IAC:
				sb.WriteString("IAC")
			default:
				fmt.Fprintf(&sb, "0x%02X", b)
			}
		}
		flush()

		if terminated {
			sb.WriteString(" IAC SE")
		}
	}

	return sb.String()
}
