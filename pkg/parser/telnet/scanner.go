// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package telnet

// DefaultMaxSubnegotiation bounds the bytes buffered for one IAC SB sequence.
const DefaultMaxSubnegotiation = 64 * 1024

type state int

const (
	stateIdle state = iota
	stateGotIAC
	stateAwaitingOption
	stateAwaitingSubOption
	stateInSub
	stateInSubIAC
)

// Segment is one unit of a scanned stream: either a run of plain data or a
// complete command. Exactly one of Data and Command is set.
type Segment struct {
	Data    []byte
	Command *Command
}

// Scanner detects Telnet command boundaries one byte at a time. State is kept
// across calls so a command may be split over any number of reads. A Scanner
// is not safe for concurrent use; each stream direction owns one.
type Scanner struct {
	state   state
	maxSub  int
	raw     []byte
	payload []byte
}

// NewScanner returns an idle scanner. maxSub limits the size of a buffered
// sub-negotiation; zero or less selects DefaultMaxSubnegotiation.
func NewScanner(maxSub int) *Scanner {
	if maxSub <= 0 {
		maxSub = DefaultMaxSubnegotiation
	}
	return &Scanner{maxSub: maxSub}
}

// Idle reports whether the scanner is between commands. While idle, any byte
// other than IAC is plain data and must not be fed.
func (s *Scanner) Idle() bool {
	return s.state == stateIdle
}

// Reset discards a partially scanned command.
func (s *Scanner) Reset() {
	s.state = stateIdle
	s.raw = nil
	s.payload = nil
}

// Feed consumes one byte. It returns the complete command and true when b
// finishes one; the scanner is then idle again. A non-IAC byte fed while
// idle is ignored.
func (s *Scanner) Feed(b byte) (Command, bool) {
	switch s.state {
	case stateIdle:
		if b != IAC {
			return Command{}, false
		}
		s.raw = append(make([]byte, 0, 8), b)
		s.state = stateGotIAC
		return Command{}, false

	case stateGotIAC:
		s.raw = append(s.raw, b)
		switch {
		case IsNegotiation(b):
			s.state = stateAwaitingOption
			return Command{}, false
		case b == SB:
			s.state = stateAwaitingSubOption
			return Command{}, false
		default:
			// Simple two byte command. A stray SE whose SB was lost lands here too.
			return s.complete(), true
		}

	case stateAwaitingOption:
		s.raw = append(s.raw, b)
		return s.complete(), true

	case stateAwaitingSubOption:
		s.raw = append(s.raw, b)
		if b == IAC {
			s.state = stateInSubIAC
		} else {
			s.state = stateInSub
		}

	case stateInSub:
		s.raw = append(s.raw, b)
		if b == IAC {
			s.state = stateInSubIAC
		} else if isPrintable(b) {
			s.payload = append(s.payload, b)
		}

	case stateInSubIAC:
		s.raw = append(s.raw, b)
		switch {
		case b == SE:
			return s.complete(), true
		case b == IAC:
			// Still armed: the first IAC SE terminates, IAC IAC is not an escape.
		default:
			s.state = stateInSub
			if isPrintable(b) {
				s.payload = append(s.payload, b)
			}
		}
	}

	if len(s.raw) >= s.maxSub {
		return s.complete(), true
	}
	return Command{}, false
}

func (s *Scanner) complete() Command {
	cmd := Command{Raw: s.raw, Payload: s.payload}
	s.state = stateIdle
	s.raw = nil
	s.payload = nil
	return cmd
}

// Scan walks p in stream order, calling fn for every run of plain data and
// every command completed within p. Plain runs alias p. If fn returns false,
// Scan stops immediately after that segment and returns the number of bytes
// of p consumed so far; otherwise it returns len(p). Bytes of an unfinished
// command stay buffered in the scanner for the next call.
func (s *Scanner) Scan(p []byte, fn func(Segment) bool) int {
	start := 0
	for i := 0; i < len(p); i++ {
		b := p[i]
		if s.Idle() && b != IAC {
			continue
		}

		if start < i {
			if !fn(Segment{Data: p[start:i]}) {
				return i
			}
		}
		start = i + 1

		if cmd, ok := s.Feed(b); ok {
			if !fn(Segment{Command: &cmd}) {
				return i + 1
			}
		}
	}

	if s.Idle() && start < len(p) {
		fn(Segment{Data: p[start:]})
	}
	return len(p)
}
