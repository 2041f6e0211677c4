// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package telnet

import "fmt"

// Telnet commands.
const (
	EOR  byte = 0xEF
	SE   byte = 0xF0
	NOP  byte = 0xF1
	DM   byte = 0xF2
	BRK  byte = 0xF3
	IP   byte = 0xF4
	AO   byte = 0xF5
	AYT  byte = 0xF6
	EC   byte = 0xF7
	EL   byte = 0xF8
	GA   byte = 0xF9
	SB   byte = 0xFA
	WILL byte = 0xFB
	WONT byte = 0xFC
	DO   byte = 0xFD
	DONT byte = 0xFE
	IAC  byte = 0xFF
)

// Telnet options, including the MUD extensions.
const (
	OptEcho           byte = 0x01
	OptSGA            byte = 0x03
	OptStatus         byte = 0x05
	OptTimingMark     byte = 0x06
	OptTermType       byte = 0x18
	OptEOR            byte = 0x19
	OptNAWS           byte = 0x1F
	OptTermSpeed      byte = 0x20
	OptRFC            byte = 0x21
	OptLineMode       byte = 0x22
	OptEnviron        byte = 0x24
	OptNewEnvironment byte = 0x27
	OptCharset        byte = 0x2A
	OptMSSP           byte = 0x46
	OptMCCP1          byte = 0x55
	OptMCCP2          byte = 0x56
	OptMCCP3          byte = 0x57
	OptMSP            byte = 0x5A
	OptMXP            byte = 0x5B
	OptZMP            byte = 0x5D
	OptAardwolf       byte = 0x66
	OptATCP           byte = 0xC8
	OptGMCP           byte = 0xC9
)

// TERMTYPE sub-negotiation verbs (RFC 1091).
const (
	TermTypeIs   byte = 0x00
	TermTypeSend byte = 0x01
)

var commandNames = map[byte]string{
	EOR:  "EOR",
	SE:   "SE",
	NOP:  "NOP",
	DM:   "DM",
	BRK:  "BRK",
	IP:   "IP",
	AO:   "AO",
	AYT:  "AYT",
	EC:   "EC",
	EL:   "EL",
	GA:   "GA",
	SB:   "SB",
	WILL: "WILL",
	WONT: "WONT",
	DO:   "DO",
	DONT: "DONT",
	IAC:  "IAC",
}

var optionNames = map[byte]string{
	OptEcho:           "ECHO",
	OptSGA:            "SGA",
	OptStatus:         "STATUS",
	OptTimingMark:     "TIMINGMARK",
	OptTermType:       "TERMTYPE",
	OptEOR:            "EOR",
	OptNAWS:           "NAWS",
	OptTermSpeed:      "TERMSPEED",
	OptRFC:            "RFC",
	OptLineMode:       "LINEMODE",
	OptEnviron:        "ENVIRON",
	OptNewEnvironment: "NEWENVIRONMENT",
	OptCharset:        "CHARSET",
	OptMSSP:           "MSSP",
	OptMCCP1:          "MCCP1",
	OptMCCP2:          "MCCP2",
	OptMCCP3:          "MCCP3",
	OptMSP:            "MSP",
	OptMXP:            "MXP",
	OptZMP:            "ZMP",
	OptAardwolf:       "AARDWOLF",
	OptATCP:           "ATCP",
	OptGMCP:           "GMCP",
}

// CommandName returns the mnemonic of a command byte, or its hex form.
func CommandName(b byte) string {
	if name, ok := commandNames[b]; ok {
		return name
	}
	return fmt.Sprintf("0x%02X", b)
}

// OptionName returns the mnemonic of an option byte, or its hex form.
func OptionName(b byte) string {
	if name, ok := optionNames[b]; ok {
		return name
	}
	return fmt.Sprintf("0x%02X", b)
}

// IsNegotiation reports whether b is one of WILL, WONT, DO or DONT.
func IsNegotiation(b byte) bool {
	return b >= WILL && b <= DONT
}

func isPrintable(b byte) bool {
	return b >= 0x20 && b <= 0x7E
}
