// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package negotiation decides how the proxy treats each Telnet command.
//
// A Policy walks an ordered table of rules. Each rule carries a byte pattern
// that must be a prefix of the command and an answer per direction. The
// answer says whether to forward the command, what to write back to its
// sender, and whether the host stream must switch to MCCP2 decompression.
//
//	Sequence                      From host                        From client
//	IAC WILL MCCP1                answer IAC DONT MCCP1            answer IAC DONT MCCP1
//	IAC WILL MCCP2                answer IAC DO/DONT MCCP2         answer IAC DONT MCCP2
//	IAC SB MCCP2 IAC SE           suppress, start decompression    pass
//	IAC WILL MCCP3                answer IAC DONT MCCP3            answer IAC DONT MCCP3
//	IAC DO TERMTYPE               answer IAC WILL TERMTYPE         pass
//	IAC SB TERMTYPE SEND IAC SE   answer TERMTYPE IS <name>        pass
//	IAC DO NAWS                   answer IAC WONT NAWS             pass
//	IAC DO NEWENVIRONMENT         answer IAC WONT NEWENVIRONMENT   pass
//	IAC DO MXP                    answer IAC WILL/WONT MXP         pass
//	IAC WILL GMCP|ZMP|MSSP        answer IAC DONT <opt>            pass
//
// Answered commands are never forwarded. Anything not in the table is
// forwarded unchanged; the policy never validates unknown sequences.
package negotiation
