// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package parser

// Direction indicates which side of the proxy a byte stream came from.
type Direction int

const (
	// Upstream represents bytes flowing from a client toward the host.
	Upstream Direction = iota

	// Downstream represents bytes flowing from the host toward the clients.
	Downstream
)

// String returns a string representation of the direction.
func (d Direction) String() string {
	switch d {
	case Upstream:
		return "upstream"
	case Downstream:
		return "downstream"
	default:
		return "unknown"
	}
}
