// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package compression implements the MCCP2 gate on the host stream.
//
// A Gate starts in passthrough mode. Once the host confirms MCCP2, the
// owner calls Activate with the bytes it had already read past the
// confirmation; from then on every Read returns inflated data, starting
// exactly at the first of those bytes.
package compression

import (
	"bytes"
	"compress/flate"
	"compress/zlib"
	"errors"
	"fmt"
	"io"
	"sync/atomic"
)

var (
	// ErrAlreadyActive is returned when Activate is called twice.
	ErrAlreadyActive = errors.New("decompression already active")

	// ErrCorrupt indicates a malformed compressed stream.
	ErrCorrupt = errors.New("corrupt compressed stream")
)

// Gate wraps the raw host transport. Reads and Activate must be called from
// a single goroutine; Active may be called from any goroutine.
type Gate struct {
	src      io.Reader
	active   atomic.Bool
	pending  []byte
	inflater io.ReadCloser
}

// NewGate returns a passthrough gate over src.
func NewGate(src io.Reader) *Gate {
	return &Gate{src: src}
}

// Active reports whether decompression has been switched on.
func (g *Gate) Active() bool {
	return g.active.Load()
}

// Activate switches the gate to decompression. buffered holds bytes already
// read from the transport that follow the confirmation command; they are
// copied and become the first input of the inflater.
func (g *Gate) Activate(buffered []byte) error {
	if g.active.Load() {
		return ErrAlreadyActive
	}
	g.pending = append([]byte(nil), buffered...)
	g.active.Store(true)
	return nil
}

// Read reads raw bytes before activation and inflated bytes after it. The
// inflater is created on the first read after activation, so activation
// itself never blocks on the network.
func (g *Gate) Read(p []byte) (int, error) {
	if !g.active.Load() {
		return g.src.Read(p)
	}

	if g.inflater == nil {
		// The inflater keeps its state across reads; a block split over
		// several network reads or expanding past len(p) is resumed here.
		zr, err := zlib.NewReader(io.MultiReader(bytes.NewReader(g.pending), g.src))
		if err != nil {
			return 0, wrap(err)
		}
		g.pending = nil
		g.inflater = zr
	}

	n, err := g.inflater.Read(p)
	return n, wrap(err)
}

// Close releases the inflater. It does not close the underlying transport.
func (g *Gate) Close() error {
	if g.inflater == nil {
		return nil
	}
	return g.inflater.Close()
}

func wrap(err error) error {
	var corrupt flate.CorruptInputError
	switch {
	case err == nil:
		return nil
	case errors.Is(err, zlib.ErrHeader), errors.Is(err, zlib.ErrChecksum), errors.Is(err, zlib.ErrDictionary),
		errors.As(err, &corrupt):
		return fmt.Errorf("%w: %w", ErrCorrupt, err)
	default:
		return err
	}
}
