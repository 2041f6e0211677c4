// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package proxy

import (
	"sort"
	"sync"
	"time"

	mperrors "github.com/absmach/mudproxy/pkg/errors"
	"github.com/absmach/mudproxy/pkg/handler"
)

// election describes a primary change produced by a registry mutation.
type election struct {
	prev, next *handler.Context
	changed    bool
}

// registry holds the client set, the primary client and the host handle.
// Every mutation and every primary lookup happens under mu.
type registry struct {
	mu      sync.Mutex
	seq     uint64
	clients map[uint64]*peer
	primary *peer
	host    *peer
}

func newRegistry() *registry {
	return &registry{
		clients: make(map[uint64]*peer),
	}
}

// add registers c, stamping its context with the connect sequence. The
// first client to arrive while there is no primary becomes primary.
func (r *registry) add(c *peer) election {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.seq++
	c.hctx.Sequence = r.seq
	c.hctx.ConnectedAt = time.Now()
	r.clients[r.seq] = c

	if r.primary != nil {
		return election{}
	}
	r.primary = c
	return election{next: c.hctx, changed: true}
}

// remove drops c. If c was primary, the surviving client with the lowest
// sequence takes over, or primary becomes absent.
func (r *registry) remove(c *peer) (bool, election) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.clients[c.hctx.Sequence] != c {
		return false, election{}
	}
	delete(r.clients, c.hctx.Sequence)

	if r.primary != c {
		return true, election{}
	}

	r.primary = nil
	for seq, other := range r.clients {
		if r.primary == nil || seq < r.primary.hctx.Sequence {
			r.primary = other
		}
	}

	e := election{prev: c.hctx, changed: true}
	if r.primary != nil {
		e.next = r.primary.hctx
	}
	return true, e
}

func (r *registry) isPrimary(c *peer) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.primary == c
}

func (r *registry) primaryContext() (*handler.Context, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.primary == nil {
		return nil, false
	}
	return r.primary.hctx, true
}

// snapshot returns the current clients in connect order.
func (r *registry) snapshot() []*peer {
	r.mu.Lock()
	clients := make([]*peer, 0, len(r.clients))
	for _, c := range r.clients {
		clients = append(clients, c)
	}
	r.mu.Unlock()

	sort.Slice(clients, func(i, j int) bool {
		return clients[i].hctx.Sequence < clients[j].hctx.Sequence
	})
	return clients
}

func (r *registry) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.clients)
}

// setHost installs h as the single host connection.
func (r *registry) setHost(h *peer) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.host != nil {
		return mperrors.ErrHostConnected
	}
	r.host = h
	return nil
}

// clearHost drops h if it is still the installed host.
func (r *registry) clearHost(h *peer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.host == h {
		r.host = nil
	}
}

func (r *registry) currentHost() *peer {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.host
}
