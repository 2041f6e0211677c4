// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package proxy

import (
	"errors"
	"net"
	"sync"
	"sync/atomic"

	"github.com/absmach/mudproxy/pkg/handler"
	oi "github.com/reiver/go-oi"
)

var errQueueFull = errors.New("client send queue full")

// peer is one proxied connection. Host writes are synchronous; client writes
// go through a bounded queue drained by the client's own writer, so a stalled
// client never blocks the host pipeline.
type peer struct {
	conn net.Conn
	hctx *handler.Context

	mu    sync.Mutex
	queue chan []byte
	done  chan struct{}
	once  sync.Once

	rx atomic.Uint64
	tx atomic.Uint64
}

func newHost(conn net.Conn, hctx *handler.Context) *peer {
	return &peer{
		conn: conn,
		hctx: hctx,
		done: make(chan struct{}),
	}
}

func newClient(conn net.Conn, hctx *handler.Context, queueSize int) *peer {
	return &peer{
		conn:  conn,
		hctx:  hctx,
		queue: make(chan []byte, queueSize),
		done:  make(chan struct{}),
	}
}

// write writes b in full. Concurrent writers are serialized, so a write
// that has begun either completes or fails the connection.
func (p *peer) write(b []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	n, err := oi.LongWrite(p.conn, b)
	p.tx.Add(uint64(n))
	return err
}

// send delivers b to the peer. For clients b is queued and must not be
// modified afterwards.
func (p *peer) send(b []byte) error {
	if p.queue == nil {
		return p.write(b)
	}
	select {
	case <-p.done:
		return net.ErrClosed
	default:
	}
	select {
	case p.queue <- b:
		return nil
	default:
		return errQueueFull
	}
}

// drain writes queued messages until the peer is closed or a write fails.
// Write errors caused by closing the peer are not reported.
func (p *peer) drain() error {
	for {
		select {
		case <-p.done:
			return nil
		case b := <-p.queue:
			if err := p.write(b); err != nil {
				select {
				case <-p.done:
					return nil
				default:
					return err
				}
			}
		}
	}
}

// close closes the connection once and stops the writer.
func (p *peer) close() {
	p.once.Do(func() {
		close(p.done)
		p.conn.Close()
	})
}
