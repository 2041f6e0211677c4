// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package events publishes proxy lifecycle events to a Redis pub/sub
// channel as JSON, so dashboards and bots can follow a shared MUD session.
//
// Hooks only enqueue; a single worker publishes in order. The proxy's read
// loops therefore never wait on Redis.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/absmach/mudproxy/pkg/breaker"
	"github.com/absmach/mudproxy/pkg/handler"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	// DefaultChannel is used when no channel is configured.
	DefaultChannel = "mudproxy.events"

	// DefaultQueueSize bounds events waiting to be published.
	DefaultQueueSize = 1024
)

// Event types.
const (
	ClientConnect    = "client.connect"
	ClientDisconnect = "client.disconnect"
	PrimaryChange    = "primary.change"
	HostConnect      = "host.connect"
	HostDisconnect   = "host.disconnect"
	Negotiation      = "negotiation"
)

var (
	// ErrQueueFull is returned by a hook when its event could not be queued.
	ErrQueueFull = errors.New("event queue full")

	// ErrClosed is returned by a hook called after Close.
	ErrClosed = errors.New("event publisher closed")
)

// Event is the JSON document published for every notification.
type Event struct {
	Type       string    `json:"type"`
	Instance   string    `json:"instance"`
	Timestamp  time.Time `json:"timestamp"`
	Session    string    `json:"session,omitempty"`
	RemoteAddr string    `json:"remote,omitempty"`
	Protocol   string    `json:"protocol,omitempty"`
	Sequence   uint64    `json:"sequence,omitempty"`
	Previous   string    `json:"previous,omitempty"`
	Direction  string    `json:"direction,omitempty"`
	Command    string    `json:"command,omitempty"`
	Rule       string    `json:"rule,omitempty"`
	Response   string    `json:"response,omitempty"`
	Effect     string    `json:"effect,omitempty"`
}

// Publisher is the part of a Redis client used here; *redis.Client
// satisfies it.
type Publisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// Config configures a Handler.
type Config struct {
	// Channel is the pub/sub channel; empty selects DefaultChannel.
	Channel string

	// QueueSize bounds queued events; zero selects DefaultQueueSize.
	QueueSize int

	// Breaker optionally skips publishing while Redis keeps failing.
	Breaker *breaker.CircuitBreaker

	// Logger reports publish failures.
	Logger *slog.Logger
}

var _ handler.Handler = (*Handler)(nil)

// Handler publishes every notification it receives. It never rejects a
// client.
type Handler struct {
	client   Publisher
	config   Config
	instance string
	now      func() time.Time

	mu     sync.RWMutex
	closed bool
	queue  chan Event
	done   chan struct{}

	dropped atomic.Uint64
	failed  atomic.Uint64
}

// New creates a publishing handler and starts its worker. Call Close to
// flush queued events and stop the worker.
func New(client Publisher, cfg Config) *Handler {
	if cfg.Channel == "" {
		cfg.Channel = DefaultChannel
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	h := &Handler{
		client:   client,
		config:   cfg,
		instance: fmt.Sprintf("mudproxy-%s", uuid.New().String()[:8]),
		now:      time.Now,
		queue:    make(chan Event, cfg.QueueSize),
		done:     make(chan struct{}),
	}
	go h.run()
	return h
}

// Connect dials Redis and verifies the connection.
func Connect(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}
	return rdb, nil
}

// Dropped returns the number of events not published because the queue
// was full or the breaker was open.
func (h *Handler) Dropped() uint64 {
	return h.dropped.Load()
}

// Failed returns the number of events Redis refused.
func (h *Handler) Failed() uint64 {
	return h.failed.Load()
}

// Close publishes the events still queued and stops the worker. It is safe
// to call more than once.
func (h *Handler) Close() {
	h.mu.Lock()
	if !h.closed {
		h.closed = true
		close(h.queue)
	}
	h.mu.Unlock()
	<-h.done
}

// AuthConnect allows every client.
func (h *Handler) AuthConnect(ctx context.Context, hctx *handler.Context) error {
	return nil
}

func (h *Handler) OnClientConnect(ctx context.Context, hctx *handler.Context) error {
	return h.enqueue(h.event(ClientConnect, hctx))
}

func (h *Handler) OnClientDisconnect(ctx context.Context, hctx *handler.Context) error {
	return h.enqueue(h.event(ClientDisconnect, hctx))
}

func (h *Handler) OnPrimaryChange(ctx context.Context, prev, next *handler.Context) error {
	e := h.event(PrimaryChange, next)
	if prev != nil {
		e.Previous = prev.SessionID
	}
	return h.enqueue(e)
}

func (h *Handler) OnHostConnect(ctx context.Context, hctx *handler.Context) error {
	return h.enqueue(h.event(HostConnect, hctx))
}

func (h *Handler) OnHostDisconnect(ctx context.Context, hctx *handler.Context) error {
	return h.enqueue(h.event(HostDisconnect, hctx))
}

func (h *Handler) OnNegotiation(ctx context.Context, hctx *handler.Context, n handler.Negotiation) error {
	e := h.event(Negotiation, hctx)
	e.Direction = n.Direction
	e.Command = n.Command
	e.Rule = n.Rule
	e.Response = n.Response
	e.Effect = n.Effect
	return h.enqueue(e)
}

func (h *Handler) event(typ string, hctx *handler.Context) Event {
	e := Event{
		Type:      typ,
		Instance:  h.instance,
		Timestamp: h.now().UTC(),
	}
	if hctx != nil {
		e.Session = hctx.SessionID
		e.RemoteAddr = hctx.RemoteAddr
		e.Protocol = hctx.Protocol
		e.Sequence = hctx.Sequence
	}
	return e
}

func (h *Handler) enqueue(e Event) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return ErrClosed
	}
	select {
	case h.queue <- e:
		return nil
	default:
		h.dropped.Add(1)
		return fmt.Errorf("%s event: %w", e.Type, ErrQueueFull)
	}
}

func (h *Handler) run() {
	defer close(h.done)
	for e := range h.queue {
		if err := h.publish(context.Background(), e); err != nil {
			h.failed.Add(1)
			h.config.Logger.Warn("failed to publish event",
				slog.String("type", e.Type),
				slog.String("session", e.Session),
				slog.String("error", err.Error()))
		}
	}
}

func (h *Handler) publish(ctx context.Context, e Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", e.Type, err)
	}
	send := func(ctx context.Context) error {
		return h.client.Publish(ctx, h.config.Channel, data).Err()
	}
	if h.config.Breaker == nil {
		err = send(ctx)
	} else {
		err = h.config.Breaker.Call(ctx, send)
	}
	if errors.Is(err, breaker.ErrCircuitOpen) {
		h.dropped.Add(1)
		return nil
	}
	return err
}
