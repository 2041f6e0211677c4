// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package events

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/absmach/mudproxy/pkg/breaker"
	"github.com/absmach/mudproxy/pkg/handler"
	"github.com/redis/go-redis/v9"
)

type published struct {
	channel string
	event   Event
}

// mockPublisher records messages instead of talking to Redis. When block
// is set, Publish waits on it before recording.
type mockPublisher struct {
	mu       sync.Mutex
	err      error
	calls    int
	block    chan struct{}
	messages []published
}

func (m *mockPublisher) Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd {
	if m.block != nil {
		<-m.block
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	cmd := redis.NewIntCmd(ctx, "publish", channel, message)
	if m.err != nil {
		cmd.SetErr(m.err)
		return cmd
	}
	var e Event
	if err := json.Unmarshal(message.([]byte), &e); err != nil {
		cmd.SetErr(err)
		return cmd
	}
	m.messages = append(m.messages, published{channel: channel, event: e})
	cmd.SetVal(1)
	return cmd
}

func TestHandler_Publishes(t *testing.T) {
	pub := &mockPublisher{}
	h := New(pub, Config{})
	fixed := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	h.now = func() time.Time { return fixed }

	ctx := context.Background()
	a := &handler.Context{SessionID: "a", RemoteAddr: "10.0.0.1:5000", Protocol: "telnet", Sequence: 1}
	b := &handler.Context{SessionID: "b", RemoteAddr: "10.0.0.2:5000", Protocol: "websocket", Sequence: 2}
	host := &handler.Context{SessionID: "h", RemoteAddr: "mud.example.org:4000", Protocol: "telnet"}

	calls := []struct {
		name string
		fn   func() error
		want Event
	}{
		{
			name: "client connect",
			fn:   func() error { return h.OnClientConnect(ctx, a) },
			want: Event{Type: ClientConnect, Session: "a", RemoteAddr: "10.0.0.1:5000", Protocol: "telnet", Sequence: 1},
		},
		{
			name: "primary change",
			fn:   func() error { return h.OnPrimaryChange(ctx, a, b) },
			want: Event{Type: PrimaryChange, Session: "b", RemoteAddr: "10.0.0.2:5000", Protocol: "websocket", Sequence: 2, Previous: "a"},
		},
		{
			name: "primary gone",
			fn:   func() error { return h.OnPrimaryChange(ctx, b, nil) },
			want: Event{Type: PrimaryChange, Previous: "b"},
		},
		{
			name: "host connect",
			fn:   func() error { return h.OnHostConnect(ctx, host) },
			want: Event{Type: HostConnect, Session: "h", RemoteAddr: "mud.example.org:4000", Protocol: "telnet"},
		},
		{
			name: "negotiation",
			fn: func() error {
				return h.OnNegotiation(ctx, host, handler.Negotiation{
					Direction: "downstream",
					Command:   "IAC WILL MCCP2",
					Rule:      "mccp2",
					Response:  "IAC DO MCCP2",
				})
			},
			want: Event{
				Type: Negotiation, Session: "h", RemoteAddr: "mud.example.org:4000", Protocol: "telnet",
				Direction: "downstream", Command: "IAC WILL MCCP2", Rule: "mccp2", Response: "IAC DO MCCP2",
			},
		},
		{
			name: "host disconnect",
			fn:   func() error { return h.OnHostDisconnect(ctx, host) },
			want: Event{Type: HostDisconnect, Session: "h", RemoteAddr: "mud.example.org:4000", Protocol: "telnet"},
		},
		{
			name: "client disconnect",
			fn:   func() error { return h.OnClientDisconnect(ctx, a) },
			want: Event{Type: ClientDisconnect, Session: "a", RemoteAddr: "10.0.0.1:5000", Protocol: "telnet", Sequence: 1},
		},
	}

	for _, c := range calls {
		if err := c.fn(); err != nil {
			t.Fatalf("%s: unexpected error: %v", c.name, err)
		}
	}
	h.Close()

	if len(pub.messages) != len(calls) {
		t.Fatalf("expected %d messages, got %d", len(calls), len(pub.messages))
	}
	for i, c := range calls {
		t.Run(c.name, func(t *testing.T) {
			got := pub.messages[i]
			if got.channel != DefaultChannel {
				t.Errorf("channel = %q, want %q", got.channel, DefaultChannel)
			}
			if !got.event.Timestamp.Equal(fixed) {
				t.Errorf("timestamp = %v, want %v", got.event.Timestamp, fixed)
			}
			got.event.Timestamp = time.Time{}
			want := c.want
			want.Instance = h.instance
			if got.event != want {
				t.Errorf("event = %+v, want %+v", got.event, want)
			}
		})
	}
}

func TestHandler_AuthConnectAllows(t *testing.T) {
	pub := &mockPublisher{}
	h := New(pub, Config{Channel: "mud"})
	if err := h.AuthConnect(context.Background(), &handler.Context{}); err != nil {
		t.Errorf("AuthConnect() error = %v", err)
	}
	h.Close()
	if len(pub.messages) != 0 {
		t.Errorf("AuthConnect must not publish, got %d messages", len(pub.messages))
	}
}

func TestHandler_PublishErrorIsLogged(t *testing.T) {
	var buf strings.Builder
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	h := New(&mockPublisher{err: errors.New("connection refused")}, Config{Channel: "mud", Logger: logger})

	if err := h.OnClientConnect(context.Background(), &handler.Context{SessionID: "a"}); err != nil {
		t.Fatalf("hook must not report publish errors, got %v", err)
	}
	h.Close()

	if got := h.Failed(); got != 1 {
		t.Errorf("Failed() = %d, want 1", got)
	}
	out := buf.String()
	for _, want := range []string{"failed to publish event", "connection refused", "session=a"} {
		if !strings.Contains(out, want) {
			t.Errorf("log output %q missing %q", out, want)
		}
	}
}

func TestHandler_SlowRedisDoesNotBlockHooks(t *testing.T) {
	pub := &mockPublisher{block: make(chan struct{})}
	h := New(pub, Config{Channel: "mud", QueueSize: 2})
	ctx := context.Background()
	hctx := &handler.Context{SessionID: "a"}

	// The worker takes the first event and stalls on Publish; two more
	// fill the queue and the next one is refused.
	done := make(chan []error)
	go func() {
		var errs []error
		for i := 0; i < 4; i++ {
			errs = append(errs, h.OnNegotiation(ctx, hctx, handler.Negotiation{Command: "IAC DO ECHO"}))
			if i == 0 {
				// Let the worker dequeue the first event.
				deadline := time.Now().Add(time.Second)
				for len(h.queue) != 0 && time.Now().Before(deadline) {
					time.Sleep(time.Millisecond)
				}
			}
		}
		done <- errs
	}()

	var errs []error
	select {
	case errs = <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("hooks blocked on a stalled publisher")
	}
	for i, err := range errs[:3] {
		if err != nil {
			t.Errorf("hook %d: unexpected error %v", i, err)
		}
	}
	if !errors.Is(errs[3], ErrQueueFull) {
		t.Errorf("hook 3: expected ErrQueueFull, got %v", errs[3])
	}
	if got := h.Dropped(); got != 1 {
		t.Errorf("Dropped() = %d, want 1", got)
	}

	close(pub.block)
	h.Close()
	if len(pub.messages) != 3 {
		t.Errorf("expected 3 messages after drain, got %d", len(pub.messages))
	}
}

func TestHandler_Close(t *testing.T) {
	h := New(&mockPublisher{}, Config{})
	h.Close()
	h.Close()
	if err := h.OnClientConnect(context.Background(), &handler.Context{}); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed after Close, got %v", err)
	}
}

func TestHandler_BreakerDropsWhileOpen(t *testing.T) {
	pub := &mockPublisher{err: errors.New("connection refused")}
	cb := breaker.New(breaker.Config{MaxFailures: 2, ResetTimeout: time.Hour})
	h := New(pub, Config{Channel: "mud", Breaker: cb, Logger: slog.New(slog.NewTextHandler(&strings.Builder{}, nil))})
	ctx := context.Background()
	hctx := &handler.Context{SessionID: "a"}

	for i := 0; i < 3; i++ {
		if err := h.OnClientConnect(ctx, hctx); err != nil {
			t.Fatalf("call %d: unexpected error %v", i, err)
		}
	}
	h.Close()

	if cb.State() != breaker.StateOpen {
		t.Fatalf("breaker state = %s, want open", cb.State())
	}
	if pub.calls != 2 {
		t.Errorf("publisher calls = %d, want 2", pub.calls)
	}
	if got := h.Failed(); got != 2 {
		t.Errorf("Failed() = %d, want 2", got)
	}
	if got := h.Dropped(); got != 1 {
		t.Errorf("Dropped() = %d, want 1", got)
	}
}
