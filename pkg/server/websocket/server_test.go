// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package websocket

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	mperrors "github.com/absmach/mudproxy/pkg/errors"
	"github.com/absmach/mudproxy/pkg/handler"
	"github.com/absmach/mudproxy/pkg/ratelimit"
	"github.com/gorilla/websocket"
)

type echoHandler struct {
	mu       sync.Mutex
	contexts []*handler.Context
}

func (h *echoHandler) ServeConn(ctx context.Context, conn net.Conn, hctx *handler.Context) error {
	h.mu.Lock()
	h.contexts = append(h.contexts, hctx)
	h.mu.Unlock()

	_, err := io.Copy(conn, conn)
	return err
}

func (h *echoHandler) served() []*handler.Context {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]*handler.Context(nil), h.contexts...)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

func wsURL(addr string) string {
	return "ws://" + strings.TrimPrefix(addr, "http://")
}

func TestServer_ServeHTTP(t *testing.T) {
	h := &echoHandler{}
	srv := httptest.NewServer(New(Config{Logger: testLogger()}, h))
	defer srv.Close()

	ws, _, err := websocket.DefaultDialer.Dial(wsURL(srv.URL), nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer ws.Close()

	// Text and binary messages form one stream; replies are binary.
	if err := ws.WriteMessage(websocket.TextMessage, []byte("north")); err != nil {
		t.Fatalf("WriteMessage() error = %v", err)
	}
	if err := ws.WriteMessage(websocket.BinaryMessage, []byte{0xFF, 0xFB, 0x18}); err != nil {
		t.Fatalf("WriteMessage() error = %v", err)
	}

	var got []byte
	ws.SetReadDeadline(time.Now().Add(5 * time.Second))
	for len(got) < 8 {
		mt, msg, err := ws.ReadMessage()
		if err != nil {
			t.Fatalf("ReadMessage() error = %v", err)
		}
		if mt != websocket.BinaryMessage {
			t.Errorf("message type = %d, want binary", mt)
		}
		got = append(got, msg...)
	}
	if want := "north\xff\xfb\x18"; string(got) != want {
		t.Errorf("got %q, want %q", got, want)
	}

	served := h.served()
	if len(served) != 1 {
		t.Fatalf("expected 1 served connection, got %d", len(served))
	}
	if served[0].Protocol != Protocol {
		t.Errorf("Protocol = %q, want %q", served[0].Protocol, Protocol)
	}
	if served[0].SessionID == "" {
		t.Error("expected a session ID")
	}
}

func TestServer_RejectsPlainHTTP(t *testing.T) {
	srv := httptest.NewServer(New(Config{Logger: testLogger()}, &echoHandler{}))
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusBadRequest)
	}
}

func TestServer_RateLimit(t *testing.T) {
	limiter := ratelimit.NewLimiter(1, 0, 0)
	defer limiter.Close()

	srv := httptest.NewServer(New(Config{RateLimiter: limiter, Logger: testLogger()}, &echoHandler{}))
	defer srv.Close()

	first, _, err := websocket.DefaultDialer.Dial(wsURL(srv.URL), nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer first.Close()

	_, resp, err := websocket.DefaultDialer.Dial(wsURL(srv.URL), nil)
	if err == nil {
		t.Fatal("expected second dial to be refused")
	}
	if resp == nil || resp.StatusCode != http.StatusTooManyRequests {
		t.Errorf("expected status %d, got %v", http.StatusTooManyRequests, resp)
	}
}

func TestServer_ListenAndCancel(t *testing.T) {
	h := &echoHandler{}
	s := New(Config{Address: "127.0.0.1:0", ShutdownTimeout: 5 * time.Second, Logger: testLogger()}, h)

	ctx, cancel := context.WithCancel(context.Background())
	serverErr := make(chan error, 1)
	go func() {
		serverErr <- s.Listen(ctx)
	}()

	addrCtx, addrCancel := context.WithTimeout(ctx, 2*time.Second)
	defer addrCancel()
	addr := s.Addr(addrCtx)
	if addr == nil {
		cancel()
		t.Fatal("server did not start")
	}

	ws, _, err := websocket.DefaultDialer.Dial("ws://"+addr.String(), nil)
	if err != nil {
		cancel()
		t.Fatalf("Dial() error = %v", err)
	}
	defer ws.Close()

	if err := ws.WriteMessage(websocket.BinaryMessage, []byte("hi")); err != nil {
		t.Fatalf("WriteMessage() error = %v", err)
	}
	ws.SetReadDeadline(time.Now().Add(5 * time.Second))
	if _, _, err := ws.ReadMessage(); err != nil {
		t.Fatalf("ReadMessage() error = %v", err)
	}

	cancel()

	if _, _, err := ws.ReadMessage(); err == nil {
		t.Error("expected connection to be closed on cancellation")
	}

	select {
	case err := <-serverErr:
		if err != nil {
			t.Errorf("Listen() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Error("server did not shut down")
	}
}

func TestServer_AllowReportsRateLimited(t *testing.T) {
	limiter := ratelimit.NewLimiter(1, 0, 0)
	defer limiter.Close()
	s := New(Config{RateLimiter: limiter, Logger: testLogger()}, &echoHandler{})

	if err := s.allow("10.0.0.1:5000"); err != nil {
		t.Fatalf("first upgrade error = %v", err)
	}
	if err := s.allow("10.0.0.1:5001"); !errors.Is(err, mperrors.ErrRateLimited) {
		t.Errorf("second upgrade error = %v, want ErrRateLimited", err)
	}
}
