// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package ratelimit

import (
	"sync"
	"testing"
	"time"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestTokenBucket(t *testing.T) {
	clk := &clock{now: time.Unix(0, 0)}
	tb := newTokenBucket(3, 2, clk.Now)

	for i := 0; i < 3; i++ {
		if !tb.Allow() {
			t.Fatalf("request %d should be allowed", i)
		}
	}
	if tb.Allow() {
		t.Fatal("bucket should be empty")
	}

	clk.Advance(500 * time.Millisecond)
	if got := tb.Available(); got != 1 {
		t.Errorf("Available() = %d after half a second, want 1", got)
	}

	clk.Advance(10 * time.Second)
	if got := tb.Available(); got != 3 {
		t.Errorf("Available() = %d, want capacity 3", got)
	}
	if tb.AllowN(4) {
		t.Error("AllowN beyond capacity should fail")
	}
}

func TestTokenBucket_ZeroRefill(t *testing.T) {
	clk := &clock{now: time.Unix(0, 0)}
	tb := newTokenBucket(1, 0, clk.Now)

	if !tb.Allow() {
		t.Fatal("first request should be allowed")
	}
	clk.Advance(time.Hour)
	if tb.Allow() {
		t.Error("zero refill rate must never refill")
	}
}

func TestLimiter_PerKey(t *testing.T) {
	l := NewLimiter(1, 0, 0)
	defer l.Close()

	if !l.Allow("10.0.0.1") {
		t.Fatal("first accept from 10.0.0.1 should be allowed")
	}
	if l.Allow("10.0.0.1") {
		t.Error("second accept from 10.0.0.1 should be limited")
	}
	if !l.Allow("10.0.0.2") {
		t.Error("other address should have its own bucket")
	}
	if got := l.Stats(); got != 2 {
		t.Errorf("Stats() = %d, want 2", got)
	}

	l.Remove("10.0.0.1")
	if !l.Allow("10.0.0.1") {
		t.Error("removed address should start with a full bucket")
	}
}

func TestLimiter_MaxClients(t *testing.T) {
	l := NewLimiter(5, 1, 2)
	defer l.Close()

	l.Allow("a")
	l.Allow("b")
	if l.Allow("c") {
		t.Error("new address beyond maxClients should be refused")
	}
	if !l.Allow("a") {
		t.Error("tracked address should still be served")
	}
}

func TestLimiter_Cleanup(t *testing.T) {
	clk := &clock{now: time.Unix(0, 0)}
	l := NewLimiter(2, 1, 0)
	defer l.Close()
	l.now = clk.Now

	l.Allow("busy")
	l.Allow("busy")
	l.Allow("idle")

	clk.Advance(time.Second)
	l.cleanup()

	// idle refilled to capacity; busy still has one token missing.
	if got := l.Stats(); got != 1 {
		t.Fatalf("Stats() = %d after cleanup, want 1", got)
	}

	clk.Advance(time.Minute)
	l.cleanup()
	if got := l.Stats(); got != 0 {
		t.Errorf("Stats() = %d, want 0", got)
	}
}

func TestLimiter_CloseTwice(t *testing.T) {
	l := NewLimiter(1, 1, 0)
	l.Close()
	l.Close()
}
