// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package ratelimit limits how fast connections are accepted from one
// remote address, using a token bucket per address.
package ratelimit

import (
	"sync"
	"time"
)

const (
	defaultMaxClients = 10000
	cleanupInterval   = time.Minute
)

// TokenBucket implements the token bucket algorithm for rate limiting.
type TokenBucket struct {
	mu         sync.Mutex
	capacity   int64
	tokens     int64
	refillRate int64 // tokens per second
	lastRefill time.Time
	now        func() time.Time
}

// NewTokenBucket creates a bucket holding at most capacity tokens, refilled
// at refillRate tokens per second. A zero refillRate never refills.
func NewTokenBucket(capacity, refillRate int64) *TokenBucket {
	return newTokenBucket(capacity, refillRate, time.Now)
}

func newTokenBucket(capacity, refillRate int64, now func() time.Time) *TokenBucket {
	return &TokenBucket{
		capacity:   capacity,
		tokens:     capacity,
		refillRate: refillRate,
		lastRefill: now(),
		now:        now,
	}
}

// Allow takes one token if available.
func (tb *TokenBucket) Allow() bool {
	return tb.AllowN(1)
}

// AllowN takes n tokens if available.
func (tb *TokenBucket) AllowN(n int64) bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	tb.refill()
	if tb.tokens >= n {
		tb.tokens -= n
		return true
	}
	return false
}

func (tb *TokenBucket) refill() {
	now := tb.now()
	add := int64(now.Sub(tb.lastRefill).Seconds() * float64(tb.refillRate))
	if add > 0 {
		tb.tokens = min(tb.tokens+add, tb.capacity)
		tb.lastRefill = now
	}
}

// Available returns the number of available tokens.
func (tb *TokenBucket) Available() int64 {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	tb.refill()
	return tb.tokens
}

// full reports whether the bucket has refilled completely. A full bucket
// carries no state worth keeping.
func (tb *TokenBucket) full() bool {
	return tb.Available() >= tb.capacity
}

// Limiter keeps one token bucket per remote address.
type Limiter struct {
	mu         sync.Mutex
	buckets    map[string]*TokenBucket
	capacity   int64
	refillRate int64
	maxClients int
	now        func() time.Time
	ticker     *time.Ticker
	done       chan struct{}
	once       sync.Once
}

// NewLimiter creates a limiter that allows bursts of capacity accepts per
// address, refilled at refillRate per second. At most maxClients addresses
// are tracked at once; new addresses beyond that are refused.
func NewLimiter(capacity, refillRate int64, maxClients int) *Limiter {
	if maxClients <= 0 {
		maxClients = defaultMaxClients
	}
	l := &Limiter{
		buckets:    make(map[string]*TokenBucket),
		capacity:   capacity,
		refillRate: refillRate,
		maxClients: maxClients,
		now:        time.Now,
		ticker:     time.NewTicker(cleanupInterval),
		done:       make(chan struct{}),
	}
	go l.cleanupLoop()
	return l
}

// Allow takes one token from key's bucket.
func (l *Limiter) Allow(key string) bool {
	return l.AllowN(key, 1)
}

// AllowN takes n tokens from key's bucket.
func (l *Limiter) AllowN(key string, n int64) bool {
	l.mu.Lock()
	tb, ok := l.buckets[key]
	if !ok {
		if len(l.buckets) >= l.maxClients {
			l.mu.Unlock()
			return false
		}
		tb = newTokenBucket(l.capacity, l.refillRate, l.now)
		l.buckets[key] = tb
	}
	l.mu.Unlock()

	return tb.AllowN(n)
}

// Remove forgets key's bucket.
func (l *Limiter) Remove(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.buckets, key)
}

// Stats returns the number of tracked addresses.
func (l *Limiter) Stats() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

// Close stops background cleanup. It is safe to call more than once.
func (l *Limiter) Close() {
	l.once.Do(func() {
		l.ticker.Stop()
		close(l.done)
	})
}

func (l *Limiter) cleanupLoop() {
	for {
		select {
		case <-l.ticker.C:
			l.cleanup()
		case <-l.done:
			return
		}
	}
}

// cleanup drops buckets that have refilled completely.
func (l *Limiter) cleanup() {
	l.mu.Lock()
	defer l.mu.Unlock()

	for key, tb := range l.buckets {
		if tb.full() {
			delete(l.buckets, key)
		}
	}
}
