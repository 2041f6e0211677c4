// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package errors provides structured error handling for mudproxy.
package errors

import (
	"errors"
	"fmt"
)

// Common error types
var (
	// ErrHostConnected indicates a host connection already exists.
	ErrHostConnected = errors.New("host already connected")

	// ErrHostNotConnected indicates there is no host to forward to.
	ErrHostNotConnected = errors.New("host not connected")

	// ErrRejected indicates a handler refused a client connection.
	ErrRejected = errors.New("connection rejected")

	// ErrRateLimited indicates a connection refused by the accept limiter.
	ErrRateLimited = errors.New("rate limit exceeded")
)

// Side values for ProxyError.
const (
	SideClient = "client"
	SideHost   = "host"
)

// ProxyError wraps an error with additional context.
type ProxyError struct {
	Op         string // Operation that failed
	Side       string // client or host
	SessionID  string // Session identifier
	RemoteAddr string // Peer address
	Err        error  // Underlying error
}

// Error implements the error interface.
func (e *ProxyError) Error() string {
	if e.SessionID != "" {
		return fmt.Sprintf("%s %s [%s] %s: %v", e.Side, e.Op, e.SessionID, e.RemoteAddr, e.Err)
	}
	return fmt.Sprintf("%s %s %s: %v", e.Side, e.Op, e.RemoteAddr, e.Err)
}

// Unwrap returns the underlying error.
func (e *ProxyError) Unwrap() error {
	return e.Err
}

// New creates a new ProxyError.
func New(op, side, sessionID, remoteAddr string, err error) error {
	if err == nil {
		return nil
	}
	return &ProxyError{
		Op:         op,
		Side:       side,
		SessionID:  sessionID,
		RemoteAddr: remoteAddr,
		Err:        err,
	}
}

// Wrap wraps an error with context.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Is reports whether any error in err's tree matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's tree that matches target.
func As(err error, target any) bool {
	return errors.As(err, target)
}
