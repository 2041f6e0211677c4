// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package metrics provides Prometheus instrumentation for mudproxy.
//
// All methods are safe to call on a nil *Metrics, so components can be
// instrumented unconditionally.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Label values for DroppedBytes.
const (
	ReasonNotPrimary  = "not_primary"
	ReasonHostAbsent  = "host_absent"
	ReasonWriteFailed = "write_failed"
	ReasonSlowClient  = "slow_client"
)

// Metrics holds all Prometheus metrics for mudproxy.
type Metrics struct {
	// Connection metrics
	ActiveClients  *prometheus.GaugeVec
	ClientsTotal   *prometheus.CounterVec
	HostConnected  prometheus.Gauge
	PrimaryChanges prometheus.Counter

	// Traffic metrics
	Bytes        *prometheus.CounterVec
	DroppedBytes *prometheus.CounterVec

	// Telnet metrics
	Commands             *prometheus.CounterVec
	NegotiationResponses *prometheus.CounterVec

	// Compression metrics
	DecompressionActivations prometheus.Counter
	DecompressionErrors      prometheus.Counter

	// Rate limiter metrics
	RateLimitedAccepts *prometheus.CounterVec
}

// New creates a new Metrics instance registered with reg. A nil reg
// registers with the default Prometheus registry.
func New(namespace string, reg prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "mudproxy"
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)

	return &Metrics{
		ActiveClients: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_clients",
				Help:      "Number of currently connected clients",
			},
			[]string{"protocol"},
		),
		ClientsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "clients_total",
				Help:      "Total number of client connection attempts",
			},
			[]string{"protocol", "status"},
		),
		HostConnected: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "host_connected",
				Help:      "1 while the upstream MUD host is connected",
			},
		),
		PrimaryChanges: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "primary_changes_total",
				Help:      "Total number of primary client changes",
			},
		),
		Bytes: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "bytes_total",
				Help:      "Total bytes read per direction",
			},
			[]string{"direction"},
		),
		DroppedBytes: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "dropped_bytes_total",
				Help:      "Total bytes not forwarded",
			},
			[]string{"reason"},
		),
		Commands: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "telnet_commands_total",
				Help:      "Total Telnet commands seen",
			},
			[]string{"direction", "action"},
		),
		NegotiationResponses: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "negotiation_responses_total",
				Help:      "Total negotiation answers written by the proxy",
			},
			[]string{"rule"},
		),
		DecompressionActivations: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "decompression_activations_total",
				Help:      "Total number of MCCP2 activations",
			},
		),
		DecompressionErrors: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "decompression_errors_total",
				Help:      "Total number of corrupt compressed streams",
			},
		),
		RateLimitedAccepts: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rate_limited_accepts_total",
				Help:      "Total number of connections refused by the accept rate limiter",
			},
			[]string{"protocol"},
		),
	}
}

// ClientConnected records a registered client.
func (m *Metrics) ClientConnected(protocol string) {
	if m == nil {
		return
	}
	m.ActiveClients.WithLabelValues(protocol).Inc()
	m.ClientsTotal.WithLabelValues(protocol, "accepted").Inc()
}

// ClientRejected records a client refused by a handler.
func (m *Metrics) ClientRejected(protocol string) {
	if m == nil {
		return
	}
	m.ClientsTotal.WithLabelValues(protocol, "rejected").Inc()
}

// ClientDisconnected records a removed client.
func (m *Metrics) ClientDisconnected(protocol string) {
	if m == nil {
		return
	}
	m.ActiveClients.WithLabelValues(protocol).Dec()
}

// SetHostConnected records the host connection state.
func (m *Metrics) SetHostConnected(connected bool) {
	if m == nil {
		return
	}
	if connected {
		m.HostConnected.Set(1)
		return
	}
	m.HostConnected.Set(0)
}

// PrimaryChanged records a primary election.
func (m *Metrics) PrimaryChanged() {
	if m == nil {
		return
	}
	m.PrimaryChanges.Inc()
}

// Read records n bytes read in direction.
func (m *Metrics) Read(direction string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.Bytes.WithLabelValues(direction).Add(float64(n))
}

// Dropped records n bytes that were not forwarded.
func (m *Metrics) Dropped(reason string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.DroppedBytes.WithLabelValues(reason).Add(float64(n))
}

// Command records one Telnet command and what was done with it.
func (m *Metrics) Command(direction, action string) {
	if m == nil {
		return
	}
	m.Commands.WithLabelValues(direction, action).Inc()
}

// Answered records a negotiation answer written by rule.
func (m *Metrics) Answered(rule string) {
	if m == nil {
		return
	}
	m.NegotiationResponses.WithLabelValues(rule).Inc()
}

// DecompressionStarted records an MCCP2 activation.
func (m *Metrics) DecompressionStarted() {
	if m == nil {
		return
	}
	m.DecompressionActivations.Inc()
}

// DecompressionFailed records a corrupt compressed stream.
func (m *Metrics) DecompressionFailed() {
	if m == nil {
		return
	}
	m.DecompressionErrors.Inc()
}

// RateLimited records a refused accept.
func (m *Metrics) RateLimited(protocol string) {
	if m == nil {
		return
	}
	m.RateLimitedAccepts.WithLabelValues(protocol).Inc()
}
