// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics_Clients(t *testing.T) {
	m := New("test", prometheus.NewRegistry())

	m.ClientConnected("telnet")
	m.ClientConnected("telnet")
	m.ClientConnected("websocket")
	m.ClientDisconnected("telnet")
	m.ClientRejected("telnet")

	if got := testutil.ToFloat64(m.ActiveClients.WithLabelValues("telnet")); got != 1 {
		t.Errorf("active telnet clients = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.ActiveClients.WithLabelValues("websocket")); got != 1 {
		t.Errorf("active websocket clients = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.ClientsTotal.WithLabelValues("telnet", "accepted")); got != 2 {
		t.Errorf("accepted = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.ClientsTotal.WithLabelValues("telnet", "rejected")); got != 1 {
		t.Errorf("rejected = %v, want 1", got)
	}
}

func TestMetrics_Traffic(t *testing.T) {
	m := New("test", prometheus.NewRegistry())

	m.Read("upstream", 10)
	m.Read("upstream", 0)
	m.Read("downstream", 5)
	m.Dropped(ReasonNotPrimary, 3)
	m.Dropped(ReasonHostAbsent, -1)

	if got := testutil.ToFloat64(m.Bytes.WithLabelValues("upstream")); got != 10 {
		t.Errorf("upstream bytes = %v, want 10", got)
	}
	if got := testutil.ToFloat64(m.Bytes.WithLabelValues("downstream")); got != 5 {
		t.Errorf("downstream bytes = %v, want 5", got)
	}
	if got := testutil.ToFloat64(m.DroppedBytes.WithLabelValues(ReasonNotPrimary)); got != 3 {
		t.Errorf("dropped bytes = %v, want 3", got)
	}
	if got := testutil.CollectAndCount(m.DroppedBytes); got != 1 {
		t.Errorf("dropped series = %d, want 1", got)
	}
}

func TestMetrics_Negotiation(t *testing.T) {
	m := New("test", prometheus.NewRegistry())

	m.Command("downstream", "answer")
	m.Command("downstream", "answer")
	m.Answered("mccp2")
	m.DecompressionStarted()
	m.DecompressionFailed()
	m.SetHostConnected(true)
	m.PrimaryChanged()

	if got := testutil.ToFloat64(m.Commands.WithLabelValues("downstream", "answer")); got != 2 {
		t.Errorf("commands = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.NegotiationResponses.WithLabelValues("mccp2")); got != 1 {
		t.Errorf("responses = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.DecompressionActivations); got != 1 {
		t.Errorf("activations = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.DecompressionErrors); got != 1 {
		t.Errorf("errors = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.HostConnected); got != 1 {
		t.Errorf("host connected = %v, want 1", got)
	}
	m.SetHostConnected(false)
	if got := testutil.ToFloat64(m.HostConnected); got != 0 {
		t.Errorf("host connected = %v, want 0", got)
	}
	if got := testutil.ToFloat64(m.PrimaryChanges); got != 1 {
		t.Errorf("primary changes = %v, want 1", got)
	}
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	m.ClientConnected("telnet")
	m.ClientRejected("telnet")
	m.ClientDisconnected("telnet")
	m.SetHostConnected(true)
	m.PrimaryChanged()
	m.Read("upstream", 1)
	m.Dropped(ReasonHostAbsent, 1)
	m.Command("upstream", "forward")
	m.Answered("naws")
	m.DecompressionStarted()
	m.DecompressionFailed()
	m.RateLimited("telnet")
}

func TestNew_DefaultNamespace(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New("", reg)
	m.RateLimited("telnet")

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	found := false
	for _, f := range families {
		if f.GetName() == "mudproxy_rate_limited_accepts_total" {
			found = true
		}
	}
	if !found {
		t.Error("expected mudproxy_rate_limited_accepts_total to be registered")
	}
}
