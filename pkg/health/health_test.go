// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

var errDown = errors.New("host not connected")

func TestChecker_Status(t *testing.T) {
	cases := []struct {
		name   string
		checks map[string]error
		want   Status
	}{
		{name: "no checks", checks: map[string]error{}, want: StatusHealthy},
		{name: "all pass", checks: map[string]error{"host": nil, "redis": nil}, want: StatusHealthy},
		{name: "one fails", checks: map[string]error{"host": errDown, "redis": nil}, want: StatusDegraded},
		{name: "all fail", checks: map[string]error{"host": errDown}, want: StatusUnhealthy},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			checker := NewChecker(time.Minute)
			for name, err := range c.checks {
				checker.Register(name, func(context.Context) error { return err })
			}
			status, checks := checker.Health(context.Background())
			if status != c.want {
				t.Errorf("status = %s, want %s", status, c.want)
			}
			if len(checks) != len(c.checks) {
				t.Errorf("got %d checks, want %d", len(checks), len(c.checks))
			}
			for i := 1; i < len(checks); i++ {
				if checks[i-1].Name > checks[i].Name {
					t.Errorf("checks not sorted: %q before %q", checks[i-1].Name, checks[i].Name)
				}
			}
		})
	}
}

func TestChecker_Cache(t *testing.T) {
	now := time.Unix(0, 0)
	checker := NewChecker(10 * time.Second)
	checker.now = func() time.Time { return now }

	calls := 0
	checker.Register("host", func(context.Context) error {
		calls++
		return nil
	})

	checker.Health(context.Background())
	checker.Health(context.Background())
	if calls != 1 {
		t.Errorf("check ran %d times within TTL, want 1", calls)
	}

	now = now.Add(10 * time.Second)
	checker.Health(context.Background())
	if calls != 2 {
		t.Errorf("check ran %d times after TTL, want 2", calls)
	}
}

func TestHandlers(t *testing.T) {
	connected := false
	checker := NewChecker(time.Nanosecond)
	checker.Register("host", func(context.Context) error {
		if !connected {
			return errDown
		}
		return nil
	})
	checker.Register("redis", func(context.Context) error { return nil })
	mux := checker.Router()

	cases := []struct {
		name       string
		path       string
		connected  bool
		wantCode   int
		wantStatus Status
	}{
		{name: "health degraded", path: "/health", wantCode: http.StatusOK, wantStatus: StatusDegraded},
		{name: "ready degraded", path: "/ready", wantCode: http.StatusServiceUnavailable, wantStatus: StatusDegraded},
		{name: "ready healthy", path: "/ready", connected: true, wantCode: http.StatusOK, wantStatus: StatusHealthy},
		{name: "live", path: "/live", wantCode: http.StatusOK},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			connected = c.connected
			time.Sleep(time.Millisecond)

			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, c.path, nil))

			if rec.Code != c.wantCode {
				t.Errorf("code = %d, want %d", rec.Code, c.wantCode)
			}
			if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
				t.Errorf("Content-Type = %q", ct)
			}
			if c.wantStatus == "" {
				return
			}
			var body response
			if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if body.Status != c.wantStatus {
				t.Errorf("status = %s, want %s", body.Status, c.wantStatus)
			}
		})
	}
}

func TestHealth_UnhealthyIs503(t *testing.T) {
	checker := NewChecker(time.Minute)
	checker.Register("host", func(context.Context) error { return errDown })

	rec := httptest.NewRecorder()
	checker.HTTPHandler()(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("code = %d, want 503", rec.Code)
	}
}

func TestRouter_MethodNotAllowed(t *testing.T) {
	rec := httptest.NewRecorder()
	NewChecker(0).Router().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/live", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("code = %d, want 405", rec.Code)
	}
}
