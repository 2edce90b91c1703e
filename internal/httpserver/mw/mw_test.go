package mw

import (
	"net/http"
	"net/http/httptest"
	"net/netip"
	"testing"
	"time"
)

func TestClientIP(t *testing.T) {
	tests := []struct {
		name       string
		remote     string
		xff        string
		realIP     string
		trustProxy bool
		expected   string
	}{
		{name: "socket peer", remote: "192.0.2.1:4000", expected: "192.0.2.1"},
		{name: "xff ignored without trust", remote: "192.0.2.1:4000", xff: "10.1.1.1", expected: "192.0.2.1"},
		{name: "xff first entry", remote: "192.0.2.1:4000", xff: "10.1.1.1, 172.16.0.1", trustProxy: true, expected: "10.1.1.1"},
		{name: "real ip fallback", remote: "192.0.2.1:4000", realIP: "10.2.2.2", trustProxy: true, expected: "10.2.2.2"},
		{name: "remote without port", remote: "192.0.2.9", expected: "192.0.2.9"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			r.RemoteAddr = tt.remote
			if tt.xff != "" {
				r.Header.Set("X-Forwarded-For", tt.xff)
			}
			if tt.realIP != "" {
				r.Header.Set("X-Real-IP", tt.realIP)
			}
			if got := ClientIP(r, tt.trustProxy); got != tt.expected {
				t.Errorf("ClientIP() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestIPMatcher(t *testing.T) {
	m := newIPMatcher([]netip.Prefix{
		netip.MustParsePrefix("10.0.0.0/8"),
		netip.MustParsePrefix("::1/128"),
	})

	tests := map[string]bool{
		"10.20.30.40":     true,
		"::ffff:10.0.0.1": true,
		"::1":             true,
		"192.168.1.1":     false,
		"not-an-ip":       false,
	}
	for ip, want := range tests {
		if got := m.Allow(ip); got != want {
			t.Errorf("Allow(%q) = %v, want %v", ip, got, want)
		}
	}
}

func TestThrottleRefills(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	h := Throttle(ThrottleConfig{Burst: 1, PerMinute: 60, Now: func() time.Time { return now }})(
		http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNoContent) }))

	call := func() *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		r := httptest.NewRequest(http.MethodPost, "/", nil)
		r.RemoteAddr = "192.0.2.1:1234"
		h.ServeHTTP(rec, r)
		return rec
	}

	if rec := call(); rec.Code != http.StatusNoContent {
		t.Fatalf("first call = %d, want 204", rec.Code)
	}
	rec := call()
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("second call = %d, want 429", rec.Code)
	}
	if rec.Header().Get("Retry-After") != "1" {
		t.Errorf("Retry-After = %q, want 1", rec.Header().Get("Retry-After"))
	}

	now = now.Add(time.Second)
	if rec := call(); rec.Code != http.StatusNoContent {
		t.Errorf("call after refill = %d, want 204", rec.Code)
	}
}

func TestThrottleRefusalSpendsNothing(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	th := newThrottle(ThrottleConfig{Burst: 2, PerMinute: 60, Now: func() time.Time { return now }})

	for i := 0; i < 2; i++ {
		if wait, _ := th.take("a", now); wait != 0 {
			t.Fatalf("take %d refused, wait %v", i, wait)
		}
	}
	for i := 0; i < 5; i++ {
		if wait, _ := th.take("a", now); wait != time.Second {
			t.Fatalf("refused take wait = %v, want 1s", wait)
		}
	}
	if wait, _ := th.take("a", now.Add(time.Second)); wait != 0 {
		t.Errorf("take after one second refused, wait %v", wait)
	}
	if wait, _ := th.take("b", now); wait != 0 {
		t.Errorf("other client shares the budget, wait %v", wait)
	}
}

func TestThrottleEvictsIdleClients(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	th := newThrottle(ThrottleConfig{Burst: 1, PerMinute: 1, MaxClients: 2, IdleTTL: time.Minute})

	th.take("a", now)
	th.take("b", now.Add(time.Second))
	th.take("c", now.Add(2*time.Second))
	if got := th.tracked(); got != 2 {
		t.Fatalf("tracked = %d, want 2", got)
	}
	if wait, _ := th.take("a", now.Add(3*time.Second)); wait != 0 {
		t.Errorf("evicted client should start with a fresh burst, wait %v", wait)
	}

	th.take("d", now.Add(2*time.Hour))
	if got := th.tracked(); got != 1 {
		t.Errorf("tracked after idle sweep = %d, want 1", got)
	}
}
