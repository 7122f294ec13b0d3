package api

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"tileworld/internal/config"
)

func TestClientIP(t *testing.T) {
	tests := []struct {
		name       string
		xff        string
		realIP     string
		remote     string
		trustProxy bool
		want       string
	}{
		{"forwarded chain", "203.0.113.7, 10.0.0.1", "", "10.0.0.1:5000", true, "203.0.113.7"},
		{"single forwarded", "203.0.113.8", "", "10.0.0.1:5000", true, "203.0.113.8"},
		{"real ip", "", "198.51.100.2", "10.0.0.1:5000", true, "198.51.100.2"},
		{"empty forwarded entry", " , 10.0.0.2", "198.51.100.3", "10.0.0.1:5000", true, "198.51.100.3"},
		{"untrusted headers ignored", "203.0.113.7", "198.51.100.2", "192.0.2.9:80", false, "192.0.2.9"},
		{"remote addr", "", "", "192.0.2.1:1234", false, "192.0.2.1"},
		{"remote without port", "", "", "192.0.2.5", false, "192.0.2.5"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", "/", nil)
			r.RemoteAddr = tt.remote
			if tt.xff != "" {
				r.Header.Set("X-Forwarded-For", tt.xff)
			}
			if tt.realIP != "" {
				r.Header.Set("X-Real-IP", tt.realIP)
			}
			if got := ClientIP(r, tt.trustProxy); got != tt.want {
				t.Errorf("Expected %s, got %s", tt.want, got)
			}
		})
	}
}

func TestIPRateLimiterPerIP(t *testing.T) {
	rl := NewIPRateLimiter(RateLimitConfig{RequestsPerSecond: 1, Burst: 2, CleanupInterval: time.Hour})
	defer rl.Stop()

	if !rl.Allow("a") || !rl.Allow("a") {
		t.Fatal("Burst of 2 should be allowed")
	}
	if rl.Allow("a") {
		t.Error("Third request should be limited")
	}
	if !rl.Allow("b") {
		t.Error("Other IPs have their own bucket")
	}

	stats := rl.Stats()
	if stats.Allowed != 3 || stats.Rejected != 1 || stats.Tracked != 2 {
		t.Errorf("Expected 3 allowed, 1 rejected, 2 tracked, got %+v", stats)
	}
}

func TestIPRateLimiterCost(t *testing.T) {
	rl := NewIPRateLimiter(RateLimitConfig{RequestsPerSecond: 0.001, Burst: 12, CleanupInterval: time.Hour})
	defer rl.Stop()

	if !rl.AllowN("a", costMap) {
		t.Fatal("First map render should fit the burst")
	}
	if rl.AllowN("a", costMap) {
		t.Error("Second map render should exceed the remaining budget")
	}
	if !rl.AllowN("a", 2) {
		t.Error("Cheap lookups should still use the remaining tokens")
	}

	// A cost above the burst is capped instead of never passing
	if !rl.AllowN("b", 100) {
		t.Error("Cost above burst should be capped to the burst")
	}
}

func TestIPRateLimiterSweep(t *testing.T) {
	rl := NewIPRateLimiter(RateLimitConfig{RequestsPerSecond: 10, Burst: 10, CleanupInterval: time.Minute})
	defer rl.Stop()

	rl.Allow("idle")
	rl.Allow("busy")

	if n := rl.sweep(time.Now()); n != 0 {
		t.Errorf("Fresh buckets should survive, %d removed", n)
	}
	if n := rl.sweep(time.Now().Add(3 * time.Minute)); n != 2 {
		t.Errorf("Expected 2 idle buckets removed, got %d", n)
	}
	if rl.Stats().Tracked != 0 {
		t.Errorf("Expected no tracked buckets, got %d", rl.Stats().Tracked)
	}
}

func TestRateLimitCostMiddleware(t *testing.T) {
	rl := NewIPRateLimiter(RateLimitConfig{RequestsPerSecond: 0.001, Burst: 10, CleanupInterval: time.Hour})
	defer rl.Stop()

	h := rl.Cost(costMap)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	codes := make([]int, 2)
	for i := range codes {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest("GET", "/api/world/map.png", nil)
		req.RemoteAddr = "192.0.2.1:1000"
		h.ServeHTTP(rec, req)
		codes[i] = rec.Code
	}
	if codes[0] != http.StatusOK || codes[1] != http.StatusTooManyRequests {
		t.Errorf("Expected 200 then 429, got %v", codes)
	}
}

func TestRateLimitFromServer(t *testing.T) {
	cfg := config.DefaultServer()
	cfg.HTTPRatePerSec = 3
	cfg.HTTPRateBurst = 6
	cfg.TrustProxy = true

	rl := RateLimitFromServer(cfg)
	if rl.RequestsPerSecond != 3 || rl.Burst != 6 || !rl.TrustProxy {
		t.Errorf("Unexpected limiter config %+v", rl)
	}
	if rl.CleanupInterval != DefaultRateLimitConfig.CleanupInterval {
		t.Errorf("Expected default cleanup interval, got %v", rl.CleanupInterval)
	}
}

func TestConnLimiter(t *testing.T) {
	c := newConnLimiter(2)

	if !c.Acquire("ip") || !c.Acquire("ip") {
		t.Fatal("Two sessions should be allowed")
	}
	if c.Acquire("ip") {
		t.Error("Third session should be refused")
	}
	c.Release("ip")
	if c.Open("ip") != 1 {
		t.Errorf("Expected 1 open session after release, got %d", c.Open("ip"))
	}
	if !c.Acquire("ip") {
		t.Error("Released slot should be reusable")
	}

	c.Release("ip")
	c.Release("ip")
	if len(c.open) != 0 {
		t.Errorf("Addresses with no sessions should be forgotten, got %v", c.open)
	}
}

func TestSessionLimiter(t *testing.T) {
	l := newSessionLimiter(5, 1)
	allowed := 0
	for i := 0; i < 20; i++ {
		if l.Allow() {
			allowed++
		}
	}
	// Burst is raised to the per-second rate
	if allowed != 5 {
		t.Errorf("Expected 5 immediate messages, got %d", allowed)
	}

	unlimited := newSessionLimiter(0, 0)
	for i := 0; i < 100; i++ {
		if !unlimited.Allow() {
			t.Fatal("A zero rate means unlimited")
		}
	}
}
