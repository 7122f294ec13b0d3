package api

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"tileworld/internal/config"
)

// RateLimitConfig configures the per-IP limiter in front of the HTTP API.
// Budgets are in request tokens; expensive endpoints spend more than one.
type RateLimitConfig struct {
	RequestsPerSecond float64
	Burst             int
	CleanupInterval   time.Duration // buckets idle for two intervals are swept
	TrustProxy        bool          // read X-Forwarded-For / X-Real-IP
}

// DefaultRateLimitConfig fits a dashboard polling /api/state a few times a
// second plus an occasional map render.
var DefaultRateLimitConfig = RateLimitConfig{
	RequestsPerSecond: 20,
	Burst:             40,
	CleanupInterval:   5 * time.Minute,
}

// Token cost per request
const (
	costLookup  = 1
	costHistory = 4  // SQLite query
	costMap     = 10 // terrain walk plus PNG encode
)

// RateLimitFromServer derives the HTTP limiter settings from server config.
func RateLimitFromServer(cfg config.ServerConfig) RateLimitConfig {
	rl := DefaultRateLimitConfig
	if cfg.HTTPRatePerSec > 0 {
		rl.RequestsPerSecond = cfg.HTTPRatePerSec
	}
	if cfg.HTTPRateBurst > 0 {
		rl.Burst = cfg.HTTPRateBurst
	}
	rl.TrustProxy = cfg.TrustProxy
	return rl
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// IPRateLimiter is a token bucket per client address.
type IPRateLimiter struct {
	cfg RateLimitConfig

	mu       sync.Mutex
	visitors map[string]*visitor

	stopChan chan struct{}
	stopOnce sync.Once

	allowed  atomic.Uint64
	rejected atomic.Uint64
}

// RateLimitStats is reported under /api/stats.
type RateLimitStats struct {
	Allowed  uint64 `json:"allowed"`
	Rejected uint64 `json:"rejected"`
	Tracked  int    `json:"tracked"`
}

// NewIPRateLimiter creates a limiter and starts its sweeper.
func NewIPRateLimiter(cfg RateLimitConfig) *IPRateLimiter {
	if cfg.Burst < 1 {
		cfg.Burst = 1
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = DefaultRateLimitConfig.CleanupInterval
	}
	rl := &IPRateLimiter{
		cfg:      cfg,
		visitors: make(map[string]*visitor),
		stopChan: make(chan struct{}),
	}
	go rl.cleanupLoop()
	return rl
}

// Stop ends the sweeper.
func (rl *IPRateLimiter) Stop() {
	rl.stopOnce.Do(func() {
		close(rl.stopChan)
	})
}

// AllowN spends n tokens from ip's bucket. Costs above the burst are
// capped so an expensive endpoint is slow, never unreachable.
func (rl *IPRateLimiter) AllowN(ip string, n int) bool {
	if n > rl.cfg.Burst {
		n = rl.cfg.Burst
	}
	now := time.Now()

	rl.mu.Lock()
	v, ok := rl.visitors[ip]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(rate.Limit(rl.cfg.RequestsPerSecond), rl.cfg.Burst)}
		rl.visitors[ip] = v
	}
	v.lastSeen = now
	ok = v.limiter.AllowN(now, n)
	rl.mu.Unlock()

	if ok {
		rl.allowed.Add(1)
	} else {
		rl.rejected.Add(1)
	}
	return ok
}

// Allow spends one token.
func (rl *IPRateLimiter) Allow(ip string) bool {
	return rl.AllowN(ip, costLookup)
}

// Middleware limits every request at the lookup cost.
func (rl *IPRateLimiter) Middleware(next http.Handler) http.Handler {
	return rl.Cost(costLookup)(next)
}

// Cost returns middleware that charges n tokens per request.
func (rl *IPRateLimiter) Cost(n int) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !rl.AllowN(ClientIP(r, rl.cfg.TrustProxy), n) {
				RecordConnectionRejected("rate_limit")
				w.Header().Set("Retry-After", "1")
				http.Error(w, "Too Many Requests", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (rl *IPRateLimiter) cleanupLoop() {
	ticker := time.NewTicker(rl.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rl.stopChan:
			return
		case now := <-ticker.C:
			rl.sweep(now)
		}
	}
}

// sweep drops buckets idle for two cleanup intervals.
func (rl *IPRateLimiter) sweep(now time.Time) int {
	cutoff := now.Add(-2 * rl.cfg.CleanupInterval)
	rl.mu.Lock()
	defer rl.mu.Unlock()
	removed := 0
	for ip, v := range rl.visitors {
		if v.lastSeen.Before(cutoff) {
			delete(rl.visitors, ip)
			removed++
		}
	}
	return removed
}

// Stats returns limiter counters.
func (rl *IPRateLimiter) Stats() RateLimitStats {
	rl.mu.Lock()
	tracked := len(rl.visitors)
	rl.mu.Unlock()
	return RateLimitStats{
		Allowed:  rl.allowed.Load(),
		Rejected: rl.rejected.Load(),
		Tracked:  tracked,
	}
}

// ClientIP returns the request's client address. Forwarding headers are
// spoofable, so they are read only when trustProxy is set.
func ClientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			if first = strings.TrimSpace(first); first != "" {
				return first
			}
		}
		if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
			return xri
		}
	}
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}

// connLimiter caps concurrent game sessions per client address.
type connLimiter struct {
	mu    sync.Mutex
	perIP int
	open  map[string]int
}

func newConnLimiter(perIP int) *connLimiter {
	return &connLimiter{perIP: perIP, open: make(map[string]int)}
}

// Acquire reserves a session slot for ip.
func (c *connLimiter) Acquire(ip string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.open[ip] >= c.perIP {
		return false
	}
	c.open[ip]++
	return true
}

// Release frees a slot taken by Acquire.
func (c *connLimiter) Release(ip string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if n := c.open[ip]; n > 1 {
		c.open[ip] = n - 1
	} else {
		delete(c.open, ip)
	}
}

// Open returns the sessions currently held by ip.
func (c *connLimiter) Open(ip string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.open[ip]
}

// DefaultAllowedOrigins are accepted for the browser debug pages and the
// websocket endpoint when no CORS origins are configured.
var DefaultAllowedOrigins = []string{
	"http://localhost",
	"http://127.0.0.1",
}

// OriginChecker validates websocket Origin headers.
type OriginChecker struct {
	exact    map[string]struct{}
	suffixes []string
}

// NewOriginChecker builds a checker. Entries of the form "https://*.example.com"
// match any subdomain; entries ending in ":*" match any port.
func NewOriginChecker(origins []string) *OriginChecker {
	if len(origins) == 0 {
		origins = DefaultAllowedOrigins
	}
	oc := &OriginChecker{exact: make(map[string]struct{}, len(origins))}
	for _, o := range origins {
		switch {
		case strings.HasSuffix(o, ":*"):
			oc.suffixes = append(oc.suffixes, "prefix:"+strings.TrimSuffix(o, "*"))
			oc.exact[strings.TrimSuffix(o, ":*")] = struct{}{}
		case strings.Contains(o, "://*."):
			scheme := o[:strings.Index(o, "://")+3]
			oc.suffixes = append(oc.suffixes, "suffix:"+scheme+"|"+o[len(scheme)+1:])
		default:
			oc.exact[o] = struct{}{}
		}
	}
	return oc
}

// Allowed reports whether an origin may open a session. Requests without an
// Origin header (native clients, bots) are allowed.
func (oc *OriginChecker) Allowed(origin string) bool {
	if origin == "" {
		return true
	}
	if _, ok := oc.exact[origin]; ok {
		return true
	}
	// Default localhost entries accept any port
	for _, local := range DefaultAllowedOrigins {
		if _, ok := oc.exact[local]; ok && strings.HasPrefix(origin, local+":") {
			return true
		}
	}
	for _, rule := range oc.suffixes {
		switch {
		case strings.HasPrefix(rule, "prefix:"):
			if strings.HasPrefix(origin, rule[len("prefix:"):]) {
				return true
			}
		case strings.HasPrefix(rule, "suffix:"):
			parts := strings.SplitN(rule[len("suffix:"):], "|", 2)
			if strings.HasPrefix(origin, parts[0]) && strings.HasSuffix(origin, parts[1]) {
				return true
			}
		}
	}
	return false
}

// newSessionLimiter caps how fast one session may push messages into the
// simulation.
func newSessionLimiter(perSec, burst int) *rate.Limiter {
	if perSec <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	if burst < perSec {
		burst = perSec
	}
	return rate.NewLimiter(rate.Limit(perSec), burst)
}
