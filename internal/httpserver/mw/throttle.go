package mw

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// ThrottleConfig sizes the per-client limiters in front of the control API
// endpoints that change state.
type ThrottleConfig struct {
	Burst      int           // requests a client may send back to back
	PerMinute  int           // sustained requests per client per minute
	MaxClients int           // tracked clients before the idlest is evicted (default 4096)
	IdleTTL    time.Duration // clients quiet for this long are forgotten (default 15m)
	TrustProxy bool
	Now        func() time.Time
}

type throttledClient struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

type throttle struct {
	cfg   ThrottleConfig
	every rate.Limit

	mu      sync.Mutex
	clients map[string]*throttledClient
	swept   time.Time
}

func newThrottle(cfg ThrottleConfig) *throttle {
	if cfg.Burst < 1 {
		cfg.Burst = 1
	}
	if cfg.PerMinute < 1 {
		cfg.PerMinute = 1
	}
	if cfg.MaxClients <= 0 {
		cfg.MaxClients = 4096
	}
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = 15 * time.Minute
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &throttle{
		cfg:     cfg,
		every:   rate.Limit(float64(cfg.PerMinute) / 60),
		clients: make(map[string]*throttledClient),
		swept:   cfg.Now(),
	}
}

// take spends one token of key's budget. A positive wait means the request is
// refused and nothing was spent.
func (t *throttle) take(key string, now time.Time) (wait time.Duration, remaining int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	c := t.clients[key]
	if c == nil {
		if now.Sub(t.swept) >= t.cfg.IdleTTL || len(t.clients) >= t.cfg.MaxClients {
			t.evictLocked(now)
		}
		c = &throttledClient{lim: rate.NewLimiter(t.every, t.cfg.Burst)}
		t.clients[key] = c
	}
	c.lastSeen = now

	res := c.lim.ReserveN(now, 1)
	if d := res.DelayFrom(now); d > 0 {
		res.CancelAt(now)
		return d, 0
	}
	return 0, int(math.Max(0, c.lim.TokensAt(now)))
}

// evictLocked forgets idle clients, then the least recently seen ones until
// there is room for one more.
func (t *throttle) evictLocked(now time.Time) {
	for key, c := range t.clients {
		if now.Sub(c.lastSeen) > t.cfg.IdleTTL {
			delete(t.clients, key)
		}
	}
	t.swept = now

	for len(t.clients) >= t.cfg.MaxClients {
		var oldest string
		var seen time.Time
		for key, c := range t.clients {
			if oldest == "" || c.lastSeen.Before(seen) {
				oldest, seen = key, c.lastSeen
			}
		}
		delete(t.clients, oldest)
	}
}

func (t *throttle) tracked() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.clients)
}

// Throttle answers 429 with Retry-After once a client has spent its burst.
// Every request through it is counted, so mount it only on the routes that
// change state.
func Throttle(cfg ThrottleConfig) func(http.Handler) http.Handler {
	return newThrottle(cfg).middleware
}

func (t *throttle) middleware(next http.Handler) http.Handler {
	limit := strconv.Itoa(t.cfg.Burst)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		wait, remaining := t.take(ClientIP(r, t.cfg.TrustProxy), t.cfg.Now())

		w.Header().Set("X-RateLimit-Limit", limit)
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
		if wait > 0 {
			w.Header().Set("Retry-After", strconv.Itoa(int(math.Max(1, math.Ceil(wait.Seconds())))))
			http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}
