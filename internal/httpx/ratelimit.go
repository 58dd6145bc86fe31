package httpx

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimitConfig configures RateLimit.
type RateLimitConfig struct {
	RPS   float64       // sustained requests per second per client
	Burst int           // bucket size
	Idle  time.Duration // forget clients idle this long (default: 10m)

	now func() time.Time
}

type client struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

type limiterSet struct {
	mu        sync.Mutex
	clients   map[string]*client
	cfg       RateLimitConfig
	lastSweep time.Time
}

// get returns the limiter for key, dropping idle clients at most once per
// idle period.
func (s *limiterSet) get(key string) *rate.Limiter {
	now := s.cfg.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if now.Sub(s.lastSweep) >= s.cfg.Idle {
		for k, c := range s.clients {
			if now.Sub(c.lastSeen) >= s.cfg.Idle {
				delete(s.clients, k)
			}
		}
		s.lastSweep = now
	}

	c, ok := s.clients[key]
	if !ok {
		c = &client{limiter: rate.NewLimiter(rate.Limit(s.cfg.RPS), s.cfg.Burst)}
		s.clients[key] = c
	}
	c.lastSeen = now
	return c.limiter
}

// RateLimit applies a token bucket per client IP. Rejected requests get 429
// with a Retry-After header.
func RateLimit(cfg RateLimitConfig) Middleware {
	if cfg.RPS <= 0 {
		cfg.RPS = 10
	}
	if cfg.Burst <= 0 {
		cfg.Burst = max(1, int(cfg.RPS))
	}
	if cfg.Idle <= 0 {
		cfg.Idle = 10 * time.Minute
	}
	if cfg.now == nil {
		cfg.now = time.Now
	}

	set := &limiterSet{clients: make(map[string]*client), cfg: cfg, lastSweep: cfg.now()}
	retryAfter := strconv.Itoa(max(1, int(1/cfg.RPS)))

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !set.get(ClientIP(r)).AllowN(cfg.now(), 1) {
				w.Header().Set("Retry-After", retryAfter)
				WriteError(w, http.StatusTooManyRequests, "rate_limited", "too many requests", nil)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
