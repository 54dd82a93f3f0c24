package middleware

import (
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/forgo/queuedesk/internal/model"
)

// RateLimiter keeps one token bucket per caller. A caller is an acting user
// within a community, so an adapter speaking for many users in many guilds
// never drains one shared bucket.
type RateLimiter struct {
	mu       sync.Mutex
	now      func() time.Time
	callers  map[string]*caller
	limit    rate.Limit
	perWin   int
	burst    int
	idle     time.Duration
	stop     chan struct{}
	stopOnce sync.Once
}

type caller struct {
	bucket   *rate.Limiter
	lastSeen time.Time
}

// RateLimitConfig holds rate limiter configuration
type RateLimitConfig struct {
	Rate   int           // Requests per window (default 100)
	Window time.Duration // Time window (default 1 minute)
	Burst  int           // Requests allowed back to back (default Rate)
	// Idle drops a caller's bucket after this long without requests and is
	// also the sweep interval (default 5 minutes)
	Idle time.Duration
}

// RateDecision is the limiter's answer for one request
type RateDecision struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
	// Reset is when the caller's bucket will be full again
	Reset time.Time
}

// NewRateLimiter creates a limiter and starts its idle sweep
func NewRateLimiter(cfg RateLimitConfig) *RateLimiter {
	rl := newRateLimiter(cfg, time.Now)
	go rl.sweepLoop()
	return rl
}

func newRateLimiter(cfg RateLimitConfig, now func() time.Time) *RateLimiter {
	if cfg.Rate <= 0 {
		cfg.Rate = 100
	}
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}
	if cfg.Burst <= 0 {
		cfg.Burst = cfg.Rate
	}
	if cfg.Idle <= 0 {
		cfg.Idle = 5 * time.Minute
	}
	return &RateLimiter{
		now:     now,
		callers: make(map[string]*caller),
		limit:   rate.Limit(float64(cfg.Rate) / cfg.Window.Seconds()),
		perWin:  cfg.Rate,
		burst:   cfg.Burst,
		idle:    cfg.Idle,
		stop:    make(chan struct{}),
	}
}

// Stop ends the idle sweep
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stop) })
}

func (rl *RateLimiter) sweepLoop() {
	ticker := time.NewTicker(rl.idle)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.sweep()
		case <-rl.stop:
			return
		}
	}
}

func (rl *RateLimiter) sweep() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := rl.now().Add(-rl.idle)
	for key, c := range rl.callers {
		if c.lastSeen.Before(cutoff) {
			delete(rl.callers, key)
		}
	}
}

// Allow takes one token from key's bucket if one is available
func (rl *RateLimiter) Allow(key string) RateDecision {
	rl.mu.Lock()
	now := rl.now()
	c, ok := rl.callers[key]
	if !ok {
		c = &caller{bucket: rate.NewLimiter(rl.limit, rl.burst)}
		rl.callers[key] = c
	}
	c.lastSeen = now
	rl.mu.Unlock()

	allowed := c.bucket.AllowN(now, 1)
	tokens := c.bucket.TokensAt(now)
	d := RateDecision{
		Allowed:   allowed,
		Remaining: int(math.Max(0, math.Floor(tokens))),
		Reset:     now.Add(rl.refill(float64(rl.burst) - tokens)),
	}
	if !allowed {
		d.RetryAfter = rl.refill(1 - tokens)
	}
	return d
}

// refill is how long the bucket takes to gain n tokens
func (rl *RateLimiter) refill(n float64) time.Duration {
	if n <= 0 {
		return 0
	}
	return time.Duration(n / float64(rl.limit) * float64(time.Second)).Round(time.Millisecond)
}

// RateLimit returns a middleware that applies rate limiting
func RateLimit(limiter *RateLimiter) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			d := limiter.Allow(rateLimitKey(r))

			h := w.Header()
			h.Set("X-RateLimit-Limit", strconv.Itoa(limiter.perWin))
			h.Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
			h.Set("X-RateLimit-Reset", strconv.FormatInt(d.Reset.Unix(), 10))

			if !d.Allowed {
				retryAfter := int(math.Ceil(d.RetryAfter.Seconds()))
				if retryAfter < 1 {
					retryAfter = 1
				}
				h.Set("Retry-After", strconv.Itoa(retryAfter))
				model.NewRateLimitError(retryAfter).WriteJSON(w)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// rateLimitKey buckets authenticated requests by community and acting user,
// and the rest by client address
func rateLimitKey(r *http.Request) string {
	ctx := r.Context()
	if actor := GetActorID(ctx); actor != "" {
		if scope := RequestScope(ctx); scope != "" {
			return "community:" + scope + "/actor:" + actor
		}
		return "actor:" + actor
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return "ip:" + host
}
