package middleware

import (
	"context"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	throttleSweepInterval = 3 * time.Minute
	throttleIdleAfter     = 5 * time.Minute
)

type addrLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Throttle is a per-address token bucket. It complements the engine's
// lockout, which only counts failed logins.
type Throttle struct {
	mu       sync.Mutex
	limiters map[string]*addrLimiter
	rate     rate.Limit
	burst    int
	now      func() time.Time
	reject   ErrorFunc
}

// NewThrottle allows rps requests per second per address with the given
// burst. A nil reject writes a bare 429.
func NewThrottle(rps float64, burst int, reject ErrorFunc) *Throttle {
	if burst < 1 {
		burst = 1
	}
	return &Throttle{
		limiters: make(map[string]*addrLimiter),
		rate:     rate.Limit(rps),
		burst:    burst,
		now:      time.Now,
		reject:   reject,
	}
}

func (t *Throttle) limiter(addr string) *rate.Limiter {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	if l, ok := t.limiters[addr]; ok {
		l.lastSeen = now
		return l.limiter
	}

	l := &addrLimiter{limiter: rate.NewLimiter(t.rate, t.burst), lastSeen: now}
	t.limiters[addr] = l
	return l.limiter
}

// Sweep drops limiters idle for longer than idle and returns how many were removed.
func (t *Throttle) Sweep(idle time.Duration) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	cutoff := t.now().Add(-idle)
	removed := 0
	for addr, l := range t.limiters {
		if l.lastSeen.Before(cutoff) {
			delete(t.limiters, addr)
			removed++
		}
	}
	return removed
}

// Run sweeps idle limiters until ctx is done.
func (t *Throttle) Run(ctx context.Context) {
	ticker := time.NewTicker(throttleSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.Sweep(throttleIdleAfter)
		}
	}
}

// Middleware rejects a request with 429 once its address runs out of tokens.
// It reads the address stored by RequestContext.
func (t *Throttle) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if t.limiter(ClientIP(r)).Allow() {
			next.ServeHTTP(w, r)
			return
		}

		retryAfter := 1
		if t.rate > 0 {
			retryAfter = max(int(math.Ceil(1/float64(t.rate))), 1)
		}
		w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
		if t.reject != nil {
			t.reject(w, r, nil)
			return
		}
		http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
	})
}
