package middleware

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// TriggerRateLimiter throttles pipeline trigger endpoints per client IP so a
// polling dashboard cannot queue runs faster than the upstreams tolerate.
type TriggerRateLimiter struct {
	every time.Duration
	burst int

	mu       sync.Mutex
	limiters map[string]*clientLimiter
}

// NewTriggerRateLimiter creates a limiter allowing burst requests, then one per
// every. Stale client entries are swept until ctx is done.
func NewTriggerRateLimiter(ctx context.Context, every time.Duration, burst int) *TriggerRateLimiter {
	if burst < 1 {
		burst = 1
	}
	rl := &TriggerRateLimiter{
		every:    every,
		burst:    burst,
		limiters: make(map[string]*clientLimiter),
	}
	go rl.cleanup(ctx)
	return rl
}

// Wrap applies the limiter to a single handler.
func (rl *TriggerRateLimiter) Wrap(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !rl.limiterFor(clientIP(r)).Allow() {
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Retry-After", retryAfter(rl.every))
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"success":false,"error":"too many requests"}`))
			return
		}
		next(w, r)
	}
}

func (rl *TriggerRateLimiter) limiterFor(ip string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	entry, ok := rl.limiters[ip]
	if !ok {
		entry = &clientLimiter{limiter: rate.NewLimiter(rate.Every(rl.every), rl.burst)}
		rl.limiters[ip] = entry
	}
	entry.lastSeen = time.Now()
	return entry.limiter
}

func (rl *TriggerRateLimiter) cleanup(ctx context.Context) {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rl.sweep(15 * time.Minute)
		}
	}
}

func (rl *TriggerRateLimiter) sweep(idle time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	for ip, entry := range rl.limiters {
		if time.Since(entry.lastSeen) > idle {
			delete(rl.limiters, ip)
		}
	}
}

func retryAfter(d time.Duration) string {
	secs := int(d.Round(time.Second) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return strconv.Itoa(secs)
}

func clientIP(r *http.Request) string {
	// First hop of X-Forwarded-For for reverse proxy setups.
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if xri := r.Header.Get("X-Real-Ip"); xri != "" {
		return xri
	}
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}
