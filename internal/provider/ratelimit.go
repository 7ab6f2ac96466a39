package provider

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Default minimum spacing between requests per upstream.
var defaultIntervals = map[UpstreamName]time.Duration{
	NameListing: 500 * time.Millisecond,
	NameLineup:  time.Second,
	NameDeezer:  200 * time.Millisecond,
}

// RateLimiterMap holds one rate.Limiter per upstream, created once at startup.
// Each limiter has a burst of one, so the first request goes out immediately
// and later ones are spaced by the configured interval.
type RateLimiterMap struct {
	mu       sync.RWMutex
	limiters map[UpstreamName]*rate.Limiter
}

// NewRateLimiterMap creates all upstream rate limiters with default intervals.
func NewRateLimiterMap() *RateLimiterMap {
	m := &RateLimiterMap{
		limiters: make(map[UpstreamName]*rate.Limiter, len(defaultIntervals)),
	}
	for name, every := range defaultIntervals {
		m.limiters[name] = rate.NewLimiter(limitFor(every), 1)
	}
	return m
}

// SetInterval replaces the spacing for one upstream. A zero or negative
// interval disables limiting for it.
func (m *RateLimiterMap) SetInterval(name UpstreamName, every time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if l, ok := m.limiters[name]; ok {
		l.SetLimit(limitFor(every))
		return
	}
	m.limiters[name] = rate.NewLimiter(limitFor(every), 1)
}

// Wait blocks until the rate limiter for the given upstream allows a request,
// or the context is canceled.
func (m *RateLimiterMap) Wait(ctx context.Context, name UpstreamName) error {
	m.mu.RLock()
	limiter, ok := m.limiters[name]
	m.mu.RUnlock()
	if !ok {
		return nil
	}
	return limiter.Wait(ctx)
}

func limitFor(every time.Duration) rate.Limit {
	if every <= 0 {
		return rate.Inf
	}
	return rate.Every(every)
}
