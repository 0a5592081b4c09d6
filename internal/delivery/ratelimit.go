package delivery

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	// maxTrackedEndpoints caps the number of per-endpoint limiters kept in
	// memory; idle ones are evicted first.
	maxTrackedEndpoints = 4096

	// endpointIdleAfter is how long an unused limiter is kept.
	endpointIdleAfter = 10 * time.Minute

	// DefaultEndpointRate is Discord's documented webhook budget: 5 requests
	// per 2 seconds.
	DefaultEndpointRate  = rate.Limit(2.5)
	DefaultEndpointBurst = 5
)

type limiterEntry struct {
	limiter  *rate.Limiter
	lastUsed time.Time
}

// endpointLimiter paces requests per webhook endpoint. Safe for concurrent use.
type endpointLimiter struct {
	limit rate.Limit
	burst int

	mu      sync.Mutex
	entries map[string]*limiterEntry
}

func newEndpointLimiter(limit rate.Limit, burst int) *endpointLimiter {
	if limit <= 0 {
		limit = DefaultEndpointRate
	}
	if burst <= 0 {
		burst = DefaultEndpointBurst
	}
	return &endpointLimiter{limit: limit, burst: burst, entries: make(map[string]*limiterEntry)}
}

// Wait blocks until a request to endpoint is allowed or ctx is done.
func (l *endpointLimiter) Wait(ctx context.Context, endpoint string) error {
	return l.get(endpoint).Wait(ctx)
}

func (l *endpointLimiter) get(endpoint string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	if e, ok := l.entries[endpoint]; ok {
		e.lastUsed = now
		return e.limiter
	}

	if len(l.entries) >= maxTrackedEndpoints {
		for k, e := range l.entries {
			if now.Sub(e.lastUsed) >= endpointIdleAfter {
				delete(l.entries, k)
			}
		}
		// Hard eviction if still at cap (FIFO-ish via map iteration)
		for len(l.entries) >= maxTrackedEndpoints {
			for k := range l.entries {
				delete(l.entries, k)
				break
			}
		}
	}

	e := &limiterEntry{limiter: rate.NewLimiter(l.limit, l.burst), lastUsed: now}
	l.entries[endpoint] = e
	return e.limiter
}

func (l *endpointLimiter) len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
