// Package ratelimit implements a token bucket rate limiter for per-domain
// request pacing.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/mirrorlab/sitemirror/internal/metrics"
)

// Limiter hands out tokens per domain so concurrent page and asset fetches
// against the same host stay polite.
type Limiter struct {
	mu      sync.Mutex
	buckets map[string]*rate.Limiter
	rps     rate.Limit
	burst   int
}

// Config holds rate limiter configuration.
type Config struct {
	DefaultRPS   float64
	DefaultBurst int
}

// New creates a new Limiter. A non-positive RPS disables pacing entirely.
func New(cfg Config) *Limiter {
	l := &Limiter{
		buckets: make(map[string]*rate.Limiter),
		rps:     rate.Limit(cfg.DefaultRPS),
		burst:   cfg.DefaultBurst,
	}
	if cfg.DefaultRPS <= 0 {
		l.rps = rate.Inf
	}
	if l.burst < 1 {
		l.burst = 1
	}
	return l
}

// Wait blocks until a token is available for the URL's domain, respecting
// the context. Waits above a millisecond are recorded as rate limit delays.
func (l *Limiter) Wait(ctx context.Context, rawURL string) error {
	domain := metrics.SanitizeSite(rawURL)

	start := time.Now()
	if err := l.limiterFor(domain).Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	if waited := time.Since(start); waited > time.Millisecond {
		metrics.ObserveRateLimitDelay(domain, waited)
	}
	return nil
}

func (l *Limiter) limiterFor(domain string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	lim, ok := l.buckets[domain]
	if !ok {
		lim = rate.NewLimiter(l.rps, l.burst)
		l.buckets[domain] = lim
	}
	return lim
}
