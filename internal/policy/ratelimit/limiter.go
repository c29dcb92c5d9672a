// Package ratelimit throttles outbound fetches per domain with token buckets.
package ratelimit

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/JakeFAU/exercise-crawler/internal/crawler"
	"github.com/JakeFAU/exercise-crawler/internal/metrics"
)

// Limiter manages per-domain rate limits.
type Limiter struct {
	mu           sync.Mutex
	limiters     map[string]*rate.Limiter
	defaultRate  rate.Limit
	defaultBurst int
}

// Config holds rate limiter configuration. A non-positive RPS disables
// throttling.
type Config struct {
	RPS   float64
	Burst int
}

// New creates a new Limiter.
func New(cfg Config) *Limiter {
	r := rate.Limit(cfg.RPS)
	if cfg.RPS <= 0 {
		r = rate.Inf
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	return &Limiter{
		limiters:     make(map[string]*rate.Limiter),
		defaultRate:  r,
		defaultBurst: burst,
	}
}

// Unlimited reports whether the limiter never delays.
func (l *Limiter) Unlimited() bool {
	return l.defaultRate == rate.Inf
}

// Wait blocks until a token is available for the URL's domain.
func (l *Limiter) Wait(ctx context.Context, rawURL string) error {
	domain := domainOf(rawURL)
	l.mu.Lock()
	limiter, exists := l.limiters[domain]
	if !exists {
		limiter = rate.NewLimiter(l.defaultRate, l.defaultBurst)
		l.limiters[domain] = limiter
	}
	l.mu.Unlock()

	start := time.Now()
	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	if waited := time.Since(start); waited > time.Millisecond {
		metrics.ObserveRateLimitDelay(domain, waited)
	}
	return nil
}

func domainOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return u.Hostname()
}

// Fetcher waits on a Limiter before delegating to the wrapped fetcher.
type Fetcher struct {
	next    crawler.Fetcher
	limiter *Limiter
}

var _ crawler.Fetcher = (*Fetcher)(nil)

// Wrap decorates next with the limiter. An unlimited limiter returns next
// unchanged.
func Wrap(next crawler.Fetcher, limiter *Limiter) crawler.Fetcher {
	if limiter == nil || limiter.Unlimited() {
		return next
	}
	return &Fetcher{next: next, limiter: limiter}
}

// Fetch implements crawler.Fetcher.
func (f *Fetcher) Fetch(ctx context.Context, request crawler.FetchRequest) (crawler.FetchResponse, error) {
	if err := f.limiter.Wait(ctx, request.URL); err != nil {
		return crawler.FetchResponse{}, err
	}
	resp, err := f.next.Fetch(ctx, request)
	if err != nil {
		return crawler.FetchResponse{}, fmt.Errorf("rate limited fetch: %w", err)
	}
	return resp, nil
}
