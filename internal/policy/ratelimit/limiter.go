// Package ratelimit implements a token bucket rate limiter that keeps the
// harvester polite towards each upstream host.
package ratelimit

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/JakeFAU/journal-harvester/internal/crawler"
	"github.com/JakeFAU/journal-harvester/internal/metrics"
)

// Limiter manages per-host rate limits.
type Limiter struct {
	mu           sync.Mutex
	limiters     map[string]*rate.Limiter
	defaultRate  rate.Limit
	defaultBurst int
}

// Config holds rate limiter configuration.
type Config struct {
	DefaultRPS   float64
	DefaultBurst int
}

// New creates a new Limiter. A non-positive rate disables limiting.
func New(cfg Config) *Limiter {
	r := rate.Limit(cfg.DefaultRPS)
	if cfg.DefaultRPS <= 0 {
		r = rate.Inf
	}
	burst := cfg.DefaultBurst
	if burst <= 0 {
		burst = 1
	}
	return &Limiter{
		limiters:     make(map[string]*rate.Limiter),
		defaultRate:  r,
		defaultBurst: burst,
	}
}

// Wait blocks until a token is available for the URL's host, respecting the context.
func (l *Limiter) Wait(ctx context.Context, rawURL string) error {
	host := hostOf(rawURL)
	l.mu.Lock()
	limiter, exists := l.limiters[host]
	if !exists {
		limiter = rate.NewLimiter(l.defaultRate, l.defaultBurst)
		l.limiters[host] = limiter
	}
	l.mu.Unlock()

	start := time.Now()
	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	if waited := time.Since(start); waited > time.Millisecond {
		metrics.ObserveRateLimitDelay(host, waited)
	}
	return nil
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// PoliteFetcher waits on the Limiter before delegating every request, so
// parallel record workers share one request budget per host.
type PoliteFetcher struct {
	next    crawler.Fetcher
	limiter *Limiter
}

// NewPoliteFetcher wraps next with limiter.
func NewPoliteFetcher(next crawler.Fetcher, limiter *Limiter) *PoliteFetcher {
	return &PoliteFetcher{next: next, limiter: limiter}
}

// Fetch implements crawler.Fetcher.
func (p *PoliteFetcher) Fetch(ctx context.Context, request crawler.FetchRequest) (crawler.FetchResponse, error) {
	if p.limiter != nil {
		if err := p.limiter.Wait(ctx, request.URL); err != nil {
			return crawler.FetchResponse{}, err
		}
	}
	resp, err := p.next.Fetch(ctx, request)
	if err != nil {
		metrics.ObserveRequest(hostOf(request.URL), "error")
		return crawler.FetchResponse{}, fmt.Errorf("fetch %s: %w", request.URL, err)
	}
	metrics.ObserveRequest(hostOf(request.URL), metrics.StatusClass(resp.StatusCode))
	metrics.ObserveBytes(hostOf(request.URL), len(resp.Body))
	return resp, nil
}
