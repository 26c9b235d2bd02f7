package crawler

import "time"

// LinearRetryPolicy allows maxAttempts tries and waits step × attempt between
// them. The aggregator throttles aggressive clients, so the delay grows with
// every failure of the same unit of work.
type LinearRetryPolicy struct {
	maxAttempts int
	step        time.Duration
}

// NewLinearRetryPolicy builds a policy; non-positive attempts default to 3.
func NewLinearRetryPolicy(maxAttempts int, step time.Duration) *LinearRetryPolicy {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	if step < 0 {
		step = 0
	}
	return &LinearRetryPolicy{maxAttempts: maxAttempts, step: step}
}

// ShouldRetry reports whether another attempt may follow the given number of
// failed attempts.
func (p *LinearRetryPolicy) ShouldRetry(attempt int) bool {
	return attempt < p.maxAttempts
}

// Backoff returns the wait duration after the given failed attempt.
func (p *LinearRetryPolicy) Backoff(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}
	return p.step * time.Duration(attempt)
}

// MaxAttempts exposes the configured attempt budget.
func (p *LinearRetryPolicy) MaxAttempts() int {
	return p.maxAttempts
}
