package biz

import (
	"math"
	"math/rand"
	"time"
)

// Backoff computes exponential retry delays with optional jitter.
// The zero value is unusable; build one with NewBackoff.
type Backoff struct {
	initialDelay time.Duration
	maxDelay     time.Duration
	factor       float64
	jitter       bool
}

// NewBackoff creates a backoff calculator.
// Delay grows as initialDelay * factor^attempt, capped at maxDelay.
// When jitter is on, each delay is perturbed by a uniform ±10% to avoid
// synchronized retry spikes across concurrent callers.
func NewBackoff(initialDelay, maxDelay time.Duration, factor float64, jitter bool) Backoff {
	if initialDelay <= 0 {
		initialDelay = 500 * time.Millisecond
	}
	if maxDelay <= 0 {
		maxDelay = 30 * time.Second
	}
	if factor < 1 {
		factor = 2
	}
	return Backoff{
		initialDelay: initialDelay,
		maxDelay:     maxDelay,
		factor:       factor,
		jitter:       jitter,
	}
}

// Delay returns the delay before retrying after the given zero-based attempt.
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}

	d := float64(b.initialDelay) * math.Pow(b.factor, float64(attempt))
	if d > float64(b.maxDelay) {
		d = float64(b.maxDelay)
	}

	if b.jitter {
		// ±10% uniform jitter
		d += d * 0.1 * (rand.Float64()*2 - 1)
	}

	if d < 0 {
		d = 0
	}
	return time.Duration(d)
}
