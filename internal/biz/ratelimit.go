package biz

import (
	"context"
	"fmt"
	"sync"

	"RankRouter/internal/conf"

	"github.com/go-kratos/kratos/v2/log"
	"golang.org/x/time/rate"
)

// RateLimiterUseCase enforces a minimum interval between outbound calls
// sharing a (service, clientKind, endpoint) key. State is process-local only.
//
// Waiting callers are not ordered (no FIFO guarantee); the only guarantee is
// that no two calls on the same key complete closer together than
// 1/requestsPerSecond. Disabled by configuration it is a no-op.
type RateLimiterUseCase struct {
	logger *log.Helper

	enabled bool
	rps     float64

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewRateLimiterUseCase creates a new rate limiter use case.
func NewRateLimiterUseCase(c *conf.RateLimit, logger log.Logger) *RateLimiterUseCase {
	uc := &RateLimiterUseCase{
		logger:   log.NewHelper(logger),
		limiters: make(map[string]*rate.Limiter),
	}
	if c != nil {
		uc.enabled = c.Enabled
		uc.rps = c.RequestsPerSecond
	}
	return uc
}

// WaitIfNeeded blocks until a call for the key may proceed, or until ctx is
// done. Limiter entries are created lazily on first use.
func (uc *RateLimiterUseCase) WaitIfNeeded(ctx context.Context, service, clientKind, endpoint string) error {
	if !uc.enabled {
		return nil
	}

	lim := uc.limiterFor(rateLimitKey(service, clientKind, endpoint))
	if err := lim.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter wait aborted for %s/%s/%s: %w",
			service, clientKind, endpoint, err)
	}
	return nil
}

// limiterFor returns the limiter for a key, creating it on first use.
// Burst 1 makes the limiter a pure minimum-interval pacer.
func (uc *RateLimiterUseCase) limiterFor(key string) *rate.Limiter {
	uc.mu.Lock()
	defer uc.mu.Unlock()

	lim, ok := uc.limiters[key]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(uc.rps), 1)
		uc.limiters[key] = lim
	}
	return lim
}

// rateLimitKey builds the bucket key for a call.
// Format: {service}:{clientKind}:{endpoint}
func rateLimitKey(service, clientKind, endpoint string) string {
	return fmt.Sprintf("%s:%s:%s", service, clientKind, endpoint)
}
