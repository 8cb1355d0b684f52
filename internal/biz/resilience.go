package biz

import (
	"context"
	"time"

	"RankRouter/internal/conf"

	"github.com/go-kratos/kratos/v2/log"
)

// Operation is one attempt of an outbound action (typically a single HTTP
// call). The orchestrator invokes it under a per-attempt timeout and may
// invoke it several times.
type Operation func(ctx context.Context) (interface{}, error)

// ResilienceUsecase wraps outbound operations with breaker gating, a
// per-attempt timeout, and retry with exponential backoff. Outcomes are
// reported back to the breaker on every attempt.
type ResilienceUsecase struct {
	breaker *CircuitBreakerUsecase
	backoff Backoff
	logger  *log.Helper

	maxRetries     int
	attemptTimeout time.Duration

	// sleep is replaceable in tests
	sleep func(time.Duration)
}

// NewResilienceUsecase creates a new resilience orchestrator.
// Retry counts and backoff shape come from the rate limiter config section;
// the per-attempt timeout from the breaker section.
func NewResilienceUsecase(rl *conf.RateLimit, br *conf.Breaker, breaker *CircuitBreakerUsecase, logger log.Logger) *ResilienceUsecase {
	uc := &ResilienceUsecase{
		breaker:        breaker,
		logger:         log.NewHelper(logger),
		maxRetries:     3,
		attemptTimeout: 30 * time.Second,
		sleep:          time.Sleep,
	}
	if rl != nil {
		uc.maxRetries = int(rl.MaxRetries)
		uc.backoff = NewBackoff(
			rl.InitialDelay.AsDuration(),
			rl.MaxDelay.AsDuration(),
			rl.RetryBackoffFactor,
			true,
		)
	} else {
		uc.backoff = NewBackoff(0, 0, 0, true)
	}
	if br != nil && br.TimeoutDuration.AsDuration() > 0 {
		uc.attemptTimeout = br.TimeoutDuration.AsDuration()
	}
	return uc
}

// Execute runs op under the full resilience policy for the given breaker key.
//
// An OPEN breaker fails immediately with CircuitOpenError and no network
// attempt. Transient failures (timeout, connection failure, 5xx, 429) are
// retried with backoff up to maxRetries; every failed attempt is recorded
// against the breaker. Non-retryable failures surface immediately but still
// count as a breaker failure. When all attempts are exhausted the last error
// is returned wrapped in RetryExhaustedError.
func (uc *ResilienceUsecase) Execute(ctx context.Context, key string, op Operation) (interface{}, error) {
	if uc.breaker.Enabled() && !uc.breaker.CanExecute(ctx, key) {
		status, err := uc.breaker.Status(ctx, key)
		next := time.Time{}
		if err == nil {
			next = status.AttemptAllowedAt()
		}
		uc.logger.Warnw("msg", "call rejected, breaker open",
			"key", key,
			"next_attempt", next.Format(time.RFC3339))
		return nil, &CircuitOpenError{Key: key, NextAttempt: next}
	}

	var lastErr error
	for attempt := 0; attempt <= uc.maxRetries; attempt++ {
		result, err := uc.runAttempt(ctx, op)
		if err == nil {
			uc.breaker.RecordSuccess(ctx, key)
			return result, nil
		}

		uc.breaker.RecordFailure(ctx, key)
		lastErr = err

		if !IsRetryable(err) {
			uc.logger.Warnw("msg", "non-retryable failure",
				"key", key,
				"attempt", attempt,
				"error", err.Error())
			return nil, err
		}

		if attempt == uc.maxRetries {
			break
		}

		delay := uc.backoff.Delay(attempt)
		uc.logger.Debugw("msg", "transient failure, retrying",
			"key", key,
			"attempt", attempt,
			"delay", delay,
			"error", err.Error())
		uc.sleep(delay)
	}

	return nil, &RetryExhaustedError{Key: key, Attempts: uc.maxRetries + 1, Err: lastErr}
}

// runAttempt executes a single attempt under the absolute per-attempt timeout.
func (uc *ResilienceUsecase) runAttempt(ctx context.Context, op Operation) (interface{}, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, uc.attemptTimeout)
	defer cancel()

	result, err := op(attemptCtx)
	if err != nil {
		return nil, err
	}
	// The operation may have ignored the context; treat an expired deadline
	// as a timeout regardless.
	if attemptCtx.Err() != nil {
		return nil, attemptCtx.Err()
	}
	return result, nil
}
