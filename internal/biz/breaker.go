package biz

import (
	"context"
	"fmt"
	"time"

	"RankRouter/internal/conf"
	"RankRouter/internal/model"

	"github.com/go-kratos/kratos/v2/log"
)

// CircuitBreakerUsecase implements the per-key failure/recovery state machine.
//
// State transitions only move along CLOSED->OPEN, OPEN->HALF_OPEN,
// HALF_OPEN->CLOSED and HALF_OPEN->OPEN. The authoritative record lives in
// the shared store so every process instance observes the same state; reads
// may be served from a process-local cache bounded by the configured sync
// interval.
//
// A breaker disabled by configuration behaves as an always-CLOSED
// pass-through.
type CircuitBreakerUsecase struct {
	repo   BreakerRepo
	audit  AuditLogger
	logger *log.Helper

	enabled          bool
	failureThreshold int32
	successThreshold int32
	recoveryTimeout  time.Duration

	// now is replaceable in tests
	now func() time.Time
}

// NewCircuitBreakerUsecase creates a new circuit breaker use case.
func NewCircuitBreakerUsecase(c *conf.Breaker, repo BreakerRepo, audit AuditLogger, logger log.Logger) *CircuitBreakerUsecase {
	uc := &CircuitBreakerUsecase{
		repo:   repo,
		audit:  audit,
		logger: log.NewHelper(logger),
		now:    time.Now,
	}
	if c != nil {
		uc.enabled = c.Enabled
		uc.failureThreshold = c.FailureThreshold
		uc.successThreshold = c.SuccessThreshold
		uc.recoveryTimeout = c.RecoveryTimeout.AsDuration()
	}
	return uc
}

// Enabled reports whether breaker gating is active.
func (uc *CircuitBreakerUsecase) Enabled() bool {
	return uc.enabled
}

// CanExecute reports whether a call for the given key may proceed.
// CLOSED and HALF_OPEN allow calls; OPEN allows exactly one caller through
// once the recovery timeout has elapsed, transitioning the key to HALF_OPEN.
//
// Shared-store failure degrades to allowing the call (with a warning), the
// same policy the rest of the system applies when Redis is down.
func (uc *CircuitBreakerUsecase) CanExecute(ctx context.Context, key string) bool {
	if !uc.enabled {
		return true
	}

	rec, err := uc.repo.Load(ctx, key)
	if err != nil {
		uc.logger.Warnf("breaker state load failed for %q: %v (call allowed)", key, err)
		return true
	}

	switch rec.State {
	case model.StateClosed, model.StateHalfOpen:
		return true
	case model.StateOpen:
		if uc.now().Unix() < rec.NextAttemptTime {
			return false
		}
		return uc.tryHalfOpen(ctx, key)
	default:
		uc.logger.Warnf("breaker %q in unknown state %q (call allowed)", key, rec.State)
		return true
	}
}

// tryHalfOpen transitions an OPEN breaker whose recovery timeout elapsed to
// HALF_OPEN. Under concurrent callers only one writer wins the version race;
// losers re-read and follow whatever state the winner left.
func (uc *CircuitBreakerUsecase) tryHalfOpen(ctx context.Context, key string) bool {
	rec, err := uc.mutate(ctx, key, func(r *model.BreakerRecord) {
		if r.State == model.StateOpen && uc.now().Unix() >= r.NextAttemptTime {
			r.State = model.StateHalfOpen
			r.SuccessCount = 0
		}
	})
	if err != nil {
		uc.logger.Warnf("breaker half-open transition failed for %q: %v (call allowed)", key, err)
		return true
	}

	switch rec.State {
	case model.StateHalfOpen:
		uc.audit.LogBreakerHalfOpen(ctx, key)
		uc.logger.Infow("msg", "breaker half-open, allowing trial call", "key", key)
		return true
	case model.StateClosed:
		return true
	default:
		// A concurrent probe already failed and reopened the breaker.
		return uc.now().Unix() >= rec.NextAttemptTime
	}
}

// RecordSuccess reports a successful call outcome.
// In HALF_OPEN, enough consecutive successes close the breaker. In CLOSED,
// one past failure is forgiven per success (floor 0).
func (uc *CircuitBreakerUsecase) RecordSuccess(ctx context.Context, key string) {
	if !uc.enabled {
		return
	}

	var closed bool
	var probes int32

	_, err := uc.mutate(ctx, key, func(r *model.BreakerRecord) {
		closed, probes = false, 0
		switch r.State {
		case model.StateHalfOpen:
			r.SuccessCount++
			if r.SuccessCount >= uc.successThreshold {
				probes = r.SuccessCount
				r.State = model.StateClosed
				r.FailureCount = 0
				r.SuccessCount = 0
				r.NextAttemptTime = 0
				closed = true
			}
		case model.StateClosed:
			if r.FailureCount > 0 {
				r.FailureCount--
			}
		}
	})
	if err != nil {
		uc.logger.Warnf("breaker success recording failed for %q: %v", key, err)
		return
	}

	if closed {
		uc.audit.LogBreakerClosed(ctx, key, probes)
		uc.logger.Infow("msg", "breaker closed after successful probes",
			"key", key,
			"probe_count", probes)
	}
}

// RecordFailure reports a failed call outcome.
// In CLOSED, reaching the failure threshold trips the breaker OPEN. In
// HALF_OPEN, any failure immediately reopens it with a fresh attempt time.
func (uc *CircuitBreakerUsecase) RecordFailure(ctx context.Context, key string) {
	if !uc.enabled {
		return
	}

	var opened bool
	var failures int32
	var nextAttempt int64

	_, err := uc.mutate(ctx, key, func(r *model.BreakerRecord) {
		opened = false
		now := uc.now()
		r.FailureCount++
		r.LastFailureTime = now.Unix()

		switch r.State {
		case model.StateClosed:
			if r.FailureCount >= uc.failureThreshold {
				r.State = model.StateOpen
				r.NextAttemptTime = now.Add(uc.recoveryTimeout).Unix()
				opened = true
			}
		case model.StateHalfOpen:
			r.State = model.StateOpen
			r.SuccessCount = 0
			r.NextAttemptTime = now.Add(uc.recoveryTimeout).Unix()
			opened = true
		}
		failures = r.FailureCount
		nextAttempt = r.NextAttemptTime
	})
	if err != nil {
		uc.logger.Warnf("breaker failure recording failed for %q: %v", key, err)
		return
	}

	if opened {
		uc.audit.LogBreakerOpened(ctx, key, failures, time.Unix(nextAttempt, 0))
		uc.logger.Warnw("msg", "breaker opened",
			"key", key,
			"failure_count", failures,
			"next_attempt", time.Unix(nextAttempt, 0).Format(time.RFC3339))
	}
}

// Status returns a fresh snapshot of the breaker record for a key.
func (uc *CircuitBreakerUsecase) Status(ctx context.Context, key string) (*model.BreakerRecord, error) {
	rec, err := uc.repo.LoadFresh(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("failed to load breaker status for %q: %w", key, err)
	}
	return rec.Clone(), nil
}

// IsOpen reports whether the breaker for a key is currently OPEN.
// Used by the quota manager's availability filter. Store errors degrade to
// "not open" so routing keeps working without Redis.
func (uc *CircuitBreakerUsecase) IsOpen(ctx context.Context, key string) bool {
	if !uc.enabled {
		return false
	}
	rec, err := uc.repo.Load(ctx, key)
	if err != nil {
		uc.logger.Warnf("breaker state load failed for %q: %v (assuming not open)", key, err)
		return false
	}
	// An OPEN breaker past its recovery timeout is due a trial call, but it
	// remains excluded from routing until a probe actually closes it.
	return rec.State == model.StateOpen
}

// IsHalfOpen reports whether the breaker for a key is in the trial state.
func (uc *CircuitBreakerUsecase) IsHalfOpen(ctx context.Context, key string) bool {
	if !uc.enabled {
		return false
	}
	rec, err := uc.repo.Load(ctx, key)
	if err != nil {
		return false
	}
	return rec.State == model.StateHalfOpen
}

// Reset clears the breaker record for a key, returning it to CLOSED.
// Intended for operators, exposed through the admin surface.
func (uc *CircuitBreakerUsecase) Reset(ctx context.Context, key string) error {
	if err := uc.repo.Reset(ctx, key); err != nil {
		return fmt.Errorf("failed to reset breaker %q: %w", key, err)
	}
	uc.audit.LogBreakerReset(ctx, key)
	uc.logger.Infow("msg", "breaker reset", "key", key)
	return nil
}

// mutate applies fn to the authoritative record under optimistic locking,
// retrying a bounded number of times on version conflicts. It returns the
// record as finally persisted (or as read on the last conflicted attempt).
func (uc *CircuitBreakerUsecase) mutate(ctx context.Context, key string, fn func(*model.BreakerRecord)) (*model.BreakerRecord, error) {
	const maxRetries = 3

	var rec *model.BreakerRecord
	for i := 0; i < maxRetries; i++ {
		var err error
		rec, err = uc.repo.LoadFresh(ctx, key)
		if err != nil {
			return nil, err
		}

		updated := rec.Clone()
		fn(updated)

		saved, err := uc.repo.Save(ctx, key, updated)
		if err != nil {
			return nil, err
		}
		if saved {
			return updated, nil
		}

		// Version conflict, retry with short backoff
		backoff := time.Duration(i+1) * 10 * time.Millisecond
		uc.logger.Debugw("msg", "breaker version conflict, retrying",
			"key", key,
			"retry", i+1,
			"backoff", backoff)
		time.Sleep(backoff)
	}

	return rec, fmt.Errorf("breaker update for %q lost %d version races", key, maxRetries)
}
