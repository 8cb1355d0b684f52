package model

import "time"

// BreakerState is the circuit breaker state for a single breaker key.
type BreakerState string

const (
	// StateClosed allows all calls through.
	StateClosed BreakerState = "CLOSED"
	// StateOpen rejects calls until the recovery timeout elapses.
	StateOpen BreakerState = "OPEN"
	// StateHalfOpen allows trial calls to probe whether the target recovered.
	StateHalfOpen BreakerState = "HALF_OPEN"
)

// BreakerRecord is the persisted circuit breaker state for one key.
// The authoritative copy lives in the shared store; a process-local copy may
// lag behind it by at most the configured cache sync interval.
//
// The record is serialized as a flat JSON object (scalars only). Version is
// bumped on every save and backs the store's conditional update.
type BreakerRecord struct {
	State        BreakerState `json:"state"`
	FailureCount int32        `json:"failure_count"`
	SuccessCount int32        `json:"success_count"`
	// LastFailureTime and NextAttemptTime are Unix timestamps in seconds;
	// zero means never / not scheduled.
	LastFailureTime int64 `json:"last_failure_time"`
	NextAttemptTime int64 `json:"next_attempt_time"`
	Version         int64 `json:"version"`
}

// NewBreakerRecord returns a fresh record in the initial CLOSED state.
// Records are created lazily on first access and never deleted.
func NewBreakerRecord() *BreakerRecord {
	return &BreakerRecord{State: StateClosed}
}

// Clone returns a copy of the record. Callers that cache records hand out
// clones so a snapshot cannot be mutated behind the cache's back.
func (r *BreakerRecord) Clone() *BreakerRecord {
	c := *r
	return &c
}

// AttemptAllowedAt returns the time the breaker next permits a trial call.
// Only meaningful while the breaker is OPEN.
func (r *BreakerRecord) AttemptAllowedAt() time.Time {
	return time.Unix(r.NextAttemptTime, 0)
}
