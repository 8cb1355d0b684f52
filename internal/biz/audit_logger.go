package biz

import (
	"context"
	"time"
)

// AuditEventType defines the type of audit event
type AuditEventType string

const (
	AuditEventBreakerOpened   AuditEventType = "BREAKER_OPENED"
	AuditEventBreakerHalfOpen AuditEventType = "BREAKER_HALF_OPEN"
	AuditEventBreakerClosed   AuditEventType = "BREAKER_CLOSED"
	AuditEventBreakerReset    AuditEventType = "BREAKER_RESET"
	AuditEventQuotaReset      AuditEventType = "QUOTA_RESET"
)

// AuditLogger defines the interface for audit logging of breaker transitions
// and quota resets. Implementations are fire-and-forget: they must never
// block or fail the hot path.
type AuditLogger interface {
	// LogBreakerOpened logs a CLOSED/HALF_OPEN -> OPEN transition
	LogBreakerOpened(ctx context.Context, key string, failureCount int32, nextAttempt time.Time)

	// LogBreakerHalfOpen logs an OPEN -> HALF_OPEN transition
	LogBreakerHalfOpen(ctx context.Context, key string)

	// LogBreakerClosed logs a HALF_OPEN -> CLOSED recovery
	LogBreakerClosed(ctx context.Context, key string, probeCount int32)

	// LogBreakerReset logs a manual breaker reset
	LogBreakerReset(ctx context.Context, key string)

	// LogQuotaReset logs a monthly quota counter reset
	LogQuotaReset(ctx context.Context, provider string, usedAtReset int64, resetAt time.Time)
}
