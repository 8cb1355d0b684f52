package data

import (
	"context"
	"encoding/json"
	"time"

	dberrors "RankRouter/pkg/errors"

	"github.com/go-kratos/kratos/v2/log"
	"gorm.io/gorm"
)

// Audit event types persisted in resilience_audit_logs.
const (
	auditBreakerOpened   = "BREAKER_OPENED"
	auditBreakerHalfOpen = "BREAKER_HALF_OPEN"
	auditBreakerClosed   = "BREAKER_CLOSED"
	auditBreakerReset    = "BREAKER_RESET"
	auditQuotaReset      = "QUOTA_RESET"
)

// AuditLog is the GORM model for the resilience_audit_logs table.
type AuditLog struct {
	ID         int64     `gorm:"primaryKey;column:id"`
	BreakerKey string    `gorm:"column:breaker_key;type:varchar(255);not null;index"`
	EventType  string    `gorm:"column:event_type;type:varchar(50);not null"`
	Details    string    `gorm:"column:details;type:json"` // JSON string
	CreatedAt  time.Time `gorm:"column:created_at;autoCreateTime"`
}

// TableName specifies the table name for GORM
func (AuditLog) TableName() string {
	return "resilience_audit_logs"
}

// AuditLoggerImpl implements biz.AuditLogger.
// Events are queued to a buffered channel and written by a background
// goroutine so the hot path never blocks on the database. With no database
// configured every event is still emitted as a structured log line.
type AuditLoggerImpl struct {
	db      *gorm.DB
	logChan chan *AuditLog
	logger  *log.Helper
}

// NewAuditLogger creates a new audit logger with async channel
func NewAuditLogger(db *gorm.DB, logger log.Logger) *AuditLoggerImpl {
	al := &AuditLoggerImpl{
		db:      db,
		logChan: make(chan *AuditLog, 1000), // Buffer size 1000 to prevent blocking
		logger:  log.NewHelper(logger),
	}

	if db != nil {
		// Start background goroutine for async persistence
		go al.start()
	}

	return al
}

// start processes audit log events from channel
func (a *AuditLoggerImpl) start() {
	for event := range a.logChan {
		ctx := context.Background()
		err := a.db.WithContext(ctx).Create(event).Error
		if err != nil {
			dbErr := dberrors.ClassifyDBError(err)
			// Deadlocks and dropped connections are worth one more attempt;
			// everything else (bad JSON, truncation) will fail again.
			if dbErr.Type == dberrors.ErrorTypeDeadlock || dbErr.Type == dberrors.ErrorTypeConnectionError {
				err = a.db.WithContext(ctx).Create(event).Error
			}
			if err != nil {
				a.logger.Errorw("msg", "failed to write audit log",
					"breaker_key", event.BreakerKey,
					"event_type", event.EventType,
					"error", dberrors.ClassifyDBError(err))
				continue
			}
		}
		a.logger.Debugw("msg", "audit log written",
			"breaker_key", event.BreakerKey,
			"event_type", event.EventType)
	}
}

// emit marshals details and queues the event without blocking.
func (a *AuditLoggerImpl) emit(key, eventType string, details map[string]interface{}) {
	detailsJSON, err := json.Marshal(details)
	if err != nil {
		a.logger.Errorw("msg", "failed to marshal audit log details", "error", err)
		return
	}

	a.logger.Infow("msg", "audit event",
		"breaker_key", key,
		"event_type", eventType,
		"details", string(detailsJSON))

	if a.db == nil {
		return
	}

	event := &AuditLog{
		BreakerKey: key,
		EventType:  eventType,
		Details:    string(detailsJSON),
	}

	// Send to channel (non-blocking)
	select {
	case a.logChan <- event:
		// Successfully queued
	default:
		a.logger.Warnw("msg", "audit log channel full, dropping event",
			"breaker_key", key,
			"event_type", eventType)
	}
}

// LogBreakerOpened logs a CLOSED/HALF_OPEN -> OPEN transition
func (a *AuditLoggerImpl) LogBreakerOpened(ctx context.Context, key string, failureCount int32, nextAttempt time.Time) {
	a.emit(key, auditBreakerOpened, map[string]interface{}{
		"failure_count": failureCount,
		"next_attempt":  nextAttempt.Format(time.RFC3339),
	})
}

// LogBreakerHalfOpen logs an OPEN -> HALF_OPEN transition
func (a *AuditLoggerImpl) LogBreakerHalfOpen(ctx context.Context, key string) {
	a.emit(key, auditBreakerHalfOpen, map[string]interface{}{})
}

// LogBreakerClosed logs a HALF_OPEN -> CLOSED recovery
func (a *AuditLoggerImpl) LogBreakerClosed(ctx context.Context, key string, probeCount int32) {
	a.emit(key, auditBreakerClosed, map[string]interface{}{
		"probe_count": probeCount,
	})
}

// LogBreakerReset logs a manual breaker reset
func (a *AuditLoggerImpl) LogBreakerReset(ctx context.Context, key string) {
	a.emit(key, auditBreakerReset, map[string]interface{}{})
}

// LogQuotaReset logs a monthly quota counter reset
func (a *AuditLoggerImpl) LogQuotaReset(ctx context.Context, provider string, usedAtReset int64, resetAt time.Time) {
	a.emit(provider, auditQuotaReset, map[string]interface{}{
		"used_at_reset": usedAtReset,
		"reset_at":      resetAt.Format(time.RFC3339),
	})
}
