// Package biz contains business logic layer implementations.
// This layer holds the resilience core: circuit breaker, retry orchestrator,
// rate limiter, and quota-aware provider routing.
package biz

import (
	"RankRouter/internal/data"

	"github.com/google/wire"
)

// ProviderSet is biz providers.
var ProviderSet = wire.NewSet(
	NewCircuitBreakerUsecase,
	NewResilienceUsecase,
	NewRateLimiterUseCase,
	NewQuotaUsecase,
	NewScorer,
	NewModelScorer,
	// Bind data layer implementations to biz layer interfaces
	wire.Bind(new(BreakerRepo), new(*data.BreakerRepo)),
	wire.Bind(new(AuditLogger), new(*data.AuditLoggerImpl)),
)
