// Package data provides data access layer implementations.
// It handles the Redis shared store for breaker state and the MySQL audit trail.
package data

import (
	"RankRouter/internal/conf"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/wire"
	"github.com/redis/go-redis/v9"
)

// ProviderSet is data providers.
var ProviderSet = wire.NewSet(
	NewData,
	NewRedisClient,
	NewMySQLClient,
	NewBreakerRepo,
	NewAuditLogger,
)

// Data contains all data layer dependencies.
type Data struct {
	// redisClient is the Redis client backing the breaker shared store
	redisClient *redis.Client
}

// NewData creates a new Data instance with all data layer dependencies.
// Redis connection failure does not prevent application startup
// (graceful degradation).
func NewData(_ *conf.Data, logger log.Logger, rdb *redis.Client) (*Data, func(), error) {
	helper := log.NewHelper(logger)

	if rdb == nil {
		helper.Warn("Redis client is nil, breaker state will not be shared across instances")
	}

	d := &Data{
		redisClient: rdb,
	}

	cleanup := func() {
		helper.Info("closing the data resources")
		// Redis cleanup is handled by NewRedisClient's cleanup function
		// which is called automatically by Wire
	}

	return d, cleanup, nil
}

// GetRedisClient returns the Redis client for advanced operations.
func (d *Data) GetRedisClient() *redis.Client {
	return d.redisClient
}
