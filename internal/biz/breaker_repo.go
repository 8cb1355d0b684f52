package biz

import (
	"context"

	"RankRouter/internal/model"
)

// BreakerRepo defines the interface for circuit breaker state persistence.
// Following Kratos v2 DDD architecture, interfaces are defined in biz layer.
// Implementation is in data layer (data.BreakerRepo).
type BreakerRepo interface {
	// Load returns the record for a key, possibly from the process-local
	// cache (stale by at most the configured sync interval). A missing
	// record materializes as a fresh CLOSED record.
	Load(ctx context.Context, key string) (*model.BreakerRecord, error)

	// LoadFresh bypasses the local cache and reads the shared store.
	LoadFresh(ctx context.Context, key string) (*model.BreakerRecord, error)

	// Save persists the record if its version still matches the stored one.
	// It returns false (and no error) when a concurrent writer won the race;
	// the caller should reload and retry.
	Save(ctx context.Context, key string, rec *model.BreakerRecord) (bool, error)

	// Reset deletes the record from the shared store and local cache,
	// returning the key to a fresh CLOSED state.
	Reset(ctx context.Context, key string) error
}
