package data

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"RankRouter/internal/conf"
	"RankRouter/internal/model"

	"github.com/go-kratos/kratos/v2/log"
	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/redis/go-redis/v9"
)

// breakerKeyPrefix namespaces breaker records in the shared store.
// Full key: breaker:{name}, e.g. breaker:api.serpwatch.io
const breakerKeyPrefix = "breaker:"

// breakerCacheSize bounds the process-local record cache. Breaker keys are
// hostnames / logical API names, so a deployment rarely has more than a few
// hundred.
const breakerCacheSize = 1024

// saveScript persists a record only when the stored version still matches
// the version the writer read. This replaces a plain read-modify-write so
// concurrent writers cannot silently overwrite each other's transitions.
var saveScript = redis.NewScript(`
local cur = redis.call('GET', KEYS[1])
local expected = tonumber(ARGV[2])
if cur == false then
  if expected ~= 0 then
    return 0
  end
else
  local obj = cjson.decode(cur)
  if tonumber(obj.version) ~= expected then
    return 0
  end
end
redis.call('SET', KEYS[1], ARGV[1])
return 1
`)

// BreakerRepo implements biz.BreakerRepo against Redis.
// Following Kratos v2 DDD architecture, the interface is defined in biz layer.
//
// Reads may be served from an expiring process-local cache; its TTL is the
// configured cache sync interval and is the documented staleness bound of
// local breaker state relative to the shared store.
type BreakerRepo struct {
	rdb    *redis.Client
	cache  *lru.LRU[string, *model.BreakerRecord]
	logger *log.Helper
}

// NewBreakerRepo creates a new breaker state repository.
func NewBreakerRepo(c *conf.Breaker, d *Data, logger log.Logger) *BreakerRepo {
	syncInterval := 5 * time.Second
	if c != nil && c.CacheSyncInterval.AsDuration() > 0 {
		syncInterval = c.CacheSyncInterval.AsDuration()
	}

	return &BreakerRepo{
		rdb:    d.GetRedisClient(),
		cache:  lru.NewLRU[string, *model.BreakerRecord](breakerCacheSize, nil, syncInterval),
		logger: log.NewHelper(logger),
	}
}

// Load returns the record for a key, served from the local cache when a copy
// younger than the sync interval exists.
func (r *BreakerRepo) Load(ctx context.Context, key string) (*model.BreakerRecord, error) {
	if rec, ok := r.cache.Get(key); ok {
		return rec.Clone(), nil
	}
	return r.LoadFresh(ctx, key)
}

// LoadFresh reads the authoritative record from the shared store, refreshing
// the local cache. A missing record materializes as a fresh CLOSED record;
// records are created lazily and only persisted on the first state change.
func (r *BreakerRepo) LoadFresh(ctx context.Context, key string) (*model.BreakerRecord, error) {
	if r.rdb == nil {
		return nil, fmt.Errorf("redis client is nil")
	}

	val, err := r.rdb.Get(ctx, breakerKey(key)).Result()
	if err == redis.Nil {
		rec := model.NewBreakerRecord()
		r.cache.Add(key, rec.Clone())
		return rec, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load breaker record %q: %w", key, err)
	}

	rec := &model.BreakerRecord{}
	if err := json.Unmarshal([]byte(val), rec); err != nil {
		return nil, fmt.Errorf("corrupt breaker record %q: %w", key, err)
	}

	r.cache.Add(key, rec.Clone())
	return rec, nil
}

// Save persists the record if the stored version still matches rec.Version,
// bumping the version on success. Returns false without error when a
// concurrent writer won the race.
func (r *BreakerRepo) Save(ctx context.Context, key string, rec *model.BreakerRecord) (bool, error) {
	if r.rdb == nil {
		return false, fmt.Errorf("redis client is nil")
	}

	expected := rec.Version
	rec.Version = expected + 1

	payload, err := json.Marshal(rec)
	if err != nil {
		return false, fmt.Errorf("failed to marshal breaker record %q: %w", key, err)
	}

	// Records are long-lived for the process group's lifetime: no TTL.
	res, err := saveScript.Run(ctx, r.rdb, []string{breakerKey(key)}, string(payload), expected).Int()
	if err != nil {
		return false, fmt.Errorf("failed to save breaker record %q: %w", key, err)
	}
	if res != 1 {
		r.logger.Debugw("msg", "breaker record version conflict",
			"key", key,
			"expected_version", expected)
		return false, nil
	}

	r.cache.Add(key, rec.Clone())
	return true, nil
}

// Reset deletes the record from the shared store and the local cache.
func (r *BreakerRepo) Reset(ctx context.Context, key string) error {
	if r.rdb == nil {
		return fmt.Errorf("redis client is nil")
	}

	if err := r.rdb.Del(ctx, breakerKey(key)).Err(); err != nil {
		return fmt.Errorf("failed to delete breaker record %q: %w", key, err)
	}
	r.cache.Remove(key)
	return nil
}

// breakerKey builds the shared-store key for a breaker name.
func breakerKey(name string) string {
	return breakerKeyPrefix + name
}
