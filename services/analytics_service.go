package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Thenameisdebojit/farmora-sub001/models"
	"github.com/Thenameisdebojit/farmora-sub001/repositories"
	"github.com/Thenameisdebojit/farmora-sub001/utils"
	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
)

const DefaultAnalyticsCacheTTL = time.Minute

// AnalyticsCache stores computed summaries for a short time.
type AnalyticsCache interface {
	Get(ctx context.Context, key string) (*models.NotificationAnalytics, bool, error)
	Set(ctx context.Context, key string, value *models.NotificationAnalytics, ttl time.Duration) error
}

// AnalyticsService computes delivery and read rates over a creation time range.
type AnalyticsService struct {
	store repositories.NotificationStore
	cache AnalyticsCache
	ttl   time.Duration
	now   func() time.Time
}

// NewAnalyticsService creates the service. cache may be nil.
func NewAnalyticsService(store repositories.NotificationStore, cache AnalyticsCache, ttl time.Duration) *AnalyticsService {
	if ttl <= 0 {
		ttl = DefaultAnalyticsCacheTTL
	}
	return &AnalyticsService{
		store: store,
		cache: cache,
		ttl:   ttl,
		now:   time.Now,
	}
}

func (as *AnalyticsService) Summary(ctx context.Context, start, end time.Time) (*models.NotificationAnalytics, error) {
	if !end.After(start) {
		return nil, utils.NewValidationError("invalid analytics range", utils.ValidationError{
			Field:   "end",
			Tag:     "gtfield",
			Message: "end must be after start",
		})
	}

	key := fmt.Sprintf("notification:analytics:%d:%d", start.Unix(), end.Unix())
	if as.cache != nil {
		cached, ok, err := as.cache.Get(ctx, key)
		if err != nil {
			logrus.WithError(err).Warn("Analytics cache read failed")
		} else if ok {
			return cached, nil
		}
	}

	analytics, err := as.store.AggregateAnalytics(ctx, start, end)
	if err != nil {
		return nil, utils.NewDatabaseError("aggregate analytics", err)
	}
	analytics.ComputeRates()
	analytics.GeneratedAt = as.now()

	if as.cache != nil {
		if err := as.cache.Set(ctx, key, analytics, as.ttl); err != nil {
			logrus.WithError(err).Warn("Analytics cache write failed")
		}
	}

	return analytics, nil
}

// RedisAnalyticsCache keeps summaries in Redis as JSON.
type RedisAnalyticsCache struct {
	client *redis.Client
}

func NewRedisAnalyticsCache(client *redis.Client) *RedisAnalyticsCache {
	return &RedisAnalyticsCache{client: client}
}

func (rc *RedisAnalyticsCache) Get(ctx context.Context, key string) (*models.NotificationAnalytics, bool, error) {
	raw, err := rc.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var analytics models.NotificationAnalytics
	if err := json.Unmarshal(raw, &analytics); err != nil {
		return nil, false, err
	}
	return &analytics, true, nil
}

func (rc *RedisAnalyticsCache) Set(ctx context.Context, key string, value *models.NotificationAnalytics, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return rc.client.Set(ctx, key, raw, ttl).Err()
}

// MemoryAnalyticsCache is an in-process AnalyticsCache.
type MemoryAnalyticsCache struct {
	mu      sync.Mutex
	entries map[string]cachedAnalytics
	now     func() time.Time
}

type cachedAnalytics struct {
	value     *models.NotificationAnalytics
	expiresAt time.Time
}

func NewMemoryAnalyticsCache() *MemoryAnalyticsCache {
	return &MemoryAnalyticsCache{
		entries: make(map[string]cachedAnalytics),
		now:     time.Now,
	}
}

func (mc *MemoryAnalyticsCache) Get(ctx context.Context, key string) (*models.NotificationAnalytics, bool, error) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	entry, ok := mc.entries[key]
	if !ok {
		return nil, false, nil
	}
	if !mc.now().Before(entry.expiresAt) {
		delete(mc.entries, key)
		return nil, false, nil
	}
	return entry.value.Clone(), true, nil
}

func (mc *MemoryAnalyticsCache) Set(ctx context.Context, key string, value *models.NotificationAnalytics, ttl time.Duration) error {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	mc.entries[key] = cachedAnalytics{value: value.Clone(), expiresAt: mc.now().Add(ttl)}
	return nil
}
