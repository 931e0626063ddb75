package cache

import (
	"context"
	"time"

	"pricestream/internal/logger"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

var RedisClient *redis.Client // Exported for redis_rate

var (
	cacheHitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_hits_total",
			Help: "Total number of cache hits",
		},
		[]string{"component"},
	)
	cacheMissesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_misses_total",
			Help: "Total number of cache misses",
		},
		[]string{"component"},
	)
)

func init() {
	prometheus.MustRegister(cacheHitsTotal)
	prometheus.MustRegister(cacheMissesTotal)
}

// InitRedis connects the process-wide Redis client.
func InitRedis(addr string) error {
	RedisClient = redis.NewClient(&redis.Options{
		Addr: addr,
	})
	_, err := RedisClient.Ping(context.Background()).Result()
	return err
}

// GetCache returns the cached value for key, or "" on a miss. A nil
// client (tests, degraded mode) always misses.
func GetCache(ctx context.Context, key, component string) (string, error) {
	if RedisClient == nil {
		return "", nil
	}
	val, err := RedisClient.Get(ctx, key).Result()
	if err == redis.Nil {
		cacheMissesTotal.WithLabelValues(component).Inc()
		return "", nil
	}
	if err != nil {
		return "", err
	}
	cacheHitsTotal.WithLabelValues(component).Inc()
	return val, nil
}

// SetCache stores a value with a TTL.
func SetCache(ctx context.Context, key, value string, ttl time.Duration) error {
	if RedisClient == nil {
		return nil
	}
	return RedisClient.Set(ctx, key, value, ttl).Err()
}

// InvalidateByPrefix deletes every key matching prefix*.
func InvalidateByPrefix(ctx context.Context, prefix string) {
	if RedisClient == nil {
		return
	}

	keys, err := getAllKeys(ctx, prefix)
	if err != nil {
		logger.Log.Error("failed to get cache keys for invalidation",
			zap.String("prefix", prefix),
			zap.Error(err),
		)
		return
	}

	invalidated := 0
	for _, key := range keys {
		if err := RedisClient.Del(ctx, key).Err(); err != nil {
			logger.Log.Warn("failed to invalidate cache key",
				zap.String("key", key),
				zap.Error(err),
			)
		} else {
			invalidated++
		}
	}

	if invalidated > 0 {
		logger.Log.Debug("cache invalidation completed",
			zap.String("prefix", prefix),
			zap.Int("invalidated_keys", invalidated),
		)
	}
}

// Retrieve all keys matching a prefix from Redis
func getAllKeys(ctx context.Context, prefix string) ([]string, error) {
	var cursor uint64
	var keys []string
	for {
		foundKeys, nextCursor, err := RedisClient.Scan(ctx, cursor, prefix+"*", 1000).Result()
		if err != nil {
			return nil, err
		}

		keys = append(keys, foundKeys...)
		cursor = nextCursor

		if cursor == 0 {
			break
		}
	}
	return keys, nil
}
