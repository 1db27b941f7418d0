// Package rediscache implements the namespaced key-value cache the billing
// lifecycles read through. Keys follow the entity-kind namespace convention
// (invoice:*, service:*, coupon:*); DelPattern takes a glob in the same
// form.
package rediscache

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/maybeizen/fluxo-sub000/pkg/observability"
	"github.com/maybeizen/fluxo-sub000/pkg/storage"
)

// Cache is a redis-backed implementation of the billing cache contract
type Cache struct {
	client  *redis.Client
	logger  *observability.Logger
	metrics *observability.Metrics
}

// New creates a new Cache and verifies the redis connection
func New(config storage.Config, logger *observability.Logger, metrics *observability.Metrics) (*Cache, error) {
	opts, err := redis.ParseURL(config.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	if config.RedisPassword != "" {
		opts.Password = config.RedisPassword
	}
	if config.RedisDB > 0 {
		opts.DB = config.RedisDB
	}
	if config.RedisMaxRetries > 0 {
		opts.MaxRetries = config.RedisMaxRetries
	}
	if config.RedisPoolSize > 0 {
		opts.PoolSize = config.RedisPoolSize
	}

	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &Cache{
		client:  client,
		logger:  logger,
		metrics: metrics,
	}, nil
}

// namespace extracts the entity-kind prefix from a key for metrics
func namespace(key string) string {
	if i := strings.IndexByte(key, ':'); i > 0 {
		return key[:i]
	}
	return "unknown"
}

// Get fetches a key. A miss, an error, or a nil client all report absent;
// cache failures never surface to the caller.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, bool) {
	data, err := c.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		if c.metrics != nil {
			c.metrics.CacheMissesTotal.WithLabelValues(namespace(key)).Inc()
		}
		return nil, false
	}
	if err != nil {
		c.logger.WithError(err).WithField("key", key).Debug("cache get failed")
		return nil, false
	}
	if c.metrics != nil {
		c.metrics.CacheHitsTotal.WithLabelValues(namespace(key)).Inc()
	}
	return data, true
}

// Set stores a value with a TTL
func (c *Cache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) bool {
	if err := c.client.Set(ctx, key, value, ttl).Err(); err != nil {
		c.logger.WithError(err).WithField("key", key).Debug("cache set failed")
		return false
	}
	return true
}

// Del removes keys
func (c *Cache) Del(ctx context.Context, keys ...string) bool {
	if len(keys) == 0 {
		return true
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		c.logger.WithError(err).Debug("cache del failed")
		return false
	}
	return true
}

// DelPattern removes every key matching a glob pattern using SCAN, so a
// large keyspace is never blocked the way KEYS would.
func (c *Cache) DelPattern(ctx context.Context, pattern string) bool {
	var cursor uint64
	for {
		keys, next, err := c.client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			c.logger.WithError(err).WithField("pattern", pattern).Debug("cache scan failed")
			return false
		}
		if len(keys) > 0 {
			if err := c.client.Del(ctx, keys...).Err(); err != nil {
				c.logger.WithError(err).WithField("pattern", pattern).Debug("cache del failed")
				return false
			}
		}
		cursor = next
		if cursor == 0 {
			return true
		}
	}
}

// Client exposes the underlying redis client for health checks
func (c *Cache) Client() *redis.Client {
	return c.client
}

// Close closes the redis connection
func (c *Cache) Close() error {
	return c.client.Close()
}
