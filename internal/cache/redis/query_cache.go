package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/alanyoungcy/depthmap/internal/domain"
	"github.com/redis/go-redis/v9"
)

// QueryCache implements domain.QueryCache with plain string keys under the
// "qc:" prefix.
type QueryCache struct {
	rdb *redis.Client
}

// NewQueryCache creates a QueryCache backed by the given Client.
func NewQueryCache(c *Client) *QueryCache {
	return &QueryCache{rdb: c.Underlying()}
}

func queryCacheKey(key string) string { return "qc:" + key }

// Get returns the cached value or domain.ErrNotFound.
func (qc *QueryCache) Get(ctx context.Context, key string) ([]byte, error) {
	b, err := qc.rdb.Get(ctx, queryCacheKey(key)).Bytes()
	if err == redis.Nil {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis: query cache get %s: %w", key, err)
	}
	return b, nil
}

// Set stores value for ttl.
func (qc *QueryCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := qc.rdb.Set(ctx, queryCacheKey(key), value, ttl).Err(); err != nil {
		return fmt.Errorf("redis: query cache set %s: %w", key, err)
	}
	return nil
}

var _ domain.QueryCache = (*QueryCache)(nil)
