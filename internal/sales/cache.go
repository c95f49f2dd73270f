package sales

import (
	"context"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const productCacheKeyPrefix = "products:"

// ProductCache invalidates the cached product listing for a store after a
// settlement changed stock levels. Invalidation is fire-and-forget; a failed
// delete only means a stale listing until the key expires.
type ProductCache struct {
	client *redis.Client
	logger *slog.Logger
}

// NewProductCache builds ProductCache.
func NewProductCache(client *redis.Client, logger *slog.Logger) *ProductCache {
	if logger == nil {
		logger = slog.Default()
	}
	return &ProductCache{client: client, logger: logger}
}

// Invalidate drops the store's product cache key. Errors are logged, never
// returned.
func (c *ProductCache) Invalidate(ctx context.Context, storeID string) {
	if c == nil || c.client == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	if err := c.client.Del(ctx, productCacheKeyPrefix+storeID).Err(); err != nil {
		c.logger.Warn("product cache invalidation failed", "store_id", storeID, "error", err)
	}
}
