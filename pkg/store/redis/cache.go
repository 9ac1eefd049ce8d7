package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const countTTL = 30 * time.Second

// CountCache keeps short-lived per-order admission counts so list views do
// not fan out into COUNT queries on every request. Writes after an admission
// decision invalidate the key; readers fall back to the store on a miss.
type CountCache struct {
	rdb redis.UniversalClient
}

func NewCountCache(rdb redis.UniversalClient) *CountCache {
	return &CountCache{rdb: rdb}
}

func countKey(orderID uuid.UUID) string {
	return fmt.Sprintf("cb:order:%s:admitted", orderID)
}

// Get returns the cached admitted count, or ok=false on a miss.
func (c *CountCache) Get(ctx context.Context, orderID uuid.UUID) (int, bool) {
	n, err := c.rdb.Get(ctx, countKey(orderID)).Int()
	if err != nil {
		return 0, false
	}
	return n, true
}

func (c *CountCache) Set(ctx context.Context, orderID uuid.UUID, count int) {
	c.rdb.Set(ctx, countKey(orderID), count, countTTL)
}

func (c *CountCache) Invalidate(ctx context.Context, orderID uuid.UUID) {
	c.rdb.Del(ctx, countKey(orderID))
}
