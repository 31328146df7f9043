package usage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Counter tracks per-period analysis counts in Redis. Keys carry the period
// start so a new billing period naturally starts from zero, and expire at the
// period end so stale periods clean themselves up.
type Counter struct {
	redis  *redis.Client
	logger *zap.Logger
}

// NewCounter creates a new usage counter.
func NewCounter(rdb *redis.Client, logger *zap.Logger) *Counter {
	return &Counter{redis: rdb, logger: logger}
}

func analysisKey(accountID uuid.UUID, periodStart time.Time) string {
	return fmt.Sprintf("usage:analyses:%s:%s", accountID, periodStart.UTC().Format("2006-01-02"))
}

// Increment bumps the period counter and returns the new value.
func (c *Counter) Increment(ctx context.Context, accountID uuid.UUID, periodStart, periodEnd time.Time) (int64, error) {
	key := analysisKey(accountID, periodStart)
	val, err := c.redis.Incr(ctx, key).Result()
	if err != nil {
		c.logger.Error("failed to increment analysis counter", zap.Error(err), zap.String("key", key))
		return 0, err
	}

	ttl := time.Until(periodEnd)
	if ttl > 0 {
		c.redis.Expire(ctx, key, ttl)
	}
	return val, nil
}

// Used returns the analyses counted for the period. A missing key is zero.
func (c *Counter) Used(ctx context.Context, accountID uuid.UUID, periodStart time.Time) (int64, error) {
	key := analysisKey(accountID, periodStart)
	val, err := c.redis.Get(ctx, key).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		c.logger.Error("failed to read analysis counter", zap.Error(err), zap.String("key", key))
		return 0, err
	}
	return val, nil
}
