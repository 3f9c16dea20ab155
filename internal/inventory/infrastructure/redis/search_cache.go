package redis

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/dmehra2102/Lesson-Booking-System/internal/inventory/application"
	"github.com/dmehra2102/Lesson-Booking-System/internal/inventory/domain"
	"github.com/dmehra2102/Lesson-Booking-System/pkg/logging"
)

const searchKeyPrefix = "slots:search:"

// cachedCatalog serves repeated searches from Redis. Cached availability can
// be stale for up to the TTL; reservations always go to the store.
type cachedCatalog struct {
	next     application.Catalog
	rdb      *redis.Client
	log      *zap.Logger
	cacheTTL time.Duration
}

func NewCachedCatalog(log *zap.Logger, next application.Catalog, rdb *redis.Client, ttl time.Duration) application.Catalog {
	return &cachedCatalog{
		next:     next,
		rdb:      rdb,
		log:      log,
		cacheTTL: ttl,
	}
}

func (c *cachedCatalog) List(ctx context.Context) ([]domain.Slot, error) {
	return c.next.List(ctx)
}

func (c *cachedCatalog) Get(ctx context.Context, id int64) (domain.Slot, error) {
	return c.next.Get(ctx, id)
}

func (c *cachedCatalog) Search(ctx context.Context, query string) ([]domain.Slot, error) {
	key := searchKeyPrefix + strings.ToLower(strings.TrimSpace(query))

	val, err := c.rdb.Get(ctx, key).Bytes()
	if err == nil {
		var slots []domain.Slot
		if err := json.Unmarshal(val, &slots); err == nil {
			return slots, nil
		}
	} else if !errors.Is(err, redis.Nil) {
		logging.Warn(ctx, c.log, "search cache read failed", zap.Error(err))
	}

	slots, err := c.next.Search(ctx, query)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(slots); err == nil {
		if err := c.rdb.Set(ctx, key, data, c.cacheTTL).Err(); err != nil {
			logging.Warn(ctx, c.log, "search cache write failed", zap.Error(err))
		}
	}
	return slots, nil
}

func (c *cachedCatalog) Update(ctx context.Context, id int64, update domain.SlotUpdate) (domain.Slot, error) {
	slot, err := c.next.Update(ctx, id, update)
	if err != nil {
		return domain.Slot{}, err
	}
	c.invalidate(ctx)
	return slot, nil
}

func (c *cachedCatalog) Seed(ctx context.Context, slots []domain.Slot) error {
	if err := c.next.Seed(ctx, slots); err != nil {
		return err
	}
	c.invalidate(ctx)
	return nil
}

func (c *cachedCatalog) invalidate(ctx context.Context) {
	iter := c.rdb.Scan(ctx, 0, searchKeyPrefix+"*", 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		logging.Warn(ctx, c.log, "search cache scan failed", zap.Error(err))
		return
	}
	if len(keys) == 0 {
		return
	}
	if err := c.rdb.Del(ctx, keys...).Err(); err != nil {
		logging.Warn(ctx, c.log, "search cache invalidation failed", zap.Error(err))
	}
}
