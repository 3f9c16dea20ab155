// Package idempotency serializes requests that share an idempotency key.
package idempotency

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/dmehra2102/Lesson-Booking-System/pkg/keylock"
)

var ErrKeyBusy = errors.New("idempotency key is held by another request")

// Local guards keys within one process.
type Local struct {
	locks *keylock.Map[string]
}

func NewLocal() *Local {
	return &Local{locks: keylock.New[string]()}
}

func (l *Local) Acquire(ctx context.Context, key string) (func(), error) {
	if err := l.locks.Lock(ctx, key); err != nil {
		return nil, err
	}
	return func() { l.locks.Unlock(key) }, nil
}

// releaseScript deletes the lease only if this holder still owns it.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Redis guards keys across instances with a SET NX lease. The lease expires
// after ttl so a crashed holder cannot block the key forever.
type Redis struct {
	rdb     *redis.Client
	ttl     time.Duration
	maxWait time.Duration
}

func NewRedis(rdb *redis.Client, ttl, maxWait time.Duration) *Redis {
	return &Redis{rdb: rdb, ttl: ttl, maxWait: maxWait}
}

func (r *Redis) Key(key string) string {
	return fmt.Sprintf("idem:order:%s", key)
}

func (r *Redis) Acquire(ctx context.Context, key string) (func(), error) {
	redisKey := r.Key(key)
	token := uuid.NewString()

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 10 * time.Millisecond
	b.MaxInterval = 200 * time.Millisecond
	b.MaxElapsedTime = r.maxWait

	err := backoff.Retry(func() error {
		ok, err := r.rdb.SetNX(ctx, redisKey, token, r.ttl).Result()
		if err != nil {
			return backoff.Permanent(fmt.Errorf("acquire lease: %w", err))
		}
		if !ok {
			return ErrKeyBusy
		}
		return nil
	}, backoff.WithContext(b, ctx))
	if err != nil {
		return nil, err
	}

	return func() {
		_ = releaseScript.Run(context.WithoutCancel(ctx), r.rdb, []string{redisKey}, token).Err()
	}, nil
}
