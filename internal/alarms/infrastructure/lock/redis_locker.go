package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	alarms "alarm-engine/internal/alarms/domain"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	defaultTTL     = 30 * time.Second
	defaultBackoff = 50 * time.Millisecond
	releaseTimeout = 2 * time.Second
	keyPrefix      = "alarm-engine:lock:"
)

// RedisLocker serializes work per key across processes.
type RedisLocker struct {
	client  *redislock.Client
	ttl     time.Duration
	backoff time.Duration
	logger  *zap.Logger
}

// RedisLockerOption configures a RedisLocker.
type RedisLockerOption func(*RedisLocker)

// WithTTL sets the lease length. Work holding a lock must finish within it.
func WithTTL(ttl time.Duration) RedisLockerOption {
	return func(l *RedisLocker) {
		if ttl > 0 {
			l.ttl = ttl
		}
	}
}

// WithBackoff sets the retry interval while a key is held elsewhere.
func WithBackoff(backoff time.Duration) RedisLockerOption {
	return func(l *RedisLocker) {
		if backoff > 0 {
			l.backoff = backoff
		}
	}
}

// WithLogger sets the logger used for release failures.
func WithLogger(logger *zap.Logger) RedisLockerOption {
	return func(l *RedisLocker) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// NewRedisLocker constructs a locker on rdb.
func NewRedisLocker(rdb *redis.Client, opts ...RedisLockerOption) (*RedisLocker, error) {
	if rdb == nil {
		return nil, errors.New("redis locker: nil client")
	}
	l := &RedisLocker{
		client:  redislock.New(rdb),
		ttl:     defaultTTL,
		backoff: defaultBackoff,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Lock retries until the key is obtained or ctx is done. Without a ctx
// deadline it gives up after one TTL.
func (l *RedisLocker) Lock(ctx context.Context, key string) (func(), error) {
	if l == nil || l.client == nil {
		return nil, errors.New("redis locker: nil client")
	}
	lease, err := l.client.Obtain(ctx, keyPrefix+key, l.ttl, &redislock.Options{
		RetryStrategy: redislock.LinearBackoff(l.backoff),
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if errors.Is(err, redislock.ErrNotObtained) {
			return nil, alarms.Dependency("lock", fmt.Errorf("%s is busy: %w", key, err))
		}
		return nil, alarms.Dependency("lock", err)
	}
	return func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
		defer cancel()
		if err := lease.Release(releaseCtx); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
			l.logger.Warn("redis lock release failed", zap.String("key", key), zap.Error(err))
		}
	}, nil
}
