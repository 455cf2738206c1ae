package lock_test

import (
	"context"
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	alarms "alarm-engine/internal/alarms/domain"
	"alarm-engine/internal/alarms/infrastructure/lock"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newClient(t *testing.T) *redis.Client {
	t.Helper()
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = rdb.Close() })
	require.NoError(t, rdb.Ping(context.Background()).Err())
	return rdb
}

func TestNewRedisLockerRequiresClient(t *testing.T) {
	_, err := lock.NewRedisLocker(nil)
	require.Error(t, err)
}

func TestRedisLockerSerializesKey(t *testing.T) {
	rdb := newClient(t)
	locker, err := lock.NewRedisLocker(rdb, lock.WithTTL(5*time.Second), lock.WithBackoff(5*time.Millisecond))
	require.NoError(t, err)

	key := "rule-" + uuid.NewString()
	var (
		wg      sync.WaitGroup
		inside  atomic.Int32
		maxSeen atomic.Int32
		errs    = make(chan error, 8)
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			unlock, err := locker.Lock(ctx, key)
			if err != nil {
				errs <- err
				return
			}
			n := inside.Add(1)
			if n > maxSeen.Load() {
				maxSeen.Store(n)
			}
			time.Sleep(10 * time.Millisecond)
			inside.Add(-1)
			unlock()
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}
	require.EqualValues(t, 1, maxSeen.Load())
}

func TestRedisLockerBusyKey(t *testing.T) {
	rdb := newClient(t)
	locker, err := lock.NewRedisLocker(rdb, lock.WithTTL(200*time.Millisecond))
	require.NoError(t, err)

	key := "rule-" + uuid.NewString()
	unlock, err := locker.Lock(context.Background(), key)
	require.NoError(t, err)
	defer unlock()

	_, err = locker.Lock(context.Background(), key)
	require.Error(t, err)
	require.True(t, errors.Is(err, alarms.ErrDependency) || errors.Is(err, context.DeadlineExceeded))
}
