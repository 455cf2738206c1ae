package cache_test

import (
	"context"
	"errors"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"alarm-engine/internal/alarms/application"
	alarms "alarm-engine/internal/alarms/domain"
	"alarm-engine/internal/alarms/infrastructure/cache"
	"alarm-engine/internal/alarms/infrastructure/memory"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

type countingStore struct {
	*memory.RuleStore
	gets atomic.Int32
}

func (s *countingStore) Get(ctx context.Context, id string) (*alarms.AlarmRule, error) {
	s.gets.Add(1)
	return s.RuleStore.Get(ctx, id)
}

var _ application.RuleStore = (*countingStore)(nil)

func seedRule(t *testing.T, store application.RuleStore) alarms.AlarmRule {
	t.Helper()
	now := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	rule := alarms.AlarmRule{
		ID:            "rule-1",
		TenantID:      "tenant-1",
		TargetType:    alarms.TargetPoint,
		TargetID:      "p-1",
		Name:          "Tank Level",
		ConditionType: alarms.ConditionThreshold,
		HighLimit:     alarms.Float(90),
		Severity:      alarms.SeverityMinor,
		IsEnabled:     true,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	require.NoError(t, store.Create(context.Background(), &rule))
	return rule
}

func TestRuleCacheServesRepeatedReads(t *testing.T) {
	store := &countingStore{RuleStore: memory.NewRuleStore()}
	rc, err := cache.NewRuleCache(store, cache.Options{TTL: time.Minute})
	require.NoError(t, err)
	seedRule(t, rc)

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		got, err := rc.Get(ctx, "rule-1")
		require.NoError(t, err)
		require.Equal(t, "Tank Level", got.Name)
		require.Equal(t, 90.0, *got.HighLimit)
	}
	require.EqualValues(t, 1, store.gets.Load())
}

func TestRuleCacheInvalidatesOnUpdate(t *testing.T) {
	store := &countingStore{RuleStore: memory.NewRuleStore()}
	rc, err := cache.NewRuleCache(store, cache.Options{})
	require.NoError(t, err)
	seedRule(t, rc)

	ctx := context.Background()
	_, err = rc.Get(ctx, "rule-1")
	require.NoError(t, err)

	name := "Tank Level Renamed"
	_, err = rc.Update(ctx, "rule-1", alarms.RulePatch{Name: &name}, time.Now())
	require.NoError(t, err)

	got, err := rc.Get(ctx, "rule-1")
	require.NoError(t, err)
	require.Equal(t, name, got.Name)
	require.EqualValues(t, 2, store.gets.Load())

	require.NoError(t, rc.SoftDelete(ctx, "rule-1", time.Now()))
	got, err = rc.Get(ctx, "rule-1")
	require.NoError(t, err)
	require.True(t, got.Deleted())
}

func TestRuleCacheDoesNotCacheMisses(t *testing.T) {
	store := &countingStore{RuleStore: memory.NewRuleStore()}
	rc, err := cache.NewRuleCache(store, cache.Options{})
	require.NoError(t, err)

	_, err = rc.Get(context.Background(), "missing")
	require.True(t, errors.Is(err, alarms.ErrNotFound))
	_, err = rc.Get(context.Background(), "missing")
	require.True(t, errors.Is(err, alarms.ErrNotFound))
	require.EqualValues(t, 2, store.gets.Load())
}

func TestNewRuleCacheRequiresStore(t *testing.T) {
	_, err := cache.NewRuleCache(nil, cache.Options{})
	require.Error(t, err)
}

func newRedis(t *testing.T) *redis.Client {
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

func TestRuleCacheSharedInvalidation(t *testing.T) {
	rdb := newRedis(t)
	ctx := context.Background()
	t.Cleanup(func() { _ = rdb.Del(ctx, "alarm-engine:rule:rule-1").Err() })
	require.NoError(t, rdb.Del(ctx, "alarm-engine:rule:rule-1").Err())

	store := &countingStore{RuleStore: memory.NewRuleStore()}
	first, err := cache.NewRuleCache(store, cache.Options{Redis: rdb, TTL: time.Minute})
	require.NoError(t, err)
	second, err := cache.NewRuleCache(store, cache.Options{Redis: rdb, TTL: time.Minute})
	require.NoError(t, err)
	seedRule(t, first)

	got, err := first.Get(ctx, "rule-1")
	require.NoError(t, err)
	require.True(t, got.IsEnabled)

	disabled := false
	_, err = second.Update(ctx, "rule-1", alarms.RulePatch{IsEnabled: &disabled}, time.Now())
	require.NoError(t, err)

	got, err = first.Get(ctx, "rule-1")
	require.NoError(t, err)
	require.False(t, got.IsEnabled)
}
