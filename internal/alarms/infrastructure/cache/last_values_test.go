package cache_test

import (
	"context"
	"testing"

	alarms "alarm-engine/internal/alarms/domain"
	"alarm-engine/internal/alarms/infrastructure/cache"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestNewLastValuesRequiresClient(t *testing.T) {
	_, err := cache.NewLastValues(nil, 0)
	require.Error(t, err)
}

func TestLastValuesRoundTrip(t *testing.T) {
	rdb := newRedis(t)
	ctx := context.Background()
	store, err := cache.NewLastValues(rdb, 0)
	require.NoError(t, err)

	ruleID := "rule-" + uuid.NewString()
	t.Cleanup(func() { _ = rdb.Del(ctx, "alarm-engine:last-value:"+ruleID).Err() })

	got, err := store.LastValue(ctx, ruleID)
	require.NoError(t, err)
	require.Nil(t, got)

	require.NoError(t, store.SetLastValue(ctx, ruleID, alarms.Bool(true)))
	got, err = store.LastValue(ctx, ruleID)
	require.NoError(t, err)
	require.Equal(t, alarms.Bool(true), *got)

	require.NoError(t, store.SetLastValue(ctx, ruleID, alarms.Discrete("TRIP")))
	got, err = store.LastValue(ctx, ruleID)
	require.NoError(t, err)
	require.Equal(t, alarms.Discrete("TRIP"), *got)
}
