package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"alarm-engine/internal/alarms/application"
	alarms "alarm-engine/internal/alarms/domain"

	"github.com/redis/go-redis/v9"
)

const lastValuePrefix = "alarm-engine:last-value:"

// LastValues keeps each rule's previous sample in Redis so edge-triggered
// digital rules see the same history from every process.
type LastValues struct {
	rdb *redis.Client
	ttl time.Duration
}

var _ application.LastValueStore = (*LastValues)(nil)

// NewLastValues returns a Redis-backed store. A zero ttl keeps values until overwritten.
func NewLastValues(rdb *redis.Client, ttl time.Duration) (*LastValues, error) {
	if rdb == nil {
		return nil, errors.New("last values: nil redis client")
	}
	return &LastValues{rdb: rdb, ttl: ttl}, nil
}

func (l *LastValues) LastValue(ctx context.Context, ruleID string) (*alarms.Value, error) {
	raw, err := l.rdb.Get(ctx, lastValuePrefix+ruleID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("last value %s: %w", ruleID, err)
	}
	var v alarms.Value
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("last value %s: %w", ruleID, err)
	}
	if v.IsZero() {
		return nil, nil
	}
	return &v, nil
}

func (l *LastValues) SetLastValue(ctx context.Context, ruleID string, value alarms.Value) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return l.rdb.Set(ctx, lastValuePrefix+ruleID, raw, l.ttl).Err()
}
