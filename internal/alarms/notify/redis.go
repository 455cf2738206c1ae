package notify

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"alarm-engine/internal/alarms/application"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisChannel is the pub/sub channel prefix for lifecycle events.
const DefaultRedisChannel = "alarm-engine:events"

// RedisPublisher publishes lifecycle events as JSON on Redis pub/sub.
// Events go to "<channel>:<tenant>" so subscribers can filter by tenant
// or use PSUBSCRIBE "<channel>:*".
type RedisPublisher struct {
	client  redis.UniversalClient
	channel string
}

// NewRedisPublisher constructs a publisher.
func NewRedisPublisher(client redis.UniversalClient, channel string) (*RedisPublisher, error) {
	if client == nil {
		return nil, errors.New("redis publisher: nil client")
	}
	channel = strings.TrimSpace(channel)
	if channel == "" {
		channel = DefaultRedisChannel
	}
	return &RedisPublisher{client: client, channel: channel}, nil
}

// Channel returns the channel an event for tenantID is published on.
func (p *RedisPublisher) Channel(tenantID string) string {
	return p.channel + ":" + tenantID
}

// Publish implements application.Dispatcher.
func (p *RedisPublisher) Publish(ctx context.Context, event application.Event) error {
	if p == nil || p.client == nil {
		return errors.New("redis publisher: nil client")
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return p.client.Publish(ctx, p.Channel(event.TenantID), payload).Err()
}
