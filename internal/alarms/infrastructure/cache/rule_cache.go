package cache

import (
	"context"
	"errors"
	"time"

	"alarm-engine/internal/alarms/application"
	alarms "alarm-engine/internal/alarms/domain"

	gocache "github.com/go-redis/cache/v9"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	defaultTTL       = time.Minute
	defaultLocalSize = 1000
	keyPrefix        = "alarm-engine:rule:"
)

// Options configures a RuleCache.
type Options struct {
	// Redis switches the cache to a shared Redis tier. Nil keeps it process-local.
	Redis     *redis.Client
	TTL       time.Duration
	LocalSize int
	Logger    *zap.Logger
}

// RuleCache decorates a RuleStore with a read-through cache for Get.
// Writes go to the store first and then invalidate the cached entry.
//
// Without Redis the cache is an in-process TinyLFU. With Redis the local tier
// is off, so an invalidation by any process is seen by all of them.
type RuleCache struct {
	next   application.RuleStore
	cache  *gocache.Cache
	ttl    time.Duration
	logger *zap.Logger
}

// NewRuleCache wraps next.
func NewRuleCache(next application.RuleStore, opts Options) (*RuleCache, error) {
	if next == nil {
		return nil, errors.New("rule cache: nil store")
	}
	if opts.TTL <= 0 {
		opts.TTL = defaultTTL
	}
	if opts.LocalSize <= 0 {
		opts.LocalSize = defaultLocalSize
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	cacheOpts := &gocache.Options{}
	if opts.Redis != nil {
		cacheOpts.Redis = opts.Redis
	} else {
		cacheOpts.LocalCache = gocache.NewTinyLFU(opts.LocalSize, opts.TTL)
	}
	return &RuleCache{
		next:   next,
		cache:  gocache.New(cacheOpts),
		ttl:    opts.TTL,
		logger: opts.Logger,
	}, nil
}

// Get returns the cached rule or loads it from the store.
func (c *RuleCache) Get(ctx context.Context, id string) (*alarms.AlarmRule, error) {
	var rule alarms.AlarmRule
	err := c.cache.Once(&gocache.Item{
		Ctx:   ctx,
		Key:   ruleKey(id),
		Value: &rule,
		TTL:   c.ttl,
		Do: func(*gocache.Item) (interface{}, error) {
			loaded, err := c.next.Get(ctx, id)
			if err != nil {
				return nil, err
			}
			return loaded, nil
		},
	})
	if err != nil {
		return nil, err
	}
	// msgpack decodes times in the local zone.
	rule.CreatedAt = rule.CreatedAt.UTC()
	rule.UpdatedAt = rule.UpdatedAt.UTC()
	if rule.DeletedAt != nil {
		at := rule.DeletedAt.UTC()
		rule.DeletedAt = &at
	}
	return &rule, nil
}

// FindAll is not cached.
func (c *RuleCache) FindAll(ctx context.Context, filter application.RuleFilter) ([]alarms.AlarmRule, error) {
	return c.next.FindAll(ctx, filter)
}

// Create stores rule and drops any stale entry for its id.
func (c *RuleCache) Create(ctx context.Context, rule *alarms.AlarmRule) error {
	if err := c.next.Create(ctx, rule); err != nil {
		return err
	}
	if rule != nil {
		c.invalidate(ctx, rule.ID)
	}
	return nil
}

// Update writes through and invalidates.
func (c *RuleCache) Update(ctx context.Context, id string, patch alarms.RulePatch, at time.Time) (*alarms.AlarmRule, error) {
	updated, err := c.next.Update(ctx, id, patch, at)
	c.invalidate(ctx, id)
	return updated, err
}

// SoftDelete writes through and invalidates.
func (c *RuleCache) SoftDelete(ctx context.Context, id string, at time.Time) error {
	err := c.next.SoftDelete(ctx, id, at)
	c.invalidate(ctx, id)
	return err
}

func (c *RuleCache) invalidate(ctx context.Context, id string) {
	if err := c.cache.Delete(ctx, ruleKey(id)); err != nil && !errors.Is(err, gocache.ErrCacheMiss) {
		c.logger.Warn("rule cache invalidate failed", zap.String("rule_id", id), zap.Error(err))
	}
}

func ruleKey(id string) string {
	return keyPrefix + id
}
