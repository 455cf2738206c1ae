package cli

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	alarmapp "alarm-engine/internal/alarms/application"
	"alarm-engine/internal/alarms/infrastructure/cache"
	"alarm-engine/internal/alarms/infrastructure/lock"
	"alarm-engine/internal/alarms/infrastructure/memory"
	alarmrepo "alarm-engine/internal/alarms/infrastructure/postgres"
	alarmhttp "alarm-engine/internal/alarms/interfaces/http"
	"alarm-engine/internal/alarms/notify"
	"alarm-engine/internal/alarms/script"
	"alarm-engine/internal/audit"
	"alarm-engine/internal/config"
	"alarm-engine/internal/eventing"
	outboxmemory "alarm-engine/internal/eventing/infrastructure/memory"
	outboxrepo "alarm-engine/internal/eventing/infrastructure/postgres"
	"alarm-engine/internal/observability/metrics"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const pingTimeout = 5 * time.Second

// app holds the wired engine for one process.
type app struct {
	cfg    config.Config
	logger *zap.Logger

	db    *sql.DB
	redis *redis.Client
	mqtt  *notify.MQTTPublisher

	rules       alarmapp.RuleStore
	occurrences alarmapp.OccurrenceStore
	templates   alarmapp.TemplateStore

	broker     *alarmhttp.SSEBroker
	relay      *eventing.Relay
	dispatcher *notify.MultiDispatcher
	auditLog   audit.Logger

	alarmSvc    *alarmapp.Service
	ruleSvc     *alarmapp.RuleService
	templateSvc *alarmapp.TemplateService
	statsSvc    *alarmapp.StatisticsService
}

func newApp(ctx context.Context, cfg config.Config, logger *zap.Logger) (_ *app, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &app{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	if err := a.openStorage(ctx); err != nil {
		return nil, err
	}
	if err := a.openRedis(ctx); err != nil {
		return nil, err
	}
	metrics.Init(a.db, logger)

	locker, err := a.buildLocker()
	if err != nil {
		return nil, err
	}
	if cfg.Storage == "postgres" && cfg.RuleCacheTTL > 0 {
		cached, err := cache.NewRuleCache(a.rules, cache.Options{
			Redis:     a.redis,
			TTL:       cfg.RuleCacheTTL,
			LocalSize: cfg.RuleCacheSize,
			Logger:    logger,
		})
		if err != nil {
			return nil, err
		}
		a.rules = cached
	}

	if err := a.buildDispatcher(); err != nil {
		return nil, err
	}

	if a.db != nil {
		a.auditLog = audit.NewRepository(a.db)
	} else {
		a.auditLog = audit.NewZapLogger(logger)
	}

	opts := []alarmapp.Option{
		alarmapp.WithLogger(logger),
		alarmapp.WithLocker(locker),
		alarmapp.WithDispatcher(a.dispatcher),
		alarmapp.WithScriptEvaluator(script.NewEvaluator()),
		alarmapp.WithApplyConcurrency(cfg.ApplyConcurrency),
		alarmapp.WithApplyTimeout(cfg.ApplyTimeout),
		alarmapp.WithBulkConcurrency(cfg.BulkConcurrency),
		alarmapp.WithStatisticsWindow(cfg.StatisticsWindowDays),
		alarmapp.WithLocation(cfg.Location()),
	}
	if a.redis != nil {
		lastValues, err := cache.NewLastValues(a.redis, 0)
		if err != nil {
			return nil, err
		}
		opts = append(opts, alarmapp.WithLastValueStore(lastValues))
	}
	if a.alarmSvc, err = alarmapp.NewService(a.rules, a.occurrences, opts...); err != nil {
		return nil, err
	}
	if a.ruleSvc, err = alarmapp.NewRuleService(a.rules, opts...); err != nil {
		return nil, err
	}
	if a.templateSvc, err = alarmapp.NewTemplateService(a.templates, a.ruleSvc, opts...); err != nil {
		return nil, err
	}
	if a.statsSvc, err = alarmapp.NewStatisticsService(a.rules, a.occurrences, opts...); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *app) openStorage(ctx context.Context) error {
	switch a.cfg.Storage {
	case "postgres":
		db, err := sql.Open("pgx", a.cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("db open: %w", err)
		}
		a.db = db
		pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
		defer cancel()
		if err := db.PingContext(pingCtx); err != nil {
			return fmt.Errorf("db ping: %w", err)
		}
		if err := alarmrepo.Migrate(ctx, db); err != nil {
			return fmt.Errorf("db migrate: %w", err)
		}
		a.rules = alarmrepo.NewAlarmRuleRepository(db)
		a.occurrences = alarmrepo.NewAlarmOccurrenceRepository(db)
		a.templates = alarmrepo.NewAlarmTemplateRepository(db)
	case "memory", "":
		a.rules = memory.NewRuleStore()
		a.occurrences = memory.NewOccurrenceStore()
		a.templates = memory.NewTemplateStore()
	default:
		return fmt.Errorf("unknown storage %q", a.cfg.Storage)
	}
	return nil
}

func (a *app) openRedis(ctx context.Context) error {
	if a.cfg.RedisAddr == "" {
		return nil
	}
	a.redis = redis.NewClient(&redis.Options{
		Addr:     a.cfg.RedisAddr,
		Password: a.cfg.RedisPassword,
		DB:       a.cfg.RedisDB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := a.redis.Ping(pingCtx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

func (a *app) buildLocker() (alarmapp.Locker, error) {
	if a.cfg.Lock != "redis" {
		return alarmapp.NewKeyedMutex(), nil
	}
	if a.redis == nil {
		return nil, errors.New("redis lock requires redis_addr")
	}
	locker, err := lock.NewRedisLocker(a.redis, lock.WithTTL(a.cfg.LockTTL), lock.WithLogger(a.logger))
	if err != nil {
		return nil, err
	}
	return locker, nil
}

func (a *app) buildDispatcher() error {
	var targets []notify.Named
	if a.cfg.Events.SSE {
		a.broker = alarmhttp.NewSSEBroker()
		targets = append(targets, notify.Named{Name: "sse", Dispatcher: a.broker})
	}

	var external []notify.Named
	if a.redis != nil && a.cfg.Events.RedisChannel != "" {
		pub, err := notify.NewRedisPublisher(a.redis, a.cfg.Events.RedisChannel)
		if err != nil {
			return err
		}
		external = append(external, notify.Named{Name: "redis", Dispatcher: pub})
	}
	if a.cfg.Events.MQTTBroker != "" {
		pub, err := notify.DialMQTT(notify.MQTTConfig{
			Broker:   a.cfg.Events.MQTTBroker,
			ClientID: a.cfg.Events.MQTTClientID,
			Username: a.cfg.Events.MQTTUsername,
			Password: a.cfg.Events.MQTTPassword,
			Topic:    a.cfg.Events.MQTTTopic,
			QoS:      byte(a.cfg.Events.MQTTQoS),
			Timeout:  a.cfg.Events.MQTTTimeout,
		})
		if err != nil {
			return err
		}
		a.mqtt = pub
		external = append(external, notify.Named{Name: "mqtt", Dispatcher: pub})
	}
	if a.cfg.Webhook.URL != "" {
		notifier, err := a.buildNotifier()
		if err != nil {
			return err
		}
		external = append(external, notify.Named{Name: "webhook", Dispatcher: notifier})
	}

	if a.cfg.Events.Outbox && len(external) > 0 {
		outbox, err := a.buildOutbox(notify.NewMultiDispatcher(external...))
		if err != nil {
			return err
		}
		targets = append(targets, notify.Named{Name: "outbox", Dispatcher: outbox})
	} else {
		targets = append(targets, external...)
	}
	a.dispatcher = notify.NewMultiDispatcher(targets...)
	a.logger.Info("alarm dispatchers ready", zap.Int("count", a.dispatcher.Len()))
	return nil
}

// buildOutbox routes external deliveries through a retrying outbox.
func (a *app) buildOutbox(next alarmapp.Dispatcher) (*eventing.Outbox, error) {
	var store eventing.Store = outboxmemory.NewOutboxStore()
	if a.db != nil {
		pgStore, err := outboxrepo.NewOutboxStore(a.db)
		if err != nil {
			return nil, err
		}
		store = pgStore
	}
	relay, err := eventing.NewRelay(store, next,
		eventing.WithMaxAttempts(a.cfg.Events.OutboxMaxAttempts),
		eventing.WithLogger(a.logger))
	if err != nil {
		return nil, err
	}
	a.relay = relay
	return eventing.NewOutbox(store, relay, a.logger)
}

func (a *app) buildNotifier() (*notify.Notifier, error) {
	channel, err := notify.NewWebhookChannel(a.cfg.Webhook.URL)
	if err != nil {
		return nil, err
	}
	tpl, err := notify.NewTemplate(a.cfg.Webhook.Template)
	if err != nil {
		return nil, err
	}
	return notify.NewNotifier(a.occurrences, channel, tpl,
		notify.WithEscalation(a.cfg.Webhook.EscalateAfter),
		notify.WithCooldown(a.cfg.Webhook.Cooldown),
		notify.WithDedupeWindow(a.cfg.Webhook.DedupeWindow),
		notify.WithRequestTimeout(a.cfg.Webhook.Timeout),
		notify.WithLogger(a.logger),
	)
}

func (a *app) services() alarmhttp.Services {
	return alarmhttp.Services{
		Rules:      a.ruleSvc,
		Alarms:     a.alarmSvc,
		Templates:  a.templateSvc,
		Statistics: a.statsSvc,
	}
}

// Close releases external connections.
func (a *app) Close() {
	if a == nil {
		return
	}
	if a.mqtt != nil {
		a.mqtt.Close()
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Warn("redis close failed", zap.Error(err))
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.logger.Warn("db close failed", zap.Error(err))
		}
	}
}
