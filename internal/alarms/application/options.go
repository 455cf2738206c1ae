package application

import (
	"time"

	alarms "alarm-engine/internal/alarms/domain"

	"go.uber.org/zap"
)

const (
	defaultApplyConcurrency  = 8
	defaultStatisticsWindow  = 30
	defaultBulkConcurrency   = 8
	acknowledgeTimeoutReason = "acknowledge timeout"
)

type options struct {
	dispatcher       Dispatcher
	locker           Locker
	clock            Clock
	ids              IDGenerator
	logger           *zap.Logger
	script           alarms.ScriptEvaluator
	lastValues       LastValueStore
	applyConcurrency int
	applyTimeout     time.Duration
	bulkConcurrency  int
	statsWindow      int
	location         *time.Location
}

// Option configures the alarm services.
type Option func(*options)

// WithDispatcher assigns the lifecycle event dispatcher.
func WithDispatcher(dispatcher Dispatcher) Option {
	return func(o *options) {
		o.dispatcher = dispatcher
	}
}

// WithLocker assigns the per-rule locker. Share one locker between services.
func WithLocker(locker Locker) Option {
	return func(o *options) {
		if locker != nil {
			o.locker = locker
		}
	}
}

// WithClock assigns a clock.
func WithClock(clock Clock) Option {
	return func(o *options) {
		if clock != nil {
			o.clock = clock
		}
	}
}

// WithIDGenerator overrides record id generation.
func WithIDGenerator(ids IDGenerator) Option {
	return func(o *options) {
		if ids != nil {
			o.ids = ids
		}
	}
}

// WithLogger assigns a logger.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithScriptEvaluator enables script rules.
func WithScriptEvaluator(script alarms.ScriptEvaluator) Option {
	return func(o *options) {
		o.script = script
	}
}

// WithLastValueStore shares last-sample state between processes. The
// default is process-local.
func WithLastValueStore(store LastValueStore) Option {
	return func(o *options) {
		if store != nil {
			o.lastValues = store
		}
	}
}

// WithApplyConcurrency bounds parallel target processing in template application.
func WithApplyConcurrency(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.applyConcurrency = n
		}
	}
}

// WithApplyTimeout bounds a whole template application; unprocessed targets fail.
func WithApplyTimeout(timeout time.Duration) Option {
	return func(o *options) {
		if timeout > 0 {
			o.applyTimeout = timeout
		}
	}
}

// WithBulkConcurrency bounds parallel items in bulk rule updates.
func WithBulkConcurrency(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.bulkConcurrency = n
		}
	}
}

// WithStatisticsWindow sets the default statistics window in days.
func WithStatisticsWindow(days int) Option {
	return func(o *options) {
		if days > 0 {
			o.statsWindow = days
		}
	}
}

// WithLocation sets the zone used for calendar buckets.
func WithLocation(loc *time.Location) Option {
	return func(o *options) {
		if loc != nil {
			o.location = loc
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{
		locker:           NewKeyedMutex(),
		lastValues:       NewLastValueMemory(),
		clock:            systemClock{},
		ids:              uuidGenerator{},
		logger:           zap.NewNop(),
		applyConcurrency: defaultApplyConcurrency,
		bulkConcurrency:  defaultBulkConcurrency,
		statsWindow:      defaultStatisticsWindow,
		location:         time.UTC,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
