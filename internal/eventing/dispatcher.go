package eventing

import (
	"context"
	"errors"
	"sync"
	"time"

	alarmapp "alarm-engine/internal/alarms/application"
	"alarm-engine/internal/observability/metrics"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

const (
	defaultBatch       = 50
	defaultMaxAttempts = 5
	defaultRelaySpec   = "@every 10s"
	relayTimeout       = 30 * time.Second
)

// Store persists outbox records.
type Store interface {
	Insert(ctx context.Context, env Envelope) (string, error)
	ListPending(ctx context.Context, limit int) ([]Record, error)
	MarkSent(ctx context.Context, id string) error
	// MarkFailed bumps attempts and records cause; dead moves the record out
	// of the pending set.
	MarkFailed(ctx context.Context, id string, cause error, dead bool) error
}

// Relay delivers pending outbox records to a downstream dispatcher. Passes
// are serialized within one process; delivery is at least once.
type Relay struct {
	mu          sync.Mutex
	store       Store
	next        alarmapp.Dispatcher
	maxAttempts int
	logger      *zap.Logger
	cron        *cron.Cron
}

// RelayOption configures a Relay.
type RelayOption func(*Relay)

// WithMaxAttempts sets the number of delivery attempts before a record is dead-lettered.
func WithMaxAttempts(n int) RelayOption {
	return func(r *Relay) {
		if n > 0 {
			r.maxAttempts = n
		}
	}
}

// WithLogger sets the relay logger.
func WithLogger(logger *zap.Logger) RelayOption {
	return func(r *Relay) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewRelay constructs a relay.
func NewRelay(store Store, next alarmapp.Dispatcher, opts ...RelayOption) (*Relay, error) {
	if store == nil || next == nil {
		return nil, errors.New("eventing relay: nil dependency")
	}
	r := &Relay{store: store, next: next, maxAttempts: defaultMaxAttempts, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Dispatch pulls up to limit pending records and delivers them in order.
// It returns the number delivered.
func (r *Relay) Dispatch(ctx context.Context, limit int) (int, error) {
	if r == nil {
		return 0, nil
	}
	if limit <= 0 {
		limit = defaultBatch
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	records, err := r.store.ListPending(ctx, limit)
	if err != nil {
		return 0, err
	}

	sent := 0
	for _, record := range records {
		if err := ctx.Err(); err != nil {
			return sent, err
		}
		event, err := record.Envelope.Event()
		if err != nil {
			r.fail(ctx, record, err, true)
			continue
		}
		if err := r.next.Publish(WithEnvelope(ctx, record.Envelope), event); err != nil {
			r.fail(ctx, record, err, record.Attempts+1 >= r.maxAttempts)
			continue
		}
		if err := r.store.MarkSent(ctx, record.ID); err != nil {
			r.logger.Warn("outbox mark sent failed", zap.String("outbox_id", record.ID), zap.Error(err))
			continue
		}
		sent++
	}
	return sent, nil
}

func (r *Relay) fail(ctx context.Context, record Record, cause error, dead bool) {
	metrics.IncDispatchFailure("outbox")
	fields := []zap.Field{
		zap.String("outbox_id", record.ID),
		zap.String("event_id", record.Envelope.EventID),
		zap.String("event_type", string(record.Envelope.EventType)),
		zap.Int("attempts", record.Attempts+1),
		zap.Error(cause),
	}
	if dead {
		r.logger.Error("outbox record dead-lettered", fields...)
	} else {
		r.logger.Warn("outbox delivery failed", fields...)
	}
	if err := r.store.MarkFailed(ctx, record.ID, cause, dead); err != nil {
		r.logger.Warn("outbox mark failed", zap.String("outbox_id", record.ID), zap.Error(err))
	}
}

// Start schedules background retries with a cron spec or descriptor.
func (r *Relay) Start(spec string) error {
	if r == nil {
		return errors.New("eventing relay: nil relay")
	}
	if spec == "" {
		spec = defaultRelaySpec
	}
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := c.AddFunc(spec, r.run); err != nil {
		return err
	}
	r.cron = c
	c.Start()
	return nil
}

// Stop halts retries and waits for a running pass or ctx.
func (r *Relay) Stop(ctx context.Context) {
	if r == nil || r.cron == nil {
		return
	}
	done := r.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
	}
}

func (r *Relay) run() {
	ctx, cancel := context.WithTimeout(context.Background(), relayTimeout)
	defer cancel()
	if _, err := r.Dispatch(ctx, defaultBatch); err != nil {
		r.logger.Warn("outbox relay pass failed", zap.Error(err))
	}
}
