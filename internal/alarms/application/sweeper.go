package application

import (
	"context"
	"errors"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

const (
	DefaultSweepSpec    = "@every 1m"
	defaultSweepTimeout = 30 * time.Second
)

// AckTimeoutSweeper periodically acknowledges occurrences past their rule's acknowledge timeout.
type AckTimeoutSweeper struct {
	service *Service
	cron    *cron.Cron
	logger  *zap.Logger
	timeout time.Duration
}

// NewAckTimeoutSweeper schedules sweeps with a standard cron spec or descriptor.
func NewAckTimeoutSweeper(service *Service, spec string, logger *zap.Logger) (*AckTimeoutSweeper, error) {
	if service == nil {
		return nil, errors.New("alarms: nil service")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if spec == "" {
		spec = DefaultSweepSpec
	}
	sweeper := &AckTimeoutSweeper{
		service: service,
		logger:  logger,
		timeout: defaultSweepTimeout,
	}
	cronLogger := cronLogger{logger: logger.Sugar()}
	sweeper.cron = cron.New(
		cron.WithLogger(cronLogger),
		cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
	)
	if _, err := sweeper.cron.AddFunc(spec, sweeper.run); err != nil {
		return nil, err
	}
	return sweeper, nil
}

// Start begins scheduling in the background.
func (s *AckTimeoutSweeper) Start() {
	if s == nil {
		return
	}
	s.cron.Start()
}

// Stop halts scheduling and waits for a running sweep or ctx.
func (s *AckTimeoutSweeper) Stop(ctx context.Context) {
	if s == nil {
		return
	}
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
	}
}

// RunOnce performs a single sweep.
func (s *AckTimeoutSweeper) RunOnce(ctx context.Context) (int, error) {
	if s == nil {
		return 0, errors.New("alarms: nil sweeper")
	}
	return s.service.AcknowledgeOverdue(ctx)
}

func (s *AckTimeoutSweeper) run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	count, err := s.RunOnce(ctx)
	if err != nil {
		s.logger.Warn("ack timeout sweep failed", zap.Error(err))
		return
	}
	if count > 0 {
		s.logger.Info("ack timeout sweep", zap.Int("acknowledged", count))
	}
}

type cronLogger struct {
	logger *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Errorw(msg, append(keysAndValues, "error", err)...)
}
