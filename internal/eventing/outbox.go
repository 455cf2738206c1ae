package eventing

import (
	"context"
	"errors"

	alarmapp "alarm-engine/internal/alarms/application"

	"go.uber.org/zap"
)

// Outbox is an application.Dispatcher that stores each event before
// attempting delivery, so failed deliveries are retried by the relay.
type Outbox struct {
	store  Store
	relay  *Relay
	logger *zap.Logger
}

// NewOutbox constructs an outbox publisher.
func NewOutbox(store Store, relay *Relay, logger *zap.Logger) (*Outbox, error) {
	if store == nil || relay == nil {
		return nil, errors.New("eventing outbox: nil dependency")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Outbox{store: store, relay: relay, logger: logger}, nil
}

// Publish writes the event to the outbox and triggers one delivery pass.
func (o *Outbox) Publish(ctx context.Context, event alarmapp.Event) error {
	if o == nil {
		return nil
	}
	env, err := BuildEnvelope(event)
	if err != nil {
		return err
	}
	if _, err := o.store.Insert(ctx, env); err != nil {
		return err
	}
	if _, err := o.relay.Dispatch(ctx, defaultBatch); err != nil {
		o.logger.Debug("outbox immediate dispatch deferred", zap.String("event_id", env.EventID), zap.Error(err))
	}
	return nil
}
