package notify

import (
	"context"
	"errors"
	"fmt"

	"alarm-engine/internal/alarms/application"
	"alarm-engine/internal/observability/metrics"
)

// Named pairs a dispatcher with the label used in failure metrics.
type Named struct {
	Name       string
	Dispatcher application.Dispatcher
}

// MultiDispatcher fans events out to every dispatcher. One failing
// dispatcher does not stop the rest.
type MultiDispatcher struct {
	targets []Named
}

// NewMultiDispatcher constructs a MultiDispatcher. Nil dispatchers are skipped.
func NewMultiDispatcher(targets ...Named) *MultiDispatcher {
	out := make([]Named, 0, len(targets))
	for _, t := range targets {
		if t.Dispatcher != nil {
			out = append(out, t)
		}
	}
	return &MultiDispatcher{targets: out}
}

// Len reports the number of wired dispatchers.
func (m *MultiDispatcher) Len() int {
	if m == nil {
		return 0
	}
	return len(m.targets)
}

// Publish forwards event to all dispatchers and joins their errors.
func (m *MultiDispatcher) Publish(ctx context.Context, event application.Event) error {
	if m == nil {
		return nil
	}
	var errs []error
	for _, t := range m.targets {
		if err := t.Dispatcher.Publish(ctx, event); err != nil {
			metrics.IncDispatchFailure(t.Name)
			errs = append(errs, fmt.Errorf("%s: %w", t.Name, err))
		}
	}
	return errors.Join(errs...)
}
