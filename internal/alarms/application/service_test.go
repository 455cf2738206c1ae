package application_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"alarm-engine/internal/alarms/application"
	alarms "alarm-engine/internal/alarms/domain"
	"alarm-engine/internal/alarms/infrastructure/memory"

	"github.com/stretchr/testify/require"
)

const tenant = "tenant-1"

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type recordingDispatcher struct {
	mu     sync.Mutex
	events []application.Event
	err    error
}

func (d *recordingDispatcher) Publish(ctx context.Context, event application.Event) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.events = append(d.events, event)
	return d.err
}

func (d *recordingDispatcher) types() []application.EventType {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]application.EventType, 0, len(d.events))
	for _, event := range d.events {
		out = append(out, event.Type)
	}
	return out
}

type fixture struct {
	clock       *fakeClock
	dispatcher  *recordingDispatcher
	rules       *memory.RuleStore
	occurrences *memory.OccurrenceStore
	templates   *memory.TemplateStore
	service     *application.Service
	ruleService *application.RuleService
	tplService  *application.TemplateService
	stats       *application.StatisticsService
}

func newFixture(t *testing.T, opts ...application.Option) *fixture {
	t.Helper()
	f := &fixture{
		clock:       newFakeClock(),
		dispatcher:  &recordingDispatcher{},
		rules:       memory.NewRuleStore(),
		occurrences: memory.NewOccurrenceStore(),
		templates:   memory.NewTemplateStore(),
	}
	base := []application.Option{
		application.WithClock(f.clock),
		application.WithDispatcher(f.dispatcher),
		application.WithLocker(application.NewKeyedMutex()),
	}
	opts = append(base, opts...)

	var err error
	f.service, err = application.NewService(f.rules, f.occurrences, opts...)
	require.NoError(t, err)
	f.ruleService, err = application.NewRuleService(f.rules, opts...)
	require.NoError(t, err)
	f.tplService, err = application.NewTemplateService(f.templates, f.ruleService, opts...)
	require.NoError(t, err)
	f.stats, err = application.NewStatisticsService(f.rules, f.occurrences, opts...)
	require.NoError(t, err)
	return f
}

func (f *fixture) createRule(t *testing.T, mutate func(*alarms.AlarmRule)) *alarms.AlarmRule {
	t.Helper()
	rule := alarms.AlarmRule{
		TenantID:      tenant,
		TargetType:    alarms.TargetPoint,
		TargetID:      "point-1",
		Name:          "Boiler Temp",
		ConditionType: alarms.ConditionThreshold,
		HighLimit:     alarms.Float(80),
		Deadband:      2,
		Severity:      alarms.SeverityMajor,
		AutoClear:     true,
		IsEnabled:     true,
	}
	if mutate != nil {
		mutate(&rule)
	}
	created, err := f.ruleService.Create(context.Background(), rule)
	require.NoError(t, err)
	return created
}

func (f *fixture) process(t *testing.T, ruleID string, value float64) application.Transition {
	t.Helper()
	f.clock.Advance(time.Minute)
	transition, err := f.service.ProcessValue(context.Background(), tenant, ruleID, alarms.Number(value), time.Time{})
	require.NoError(t, err)
	return transition
}

func TestNewServiceRejectsNilRepositories(t *testing.T) {
	t.Parallel()

	_, err := application.NewService(nil, memory.NewOccurrenceStore())
	require.Error(t, err)
	_, err = application.NewRuleService(nil)
	require.Error(t, err)
}

func TestProcessValueDeadbandLifecycle(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	rule := f.createRule(t, nil)

	require.Equal(t, application.TransitionNone, f.process(t, rule.ID, 75).Kind)

	raised := f.process(t, rule.ID, 82)
	require.Equal(t, application.TransitionRaised, raised.Kind)
	require.Equal(t, alarms.StateActive, raised.Occurrence.State)
	require.Equal(t, alarms.LevelHigh, raised.Occurrence.Level)
	require.Equal(t, 80.0, *raised.Occurrence.ThresholdValue)
	require.Equal(t, "Boiler Temp - HIGH (value: 82)", raised.Occurrence.Message)

	held := f.process(t, rule.ID, 79)
	require.Equal(t, application.TransitionUpdated, held.Kind)
	require.Equal(t, raised.Occurrence.ID, held.Occurrence.ID)
	require.Equal(t, alarms.Number(79), held.Occurrence.CurrentValue)

	cleared := f.process(t, rule.ID, 77)
	require.Equal(t, application.TransitionCleared, cleared.Kind)
	require.Equal(t, alarms.StateCleared, cleared.Occurrence.State)
	require.Equal(t, alarms.SystemActor, cleared.Occurrence.ClearedBy)
	require.Equal(t, alarms.Number(77), *cleared.Occurrence.ClearedValue)

	open, err := f.occurrences.FindOpen(context.Background(), rule.ID)
	require.NoError(t, err)
	require.Nil(t, open)
	require.Equal(t, []application.EventType{application.EventRaised, application.EventCleared}, f.dispatcher.types())

	again := f.process(t, rule.ID, 85)
	require.Equal(t, application.TransitionRaised, again.Kind)
	require.NotEqual(t, raised.Occurrence.ID, again.Occurrence.ID)
}

func TestProcessValueEscalatesLevel(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	rule := f.createRule(t, func(r *alarms.AlarmRule) {
		r.HighHighLimit = alarms.Float(90)
	})

	f.process(t, rule.ID, 82)
	escalated := f.process(t, rule.ID, 95)
	require.Equal(t, application.TransitionLevelChanged, escalated.Kind)
	require.Equal(t, alarms.LevelHighHigh, escalated.Occurrence.Level)
	require.Equal(t, 90.0, *escalated.Occurrence.ThresholdValue)
	require.Equal(t, alarms.Number(82), escalated.Occurrence.TriggerValue)
	require.Equal(t, []application.EventType{application.EventRaised, application.EventLevelChanged}, f.dispatcher.types())
}

func TestProcessValueConcurrentSingleOpen(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	rule := f.createRule(t, nil)

	var wg sync.WaitGroup
	kinds := make([]application.TransitionKind, 20)
	errs := make([]error, len(kinds))
	for i := range kinds {
		wg.Add(1)
		go func() {
			defer wg.Done()
			transition, err := f.service.ProcessValue(context.Background(), tenant, rule.ID, alarms.Number(85), time.Time{})
			kinds[i], errs[i] = transition.Kind, err
		}()
	}
	wg.Wait()

	raised := 0
	for i, kind := range kinds {
		require.NoError(t, errs[i])
		if kind == application.TransitionRaised {
			raised++
		}
	}
	require.Equal(t, 1, raised)

	list, err := f.service.ListOccurrences(context.Background(), application.OccurrenceFilter{TenantID: tenant, RuleID: rule.ID})
	require.NoError(t, err)
	require.Len(t, list, 1)
}

func TestAcknowledgeIsIdempotent(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	rule := f.createRule(t, nil)
	occ := f.process(t, rule.ID, 90).Occurrence

	f.clock.Advance(5 * time.Minute)
	first, err := f.service.Acknowledge(context.Background(), tenant, occ.ID, "operator-7", "looking")
	require.NoError(t, err)
	require.Equal(t, alarms.StateAcknowledged, first.State)
	require.Equal(t, "operator-7", first.AcknowledgedBy)

	f.clock.Advance(5 * time.Minute)
	second, err := f.service.Acknowledge(context.Background(), tenant, occ.ID, "operator-8", "again")
	require.NoError(t, err)
	require.Equal(t, *first.AcknowledgedAt, *second.AcknowledgedAt)
	require.Equal(t, "operator-7", second.AcknowledgedBy)

	require.Equal(t, []application.EventType{application.EventRaised, application.EventAcknowledged}, f.dispatcher.types())
}

func TestAcknowledgeAfterClearConflicts(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	rule := f.createRule(t, nil)
	occ := f.process(t, rule.ID, 90).Occurrence

	cleared, err := f.service.Clear(context.Background(), tenant, occ.ID, "operator-7", nil, "fixed")
	require.NoError(t, err)
	require.Equal(t, alarms.StateCleared, cleared.State)

	_, err = f.service.Acknowledge(context.Background(), tenant, occ.ID, "operator-7", "")
	require.True(t, errors.Is(err, alarms.ErrConflict))
	require.Equal(t, alarms.CodeConflict, alarms.CodeOf(err))

	again, err := f.service.Clear(context.Background(), tenant, occ.ID, "operator-8", nil, "")
	require.NoError(t, err)
	require.Equal(t, "operator-7", again.ClearedBy)
}

func TestAcknowledgeUnknownOrForeignOccurrence(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	rule := f.createRule(t, nil)
	occ := f.process(t, rule.ID, 90).Occurrence

	_, err := f.service.Acknowledge(context.Background(), tenant, "missing", "operator-7", "")
	require.True(t, errors.Is(err, alarms.ErrNotFound))

	_, err = f.service.Acknowledge(context.Background(), "tenant-2", occ.ID, "operator-7", "")
	require.True(t, errors.Is(err, alarms.ErrNotFound))

	_, err = f.service.Acknowledge(context.Background(), tenant, occ.ID, "", "")
	require.True(t, errors.Is(err, alarms.ErrValidation))
}

func TestLatchedRuleNeedsManualClear(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	rule := f.createRule(t, func(r *alarms.AlarmRule) { r.IsLatched = true })

	occ := f.process(t, rule.ID, 90).Occurrence
	back := f.process(t, rule.ID, 60)
	require.Equal(t, application.TransitionUpdated, back.Kind)
	require.Equal(t, alarms.StateActive, back.Occurrence.State)
	require.Equal(t, alarms.Number(60), back.Occurrence.CurrentValue)

	cleared, err := f.service.Clear(context.Background(), tenant, occ.ID, "operator-7", nil, "reset")
	require.NoError(t, err)
	require.Equal(t, alarms.StateCleared, cleared.State)
}

func TestAutoClearDisabledKeepsOccurrenceOpen(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	rule := f.createRule(t, func(r *alarms.AlarmRule) { r.AutoClear = false })

	f.process(t, rule.ID, 90)
	require.Equal(t, application.TransitionUpdated, f.process(t, rule.ID, 50).Kind)
}

func TestAutoAcknowledgeOnRaise(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	rule := f.createRule(t, func(r *alarms.AlarmRule) { r.AutoAcknowledge = true })

	occ := f.process(t, rule.ID, 90).Occurrence
	require.Equal(t, alarms.StateAcknowledged, occ.State)
	require.Equal(t, alarms.SystemActor, occ.AcknowledgedBy)
	require.Equal(t, occ.TriggeredAt, *occ.AcknowledgedAt)
}

func TestDisabledRuleDoesNotRaise(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	rule := f.createRule(t, func(r *alarms.AlarmRule) { r.IsEnabled = false })

	transition := f.process(t, rule.ID, 99)
	require.Equal(t, application.TransitionNone, transition.Kind)
	require.Nil(t, transition.Occurrence)
}

func TestDispatchFailureDoesNotUndoTransition(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.dispatcher.err = errors.New("broker down")
	rule := f.createRule(t, nil)

	transition := f.process(t, rule.ID, 90)
	require.Equal(t, application.TransitionRaised, transition.Kind)

	stored, err := f.service.GetOccurrence(context.Background(), tenant, transition.Occurrence.ID)
	require.NoError(t, err)
	require.Equal(t, alarms.StateActive, stored.State)
}

func TestProcessValueRejectsWrongValueKind(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	rule := f.createRule(t, nil)

	_, err := f.service.ProcessValue(context.Background(), tenant, rule.ID, alarms.Bool(true), time.Time{})
	require.True(t, errors.Is(err, alarms.ErrValueKind))

	_, err = f.service.ProcessValue(context.Background(), tenant, "missing", alarms.Number(1), time.Time{})
	require.True(t, errors.Is(err, alarms.ErrNotFound))
}

func TestProcessTargetValueFansOutToRules(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.createRule(t, nil)
	f.createRule(t, func(r *alarms.AlarmRule) {
		r.Name = "Boiler Temp Critical"
		r.HighLimit = alarms.Float(95)
		r.Severity = alarms.SeverityCritical
	})
	f.createRule(t, func(r *alarms.AlarmRule) {
		r.Name = "Other Point"
		r.TargetID = "point-2"
	})

	result, err := f.service.ProcessTargetValue(context.Background(), tenant, alarms.TargetPoint, "point-1", alarms.Number(90), time.Time{})
	require.NoError(t, err)
	require.Equal(t, application.BatchSuccess, result.Status)
	require.Len(t, result.Transitions, 2)

	kinds := map[application.TransitionKind]int{}
	for _, transition := range result.Transitions {
		kinds[transition.Kind]++
	}
	require.Equal(t, 1, kinds[application.TransitionRaised])
	require.Equal(t, 1, kinds[application.TransitionNone])
}

func TestAcknowledgeOverdue(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	timed := f.createRule(t, func(r *alarms.AlarmRule) { r.AcknowledgeTimeoutMin = 10 })
	untimed := f.createRule(t, func(r *alarms.AlarmRule) { r.Name = "No Timeout" })

	timedOcc := f.process(t, timed.ID, 90).Occurrence
	untimedOcc := f.process(t, untimed.ID, 90).Occurrence

	count, err := f.service.AcknowledgeOverdue(context.Background())
	require.NoError(t, err)
	require.Zero(t, count)

	f.clock.Advance(15 * time.Minute)
	count, err = f.service.AcknowledgeOverdue(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, count)

	acked, err := f.service.GetOccurrence(context.Background(), tenant, timedOcc.ID)
	require.NoError(t, err)
	require.Equal(t, alarms.StateAcknowledged, acked.State)
	require.Equal(t, alarms.SystemActor, acked.AcknowledgedBy)
	require.Equal(t, "acknowledge timeout", acked.AcknowledgeComment)

	still, err := f.service.GetOccurrence(context.Background(), tenant, untimedOcc.ID)
	require.NoError(t, err)
	require.Equal(t, alarms.StateActive, still.State)
}

func TestSweeperRunOnce(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	rule := f.createRule(t, func(r *alarms.AlarmRule) { r.AcknowledgeTimeoutMin = 1 })
	f.process(t, rule.ID, 90)
	f.clock.Advance(2 * time.Minute)

	sweeper, err := application.NewAckTimeoutSweeper(f.service, "@every 1h", nil)
	require.NoError(t, err)
	count, err := sweeper.RunOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, count)

	_, err = application.NewAckTimeoutSweeper(f.service, "not a spec", nil)
	require.Error(t, err)
}

func TestProcessValueDigitalRisingEdge(t *testing.T) {
	t.Parallel()

	lastValues := application.NewLastValueMemory()
	f := newFixture(t, application.WithLastValueStore(lastValues))
	rule := f.createRule(t, func(r *alarms.AlarmRule) {
		r.Name = "Breaker trip"
		r.ConditionType = alarms.ConditionDigital
		r.HighLimit = nil
		r.Deadband = 0
		r.TriggerCondition = "on_rising"
	})
	ctx := context.Background()
	step := func(v bool) application.Transition {
		t.Helper()
		f.clock.Advance(time.Minute)
		transition, err := f.service.ProcessValue(ctx, tenant, rule.ID, alarms.Bool(v), time.Time{})
		require.NoError(t, err)
		return transition
	}

	require.Equal(t, application.TransitionNone, step(false).Kind)
	raised := step(true)
	require.Equal(t, application.TransitionRaised, raised.Kind)
	require.Equal(t, "matched on_rising", raised.Decision.Reason)
	require.Equal(t, application.TransitionCleared, step(true).Kind)
	require.Equal(t, application.TransitionNone, step(true).Kind)
	require.Equal(t, application.TransitionNone, step(false).Kind)
	require.Equal(t, application.TransitionRaised, step(true).Kind)

	last, err := lastValues.LastValue(ctx, rule.ID)
	require.NoError(t, err)
	require.Equal(t, alarms.Bool(true), *last)
}

func TestProcessValueDigitalFallsBackToOpenOccurrence(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	rule := f.createRule(t, func(r *alarms.AlarmRule) {
		r.Name = "Pump running"
		r.ConditionType = alarms.ConditionDigital
		r.HighLimit = nil
		r.Deadband = 0
		r.TriggerCondition = "on_change"
	})
	ctx := context.Background()
	_, err := f.service.ProcessValue(ctx, tenant, rule.ID, alarms.Bool(true), time.Time{})
	require.NoError(t, err)

	// A fresh process has no sample history; the open occurrence supplies it.
	restarted, err := application.NewService(f.rules, f.occurrences, application.WithClock(f.clock))
	require.NoError(t, err)
	f.clock.Advance(time.Minute)
	transition, err := restarted.ProcessValue(ctx, tenant, rule.ID, alarms.Bool(true), time.Time{})
	require.NoError(t, err)
	require.Equal(t, application.TransitionCleared, transition.Kind)
}
