package application

import (
	"context"
	"errors"
	"time"

	alarms "alarm-engine/internal/alarms/domain"
	"alarm-engine/internal/observability/metrics"

	"go.uber.org/zap"
)

// TransitionKind describes what a value did to a rule's occurrence.
type TransitionKind string

const (
	TransitionNone         TransitionKind = "none"
	TransitionRaised       TransitionKind = "raised"
	TransitionUpdated      TransitionKind = "updated"
	TransitionLevelChanged TransitionKind = "level_changed"
	TransitionCleared      TransitionKind = "cleared"
)

// Transition is the record returned for each processed value.
type Transition struct {
	Kind       TransitionKind          `json:"kind"`
	RuleID     string                  `json:"rule_id"`
	Decision   alarms.Decision         `json:"decision"`
	Occurrence *alarms.AlarmOccurrence `json:"occurrence,omitempty"`
}

// TargetResult aggregates per-rule outcomes for one target value.
type TargetResult struct {
	Status      BatchStatus   `json:"status"`
	Transitions []Transition  `json:"transitions"`
	Failures    []ItemFailure `json:"failures"`
}

// BatchStatus implements BatchOutcome.
func (r TargetResult) BatchStatus() BatchStatus { return r.Status }

// Service owns the occurrence lifecycle: raise, acknowledge, clear and auto-clear.
type Service struct {
	rules       RuleStore
	occurrences OccurrenceStore
	evaluator   alarms.Evaluator
	dispatcher  Dispatcher
	locker      Locker
	lastValues  LastValueStore
	clock       Clock
	ids         IDGenerator
	logger      *zap.Logger
}

// NewService constructs the lifecycle service.
func NewService(rules RuleStore, occurrences OccurrenceStore, opts ...Option) (*Service, error) {
	if rules == nil || occurrences == nil {
		return nil, errors.New("alarms: nil repository")
	}
	o := buildOptions(opts)
	return &Service{
		rules:       rules,
		occurrences: occurrences,
		evaluator:   alarms.Evaluator{Script: o.script},
		dispatcher:  o.dispatcher,
		locker:      o.locker,
		lastValues:  o.lastValues,
		clock:       o.clock,
		ids:         o.ids,
		logger:      o.logger,
	}, nil
}

// ProcessValue evaluates value against one rule and applies the resulting transition.
func (s *Service) ProcessValue(ctx context.Context, tenantID, ruleID string, value alarms.Value, at time.Time) (Transition, error) {
	if s == nil {
		return Transition{}, errors.New("alarms: nil service")
	}
	if tenantID == "" || ruleID == "" {
		return Transition{}, alarms.Validationf("tenant_id and rule_id are required")
	}
	unlock, err := s.locker.Lock(ctx, ruleLockKey(ruleID))
	if err != nil {
		return Transition{}, alarms.Dependency("lock rule", err)
	}
	defer unlock()

	rule, err := s.loadRule(ctx, tenantID, ruleID)
	if err != nil {
		return Transition{}, err
	}
	return s.processLocked(ctx, *rule, value, atOrNow(at, s.clock))
}

// ProcessTargetValue evaluates value against every enabled rule bound to the target.
func (s *Service) ProcessTargetValue(ctx context.Context, tenantID string, targetType alarms.TargetType, targetID string, value alarms.Value, at time.Time) (TargetResult, error) {
	if s == nil {
		return TargetResult{}, errors.New("alarms: nil service")
	}
	if tenantID == "" || targetID == "" {
		return TargetResult{}, alarms.Validationf("tenant_id and target_id are required")
	}
	rules, err := s.rules.FindAll(ctx, RuleFilter{TenantID: tenantID, TargetType: targetType, TargetID: targetID, OnlyEnabled: true})
	if err != nil {
		return TargetResult{}, alarms.Dependency("list rules", err)
	}
	result := TargetResult{Transitions: []Transition{}, Failures: []ItemFailure{}}
	for _, rule := range rules {
		transition, err := s.ProcessValue(ctx, tenantID, rule.ID, value, at)
		if err != nil {
			result.Failures = append(result.Failures, itemFailure(rule.ID, err))
			continue
		}
		result.Transitions = append(result.Transitions, transition)
	}
	result.Status = statusFor(len(result.Transitions), len(result.Failures))
	return result, nil
}

func (s *Service) processLocked(ctx context.Context, rule alarms.AlarmRule, value alarms.Value, at time.Time) (Transition, error) {
	transition := Transition{Kind: TransitionNone, RuleID: rule.ID}
	if !rule.Evaluable() {
		transition.Decision = alarms.Decision{Level: alarms.LevelNormal, Reason: "rule disabled"}
		return transition, nil
	}

	open, err := s.occurrences.FindOpen(ctx, rule.ID)
	if err != nil {
		return Transition{}, alarms.Dependency("find open occurrence", err)
	}
	prior := alarms.PriorState{}
	if open != nil {
		prior = alarms.PriorState{Active: true, Level: open.Level}
	}
	tracksLast := rule.ConditionType == alarms.ConditionDigital
	if tracksLast {
		last, err := s.lastValues.LastValue(ctx, rule.ID)
		if err != nil {
			return Transition{}, alarms.Dependency("load last value", err)
		}
		if last == nil && open != nil {
			current := open.CurrentValue
			last = &current
		}
		prior.LastValue = last
	}

	start := time.Now()
	decision, err := s.evaluator.Evaluate(ctx, value, rule, prior)
	if err != nil {
		metrics.ObserveEvaluation(metrics.ResultError, time.Since(start))
		return Transition{}, err
	}
	metrics.ObserveEvaluation(evaluationResult(decision), time.Since(start))
	if tracksLast {
		if err := s.lastValues.SetLastValue(ctx, rule.ID, value); err != nil {
			return Transition{}, alarms.Dependency("store last value", err)
		}
	}
	transition.Decision = decision

	switch {
	case decision.Trigger && open == nil:
		occ, err := s.raise(ctx, rule, decision, value, at)
		if err != nil {
			return Transition{}, err
		}
		transition.Kind = TransitionRaised
		transition.Occurrence = occ
	case decision.Trigger:
		occ, changed, err := s.refresh(ctx, rule, *open, decision, value, at)
		if err != nil {
			return Transition{}, err
		}
		transition.Kind = TransitionUpdated
		if changed {
			transition.Kind = TransitionLevelChanged
		}
		transition.Occurrence = occ
	case open != nil && rule.AutoClear && !rule.IsLatched:
		occ, _, err := s.clearLocked(ctx, &rule, *open, alarms.SystemActor, &value, "auto cleared", at)
		if err != nil {
			return Transition{}, err
		}
		transition.Kind = TransitionCleared
		transition.Occurrence = occ
	case open != nil:
		occ, err := s.occurrences.Update(ctx, open.ID, alarms.OccurrencePatch{CurrentValue: &value, UpdatedAt: at})
		if err != nil {
			return Transition{}, alarms.Dependency("update occurrence", err)
		}
		transition.Kind = TransitionUpdated
		transition.Occurrence = occ
	}
	return transition, nil
}

func (s *Service) raise(ctx context.Context, rule alarms.AlarmRule, decision alarms.Decision, value alarms.Value, at time.Time) (*alarms.AlarmOccurrence, error) {
	occ := alarms.AlarmOccurrence{
		ID:             s.ids.NewID(),
		RuleID:         rule.ID,
		TenantID:       rule.TenantID,
		State:          alarms.StateActive,
		Level:          decision.Level,
		Severity:       rule.Severity,
		Message:        alarms.FormatMessage(rule, decision, value),
		TriggerValue:   value,
		CurrentValue:   value,
		ThresholdValue: decision.Threshold,
		TriggeredAt:    at,
		UpdatedAt:      at,
	}
	if rule.AutoAcknowledge {
		ackedAt := at
		occ.State = alarms.StateAcknowledged
		occ.AcknowledgedAt = &ackedAt
		occ.AcknowledgedBy = alarms.SystemActor
		occ.AcknowledgeComment = "auto acknowledged"
	}
	if err := s.occurrences.Create(ctx, &occ); err != nil {
		return nil, alarms.Dependency("create occurrence", err)
	}
	s.publish(ctx, EventRaised, occ, &rule)
	return &occ, nil
}

func (s *Service) refresh(ctx context.Context, rule alarms.AlarmRule, open alarms.AlarmOccurrence, decision alarms.Decision, value alarms.Value, at time.Time) (*alarms.AlarmOccurrence, bool, error) {
	patch := alarms.OccurrencePatch{CurrentValue: &value, UpdatedAt: at}
	changed := decision.Level != open.Level
	if changed {
		level := decision.Level
		patch.Level = &level
		patch.ThresholdValue = decision.Threshold
	}
	occ, err := s.occurrences.Update(ctx, open.ID, patch)
	if err != nil {
		return nil, false, alarms.Dependency("update occurrence", err)
	}
	if changed {
		s.publish(ctx, EventLevelChanged, *occ, &rule)
	}
	return occ, changed, nil
}

// Acknowledge marks an open occurrence acknowledged. Re-acknowledging returns the
// stored record unchanged; acknowledging a cleared occurrence is a conflict.
func (s *Service) Acknowledge(ctx context.Context, tenantID, occurrenceID, user, comment string) (*alarms.AlarmOccurrence, error) {
	if s == nil {
		return nil, errors.New("alarms: nil service")
	}
	if occurrenceID == "" {
		return nil, alarms.Validationf("occurrence id required")
	}
	if user == "" {
		return nil, alarms.Validationf("acknowledging user required")
	}
	occ, unlock, err := s.lockOccurrence(ctx, tenantID, occurrenceID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	patch, changed, err := occ.Acknowledge(user, comment, s.clock.Now().UTC())
	if err != nil {
		return nil, err
	}
	if !changed {
		return occ, nil
	}
	updated, err := s.occurrences.Update(ctx, occ.ID, patch)
	if err != nil {
		return nil, alarms.Dependency("acknowledge occurrence", err)
	}
	s.publish(ctx, EventAcknowledged, *updated, nil)
	return updated, nil
}

// Clear closes an occurrence. Clearing a cleared occurrence returns it unchanged.
func (s *Service) Clear(ctx context.Context, tenantID, occurrenceID, user string, value *alarms.Value, comment string) (*alarms.AlarmOccurrence, error) {
	if s == nil {
		return nil, errors.New("alarms: nil service")
	}
	if occurrenceID == "" {
		return nil, alarms.Validationf("occurrence id required")
	}
	if user == "" {
		return nil, alarms.Validationf("clearing user required")
	}
	occ, unlock, err := s.lockOccurrence(ctx, tenantID, occurrenceID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	updated, _, err := s.clearLocked(ctx, nil, *occ, user, value, comment, s.clock.Now().UTC())
	return updated, err
}

func (s *Service) clearLocked(ctx context.Context, rule *alarms.AlarmRule, occ alarms.AlarmOccurrence, user string, value *alarms.Value, comment string, at time.Time) (*alarms.AlarmOccurrence, bool, error) {
	patch, changed := occ.Clear(user, value, comment, at)
	if !changed {
		return &occ, false, nil
	}
	updated, err := s.occurrences.Update(ctx, occ.ID, patch)
	if err != nil {
		return nil, false, alarms.Dependency("clear occurrence", err)
	}
	s.publish(ctx, EventCleared, *updated, rule)
	return updated, true, nil
}

// GetOccurrence loads one occurrence scoped to tenant.
func (s *Service) GetOccurrence(ctx context.Context, tenantID, occurrenceID string) (*alarms.AlarmOccurrence, error) {
	if s == nil {
		return nil, errors.New("alarms: nil service")
	}
	return s.loadOccurrence(ctx, tenantID, occurrenceID)
}

// ListOccurrences returns occurrences matching filter.
func (s *Service) ListOccurrences(ctx context.Context, filter OccurrenceFilter) ([]alarms.AlarmOccurrence, error) {
	if s == nil {
		return nil, errors.New("alarms: nil service")
	}
	if filter.TenantID == "" {
		return nil, alarms.Validationf("tenant_id is required")
	}
	list, err := s.occurrences.Find(ctx, filter)
	if err != nil {
		return nil, alarms.Dependency("list occurrences", err)
	}
	return list, nil
}

// AcknowledgeOverdue acknowledges active occurrences whose rule acknowledge
// timeout has elapsed. It returns how many were acknowledged.
func (s *Service) AcknowledgeOverdue(ctx context.Context) (int, error) {
	if s == nil {
		return 0, errors.New("alarms: nil service")
	}
	pending, err := s.occurrences.Find(ctx, OccurrenceFilter{States: []alarms.State{alarms.StateActive}})
	if err != nil {
		return 0, alarms.Dependency("list active occurrences", err)
	}
	now := s.clock.Now().UTC()
	timeouts := make(map[string]int)
	count := 0
	for _, occ := range pending {
		timeout, ok := timeouts[occ.RuleID]
		if !ok {
			rule, err := s.rules.Get(ctx, occ.RuleID)
			if err != nil {
				s.logger.Warn("ack timeout rule lookup failed", zap.String("rule_id", occ.RuleID), zap.Error(err))
				continue
			}
			timeout = rule.AcknowledgeTimeoutMin
			timeouts[occ.RuleID] = timeout
		}
		if timeout <= 0 || now.Sub(occ.TriggeredAt) < time.Duration(timeout)*time.Minute {
			continue
		}
		if _, err := s.Acknowledge(ctx, occ.TenantID, occ.ID, alarms.SystemActor, acknowledgeTimeoutReason); err != nil {
			s.logger.Warn("ack timeout failed", zap.String("occurrence_id", occ.ID), zap.Error(err))
			continue
		}
		count++
	}
	return count, nil
}

func (s *Service) loadRule(ctx context.Context, tenantID, ruleID string) (*alarms.AlarmRule, error) {
	rule, err := s.rules.Get(ctx, ruleID)
	if err != nil {
		return nil, alarms.Dependency("get rule", err)
	}
	if rule == nil || rule.TenantID != tenantID {
		return nil, alarms.NotFoundf("rule %s", ruleID)
	}
	return rule, nil
}

func (s *Service) loadOccurrence(ctx context.Context, tenantID, occurrenceID string) (*alarms.AlarmOccurrence, error) {
	occ, err := s.occurrences.Get(ctx, occurrenceID)
	if err != nil {
		return nil, alarms.Dependency("get occurrence", err)
	}
	if occ == nil || (tenantID != "" && occ.TenantID != tenantID) {
		return nil, alarms.NotFoundf("occurrence %s", occurrenceID)
	}
	return occ, nil
}

// lockOccurrence takes the owning rule's lock and reloads the occurrence under it.
func (s *Service) lockOccurrence(ctx context.Context, tenantID, occurrenceID string) (*alarms.AlarmOccurrence, func(), error) {
	occ, err := s.loadOccurrence(ctx, tenantID, occurrenceID)
	if err != nil {
		return nil, nil, err
	}
	unlock, err := s.locker.Lock(ctx, ruleLockKey(occ.RuleID))
	if err != nil {
		return nil, nil, alarms.Dependency("lock rule", err)
	}
	occ, err = s.loadOccurrence(ctx, tenantID, occurrenceID)
	if err != nil {
		unlock()
		return nil, nil, err
	}
	return occ, unlock, nil
}

func (s *Service) publish(ctx context.Context, eventType EventType, occ alarms.AlarmOccurrence, rule *alarms.AlarmRule) {
	metrics.IncAlarmEvent(string(eventType))
	if s.dispatcher == nil {
		return
	}
	event := Event{
		Type:         eventType,
		OccurrenceID: occ.ID,
		RuleID:       occ.RuleID,
		TenantID:     occ.TenantID,
		OccurredAt:   occ.UpdatedAt,
		Occurrence:   occ,
		Rule:         rule,
	}
	if err := s.dispatcher.Publish(ctx, event); err != nil {
		s.logger.Warn("alarm dispatch failed",
			zap.String("event", string(eventType)),
			zap.String("occurrence_id", occ.ID),
			zap.String("rule_id", occ.RuleID),
			zap.Error(err))
	}
}

func evaluationResult(decision alarms.Decision) string {
	if decision.Trigger {
		return "trigger"
	}
	return "normal"
}

func atOrNow(value time.Time, clock Clock) time.Time {
	if value.IsZero() {
		return clock.Now().UTC()
	}
	return value.UTC()
}
