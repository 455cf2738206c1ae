package application

import (
	"context"
	"errors"
	"strings"

	alarms "alarm-engine/internal/alarms/domain"
	"alarm-engine/internal/observability/metrics"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// RuleService manages rule definitions.
type RuleService struct {
	rules       RuleStore
	locker      Locker
	clock       Clock
	ids         IDGenerator
	logger      *zap.Logger
	script      alarms.ScriptEvaluator
	concurrency int
}

// NewRuleService constructs a rule service.
func NewRuleService(rules RuleStore, opts ...Option) (*RuleService, error) {
	if rules == nil {
		return nil, errors.New("alarm rules: nil repository")
	}
	o := buildOptions(opts)
	return &RuleService{
		rules:       rules,
		locker:      o.locker,
		clock:       o.clock,
		ids:         o.ids,
		logger:      o.logger,
		script:      o.script,
		concurrency: o.bulkConcurrency,
	}, nil
}

// Create validates and stores a new rule.
func (s *RuleService) Create(ctx context.Context, rule alarms.AlarmRule) (*alarms.AlarmRule, error) {
	if s == nil {
		return nil, errors.New("alarm rules: nil service")
	}
	rule.Name = strings.TrimSpace(rule.Name)
	if err := s.validate(rule); err != nil {
		return nil, err
	}
	if err := s.ensureUniqueName(ctx, rule.TenantID, rule.Name, ""); err != nil {
		return nil, err
	}
	now := s.clock.Now().UTC()
	if rule.ID == "" {
		rule.ID = s.ids.NewID()
	}
	rule.CreatedAt = now
	rule.UpdatedAt = now
	rule.DeletedAt = nil
	if err := s.rules.Create(ctx, &rule); err != nil {
		return nil, alarms.Dependency("create rule", err)
	}
	return &rule, nil
}

// Get loads a live rule scoped to tenant.
func (s *RuleService) Get(ctx context.Context, tenantID, id string) (*alarms.AlarmRule, error) {
	if s == nil {
		return nil, errors.New("alarm rules: nil service")
	}
	rule, err := s.rules.Get(ctx, id)
	if err != nil {
		return nil, alarms.Dependency("get rule", err)
	}
	if rule == nil || rule.TenantID != tenantID || rule.Deleted() {
		return nil, alarms.NotFoundf("rule %s", id)
	}
	return rule, nil
}

// List returns rules matching filter.
func (s *RuleService) List(ctx context.Context, filter RuleFilter) ([]alarms.AlarmRule, error) {
	if s == nil {
		return nil, errors.New("alarm rules: nil service")
	}
	if filter.TenantID == "" {
		return nil, alarms.Validationf("tenant_id is required")
	}
	list, err := s.rules.FindAll(ctx, filter)
	if err != nil {
		return nil, alarms.Dependency("list rules", err)
	}
	return list, nil
}

// Update applies a partial update under the rule lock.
func (s *RuleService) Update(ctx context.Context, tenantID, id string, patch alarms.RulePatch) (*alarms.AlarmRule, error) {
	if s == nil {
		return nil, errors.New("alarm rules: nil service")
	}
	if patch.IsEmpty() {
		return nil, alarms.Validationf("no fields to update")
	}
	unlock, err := s.locker.Lock(ctx, ruleLockKey(id))
	if err != nil {
		return nil, alarms.Dependency("lock rule", err)
	}
	defer unlock()

	current, err := s.Get(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	next := current.Apply(patch)
	next.Name = strings.TrimSpace(next.Name)
	if err := s.validate(next); err != nil {
		return nil, err
	}
	if next.Name != current.Name {
		if err := s.ensureUniqueName(ctx, tenantID, next.Name, id); err != nil {
			return nil, err
		}
	}
	updated, err := s.rules.Update(ctx, id, patch, s.clock.Now().UTC())
	if err != nil {
		return nil, alarms.Dependency("update rule", err)
	}
	return updated, nil
}

// Delete soft-deletes a rule: it is disabled and hidden but never removed.
func (s *RuleService) Delete(ctx context.Context, tenantID, id string) error {
	if s == nil {
		return errors.New("alarm rules: nil service")
	}
	unlock, err := s.locker.Lock(ctx, ruleLockKey(id))
	if err != nil {
		return alarms.Dependency("lock rule", err)
	}
	defer unlock()

	if _, err := s.Get(ctx, tenantID, id); err != nil {
		return err
	}
	if err := s.rules.SoftDelete(ctx, id, s.clock.Now().UTC()); err != nil {
		return alarms.Dependency("delete rule", err)
	}
	return nil
}

// BulkUpdate applies one patch to many rules; each id succeeds or fails on its own.
func (s *RuleService) BulkUpdate(ctx context.Context, tenantID string, ids []string, patch alarms.RulePatch) (BatchResult, error) {
	if s == nil {
		return BatchResult{}, errors.New("alarm rules: nil service")
	}
	ids = uniqueIDs(ids)
	if len(ids) == 0 {
		return BatchResult{}, alarms.Validationf("rule_ids must not be empty")
	}
	if patch.IsEmpty() {
		return BatchResult{}, alarms.Validationf("settings must not be empty")
	}

	errs := make([]error, len(ids))
	var g errgroup.Group
	g.SetLimit(s.concurrency)
	for i, id := range ids {
		g.Go(func() error {
			_, errs[i] = s.Update(ctx, tenantID, id, patch)
			return nil
		})
	}
	_ = g.Wait()

	var (
		succeeded []string
		failures  []ItemFailure
	)
	for i, id := range ids {
		if errs[i] != nil {
			failures = append(failures, itemFailure(id, errs[i]))
			s.logger.Debug("bulk rule update item failed", zap.String("rule_id", id), zap.Error(errs[i]))
			continue
		}
		succeeded = append(succeeded, id)
	}
	metrics.AddBulkUpdateItems(metrics.ResultSuccess, len(succeeded))
	metrics.AddBulkUpdateItems(metrics.ResultError, len(failures))
	return newBatchResult(len(ids), succeeded, failures), nil
}

// validate checks rule invariants and, when a script evaluator is configured,
// that a script rule's condition compiles.
func (s *RuleService) validate(rule alarms.AlarmRule) error {
	if err := rule.Validate(); err != nil {
		return err
	}
	if rule.ConditionType != alarms.ConditionScript {
		return nil
	}
	return s.validateScript(rule.ConditionScript)
}

func (s *RuleService) validateScript(script string) error {
	if s.script == nil {
		return nil
	}
	if err := s.script.ValidateScript(script); err != nil {
		if errors.Is(err, alarms.ErrValidation) {
			return err
		}
		return alarms.Validationf("condition_script: %v", err)
	}
	return nil
}

func (s *RuleService) ensureUniqueName(ctx context.Context, tenantID, name, selfID string) error {
	existing, err := s.rules.FindAll(ctx, RuleFilter{TenantID: tenantID, Name: name})
	if err != nil {
		return alarms.Dependency("check rule name", err)
	}
	for _, rule := range existing {
		if rule.ID != selfID && !rule.Deleted() {
			return alarms.Conflictf("rule name %q already exists", name)
		}
	}
	return nil
}

func uniqueIDs(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
