package memory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"alarm-engine/internal/alarms/application"
	alarms "alarm-engine/internal/alarms/domain"
)

// RuleStore is an in-memory rule repository for tests and single-node runs.
type RuleStore struct {
	mu    sync.RWMutex
	rules map[string]alarms.AlarmRule
}

// NewRuleStore constructs an empty store.
func NewRuleStore() *RuleStore {
	return &RuleStore{rules: make(map[string]alarms.AlarmRule)}
}

// Get loads a rule, including soft-deleted ones.
func (s *RuleStore) Get(ctx context.Context, id string) (*alarms.AlarmRule, error) {
	_ = ctx
	s.mu.RLock()
	defer s.mu.RUnlock()
	rule, ok := s.rules[id]
	if !ok {
		return nil, alarms.NotFoundf("rule %s", id)
	}
	out := rule.Clone()
	return &out, nil
}

// FindAll returns rules matching filter ordered by creation time.
func (s *RuleStore) FindAll(ctx context.Context, filter application.RuleFilter) ([]alarms.AlarmRule, error) {
	_ = ctx
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]alarms.AlarmRule, 0)
	for _, rule := range s.rules {
		if matchRule(rule, filter) {
			out = append(out, rule.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// Create stores a new rule.
func (s *RuleStore) Create(ctx context.Context, rule *alarms.AlarmRule) error {
	_ = ctx
	if rule == nil {
		return errors.New("memory rule store: nil rule")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rules[rule.ID]; ok {
		return alarms.Conflictf("rule %s already exists", rule.ID)
	}
	for _, existing := range s.rules {
		if existing.TenantID == rule.TenantID && existing.Name == rule.Name && !existing.Deleted() {
			return alarms.Conflictf("rule name %q already exists", rule.Name)
		}
	}
	s.rules[rule.ID] = rule.Clone()
	return nil
}

// Update applies patch to a live rule.
func (s *RuleStore) Update(ctx context.Context, id string, patch alarms.RulePatch, at time.Time) (*alarms.AlarmRule, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	rule, ok := s.rules[id]
	if !ok || rule.Deleted() {
		return nil, alarms.NotFoundf("rule %s", id)
	}
	next := rule.Apply(patch)
	if next.Name != rule.Name {
		for otherID, existing := range s.rules {
			if otherID != id && existing.TenantID == next.TenantID && existing.Name == next.Name && !existing.Deleted() {
				return nil, alarms.Conflictf("rule name %q already exists", next.Name)
			}
		}
	}
	next.UpdatedAt = at
	s.rules[id] = next
	out := next.Clone()
	return &out, nil
}

// SoftDelete disables and marks a rule deleted.
func (s *RuleStore) SoftDelete(ctx context.Context, id string, at time.Time) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	rule, ok := s.rules[id]
	if !ok || rule.Deleted() {
		return alarms.NotFoundf("rule %s", id)
	}
	rule.IsEnabled = false
	rule.DeletedAt = &at
	rule.UpdatedAt = at
	s.rules[id] = rule
	return nil
}

func matchRule(rule alarms.AlarmRule, f application.RuleFilter) bool {
	switch {
	case f.TenantID != "" && rule.TenantID != f.TenantID:
		return false
	case f.TargetType != "" && rule.TargetType != f.TargetType:
		return false
	case f.TargetID != "" && rule.TargetID != f.TargetID:
		return false
	case f.Name != "" && rule.Name != f.Name:
		return false
	case f.RuleGroup != "" && rule.RuleGroup != f.RuleGroup:
		return false
	case f.TemplateID != "" && rule.TemplateID != f.TemplateID:
		return false
	case f.OnlyEnabled && !rule.IsEnabled:
		return false
	case !f.IncludeDeleted && rule.Deleted():
		return false
	}
	return true
}
