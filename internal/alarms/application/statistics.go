package application

import (
	"context"
	"errors"
	"time"

	alarms "alarm-engine/internal/alarms/domain"
)

// StatisticsService reports per-rule occurrence statistics.
type StatisticsService struct {
	rules       RuleStore
	occurrences OccurrenceStore
	clock       Clock
	window      int
	location    *time.Location
}

// NewStatisticsService constructs a statistics service.
func NewStatisticsService(rules RuleStore, occurrences OccurrenceStore, opts ...Option) (*StatisticsService, error) {
	if rules == nil || occurrences == nil {
		return nil, errors.New("alarm statistics: nil repository")
	}
	o := buildOptions(opts)
	return &StatisticsService{
		rules:       rules,
		occurrences: occurrences,
		clock:       o.clock,
		window:      o.statsWindow,
		location:    o.location,
	}, nil
}

// RuleStatistics aggregates a rule's occurrences over windowDays; 0 selects the default window.
func (s *StatisticsService) RuleStatistics(ctx context.Context, tenantID, ruleID string, windowDays int) (alarms.Statistics, error) {
	if s == nil {
		return alarms.Statistics{}, errors.New("alarm statistics: nil service")
	}
	if windowDays < 0 {
		return alarms.Statistics{}, alarms.Validationf("days must be positive")
	}
	if windowDays == 0 {
		windowDays = s.window
	}
	rule, err := s.rules.Get(ctx, ruleID)
	if err != nil {
		return alarms.Statistics{}, alarms.Dependency("get rule", err)
	}
	if rule == nil || rule.TenantID != tenantID {
		return alarms.Statistics{}, alarms.NotFoundf("rule %s", ruleID)
	}

	now := s.clock.Now()
	from := now.AddDate(0, 0, -windowDays)
	list, err := s.occurrences.Find(ctx, OccurrenceFilter{TenantID: tenantID, RuleID: ruleID, From: from, To: now})
	if err != nil {
		return alarms.Statistics{}, alarms.Dependency("list occurrences", err)
	}
	return alarms.Aggregate(ruleID, list, windowDays, now, s.location)
}
